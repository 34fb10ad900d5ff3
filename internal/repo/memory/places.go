package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/geocoder89/placehub/internal/domain/place"
	"github.com/geocoder89/placehub/internal/domain/user"
	"github.com/geocoder89/placehub/internal/repo"
)

// a transaction begun on a different store, or already finished
var errDeadTx = errors.New("transaction is not open on this store")

// PlacesRepo is an in-memory stand-in for the postgres store with the same
// transactional contract: staged writes become visible only on Commit, and a
// commit applies the place write and the owner's membership update under one
// lock, so the bidirectional invariant holds at every observable point.
type PlacesRepo struct {
	mu     sync.Mutex
	places map[string]place.Place
	users  map[string]user.User
}

func NewPlacesRepo() *PlacesRepo {
	return &PlacesRepo{
		places: make(map[string]place.Place),
		users:  make(map[string]user.User),
	}
}

// SeedUser registers a user directly; tests use it in place of signup.
func (r *PlacesRepo) SeedUser(u user.User) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if u.PlaceIDs == nil {
		u.PlaceIDs = []string{}
	}

	r.users[u.ID] = u
}

type stagedOp struct {
	insert *place.Place
	delete string // place id
	owner  string
}

type memTx struct {
	repo *PlacesRepo
	ops  []stagedOp
	done bool
}

func (t *memTx) Commit(ctx context.Context) error {
	if t.done || t.repo == nil {
		return errDeadTx
	}

	t.done = true

	r := t.repo
	r.mu.Lock()
	defer r.mu.Unlock()

	// all staged ops apply under one lock: atomic from any reader's view
	for _, op := range t.ops {
		switch {
		case op.insert != nil:
			p := *op.insert
			r.places[p.ID] = p

			u := r.users[op.owner]
			u.PlaceIDs = append(u.PlaceIDs, p.ID)
			r.users[op.owner] = u

		case op.delete != "":
			delete(r.places, op.delete)

			u := r.users[op.owner]
			kept := u.PlaceIDs[:0]
			for _, id := range u.PlaceIDs {
				if id != op.delete {
					kept = append(kept, id)
				}
			}
			u.PlaceIDs = kept
			r.users[op.owner] = u
		}
	}

	return nil
}

func (t *memTx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}

	t.done = true
	t.ops = nil

	return nil
}

func (r *PlacesRepo) BeginTx(ctx context.Context) (repo.Tx, error) {
	return &memTx{repo: r}, nil
}

func txFrom(tx repo.Tx) (*memTx, error) {
	mtx, ok := tx.(*memTx)

	if !ok || mtx.done {
		return nil, errDeadTx
	}

	return mtx, nil
}

func (r *PlacesRepo) CreateTx(ctx context.Context, tx repo.Tx, p place.Place) error {
	mtx, err := txFrom(tx)

	if err != nil {
		return err
	}

	r.mu.Lock()
	_, ok := r.users[p.OwnerID]
	r.mu.Unlock()

	if !ok {
		return user.ErrNotFound
	}

	staged := p
	mtx.ops = append(mtx.ops, stagedOp{insert: &staged, owner: p.OwnerID})

	return nil
}

func (r *PlacesRepo) DeleteTx(ctx context.Context, tx repo.Tx, placeID, ownerID string) error {
	mtx, err := txFrom(tx)

	if err != nil {
		return err
	}

	r.mu.Lock()
	p, ok := r.places[placeID]
	r.mu.Unlock()

	if !ok || p.OwnerID != ownerID {
		return place.ErrNotFound
	}

	mtx.ops = append(mtx.ops, stagedOp{delete: placeID, owner: ownerID})

	return nil
}

func (r *PlacesRepo) GetByID(ctx context.Context, id string) (place.Place, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.places[id]

	if !ok {
		return place.Place{}, place.ErrNotFound
	}

	return p, nil
}

func (r *PlacesRepo) GetWithOwner(ctx context.Context, id string) (place.Place, user.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.places[id]

	if !ok {
		return place.Place{}, user.User{}, place.ErrNotFound
	}

	u, ok := r.users[p.OwnerID]

	if !ok {
		return place.Place{}, user.User{}, user.ErrNotFound
	}

	return p, u, nil
}

func (r *PlacesRepo) GetByOwner(ctx context.Context, ownerID string) ([]place.Place, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[ownerID]

	if !ok {
		return nil, user.ErrNotFound
	}

	if len(u.PlaceIDs) == 0 {
		return nil, place.ErrNoneForOwner
	}

	out := make([]place.Place, 0, len(u.PlaceIDs))

	for _, id := range u.PlaceIDs {
		if p, ok := r.places[id]; ok {
			out = append(out, p)
		}
	}

	return out, nil
}

func (r *PlacesRepo) Update(ctx context.Context, id string, req place.UpdatePlaceRequest) (place.Place, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.places[id]

	if !ok {
		return place.Place{}, place.ErrNotFound
	}

	p.Title = req.Title
	p.Description = req.Description
	r.places[id] = p

	return p, nil
}

// GetUser exposes the owner document so tests can assert on the membership list.
func (r *PlacesRepo) GetUser(id string) (user.User, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]

	return u, ok
}

package postgres

import (
	"context"
	"errors"

	"github.com/geocoder89/placehub/internal/domain/place"
	"github.com/geocoder89/placehub/internal/domain/user"
	"github.com/geocoder89/placehub/internal/observability"
	"github.com/geocoder89/placehub/internal/repo"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// a repo.Tx that did not come from BeginTx on this repo
var errForeignTx = errors.New("transaction does not originate from this store")

type PlacesRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewPlacesRepo(pool *pgxpool.Pool, prom *observability.Prom) *PlacesRepo {
	return &PlacesRepo{
		pool: pool,
		prom: prom,
	}
}

func (r *PlacesRepo) observe(op string, fn func() error) error {
	if r.prom != nil {
		return r.prom.ObserveDB(op, fn)
	}
	return fn()
}

func (r *PlacesRepo) BeginTx(ctx context.Context) (repo.Tx, error) {
	return r.pool.BeginTx(ctx, pgx.TxOptions{})
}

func pgxTxFrom(tx repo.Tx) (pgx.Tx, error) {
	ptx, ok := tx.(pgx.Tx)

	if !ok {
		return nil, errForeignTx
	}

	return ptx, nil
}

// CreateTx inserts the place and appends its id to the owner's membership
// list inside the caller's transaction. The owner row is locked first so two
// concurrent creations for the same owner serialize instead of racing the
// membership list; the append itself is a single statement, never a
// read-modify-write in application code.
func (r *PlacesRepo) CreateTx(ctx context.Context, tx repo.Tx, p place.Place) error {
	ptx, err := pgxTxFrom(tx)

	if err != nil {
		return err
	}

	var dummy string

	err = r.observe("places.create_tx.owner_lock", func() error {
		return ptx.QueryRow(ctx, `SELECT id FROM users WHERE id = $1 FOR UPDATE`, p.OwnerID).Scan(&dummy)
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return user.ErrNotFound
		}

		return err
	}

	err = r.observe("places.create_tx.insert", func() error {
		_, e := ptx.Exec(ctx, `
			INSERT INTO places (id, title, description, address, lat, lng, image_url, owner_id, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		`, p.ID, p.Title, p.Description, p.Address, p.Lat, p.Lng, p.ImageURL, p.OwnerID, p.CreatedAt, p.UpdatedAt)
		return e
	})

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			// owner disappeared between lock and insert; treat like a missing user
			return user.ErrNotFound
		}
		return err
	}

	err = r.observe("places.create_tx.membership_append", func() error {
		_, e := ptx.Exec(ctx, `
			UPDATE users
			SET place_ids = array_append(place_ids, $1::uuid),
			    updated_at = NOW()
			WHERE id = $2 AND NOT ($1::uuid = ANY(place_ids))
		`, p.ID, p.OwnerID)
		return e
	})

	return err
}

// DeleteTx removes the place and its id from the owner's membership list
// inside the caller's transaction. Mirror image of CreateTx.
func (r *PlacesRepo) DeleteTx(ctx context.Context, tx repo.Tx, placeID, ownerID string) error {
	ptx, err := pgxTxFrom(tx)

	if err != nil {
		return err
	}

	var dummy string

	err = r.observe("places.delete_tx.owner_lock", func() error {
		return ptx.QueryRow(ctx, `SELECT id FROM users WHERE id = $1 FOR UPDATE`, ownerID).Scan(&dummy)
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return user.ErrNotFound
		}

		return err
	}

	var tag pgconn.CommandTag

	err = r.observe("places.delete_tx.delete", func() error {
		var e error
		tag, e = ptx.Exec(ctx, `DELETE FROM places WHERE id = $1 AND owner_id = $2`, placeID, ownerID)
		return e
	})

	if err != nil {
		return err
	}

	if tag.RowsAffected() == 0 {
		return place.ErrNotFound
	}

	err = r.observe("places.delete_tx.membership_remove", func() error {
		_, e := ptx.Exec(ctx, `
			UPDATE users
			SET place_ids = array_remove(place_ids, $1::uuid),
			    updated_at = NOW()
			WHERE id = $2
		`, placeID, ownerID)
		return e
	})

	return err
}

func (r *PlacesRepo) GetByID(ctx context.Context, id string) (place.Place, error) {
	var p place.Place

	err := r.observe("places.get_by_id", func() error {
		return r.pool.QueryRow(ctx, `
			SELECT id, title, description, address, lat, lng, image_url, owner_id, created_at, updated_at
			FROM places
			WHERE id = $1
		`, id).Scan(&p.ID, &p.Title, &p.Description, &p.Address, &p.Lat, &p.Lng, &p.ImageURL, &p.OwnerID, &p.CreatedAt, &p.UpdatedAt)
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return place.Place{}, place.ErrNotFound
		}

		return place.Place{}, err
	}

	return p, nil
}

// GetWithOwner is the populate-style joined load used by delete: the place
// plus its owning user in one logical read.
func (r *PlacesRepo) GetWithOwner(ctx context.Context, id string) (place.Place, user.User, error) {
	var p place.Place
	var u user.User

	err := r.observe("places.get_with_owner", func() error {
		return r.pool.QueryRow(ctx, `
			SELECT p.id, p.title, p.description, p.address, p.lat, p.lng, p.image_url, p.owner_id, p.created_at, p.updated_at,
			       u.id, u.email, u.name, u.image_url, u.role, u.place_ids::text[], u.created_at, u.updated_at
			FROM places p
			JOIN users u ON u.id = p.owner_id
			WHERE p.id = $1
		`, id).Scan(
			&p.ID, &p.Title, &p.Description, &p.Address, &p.Lat, &p.Lng, &p.ImageURL, &p.OwnerID, &p.CreatedAt, &p.UpdatedAt,
			&u.ID, &u.Email, &u.Name, &u.ImageURL, &u.Role, &u.PlaceIDs, &u.CreatedAt, &u.UpdatedAt,
		)
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return place.Place{}, user.User{}, place.ErrNotFound
		}

		return place.Place{}, user.User{}, err
	}

	return p, u, nil
}

// GetByOwner resolves the owner's membership list into places. A missing
// owner and an empty list are distinct failures so the handler can keep the
// original 404-on-empty policy without conflating the two internally.
func (r *PlacesRepo) GetByOwner(ctx context.Context, ownerID string) (out []place.Place, err error) {
	var count int

	err = r.observe("places.get_by_owner.owner_check", func() error {
		return r.pool.QueryRow(ctx, `
			SELECT COALESCE(array_length(place_ids, 1), 0)
			FROM users
			WHERE id = $1
		`, ownerID).Scan(&count)
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, user.ErrNotFound
		}

		return nil, err
	}

	if count == 0 {
		return nil, place.ErrNoneForOwner
	}

	var rows pgx.Rows

	err = r.observe("places.get_by_owner", func() error {
		var qerr error
		rows, qerr = r.pool.Query(ctx, `
			SELECT p.id, p.title, p.description, p.address, p.lat, p.lng, p.image_url, p.owner_id, p.created_at, p.updated_at
			FROM users u
			JOIN places p ON p.id = ANY(u.place_ids)
			WHERE u.id = $1
			ORDER BY p.created_at ASC, p.id ASC
		`, ownerID)
		return qerr
	})

	if err != nil {
		return nil, err
	}

	defer rows.Close()

	out = make([]place.Place, 0, count)

	for rows.Next() {
		var p place.Place

		e := rows.Scan(&p.ID, &p.Title, &p.Description, &p.Address, &p.Lat, &p.Lng, &p.ImageURL, &p.OwnerID, &p.CreatedAt, &p.UpdatedAt)

		if e != nil {
			return nil, e
		}

		out = append(out, p)
	}

	if e := rows.Err(); e != nil {
		return nil, e
	}

	return out, nil
}

func (r *PlacesRepo) Update(ctx context.Context, id string, req place.UpdatePlaceRequest) (place.Place, error) {
	var p place.Place

	err := r.observe("places.update", func() error {
		return r.pool.QueryRow(ctx, `
			UPDATE places
			SET title = $2,
			    description = $3,
			    updated_at = NOW()
			WHERE id = $1
			RETURNING id, title, description, address, lat, lng, image_url, owner_id, created_at, updated_at
		`, id, req.Title, req.Description).Scan(
			&p.ID, &p.Title, &p.Description, &p.Address, &p.Lat, &p.Lng, &p.ImageURL, &p.OwnerID, &p.CreatedAt, &p.UpdatedAt,
		)
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return place.Place{}, place.ErrNotFound
		}

		return place.Place{}, err
	}

	return p, nil
}

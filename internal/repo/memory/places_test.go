package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/geocoder89/placehub/internal/domain/place"
	"github.com/geocoder89/placehub/internal/domain/user"
	"github.com/google/uuid"
)

func seedOwner(t *testing.T, r *PlacesRepo) user.User {
	t.Helper()

	u := user.User{
		ID:    uuid.NewString(),
		Email: "owner@example.com",
		Name:  "Owner",
	}
	r.SeedUser(u)

	return u
}

func newPlace(ownerID string) place.Place {
	return place.Place{
		ID:      uuid.NewString(),
		Title:   "Empire State Building",
		OwnerID: ownerID,
	}
}

func TestCreateCommitLinksBothSides(t *testing.T) {
	ctx := context.Background()
	r := NewPlacesRepo()
	owner := seedOwner(t, r)
	p := newPlace(owner.ID)

	tx, err := r.BeginTx(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	if err := r.CreateTx(ctx, tx, p); err != nil {
		t.Fatalf("create: %v", err)
	}

	// nothing visible before commit
	if _, err := r.GetByID(ctx, p.ID); !errors.Is(err, place.ErrNotFound) {
		t.Fatalf("place visible before commit: %v", err)
	}

	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	got, err := r.GetByID(ctx, p.ID)
	if err != nil {
		t.Fatalf("get after commit: %v", err)
	}
	if got.OwnerID != owner.ID {
		t.Fatalf("owner = %q, want %q", got.OwnerID, owner.ID)
	}

	u, ok := r.GetUser(owner.ID)
	if !ok {
		t.Fatalf("owner vanished")
	}
	if len(u.PlaceIDs) != 1 || u.PlaceIDs[0] != p.ID {
		t.Fatalf("membership = %v, want [%s]", u.PlaceIDs, p.ID)
	}
}

func TestCreateRollbackLeavesNothing(t *testing.T) {
	ctx := context.Background()
	r := NewPlacesRepo()
	owner := seedOwner(t, r)
	p := newPlace(owner.ID)

	tx, _ := r.BeginTx(ctx)

	if err := r.CreateTx(ctx, tx, p); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("rollback: %v", err)
	}

	if _, err := r.GetByID(ctx, p.ID); !errors.Is(err, place.ErrNotFound) {
		t.Fatalf("place visible after rollback: %v", err)
	}

	u, _ := r.GetUser(owner.ID)
	if len(u.PlaceIDs) != 0 {
		t.Fatalf("membership dirty after rollback: %v", u.PlaceIDs)
	}

	// a finished tx refuses further work
	if err := r.CreateTx(ctx, tx, p); !errors.Is(err, errDeadTx) {
		t.Fatalf("expected dead tx error, got %v", err)
	}
}

func TestCreateUnknownOwner(t *testing.T) {
	ctx := context.Background()
	r := NewPlacesRepo()
	p := newPlace(uuid.NewString())

	tx, _ := r.BeginTx(ctx)

	if err := r.CreateTx(ctx, tx, p); !errors.Is(err, user.ErrNotFound) {
		t.Fatalf("expected user.ErrNotFound, got %v", err)
	}
}

func TestDeleteRemovesMembership(t *testing.T) {
	ctx := context.Background()
	r := NewPlacesRepo()
	owner := seedOwner(t, r)
	p := newPlace(owner.ID)

	tx, _ := r.BeginTx(ctx)
	_ = r.CreateTx(ctx, tx, p)
	_ = tx.Commit(ctx)

	tx2, _ := r.BeginTx(ctx)

	if err := r.DeleteTx(ctx, tx2, p.ID, owner.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if err := tx2.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	if _, err := r.GetByID(ctx, p.ID); !errors.Is(err, place.ErrNotFound) {
		t.Fatalf("place still visible: %v", err)
	}

	u, _ := r.GetUser(owner.ID)
	for _, id := range u.PlaceIDs {
		if id == p.ID {
			t.Fatalf("membership still references deleted place")
		}
	}

	// empty membership reads as the sentinel
	if _, err := r.GetByOwner(ctx, owner.ID); !errors.Is(err, place.ErrNoneForOwner) {
		t.Fatalf("expected ErrNoneForOwner, got %v", err)
	}
}

func TestDeleteWrongOwner(t *testing.T) {
	ctx := context.Background()
	r := NewPlacesRepo()
	owner := seedOwner(t, r)
	p := newPlace(owner.ID)

	tx, _ := r.BeginTx(ctx)
	_ = r.CreateTx(ctx, tx, p)
	_ = tx.Commit(ctx)

	tx2, _ := r.BeginTx(ctx)

	if err := r.DeleteTx(ctx, tx2, p.ID, uuid.NewString()); !errors.Is(err, place.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for wrong owner, got %v", err)
	}
}

// Two creates racing on the same owner must both land in the membership
// list; neither append may overwrite the other.
func TestConcurrentCreatesNoLostUpdate(t *testing.T) {
	ctx := context.Background()
	r := NewPlacesRepo()
	owner := seedOwner(t, r)

	const n = 20

	var wg sync.WaitGroup
	wg.Add(n)

	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()

			p := newPlace(owner.ID)

			tx, err := r.BeginTx(ctx)
			if err != nil {
				t.Errorf("begin: %v", err)
				return
			}

			if err := r.CreateTx(ctx, tx, p); err != nil {
				t.Errorf("create: %v", err)
				return
			}

			if err := tx.Commit(ctx); err != nil {
				t.Errorf("commit: %v", err)
			}
		}()
	}

	wg.Wait()

	u, _ := r.GetUser(owner.ID)
	if len(u.PlaceIDs) != n {
		t.Fatalf("membership has %d entries, want %d", len(u.PlaceIDs), n)
	}

	seen := make(map[string]bool, n)
	for _, id := range u.PlaceIDs {
		if seen[id] {
			t.Fatalf("duplicate membership entry %s", id)
		}
		seen[id] = true

		if _, err := r.GetByID(ctx, id); err != nil {
			t.Fatalf("membership references missing place %s: %v", id, err)
		}
	}
}

func TestGetByOwnerUnknownUser(t *testing.T) {
	ctx := context.Background()
	r := NewPlacesRepo()

	if _, err := r.GetByOwner(ctx, uuid.NewString()); !errors.Is(err, user.ErrNotFound) {
		t.Fatalf("expected user.ErrNotFound, got %v", err)
	}
}

func TestUpdateMutatesTitleAndDescriptionOnly(t *testing.T) {
	ctx := context.Background()
	r := NewPlacesRepo()
	owner := seedOwner(t, r)
	p := newPlace(owner.ID)
	p.Address = "20 W 34th St"
	p.ImageURL = "uploads/images/x.jpg"

	tx, _ := r.BeginTx(ctx)
	_ = r.CreateTx(ctx, tx, p)
	_ = tx.Commit(ctx)

	got, err := r.Update(ctx, p.ID, place.UpdatePlaceRequest{Title: "New", Description: "New description"})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	if got.Title != "New" || got.Description != "New description" {
		t.Fatalf("update not applied: %+v", got)
	}
	if got.Address != p.Address || got.ImageURL != p.ImageURL || got.OwnerID != owner.ID {
		t.Fatalf("immutable fields changed: %+v", got)
	}
}

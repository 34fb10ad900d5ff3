package repo

import "context"

// Tx is the slice of a storage transaction the engine and its fakes need.
// pgx.Tx satisfies it; the in-memory store provides its own.
type Tx interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

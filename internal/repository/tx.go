package repository

import (
	"context"
	"errors"

	"github.com/jmoiron/sqlx"
)

var (
	// ErrNotFound is returned by mutations addressing a row that does not exist.
	ErrNotFound = errors.New("not found")
	// ErrStateConflict is returned when a row is no longer in the state a mutation requires.
	ErrStateConflict = errors.New("state conflict")
)

// withTx runs fn in a new transaction, committing on success and rolling back otherwise.
func withTx(ctx context.Context, db *sqlx.DB, fn func(*sqlx.Tx) error) error {
	t, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = t.Rollback() }()

	if err := fn(t); err != nil {
		return err
	}
	return t.Commit()
}

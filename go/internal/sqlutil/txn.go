package sqlutil

import (
	"context"
	"database/sql"
	"fmt"
)

// InTx executes fn inside a *sql.Tx.
// If fn returns an error the tx rolls back, else it commits.
func InTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil) // BEGIN
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback() // ROLLBACK
		return err
	}
	if err := tx.Commit(); err != nil { // COMMIT
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Run is InTx with the query set already bound to the tx.
func Run[T any](
	ctx context.Context,
	db *sql.DB,
	newQueries func(*sql.Tx) *T,
	fn func(q *T) error,
) error {
	return InTx(ctx, db, func(tx *sql.Tx) error {
		return fn(newQueries(tx)) // bind Queries to this tx
	})
}

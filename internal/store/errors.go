package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bookloan/apiserver/types"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a write violates a uniqueness constraint.
	ErrConflict = errors.New("conflict")
	// ErrOutOfStock is returned when a book has no copy left to reserve.
	ErrOutOfStock = errors.New("out of stock")
	// ErrHasOpenTransactions is returned when deleting a user or book that
	// still has non-returned transactions.
	ErrHasOpenTransactions = errors.New("has open transactions")
	// ErrStateMismatch is returned when a transaction is not in the status a
	// transition expects. The concrete error is a *StateMismatchError.
	ErrStateMismatch = errors.New("state mismatch")
)

// StateMismatchError reports the status a transaction was actually in when
// a compare-and-swap transition did not apply.
type StateMismatchError struct {
	ID       int64
	Expected types.TransactionStatus
	Actual   types.TransactionStatus
}

func (e *StateMismatchError) Error() string {
	return fmt.Sprintf("transaction %d is %s, expected %s", e.ID, e.Actual, e.Expected)
}

func (e *StateMismatchError) Is(target error) bool {
	return target == ErrStateMismatch
}

// Querier is satisfied by both *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// now is truncated to the precision both backends store.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func rowsAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// countOpen counts non-returned transactions referencing id through column.
func countOpen(ctx context.Context, q Querier, column string, id int) (int, error) {
	query := `SELECT COUNT(*) FROM transactions WHERE ` + column + ` = $1 AND status <> $2`
	var n int
	err := q.QueryRowContext(ctx, query, id, types.StatusReturned).Scan(&n)
	return n, err
}

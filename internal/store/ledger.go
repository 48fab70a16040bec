package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/bookloan/apiserver/types"
)

// InventoryLedger owns every change to a book's available quantity. Each
// change is journaled against the transaction that caused it, and a
// transaction can be debited and credited at most once each.
type InventoryLedger struct {
	db *sql.DB
}

func NewInventoryLedger(db *sql.DB) *InventoryLedger {
	return &InventoryLedger{db: db}
}

// Reserve takes one copy of bookID for transactionID. It must run inside
// the caller's transaction and fails with ErrOutOfStock rather than let the
// quantity go negative.
func (l *InventoryLedger) Reserve(ctx context.Context, q Querier, bookID int, transactionID int64) error {
	const query = `
		UPDATE books SET quantity = quantity - 1, updated_at = $1
		WHERE id = $2 AND quantity >= 1`
	ts := now()
	result, err := q.ExecContext(ctx, query, ts, bookID)
	if err != nil {
		return err
	}
	if err := rowsAffected(result); err != nil {
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		var id int
		if err := q.QueryRowContext(ctx, `SELECT id FROM books WHERE id = $1`, bookID).Scan(&id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		return ErrOutOfStock
	}
	return l.journal(ctx, q, bookID, transactionID, -1, ts)
}

// Release returns the copy held by transactionID to bookID.
func (l *InventoryLedger) Release(ctx context.Context, q Querier, bookID int, transactionID int64) error {
	const query = `
		UPDATE books SET quantity = quantity + 1, updated_at = $1
		WHERE id = $2`
	ts := now()
	result, err := q.ExecContext(ctx, query, ts, bookID)
	if err != nil {
		return err
	}
	if err := rowsAffected(result); err != nil {
		return err
	}
	return l.journal(ctx, q, bookID, transactionID, 1, ts)
}

func (l *InventoryLedger) journal(ctx context.Context, q Querier, bookID int, transactionID int64, delta int, ts time.Time) error {
	const query = `
		INSERT INTO inventory_movements (book_id, transaction_id, delta, created_at)
		VALUES ($1, $2, $3, $4)`
	if _, err := q.ExecContext(ctx, query, bookID, transactionID, delta, ts); err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return err
	}
	return nil
}

// Movements lists the journal of bookID, oldest first.
func (l *InventoryLedger) Movements(ctx context.Context, bookID int) ([]types.InventoryMovement, error) {
	const query = `
		SELECT id, book_id, transaction_id, delta, created_at
		FROM inventory_movements
		WHERE book_id = $1
		ORDER BY id`
	rows, err := l.db.QueryContext(ctx, query, bookID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	movements := make([]types.InventoryMovement, 0)
	for rows.Next() {
		var m types.InventoryMovement
		if err := rows.Scan(&m.ID, &m.BookID, &m.TransactionID, &m.Delta, &m.CreatedAt); err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

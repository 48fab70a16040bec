package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/bookloan/apiserver/types"
)

const transactionColumns = `id, user_id, book_id, status, borrow_date, return_date, updated_at`

// TransactionRepository persists borrow/return transactions. Every status
// change is a compare-and-swap on the current status, applied in the same
// SQL transaction as its inventory side effect.
type TransactionRepository struct {
	db     *sql.DB
	ledger *InventoryLedger
}

func NewTransactionRepository(db *sql.DB, ledger *InventoryLedger) *TransactionRepository {
	return &TransactionRepository{db: db, ledger: ledger}
}

func scanTransaction(row scanner) (types.Transaction, error) {
	var (
		t          types.Transaction
		returnDate sql.NullTime
	)
	err := row.Scan(
		&t.ID,
		&t.UserID,
		&t.BookID,
		&t.Status,
		&t.BorrowDate,
		&returnDate,
		&t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Transaction{}, ErrNotFound
		}
		return types.Transaction{}, err
	}
	if returnDate.Valid {
		rd := returnDate.Time
		t.ReturnDate = &rd
	}
	return t, nil
}

func scanTransactions(rows *sql.Rows) ([]types.Transaction, error) {
	defer rows.Close()
	out := make([]types.Transaction, 0)
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *TransactionRepository) Get(ctx context.Context, id int64) (types.Transaction, error) {
	return getTransaction(ctx, r.db, id)
}

// List returns transactions newest first, optionally restricted to status.
func (r *TransactionRepository) List(ctx context.Context, status types.TransactionStatus, offset, limit int) ([]types.Transaction, int, error) {
	where := ""
	var args []any
	if status != "" {
		where = ` WHERE status = $1`
		args = append(args, status)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query, args := paginate(`SELECT `+transactionColumns+` FROM transactions`+where+` ORDER BY borrow_date DESC, id DESC`, args, offset, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	items, err := scanTransactions(rows)
	return items, total, err
}

// ListByUser returns the history of userID, newest first.
func (r *TransactionRepository) ListByUser(ctx context.Context, userID int) ([]types.Transaction, error) {
	const query = `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE user_id = $1
		ORDER BY borrow_date DESC, id DESC`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	return scanTransactions(rows)
}

// Create opens a Pending transaction for (userID, bookID). Inventory is not
// touched; the book only needs a copy available at request time. An
// existing open transaction for the pair yields ErrConflict.
func (r *TransactionRepository) Create(ctx context.Context, userID, bookID int) (types.Transaction, error) {
	var created types.Transaction
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		var quantity int
		err := tx.QueryRowContext(ctx, `SELECT quantity FROM books WHERE id = $1`, bookID).Scan(&quantity)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		if quantity < 1 {
			return ErrOutOfStock
		}

		ts := now()
		const query = `
			INSERT INTO transactions (user_id, book_id, status, borrow_date, updated_at)
			VALUES ($1, $2, $3, $4, $4)
			RETURNING id`
		var id int64
		if err := tx.QueryRowContext(ctx, query, userID, bookID, types.StatusPending, ts).Scan(&id); err != nil {
			if isUniqueViolation(err) {
				return ErrConflict
			}
			return err
		}
		created = types.Transaction{
			ID:         id,
			UserID:     userID,
			BookID:     bookID,
			Status:     types.StatusPending,
			BorrowDate: ts,
			UpdatedAt:  ts,
		}
		return nil
	})
	if err != nil {
		return types.Transaction{}, err
	}
	return created, nil
}

// ApproveBorrow moves a Pending transaction to Borrowed and reserves a copy.
func (r *TransactionRepository) ApproveBorrow(ctx context.Context, id int64) (types.Transaction, error) {
	var out types.Transaction
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		t, err := transition(ctx, tx, id, types.StatusPending, types.StatusBorrowed, nil)
		if err != nil {
			return err
		}
		if err := r.ledger.Reserve(ctx, tx, t.BookID, t.ID); err != nil {
			return err
		}
		out = t
		return nil
	})
	if err != nil {
		return types.Transaction{}, err
	}
	return out, nil
}

// RequestReturn moves the Borrowed transaction of (userID, bookID) to
// PendingReturn. ErrNotFound means the pair has no open transaction.
func (r *TransactionRepository) RequestReturn(ctx context.Context, userID, bookID int) (types.Transaction, error) {
	var out types.Transaction
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		const query = `
			SELECT id FROM transactions
			WHERE user_id = $1 AND book_id = $2 AND status <> $3`
		var id int64
		if err := tx.QueryRowContext(ctx, query, userID, bookID, types.StatusReturned).Scan(&id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		t, err := transition(ctx, tx, id, types.StatusBorrowed, types.StatusPendingReturn, nil)
		if err != nil {
			return err
		}
		out = t
		return nil
	})
	if err != nil {
		return types.Transaction{}, err
	}
	return out, nil
}

// ApproveReturn moves a PendingReturn transaction to Returned, stamps the
// return date and releases the copy.
func (r *TransactionRepository) ApproveReturn(ctx context.Context, id int64) (types.Transaction, error) {
	var out types.Transaction
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		returned := now()
		t, err := transition(ctx, tx, id, types.StatusPendingReturn, types.StatusReturned, &returned)
		if err != nil {
			return err
		}
		if err := r.ledger.Release(ctx, tx, t.BookID, t.ID); err != nil {
			return err
		}
		out = t
		return nil
	})
	if err != nil {
		return types.Transaction{}, err
	}
	return out, nil
}

// RejectPending deletes a Pending transaction. Nothing was reserved for it,
// so inventory is unaffected.
func (r *TransactionRepository) RejectPending(ctx context.Context, id int64) (types.Transaction, error) {
	var out types.Transaction
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		t, err := getTransaction(ctx, tx, id)
		if err != nil {
			return err
		}
		const query = `DELETE FROM transactions WHERE id = $1 AND status = $2`
		result, err := tx.ExecContext(ctx, query, id, types.StatusPending)
		if err != nil {
			return err
		}
		if err := rowsAffected(result); err != nil {
			if errors.Is(err, ErrNotFound) {
				return mismatch(ctx, tx, id, types.StatusPending)
			}
			return err
		}
		out = t
		return nil
	})
	if err != nil {
		return types.Transaction{}, err
	}
	return out, nil
}

// ListStale returns Pending and PendingReturn transactions whose status has
// not changed since before cutoff, oldest first.
func (r *TransactionRepository) ListStale(ctx context.Context, cutoff time.Time) ([]types.Transaction, error) {
	const query = `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE status IN ($1, $2) AND updated_at < $3
		ORDER BY updated_at, id`
	rows, err := r.db.QueryContext(ctx, query, types.StatusPending, types.StatusPendingReturn, cutoff.UTC())
	if err != nil {
		return nil, err
	}
	return scanTransactions(rows)
}

// transition applies from -> to on transaction id if and only if it is
// currently in from. returnDate, when set, is stored alongside.
func transition(ctx context.Context, tx *sql.Tx, id int64, from, to types.TransactionStatus, returnDate *time.Time) (types.Transaction, error) {
	var (
		result sql.Result
		err    error
	)
	if returnDate != nil {
		const query = `
			UPDATE transactions SET status = $1, updated_at = $2, return_date = $2
			WHERE id = $3 AND status = $4`
		result, err = tx.ExecContext(ctx, query, to, *returnDate, id, from)
	} else {
		const query = `
			UPDATE transactions SET status = $1, updated_at = $2
			WHERE id = $3 AND status = $4`
		result, err = tx.ExecContext(ctx, query, to, now(), id, from)
	}
	if err != nil {
		return types.Transaction{}, err
	}
	if err := rowsAffected(result); err != nil {
		if errors.Is(err, ErrNotFound) {
			return types.Transaction{}, mismatch(ctx, tx, id, from)
		}
		return types.Transaction{}, err
	}
	return getTransaction(ctx, tx, id)
}

func getTransaction(ctx context.Context, q Querier, id int64) (types.Transaction, error) {
	const query = `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`
	return scanTransaction(q.QueryRowContext(ctx, query, id))
}

// mismatch explains why a compare-and-swap on id matched no row.
func mismatch(ctx context.Context, tx *sql.Tx, id int64, expected types.TransactionStatus) error {
	var actual types.TransactionStatus
	err := tx.QueryRowContext(ctx, `SELECT status FROM transactions WHERE id = $1`, id).Scan(&actual)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	return &StateMismatchError{ID: id, Expected: expected, Actual: actual}
}

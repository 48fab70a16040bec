package store

import (
	"context"
	"database/sql"

	"github.com/bookloan/apiserver/types"
)

// StatsRepository computes dashboard counters.
type StatsRepository struct {
	db *sql.DB
}

func NewStatsRepository(db *sql.DB) *StatsRepository {
	return &StatsRepository{db: db}
}

func (r *StatsRepository) Get(ctx context.Context) (types.Stats, error) {
	const query = `
		SELECT
			(SELECT COUNT(*) FROM users),
			(SELECT COUNT(*) FROM users WHERE role = $1),
			(SELECT COUNT(*) FROM books),
			(SELECT COUNT(*) FROM transactions),
			(SELECT COUNT(*) FROM transactions WHERE status = $2),
			(SELECT COUNT(*) FROM transactions WHERE status = $3),
			(SELECT COUNT(*) FROM transactions WHERE status = $4),
			(SELECT COUNT(*) FROM transactions WHERE status = $5)`
	var s types.Stats
	err := r.db.QueryRowContext(
		ctx,
		query,
		types.RoleAdmin,
		types.StatusPending,
		types.StatusBorrowed,
		types.StatusPendingReturn,
		types.StatusReturned,
	).Scan(
		&s.TotalUsers,
		&s.TotalAdmins,
		&s.TotalBooks,
		&s.TotalTransactions,
		&s.PendingBorrows,
		&s.ActiveBorrows,
		&s.PendingReturns,
		&s.ReturnedBooks,
	)
	if err != nil {
		return types.Stats{}, err
	}
	s.TotalRegularUsers = s.TotalUsers - s.TotalAdmins
	return s, nil
}

// Package jobs runs scheduled background work.
package jobs

import (
	"context"
	"time"

	"github.com/bookloan/apiserver/internal/services"
	"github.com/bookloan/apiserver/types"
	"github.com/rs/zerolog"
)

// StaleSource lists requests that have waited too long for an admin.
type StaleSource interface {
	Stale(ctx context.Context, maxAge time.Duration) ([]types.Transaction, error)
}

// StaleReporter logs and publishes Pending and PendingReturn transactions
// older than MaxAge. It never changes their state.
type StaleReporter struct {
	source StaleSource
	events *services.Events
	maxAge time.Duration
	logger zerolog.Logger
}

func NewStaleReporter(source StaleSource, events *services.Events, maxAge time.Duration, logger zerolog.Logger) *StaleReporter {
	return &StaleReporter{
		source: source,
		events: events,
		maxAge: maxAge,
		logger: logger.With().Str("job", "stale-report").Logger(),
	}
}

// Report runs one pass and returns the stale transactions it found.
func (r *StaleReporter) Report(ctx context.Context) ([]types.Transaction, error) {
	ctx = r.logger.WithContext(ctx)

	stale, err := r.source.Stale(ctx, r.maxAge)
	if err != nil {
		r.logger.Error().Err(err).Msg("list stale transactions")
		return nil, err
	}
	if len(stale) == 0 {
		r.logger.Debug().Msg("no stale transactions")
		return nil, nil
	}

	for _, t := range stale {
		r.logger.Warn().
			Int64("transaction_id", t.ID).
			Int("user_id", t.UserID).
			Int("book_id", t.BookID).
			Str("status", string(t.Status)).
			Time("since", t.UpdatedAt).
			Msg("transaction awaiting admin action")
	}
	r.events.Stale(ctx, stale, r.maxAge)
	return stale, nil
}

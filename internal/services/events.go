package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bookloan/apiserver/internal/authz"
	"github.com/bookloan/apiserver/types"
	"github.com/rs/zerolog"
)

// Event types published on the transactions channel.
const (
	EventBorrowRequested  = "transaction.borrow_requested"
	EventBorrowApproved   = "transaction.borrow_approved"
	EventBorrowRejected   = "transaction.borrow_rejected"
	EventReturnRequested  = "transaction.return_requested"
	EventReturnApproved   = "transaction.return_approved"
	EventStaleTransaction = "transactions.stale"
)

// Publisher is the subset of the message queue the services publish with.
type Publisher interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
}

// TransactionEvent is the payload of every lifecycle event.
type TransactionEvent struct {
	Type        string            `json:"type"`
	ActorID     int               `json:"actor_id,omitempty"`
	Transaction types.Transaction `json:"transaction"`
	OccurredAt  time.Time         `json:"occurred_at"`
}

// Events publishes lifecycle events. Delivery is best effort: the state
// change has already committed when an event is sent, so failures are
// logged and never returned. A nil *Events discards everything.
type Events struct {
	publisher Publisher
	channel   string
}

func NewEvents(publisher Publisher, channel string) *Events {
	if publisher == nil {
		return nil
	}
	return &Events{publisher: publisher, channel: channel}
}

// Transaction publishes eventType for t on behalf of the caller in ctx.
func (e *Events) Transaction(ctx context.Context, eventType string, t types.Transaction) {
	if e == nil {
		return
	}
	e.publish(ctx, eventType, TransactionEvent{
		Type:        eventType,
		ActorID:     authz.IdentityFrom(ctx).UserID,
		Transaction: t,
		OccurredAt:  time.Now().UTC(),
	})
}

func (e *Events) publish(ctx context.Context, eventType string, payload any) {
	logger := zerolog.Ctx(ctx)

	data, err := json.Marshal(payload)
	if err != nil {
		logger.Error().Err(err).Str("event", eventType).Msg("encode event")
		return
	}

	id, err := e.publisher.Publish(ctx, e.channel, data, map[string]string{"type": eventType})
	if err != nil {
		logger.Warn().Err(err).Str("event", eventType).Str("channel", e.channel).Msg("publish event failed")
		return
	}
	logger.Debug().Str("event", eventType).Str("message_id", id).Msg("event published")
}

// StaleReport is the payload of EventStaleTransaction.
type StaleReport struct {
	Type           string    `json:"type"`
	MaxAge         string    `json:"max_age"`
	Count          int       `json:"count"`
	TransactionIDs []int64   `json:"transaction_ids"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// Stale publishes a report of transactions waiting on an admin for longer
// than maxAge.
func (e *Events) Stale(ctx context.Context, stale []types.Transaction, maxAge time.Duration) {
	if e == nil {
		return
	}
	ids := make([]int64, 0, len(stale))
	for _, t := range stale {
		ids = append(ids, t.ID)
	}
	e.publish(ctx, EventStaleTransaction, StaleReport{
		Type:           EventStaleTransaction,
		MaxAge:         maxAge.String(),
		Count:          len(stale),
		TransactionIDs: ids,
		OccurredAt:     time.Now().UTC(),
	})
}

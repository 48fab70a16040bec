package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bookloan/apiserver/internal/apperr"
	"github.com/bookloan/apiserver/internal/authz"
	"github.com/bookloan/apiserver/internal/store"
	"github.com/bookloan/apiserver/types"
	"github.com/rs/zerolog"
)

// TransactionRepository defines the transactional state changes of the
// borrow/return lifecycle.
type TransactionRepository interface {
	Get(ctx context.Context, id int64) (types.Transaction, error)
	List(ctx context.Context, status types.TransactionStatus, offset, limit int) ([]types.Transaction, int, error)
	ListByUser(ctx context.Context, userID int) ([]types.Transaction, error)
	ListStale(ctx context.Context, cutoff time.Time) ([]types.Transaction, error)
	Create(ctx context.Context, userID, bookID int) (types.Transaction, error)
	ApproveBorrow(ctx context.Context, id int64) (types.Transaction, error)
	RequestReturn(ctx context.Context, userID, bookID int) (types.Transaction, error)
	ApproveReturn(ctx context.Context, id int64) (types.Transaction, error)
	RejectPending(ctx context.Context, id int64) (types.Transaction, error)
}

// MovementReader reads the inventory journal.
type MovementReader interface {
	Movements(ctx context.Context, bookID int) ([]types.InventoryMovement, error)
}

type userLookup interface {
	GetByID(ctx context.Context, id int) (types.User, error)
}

type bookLookup interface {
	Get(ctx context.Context, id int) (types.Book, error)
}

// TransactionService runs the borrow/return state machine:
//
//	(none) --borrow--> Pending --approve--> Borrowed --return--> PendingReturn --approve--> Returned
//
// Inventory moves only on the two approvals.
type TransactionService struct {
	repo   TransactionRepository
	users  userLookup
	books  bookLookup
	ledger MovementReader
	events *Events
	gate   authz.Gate
}

func NewTransactionService(
	repo TransactionRepository,
	users userLookup,
	books bookLookup,
	ledger MovementReader,
	events *Events,
) *TransactionService {
	return &TransactionService{
		repo:   repo,
		users:  users,
		books:  books,
		ledger: ledger,
		events: events,
	}
}

// Borrow opens a Pending request of userID for bookID.
func (s *TransactionService) Borrow(ctx context.Context, userID, bookID int) (types.Transaction, error) {
	if err := s.gate.Require(authz.IdentityFrom(ctx), authz.SelfOrAdmin, userID); err != nil {
		return types.Transaction{}, err
	}
	if err := s.requireUser(ctx, userID); err != nil {
		return types.Transaction{}, err
	}
	if _, err := s.books.Get(ctx, bookID); err != nil {
		return types.Transaction{}, lookupError(err, "book not found")
	}

	t, err := s.repo.Create(ctx, userID, bookID)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrOutOfStock):
			return types.Transaction{}, apperr.ErrOutOfStock
		case errors.Is(err, store.ErrConflict):
			return types.Transaction{}, apperr.ErrDuplicateOpenRequest
		case errors.Is(err, store.ErrNotFound):
			return types.Transaction{}, apperr.NotFound("book not found")
		default:
			return types.Transaction{}, apperr.Internal("failed to create borrow request", err)
		}
	}

	zerolog.Ctx(ctx).Info().Int64("transaction_id", t.ID).Int("user_id", userID).Int("book_id", bookID).Msg("borrow requested")
	s.events.Transaction(ctx, EventBorrowRequested, t)
	return t, nil
}

// Return asks for the Borrowed transaction of (userID, bookID) to be
// closed.
func (s *TransactionService) Return(ctx context.Context, userID, bookID int) (types.Transaction, error) {
	if err := s.gate.Require(authz.IdentityFrom(ctx), authz.SelfOrAdmin, userID); err != nil {
		return types.Transaction{}, err
	}

	t, err := s.repo.RequestReturn(ctx, userID, bookID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.Transaction{}, apperr.NotFound("active borrow transaction not found")
		}
		return types.Transaction{}, transitionError(err, "borrowed")
	}

	zerolog.Ctx(ctx).Info().Int64("transaction_id", t.ID).Msg("return requested")
	s.events.Transaction(ctx, EventReturnRequested, t)
	return t, nil
}

// ApproveBorrow moves a Pending request to Borrowed and takes one copy.
func (s *TransactionService) ApproveBorrow(ctx context.Context, id int64) (types.Transaction, error) {
	if err := s.gate.Require(authz.IdentityFrom(ctx), authz.Admin, 0); err != nil {
		return types.Transaction{}, err
	}

	t, err := s.repo.ApproveBorrow(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrOutOfStock) {
			return types.Transaction{}, apperr.ErrOutOfStock
		}
		return types.Transaction{}, transitionError(err, "pending")
	}

	zerolog.Ctx(ctx).Info().Int64("transaction_id", t.ID).Int("book_id", t.BookID).Msg("borrow approved")
	s.events.Transaction(ctx, EventBorrowApproved, t)
	return t, nil
}

// ApproveReturn closes a PendingReturn transaction and releases its copy.
func (s *TransactionService) ApproveReturn(ctx context.Context, id int64) (types.Transaction, error) {
	if err := s.gate.Require(authz.IdentityFrom(ctx), authz.Admin, 0); err != nil {
		return types.Transaction{}, err
	}

	t, err := s.repo.ApproveReturn(ctx, id)
	if err != nil {
		return types.Transaction{}, transitionError(err, "pending return")
	}

	zerolog.Ctx(ctx).Info().Int64("transaction_id", t.ID).Int("book_id", t.BookID).Msg("return approved")
	s.events.Transaction(ctx, EventReturnApproved, t)
	return t, nil
}

// Reject discards a Pending request. Inventory was never touched.
func (s *TransactionService) Reject(ctx context.Context, id int64) (types.Transaction, error) {
	if err := s.gate.Require(authz.IdentityFrom(ctx), authz.Admin, 0); err != nil {
		return types.Transaction{}, err
	}

	t, err := s.repo.RejectPending(ctx, id)
	if err != nil {
		return types.Transaction{}, transitionError(err, "pending")
	}

	zerolog.Ctx(ctx).Info().Int64("transaction_id", t.ID).Msg("borrow rejected")
	s.events.Transaction(ctx, EventBorrowRejected, t)
	return t, nil
}

func (s *TransactionService) Get(ctx context.Context, id int64) (types.Transaction, error) {
	if err := s.gate.Require(authz.IdentityFrom(ctx), authz.Admin, 0); err != nil {
		return types.Transaction{}, err
	}
	t, err := s.repo.Get(ctx, id)
	if err != nil {
		return types.Transaction{}, lookupError(err, "transaction not found")
	}
	return t, nil
}

// List returns all transactions newest first, optionally filtered by
// status.
func (s *TransactionService) List(ctx context.Context, status types.TransactionStatus, offset, limit int) ([]types.Transaction, int, error) {
	if err := s.gate.Require(authz.IdentityFrom(ctx), authz.Admin, 0); err != nil {
		return nil, 0, err
	}
	if status != "" && !status.Valid() {
		return nil, 0, apperr.Validation(fmt.Sprintf("invalid status %q", status))
	}
	items, total, err := s.repo.List(ctx, status, offset, clampLimit(limit))
	if err != nil {
		return nil, 0, apperr.Internal("failed to list transactions", err)
	}
	return items, total, nil
}

// History returns the transactions of userID newest first.
func (s *TransactionService) History(ctx context.Context, userID int) ([]types.Transaction, error) {
	if err := s.gate.Require(authz.IdentityFrom(ctx), authz.SelfOrAdmin, userID); err != nil {
		return nil, err
	}
	if err := s.requireUser(ctx, userID); err != nil {
		return nil, err
	}
	items, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, apperr.Internal("failed to load history", err)
	}
	return items, nil
}

// Movements returns the inventory journal of bookID.
func (s *TransactionService) Movements(ctx context.Context, bookID int) ([]types.InventoryMovement, error) {
	if err := s.gate.Require(authz.IdentityFrom(ctx), authz.Admin, 0); err != nil {
		return nil, err
	}
	if _, err := s.books.Get(ctx, bookID); err != nil {
		return nil, lookupError(err, "book not found")
	}
	movements, err := s.ledger.Movements(ctx, bookID)
	if err != nil {
		return nil, apperr.Internal("failed to load movements", err)
	}
	return movements, nil
}

// Stale lists Pending and PendingReturn transactions untouched for longer
// than maxAge. It runs outside any request and performs no capability
// check.
func (s *TransactionService) Stale(ctx context.Context, maxAge time.Duration) ([]types.Transaction, error) {
	return s.repo.ListStale(ctx, time.Now().Add(-maxAge))
}

func (s *TransactionService) requireUser(ctx context.Context, userID int) error {
	if _, err := s.users.GetByID(ctx, userID); err != nil {
		return lookupError(err, "user not found")
	}
	return nil
}

// lookupError maps a read failure. Errors already classified by another
// service pass through unchanged.
func lookupError(err error, notFound string) error {
	if _, ok := apperr.As(err); ok {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return apperr.NotFound(notFound)
		}
		return err
	}
	if errors.Is(err, store.ErrNotFound) {
		return apperr.NotFound(notFound)
	}
	return apperr.Internal("lookup failed", err)
}

// transitionError maps the failure of a compare-and-swap transition that
// expected the transaction to be in the state described by expected.
func transitionError(err error, expected string) error {
	var mismatch *store.StateMismatchError
	switch {
	case errors.As(err, &mismatch):
		return apperr.ErrInvalidStateTransition.WithMessage(
			fmt.Sprintf("transaction is not %s. Current status: %s", expected, mismatch.Actual),
		)
	case errors.Is(err, store.ErrNotFound):
		return apperr.NotFound("transaction not found")
	default:
		return apperr.Internal("transaction update failed", err)
	}
}

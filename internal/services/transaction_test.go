package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/bookloan/apiserver/internal/apperr"
	"github.com/bookloan/apiserver/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDuneScenario(t *testing.T) {
	e := newEnv(t)
	userA := e.register(t, "a")
	userB := e.register(t, "b")
	dune := e.book(t, "Dune", "9780441013593", 1)

	borrow, err := e.transactions.Borrow(as(userA), userA.ID, dune.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, borrow.Status)
	assert.Equal(t, 1, e.quantity(t, dune.ID))

	approved, err := e.transactions.ApproveBorrow(as(e.admin), borrow.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusBorrowed, approved.Status)
	assert.Equal(t, 0, e.quantity(t, dune.ID))

	_, err = e.transactions.Borrow(as(userB), userB.ID, dune.ID)
	assert.ErrorIs(t, err, apperr.ErrOutOfStock)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	returning, err := e.transactions.Return(as(userA), userA.ID, dune.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusPendingReturn, returning.Status)
	assert.Equal(t, 0, e.quantity(t, dune.ID))

	returned, err := e.transactions.ApproveReturn(as(e.admin), borrow.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusReturned, returned.Status)
	assert.NotNil(t, returned.ReturnDate)
	assert.Equal(t, 1, e.quantity(t, dune.ID))

	assert.Equal(t, []string{
		EventBorrowRequested,
		EventBorrowApproved,
		EventReturnRequested,
		EventReturnApproved,
	}, e.publisher.types())

	var last TransactionEvent
	require.NoError(t, json.Unmarshal(e.publisher.events[3].data, &last))
	assert.Equal(t, e.admin.ID, last.ActorID)
	assert.Equal(t, borrow.ID, last.Transaction.ID)
	assert.Equal(t, "bookloan.transactions", e.publisher.events[3].channel)
}

func TestApproveBorrowTwiceIsInvalidTransition(t *testing.T) {
	e := newEnv(t)
	alice := e.register(t, "alice")
	dune := e.book(t, "Dune", "1", 2)

	tx, err := e.transactions.Borrow(as(alice), alice.ID, dune.ID)
	require.NoError(t, err)
	_, err = e.transactions.ApproveBorrow(as(e.admin), tx.ID)
	require.NoError(t, err)

	_, err = e.transactions.ApproveBorrow(as(e.admin), tx.ID)
	require.ErrorIs(t, err, apperr.ErrInvalidStateTransition)
	assert.Contains(t, err.Error(), "Current status: Borrowed")
	assert.Equal(t, 1, e.quantity(t, dune.ID))
}

func TestBorrowGuards(t *testing.T) {
	e := newEnv(t)
	alice := e.register(t, "alice")
	bob := e.register(t, "bob")
	dune := e.book(t, "Dune", "1", 2)

	_, err := e.transactions.Borrow(as(bob), alice.ID, dune.ID)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = e.transactions.Borrow(context.Background(), alice.ID, dune.ID)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	_, err = e.transactions.Borrow(as(alice), alice.ID, 999)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	_, err = e.transactions.Borrow(as(e.admin), 999, dune.ID)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	onBehalf, err := e.transactions.Borrow(as(e.admin), alice.ID, dune.ID)
	require.NoError(t, err)
	assert.Equal(t, alice.ID, onBehalf.UserID)

	_, err = e.transactions.Borrow(as(alice), alice.ID, dune.ID)
	assert.ErrorIs(t, err, apperr.ErrDuplicateOpenRequest)
}

func TestReturnGuards(t *testing.T) {
	e := newEnv(t)
	alice := e.register(t, "alice")
	bob := e.register(t, "bob")
	dune := e.book(t, "Dune", "1", 2)

	_, err := e.transactions.Return(as(alice), alice.ID, dune.ID)
	require.Error(t, err)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	assert.Contains(t, err.Error(), "active borrow transaction not found")

	_, err = e.transactions.Borrow(as(alice), alice.ID, dune.ID)
	require.NoError(t, err)

	_, err = e.transactions.Return(as(alice), alice.ID, dune.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidStateTransition)

	_, err = e.transactions.Return(as(bob), alice.ID, dune.ID)
	assert.ErrorIs(t, err, apperr.ErrForbidden)
}

func TestReject(t *testing.T) {
	e := newEnv(t)
	alice := e.register(t, "alice")
	dune := e.book(t, "Dune", "1", 1)

	tx, err := e.transactions.Borrow(as(alice), alice.ID, dune.ID)
	require.NoError(t, err)

	_, err = e.transactions.Reject(as(alice), tx.ID)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	rejected, err := e.transactions.Reject(as(e.admin), tx.ID)
	require.NoError(t, err)
	assert.Equal(t, tx.ID, rejected.ID)
	assert.Equal(t, 1, e.quantity(t, dune.ID))

	_, err = e.transactions.Get(as(e.admin), tx.ID)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	again, err := e.transactions.Borrow(as(alice), alice.ID, dune.ID)
	require.NoError(t, err, "a rejected request frees the pair")
	_, err = e.transactions.ApproveBorrow(as(e.admin), again.ID)
	require.NoError(t, err)
	_, err = e.transactions.Reject(as(e.admin), again.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidStateTransition)
}

func TestHistoryAndListing(t *testing.T) {
	e := newEnv(t)
	alice := e.register(t, "alice")
	bob := e.register(t, "bob")
	dune := e.book(t, "Dune", "1", 3)
	emma := e.book(t, "Emma", "2", 3)

	first, err := e.transactions.Borrow(as(alice), alice.ID, dune.ID)
	require.NoError(t, err)
	second, err := e.transactions.Borrow(as(alice), alice.ID, emma.ID)
	require.NoError(t, err)

	history, err := e.transactions.History(as(alice), alice.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, second.ID, history[0].ID)
	assert.Equal(t, first.ID, history[1].ID)

	_, err = e.transactions.History(as(bob), alice.ID)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	adminView, err := e.transactions.History(as(e.admin), alice.ID)
	require.NoError(t, err)
	assert.Len(t, adminView, 2)

	_, _, err = e.transactions.List(as(e.admin), "Lost", 0, 10)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	pending, total, err := e.transactions.List(as(e.admin), types.StatusPending, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, pending, 2)
}

func TestMovementsConservation(t *testing.T) {
	e := newEnv(t)
	alice := e.register(t, "alice")
	dune := e.book(t, "Dune", "1", 1)

	tx, err := e.transactions.Borrow(as(alice), alice.ID, dune.ID)
	require.NoError(t, err)
	_, err = e.transactions.ApproveBorrow(as(e.admin), tx.ID)
	require.NoError(t, err)
	_, err = e.transactions.Return(as(alice), alice.ID, dune.ID)
	require.NoError(t, err)
	_, err = e.transactions.ApproveReturn(as(e.admin), tx.ID)
	require.NoError(t, err)

	movements, err := e.transactions.Movements(as(e.admin), dune.ID)
	require.NoError(t, err)
	require.Len(t, movements, 2)
	assert.Equal(t, -1, movements[0].Delta)
	assert.Equal(t, 1, movements[1].Delta)
	assert.Equal(t, tx.ID, movements[0].TransactionID)
	assert.Equal(t, tx.ID, movements[1].TransactionID)

	_, err = e.transactions.Movements(as(alice), dune.ID)
	assert.ErrorIs(t, err, apperr.ErrForbidden)
}

func TestPublishFailureDoesNotFailTransition(t *testing.T) {
	e := newEnv(t)
	e.publisher.err = errors.New("broker down")
	alice := e.register(t, "alice")
	dune := e.book(t, "Dune", "1", 1)

	tx, err := e.transactions.Borrow(as(alice), alice.ID, dune.ID)
	require.NoError(t, err)
	_, err = e.transactions.ApproveBorrow(as(e.admin), tx.ID)
	require.NoError(t, err)
	assert.Empty(t, e.publisher.types())
}

func TestNilEventsDiscard(t *testing.T) {
	var events *Events
	assert.Nil(t, NewEvents(nil, "x"))
	assert.NotPanics(t, func() {
		events.Transaction(context.Background(), EventBorrowRequested, types.Transaction{})
	})
}

package handlers

import (
	"net/http"

	"github.com/bookloan/apiserver/internal/services"
	"github.com/go-chi/chi/v5"
)

// TransactionHandler serves the borrower side of the lifecycle.
type TransactionHandler struct {
	transactionService *services.TransactionService
}

func NewTransactionHandler(transactionService *services.TransactionService) *TransactionHandler {
	return &TransactionHandler{transactionService: transactionService}
}

// TransactionRouter registers borrower routes. Every route requires a token.
func TransactionRouter(r chi.Router, handler *TransactionHandler, authMiddleware func(http.Handler) http.Handler) {
	r.Use(authMiddleware)
	r.Post("/borrow", handler.Borrow)
	r.Post("/return", handler.Return)
	r.Get("/user/{userID}", handler.History)
}

// LoanRequest names the user and book of a borrow or return. Ids may be
// sent as numbers or numeric strings.
type LoanRequest struct {
	UserID flexID `json:"user_id" validate:"required,gt=0"`
	BookID flexID `json:"book_id" validate:"required,gt=0"`
}

func (h *TransactionHandler) Borrow(w http.ResponseWriter, r *http.Request) {
	var req LoanRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	t, err := h.transactionService.Borrow(r.Context(), int(req.UserID), int(req.BookID))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *TransactionHandler) Return(w http.ResponseWriter, r *http.Request) {
	var req LoanRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	t, err := h.transactionService.Return(r.Context(), int(req.UserID), int(req.BookID))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// History lists a user's transactions, newest first.
func (h *TransactionHandler) History(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userID")
	if err != nil {
		writeValidationError(w, err.Error())
		return
	}

	items, err := h.transactionService.History(r.Context(), userID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

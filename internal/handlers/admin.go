package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/bookloan/apiserver/internal/services"
	"github.com/bookloan/apiserver/types"
	"github.com/go-chi/chi/v5"
)

// AdminHandler serves the administrative surface: account management,
// approvals and reporting.
type AdminHandler struct {
	userService        *services.UserService
	transactionService *services.TransactionService
	statsService       *services.StatsService
}

func NewAdminHandler(
	userService *services.UserService,
	transactionService *services.TransactionService,
	statsService *services.StatsService,
) *AdminHandler {
	return &AdminHandler{
		userService:        userService,
		transactionService: transactionService,
		statsService:       statsService,
	}
}

// AdminRouter registers admin routes. The whole subtree requires an admin
// token; services re-check the capability.
func AdminRouter(r chi.Router, handler *AdminHandler, authMiddleware func(http.Handler) http.Handler) {
	r.Use(authMiddleware, RequireAdmin)

	r.Get("/stats", handler.Stats)

	r.Route("/users", func(r chi.Router) {
		r.Get("/", handler.ListUsers)
		r.Get("/{userID}", handler.GetUser)
		r.Put("/{userID}/role", handler.ChangeRole)
		r.Delete("/{userID}", handler.DeleteUser)
	})

	r.Route("/transactions", func(r chi.Router) {
		r.Get("/", handler.ListTransactions)
		r.Get("/{transactionID}", handler.GetTransaction)
		r.Post("/{transactionID}/approve-borrow", handler.ApproveBorrow)
		r.Post("/{transactionID}/approve-return", handler.ApproveReturn)
		r.Post("/{transactionID}/reject", handler.Reject)
	})

	r.Get("/books/{bookID}/movements", handler.Movements)
}

func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.statsService.Get(r.Context())
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	_, limit, offset, err := parsePagination(r)
	if err != nil {
		writeValidationError(w, err.Error())
		return
	}

	users, total, err := h.userService.List(r.Context(), offset, limit)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeList(w, users, total)
}

func (h *AdminHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "userID")
	if err != nil {
		writeValidationError(w, err.Error())
		return
	}

	user, err := h.userService.Get(r.Context(), id)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// ChangeRole reads the target role from the new_role query parameter.
func (h *AdminHandler) ChangeRole(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "userID")
	if err != nil {
		writeValidationError(w, err.Error())
		return
	}
	role := strings.TrimSpace(r.URL.Query().Get("new_role"))
	if role == "" {
		writeValidationError(w, "new_role is required")
		return
	}

	user, err := h.userService.ChangeRole(r.Context(), id, role)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *AdminHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "userID")
	if err != nil {
		writeValidationError(w, err.Error())
		return
	}

	if err := h.userService.Delete(r.Context(), id); err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "User deleted successfully"})
}

func (h *AdminHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	_, limit, offset, err := parsePagination(r)
	if err != nil {
		writeValidationError(w, err.Error())
		return
	}
	status := types.TransactionStatus(strings.TrimSpace(r.URL.Query().Get("status")))

	items, total, err := h.transactionService.List(r.Context(), status, offset, limit)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeList(w, items, total)
}

func (h *AdminHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := pathID64(r, "transactionID")
	if err != nil {
		writeValidationError(w, err.Error())
		return
	}

	t, err := h.transactionService.Get(r.Context(), id)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *AdminHandler) ApproveBorrow(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.transactionService.ApproveBorrow)
}

func (h *AdminHandler) ApproveReturn(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.transactionService.ApproveReturn)
}

// Reject discards a Pending request and returns it as it was.
func (h *AdminHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.transactionService.Reject)
}

func (h *AdminHandler) transition(w http.ResponseWriter, r *http.Request, apply func(ctx context.Context, id int64) (types.Transaction, error)) {
	id, err := pathID64(r, "transactionID")
	if err != nil {
		writeValidationError(w, err.Error())
		return
	}

	t, err := apply(r.Context(), id)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// Movements returns the inventory journal of one book.
func (h *AdminHandler) Movements(w http.ResponseWriter, r *http.Request) {
	bookID, err := pathID(r, "bookID")
	if err != nil {
		writeValidationError(w, err.Error())
		return
	}

	items, err := h.transactionService.Movements(r.Context(), bookID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

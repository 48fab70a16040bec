package handlers

import (
	"net/http"

	"github.com/bookloan/apiserver/internal/services"
	"github.com/go-chi/chi/v5"
)

// UserHandler serves account endpoints outside of authentication.
type UserHandler struct {
	userService *services.UserService
}

func NewUserHandler(userService *services.UserService) *UserHandler {
	return &UserHandler{userService: userService}
}

// UserRouter registers user routes. Every route requires a token.
func UserRouter(r chi.Router, handler *UserHandler, authMiddleware func(http.Handler) http.Handler) {
	r.Use(authMiddleware)
	r.With(RequireAdmin).Post("/", handler.CreateUser)
	r.Get("/{userID}", handler.GetUser)
}

type UserCreateRequest struct {
	Username string `json:"username" validate:"required,min=3,max=50"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,max=72"`
	Role     string `json:"role" validate:"omitempty,oneof=user admin"`
}

// CreateUser provisions an account. Unlike registration, the role may be
// chosen.
func (h *UserHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req UserCreateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	user, err := h.userService.Provision(r.Context(), services.NewUser{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		Role:     req.Role,
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
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

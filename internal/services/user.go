package services

import (
	"context"
	"errors"
	"strings"

	"github.com/bookloan/apiserver/internal/apperr"
	"github.com/bookloan/apiserver/internal/authz"
	"github.com/bookloan/apiserver/internal/store"
	"github.com/bookloan/apiserver/types"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	GetByID(ctx context.Context, id int) (types.User, error)
	GetByUsername(ctx context.Context, username string) (types.User, error)
	List(ctx context.Context, offset, limit int) ([]types.User, int, error)
	Create(ctx context.Context, user types.User) (types.User, error)
	Update(ctx context.Context, user types.User) (types.User, error)
	UpdateRole(ctx context.Context, id int, role string) (types.User, error)
	Delete(ctx context.Context, id int) error
}

// NewUser is the input of registration and provisioning.
type NewUser struct {
	Username string
	Email    string
	Password string
	Role     string
}

// UserService encapsulates account use-cases.
type UserService struct {
	repo UserRepository
	gate authz.Gate
}

func NewUserService(repo UserRepository) *UserService {
	return &UserService{repo: repo}
}

// GetByID loads a user without any capability check. It backs token
// authentication and returns store.ErrNotFound for unknown ids.
func (s *UserService) GetByID(ctx context.Context, id int) (types.User, error) {
	return s.repo.GetByID(ctx, id)
}

// Get returns a profile to its owner or to an admin.
func (s *UserService) Get(ctx context.Context, id int) (types.User, error) {
	if err := s.gate.Require(authz.IdentityFrom(ctx), authz.SelfOrAdmin, id); err != nil {
		return types.User{}, err
	}
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return types.User{}, userError(err)
	}
	return user, nil
}

func (s *UserService) List(ctx context.Context, offset, limit int) ([]types.User, int, error) {
	if err := s.gate.Require(authz.IdentityFrom(ctx), authz.Admin, 0); err != nil {
		return nil, 0, err
	}
	users, total, err := s.repo.List(ctx, offset, clampLimit(limit))
	if err != nil {
		return nil, 0, apperr.Internal("failed to list users", err)
	}
	return users, total, nil
}

// Register creates a regular user account. It is the only public way to
// create an account and never grants the admin role.
func (s *UserService) Register(ctx context.Context, in NewUser) (types.User, error) {
	in.Role = types.RoleUser
	return s.create(ctx, in)
}

// Provision lets an admin create an account with any role.
func (s *UserService) Provision(ctx context.Context, in NewUser) (types.User, error) {
	if err := s.gate.Require(authz.IdentityFrom(ctx), authz.Admin, 0); err != nil {
		return types.User{}, err
	}
	if in.Role == "" {
		in.Role = types.RoleUser
	}
	return s.create(ctx, in)
}

// Authenticate verifies a username/password pair.
func (s *UserService) Authenticate(ctx context.Context, username, password string) (types.User, error) {
	invalid := apperr.ErrUnauthorized.WithMessage("incorrect username or password")

	user, err := s.repo.GetByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, invalid
		}
		return types.User{}, apperr.Internal("failed to authenticate", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return types.User{}, invalid
	}
	return user, nil
}

// ChangeRole sets the role of another user.
func (s *UserService) ChangeRole(ctx context.Context, id int, role string) (types.User, error) {
	caller := authz.IdentityFrom(ctx)
	if err := s.gate.Require(caller, authz.Admin, 0); err != nil {
		return types.User{}, err
	}
	if err := s.gate.RequireNotSelf(caller, id); err != nil {
		return types.User{}, apperr.ErrSelfTarget.WithMessage("cannot change your own role")
	}
	if !types.ValidRole(role) {
		return types.User{}, apperr.Validation("invalid role. must be 'user' or 'admin'")
	}

	user, err := s.repo.UpdateRole(ctx, id, role)
	if err != nil {
		return types.User{}, userError(err)
	}
	zerolog.Ctx(ctx).Info().Int("user_id", id).Str("role", role).Int("by", caller.UserID).Msg("user role changed")
	return user, nil
}

// Delete removes another user's account.
func (s *UserService) Delete(ctx context.Context, id int) error {
	caller := authz.IdentityFrom(ctx)
	if err := s.gate.Require(caller, authz.Admin, 0); err != nil {
		return err
	}
	if err := s.gate.RequireNotSelf(caller, id); err != nil {
		return apperr.ErrSelfTarget.WithMessage("cannot delete your own account")
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, store.ErrHasOpenTransactions) {
			return apperr.ErrHasOpenTransactions.WithMessage("user has pending or active transactions")
		}
		return userError(err)
	}
	zerolog.Ctx(ctx).Info().Int("user_id", id).Int("by", caller.UserID).Msg("user deleted")
	return nil
}

// EnsureAdmin creates an admin account, or promotes and resets the
// password of an existing one with the same username. It runs outside any
// request and performs no capability check.
func (s *UserService) EnsureAdmin(ctx context.Context, in NewUser) (types.User, error) {
	in.Role = types.RoleAdmin
	existing, err := s.repo.GetByUsername(ctx, strings.TrimSpace(in.Username))
	if errors.Is(err, store.ErrNotFound) {
		return s.create(ctx, in)
	}
	if err != nil {
		return types.User{}, apperr.Internal("failed to load user", err)
	}

	hash, err := hashPassword(in.Password)
	if err != nil {
		return types.User{}, err
	}
	existing.Role = types.RoleAdmin
	existing.PasswordHash = hash
	if email := strings.TrimSpace(in.Email); email != "" {
		existing.Email = email
	}
	user, err := s.repo.Update(ctx, existing)
	if err != nil {
		return types.User{}, userError(err)
	}
	return user, nil
}

func (s *UserService) create(ctx context.Context, in NewUser) (types.User, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)
	if in.Username == "" || in.Email == "" || in.Password == "" {
		return types.User{}, apperr.Validation("username, email and password are required")
	}
	if !types.ValidRole(in.Role) {
		return types.User{}, apperr.Validation("invalid role. must be 'user' or 'admin'")
	}

	hash, err := hashPassword(in.Password)
	if err != nil {
		return types.User{}, err
	}

	user, err := s.repo.Create(ctx, types.User{
		Username:     in.Username,
		Email:        in.Email,
		Role:         in.Role,
		PasswordHash: hash,
	})
	if err != nil {
		return types.User{}, userError(err)
	}
	zerolog.Ctx(ctx).Info().Int("user_id", user.ID).Str("role", user.Role).Msg("user created")
	return user, nil
}

func hashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		// bcrypt rejects passwords longer than 72 bytes.
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", apperr.Validation("password is too long")
		}
		return "", apperr.Internal("failed to hash password", err)
	}
	return string(hashed), nil
}

func userError(err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return apperr.NotFound("user not found")
	case errors.Is(err, store.ErrConflict):
		return apperr.ErrDuplicateUser
	default:
		return apperr.Internal("user store failure", err)
	}
}

package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/bookloan/apiserver/types"
)

const userColumns = `id, username, email, role, password_hash, created_at, updated_at`

// UserRepository handles persistence for users.
type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

func scanUser(row scanner) (types.User, error) {
	var user types.User
	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.Role,
		&user.PasswordHash,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, err
	}
	return user, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id int) (types.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, id))
}

func (r *UserRepository) GetByUsername(ctx context.Context, username string) (types.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE username = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, username))
}

func (r *UserRepository) List(ctx context.Context, offset, limit int) ([]types.User, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&total); err != nil {
		return nil, 0, err
	}

	query, args := paginate(`SELECT `+userColumns+` FROM users ORDER BY id`, nil, offset, limit)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	users := make([]types.User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, user)
	}
	return users, total, rows.Err()
}

// Create inserts user. Duplicate usernames or emails yield ErrConflict.
func (r *UserRepository) Create(ctx context.Context, user types.User) (types.User, error) {
	ts := now()
	user.CreatedAt = ts
	user.UpdatedAt = ts

	const query = `
		INSERT INTO users (username, email, role, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`
	if err := r.db.QueryRowContext(
		ctx,
		query,
		user.Username,
		user.Email,
		user.Role,
		user.PasswordHash,
		user.CreatedAt,
		user.UpdatedAt,
	).Scan(&user.ID); err != nil {
		if isUniqueViolation(err) {
			return types.User{}, ErrConflict
		}
		return types.User{}, err
	}
	return user, nil
}

func (r *UserRepository) Update(ctx context.Context, user types.User) (types.User, error) {
	user.UpdatedAt = now()

	const query = `
		UPDATE users
		SET username = $1,
			email = $2,
			role = $3,
			password_hash = $4,
			updated_at = $5
		WHERE id = $6`
	result, err := r.db.ExecContext(
		ctx,
		query,
		user.Username,
		user.Email,
		user.Role,
		user.PasswordHash,
		user.UpdatedAt,
		user.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return types.User{}, ErrConflict
		}
		return types.User{}, err
	}
	if err := rowsAffected(result); err != nil {
		return types.User{}, err
	}
	return user, nil
}

func (r *UserRepository) UpdateRole(ctx context.Context, id int, role string) (types.User, error) {
	const query = `UPDATE users SET role = $1, updated_at = $2 WHERE id = $3`
	result, err := r.db.ExecContext(ctx, query, role, now(), id)
	if err != nil {
		return types.User{}, err
	}
	if err := rowsAffected(result); err != nil {
		return types.User{}, err
	}
	return r.GetByID(ctx, id)
}

// Delete removes the user and their closed transaction history. Users with
// open transactions are kept and ErrHasOpenTransactions is returned.
func (r *UserRepository) Delete(ctx context.Context, id int) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		open, err := countOpen(ctx, tx, "user_id", id)
		if err != nil {
			return err
		}
		if open > 0 {
			return ErrHasOpenTransactions
		}
		result, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
		if err != nil {
			return err
		}
		return rowsAffected(result)
	})
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"

	"github.com/bookloan/apiserver/types"
)

const bookColumns = `id, title, author, isbn, quantity, image_url, image_key, created_at, updated_at`

// BookRepository handles persistence for the catalog.
type BookRepository struct {
	db *sql.DB
}

func NewBookRepository(db *sql.DB) *BookRepository {
	return &BookRepository{db: db}
}

func scanBook(row scanner) (types.Book, error) {
	var (
		book     types.Book
		imageURL sql.NullString
	)
	err := row.Scan(
		&book.ID,
		&book.Title,
		&book.Author,
		&book.ISBN,
		&book.Quantity,
		&imageURL,
		&book.ImageKey,
		&book.CreatedAt,
		&book.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Book{}, ErrNotFound
		}
		return types.Book{}, err
	}
	if imageURL.Valid {
		book.ImageURL = &imageURL.String
	}
	return book, nil
}

// List returns a page of books ordered by id. A non-empty search matches
// title or author case-insensitively.
func (r *BookRepository) List(ctx context.Context, search string, offset, limit int) ([]types.Book, int, error) {
	where := ""
	var args []any
	if search = strings.TrimSpace(search); search != "" {
		where = ` WHERE LOWER(title) LIKE $1 OR LOWER(author) LIKE $1`
		args = append(args, "%"+strings.ToLower(search)+"%")
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM books`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query, args := paginate(`SELECT `+bookColumns+` FROM books`+where+` ORDER BY id`, args, offset, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	books := make([]types.Book, 0)
	for rows.Next() {
		book, err := scanBook(rows)
		if err != nil {
			return nil, 0, err
		}
		books = append(books, book)
	}
	return books, total, rows.Err()
}

func (r *BookRepository) Get(ctx context.Context, id int) (types.Book, error) {
	const query = `SELECT ` + bookColumns + ` FROM books WHERE id = $1`
	return scanBook(r.db.QueryRowContext(ctx, query, id))
}

// Create inserts book. A duplicate ISBN yields ErrConflict.
func (r *BookRepository) Create(ctx context.Context, book types.Book) (types.Book, error) {
	ts := now()
	book.CreatedAt = ts
	book.UpdatedAt = ts

	const query = `
		INSERT INTO books (title, author, isbn, quantity, image_url, image_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`
	if err := r.db.QueryRowContext(
		ctx,
		query,
		book.Title,
		book.Author,
		book.ISBN,
		book.Quantity,
		nullString(book.ImageURL),
		book.ImageKey,
		book.CreatedAt,
		book.UpdatedAt,
	).Scan(&book.ID); err != nil {
		if isUniqueViolation(err) {
			return types.Book{}, ErrConflict
		}
		return types.Book{}, err
	}
	return book, nil
}

// Update applies the non-nil fields of patch in a single statement.
func (r *BookRepository) Update(ctx context.Context, id int, patch types.BookPatch) (types.Book, error) {
	sets := []string{"updated_at = $1"}
	args := []any{now()}
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, column+" = $"+strconv.Itoa(len(args)))
	}
	if patch.Title != nil {
		add("title", *patch.Title)
	}
	if patch.Author != nil {
		add("author", *patch.Author)
	}
	if patch.ISBN != nil {
		add("isbn", *patch.ISBN)
	}
	if patch.Quantity != nil {
		add("quantity", *patch.Quantity)
	}
	if patch.ImageURL != nil {
		add("image_url", nullString(patch.ImageURL))
	}
	args = append(args, id)

	query := `UPDATE books SET ` + strings.Join(sets, ", ") + ` WHERE id = $` + strconv.Itoa(len(args))
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return types.Book{}, ErrConflict
		}
		return types.Book{}, err
	}
	if err := rowsAffected(result); err != nil {
		return types.Book{}, err
	}
	return r.Get(ctx, id)
}

// SetImage records the storage key and public URL of the book's cover.
func (r *BookRepository) SetImage(ctx context.Context, id int, key, url string) (types.Book, error) {
	const query = `UPDATE books SET image_key = $1, image_url = $2, updated_at = $3 WHERE id = $4`
	result, err := r.db.ExecContext(ctx, query, key, url, now(), id)
	if err != nil {
		return types.Book{}, err
	}
	if err := rowsAffected(result); err != nil {
		return types.Book{}, err
	}
	return r.Get(ctx, id)
}

// Delete removes the book and its closed transaction history. Books with
// open transactions are kept and ErrHasOpenTransactions is returned.
func (r *BookRepository) Delete(ctx context.Context, id int) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		open, err := countOpen(ctx, tx, "book_id", id)
		if err != nil {
			return err
		}
		if open > 0 {
			return ErrHasOpenTransactions
		}
		result, err := tx.ExecContext(ctx, `DELETE FROM books WHERE id = $1`, id)
		if err != nil {
			return err
		}
		return rowsAffected(result)
	})
}

func nullString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

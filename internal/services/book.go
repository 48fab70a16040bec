package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bookloan/apiserver/internal/apperr"
	"github.com/bookloan/apiserver/internal/authz"
	"github.com/bookloan/apiserver/internal/storage"
	"github.com/bookloan/apiserver/internal/store"
	"github.com/bookloan/apiserver/types"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"
)

const (
	coverCacheSize = 32
	coverCacheTTL  = 10 * time.Minute

	// MaxCoverBytes is the largest accepted cover image.
	MaxCoverBytes = 5 << 20

	coverCacheControl = "public, max-age=86400, immutable"
)

// BookRepository defines persistence operations for the catalog.
type BookRepository interface {
	List(ctx context.Context, search string, offset, limit int) ([]types.Book, int, error)
	Get(ctx context.Context, id int) (types.Book, error)
	Create(ctx context.Context, book types.Book) (types.Book, error)
	Update(ctx context.Context, id int, patch types.BookPatch) (types.Book, error)
	SetImage(ctx context.Context, id int, key, url string) (types.Book, error)
	Delete(ctx context.Context, id int) error
}

// ObjectStore holds cover images.
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, meta storage.ObjectMeta) error
	Get(ctx context.Context, key string) (storage.Object, error)
	Delete(ctx context.Context, key string) error
}

// Cover is a stored cover image with the metadata it was uploaded with.
type Cover struct {
	Data         []byte
	ContentType  string
	CacheControl string
}

// NewBook is the input of book creation.
type NewBook struct {
	Title    string
	Author   string
	ISBN     string
	Quantity int
	ImageURL *string
}

// BookService encapsulates catalog use-cases. Book rows always come from
// the repository; only cover bytes are cached, keyed by their object key,
// which is never reused.
type BookService struct {
	repo    BookRepository
	objects ObjectStore
	covers  *expirable.LRU[string, Cover]
	gate    authz.Gate
}

// NewBookService constructs a BookService. objects may be nil, in which
// case cover uploads are rejected.
func NewBookService(repo BookRepository, objects ObjectStore) *BookService {
	return &BookService{
		repo:    repo,
		objects: objects,
		covers:  expirable.NewLRU[string, Cover](coverCacheSize, nil, coverCacheTTL),
	}
}

func (s *BookService) List(ctx context.Context, search string, offset, limit int) ([]types.Book, int, error) {
	books, total, err := s.repo.List(ctx, search, offset, clampLimit(limit))
	if err != nil {
		return nil, 0, apperr.Internal("failed to list books", err)
	}
	return books, total, nil
}

func (s *BookService) Get(ctx context.Context, id int) (types.Book, error) {
	book, err := s.repo.Get(ctx, id)
	if err != nil {
		return types.Book{}, bookError(err)
	}
	return book, nil
}

func (s *BookService) Create(ctx context.Context, in NewBook) (types.Book, error) {
	if err := s.gate.Require(authz.IdentityFrom(ctx), authz.Admin, 0); err != nil {
		return types.Book{}, err
	}
	in.Title = strings.TrimSpace(in.Title)
	in.Author = strings.TrimSpace(in.Author)
	in.ISBN = strings.TrimSpace(in.ISBN)
	if in.Title == "" || in.Author == "" || in.ISBN == "" {
		return types.Book{}, apperr.Validation("title, author and isbn are required")
	}
	if in.Quantity < 0 {
		return types.Book{}, apperr.Validation("quantity must not be negative")
	}

	book, err := s.repo.Create(ctx, types.Book{
		Title:    in.Title,
		Author:   in.Author,
		ISBN:     in.ISBN,
		Quantity: in.Quantity,
		ImageURL: in.ImageURL,
	})
	if err != nil {
		return types.Book{}, bookError(err)
	}
	zerolog.Ctx(ctx).Info().Int("book_id", book.ID).Str("isbn", book.ISBN).Msg("book created")
	return book, nil
}

// Update applies a partial update.
func (s *BookService) Update(ctx context.Context, id int, patch types.BookPatch) (types.Book, error) {
	if err := s.gate.Require(authz.IdentityFrom(ctx), authz.Admin, 0); err != nil {
		return types.Book{}, err
	}
	for _, field := range []*string{patch.Title, patch.Author, patch.ISBN} {
		if field == nil {
			continue
		}
		*field = strings.TrimSpace(*field)
		if *field == "" {
			return types.Book{}, apperr.Validation("title, author and isbn must not be empty")
		}
	}
	if patch.Quantity != nil && *patch.Quantity < 0 {
		return types.Book{}, apperr.Validation("quantity must not be negative")
	}

	book, err := s.repo.Update(ctx, id, patch)
	if err != nil {
		return types.Book{}, bookError(err)
	}
	return book, nil
}

func (s *BookService) Delete(ctx context.Context, id int) error {
	if err := s.gate.Require(authz.IdentityFrom(ctx), authz.Admin, 0); err != nil {
		return err
	}
	book, err := s.repo.Get(ctx, id)
	if err != nil {
		return bookError(err)
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, store.ErrHasOpenTransactions) {
			return apperr.ErrHasOpenTransactions.WithMessage("book has pending or active transactions")
		}
		return bookError(err)
	}

	if book.ImageKey != "" && s.objects != nil {
		s.dropCover(ctx, book.ImageKey)
	}
	zerolog.Ctx(ctx).Info().Int("book_id", id).Msg("book deleted")
	return nil
}

// UploadCover stores data as the cover of book id. Only images up to
// MaxCoverBytes are accepted.
func (s *BookService) UploadCover(ctx context.Context, id int, data []byte) (types.Book, error) {
	if err := s.gate.Require(authz.IdentityFrom(ctx), authz.Admin, 0); err != nil {
		return types.Book{}, err
	}
	if s.objects == nil {
		return types.Book{}, apperr.Validation("image storage is not configured")
	}
	if len(data) == 0 {
		return types.Book{}, apperr.Validation("image is empty")
	}
	if len(data) > MaxCoverBytes {
		return types.Book{}, apperr.Validation(fmt.Sprintf(
			"image is %s, the limit is %s",
			humanize.IBytes(uint64(len(data))), humanize.IBytes(MaxCoverBytes),
		))
	}
	contentType := http.DetectContentType(data)
	if !strings.HasPrefix(contentType, "image/") {
		return types.Book{}, apperr.Validation("file must be an image, got " + contentType)
	}

	previous, err := s.repo.Get(ctx, id)
	if err != nil {
		return types.Book{}, bookError(err)
	}

	key := fmt.Sprintf("covers/%d/%s", id, uuid.NewString())
	meta := storage.ObjectMeta{ContentType: contentType, CacheControl: coverCacheControl}
	if err := s.objects.Put(ctx, key, bytes.NewReader(data), int64(len(data)), meta); err != nil {
		return types.Book{}, apperr.Internal("failed to store image", err)
	}

	book, err := s.repo.SetImage(ctx, id, key, fmt.Sprintf("/books/%d/image", id))
	if err != nil {
		_ = s.objects.Delete(ctx, key)
		return types.Book{}, bookError(err)
	}
	if previous.ImageKey != "" {
		s.dropCover(ctx, previous.ImageKey)
	}

	zerolog.Ctx(ctx).Info().
		Int("book_id", id).
		Str("key", key).
		Str("size", humanize.IBytes(uint64(len(data)))).
		Msg("cover image stored")
	return book, nil
}

// Cover returns the stored cover of book id.
func (s *BookService) Cover(ctx context.Context, id int) (Cover, error) {
	book, err := s.Get(ctx, id)
	if err != nil {
		return Cover{}, err
	}
	if book.ImageKey == "" || s.objects == nil {
		return Cover{}, apperr.NotFound("book has no cover image")
	}
	if cover, ok := s.covers.Get(book.ImageKey); ok {
		return cover, nil
	}

	obj, err := s.objects.Get(ctx, book.ImageKey)
	if err != nil {
		return Cover{}, apperr.Internal("failed to open image", err)
	}
	defer obj.Body.Close()

	data, err := io.ReadAll(io.LimitReader(obj.Body, MaxCoverBytes+1))
	if err != nil {
		return Cover{}, apperr.Internal("failed to read image", err)
	}
	if len(data) > MaxCoverBytes {
		return Cover{}, apperr.Internal("stored image exceeds size limit", nil)
	}
	cover := Cover{Data: data, ContentType: obj.ContentType, CacheControl: obj.CacheControl}
	if cover.ContentType == "" {
		cover.ContentType = http.DetectContentType(data)
	}
	s.covers.Add(book.ImageKey, cover)
	return cover, nil
}

func (s *BookService) dropCover(ctx context.Context, key string) {
	s.covers.Remove(key)
	if err := s.objects.Delete(ctx, key); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("delete cover image")
	}
}

func bookError(err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return apperr.NotFound("book not found")
	case errors.Is(err, store.ErrConflict):
		return apperr.ErrDuplicateISBN
	default:
		return apperr.Internal("book store failure", err)
	}
}

package services

import (
	"bytes"
	"context"
	"testing"

	"github.com/bookloan/apiserver/internal/apperr"
	"github.com/bookloan/apiserver/internal/db/dbtest"
	"github.com/bookloan/apiserver/internal/storage"
	"github.com/bookloan/apiserver/internal/store"
	"github.com/bookloan/apiserver/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func TestBookAdminGate(t *testing.T) {
	e := newEnv(t)
	alice := e.register(t, "alice")
	dune := e.book(t, "Dune", "1", 1)
	title := "x"

	_, err := e.books.Create(as(alice), NewBook{Title: "t", Author: "a", ISBN: "2"})
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	_, err = e.books.Update(as(alice), dune.ID, types.BookPatch{Title: &title})
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	assert.ErrorIs(t, e.books.Delete(as(alice), dune.ID), apperr.ErrForbidden)
	_, err = e.books.UploadCover(as(alice), dune.ID, pngHeader)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = e.books.Create(context.Background(), NewBook{Title: "t", Author: "a", ISBN: "2"})
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
}

func TestBookValidationAndConflicts(t *testing.T) {
	e := newEnv(t)
	e.book(t, "Dune", "1", 1)

	_, err := e.books.Create(as(e.admin), NewBook{Title: "Dune", Author: "Herbert", ISBN: "1"})
	assert.ErrorIs(t, err, apperr.ErrDuplicateISBN)

	_, err = e.books.Create(as(e.admin), NewBook{Title: "Emma", Author: "Austen", ISBN: "2", Quantity: -1})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = e.books.Create(as(e.admin), NewBook{Title: " ", Author: "Austen", ISBN: "3"})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	negative := -3
	_, err = e.books.Update(as(e.admin), 1, types.BookPatch{Quantity: &negative})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = e.books.Get(context.Background(), 999)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestBookReadsSeeWritesFromOtherServices(t *testing.T) {
	conn := dbtest.Open(t)
	repo := store.NewBookRepository(conn)
	users := NewUserService(store.NewUserRepository(conn))
	admin, err := users.EnsureAdmin(context.Background(), NewUser{Username: "root", Email: "root@example.com", Password: "rootpass"})
	require.NoError(t, err)

	reader := NewBookService(repo, nil)
	writer := NewBookService(store.NewBookRepository(conn), nil)

	dune, err := writer.Create(as(admin), NewBook{Title: "Dune", Author: "Herbert", ISBN: "1", Quantity: 1})
	require.NoError(t, err)
	seen, err := reader.Get(context.Background(), dune.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, seen.Quantity)

	zero := 0
	_, err = writer.Update(as(admin), dune.ID, types.BookPatch{Quantity: &zero})
	require.NoError(t, err)

	seen, err = reader.Get(context.Background(), dune.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, seen.Quantity)
}

func TestBookDeleteWithOpenTransactions(t *testing.T) {
	e := newEnv(t)
	alice := e.register(t, "alice")
	dune := e.book(t, "Dune", "1", 1)

	_, err := e.transactions.Borrow(as(alice), alice.ID, dune.ID)
	require.NoError(t, err)

	assert.ErrorIs(t, e.books.Delete(as(e.admin), dune.ID), apperr.ErrHasOpenTransactions)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(e.books.Delete(as(e.admin), 999)))
}

func TestUploadCover(t *testing.T) {
	e := newEnv(t)
	dune := e.book(t, "Dune", "1", 1)
	data := append(append([]byte{}, pngHeader...), bytes.Repeat([]byte{0}, 64)...)

	book, err := e.books.UploadCover(as(e.admin), dune.ID, data)
	require.NoError(t, err)
	require.NotNil(t, book.ImageURL)
	assert.Equal(t, "/books/1/image", *book.ImageURL)
	assert.NotEmpty(t, book.ImageKey)

	cover, err := e.books.Cover(context.Background(), dune.ID)
	require.NoError(t, err)
	assert.Equal(t, data, cover.Data)
	assert.Equal(t, "image/png", cover.ContentType)
	assert.Equal(t, coverCacheControl, cover.CacheControl)
	assert.Equal(t, storage.ObjectMeta{ContentType: "image/png", CacheControl: coverCacheControl}, e.objects.meta[book.ImageKey])

	// Covers are served from memory once loaded.
	_, err = e.books.Cover(context.Background(), dune.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, e.objects.gets)

	// Replacing the cover removes the previous object.
	_, err = e.books.UploadCover(as(e.admin), dune.ID, data)
	require.NoError(t, err)
	assert.Len(t, e.objects.objects, 1)

	_, err = e.books.UploadCover(as(e.admin), dune.ID, []byte("plain text, not an image"))
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	tooLarge := append(append([]byte{}, pngHeader...), make([]byte, MaxCoverBytes)...)
	_, err = e.books.UploadCover(as(e.admin), dune.ID, tooLarge)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "5.0 MiB")

	require.NoError(t, e.books.Delete(as(e.admin), dune.ID))
	assert.Empty(t, e.objects.objects)
}

func TestCoverWithoutImage(t *testing.T) {
	e := newEnv(t)
	dune := e.book(t, "Dune", "1", 1)

	_, err := e.books.Cover(context.Background(), dune.ID)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestUploadCoverWithoutStorage(t *testing.T) {
	e := newEnv(t)
	dune := e.book(t, "Dune", "1", 1)
	books := NewBookService(nil, nil)

	_, err := books.UploadCover(as(e.admin), dune.ID, pngHeader)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

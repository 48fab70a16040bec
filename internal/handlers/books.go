package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/bookloan/apiserver/internal/services"
	"github.com/bookloan/apiserver/types"
	"github.com/go-chi/chi/v5"
)

const (
	formFieldImage     = "image"
	maxMultipartMemory = 8 << 20
	// Multipart framing on top of the largest accepted image.
	maxUploadBody = services.MaxCoverBytes + 1<<20
)

// BookHandler provides HTTP handlers for the catalog.
type BookHandler struct {
	bookService *services.BookService
}

func NewBookHandler(bookService *services.BookService) *BookHandler {
	return &BookHandler{bookService: bookService}
}

// BookRouter registers book routes on the given router.
func BookRouter(r chi.Router, handler *BookHandler, authMiddleware func(http.Handler) http.Handler) {
	r.Get("/", handler.ListBooks)
	r.With(authMiddleware, RequireAdmin).Post("/", handler.CreateBook)
	r.Route("/{bookID}", func(r chi.Router) {
		r.Get("/", handler.GetBook)
		r.With(authMiddleware, RequireAdmin).Put("/", handler.UpdateBook)
		r.With(authMiddleware, RequireAdmin).Delete("/", handler.DeleteBook)
		r.Get("/image", handler.GetCover)
		r.With(authMiddleware, RequireAdmin).Put("/image", handler.UploadCover)
	})
}

type BookCreateRequest struct {
	Title    string  `json:"title" validate:"required,max=255"`
	Author   string  `json:"author" validate:"required,max=255"`
	ISBN     string  `json:"isbn" validate:"required,max=32"`
	Quantity *int    `json:"quantity" validate:"omitempty,min=0"`
	ImageURL *string `json:"image_url" validate:"omitempty,max=2048"`
}

type BookUpdateRequest struct {
	Title    *string `json:"title" validate:"omitempty,max=255"`
	Author   *string `json:"author" validate:"omitempty,max=255"`
	ISBN     *string `json:"isbn" validate:"omitempty,max=32"`
	Quantity *int    `json:"quantity" validate:"omitempty,min=0"`
	ImageURL *string `json:"image_url" validate:"omitempty,max=2048"`
}

func (h *BookHandler) ListBooks(w http.ResponseWriter, r *http.Request) {
	_, limit, offset, err := parsePagination(r)
	if err != nil {
		writeValidationError(w, err.Error())
		return
	}

	books, total, err := h.bookService.List(r.Context(), r.URL.Query().Get("q"), offset, limit)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeList(w, books, total)
}

func (h *BookHandler) GetBook(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "bookID")
	if err != nil {
		writeValidationError(w, err.Error())
		return
	}

	book, err := h.bookService.Get(r.Context(), id)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, book)
}

func (h *BookHandler) CreateBook(w http.ResponseWriter, r *http.Request) {
	var req BookCreateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	in := services.NewBook{
		Title:    req.Title,
		Author:   req.Author,
		ISBN:     req.ISBN,
		ImageURL: req.ImageURL,
	}
	if req.Quantity != nil {
		in.Quantity = *req.Quantity
	}

	book, err := h.bookService.Create(r.Context(), in)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, book)
}

func (h *BookHandler) UpdateBook(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "bookID")
	if err != nil {
		writeValidationError(w, err.Error())
		return
	}

	var req BookUpdateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	book, err := h.bookService.Update(r.Context(), id, types.BookPatch{
		Title:    req.Title,
		Author:   req.Author,
		ISBN:     req.ISBN,
		Quantity: req.Quantity,
		ImageURL: req.ImageURL,
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, book)
}

func (h *BookHandler) DeleteBook(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "bookID")
	if err != nil {
		writeValidationError(w, err.Error())
		return
	}

	if err := h.bookService.Delete(r.Context(), id); err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Book deleted successfully"})
}

// UploadCover stores the multipart "image" field as the book's cover.
func (h *BookHandler) UploadCover(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "bookID")
	if err != nil {
		writeValidationError(w, err.Error())
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBody)
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeValidationError(w, "upload too large")
			return
		}
		writeValidationError(w, "invalid multipart form")
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	file, _, err := r.FormFile(formFieldImage)
	if err != nil {
		writeValidationError(w, "image is required")
		return
	}
	// One byte past the limit lets the service report the oversize.
	data, err := io.ReadAll(io.LimitReader(file, services.MaxCoverBytes+1))
	_ = file.Close()
	if err != nil {
		writeValidationError(w, "failed to read upload")
		return
	}

	book, err := h.bookService.UploadCover(r.Context(), id, data)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, book)
}

// GetCover streams the book's cover image.
func (h *BookHandler) GetCover(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "bookID")
	if err != nil {
		writeValidationError(w, err.Error())
		return
	}

	cover, err := h.bookService.Cover(r.Context(), id)
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", cover.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(cover.Data)))
	if cover.CacheControl != "" {
		w.Header().Set("Cache-Control", cover.CacheControl)
	}
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		_, _ = w.Write(cover.Data)
	}
}

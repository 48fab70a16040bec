package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bookloan/apiserver/internal/apperr"
	"github.com/bookloan/apiserver/internal/authz"
	"github.com/bookloan/apiserver/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePagination(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantLimit  int
		wantOffset int
		wantErr    bool
	}{
		{name: "unpaged", query: "", wantLimit: 0, wantOffset: 0},
		{name: "page only", query: "?page=2", wantLimit: defaultLimit, wantOffset: defaultLimit},
		{name: "page two", query: "?page=2&limit=10", wantLimit: 10, wantOffset: 10},
		{name: "per_page alias", query: "?per_page=5&page=3", wantLimit: 5, wantOffset: 10},
		{name: "clamped", query: "?limit=1000", wantLimit: maxLimit, wantOffset: 0},
		{name: "bad page", query: "?page=0", wantErr: true},
		{name: "bad limit", query: "?limit=x", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/books"+tt.query, nil)
			_, limit, offset, err := parsePagination(r)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantLimit, limit)
			assert.Equal(t, tt.wantOffset, offset)
		})
	}
}

func TestFlexID(t *testing.T) {
	var req LoanRequest
	require.NoError(t, json.Unmarshal([]byte(`{"user_id": 3, "book_id": " 7 "}`), &req))
	assert.Equal(t, flexID(3), req.UserID)
	assert.Equal(t, flexID(7), req.BookID)

	assert.Error(t, json.Unmarshal([]byte(`{"user_id": "x", "book_id": 1}`), &req))
}

func TestDecodeJSON(t *testing.T) {
	decode := func(body string) (*httptest.ResponseRecorder, bool) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		w := httptest.NewRecorder()
		var req RegisterRequest
		return w, decodeJSON(w, r, &req)
	}

	_, ok := decode(`{"username":"alice","email":"alice@example.com","password":"pw"}`)
	assert.True(t, ok)

	w, ok := decode(`{"username":"al","email":"nope","password":"pw"}`)
	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "username must be at least 3")
	assert.Contains(t, w.Body.String(), "email must be a valid email address")

	w, ok = decode(`{"username":"alice","email":"alice@example.com","password":"pw","role":"admin"}`)
	assert.False(t, ok)
	assert.Contains(t, w.Body.String(), "invalid request body")

	w, ok = decode(``)
	assert.False(t, ok)
	assert.Contains(t, w.Body.String(), "body is empty")
}

func TestWriteAppError(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)

	w := httptest.NewRecorder()
	writeAppError(w, r, apperr.ErrOutOfStock)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.JSONEq(t, `{"detail":"book out of stock","code":"out_of_stock"}`, w.Body.String())

	w = httptest.NewRecorder()
	writeAppError(w, r, assert.AnError)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), assert.AnError.Error())
}

func TestRequireAdmin(t *testing.T) {
	h := RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	serve := func(id authz.Identity) int {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r = r.WithContext(authz.WithIdentity(r.Context(), id))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		return w.Code
	}

	assert.Equal(t, http.StatusNoContent, serve(authz.Identity{UserID: 1, Role: types.RoleAdmin}))
	assert.Equal(t, http.StatusForbidden, serve(authz.Identity{UserID: 2, Role: types.RoleUser}))
	assert.Equal(t, http.StatusUnauthorized, serve(authz.Anonymous))
}

package logging

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bookloan/apiserver/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(config.Config{Env: "prod", LogLevel: "warn"}, &buf)

	logger.Info().Msg("hidden")
	logger.Warn().Msg("shown")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "shown", entry["message"])
	assert.Equal(t, "bookloan-api", entry["service"])
}

func TestNewLoggerInvalidLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(config.Config{LogLevel: "loud"}, &buf)

	logger.Debug().Msg("hidden")
	assert.Zero(t, buf.Len())
	logger.Info().Msg("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestMiddlewareLogsRequests(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(config.Config{LogLevel: "info"}, &buf)

	var handler http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	mws := Middleware(logger)
	for i := len(mws) - 1; i >= 0; i-- {
		handler = mws[i](handler)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/books", nil))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "/books", entry["path"])
	assert.EqualValues(t, http.StatusTeapot, entry["status"])
	assert.NotEmpty(t, entry["req_id"])
}

// Package logging configures the process-wide zerolog logger and the
// request logging middleware.
package logging

import (
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/bookloan/apiserver/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"
)

// New builds the root logger. Development environments get a console
// writer; everything else logs JSON to stdout.
func New(cfg config.Config) zerolog.Logger {
	return newLogger(cfg, os.Stdout)
}

func newLogger(cfg config.Config, out io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.LogLevel)))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	if cfg.Env == "dev" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	}

	return zerolog.New(out).Level(level).With().Timestamp().Str("service", "bookloan-api").Logger()
}

// Setup installs logger as the global zerolog logger and returns it.
func Setup(cfg config.Config) zerolog.Logger {
	logger := New(cfg)
	log.Logger = logger
	zerolog.DefaultContextLogger = &logger
	return logger
}

// Middleware attaches a request-scoped logger to every request and logs
// one line per completed request.
func Middleware(logger zerolog.Logger) []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		hlog.NewHandler(logger),
		hlog.RequestIDHandler("req_id", "X-Request-Id"),
		hlog.RemoteAddrHandler("ip"),
		hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
			event := hlog.FromRequest(r).Info()
			if status >= http.StatusInternalServerError {
				event = hlog.FromRequest(r).Error()
			}
			event.
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", status).
				Int("size", size).
				Dur("duration", duration).
				Msg("request")
		}),
	}
}

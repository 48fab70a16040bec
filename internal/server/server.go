package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bookloan/apiserver/config"
	"github.com/bookloan/apiserver/internal/db"
	"github.com/bookloan/apiserver/internal/handlers"
	"github.com/bookloan/apiserver/internal/jobs"
	"github.com/bookloan/apiserver/internal/logging"
	"github.com/bookloan/apiserver/internal/mq"
	"github.com/bookloan/apiserver/internal/services"
	"github.com/bookloan/apiserver/internal/storage"
	"github.com/bookloan/apiserver/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
)

const staleReportJob = "stale-report"

// Deps are the external resources the HTTP surface is built on.
type Deps struct {
	DB *sql.DB
	// Objects stores cover images. Nil disables uploads.
	Objects services.ObjectStore
	// Publisher receives lifecycle events. Nil disables publishing.
	Publisher      services.Publisher
	Channel        string
	JWTSecret      string
	TokenTTL       time.Duration
	AllowedOrigins []string
	Logger         zerolog.Logger
}

type app struct {
	router       *chi.Mux
	transactions *services.TransactionService
	events       *services.Events
}

// Server wraps the HTTP server and router.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	db         *sql.DB
	queue      *mq.MQ
	objects    *storage.Storage
	scheduler  *jobs.Scheduler
	logger     zerolog.Logger
}

// New opens every configured backend and constructs a Server.
func New(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*Server, error) {
	if cfg.Auth.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}

	dbConn, err := db.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := db.MigrateUp(dbConn, cfg.Database.Driver); err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	queue, err := mq.Open(ctx, cfg.MQ)
	if err != nil {
		_ = dbConn.Close()
		return nil, err
	}

	st, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		_ = queue.Close()
		_ = dbConn.Close()
		return nil, err
	}

	deps := Deps{
		DB:             dbConn,
		Channel:        cfg.MQ.Channel,
		JWTSecret:      cfg.Auth.JWTSecret,
		TokenTTL:       cfg.Auth.TokenTTL,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		Logger:         logger,
	}
	if st != nil {
		deps.Objects = st
	}
	if queue.Enabled() {
		deps.Publisher = queue
	}
	a := build(deps)

	scheduler := jobs.NewScheduler(logger)
	reporter := jobs.NewStaleReporter(a.transactions, a.events, cfg.StaleReport.MaxAge, logger)
	err = scheduler.Add(staleReportJob, cfg.StaleReport.Schedule, func(ctx context.Context) error {
		_, err := reporter.Report(ctx)
		return err
	})
	if err != nil {
		_ = st.Close()
		_ = queue.Close()
		_ = dbConn.Close()
		return nil, fmt.Errorf("schedule %s: %w", staleReportJob, err)
	}

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      a.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: httpServer,
		router:     a.router,
		db:         dbConn,
		queue:      queue,
		objects:    st,
		scheduler:  scheduler,
		logger:     logger,
	}, nil
}

// NewRouter builds the complete HTTP handler over deps.
func NewRouter(deps Deps) http.Handler {
	return build(deps).router
}

func build(deps Deps) *app {
	userRepo := store.NewUserRepository(deps.DB)
	bookRepo := store.NewBookRepository(deps.DB)
	ledger := store.NewInventoryLedger(deps.DB)
	transactionRepo := store.NewTransactionRepository(deps.DB, ledger)
	statsRepo := store.NewStatsRepository(deps.DB)

	events := services.NewEvents(deps.Publisher, deps.Channel)
	userService := services.NewUserService(userRepo)
	bookService := services.NewBookService(bookRepo, deps.Objects)
	transactionService := services.NewTransactionService(transactionRepo, userRepo, bookRepo, ledger, events)
	statsService := services.NewStatsService(statsRepo)

	authHandler := handlers.NewAuthHandler(userService, deps.JWTSecret, deps.TokenTTL)
	authMiddleware := authHandler.RequireAuth

	router := chi.NewRouter()
	router.Use(cors.New(cors.Options{
		AllowedOrigins: deps.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		ExposedHeaders: []string{"X-Total-Count", "X-Request-Id"},
	}).Handler)
	router.Use(middleware.RealIP)
	router.Use(logging.Middleware(deps.Logger)...)
	router.Use(
		middleware.Recoverer,
		middleware.Timeout(60*time.Second),
	)

	router.Get("/healthz", handlers.Healthz)
	router.Route("/auth", func(r chi.Router) {
		handlers.AuthRouter(r, authHandler)
	})
	router.Route("/books", func(r chi.Router) {
		handlers.BookRouter(r, handlers.NewBookHandler(bookService), authMiddleware)
	})
	router.Route("/users", func(r chi.Router) {
		handlers.UserRouter(r, handlers.NewUserHandler(userService), authMiddleware)
	})
	router.Route("/transactions", func(r chi.Router) {
		handlers.TransactionRouter(r, handlers.NewTransactionHandler(transactionService), authMiddleware)
	})
	router.Route("/admin", func(r chi.Router) {
		handlers.AdminRouter(r, handlers.NewAdminHandler(userService, transactionService, statsService), authMiddleware)
	})

	return &app{
		router:       router,
		transactions: transactionService,
		events:       events,
	}
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the scheduler and the HTTP server. It returns
// http.ErrServerClosed after Shutdown.
func (s *Server) Start() error {
	s.scheduler.Start()
	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("listening")
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests and running jobs, then releases the
// broker, object storage and database connections.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.scheduler.Stop(ctx)
	if s.queue != nil {
		if cerr := s.queue.Close(); cerr != nil {
			s.logger.Warn().Err(cerr).Msg("close mq")
		}
	}
	if cerr := s.objects.Close(); cerr != nil {
		s.logger.Warn().Err(cerr).Msg("close storage")
	}
	if s.db != nil {
		if cerr := s.db.Close(); cerr != nil {
			s.logger.Warn().Err(cerr).Msg("close db")
		}
	}
	return err
}

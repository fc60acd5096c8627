package routes

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"vaulttoken/core/runtime"
	"vaulttoken/core/types"
	"vaulttoken/gateway/middleware"
	"vaulttoken/indexer"
)

// Rate limit keys understood by the router.
const (
	RateLimitTx   = "tx"
	RateLimitRead = "read"

	// ScopeTx is required to submit transactions when authentication is on.
	ScopeTx = "tx"
)

// EventSource serves indexed events.
type EventSource interface {
	List(ctx context.Context, filter indexer.Filter) ([]indexer.Entry, error)
}

type Config struct {
	Runtime       *runtime.Runtime
	Token         types.AccountID
	Events        EventSource
	Stream        http.Handler
	Authenticator *middleware.Authenticator
	RateLimiter   *middleware.RateLimiter
	Observability *middleware.Observability
	CORS          middleware.CORSConfig
	AwaitTimeout  time.Duration
	Logger        *slog.Logger
}

// New builds the gateway HTTP handler.
func New(cfg Config) (http.Handler, error) {
	if cfg.Runtime == nil {
		return nil, errors.New("routes: runtime must not be nil")
	}
	if err := cfg.Token.Validate(); err != nil {
		return nil, err
	}
	if cfg.Authenticator == nil {
		cfg.Authenticator = middleware.NewAuthenticator(middleware.AuthConfig{}, cfg.Logger)
	}
	if cfg.AwaitTimeout <= 0 {
		cfg.AwaitTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	h := &handlers{
		rt:      cfg.Runtime,
		token:   cfg.Token,
		events:  cfg.Events,
		timeout: cfg.AwaitTimeout,
		logger:  cfg.Logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.CORS(cfg.CORS))
	obs := cfg.Observability
	if obs != nil {
		r.Use(obs.Middleware)
	}
	limit := func(key string) func(http.Handler) http.Handler {
		if cfg.RateLimiter == nil {
			return func(next http.Handler) http.Handler { return next }
		}
		return cfg.RateLimiter.Middleware(key)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if obs != nil {
		r.Handle("/metrics", obs.MetricsHandler())
	}

	r.Route("/v1", func(v1 chi.Router) {
		v1.Group(func(tx chi.Router) {
			tx.Use(cfg.Authenticator.Middleware(ScopeTx))
			tx.Use(limit(RateLimitTx))
			tx.Post("/tx", h.submit)
		})
		v1.Group(func(read chi.Router) {
			read.Use(limit(RateLimitRead))
			read.Get("/token", h.supply)
			read.Get("/receipts/{id}", h.receipt)
			read.Get("/accounts/{account}/balance", h.balance)
			read.Get("/accounts/{account}/native", h.native)
			read.Get("/accounts/{account}/storage", h.storage)
			read.Get("/vaults/{id}", h.vault)
			read.Get("/events", h.listEvents)
		})
		if cfg.Stream != nil {
			v1.Handle("/events/stream", cfg.Stream)
		}
	})
	return r, nil
}

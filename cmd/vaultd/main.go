package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/holiman/uint256"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"vaulttoken/config"
	"vaulttoken/core/events"
	"vaulttoken/core/genesis"
	"vaulttoken/core/runtime"
	"vaulttoken/core/types"
	"vaulttoken/gateway/middleware"
	"vaulttoken/gateway/routes"
	"vaulttoken/gateway/stream"
	"vaulttoken/indexer"
	"vaulttoken/native/vault"
	"vaulttoken/observability"
	"vaulttoken/observability/logging"
	telemetry "vaulttoken/observability/otel"
	"vaulttoken/storage"
)

const (
	defaultOwner  = types.AccountID("owner")
	shutdownGrace = 10 * time.Second
)

var defaultSupply = uint256.MustFromDecimal("1000000000000000000000000000")

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	genesisFlag := flag.String("genesis", "", "Path to a genesis YAML file (overrides GenesisFile)")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if path := strings.TrimSpace(*genesisFlag); path != "" {
		cfg.GenesisFile = path
	}

	logger, closeLog, err := logging.Setup(cfg.NodeName, cfg.Environment, logging.Options{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "configure logging: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = closeLog() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("vaultd exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: cfg.NodeName,
		Environment: cfg.Environment,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Traces:      cfg.Telemetry.Traces,
		Metrics:     cfg.Telemetry.Metrics,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("telemetry shutdown failed", slog.Any("error", err))
		}
	}()

	db, err := storage.Open(cfg.StorageBackend, cfg.StoragePath())
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer db.Close()

	rt, err := runtime.New(db, cfg.RuntimeConfig())
	if err != nil {
		return fmt.Errorf("init runtime: %w", err)
	}
	rt.SetLogger(logger.With(slog.String("component", "runtime")))

	hub := stream.NewHub(logger.With(slog.String("component", "stream")))
	hub.SetOriginPatterns(cfg.Gateway.AllowedOrigins)
	emitters := events.MultiEmitter{observability.NewMetricsEmitter(nil), hub}

	var eventSource routes.EventSource
	if driver := strings.TrimSpace(cfg.Indexer.Driver); driver != "" {
		store, err := indexer.Open(driver, cfg.IndexerDSN())
		if err != nil {
			return fmt.Errorf("open indexer: %w", err)
		}
		defer func() { _ = store.Close() }()
		store.SetLogger(logger.With(slog.String("component", "indexer")))
		emitters = append(emitters, store)
		eventSource = store
	}
	rt.SetEmitter(emitters)

	token := vault.NewContract(cfg.ContractConfig())
	token.SetLogger(logger.With(slog.String("component", "token")))
	gen, err := loadGenesis(cfg)
	if err != nil {
		return err
	}

	applied, err := genesis.Apply(ctx, rt, gen, token, logger)
	if err != nil {
		return fmt.Errorf("apply genesis: %w", err)
	}
	logger.Info("token ready",
		slog.String("contract", gen.Contract.String()),
		slog.Bool("genesisApplied", applied))

	execCtx, cancelExec := context.WithCancel(context.Background())
	execDone := make(chan error, 1)
	go func() { execDone <- rt.Start(execCtx) }()
	defer func() {
		cancelExec()
		<-execDone
	}()

	handler, err := newHandler(cfg, rt, gen.Contract, eventSource, hub, logger)
	if err != nil {
		return err
	}
	server := &http.Server{
		Addr:              cfg.Gateway.ListenAddress,
		Handler:           handler,
		ReadHeaderTimeout: cfg.Gateway.ReadTimeout,
		ReadTimeout:       cfg.Gateway.ReadTimeout,
		WriteTimeout:      cfg.Gateway.WriteTimeout,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("gateway listening", slog.String("address", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("gateway: %w", err)
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown gateway: %w", err)
	}
	return nil
}

// loadGenesis reads the configured genesis file or falls back to minting the
// default supply to the owner account.
func loadGenesis(cfg *config.Config) (*genesis.Genesis, error) {
	token := types.AccountID(cfg.Token.Account)
	if path := strings.TrimSpace(cfg.GenesisFile); path != "" {
		gen, err := genesis.Load(path)
		if err != nil {
			return nil, err
		}
		if gen.Contract != token {
			return nil, fmt.Errorf("genesis contract %s does not match configured token account %s", gen.Contract, token)
		}
		return gen, nil
	}
	gen := genesis.Default(token, defaultOwner, defaultSupply)
	if err := gen.Validate(); err != nil {
		return nil, err
	}
	return gen, nil
}

func newHandler(cfg *config.Config, rt *runtime.Runtime, token types.AccountID, source routes.EventSource, hub http.Handler, logger *slog.Logger) (http.Handler, error) {
	auth := middleware.NewAuthenticator(middleware.AuthConfig{
		Enabled:    cfg.Gateway.AuthEnabled,
		HMACSecret: cfg.Gateway.HMACSecret,
		Issuer:     cfg.Gateway.Issuer,
		Audience:   cfg.Gateway.Audience,
	}, logger)
	limit := middleware.RateLimit{RatePerSecond: cfg.Gateway.RateLimitPerSec, Burst: cfg.Gateway.RateLimitBurst}
	limiter := middleware.NewRateLimiter(map[string]middleware.RateLimit{
		routes.RateLimitTx:   limit,
		routes.RateLimitRead: {RatePerSecond: limit.RatePerSecond * 5, Burst: limit.Burst * 5},
	}, logger)
	obs := middleware.NewObservability(middleware.ObservabilityConfig{
		ServiceName: cfg.NodeName,
		LogRequests: strings.EqualFold(cfg.Logging.Level, "debug"),
	}, logger)

	router, err := routes.New(routes.Config{
		Runtime:       rt,
		Token:         token,
		Events:        source,
		Stream:        hub,
		Authenticator: auth,
		RateLimiter:   limiter,
		Observability: obs,
		CORS:          middleware.CORSConfig{AllowedOrigins: cfg.Gateway.AllowedOrigins},
		AwaitTimeout:  cfg.Gateway.AwaitTimeout,
		Logger:        logger.With(slog.String("component", "gateway")),
	})
	if err != nil {
		return nil, fmt.Errorf("configure routes: %w", err)
	}
	if cfg.Telemetry.Traces {
		return otelhttp.NewHandler(router, "gateway"), nil
	}
	return router, nil
}

/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the credit ledger server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags, load configuration
  2. Initialize logger
  3. Open store (sqlite3 or postgres)
  4. Build cache, executor and event publisher from config
  5. Create engine, account service, API handler and router
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  Path to a YAML config file (default: ./config.yaml if present)
  -port    HTTP server port, overrides server.port

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the cache janitor, drain NATS, close Redis and the database
  4. Exit

EXAMPLES:
  # Run with defaults (sqlite file, memory cache, local executor)
  CREDIT_JWT_SECRET=dev ./server

  # Run against postgres, redis and a lambda executor
  ./server -config=/etc/credit/config.yaml

SEE ALSO:
  - config/config.go: Configuration keys and defaults
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/warp/credit-ledger/account"
	"github.com/warp/credit-ledger/api"
	"github.com/warp/credit-ledger/cache"
	"github.com/warp/credit-ledger/config"
	"github.com/warp/credit-ledger/credit"
	"github.com/warp/credit-ledger/events"
	"github.com/warp/credit-ledger/executor"
	"github.com/warp/credit-ledger/logging"
	"github.com/warp/credit-ledger/store/sqlstore"
)

func main() {
	// Flags
	configPath := flag.String("config", "", "Path to YAML config file")
	port := flag.Int("port", 0, "HTTP server port (overrides server.port)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}

	log := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)

	// Initialize store
	if cfg.Database.Driver == sqlstore.DriverSQLite && !strings.HasPrefix(cfg.Database.DSN, ":memory:") {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.DSN), 0o755); err != nil {
			log.Fatal().Err(err).Msg("failed to create database directory")
		}
	}
	store, err := sqlstore.New(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Database.Driver).Msg("failed to initialize database")
	}
	defer store.Close()

	ctx := context.Background()
	var cleanups []func()

	// Cache
	engineOpts := []credit.EngineOption{
		credit.WithLogger(log),
		credit.WithWriteTimeout(cfg.Ledger.WriteTimeout),
	}
	switch cfg.Cache.Backend {
	case config.CacheMemory:
		mem := cache.NewMemory(cfg.Cache.TTL)
		janitor := cache.NewJanitor(mem, cfg.Cache.SweepInterval, log)
		janitor.Start()
		cleanups = append(cleanups, janitor.Stop)
		engineOpts = append(engineOpts, credit.WithCache(mem))
	case config.CacheRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis unreachable, reads will bypass the cache until it recovers")
		}
		cancel()
		cleanups = append(cleanups, func() { rdb.Close() })
		engineOpts = append(engineOpts, credit.WithCache(cache.NewRedis(rdb, cfg.Cache.TTL, log)))
	}

	// Executor
	exec, err := newExecutor(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Str("mode", cfg.Executor.Mode).Msg("failed to initialize executor")
	}

	// Events
	if cfg.NATS.URL != "" {
		pub, err := events.Connect(cfg.NATS.URL, cfg.NATS.SubjectPrefix, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to nats")
		}
		cleanups = append(cleanups, func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := pub.Close(closeCtx); err != nil {
				log.Warn().Err(err).Msg("nats drain failed")
			}
		})
		engineOpts = append(engineOpts, credit.WithPublisher(pub))
	}

	engine := credit.NewEngine(store, exec, engineOpts...)
	accounts := account.NewService(store,
		account.NewTokens(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.TokenTTL()),
		cfg.Security.BcryptCost, log)

	// Initialize handler and router
	handler := api.NewHandler(engine, accounts)
	handler.Health = store
	router := api.NewRouter(handler, api.RouterOptions{
		Logger:         log,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().
			Int("port", cfg.Server.Port).
			Str("database", cfg.Database.Driver).
			Str("cache", cfg.Cache.Backend).
			Str("executor", cfg.Executor.Mode).
			Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	for i := len(cleanups) - 1; i >= 0; i-- {
		cleanups[i]()
	}

	log.Info().Msg("server stopped")
}

func newExecutor(ctx context.Context, cfg *config.Config, log zerolog.Logger) (credit.Executor, error) {
	switch cfg.Executor.Mode {
	case config.ExecutorHTTP:
		client := &http.Client{Timeout: cfg.Executor.Timeout}
		return executor.NewHTTP(cfg.Executor.URL, client, cfg.Executor.Timeout, log), nil
	case config.ExecutorLambda:
		return executor.NewLambdaFromEnv(ctx, cfg.Lambda.Region, cfg.Lambda.Function, cfg.Executor.Timeout, log)
	case config.ExecutorLocal:
		return executor.NewLocal(), nil
	}
	return nil, fmt.Errorf("unsupported executor mode %q", cfg.Executor.Mode)
}

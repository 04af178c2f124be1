package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"

	"github.com/atmx/escrow-engine/internal/api"
	"github.com/atmx/escrow-engine/internal/audit"
	"github.com/atmx/escrow-engine/internal/config"
	"github.com/atmx/escrow-engine/internal/metrics"
	"github.com/atmx/escrow-engine/internal/notify"
	"github.com/atmx/escrow-engine/internal/store"
	"github.com/atmx/escrow-engine/internal/txn"
)

func main() {
	app := &cli.App{
		Name:   "escrow-engine",
		Usage:  "asset ledger with auction and exchange escrow",
		Flags:  config.Flags(),
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		slog.Error("escrow-engine failed", "err", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.FromContext(c)
	if err != nil {
		return err
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var cleanup []func()
	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()

	// --- Initialize store ---
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	cleanup = append(cleanup, func() { st.Close() })

	// Wrap with a read-through cache if configured.
	switch {
	case cfg.RedisURL != "":
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("invalid redis_url: %w", err)
		}
		rdb := redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		st = store.NewCachedStore(st, store.NewRedisCache(rdb, cfg.CacheTTL))
		slog.Info("Redis cache enabled", "ttl", cfg.CacheTTL)
	case cfg.LocalCache:
		lc, err := store.NewLocalCache(ctx, cfg.CacheTTL)
		if err != nil {
			return fmt.Errorf("local cache: %w", err)
		}
		cleanup = append(cleanup, func() { lc.Close() })
		st = store.NewCachedStore(st, lc)
		slog.Info("local cache enabled", "ttl", cfg.CacheTTL)
	}

	// --- Event sinks ---
	wsHub := notify.NewWSHub()
	go wsHub.Run(ctx)
	sinks := notify.Multi{wsHub, notify.LogSink{}}
	if cfg.KafkaBrokers != "" {
		ks := notify.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic)
		cleanup = append(cleanup, func() { ks.Close() })
		sinks = append(sinks, ks)
		slog.Info("kafka event stream enabled", "topic", cfg.KafkaTopic)
	}

	runner := txn.NewRunner(st, sinks)

	// --- Conservation audit ---
	auditor := audit.New(st, cfg.AuditInterval)
	if err := auditor.Start(); err != nil {
		return fmt.Errorf("audit: %w", err)
	}
	cleanup = append(cleanup, auditor.Stop)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	if cfg.RateLimit != "" {
		limit, err := api.RateLimit(cfg.RateLimit)
		if err != nil {
			return fmt.Errorf("rate limit: %w", err)
		}
		r.Use(limit)
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"escrow-engine"}`))
	})
	r.Handle("/metrics", metrics.Handler())
	r.Route("/api/v1", api.NewHandler(runner, wsHub).Routes)

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		slog.Info("escrow-engine listening", "port", cfg.Port, "store", cfg.StoreKind())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down escrow-engine...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	return nil
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.StoreKind() {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("database connection failed: %w", err)
		}
		pg := store.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		slog.Info("connected to PostgreSQL")
		return pg, nil
	case "bolt":
		bs, err := store.NewBoltStore(cfg.BoltPath)
		if err != nil {
			return nil, err
		}
		slog.Info("opened bolt store", "dir", cfg.BoltPath)
		return bs, nil
	default:
		slog.Warn("no database configured, using in-memory store (data will not persist)")
		return store.NewMemoryStore(), nil
	}
}

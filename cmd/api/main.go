package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/druckerapp/drucker/internal/config"
	"github.com/druckerapp/drucker/internal/db"
	httpx "github.com/druckerapp/drucker/internal/http"
	"github.com/druckerapp/drucker/internal/observability"
	"github.com/druckerapp/drucker/internal/redisclient"
	"github.com/druckerapp/drucker/internal/repo/postgres"
)

func main() {
	// Load the config set up
	cfg := config.Load()

	// structured logger with trace correlation, installed as the default
	log := observability.NewLogger(cfg.Env)
	slog.SetDefault(log)

	// tracing (optional; skipped when no endpoint is configured)
	if cfg.OTLPEndpoint != "" {
		shutdownTracer, err := observability.InitTracer(context.Background(), "drucker-api", cfg.OTLPEndpoint)

		if err != nil {
			log.Error("tracer init failed", "err", err)
		} else {
			defer func() {
				ctx, cancel := config.WithTimeout(5 * time.Second)
				defer cancel()
				_ = shutdownTracer(ctx)
			}()
		}
	}

	pool, err := db.NewPool(cfg.DBURL)

	if err != nil {
		log.Error("db connect failed", "err", err)
		os.Exit(1)
	}

	defer pool.Close()

	rdb := redisclient.New(redisclient.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	defer func() { _ = rdb.Close() }()

	// Seed the super-admin once at startup; login and the admin dashboard
	// re-run the reconciliation on every request.
	{
		ctx, cancel := config.WithTimeout(5 * time.Second)
		usersRepo := postgres.NewUsersRepo(pool, nil)

		if err := db.EnsureSuperAdmin(ctx, usersRepo, cfg); err != nil {
			log.Error("super-admin seed failed", "err", err)
		}
		cancel()
	}

	router := httpx.NewRouter(pool, rdb, cfg)

	// server set up
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("Server starting", "port", cfg.Port, "env", cfg.Env)
		err := srv.ListenAndServe()

		if err != nil && err != http.ErrServerClosed {
			log.Error("server failed", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Info("server shutting down")

	shutdownCh := make(chan struct{})

	go func() {
		defer close(shutdownCh)

		ctx, cancel := config.WithTimeout(10 * time.Second)

		defer cancel()

		err := srv.Shutdown(ctx)

		if err != nil {
			log.Error("graceful shutdown failed", "err", err)

			return
		}
	}()

	select {
	case <-shutdownCh:
		log.Info("shutdown complete")

	case <-time.After(12 * time.Second):
		log.Error("shutdown timed out")
	}
}

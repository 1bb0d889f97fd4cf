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

	"github.com/geocoder89/progresshub/internal/auth"
	"github.com/geocoder89/progresshub/internal/config"
	"github.com/geocoder89/progresshub/internal/db"
	httpx "github.com/geocoder89/progresshub/internal/http"
	"github.com/geocoder89/progresshub/internal/http/handlers"
	"github.com/geocoder89/progresshub/internal/observability"
	"github.com/geocoder89/progresshub/internal/ratelimit"
	"github.com/geocoder89/progresshub/internal/redisclient"
	"github.com/geocoder89/progresshub/internal/repo/memory"
	"github.com/geocoder89/progresshub/internal/repo/postgres"
	"github.com/geocoder89/progresshub/internal/security"
	"github.com/geocoder89/progresshub/internal/service/accounts"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "progresshub:", err)
		os.Exit(1)
	}
}

func run() error {
	// Load the config set up; refuses to start without a signing secret
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log := observability.NewLogger(cfg.Env)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := observability.InitTracer(ctx, "progresshub-api", cfg.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer func() {
		sctx, cancel := config.WithTimeout(5 * time.Second)
		defer cancel()
		_ = shutdownTracer(sctx)
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	prom := observability.NewProm(reg)

	var (
		users   accounts.Store
		reports handlers.ReportStore
		checks  []handlers.Check
	)

	switch cfg.Storage {
	case "memory":
		log.Warn("using in-memory storage; data is lost on restart")
		users = memory.NewUsersRepo()
		reports = memory.NewReportsRepo()
	default:
		pool, err := db.NewPool(ctx, cfg.DBURL, 10)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pool.Close()

		if err := db.Migrate(ctx, pool); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}

		users = postgres.NewUsersRepo(pool, prom)
		reports = postgres.NewReportsRepo(pool, prom)
		checks = append(checks, handlers.Check{Name: "postgres", Ping: pool.Ping})
	}

	tokens, err := auth.NewManager(cfg.JWTSecret, cfg.JWTExpiresIn)
	if err != nil {
		return fmt.Errorf("token manager: %w", err)
	}

	svc := accounts.NewService(users, security.NewHasher(cfg.BcryptCost, cfg.HashConcurrency), log)

	seedCtx, cancelSeed := context.WithTimeout(ctx, 10*time.Second)
	err = svc.EnsureAdmin(seedCtx, cfg.AdminName, cfg.AdminEmail, cfg.AdminPassword)
	cancelSeed()
	if err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}

	var limiter ratelimit.Limiter = ratelimit.NewMemory(cfg.AuthRateLimit, cfg.AuthRateWindow)

	if cfg.RedisAddr != "" {
		rc, err := redisclient.Connect(ctx, redisclient.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			// limits stay per instance until redis comes back and we restart
			log.Error("redis unavailable, rate limiting in process only", "err", err)
		} else {
			defer rc.Close()

			limiter = ratelimit.NewFallback(ratelimit.NewRedis(rc.Raw(), cfg.AuthRateLimit, cfg.AuthRateWindow), limiter, log)
			checks = append(checks, handlers.Check{Name: "redis", Ping: rc.Ping})
		}
	}

	router := httpx.NewRouter(log, cfg, httpx.Deps{
		Accounts: svc,
		Tokens:   tokens,
		Reports:  reports,
		Limiter:  limiter,
		Prom:     prom,
		Gatherer: reg,
		Checks:   checks,
	})

	srv := httpx.NewServer(fmt.Sprintf(":%d", cfg.Port), router)

	serveErr := make(chan error, 1)

	go func() {
		log.Info("Server starting", "port", cfg.Port, "env", cfg.Env, "storage", cfg.Storage)
		err := srv.ListenAndServe()

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Graceful shutdown
	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("server shutting down")

	sctx, cancel := config.WithTimeout(10 * time.Second)
	defer cancel()

	if err := srv.Shutdown(sctx); err != nil {
		log.Error("graceful shutdown failed", "err", err)
		return err
	}

	log.Info("shutdown complete")

	return nil
}

package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"

	"github.com/farmpulse/farmpulse/internal/broadcast"
	"github.com/farmpulse/farmpulse/internal/config"
	"github.com/farmpulse/farmpulse/internal/database"
	"github.com/farmpulse/farmpulse/internal/logging"
	"github.com/farmpulse/farmpulse/internal/ratelimit"
	"github.com/farmpulse/farmpulse/internal/redis"
	"github.com/farmpulse/farmpulse/internal/registry"
	"github.com/farmpulse/farmpulse/internal/server"
	"github.com/farmpulse/farmpulse/internal/tier"
)

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupDB(cfg *config.Config) *pgxpool.Pool {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}

	if err := database.RunMigrations(ctx, pool); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	return pool
}

func setupRedis(cfg *config.Config) *goredis.Client {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := redis.NewClient(ctx, cfg.RedisURL)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return client
}

func runGracefulShutdown(srv *server.Server, reg *registry.Registry, monitor *registry.HeartbeatMonitor, recorder *ratelimit.Recorder) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		monitor.Stop()
		reg.Stop()
		if recorder != nil {
			recorder.Stop()
		}

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port)

	// Postgres backs tier storage and usage auditing. Without it the
	// service runs on the static resolver and drops usage samples.
	var pool *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		pool = setupDB(cfg)
		defer pool.Close()
	}

	var redisClient *goredis.Client
	if cfg.RedisURL != "" {
		redisClient = setupRedis(cfg)
		defer func() { _ = redisClient.Close() }()
	}

	quotas, err := ratelimit.NewQuotas(cfg.RateLimitWindow, cfg.TierDefaults, cfg.EndpointOverrides)
	if err != nil {
		slog.Error("Invalid rate limit configuration", "error", err)
		os.Exit(1)
	}

	var tierStore tier.Store
	if pool != nil {
		tierStore = database.NewTierRepo(pool)
	} else {
		slog.Warn("DATABASE_URL not set, using static tier store (all users free)")
		tierStore = tier.NewStaticStore(nil)
	}

	// Cache tier lookups for 30 seconds so a hot producer does not hit
	// Postgres on every request.
	tiers := tier.NewService(tierStore, clock, 30*time.Second)
	stopEviction := tiers.StartEvictionTimer(1 * time.Minute)
	defer stopEviction()

	var store ratelimit.Store
	if redisClient != nil {
		store = ratelimit.NewRedisStore(redisClient, clock)
	} else {
		slog.Warn("REDIS_URL not set, rate limit counters are per-instance only")
		memStore := ratelimit.NewMemoryStore(clock)
		stopCleanup := memStore.StartCleanupTimer(cfg.RateLimitWindow)
		defer stopCleanup()
		store = memStore
	}

	var recorder *ratelimit.Recorder
	if pool != nil {
		recorder = ratelimit.NewRecorder(database.NewUsageRepo(pool), cfg.UsageBufferSize)
	}

	limiter := ratelimit.NewLimiter(tiers, store, quotas, recorder, clock)

	reg := registry.NewRegistry(clock, cfg.MaxConnsPerUser)
	monitor := registry.NewHeartbeatMonitor(reg, clock, cfg.HeartbeatInterval, cfg.HeartbeatTimeout)
	monitor.Start()

	dispatcher := broadcast.NewDispatcher(reg, clock)

	srv := server.NewServer(cfg, reg, dispatcher, limiter, tiers, clock, pool, redisClient)

	done := runGracefulShutdown(srv, reg, monitor, recorder)

	slog.Info("Server starting", "port", cfg.Port)
	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}

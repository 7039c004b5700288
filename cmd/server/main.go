package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/database"
	"github.com/stemsi/exstem-session/internal/events"
	"github.com/stemsi/exstem-session/internal/handler"
	"github.com/stemsi/exstem-session/internal/lock"
	"github.com/stemsi/exstem-session/internal/logger"
	"github.com/stemsi/exstem-session/internal/observability"
	"github.com/stemsi/exstem-session/internal/repository"
	"github.com/stemsi/exstem-session/internal/router"
	"github.com/stemsi/exstem-session/internal/service"
	"github.com/stemsi/exstem-session/internal/validator"
	"github.com/stemsi/exstem-session/internal/worker"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Str("lock_backend", cfg.LockBackend).
		Msg("Starting ExStem Session Engine")

	// ─── Initialize Validator & Metrics ────────────────────────────────
	validator.Setup()
	observability.RegisterMetrics()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Event Sinks ───────────────────────────────────────────────────
	publishers := events.Multi{events.NewRedisPublisher(rdb)}
	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL, nats.Name("exstem-session"))
		if err != nil {
			log.Warn().Err(err).Msg("NATS unavailable, events go to Redis only")
		} else {
			defer nc.Drain()
			publishers = append(publishers, events.NewNATSPublisher(nc, ""))
			log.Info().Str("url", cfg.NATSURL).Msg("NATS connected")
		}
	}

	// ─── Initialize Repositories ───────────────────────────────────────
	examRepo := repository.NewExamRepository(pool)
	sessionRepo := repository.NewExamSessionRepository(pool)
	sessionStore := repository.NewRedisSessionStore(rdb, sessionRepo, log)

	// ─── Initialize Services ──────────────────────────────────────────
	authService := service.NewAuthService(cfg)
	catalog := service.NewExamCatalog(examRepo, rdb, log)
	regradeQueue := worker.NewRegradeQueue(rdb)

	engine := service.NewSessionEngine(service.Dependencies{
		Store:        sessionStore,
		Locker:       newLocker(cfg, rdb, log),
		Exams:        catalog,
		Passwords:    authService,
		Events:       publishers,
		Regrade:      regradeQueue,
		Overdue:      sessionRepo,
		RetryBackoff: cfg.LockRetryBackoff,
		SweepBatch:   cfg.SweepBatchSize,
		Log:          log,
	})

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		StudentPortal: handler.NewStudentPortalHandler(engine),
		Grading:       handler.NewGradingHandler(engine),
		WS:            handler.NewWSHandler(rdb, engine, log, cfg.AllowedOrigins),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	var workers sync.WaitGroup

	run := func(start func(context.Context)) {
		workers.Add(1)
		go func() {
			defer workers.Done()
			start(workerCtx)
		}()
	}
	run(worker.NewSessionPersistWorker(rdb, sessionStore, sessionRepo, log).Start)
	run(worker.NewRegradeWorker(rdb, engine, log).Start)
	run(worker.NewDeadlineSweeper(engine, cfg.SweepInterval, log).Start)

	// ─── Prewarm Exam Snapshots ───────────────────────────────────────
	// Snapshot every published exam BEFORE accepting traffic so the
	// first authentication wave does not stampede PostgreSQL.
	if err := catalog.PrewarmAll(ctx, examRepo); err != nil {
		log.Warn().Err(err).Msg("Snapshot prewarm failed")
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, handlers, cfg, log)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop background workers and wait for the persist queue to drain.
	workerCancel()
	drained := make(chan struct{})
	go func() {
		workers.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(10 * time.Second):
		log.Warn().Msg("Workers did not stop in time")
	}

	log.Info().Msg("Shutdown complete")
}

// newLocker picks the per-session lock implementation. The local locker only
// serializes within this process, so it is meant for single-node deployments.
func newLocker(cfg *config.Config, rdb *redis.Client, log zerolog.Logger) lock.Locker {
	opts := lock.Options{Wait: cfg.LockWait, TTL: cfg.LockTTL}
	if cfg.LockBackend == "local" {
		log.Warn().Msg("Using in-process session locks; run a single instance only")
		return lock.NewLocalLocker(opts)
	}
	return lock.NewRedisLocker(rdb, opts, log)
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}

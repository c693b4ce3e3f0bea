package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/clock"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/database"
	"github.com/stemsi/exstem-proctor/internal/handler"
	"github.com/stemsi/exstem-proctor/internal/logger"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/notification"
	"github.com/stemsi/exstem-proctor/internal/repository"
	"github.com/stemsi/exstem-proctor/internal/repository/memstore"
	"github.com/stemsi/exstem-proctor/internal/router"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/validator"
	"github.com/stemsi/exstem-proctor/internal/worker"
)

// backend is everything that differs between the store drivers.
type backend struct {
	deps     service.Deps
	feed     handler.MonitorFeed
	checks   map[string]handler.HealthCheck
	workers  []func(ctx context.Context)
	shutdown func()
	demo     *memstore.Seeded
}

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("Invalid configuration")
	}

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("store_driver", cfg.StoreDriver).
		Str("log_level", cfg.LogLevel).
		Msg("Starting ExStem Proctor")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Wire Storage ──────────────────────────────────────────────────
	clk := clock.Real{}
	var be *backend
	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		be, err = memoryBackend(cfg, clk, log)
	default:
		be, err = postgresBackend(ctx, cfg, clk, log)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize storage")
	}
	defer be.shutdown()

	// ─── Initialize Services ──────────────────────────────────────────
	authService := service.NewAuthService(cfg)
	sessionService := service.NewExamSessionService(be.deps, cfg.Proctor.Policy(), log)

	limiter := middleware.NewRateLimiter(cfg.EventRatePerSecond, cfg.EventRateBurst)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		StudentPortal: handler.NewStudentPortalHandler(sessionService, log),
		Grading:       handler.NewGradingHandler(sessionService, log),
		WS:            handler.NewWSHandler(sessionService, limiter, cfg.RequestTimeout, log, cfg.AllowedOrigins),
		Monitor:       handler.NewMonitorHandler(sessionService, be.feed, log),
		Health:        handler.NewHealthHandler(be.checks, log),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())

	limiter.StartCleanup(workerCtx)

	deadlineWorker := worker.NewDeadlineWorker(sessionService, cfg.DeadlineSweepInterval, cfg.DeadlineSweepBatch, log)
	go deadlineWorker.Start(workerCtx)

	for _, start := range be.workers {
		go start(workerCtx)
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, limiter, handlers, cfg)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
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

	// 2. Stop background workers. In-flight deliveries finish or are
	// released back to the outbox.
	workerCancel()
	time.Sleep(2 * time.Second)

	log.Info().Msg("Shutdown complete")
}

// postgresBackend wires the pgx repositories, the Redis monitor channel and
// the notification outbox.
func postgresBackend(ctx context.Context, cfg *config.Config, clk clock.Clock, log zerolog.Logger) (*backend, error) {
	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		pool.Close()
		return nil, err
	}

	// ─── Initialize Repositories ───────────────────────────────────────
	sessionRepo := repository.NewExamSessionRepository(pool)
	eventRepo := repository.NewProctorEventRepository(pool)
	examRepo := repository.NewExamRepository(pool)
	enrollmentRepo := repository.NewEnrollmentRepository(pool)
	outboxRepo := repository.NewNotificationRepository(pool)
	monitorRepo := repository.NewMonitorRepository(rdb)

	dispatcher := notification.NewOutboxDispatcher(outboxRepo, rdb, clk.Now, log)
	notificationWorker := worker.NewNotificationWorker(
		outboxRepo, rdb, notification.NewRedisSender(rdb),
		cfg.NotificationMaxAttempts, cfg.NotificationStaleAfter, log,
	)

	return &backend{
		deps: service.Deps{
			Sessions:    sessionRepo,
			Events:      eventRepo,
			Exams:       examRepo,
			Enrollments: enrollmentRepo,
			Dispatcher:  dispatcher,
			Monitor:     monitorRepo,
			Clock:       clk,
		},
		feed:    monitorRepo,
		checks:  healthChecks(pool, rdb),
		workers: []func(ctx context.Context){notificationWorker.Start},
		shutdown: func() {
			rdb.Close()
			pool.Close()
		},
	}, nil
}

// memoryBackend runs the engine without Postgres or Redis, preloaded with
// the demo exam from DEMO_SEED_FILE or the built-in default. State is lost
// on exit; use cmd/seed-exam against a real database for anything durable.
func memoryBackend(cfg *config.Config, clk clock.Clock, log zerolog.Logger) (*backend, error) {
	seed := memstore.DefaultSeed()
	if cfg.DemoSeedFile != "" {
		var err error
		if seed, err = memstore.LoadSeed(cfg.DemoSeedFile); err != nil {
			return nil, err
		}
	}
	if _, err := cfg.Proctor.Policy().Resolve(seed.ProctorPolicy); err != nil {
		return nil, fmt.Errorf("demo seed: %w", err)
	}

	store := memstore.New()
	seeded, err := store.Apply(seed, clk.Now())
	if err != nil {
		return nil, fmt.Errorf("demo seed: %w", err)
	}
	hub := memstore.NewMonitorHub()

	log.Warn().Msg("Using in-memory store; all data is lost on shutdown")
	questionIDs := make([]string, 0, len(seeded.Questions))
	for _, q := range seeded.Questions {
		questionIDs = append(questionIDs, q.ID.String())
	}
	log.Info().
		Str("exam_id", seeded.Exam.ID.String()).
		Str("title", seeded.Exam.Title).
		Int("course_id", seeded.Exam.CourseID).
		Ints("students", seed.Students).
		Strs("question_ids", questionIDs).
		Msg("Demo exam seeded")

	return &backend{
		deps: service.Deps{
			Sessions:    store,
			Events:      store,
			Exams:       store,
			Enrollments: store,
			Dispatcher:  notification.NewMemoryDispatcher(notification.NewLogSender(log), clk.Now, log),
			Monitor:     hub,
			Clock:       clk,
		},
		feed:     hub,
		shutdown: func() {},
		demo:     seeded,
	}, nil
}

func healthChecks(pool *pgxpool.Pool, rdb *redis.Client) map[string]handler.HealthCheck {
	return map[string]handler.HealthCheck{
		"postgres": pool.Ping,
		"redis": func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		},
	}
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}

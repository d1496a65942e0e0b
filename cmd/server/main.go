package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exchange-allocator/internal/config"
	"github.com/stemsi/exchange-allocator/internal/database"
	"github.com/stemsi/exchange-allocator/internal/handler"
	"github.com/stemsi/exchange-allocator/internal/logger"
	"github.com/stemsi/exchange-allocator/internal/repository"
	"github.com/stemsi/exchange-allocator/internal/router"
	"github.com/stemsi/exchange-allocator/internal/scoring"
	"github.com/stemsi/exchange-allocator/internal/service"
	"github.com/stemsi/exchange-allocator/internal/solver"
	"github.com/stemsi/exchange-allocator/internal/validator"
	"github.com/stemsi/exchange-allocator/internal/worker"
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
		Str("solver", cfg.SolverBackend).
		Msg("Starting Exchange Allocator")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Scoring Profile ───────────────────────────────────────────────
	profile, err := scoring.LoadProfile(cfg.ScoringProfile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load scoring profile")
	}

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	if cfg.AutoMigrate {
		if err := database.RunMigrations(cfg.DatabaseURL, log); err != nil {
			log.Fatal().Err(err).Msg("Failed to apply migrations")
		}
	}

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Initialize Repositories ───────────────────────────────────────
	adminRepo := repository.NewAdminRepository(pool)
	roleRepo := repository.NewRoleRepository(pool)
	runRepo := repository.NewRunRepository(pool)

	// ─── Initialize Services ──────────────────────────────────────────
	authService := service.NewAuthService(cfg, rdb)
	adminService := service.NewAdminService(adminRepo, roleRepo)
	runQueue := service.NewRedisRunQueue(rdb, cfg.ResultTTL)
	allocationService := service.NewAllocationService(runRepo, runQueue, cfg, profile, log)

	probes := map[string]handler.Probe{
		"postgres": pool.Ping,
		"redis":    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
	}

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Auth:       handler.NewAuthHandler(authService, adminService),
		Allocation: handler.NewAllocationHandler(allocationService, cfg.MaxUploadBytes),
		AdminUser:  handler.NewAdminUserHandler(adminService, authService),
		WS:         handler.NewWSHandler(allocationService, runQueue, log, cfg.AllowedOrigins),
		Monitor:    handler.NewMonitorHandler(allocationService, runQueue, log),
		System:     handler.NewSystemHandler(runQueue, probes, solver.NewHiGHS(cfg.HighsPath, log).Available, log),
	}

	// ─── Start Background Worker ──────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	workerDone := make(chan struct{})

	allocationWorker := worker.NewAllocationWorker(allocationService, rdb, log)
	go func() {
		defer close(workerDone)
		allocationWorker.Start(workerCtx)
	}()

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(ctx, authService, handlers, cfg, log)

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

	// 2. Stop the worker. A run in flight is cancelled and marked failed.
	workerCancel()
	select {
	case <-workerDone:
	case <-time.After(10 * time.Second):
		log.Warn().Msg("Allocation worker did not stop in time")
	}

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}

package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/iago/json2excel-back/internal/config"
	httpserver "github.com/iago/json2excel-back/internal/http"
	"github.com/iago/json2excel-back/internal/http/handlers"
	"github.com/iago/json2excel-back/internal/http/middleware"
	"github.com/iago/json2excel-back/internal/metrics"
	"github.com/iago/json2excel-back/internal/notify"
	"github.com/iago/json2excel-back/internal/queue"
	"github.com/iago/json2excel-back/internal/repository"
	"github.com/iago/json2excel-back/internal/service"
	"github.com/iago/json2excel-back/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	logger := log.New(os.Stdout, "[json2excel] ", log.LstdFlags|log.LUTC|log.Lmicroseconds)
	if err := config.LoadDotEnv(".env", ".env.local"); err != nil {
		logger.Printf("failed loading .env files: %v", err)
	}
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, repoCloser := setupRepository(ctx, cfg, logger)
	defer repoCloser()

	jobQueue, queueCloser := setupQueue(ctx, cfg, logger)
	defer queueCloser()

	uploads, err := storage.NewFileStore(cfg.UploadDir, cfg.MaxUploadBytes(), logger)
	if err != nil {
		logger.Fatalf("failed to prepare upload dir: %v", err)
	}
	conversions, err := service.NewConversionService(repo, nil, cfg.OutputDir, logger)
	if err != nil {
		logger.Fatalf("failed to prepare output dir: %v", err)
	}

	recorder, err := metrics.New(prometheus.DefaultRegisterer)
	if err != nil {
		logger.Fatalf("failed to register metrics: %v", err)
	}
	hub := notify.NewHub(cfg.CORSAllowedOrigins, logger)
	defer hub.Close()

	manager, err := service.NewJobManager(service.JobManagerDeps{
		Repo:      repo,
		Queue:     jobQueue,
		Uploads:   uploads,
		Options:   conversions,
		Executor:  conversions,
		Artifacts: conversions,
		Metrics:   recorder,
		Notifier:  hub,
		Logger:    logger,
	}, service.JobManagerConfig{
		MaxActiveJobs:   cfg.MaxActiveJobs,
		JobTimeout:      cfg.JobTimeout(),
		PollInterval:    cfg.WorkerPollInterval(),
		IdleDelay:       cfg.WorkerIdleDelay(),
		Retention:       cfg.JobRetention(),
		CleanupInterval: cfg.CleanupInterval(),
	})
	if err != nil {
		logger.Fatalf("failed to build job manager: %v", err)
	}

	if cfg.WorkerEnabled {
		manager.Start()
		logger.Printf("worker enabled and started max_active_jobs=%d", cfg.MaxActiveJobs)
	} else {
		logger.Printf("worker disabled by configuration")
	}
	defer manager.Stop()

	handler := httpserver.NewRouter(httpserver.RouterDependencies{
		API:         handlers.NewAPI(manager, uploads, logger),
		Logger:      logger,
		AuthToken:   cfg.AuthToken,
		CORSOrigins: cfg.CORSAllowedOrigins,
		RateLimiter: middleware.NewRateLimiter(ctx, cfg.RateLimitRPS, cfg.RateLimitBurst),
		Metrics:     promhttp.Handler(),
		Updates:     hub,
	})

	// WriteTimeout stays generous: downloads stream whole workbooks.
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadTimeout:       time.Minute,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Printf("api listening on :%s", cfg.Port)
		errChan <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Printf("shutdown signal received")
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("server failed: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
}

func setupRepository(
	ctx context.Context,
	cfg config.Config,
	logger *log.Logger,
) (repository.JobsRepository, func()) {
	if cfg.DatabaseURL == "" {
		logger.Printf("DATABASE_URL not configured, using in-memory repository")
		return repository.NewMemoryJobsRepository(), func() {}
	}

	pgRepo, err := repository.NewPostgresJobsRepository(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Printf("failed to initialize postgres repository, fallback to memory: %v", err)
		return repository.NewMemoryJobsRepository(), func() {}
	}
	if err := pgRepo.EnsureSchema(ctx); err != nil {
		pgRepo.Close()
		logger.Printf("failed to prepare postgres schema, fallback to memory: %v", err)
		return repository.NewMemoryJobsRepository(), func() {}
	}
	logger.Printf("postgres repository initialized")
	return pgRepo, func() {
		pgRepo.Close()
	}
}

func setupQueue(
	ctx context.Context,
	cfg config.Config,
	logger *log.Logger,
) (queue.JobQueue, func()) {
	if cfg.RedisAddr == "" {
		logger.Printf("REDIS_ADDR not configured, using local queue")
		return queue.NewLocalQueue(cfg.MaxActiveJobs, logger), func() {}
	}

	redisQueue, err := queue.NewRedisQueue(ctx, queue.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		Key:      cfg.RedisQueueKey,
		Capacity: cfg.MaxActiveJobs,
	})
	if err != nil {
		logger.Printf("failed to initialize redis queue, fallback to local: %v", err)
		return queue.NewLocalQueue(cfg.MaxActiveJobs, logger), func() {}
	}
	logger.Printf("redis queue initialized key=%s", cfg.RedisQueueKey)
	return redisQueue, func() {
		_ = redisQueue.Close()
	}
}

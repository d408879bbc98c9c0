// File: cmd/app/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"

	"conversation-analysis/internal/config"
	"conversation-analysis/internal/domain/ports/repository"
	ucport "conversation-analysis/internal/domain/ports/usecase"
	aiAdapters "conversation-analysis/internal/infra/adapters/ai"
	"conversation-analysis/internal/infra/api"
	"conversation-analysis/internal/infra/db/memory"
	pg "conversation-analysis/internal/infra/db/postgres"
	"conversation-analysis/internal/infra/logging"
	"conversation-analysis/internal/infra/metrics"
	red "conversation-analysis/internal/infra/redis"
	"conversation-analysis/internal/infra/sched"
	"conversation-analysis/internal/infra/security"
	"conversation-analysis/internal/infra/worker"
	"conversation-analysis/internal/usecase"
)

// set with -ldflags "-X main.version=... -X main.commit=..."
var (
	version = "dev"
	commit  = "none"
)

func main() {
	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (mock provider, header auth, in-memory store)")
	migrate := flag.Bool("migrate", false, "apply the database schema on startup")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Logging & metrics ----
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("[DEV MODE] enabled")
	}
	checks := map[string]api.HealthCheck{}

	// ---- Storage ----
	var (
		jobRepo   repository.JobRepository
		errorRepo repository.ErrorEventRepository
		actRepo   repository.ActivityRepository
		pool      *pgxpool.Pool
	)
	if cfg.Database.URL == "" {
		logger.Warn().Msg("database.url not set, using in-memory store")
		jobRepo = memory.NewJobRepo()
		errorRepo = memory.NewErrorEventRepo()
		actRepo = memory.NewActivityRepo()
	} else {
		pool, err = pg.NewPgxPool(ctx, cfg.Database)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres")
		}
		defer pool.Close()
		if *migrate {
			if err := pg.ApplySchema(ctx, pool); err != nil {
				logger.Fatal().Err(err).Msg("apply schema")
			}
			logger.Info().Msg("schema applied")
		}
		jobRepo = pg.NewJobRepo(pool)
		errorRepo = pg.NewErrorEventRepo(pool, pg.NewTxManager(pool))
		actRepo = pg.NewActivityRepo(pool)
		checks["postgres"] = pool.Ping
		go pg.ReportPoolStats(ctx, pool, 15*time.Second, logger)
	}

	// ---- Redis ----
	var redisClient red.Client
	if cfg.Redis.URL != "" {
		c, err := red.NewClient(ctx, cfg.Redis)
		switch {
		case err == nil:
			redisClient = c
			defer c.Close()
			checks["redis"] = c.Ping
		case cfg.Worker.SchedulerMode == config.SchedulerModeRedis:
			logger.Fatal().Err(err).Msg("redis")
		default:
			logger.Warn().Err(err).Msg("redis unavailable, rate limiting disabled")
		}
	}

	// ---- Encryption ----
	encSvc, err := security.NewEncryptionService(cfg.Security.EncryptionKey)
	if err != nil {
		logger.Fatal().Err(err).Msg("encryption")
	}

	// ---- AI providers ----
	registry, err := aiAdapters.NewRegistryFromConfig(cfg.AI, cfg.Runtime.Dev)
	if err != nil {
		logger.Fatal().Err(err).Msg("ai providers")
	}
	logger.Info().Strs("providers", registry.Names()).Msg("ai providers registered")

	templates := make(map[string]usecase.PromptTemplate, len(cfg.AI.Templates))
	for id, t := range cfg.AI.Templates {
		templates[id] = usecase.PromptTemplate{System: t.System, User: t.User}
	}

	// ---- Use cases ----
	errlogUC := usecase.NewErrorLogUseCase(errorRepo, actRepo, logger)
	prompts := usecase.NewPromptBuilder(templates, aiAdapters.NewTiktokenTokenizer(), cfg.AI.MaxInputTokens, logger)
	analysisUC := usecase.NewAnalysisUseCase(registry, cfg.AI.Timeout, cfg.AI.MaxOutputTokens, logger)
	proc := worker.NewProcessor(jobRepo, encSvc, prompts, analysisUC, errlogUC, logger)

	// ---- Scheduler ----
	var (
		runner  ucport.JobScheduler
		sweeper sched.Sweeper
	)
	switch cfg.Worker.SchedulerMode {
	case config.SchedulerModeRedis:
		queue := red.NewQueue(redisClient, jobRepo, red.NewLocker(redisClient), red.QueueOptions{
			Prefix:         cfg.Redis.KeyPrefix,
			MaxAttempts:    cfg.Worker.QueueMaxAttempts,
			DequeueTimeout: cfg.Worker.DequeueTimeout,
			StuckTimeout:   cfg.Worker.StuckJobTimeout,
		}, logger)
		runner = worker.NewQueueWorker(queue, jobRepo, proc, cfg.Worker, logger)
		sweeper = queue
	default:
		runner = worker.NewPoller(jobRepo, proc, cfg.Worker, logger)
	}
	jobUC := usecase.NewJobUseCase(jobRepo, encSvc, registry, prompts, runner, errlogUC, logger)
	maint := sched.NewMaintenanceWorker(cfg.Worker.MaintenanceInterval, sweeper, jobRepo, logger)

	// ---- HTTP API ----
	var limiter api.Limiter
	if redisClient != nil && cfg.HTTP.CreateLimitPerMinute > 0 {
		limiter = red.NewRateLimiter(redisClient, cfg.Redis.KeyPrefix)
	}
	srv := api.NewServer(api.Dependencies{
		Jobs:        jobUC,
		ErrorLog:    errlogUC,
		Auth:        api.NewAuthManager(cfg.HTTP.JWTSecret, cfg.Runtime.Dev),
		Limiter:     limiter,
		CreateLimit: cfg.HTTP.CreateLimitPerMinute,
		Checks:      checks,
		Scheduler:   runner.Name(),
		Port:        cfg.HTTP.Port,
	}, logger)

	// ---- Run ----
	var wg sync.WaitGroup
	runBackground(ctx, &wg, logger, "scheduler", runner.Run)
	runBackground(ctx, &wg, logger, "maintenance", maint.Run)

	go func() {
		logger.Info().Int("port", cfg.HTTP.Port).Str("scheduler", runner.Name()).Msg("http server listening")
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("http server")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	wg.Wait()
	errlogUC.Wait()
	logger.Info().Msg("bye")
}

func runBackground(ctx context.Context, wg *sync.WaitGroup, logger *zerolog.Logger, name string, run func(context.Context) error) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Str("loop", name).Msg("background loop stopped")
		}
	}()
}

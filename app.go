package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"bgstudio/api"
	"bgstudio/catalog"
	"bgstudio/core"
	"bgstudio/db"
	"bgstudio/imagegen"
	"bgstudio/logging"
	"bgstudio/metrics"
	"bgstudio/pipeline"
	"bgstudio/shutdown"
	"bgstudio/vision"
	"bgstudio/workflow"
)

// cleanupInterval is how often retention cleanup runs.
const cleanupInterval = 24 * time.Hour

// evictionInterval is how often idle workflows are swept from memory.
const evictionInterval = time.Minute

// app is the wired service.
type app struct {
	cfg       *core.Config
	logger    *logging.Logger
	database  *db.Database
	workflows *workflow.Manager
	server    *api.Server
}

// newApp builds every component and registers its cleanup with manager.
// The returned checks describe each step for the startup summary, also on
// failure.
func newApp(ctx context.Context, cfg *core.Config, logger *logging.Logger, manager *shutdown.Manager) (*app, []core.StartupCheck, error) {
	var checks []core.StartupCheck
	fail := func(name string, err error) {
		checks = append(checks, core.StartupCheck{Name: name, Status: core.CheckFailed, Detail: err.Error()})
	}
	pass := func(name, detail string) {
		checks = append(checks, core.StartupCheck{Name: name, Status: core.CheckPassed, Detail: detail})
	}

	manager.Register("logger", shutdown.PriorityLogger, func(context.Context) error {
		_ = logger.Sync()
		return nil
	})

	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		fail("Catalog", err)
		return nil, checks, core.ErrCatalog(cfg.CatalogPath, err)
	}
	pass("Catalog", fmt.Sprintf("%d models, %d categories", len(cat.Models), len(cat.Categories())))

	database, err := db.NewDatabase(ctx, cfg.DatabasePath)
	if err != nil {
		fail("Database", err)
		return nil, checks, core.ErrStorage("database", err)
	}
	manager.Register("database", shutdown.PriorityStorage, func(context.Context) error {
		return database.Close()
	})

	repo := db.NewRepository(database, nil)
	writer := db.NewAsyncWriterWithConfig(repo.AsyncWriteHandler(), db.AsyncWriterConfig{Logger: logger})
	writer.Start()
	repo.SetAsyncWriter(writer)
	manager.Register("async-writer", shutdown.PriorityAsyncWriter, writer.Stop)

	spend, err := repo.TotalSpend(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		logger.Warn("failed to read recent spend", zap.Error(err))
	}
	pass("Database", fmt.Sprintf("%s, spend last 24h %s", cfg.DatabasePath, spend))

	store, err := newStateStore(ctx, cfg)
	if err != nil {
		fail("Workflow store", err)
		return nil, checks, core.ErrStorage("redis", err)
	}
	manager.Register("state-store", shutdown.PriorityStorage, func(context.Context) error {
		return store.Close()
	})
	if cfg.RedisAddr == "" {
		checks = append(checks, core.StartupCheck{Name: "Workflow store", Status: core.CheckWarning, Detail: "in-memory (REDIS_ADDR not set)"})
	} else {
		pass("Workflow store", "redis "+cfg.RedisAddr)
	}

	runware, err := imagegen.NewRunwareProvider(cfg, logger)
	if err != nil {
		fail("Providers", err)
		return nil, checks, err
	}
	var synthesizer pipeline.Synthesizer = runware
	if cfg.SynthesisProvider == core.ProviderOpenAI {
		openai, err := imagegen.NewOpenAIProvider(cfg, cat, logger)
		if err != nil {
			fail("Providers", err)
			return nil, checks, err
		}
		synthesizer = openai
	}
	pass("Providers", "removal runware, synthesis "+cfg.SynthesisProvider)

	downloader, err := imagegen.NewDownloader(cfg)
	if err != nil {
		fail("Downloads", err)
		return nil, checks, core.ErrStorage("downloads directory", err)
	}
	manager.Register("downloads", shutdown.PriorityFiles, shutdown.CleanupDownloads(logger, cfg.DownloadsDir))
	pass("Downloads", fmt.Sprintf("%s, max %s", cfg.DownloadsDir, core.FormatBytes(cfg.MaxImageBytes)))

	callMetrics := metrics.NewStore(metrics.DefaultHistoryCapacity, time.Now())

	workflows, err := workflow.NewManager(workflow.Config{
		Catalog:           cat,
		Remover:           runware,
		Synthesizer:       synthesizer,
		Analyzer:          vision.NewComplexityAnalyzer(downloader, vision.WithLogger(logger)),
		Retry:             retryPolicy(cfg),
		RemoverName:       core.ProviderRunware,
		SynthesizerName:   cfg.SynthesisProvider,
		Store:             store,
		Archive:           repo,
		Images:            downloader,
		Tracker:           manager.Tracker(),
		Metrics:           callMetrics,
		ProcessingTimeout: cfg.ProcessingTimeout,
		IdleTimeout:       cfg.WorkflowTTL,
		Logger:            logger,
	})
	if err != nil {
		fail("Workflows", err)
		return nil, checks, err
	}
	manager.Register("workflows", shutdown.PriorityWorkflows, workflows.Flush)

	handlers := api.NewHandlers(workflows, repo, cat, api.HandlersConfig{
		Database: database,
		Metrics:  callMetrics,
		Logger:   logger,
	})
	serverCfg := api.DefaultServerConfig()
	serverCfg.Port = cfg.Port
	serverCfg.WriteTimeout = cfg.ProcessingTimeout + 30*time.Second
	server := api.NewServer(serverCfg, handlers, logger)
	manager.Register("http-server", shutdown.PriorityHTTPServer, server.Shutdown)
	pass("HTTP API", server.Addr())

	return &app{cfg: cfg, logger: logger, database: database, workflows: workflows, server: server}, checks, nil
}

// startBackground starts the idle workflow sweeper and retention cleanup
// for database rows and archived images. Both stop when ctx is cancelled.
func (a *app) startBackground(ctx context.Context) {
	go a.workflows.RunEvictor(ctx, evictionInterval)

	if a.cfg.RetentionDays == 0 {
		return
	}
	maxAge := time.Duration(a.cfg.RetentionDays) * 24 * time.Hour
	a.database.StartCleanupScheduler(ctx, db.CleanupSchedulerConfig{
		RetentionDays: a.cfg.RetentionDays,
		Interval:      cleanupInterval,
		OnCleanup: func(result db.CleanupResult, err error) {
			if err != nil {
				a.logger.Error("retention cleanup failed", zap.Error(err))
				return
			}
			files := shutdown.PruneArchive(ctx, a.logger, a.cfg.DownloadsDir, maxAge)
			a.logger.Info("retention cleanup finished",
				zap.Int64("rows_deleted", result.TotalDeleted),
				zap.Int("files_deleted", files),
				zap.Duration("duration", result.Duration),
			)
		},
	})
}

// newStateStore returns a Redis store when REDIS_ADDR is set, after
// checking the connection, and an in-memory store otherwise.
func newStateStore(ctx context.Context, cfg *core.Config) (workflow.StateStore, error) {
	if cfg.RedisAddr == "" {
		return workflow.NewMemoryStore(cfg.WorkflowTTL), nil
	}
	store := workflow.NewRedisStore(workflow.NewRedisClient(cfg), cfg.WorkflowTTL)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := store.Ping(pingCtx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// retryPolicy builds the provider retry policy from MAX_RETRIES and
// RETRY_DELAY_MS.
func retryPolicy(cfg *core.Config) pipeline.RetryPolicy {
	p := pipeline.DefaultRetryPolicy()
	p.MaxAttempts = cfg.MaxRetries
	p.Delay = cfg.RetryDelay
	return p
}

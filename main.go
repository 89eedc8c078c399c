package main

import (
	"fmt"
	"os"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"bgstudio/core"
	"bgstudio/logging"
	"bgstudio/shutdown"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		// Use fmt here since logger isn't initialized yet
		fmt.Printf("Warning: .env file not found: %v\n", err)
	}
	os.Exit(run())
}

// run wires the service, serves until a signal or a fatal server error,
// and returns the process exit code.
func run() int {
	cfg, err := core.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return core.ExitCodeFor(err)
	}

	logger, err := logging.NewLogger(logging.Options{
		Development: cfg.DevMode,
		FilePath:    cfg.LogFile,
		Level:       logging.LevelFromEnv(),
	})
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		return core.ExitCodeError
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("configuration loaded",
		zap.String("version", core.VersionInfo()),
		zap.String("synthesis_provider", cfg.SynthesisProvider),
		zap.String("catalog", cfg.CatalogPath),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Duration("retry_delay", cfg.RetryDelay),
		zap.Duration("ai_timeout", cfg.AITimeout),
		zap.Duration("processing_timeout", cfg.ProcessingTimeout),
		zap.Int("port", cfg.Port),
		zap.String("database", cfg.DatabasePath),
		zap.Bool("redis", cfg.RedisAddr != ""),
		zap.String("downloads_dir", cfg.DownloadsDir),
		zap.Bool("dev_mode", cfg.DevMode),
	)

	manager := shutdown.NewManager(logger)

	app, checks, err := newApp(manager.Context(), cfg, logger, manager)
	core.PrintStartupSummary(os.Stdout, checks)
	if err != nil {
		logger.Error("startup failed", zap.Error(err))
		_ = manager.Shutdown()
		return core.ExitCodeFor(err)
	}

	manager.Start()
	app.startBackground(manager.Context())

	g, gctx := errgroup.WithContext(manager.Context())
	g.Go(app.server.Start)
	g.Go(func() error {
		<-gctx.Done()
		return manager.Shutdown()
	})
	err = g.Wait()

	code := exitCodeForSignal(manager.Signal())
	if err != nil {
		logger.Error("service stopped with errors", zap.Error(err))
		if code == core.ExitCodeSuccess {
			code = core.ExitCodeError
		}
	}
	logger.Info("Goodbye!", zap.Int("exit_code", code))
	return code
}

// exitCodeForSignal follows the 128+signal convention for the signals the
// shutdown manager handles.
func exitCodeForSignal(sig os.Signal) int {
	switch sig {
	case syscall.SIGINT:
		return core.ExitCodeSIGINT
	case syscall.SIGTERM:
		return core.ExitCodeSIGTERM
	default:
		return core.ExitCodeSuccess
	}
}

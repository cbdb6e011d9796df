package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"app_lifecycle/core"
	"app_lifecycle/lifecycle"
	"app_lifecycle/logging"
	"app_lifecycle/plugins"
	"app_lifecycle/shutdown"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	if HandleServiceCommand(os.Args) {
		return
	}

	isService, err := RunAsService()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service error: %v\n", err)
		os.Exit(core.ExitCodeError)
	}
	if isService {
		return
	}

	os.Exit(run(context.Background(), os.Stdout))
}

// run loads the configuration, assembles the host and drives it through
// Startup, Closing and Closed. It returns the process exit code.
func run(ctx context.Context, stdout io.Writer, opts ...shutdown.ManagerOption) int {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		// Use fmt here since logger isn't initialized yet
		fmt.Fprintf(stdout, "Warning: .env file not found: %v\n", err)
	}

	cfg, err := core.LoadConfig()
	if err != nil {
		var cfgErr *core.ConfigError
		if errors.As(err, &cfgErr) {
			fmt.Fprintln(os.Stderr, cfgErr.Error())
		} else {
			fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		}
		return core.ExitCodeError
	}

	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return core.ExitCodeError
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "Failed to sync logger: %v\n", syncErr)
		}
	}()

	logger.Info("Configuration loaded",
		zap.String("service", cfg.ServiceName),
		zap.String("journal", cfg.JournalPath),
		zap.String("metrics_addr", cfg.MetricsAddr),
		zap.Bool("traces", cfg.TracesEnabled),
		zap.Int("force_after_signals", cfg.ForceAfterSignals),
		zap.Duration("veto_retry", cfg.VetoRetryInterval),
		zap.Bool("dev_mode", cfg.DevMode),
	)

	h, err := newHost(cfg, logger.Zap(), append([]shutdown.ManagerOption{shutdown.WithOutput(stdout)}, opts...)...)
	if err != nil {
		logger.Error("Failed to assemble host", zap.Error(err))
		return core.ExitCodeError
	}

	code := h.run(ctx)
	logger.Info("Goodbye!", zap.Int("exit_code", code), zap.String("meaning", core.ExitCodeName(code)))
	return code
}

// newLogger builds the host logger from cfg. LogLevel wins over the level
// DevMode implies.
func newLogger(cfg *core.Config) (*logging.Logger, error) {
	opts := logging.Options{
		Development: cfg.DevMode,
		FilePath:    cfg.LogFile,
	}
	level := logging.LevelFor(cfg.DevMode, cfg.LogLevel)
	opts.Level = &level
	return logging.NewLoggerWithOptions(opts)
}

// host is one assembled application: its features registered, a Manager
// ready to drive the orchestrator and the finalizers that release what the
// features opened.
type host struct {
	logger     *zap.Logger
	manager    *shutdown.Manager
	finalizers *plugins.Finalizers
}

func newHost(cfg *core.Config, logger *zap.Logger, opts ...shutdown.ManagerOption) (*host, error) {
	c, err := plugins.Container(logger, plugins.FromConfig(cfg)...)
	if err != nil {
		return nil, err
	}

	h := &host{logger: logger}
	err = c.Invoke(func(orch *lifecycle.Orchestrator, fin *plugins.Finalizers) {
		base := []shutdown.ManagerOption{
			shutdown.WithLogger(logger.Named("shutdown")),
			shutdown.WithForceAfter(cfg.ForceAfterSignals),
			shutdown.WithVetoRetry(cfg.VetoRetryInterval),
		}
		h.manager = shutdown.NewManager(orch, append(base, opts...)...)
		h.finalizers = fin
	})
	if err != nil {
		return nil, err
	}
	return h, nil
}

// run drives the lifecycle to completion and always runs the finalizers.
func (h *host) run(ctx context.Context) int {
	report, err := h.manager.Run(ctx)

	code := core.ExitCodeError
	if report != nil {
		code = report.ExitCode()
	}
	if err != nil && !errors.Is(err, shutdown.ErrStartupFailed) {
		h.logger.Error("Lifecycle aborted", zap.Error(err))
		code = core.ExitCodeError
	}

	if finErr := h.finalizers.Run(); finErr != nil {
		h.logger.Error("Finalizers failed", zap.Error(finErr))
		if code == core.ExitCodeSuccess {
			code = core.ExitCodeShutdownErrors
		}
	}
	return code
}

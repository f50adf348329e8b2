package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/marmos91/ccsd/internal/logger"
	"github.com/marmos91/ccsd/internal/telemetry"
	"github.com/marmos91/ccsd/pkg/api"
	"github.com/marmos91/ccsd/pkg/ccapi/ccache"
	ccerrors "github.com/marmos91/ccsd/pkg/ccapi/errors"
	"github.com/marmos91/ccsd/pkg/ccapi/lock"
	"github.com/marmos91/ccsd/pkg/config"
	"github.com/marmos91/ccsd/pkg/server"
)

var pidFile string

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the credential cache server",
	Long: `Start the ccsd server in the foreground.

Use --config to specify a custom configuration file, or it will use the
default location at $XDG_CONFIG_HOME/ccsd/config.yaml when present, and
built-in defaults otherwise.

Examples:
  # Start with defaults
  ccsd start

  # Start with a custom config file
  ccsd start --config /etc/ccsd/config.yaml

  # Start with environment variable overrides
  CCSD_LOGGING_LEVEL=DEBUG ccsd start`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().StringVar(&pidFile, "pid-file", "", "Write the server PID to this file")
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}
	if socketPath != "" {
		cfg.Server.SocketPath = socketPath
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	telemetryShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "ccsd",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(context.Background()); err != nil {
			logger.Error("Telemetry shutdown error", logger.Err(err))
		}
	}()

	profilingShutdown, err := telemetry.InitProfiling(telemetry.Config{
		ServiceName:    "ccsd",
		ServiceVersion: Version,
		Profiling: telemetry.ProfilingConfig{
			Enabled:      cfg.Telemetry.Profiling.Enabled,
			Endpoint:     cfg.Telemetry.Profiling.Endpoint,
			ProfileTypes: cfg.Telemetry.Profiling.ProfileTypes,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to initialize profiling: %w", err)
	}
	defer func() {
		if err := profilingShutdown(); err != nil {
			logger.Error("Profiling shutdown error", logger.Err(err))
		}
	}()

	logger.Info("Configuration loaded",
		"source", getConfigSource(GetConfigFile()),
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format)
	if telemetry.IsEnabled() {
		logger.Info("Telemetry enabled", "endpoint", cfg.Telemetry.Endpoint, "sample_rate", cfg.Telemetry.SampleRate)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	locks := lock.NewManager(cfg.Lock,
		lock.WithMetrics(lock.NewMetrics(registry)),
		lock.WithEvents(lockEvents()))
	caches := ccache.NewCollection(locks)

	if n, err := cfg.Kerberos.LoadCaches(caches); err != nil {
		logger.Warn("Some credential caches could not be imported", "imported", n, logger.Err(err))
	}

	srv := server.New(cfg.Server, locks, caches, server.WithMetrics(server.NewMetrics(registry)))

	if pidFile != "" {
		if err := os.WriteFile(pidFile, []byte(fmt.Sprintf("%d", os.Getpid())), 0o644); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer func() { _ = os.Remove(pidFile) }()
	}

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- srv.Serve(ctx)
	}()

	apiDone := make(chan error, 1)
	if cfg.API.IsEnabled() {
		apiServer := api.NewServer(cfg.API, api.Deps{
			Server:   srv,
			Locks:    locks,
			Caches:   caches,
			Gatherer: registry,
		})
		go func() {
			apiDone <- apiServer.Start(ctx)
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	logger.Info("Server is running. Press Ctrl+C to stop.")

	var runErr error
	select {
	case <-sigChan:
		logger.Info("Shutdown signal received, initiating graceful shutdown")
	case runErr = <-serverDone:
		if runErr != nil {
			logger.Error("Server error", logger.Err(runErr))
		}
	case runErr = <-apiDone:
		if runErr != nil {
			logger.Error("HTTP server error", logger.Err(runErr))
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		runErr = errors.Join(runErr, err)
	}
	cancel()

	logger.Info("Server stopped", "locks", fmt.Sprintf("%+v", locks.Stats()))
	return runErr
}

// lockEvents logs lock lifecycle transitions at debug level and
// notification failures as warnings.
func lockEvents() *lock.Events {
	return &lock.Events{
		OnQueued: func(object string, l *lock.Lock, position int) {
			logger.Debug("Lock queued",
				logger.KeyObject, object, logger.KeyLockID, l.ID(), "position", position)
		},
		OnGranted: func(object string, l *lock.Lock, waited time.Duration) {
			logger.Debug("Lock granted",
				logger.KeyObject, object, logger.KeyLockID, l.ID(), "waited", waited)
		},
		OnCancelled: func(object string, l *lock.Lock, code ccerrors.ErrorCode) {
			logger.Debug("Lock request cancelled",
				logger.KeyObject, object, logger.KeyLockID, l.ID(), logger.KeyStatus, code.String())
		},
		OnReleased: func(object string, l *lock.Lock, held time.Duration) {
			logger.Debug("Lock released",
				logger.KeyObject, object, logger.KeyLockID, l.ID(), "held", held)
		},
		OnNotifyFailed: func(object string, l *lock.Lock, err error) {
			logger.Warn("Lock notification failed",
				logger.KeyObject, object, logger.KeyLockID, l.ID(), logger.Err(err))
		},
	}
}

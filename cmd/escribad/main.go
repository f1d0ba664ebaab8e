// Command escribad runs the archival pipeline's server-side processes:
// the Majordomo broker and the five polling loops that drive transfers
// through to completed snapshots. Helper-program workers run in a
// separate process (escriba-agent) and connect to the broker over the
// network.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"

	"go.vereda.tec.br/escriba/internal/config"
	"go.vereda.tec.br/escriba/internal/daemon"
	"go.vereda.tec.br/escriba/internal/mdp"
	"go.vereda.tec.br/escriba/internal/metrics"
	"go.vereda.tec.br/escriba/internal/store"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type appConfig struct {
	brokerAddr    string
	metricsAddr   string
	dbDriver      string
	dbDSN         string
	logLevel      string
	pollInterval  time.Duration
	snapshotLimit int
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := &appConfig{}

	root := &cobra.Command{
		Use:   "escribad",
		Short: "escribad — web-page archival pipeline broker and control loops",
		Long: `escribad runs the Majordomo broker that routes archival requests to
helper-program workers, and the control loops that drive transfers
through parsing, strategy enumeration, dispatch, and derivation.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}

	root.AddCommand(newVersionCmd())

	root.PersistentFlags().StringVar(&cfg.brokerAddr, "broker-addr", config.EnvOrDefault("ESCRIBA_BROKER_ADDR", "tcp://*:5555"), "Broker bind address")
	root.PersistentFlags().StringVar(&cfg.metricsAddr, "metrics-addr", config.EnvOrDefault("ESCRIBA_METRICS_ADDR", ":9191"), "Prometheus /metrics listen address")
	root.PersistentFlags().StringVar(&cfg.dbDriver, "db-driver", config.EnvOrDefault("ESCRIBA_DB_DRIVER", "sqlite"), "Database driver (sqlite or postgres)")
	root.PersistentFlags().StringVar(&cfg.dbDSN, "db-dsn", config.DBURI(), "Database DSN or file path for SQLite")
	root.PersistentFlags().StringVar(&cfg.logLevel, "log-level", config.LogLevel(), "Log level (debug, info, warn, error)")
	root.PersistentFlags().DurationVar(&cfg.pollInterval, "poll-interval", 1*time.Second, "Polling interval for the control loops")
	root.PersistentFlags().IntVar(&cfg.snapshotLimit, "snapshot-concurrency", 16, "Maximum snapshot dispatches in flight at once (0 = unbounded)")

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("escribad %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func run(ctx context.Context, cfg *appConfig) error {
	logger, err := buildLogger(cfg.logLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("starting escribad",
		zap.String("version", version),
		zap.String("broker_addr", cfg.brokerAddr),
		zap.String("db_driver", cfg.dbDriver),
		zap.String("log_level", cfg.logLevel),
	)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	gormDB, err := store.New(store.Config{
		Driver:   cfg.dbDriver,
		DSN:      cfg.dbDSN,
		Logger:   logger,
		LogLevel: gormLogLevel(cfg.logLevel),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		if err := store.Optimize(gormDB); err != nil {
			logger.Warn("failed to run pragma optimize", zap.Error(err))
		}
		if sqlDB, err := gormDB.DB(); err == nil {
			sqlDB.Close()
		}
	}()

	transfers := store.NewTransferRepository(gormDB)
	transferJobs := store.NewTransferJobRepository(gormDB)
	webpages := store.NewWebpageRepository(gormDB)
	webpageJobs := store.NewWebpageJobRepository(gormDB)
	snapshots := store.NewSnapshotRepository(gormDB, cfg.dbDriver)

	broker := mdp.NewBroker(logger)
	if err := broker.Bind(ctx, cfg.brokerAddr); err != nil {
		return fmt.Errorf("failed to bind broker: %w", err)
	}

	webpageJobLoop := daemon.NewWebpageJobLoop(webpageJobs, webpages, snapshots, cfg.pollInterval, logger)
	if err := webpageJobLoop.Recover(ctx); err != nil {
		return err
	}
	snapshotLoop := daemon.NewSnapshotLoop(snapshots, webpages, brokerDialAddr(cfg.brokerAddr), cfg.pollInterval, cfg.snapshotLimit, logger)
	if err := snapshotLoop.Recover(ctx); err != nil {
		return err
	}
	transferJobLoop := daemon.NewTransferJobLoop(transfers, transferJobs, webpages, webpageJobs, 3*cfg.pollInterval, logger)
	if err := transferJobLoop.Recover(ctx); err != nil {
		return err
	}
	titleLoop := daemon.NewTitleLoop(snapshots, webpages, cfg.pollInterval, logger)
	archiveLoop := daemon.NewArchiveLoop(snapshots, webpages, cfg.pollInterval, logger)

	errCh := make(chan error, 6)
	go func() { errCh <- broker.Run(ctx) }()
	go func() { errCh <- transferJobLoop.Run(ctx) }()
	go func() { errCh <- webpageJobLoop.Run(ctx) }()
	go func() { errCh <- snapshotLoop.Run(ctx) }()
	go func() { errCh <- titleLoop.Run(ctx) }()
	go func() { errCh <- archiveLoop.Run(ctx) }()

	metricsSrv := &http.Server{
		Addr:    cfg.metricsAddr,
		Handler: metrics.Handler(broker),
	}
	go func() {
		logger.Info("metrics server listening", zap.String("addr", cfg.metricsAddr))
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down escribad")
	case err := <-errCh:
		if err != nil && ctx.Err() == nil {
			logger.Error("a control loop exited unexpectedly", zap.Error(err))
			cancel()
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics server graceful shutdown error", zap.Error(err))
	}

	logger.Info("escribad stopped")
	return nil
}

// brokerDialAddr rewrites a bind address ("tcp://*:5555") into the
// corresponding dial address ("tcp://127.0.0.1:5555") so in-process
// clients (the snapshot dispatch loop) can reach the broker it just
// bound, without requiring a second configuration value for the common
// single-host deployment.
func brokerDialAddr(bindAddr string) string {
	const wildcard = "tcp://*:"
	if len(bindAddr) > len(wildcard) && bindAddr[:len(wildcard)] == wildcard {
		return "tcp://127.0.0.1:" + bindAddr[len(wildcard):]
	}
	return bindAddr
}

func gormLogLevel(level string) gormlogger.LogLevel {
	switch level {
	case "debug":
		return gormlogger.Info
	case "info":
		return gormlogger.Warn
	default:
		return gormlogger.Error
	}
}

func buildLogger(level string) (*zap.Logger, error) {
	var cfg zap.Config

	switch level {
	case "debug":
		cfg = zap.NewDevelopmentConfig()
	default:
		cfg = zap.NewProductionConfig()
	}

	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	return cfg.Build()
}

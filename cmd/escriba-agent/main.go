// Command escriba-agent runs the helper-program worker listeners for
// one node: for every service named in ESCRIBA_SERVICES, it starts the
// configured number of concurrent listeners, each forking the service's
// helper program once per request received over the message bus.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"go.vereda.tec.br/escriba/internal/agent"
	"go.vereda.tec.br/escriba/internal/config"
	"go.vereda.tec.br/escriba/internal/metrics"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type appConfig struct {
	brokerAddr string
	logLevel   string
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
		Use:   "escriba-agent",
		Short: "escriba-agent — helper-program worker node",
		Long: `escriba-agent connects to an escribad broker and serves one or more
archival strategy services, forking the configured helper program once
per request and reporting its result back over the message bus.

Services are configured via ESCRIBA_SERVICES, a comma-separated list of
name:concurrency:program triples.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}

	root.AddCommand(newVersionCmd())

	root.PersistentFlags().StringVar(&cfg.brokerAddr, "broker-addr", config.EnvOrDefault("ESCRIBA_BROKER_ADDR", "tcp://localhost:5555"), "Broker dial address")
	root.PersistentFlags().StringVar(&cfg.logLevel, "log-level", config.LogLevel(), "Log level (debug, info, warn, error)")

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("escriba-agent %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func run(ctx context.Context, cfg *appConfig) error {
	logger, err := buildLogger(cfg.logLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	specs, err := config.NodeServices()
	if err != nil {
		return fmt.Errorf("failed to parse ESCRIBA_SERVICES: %w", err)
	}
	if len(specs) == 0 {
		return fmt.Errorf("no services configured — set ESCRIBA_SERVICES to at least one name:concurrency:program triple")
	}

	logger.Info("starting escriba-agent",
		zap.String("version", version),
		zap.String("broker_addr", cfg.brokerAddr),
		zap.Int("service_count", len(specs)),
	)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go logHostMetrics(ctx, logger)

	return agent.RunServices(ctx, cfg.brokerAddr, specs, logger)
}

// logHostMetrics periodically samples host resource usage, purely for
// operational visibility — the agent makes no scheduling decisions
// based on it.
func logHostMetrics(ctx context.Context, logger *zap.Logger) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats, err := metrics.Collect(ctx)
			if err != nil {
				logger.Warn("failed to collect host metrics", zap.Error(err))
				continue
			}
			logger.Info("host metrics",
				zap.Float64("cpu_percent", stats.CPUPercent),
				zap.Float64("mem_percent", stats.MemPercent),
				zap.Float64("disk_percent", stats.DiskPercent),
			)
		}
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

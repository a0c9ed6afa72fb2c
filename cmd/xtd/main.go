// Package main implements the xtd CLI for administrative operations against
// the extractd database: schema export and import, answer migration, status
// resets and model version training.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/extractd/internal/config"
	"github.com/fyrsmithlabs/extractd/internal/logging"
	"github.com/fyrsmithlabs/extractd/internal/services"
	"github.com/fyrsmithlabs/extractd/internal/workflows"
)

var (
	// configPath is the extractd config file
	configPath string
	// async hands long tasks to the Temporal workers
	async bool
	// verbose enables debug logging
	verbose bool
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "xtd",
	Short: "Admin CLI for extractd",
	Long: `xtd runs administrative operations directly against the extractd
database and services configured for the daemon.`,
	Version:      version,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "extractd config file (default ~/.config/extractd/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&async, "async", false, "dispatch long tasks to the Temporal workers instead of running them here")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}

// withRegistry builds the services for one command and closes them after.
func withRegistry(cmd *cobra.Command, fn func(ctx context.Context, reg services.Registry) error) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	var opts []services.BuildOption
	if async {
		if cfg.Temporal.HostPort == "" {
			return fmt.Errorf("--async needs temporal.host_port")
		}
		tc, err := client.Dial(client.Options{HostPort: cfg.Temporal.HostPort, Namespace: cfg.Temporal.Namespace})
		if err != nil {
			return fmt.Errorf("unable to create Temporal client: %w", err)
		}
		defer tc.Close()
		opts = append(opts, services.WithDispatcher(workflows.NewDispatcher(tc, cfg.Temporal, logger)))
	}

	reg, err := services.Build(ctx, cfg, logger, opts...)
	if err != nil {
		return fmt.Errorf("initializing services: %w", err)
	}
	defer func() {
		if err := reg.Close(); err != nil {
			logger.Warn("closing services failed", zap.Error(err))
		}
	}()
	return fn(ctx, reg)
}

func loadConfig() (*config.Config, error) {
	if configPath == "" {
		return config.Load()
	}
	return config.LoadWithFile(configPath)
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	app := cfg.Logging
	app.Format = "console"
	if verbose {
		app.Level = "debug"
	} else if app.Level == "" {
		app.Level = "warn"
	}
	logCfg, err := logging.FromAppConfig(app)
	if err != nil {
		return nil, fmt.Errorf("logging config: %w", err)
	}
	logCfg.Sampling.Enabled = false
	l, err := logging.NewLogger(logCfg, nil)
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	return l.Underlying(), nil
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

func parseIDs(raw []string) ([]int64, error) {
	var ids []int64
	for _, r := range raw {
		for _, part := range strings.Split(r, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			id, err := parseID(part)
			if err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}
	}
	return ids, nil
}

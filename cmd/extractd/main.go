// Extractd is the extraction orchestration daemon.
//
// It serves the callback and task API over HTTP, runs the Temporal workers
// that execute parse, predict, post-pipeline and training tasks, and the
// periodic status reconcile jobs.
//
// Configuration is loaded from a YAML file and EXTRACTD_* environment
// variables. See internal/config for details.
//
// Usage:
//
//	# Start API, workers and scheduler
//	extractd -config /etc/extractd/config.yaml
//
//	# API only, tasks are executed by separate workers
//	extractd -workers=false
//
//	# Workers only
//	extractd -api=false
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	nethttp "net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/extractd/internal/config"
	"github.com/fyrsmithlabs/extractd/internal/http"
	"github.com/fyrsmithlabs/extractd/internal/logging"
	"github.com/fyrsmithlabs/extractd/internal/scheduler"
	"github.com/fyrsmithlabs/extractd/internal/services"
	"github.com/fyrsmithlabs/extractd/internal/telemetry"
	"github.com/fyrsmithlabs/extractd/internal/workflows"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

const defaultShutdownTimeout = 30 * time.Second

type flags struct {
	configPath string
	api        bool
	workers    bool
	scheduler  bool
}

func main() {
	var f flags
	flag.StringVar(&f.configPath, "config", "", "path to config file (default ~/.config/extractd/config.yaml)")
	flag.BoolVar(&f.api, "api", true, "serve the HTTP API")
	flag.BoolVar(&f.workers, "workers", true, "run the Temporal task workers")
	flag.BoolVar(&f.scheduler, "scheduler", true, "run periodic reconcile jobs when enabled in config")
	flag.Parse()

	if args := flag.Args(); len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  extractd           Start the extractd daemon\n")
			fmt.Fprintf(os.Stderr, "  extractd version   Show version information\n")
			os.Exit(1)
		}
	}

	if err := run(f); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func printVersion() {
	fmt.Printf("extractd\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		if _, err := os.Stat(defaultConfigPath()); err != nil {
			return config.Load()
		}
	}
	return config.LoadWithFile(path)
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "extractd", "config.yaml")
}

// run wires every component and blocks until a signal arrives or a
// component fails.
func run(f flags) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := loadConfig(f.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logCfg, err := logging.FromAppConfig(cfg.Logging)
	if err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	log, err := logging.NewLogger(logCfg, nil)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() { _ = log.Sync() }()
	logger := log.Underlying()

	tel, err := telemetry.New(ctx, cfg.Observability, version)
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	log.Info(ctx, "extractd starting",
		zap.String("version", version),
		zap.Bool("api", f.api),
		zap.Bool("workers", f.workers),
		zap.Bool("telemetry", tel.Enabled()),
	)

	var (
		tc         client.Client
		dispatcher *workflows.Dispatcher
		buildOpts  []services.BuildOption
	)
	if cfg.Temporal.HostPort != "" {
		tc, err = client.Dial(client.Options{
			HostPort:  cfg.Temporal.HostPort,
			Namespace: cfg.Temporal.Namespace,
		})
		if err != nil {
			return fmt.Errorf("unable to create Temporal client: %w", err)
		}
		defer tc.Close()
		log.Info(ctx, "temporal client connected", zap.String("host", cfg.Temporal.HostPort))
		dispatcher = workflows.NewDispatcher(tc, cfg.Temporal, logger.Named("dispatcher"))
		buildOpts = append(buildOpts, services.WithDispatcher(dispatcher))
	} else {
		log.Warn(ctx, "temporal not configured, tasks run inline")
	}

	reg, err := services.Build(ctx, cfg, logger, buildOpts...)
	if err != nil {
		return fmt.Errorf("initializing services: %w", err)
	}
	defer func() {
		if err := reg.Close(); err != nil {
			logger.Warn("closing services failed", zap.Error(err))
		}
	}()

	errCh := make(chan error, 4)

	var workers []worker.Worker
	if f.workers && tc != nil {
		acts := workflows.NewActivities(reg.Orchestrator(), reg.Versions(), logger.Named("activities"))
		workers = workflows.NewWorkers(tc, cfg.Temporal.TaskQueue, cfg.Temporal.TrainingTaskQueue, acts)
		for _, w := range workers {
			if err := w.Start(); err != nil {
				return fmt.Errorf("starting worker: %w", err)
			}
		}
		defer func() {
			for _, w := range workers {
				w.Stop()
			}
		}()
		log.Info(ctx, "workers started", zap.Int("count", len(workers)))
	}

	if f.scheduler && cfg.Scheduler.Enabled {
		sched, err := scheduler.New(reg.Orchestrator(), cfg.Scheduler, logger.Named("scheduler"))
		if err != nil {
			return fmt.Errorf("initializing scheduler: %w", err)
		}
		sched.Start()
		defer func() {
			if err := sched.Stop(context.Background()); err != nil {
				logger.Warn("scheduler stop failed", zap.Error(err))
			}
		}()
		log.Info(ctx, "scheduler started", zap.Int("jobs", sched.Entries()))
	}

	var srv *http.Server
	if f.api {
		var extracts http.ExtractDispatcher = reg.Orchestrator()
		if dispatcher != nil {
			extracts = dispatcher
		}
		srv, err = newServer(cfg, reg, extracts, logger.Named("http"))
		if err != nil {
			return fmt.Errorf("initializing http server: %w", err)
		}
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
				errCh <- fmt.Errorf("http server: %w", err)
			}
		}()
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		log.Info(ctx, "shutdown signal received")
	}

	if srv != nil {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Or(defaultShutdownTimeout))
		defer cancelShutdown()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown failed", zap.Error(err))
		}
	}
	log.Info(ctx, "extractd stopped gracefully")
	return nil
}

// newServer binds the HTTP routes to the registry. Studio callbacks are
// handed to extracts, which queues them when Temporal is configured.
func newServer(cfg *config.Config, reg services.Registry, extracts http.ExtractDispatcher, logger *zap.Logger) (*http.Server, error) {
	deps := http.Deps{
		Tasks:    reg.Orchestrator(),
		Extracts: extracts,
		Files:    reg.FileStore(),
		Molds:    reg.MoldStore(),
	}
	if idx := reg.Search(); idx != nil {
		deps.Search = idx
	}
	return http.NewServer(deps, logger, &http.Config{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ParserAppID:  cfg.Parser.AppID,
		ParserSecret: cfg.Parser.Secret,
		HookKey:      cfg.Studio.HookKey,
	})
}

// Command labmigrate loads historical concrete-lab sampling exports into the
// lab schema. It is a thin composition layer that assembles configuration,
// the logger, the metrics backend and a store factory for the importer.
// Every side effect goes through Deps so run() can be tested without a
// database or network.
//
// Usage:
//
//	labmigrate -manifest labmigrate.yaml -db_driver postgres
//	labmigrate -manifest sites.yaml -layout p2 -site P2 -csv "Carga P2.csv" -db_driver sqlite -dsn dry.db -create_schema
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"labmigrate/internal/config"
	"labmigrate/internal/importer"
	"labmigrate/internal/logging"
	"labmigrate/internal/metrics"
	"labmigrate/internal/metrics/datadog"
	"labmigrate/internal/metrics/prompush"
	"labmigrate/internal/store"
)

// Deps holds the boundaries run() crosses. defaultDeps wires production
// implementations; tests pass fakes.
type Deps struct {
	NewLogger    func(mode, level string) (*logging.Logger, error)
	LoadManifest func(path string) (*config.Manifest, error)
	NewMetrics   func(backend, job, target string) (metrics.Backend, error)
	OpenStore    func(ctx context.Context, driver, dsn string) (store.Store, error)
	RunAll       func(ctx context.Context, jobs []config.Job, set importer.Settings, deps importer.Deps, workers int) ([]importer.Summary, error)

	Stdout io.Writer
}

func defaultDeps() Deps {
	return Deps{
		NewLogger:    logging.New,
		LoadManifest: config.LoadManifest,
		NewMetrics:   newMetrics,
		OpenStore:    store.Open,
		RunAll:       importer.RunAll,
		Stdout:       os.Stdout,
	}
}

// newMetrics builds the named backend. target is the Pushgateway URL or the
// DogStatsD address.
func newMetrics(backend, job, target string) (metrics.Backend, error) {
	switch backend {
	case "pushgateway":
		return prompush.NewBackend(job, target)
	case "datadog":
		return datadog.NewBackend(datadog.Config{Addr: target, Namespace: job})
	default:
		return nil, fmt.Errorf("unknown metrics backend %q", backend)
	}
}

// run resolves the plan, prepares the target and migrates every job.
// Data issues are reported in the summaries and never fail the run.
func run(ctx context.Context, cfg *config.Config, deps Deps) error {
	log, err := deps.NewLogger(cfg.LogMode, cfg.LogLevel)
	if err != nil {
		return err
	}
	defer log.Sync()

	m, err := deps.LoadManifest(cfg.Manifest)
	if err != nil {
		return fmt.Errorf("manifest: %w", err)
	}
	plan, err := config.Resolve(cfg, m)
	if err != nil {
		return err
	}

	var target string
	switch cfg.MetricsBackend {
	case "pushgateway":
		target = cfg.PushgatewayURL
	case "datadog":
		target = cfg.StatsdAddr
	case "none", "":
	default:
		return fmt.Errorf("unknown metrics backend %q", cfg.MetricsBackend)
	}
	if target != "" {
		b, err := deps.NewMetrics(cfg.MetricsBackend, cfg.MetricsJob, target)
		if err != nil {
			log.Warn("metrics disabled", "error", err)
		} else {
			metrics.SetBackend(b)
			defer func() {
				if err := metrics.Flush(); err != nil {
					log.Warn("metrics flush failed", "error", err)
				}
			}()
		}
	}

	dsn := cfg.DSN
	switch cfg.DBDriver {
	case "postgres":
		dsn = cfg.PostgresDSN()
	case "mysql", "mssql", "sqlserver", "sqlite":
		if dsn == "" {
			return fmt.Errorf("-dsn is required for db_driver=%s", cfg.DBDriver)
		}
	case "none":
	default:
		return fmt.Errorf("%w: %q", store.ErrUnknownDriver, cfg.DBDriver)
	}
	stores := func(ctx context.Context) (store.Store, error) {
		return deps.OpenStore(ctx, cfg.DBDriver, dsn)
	}

	if cfg.CreateSchema {
		st, err := stores(ctx)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		err = st.EnsureSchema(ctx)
		_ = st.Close(ctx)
		if err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}

	log.Info("migration starting",
		"jobs", len(plan.Jobs), "driver", cfg.DBDriver, "dsn", dsn,
		"timezone", plan.Timezone, "lab_test_time", plan.LabTestTime.String(), "workers", cfg.Workers)

	set := importer.Settings{
		Timezone:         plan.Timezone,
		LabTestTime:      plan.LabTestTime,
		TwoDigitYearBase: plan.TwoDigitYearBase,
		BatchSize:        cfg.BatchSize,
		SampleLimit:      cfg.SampleLimit,
		SkippedDir:       cfg.SkippedDir,
	}
	sums, err := deps.RunAll(ctx, plan.Jobs, set, importer.Deps{Sites: plan.Sites, Stores: stores, Log: log}, cfg.Workers)
	for _, s := range sums {
		if s.Job == "" {
			continue
		}
		fmt.Fprint(deps.Stdout, s.String())
	}
	if err != nil {
		return err
	}
	log.Info("migration finished", "jobs", len(sums))
	return nil
}

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(1)
	}
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, defaultDeps()); err != nil {
		stop()
		if errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "interrupted")
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

// Package app wires configuration into the harness components and runs the
// one-shot modes and the serve-mode daemon.
package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/juju/clock"
	"github.com/juju/loggo"

	"github.com/conflictmonitor/viewbench/internal/audit"
	"github.com/conflictmonitor/viewbench/internal/baseline"
	"github.com/conflictmonitor/viewbench/internal/bench"
	"github.com/conflictmonitor/viewbench/internal/config"
	"github.com/conflictmonitor/viewbench/internal/convergence"
	"github.com/conflictmonitor/viewbench/internal/history"
	"github.com/conflictmonitor/viewbench/internal/pgstore"
	"github.com/conflictmonitor/viewbench/internal/report"
	"github.com/conflictmonitor/viewbench/internal/storage"
	"github.com/conflictmonitor/viewbench/internal/workload"
	"github.com/conflictmonitor/viewbench/pkg/types"
)

var logger = loggo.GetLogger("viewbench.app")

// App owns the shared resources of one process.
type App struct {
	cfg   *config.Config
	clock clock.Clock

	pool    *pgxpool.Pool
	reader  *pgstore.Reader
	source  *pgstore.SourceStore
	timer   *baseline.Timer
	auditor *audit.Auditor
	waiter  *convergence.Waiter
	runner  *bench.Runner

	history *history.Store
	archive *storage.ReportArchive

	closeOnce sync.Once
}

// New validates the configuration and opens every shared resource: the
// Postgres pool, the history ledger and the report archive.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}

	a := &App{cfg: cfg, clock: clock.WallClock}
	if err := a.initSharedResources(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) initSharedResources(ctx context.Context) error {
	pool, err := pgstore.NewPool(ctx, a.cfg.Postgres)
	if err != nil {
		return err
	}
	a.pool = pool
	logger.Infof("postgres pool ready (max_conns=%d)", a.cfg.Postgres.MaxConns)

	a.reader = pgstore.NewReader(pool, a.cfg.Schema)
	a.source = pgstore.NewSourceStore(pool, a.cfg.Schema)
	a.timer = baseline.NewTimer(baseline.PoolAcquirer(pool), a.cfg.Schema, a.clock)
	a.auditor = audit.NewAuditor(a.reader)
	a.waiter = convergence.NewWaiter(a.reader, a.clock)

	var sinks []bench.Sink
	if a.cfg.Report.HistoryPath != "" {
		a.history, err = history.Open(a.cfg.Report.HistoryPath)
		if err != nil {
			return err
		}
		sinks = append(sinks, a.history)
		logger.Infof("history ledger: %s", a.cfg.Report.HistoryPath)
	}

	store, err := openStorage(ctx, a.cfg.Storage)
	if err != nil {
		return err
	}
	if store != nil {
		a.archive = storage.NewReportArchive(store)
		sinks = append(sinks, a.archive)
		logger.Infof("report archive: type=%s", a.cfg.Storage.Type)
	}

	gen := workload.NewSyntheticGenerator(a.source, a.clock)
	a.runner = bench.NewRunner(gen, a.waiter, a.timer, a.auditor, a.clock, sinks...)
	return nil
}

// openStorage returns nil for the "none" storage type.
func openStorage(ctx context.Context, cfg config.StorageConfig) (storage.ObjectStorage, error) {
	switch cfg.Type {
	case "", "none":
		return nil, nil
	case "local":
		store, err := storage.NewLocalStorage(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize local storage: %w", err)
		}
		return store, nil
	case "s3":
		store, err := storage.NewS3Storage(ctx, cfg.S3.Bucket, storage.S3Config{
			Region:       cfg.S3.Region,
			Endpoint:     cfg.S3.Endpoint,
			UsePathStyle: cfg.S3.Endpoint != "",
			Prefix:       cfg.S3.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize s3 storage: %w", err)
		}
		logger.Infof("s3 bucket=%s region=%s endpoint=%s", cfg.S3.Bucket, cfg.S3.Region, cfg.S3.Endpoint)
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

// ParamsFromConfig converts the configured benchmark defaults.
func ParamsFromConfig(b config.BenchmarkConfig) (bench.Params, error) {
	p := bench.Params{
		Inserts:            b.Inserts,
		Updates:            b.Updates,
		Deletes:            b.Deletes,
		Late:               b.Late,
		TopK:               b.TopK,
		Timeout:            b.Timeout,
		PollInterval:       b.PollInterval,
		RunBaseline:        b.RunBaseline,
		BaselineIterations: b.BaselineIterations,
		Seed:               b.Seed,
	}
	var err error
	if b.LateDate != "" {
		if p.LateDate, err = types.ParsePartitionDate(b.LateDate); err != nil {
			return bench.Params{}, fmt.Errorf("benchmark.late_date: %w", err)
		}
		p.Late = true
	}
	if b.BaseDate != "" {
		if p.BaseDate, err = types.ParsePartitionDate(b.BaseDate); err != nil {
			return bench.Params{}, fmt.Errorf("benchmark.base_date: %w", err)
		}
	}
	return p, nil
}

// Config returns the resolved configuration.
func (a *App) Config() *config.Config {
	return a.cfg
}

// Bench runs one benchmark invocation. A workload failure returns the
// partial result together with the error.
func (a *App) Bench(ctx context.Context, p bench.Params) (*report.BenchmarkResult, error) {
	return a.runner.Run(ctx, p)
}

// Baseline times the configured derivations without any workload.
func (a *App) Baseline(ctx context.Context) (*baseline.Result, error) {
	return a.timer.Run(ctx, baseline.Options{Iterations: a.cfg.Benchmark.BaselineIterations})
}

// Audit compares source and views for the given dates.
func (a *App) Audit(ctx context.Context, dates []types.PartitionDate, k int) (*report.CorrectnessSummary, error) {
	summary, err := a.auditor.Audit(ctx, dates, k)
	if err != nil {
		return nil, err
	}
	return report.Summarize(summary), nil
}

// ReadPath compares serving each aggregate from its view with recomputing it.
func (a *App) ReadPath(ctx context.Context) ([]baseline.ReadComparison, error) {
	return a.timer.CompareReadPath(ctx, baseline.Options{Iterations: a.cfg.Benchmark.BaselineIterations})
}

// Close releases every shared resource. It is safe to call more than once.
func (a *App) Close() error {
	var firstErr error
	a.closeOnce.Do(func() {
		if a.history != nil {
			if err := a.history.Close(); err != nil {
				logger.Errorf("failed to close history: %v", err)
				firstErr = err
			}
		}
		if a.pool != nil {
			a.pool.Close()
		}
	})
	return firstErr
}

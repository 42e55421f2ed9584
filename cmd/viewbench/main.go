// Package main implements the viewbench binary. Depending on --mode it runs
// one benchmark, a standalone baseline, a correctness audit, a read path
// comparison, or the serve-mode daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/juju/loggo"

	"github.com/conflictmonitor/viewbench/internal/app"
	"github.com/conflictmonitor/viewbench/internal/config"
	vberrors "github.com/conflictmonitor/viewbench/internal/errors"
	"github.com/conflictmonitor/viewbench/internal/report"
	"github.com/conflictmonitor/viewbench/pkg/types"
)

var (
	version = "dev"
	commit  = "unknown"
)

var logger = loggo.GetLogger("viewbench")

type options struct {
	configFile string
	dataDir    string
	mode       string
	dsn        string
	logLevel   string
	format     string
	httpAddr   string
	grpcAddr   string

	inserts      int
	updates      int
	deletes      int
	late         bool
	lateDate     string
	baseDate     string
	topK         int
	timeout      time.Duration
	pollInterval time.Duration
	runBaseline  *bool
	iterations   int
	seed         int64
	dates        string
}

func main() {
	var o options
	var showVersion bool

	flag.StringVar(&o.configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&o.dataDir, "data-dir", "", "Base directory for local state")
	flag.StringVar(&o.mode, "mode", "", "Mode: bench, baseline, audit, readpath, serve")
	flag.StringVar(&o.dsn, "dsn", "", "Postgres connection string")
	flag.StringVar(&o.logLevel, "log-level", "", "loggo configuration, e.g. <root>=DEBUG")
	flag.StringVar(&o.format, "format", "", "Output format: json or table")
	flag.StringVar(&o.httpAddr, "http-addr", "", "HTTP API address (serve mode)")
	flag.StringVar(&o.grpcAddr, "grpc-addr", "", "gRPC health address (serve mode)")

	flag.IntVar(&o.inserts, "insert", -1, "Rows to insert")
	flag.IntVar(&o.updates, "update", -1, "Rows to update")
	flag.IntVar(&o.deletes, "delete", -1, "Rows to delete")
	flag.BoolVar(&o.late, "late", false, "Insert into a historical partition")
	flag.StringVar(&o.lateDate, "late-date", "", "Historical partition for late inserts (YYYYMMDD)")
	flag.StringVar(&o.baseDate, "base-date", "", "Override the newest-partition lookup (YYYYMMDD)")
	flag.IntVar(&o.topK, "top-k", 0, "Top-K ranking size")
	flag.DurationVar(&o.timeout, "timeout", 0, "Convergence timeout")
	flag.DurationVar(&o.pollInterval, "poll-interval", 0, "Convergence poll interval")
	flag.BoolFunc("baseline", "Run the full recompute baseline (--baseline=false to skip)", func(s string) error {
		v, err := strconv.ParseBool(s)
		if err != nil {
			return err
		}
		o.runBaseline = &v
		return nil
	})
	flag.BoolFunc("no-baseline", "Skip the full recompute baseline", func(s string) error {
		v, err := strconv.ParseBool(s)
		if err != nil {
			return err
		}
		v = !v
		o.runBaseline = &v
		return nil
	})
	flag.IntVar(&o.iterations, "iterations", 0, "Baseline iterations per derivation")
	flag.Int64Var(&o.seed, "seed", 0, "Workload seed (0 = time based)")
	flag.StringVar(&o.dates, "dates", "", "Comma separated dates to audit (audit mode)")
	flag.BoolVar(&showVersion, "version", false, "Show version information")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "viewbench - convergence and correctness benchmark for incrementally maintained views\n\n")
		fmt.Fprintf(os.Stderr, "Usage: viewbench [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  viewbench --insert 20000 --update 1000 --delete 500\n")
		fmt.Fprintf(os.Stderr, "  viewbench --insert 5000 --late-date 20240105 --format json\n")
		fmt.Fprintf(os.Stderr, "  viewbench --mode audit --dates 20240105,20240110\n")
		fmt.Fprintf(os.Stderr, "  viewbench --mode serve --config /etc/viewbench/config.yaml\n")
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  VIEWBENCH_PG_DSN        Postgres connection string (or DATABASE_URL)\n")
		fmt.Fprintf(os.Stderr, "  VIEWBENCH_MODE          Mode\n")
		fmt.Fprintf(os.Stderr, "  VIEWBENCH_LOG_LEVEL     loggo configuration\n")
		fmt.Fprintf(os.Stderr, "  VIEWBENCH_STORAGE_TYPE  Report archive (none, local, s3)\n")
	}
	flag.Parse()

	if showVersion {
		fmt.Printf("viewbench version %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	// A missing .env file is fine.
	_ = godotenv.Load()

	cfg, err := loadConfig(o)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(2)
	}
	if err := loggo.ConfigureLoggers(cfg.LogLevel); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid log level %q: %v\n", cfg.LogLevel, err)
		os.Exit(2)
	}

	printBanner(cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	if err := run(ctx, cfg, o); err != nil {
		logger.Errorf("%v", err)
		if vberrors.GetCategory(err) == vberrors.ErrCategoryValidation {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, o options) error {
	if cfg.Mode == config.ModeServe {
		// serve installs its own signal handling
		ctx = context.WithoutCancel(ctx)
	}
	application, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer application.Close()

	format := report.Format(cfg.Report.Format)
	out := os.Stdout

	switch cfg.Mode {
	case config.ModeBench:
		p, err := app.ParamsFromConfig(cfg.Benchmark)
		if err != nil {
			return err
		}
		result, runErr := application.Bench(ctx, p)
		if result != nil {
			if err := report.Write(out, result, format); err != nil {
				return err
			}
		}
		return runErr

	case config.ModeBaseline:
		result, err := application.Baseline(ctx)
		if err != nil {
			return err
		}
		return report.WriteBaseline(out, result, format)

	case config.ModeAudit:
		dates, err := parseDates(o.dates)
		if err != nil {
			return err
		}
		summary, err := application.Audit(ctx, dates, cfg.Benchmark.TopK)
		if err != nil {
			return err
		}
		return report.WriteCorrectness(out, summary, format)

	case config.ModeReadPath:
		cmps, err := application.ReadPath(ctx)
		if err != nil {
			return err
		}
		return report.WriteReadPath(out, cmps, format)

	case config.ModeServe:
		return application.Serve(ctx)
	}
	return fmt.Errorf("unsupported mode: %s", cfg.Mode)
}

// loadConfig layers defaults or the config file, environment and flags.
func loadConfig(o options) (*config.Config, error) {
	var cfg *config.Config
	var err error

	if o.configFile != "" {
		cfg, err = config.LoadFromFile(o.configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	} else {
		cfg = config.DefaultConfig()
	}

	config.LoadFromEnv(cfg)

	str := func(v string, dst *string) {
		if v != "" {
			*dst = v
		}
	}
	count := func(v int, dst *int) {
		if v >= 0 {
			*dst = v
		}
	}
	if o.mode != "" {
		cfg.Mode = config.Mode(o.mode)
	}
	str(o.dataDir, &cfg.DataDir)
	str(o.dsn, &cfg.Postgres.DSN)
	str(o.logLevel, &cfg.LogLevel)
	str(o.format, &cfg.Report.Format)
	str(o.httpAddr, &cfg.HTTP.Addr)
	str(o.grpcAddr, &cfg.GRPC.Addr)

	b := &cfg.Benchmark
	count(o.inserts, &b.Inserts)
	count(o.updates, &b.Updates)
	count(o.deletes, &b.Deletes)
	if o.late {
		b.Late = true
	}
	str(o.lateDate, &b.LateDate)
	str(o.baseDate, &b.BaseDate)
	if o.topK > 0 {
		b.TopK = o.topK
	}
	if o.timeout > 0 {
		b.Timeout = o.timeout
	}
	if o.pollInterval > 0 {
		b.PollInterval = o.pollInterval
	}
	if o.runBaseline != nil {
		b.RunBaseline = *o.runBaseline
	}
	if o.iterations > 0 {
		b.BaselineIterations = o.iterations
	}
	if o.seed != 0 {
		b.Seed = o.seed
	}

	return cfg, nil
}

func parseDates(s string) ([]types.PartitionDate, error) {
	if strings.TrimSpace(s) == "" {
		return nil, vberrors.NewValidationError(vberrors.CodeInvalidRequest, "audit mode requires --dates")
	}
	var dates []types.PartitionDate
	for _, part := range strings.Split(s, ",") {
		d, err := types.ParsePartitionDate(part)
		if err != nil {
			return nil, vberrors.Wrap(vberrors.ErrCategoryValidation, vberrors.CodeInvalidDate, "--dates", err)
		}
		dates = append(dates, d)
	}
	return dates, nil
}

// printBanner logs the startup banner with a configuration summary.
func printBanner(cfg *config.Config) {
	logger.Infof("╔═══════════════════════════════════════════════════════════╗")
	logger.Infof("║                        VIEWBENCH                          ║")
	logger.Infof("║   Convergence & Correctness Benchmark Harness             ║")
	logger.Infof("╚═══════════════════════════════════════════════════════════╝")
	logger.Infof("Configuration:")
	logger.Infof("  Mode:     %s", cfg.Mode)
	logger.Infof("  Data Dir: %s", cfg.DataDir)
	logger.Infof("  Storage:  %s", cfg.Storage.Type)

	switch cfg.Mode {
	case config.ModeBench:
		b := cfg.Benchmark
		logger.Infof("Benchmark:")
		logger.Infof("  Counts:   insert=%d update=%d delete=%d", b.Inserts, b.Updates, b.Deletes)
		logger.Infof("  Timeout:  %v (poll %v)", b.Timeout, b.PollInterval)
		logger.Infof("  Baseline: %t (iterations %d)", b.RunBaseline, b.BaselineIterations)
	case config.ModeServe:
		logger.Infof("Serve:")
		logger.Infof("  HTTP:    %s", cfg.HTTP.Addr)
		if cfg.GRPC.Enabled {
			logger.Infof("  gRPC:    %s", cfg.GRPC.Addr)
		}
		logger.Infof("  Channel: %s", cfg.Watcher.Channel)
	}
}

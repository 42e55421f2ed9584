// Package main implements viewbench-workload, which applies one synthetic
// insert/update/delete batch to the source table and optionally closes it
// with a marker row.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"github.com/juju/clock"
	"github.com/juju/loggo"

	"github.com/conflictmonitor/viewbench/internal/config"
	vberrors "github.com/conflictmonitor/viewbench/internal/errors"
	"github.com/conflictmonitor/viewbench/internal/pgstore"
	"github.com/conflictmonitor/viewbench/internal/workload"
	"github.com/conflictmonitor/viewbench/pkg/types"
)

var logger = loggo.GetLogger("viewbench.workload.cmd")

type flags struct {
	configFile string
	dsn        string
	logLevel   string

	inserts int
	updates int
	deletes int
	n       int

	late       bool
	lateDate   string
	baseDate   string
	marker     string
	markerDate string
	seed       int64
}

func main() {
	var f flags
	flag.StringVar(&f.configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&f.dsn, "dsn", "", "Postgres connection string")
	flag.StringVar(&f.logLevel, "log-level", "", "loggo configuration")
	flag.IntVar(&f.inserts, "insert", 0, "Rows to insert (-1 = use --n)")
	flag.IntVar(&f.updates, "update", 0, "Rows to update (-1 = use --n)")
	flag.IntVar(&f.deletes, "delete", 0, "Rows to delete (-1 = use --n)")
	flag.IntVar(&f.n, "n", 1000, "Default row count for -1 counts")
	flag.BoolVar(&f.late, "late", false, "Insert into a random historical partition")
	flag.StringVar(&f.lateDate, "late-date", "", "Insert into this partition (YYYYMMDD); implies --late")
	flag.StringVar(&f.baseDate, "base-date", "", "Override the newest-partition lookup (YYYYMMDD)")
	flag.StringVar(&f.marker, "marker", "", "Batch id or __batch_<id>__ actor to emit after the batch")
	flag.StringVar(&f.markerDate, "marker-date", "", "Partition for the marker row (default: insert date)")
	flag.Int64Var(&f.seed, "seed", 0, "Random seed (0 = time based)")
	flag.Parse()

	_ = godotenv.Load()

	cfg, req, err := resolve(f, clock.WallClock)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}
	if err := loggo.ConfigureLoggers(cfg.LogLevel); err != nil {
		fmt.Fprintf(os.Stderr, "error: invalid log level: %v\n", err)
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	pool, err := pgstore.NewPool(ctx, cfg.Postgres)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	gen := workload.NewSyntheticGenerator(pgstore.NewSourceStore(pool, cfg.Schema), clock.WallClock)
	summary, err := gen.Apply(ctx, req)
	printSummary(os.Stdout, summary)
	if err != nil {
		if phase, ok := vberrors.FailedPhase(err); ok {
			fmt.Fprintf(os.Stderr, "error: %s phase failed: %v\n", phase, err)
		} else {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}

// resolve builds the configuration and the batch request from the flags.
func resolve(f flags, clk clock.Clock) (*config.Config, workload.Request, error) {
	var cfg *config.Config
	var err error
	if f.configFile != "" {
		if cfg, err = config.LoadFromFile(f.configFile); err != nil {
			return nil, workload.Request{}, err
		}
	} else {
		cfg = config.DefaultConfig()
	}
	config.LoadFromEnv(cfg)
	if f.dsn != "" {
		cfg.Postgres.DSN = f.dsn
	}
	if f.logLevel != "" {
		cfg.LogLevel = f.logLevel
	}
	if err := cfg.Schema.Validate(); err != nil {
		return nil, workload.Request{}, err
	}

	count := func(v int) int {
		if v == -1 {
			return f.n
		}
		return v
	}
	req := workload.Request{
		Inserts: count(f.inserts),
		Updates: count(f.updates),
		Deletes: count(f.deletes),
		Late:    f.late,
		Seed:    f.seed,
	}
	if req.Seed == 0 {
		req.Seed = clk.Now().UnixNano()
	}

	date := func(name, s string, dst *types.PartitionDate) error {
		if s == "" {
			return nil
		}
		d, err := types.ParsePartitionDate(s)
		if err != nil {
			return fmt.Errorf("--%s: %w", name, err)
		}
		*dst = d
		return nil
	}
	if err := date("late-date", f.lateDate, &req.LateDate); err != nil {
		return nil, workload.Request{}, err
	}
	if err := date("base-date", f.baseDate, &req.BaseDate); err != nil {
		return nil, workload.Request{}, err
	}
	if err := date("marker-date", f.markerDate, &req.MarkerDate); err != nil {
		return nil, workload.Request{}, err
	}
	if req.LateDate != 0 {
		req.Late = true
	}
	if f.marker != "" {
		if req.Marker, err = types.ParseMarker(f.marker); err != nil {
			return nil, workload.Request{}, err
		}
	}
	if err := req.Validate(); err != nil {
		return nil, workload.Request{}, err
	}
	return cfg, req, nil
}

// printSummary writes one line per committed phase.
func printSummary(w io.Writer, s *workload.Summary) {
	if s == nil {
		return
	}
	for _, p := range s.Phases {
		fmt.Fprintln(w, p.Line())
	}
	if len(s.Phases) == 0 {
		logger.Infof("nothing to do")
		return
	}
	rows := 0
	for _, p := range s.Phases {
		rows += p.Rows
	}
	logger.Infof("%s rows across %d partitions in %s", humanize.Comma(int64(rows)), len(s.ImpactedDates), s.Elapsed)
}

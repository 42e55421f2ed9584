package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conflictmonitor/viewbench/internal/config"
	vberrors "github.com/conflictmonitor/viewbench/internal/errors"
	"github.com/conflictmonitor/viewbench/pkg/types"
)

func TestLoadConfig_FlagsOverride(t *testing.T) {
	t.Setenv("VIEWBENCH_INSERTS", "50")
	o := options{
		mode:        "audit",
		dsn:         "postgres://example/db",
		inserts:     -1,
		updates:     7,
		deletes:     -1,
		lateDate:    "20240105",
		timeout:     time.Minute,
		runBaseline: boolPtr(false),
	}
	cfg, err := loadConfig(o)
	require.NoError(t, err)

	assert.Equal(t, config.ModeAudit, cfg.Mode)
	assert.Equal(t, "postgres://example/db", cfg.Postgres.DSN)
	assert.Equal(t, 50, cfg.Benchmark.Inserts, "unset flag keeps the environment value")
	assert.Equal(t, 7, cfg.Benchmark.Updates)
	assert.Equal(t, "20240105", cfg.Benchmark.LateDate)
	assert.Equal(t, time.Minute, cfg.Benchmark.Timeout)
	assert.False(t, cfg.Benchmark.RunBaseline)
}

func boolPtr(v bool) *bool { return &v }

func TestLoadConfig_BaselineOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "viewbench.yaml")
	require.NoError(t, os.WriteFile(path, []byte("benchmark:\n  run_baseline: false\n"), 0o644))

	cfg, err := loadConfig(options{configFile: path, inserts: -1, updates: -1, deletes: -1})
	require.NoError(t, err)
	assert.False(t, cfg.Benchmark.RunBaseline, "file value kept without a flag")

	cfg, err = loadConfig(options{configFile: path, inserts: -1, updates: -1, deletes: -1, runBaseline: boolPtr(true)})
	require.NoError(t, err)
	assert.True(t, cfg.Benchmark.RunBaseline, "--baseline re-enables it")
}

func TestParseDates(t *testing.T) {
	dates, err := parseDates("20240110, 20240105")
	require.NoError(t, err)
	assert.Equal(t, []types.PartitionDate{20240110, 20240105}, dates)

	_, err = parseDates("")
	assert.Equal(t, vberrors.ErrCategoryValidation, vberrors.GetCategory(err))

	_, err = parseDates("20241301")
	assert.Equal(t, vberrors.ErrCategoryValidation, vberrors.GetCategory(err))
}

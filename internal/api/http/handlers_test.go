package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conflictmonitor/viewbench/internal/bench"
	vberrors "github.com/conflictmonitor/viewbench/internal/errors"
	"github.com/conflictmonitor/viewbench/internal/history"
	"github.com/conflictmonitor/viewbench/internal/report"
)

type fakeSource struct {
	gen       atomic.Uint64
	connected bool
}

func (f *fakeSource) Generation() uint64 { return f.gen.Load() }
func (f *fakeSource) Connected() bool    { return f.connected }

// fakeWaiter returns immediately when the generation already passed after,
// otherwise blocks until ctx ends.
type fakeWaiter struct{ source *fakeSource }

func (f fakeWaiter) WaitForGeneration(ctx context.Context, after uint64) (uint64, error) {
	if g := f.source.Generation(); g > after {
		return g, nil
	}
	<-ctx.Done()
	return f.source.Generation(), ctx.Err()
}

type fakeRunner struct {
	got    bench.Params
	result *report.BenchmarkResult
	err    error
}

func (f *fakeRunner) Run(_ context.Context, p bench.Params) (*report.BenchmarkResult, error) {
	f.got = p
	return f.result, f.err
}

type fakeResults struct {
	results map[string]*report.BenchmarkResult
}

func (f fakeResults) Get(_ context.Context, id string) (*report.BenchmarkResult, error) {
	r, ok := f.results[id]
	if !ok {
		return nil, history.ErrNotFound
	}
	return r, nil
}

func (f fakeResults) List(context.Context, int) ([]history.Entry, error) {
	var out []history.Entry
	for id := range f.results {
		out = append(out, history.Entry{BatchID: id})
	}
	return out, nil
}

func defaults() bench.Params {
	return bench.Params{Inserts: 100, TopK: 10, Timeout: time.Minute, PollInterval: 250 * time.Millisecond}
}

func newTestAPI(runner *fakeRunner) (*API, *fakeSource) {
	src := &fakeSource{connected: true}
	results := fakeResults{results: map[string]*report.BenchmarkResult{"abc": {BatchID: "abc"}}}
	return NewAPI(src, fakeWaiter{source: src}, runner, results, defaults(), time.Second), src
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestGeneration(t *testing.T) {
	api, src := newTestAPI(&fakeRunner{})
	src.gen.Store(7)

	rec := do(t, api.Routes(), http.MethodGet, "/v1/generation", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	var resp GenerationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, uint64(7), resp.Generation)
	assert.True(t, resp.Connected)
}

func TestWaitGeneration(t *testing.T) {
	api, src := newTestAPI(&fakeRunner{})
	src.gen.Store(3)
	h := api.Routes()

	rec := do(t, h, http.MethodGet, "/v1/generation/wait?after=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp GenerationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, uint64(3), resp.Generation)
	require.NotNil(t, resp.Changed)
	assert.True(t, *resp.Changed)

	start := time.Now()
	rec = do(t, h, http.MethodGet, "/v1/generation/wait?after=3&timeout=20ms", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, *resp.Changed)
	assert.Less(t, time.Since(start), 900*time.Millisecond)

	rec = do(t, h, http.MethodGet, "/v1/generation/wait?after=x", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, h, http.MethodGet, "/v1/generation/wait?after=1&timeout=-1s", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunBenchmark_MergesDefaults(t *testing.T) {
	runner := &fakeRunner{result: &report.BenchmarkResult{BatchID: "b1"}}
	api, _ := newTestAPI(runner)

	rec := do(t, api.Routes(), http.MethodPost, "/v1/benchmarks", `{"updates": 5, "late_date": "19900101", "timeout": "90s"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	assert.Equal(t, 100, runner.got.Inserts)
	assert.Equal(t, 5, runner.got.Updates)
	assert.True(t, runner.got.Late)
	assert.Equal(t, 90*time.Second, runner.got.Timeout)
	assert.Contains(t, rec.Body.String(), `"batch_id":"b1"`)
}

func TestRunBenchmark_TimeoutBoundedByWriteTimeout(t *testing.T) {
	runner := &fakeRunner{result: &report.BenchmarkResult{BatchID: "b1"}}
	api, _ := newTestAPI(runner)
	h := api.WithMaxRunTimeout(20 * time.Minute).Routes()

	rec := do(t, h, http.MethodPost, "/v1/benchmarks", `{"timeout": "20m"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "write timeout")
	assert.Zero(t, runner.got.Timeout, "runner must not be called")

	rec = do(t, h, http.MethodPost, "/v1/benchmarks", `{"timeout": "15m"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, 15*time.Minute, runner.got.Timeout)
}

func TestRunBenchmark_Errors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		err    error
		status int
	}{
		{"bad json", `{`, nil, http.StatusBadRequest},
		{"bad date", `{"base_date": "20241301"}`, nil, http.StatusBadRequest},
		{"invalid params", `{"top_k": 0}`, nil, http.StatusBadRequest},
		{"busy", `{}`, bench.ErrBusy, http.StatusConflict},
		{"internal", `{}`, errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api, _ := newTestAPI(&fakeRunner{err: tt.err})
			rec := do(t, api.Routes(), http.MethodPost, "/v1/benchmarks", tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

func TestRunBenchmark_WorkloadFailureCarriesPartialResult(t *testing.T) {
	runner := &fakeRunner{
		result: &report.BenchmarkResult{BatchID: "p1", States: []string{"idle", "applying", "error"}},
		err:    vberrors.NewWorkloadError(vberrors.PhaseDelete, errors.New("lock timeout")),
	}
	api, _ := newTestAPI(runner)

	rec := do(t, api.Routes(), http.MethodPost, "/v1/benchmarks", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "DELETE_FAILED")
	assert.Contains(t, rec.Body.String(), `"p1"`)
}

func TestBenchmarks_GetAndList(t *testing.T) {
	api, _ := newTestAPI(&fakeRunner{})
	h := api.Routes()

	rec := do(t, h, http.MethodGet, "/v1/benchmarks/abc", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/v1/benchmarks/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "OBJECT_NOT_FOUND")

	rec = do(t, h, http.MethodGet, "/v1/benchmarks?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []history.Entry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	assert.Len(t, entries, 1)

	rec = do(t, h, http.MethodGet, "/v1/benchmarks?limit=x", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth_DegradedWithoutListener(t *testing.T) {
	api, src := newTestAPI(&fakeRunner{})
	src.connected = false

	rec := do(t, api.Routes(), http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"degraded"`)
}

func TestRecoveryMiddleware(t *testing.T) {
	h := DefaultMiddleware()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := do(t, h, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "internal server error")
}

package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/conflictmonitor/viewbench/internal/bench"
	vberrors "github.com/conflictmonitor/viewbench/internal/errors"
	"github.com/conflictmonitor/viewbench/internal/history"
	"github.com/conflictmonitor/viewbench/internal/report"
	"github.com/conflictmonitor/viewbench/pkg/types"
)

// GenerationSource exposes the watcher counter. *watcher.State satisfies it.
type GenerationSource interface {
	Generation() uint64
	Connected() bool
}

// GenerationWaiter blocks until the counter passes a value. *watcher.Notifier satisfies it.
type GenerationWaiter interface {
	WaitForGeneration(ctx context.Context, after uint64) (uint64, error)
}

// BenchmarkRunner runs one invocation. *bench.Runner satisfies it.
type BenchmarkRunner interface {
	Run(ctx context.Context, p bench.Params) (*report.BenchmarkResult, error)
}

// ResultStore reads produced results. *history.Store satisfies it.
type ResultStore interface {
	Get(ctx context.Context, batchID string) (*report.BenchmarkResult, error)
	List(ctx context.Context, limit int) ([]history.Entry, error)
}

// GenerationResponse is the body of the generation endpoints.
type GenerationResponse struct {
	Generation uint64 `json:"generation"`
	Connected  bool   `json:"connected"`
	Changed    *bool  `json:"changed,omitempty"`
}

// API holds the handlers of the serve mode.
type API struct {
	source   GenerationSource
	waiter   GenerationWaiter
	runner   BenchmarkRunner
	results  ResultStore
	defaults bench.Params
	maxWait  time.Duration

	// maxRunTimeout bounds the convergence timeout of a benchmark request;
	// zero means unbounded.
	maxRunTimeout time.Duration
}

// NewAPI creates the handlers. results may be nil when no history is kept.
func NewAPI(source GenerationSource, waiter GenerationWaiter, runner BenchmarkRunner, results ResultStore, defaults bench.Params, maxWait time.Duration) *API {
	if maxWait <= 0 {
		maxWait = 30 * time.Second
	}
	return &API{
		source:   source,
		waiter:   waiter,
		runner:   runner,
		results:  results,
		defaults: defaults,
		maxWait:  maxWait,
	}
}

// WithMaxRunTimeout rejects benchmark requests whose convergence timeout is
// not below d. The server's write timeout must exceed the whole run or the
// response is lost.
func (a *API) WithMaxRunTimeout(d time.Duration) *API {
	a.maxRunTimeout = d
	return a
}

// Routes registers every endpoint behind the default middleware chain.
func (a *API) Routes(extra ...func(http.Handler) http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", a.health)
	mux.HandleFunc("GET /v1/generation", a.generation)
	mux.HandleFunc("GET /v1/generation/wait", a.waitGeneration)
	mux.HandleFunc("POST /v1/benchmarks", a.runBenchmark)
	mux.HandleFunc("GET /v1/benchmarks", a.listBenchmarks)
	mux.HandleFunc("GET /v1/benchmarks/{id}", a.getBenchmark)

	chain := append([]func(http.Handler) http.Handler{DefaultMiddleware()}, extra...)
	return ChainMiddleware(chain...)(mux)
}

func (a *API) health(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if !a.source.Connected() {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     status,
		"generation": a.source.Generation(),
		"listener":   a.source.Connected(),
	})
}

func (a *API) generation(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, GenerationResponse{Generation: a.source.Generation(), Connected: a.source.Connected()})
}

// waitGeneration long-polls until the generation passes ?after or the
// bounded ?timeout elapses.
func (a *API) waitGeneration(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	after, err := strconv.ParseUint(q.Get("after"), 10, 64)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, vberrors.NewValidationError(vberrors.CodeInvalidRequest, "after must be a non-negative integer"))
		return
	}
	timeout := 10 * time.Second
	if s := q.Get("timeout"); s != "" {
		if timeout, err = time.ParseDuration(s); err != nil || timeout <= 0 {
			writeError(w, r, http.StatusBadRequest, vberrors.NewValidationError(vberrors.CodeInvalidRequest, "invalid timeout "+strconv.Quote(s)))
			return
		}
	}
	timeout = min(timeout, a.maxWait)

	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()
	gen, err := a.waiter.WaitForGeneration(ctx, after)
	changed := err == nil && gen > after
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		// client went away
		return
	}
	writeJSON(w, http.StatusOK, GenerationResponse{Generation: gen, Connected: a.source.Connected(), Changed: &changed})
}

// BenchmarkRequest overrides the configured defaults. Absent fields keep
// the default; durations use Go syntax ("15m", "250ms"); dates YYYYMMDD.
type BenchmarkRequest struct {
	Inserts            *int   `json:"inserts,omitempty"`
	Updates            *int   `json:"updates,omitempty"`
	Deletes            *int   `json:"deletes,omitempty"`
	Late               *bool  `json:"late,omitempty"`
	LateDate           string `json:"late_date,omitempty"`
	BaseDate           string `json:"base_date,omitempty"`
	TopK               *int   `json:"top_k,omitempty"`
	Timeout            string `json:"timeout,omitempty"`
	PollInterval       string `json:"poll_interval,omitempty"`
	RunBaseline        *bool  `json:"run_baseline,omitempty"`
	BaselineIterations *int   `json:"baseline_iterations,omitempty"`
	Seed               *int64 `json:"seed,omitempty"`
}

// Params merges the request over defaults.
func (req BenchmarkRequest) Params(defaults bench.Params) (bench.Params, error) {
	p := defaults
	setInt(&p.Inserts, req.Inserts)
	setInt(&p.Updates, req.Updates)
	setInt(&p.Deletes, req.Deletes)
	setInt(&p.TopK, req.TopK)
	setInt(&p.BaselineIterations, req.BaselineIterations)
	if req.Late != nil {
		p.Late = *req.Late
	}
	if req.RunBaseline != nil {
		p.RunBaseline = *req.RunBaseline
	}
	if req.Seed != nil {
		p.Seed = *req.Seed
	}

	var err error
	if req.LateDate != "" {
		if p.LateDate, err = types.ParsePartitionDate(req.LateDate); err != nil {
			return p, vberrors.Wrap(vberrors.ErrCategoryValidation, vberrors.CodeInvalidDate, "late_date", err)
		}
		p.Late = true
	}
	if req.BaseDate != "" {
		if p.BaseDate, err = types.ParsePartitionDate(req.BaseDate); err != nil {
			return p, vberrors.Wrap(vberrors.ErrCategoryValidation, vberrors.CodeInvalidDate, "base_date", err)
		}
	}
	if req.Timeout != "" {
		if p.Timeout, err = time.ParseDuration(req.Timeout); err != nil {
			return p, vberrors.Wrap(vberrors.ErrCategoryValidation, vberrors.CodeInvalidRequest, "timeout", err)
		}
	}
	if req.PollInterval != "" {
		if p.PollInterval, err = time.ParseDuration(req.PollInterval); err != nil {
			return p, vberrors.Wrap(vberrors.ErrCategoryValidation, vberrors.CodeInvalidRequest, "poll_interval", err)
		}
	}
	return p, p.Validate()
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

// runBenchmark runs synchronously. The run is detached from the request
// context so a disconnecting client does not abort a half-applied batch.
func (a *API) runBenchmark(w http.ResponseWriter, r *http.Request) {
	var req BenchmarkRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, http.StatusBadRequest, vberrors.NewValidationError(vberrors.CodeInvalidRequest, fmt.Sprintf("invalid request body: %v", err)))
			return
		}
	}
	p, err := req.Params(a.defaults)
	if err != nil {
		writeError(w, r, statusFor(err), err)
		return
	}
	if a.maxRunTimeout > 0 && p.Timeout >= a.maxRunTimeout {
		writeError(w, r, http.StatusBadRequest, vberrors.NewValidationError(vberrors.CodeInvalidRequest,
			fmt.Sprintf("timeout %s must be below the server write timeout %s", p.Timeout, a.maxRunTimeout)))
		return
	}

	result, err := a.runner.Run(context.WithoutCancel(r.Context()), p)
	if err != nil {
		if _, ok := vberrors.FailedPhase(err); ok && result != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{
				"error":      err.Error(),
				"code":       vberrors.GetCode(err),
				"request_id": GetRequestID(r.Context()),
				"result":     result,
			})
			return
		}
		writeError(w, r, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (a *API) listBenchmarks(w http.ResponseWriter, r *http.Request) {
	if a.results == nil {
		writeJSON(w, http.StatusOK, []history.Entry{})
		return
	}
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, r, http.StatusBadRequest, vberrors.NewValidationError(vberrors.CodeInvalidRequest, "invalid limit"))
			return
		}
		limit = n
	}
	entries, err := a.results.List(r.Context(), limit)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (a *API) getBenchmark(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if a.results == nil {
		writeError(w, r, http.StatusNotFound, vberrors.NewStorageError(vberrors.CodeObjectNotFound, "no history configured", nil))
		return
	}
	result, err := a.results.Get(r.Context(), id)
	if errors.Is(err, history.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, vberrors.NewStorageError(vberrors.CodeObjectNotFound, "benchmark "+id+" not found", err))
		return
	}
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

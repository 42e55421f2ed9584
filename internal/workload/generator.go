// Package workload synthesizes insert, update and delete batches against the
// source table and emits the marker row that closes a batch.
package workload

import (
	"context"
	"fmt"
	"time"

	"github.com/juju/clock"
	"github.com/juju/loggo"

	vberrors "github.com/conflictmonitor/viewbench/internal/errors"
	"github.com/conflictmonitor/viewbench/internal/pgstore"
	"github.com/conflictmonitor/viewbench/pkg/types"
)

var logger = loggo.GetLogger("viewbench.workload")

// SourceStore is the write surface of the source table. Each call is one
// transaction.
type SourceStore interface {
	MaxDate(ctx context.Context) (types.PartitionDate, bool, error)
	Insert(ctx context.Context, records []types.SourceRecord) (pgstore.Affected, error)
	UpdateSample(ctx context.Context, n int, seed float64, next func() pgstore.Mutation) (pgstore.Affected, error)
	DeleteSample(ctx context.Context, n int, seed float64) (pgstore.Affected, error)
}

// Generator applies one workload batch.
type Generator interface {
	Apply(ctx context.Context, req Request) (*Summary, error)
}

// Request describes one batch. Zero dates mean "resolve automatically".
type Request struct {
	Inserts int
	Updates int
	Deletes int

	// Late sends inserts to LateDate, or to a random historical date when
	// LateDate is zero. A non-zero LateDate implies Late.
	Late     bool
	LateDate types.PartitionDate

	// BaseDate overrides the newest-partition lookup.
	BaseDate types.PartitionDate

	// Marker is emitted after every other phase when set. MarkerDate
	// defaults to the insert target date.
	Marker     types.Marker
	MarkerDate types.PartitionDate

	Seed int64
}

// IsZero reports whether the request performs no work at all.
func (r Request) IsZero() bool {
	return r.Inserts == 0 && r.Updates == 0 && r.Deletes == 0 && r.Marker.IsZero()
}

// Validate checks counts and explicit dates.
func (r Request) Validate() error {
	if r.Inserts < 0 || r.Updates < 0 || r.Deletes < 0 {
		return vberrors.NewValidationError(vberrors.CodeInvalidRequest,
			fmt.Sprintf("counts must be non-negative (insert=%d update=%d delete=%d)", r.Inserts, r.Updates, r.Deletes))
	}
	for name, d := range map[string]types.PartitionDate{"late date": r.LateDate, "base date": r.BaseDate, "marker date": r.MarkerDate} {
		if d == 0 {
			continue
		}
		if err := d.Validate(); err != nil {
			return vberrors.Wrap(vberrors.ErrCategoryValidation, vberrors.CodeInvalidDate, name, err)
		}
	}
	return nil
}

// PhaseSummary records one committed phase.
type PhaseSummary struct {
	Phase     vberrors.Phase        `json:"phase"`
	Requested int                   `json:"requested"`
	Rows      int                   `json:"rows"`
	Date      types.PartitionDate   `json:"date,omitempty"`
	Dates     []types.PartitionDate `json:"dates,omitempty"`
	Late      bool                  `json:"late,omitempty"`
	Marker    string                `json:"marker,omitempty"`
	Duration  time.Duration         `json:"duration"`
}

// Line renders the human-readable one-line summary of the phase.
func (p PhaseSummary) Line() string {
	switch p.Phase {
	case vberrors.PhaseInsert:
		if p.Late {
			return fmt.Sprintf("inserted %d rows (late=%s)", p.Rows, p.Date)
		}
		return fmt.Sprintf("inserted %d rows (date=%s)", p.Rows, p.Date)
	case vberrors.PhaseUpdate:
		return fmt.Sprintf("updated %d rows (requested %d)", p.Rows, p.Requested)
	case vberrors.PhaseDelete:
		return fmt.Sprintf("deleted %d rows (requested %d)", p.Rows, p.Requested)
	case vberrors.PhaseMarker:
		return fmt.Sprintf("marker inserted: %s date=%s", p.Marker, p.Date)
	default:
		return string(p.Phase)
	}
}

// Summary describes the committed part of a batch.
type Summary struct {
	BaseDate   types.PartitionDate `json:"base_date"`
	TargetDate types.PartitionDate `json:"target_date"`
	MarkerDate types.PartitionDate `json:"marker_date,omitempty"`
	Phases     []PhaseSummary      `json:"phases"`

	// ImpactedDates is every partition the batch touched, ascending.
	ImpactedDates []types.PartitionDate `json:"impacted_dates"`

	// Elapsed covers all phases including the marker.
	Elapsed time.Duration `json:"elapsed"`
}

func (s *Summary) record(p PhaseSummary) {
	s.Phases = append(s.Phases, p)
	dates := append(append([]types.PartitionDate{}, s.ImpactedDates...), p.Dates...)
	s.ImpactedDates = types.UniqueSortedDates(dates...)
}

// SyntheticGenerator draws batches from the fixed value pools.
type SyntheticGenerator struct {
	store SourceStore
	clock clock.Clock
}

// NewSyntheticGenerator creates a generator over a source store.
func NewSyntheticGenerator(store SourceStore, clk clock.Clock) *SyntheticGenerator {
	if clk == nil {
		clk = clock.WallClock
	}
	return &SyntheticGenerator{store: store, clock: clk}
}

// Apply runs the insert, update, delete and marker phases in that order,
// each in its own transaction. On failure it returns the summary of the
// phases already committed together with a workload error naming the
// failing phase; committed phases are not rolled back.
func (g *SyntheticGenerator) Apply(ctx context.Context, req Request) (*Summary, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	summary := &Summary{}
	if req.IsZero() {
		return summary, nil
	}
	start := g.clock.Now()
	defer func() { summary.Elapsed = g.clock.Now().Sub(start) }()

	base, target, err := g.resolveDates(ctx, req)
	if err != nil {
		return summary, vberrors.NewWorkloadError(vberrors.PhaseResolve, err)
	}
	summary.BaseDate, summary.TargetDate = base, target

	if req.Inserts > 0 {
		p, err := g.insert(ctx, req, target)
		if err != nil {
			return summary, vberrors.NewWorkloadError(vberrors.PhaseInsert, err)
		}
		summary.record(p)
	}

	if req.Updates > 0 {
		p, err := g.update(ctx, req)
		if err != nil {
			return summary, vberrors.NewWorkloadError(vberrors.PhaseUpdate, err)
		}
		summary.record(p)
	}

	if req.Deletes > 0 {
		p, err := g.delete(ctx, req)
		if err != nil {
			return summary, vberrors.NewWorkloadError(vberrors.PhaseDelete, err)
		}
		summary.record(p)
	}

	// The marker goes last so its visibility downstream implies the rows
	// above were processed, given per-partition ordering in the pipeline.
	if !req.Marker.IsZero() {
		date := req.MarkerDate
		if date == 0 {
			date = target
		}
		p, err := g.marker(ctx, req, date)
		if err != nil {
			return summary, vberrors.NewWorkloadError(vberrors.PhaseMarker, err)
		}
		summary.MarkerDate = date
		summary.record(p)
	}

	return summary, nil
}

// resolveDates returns the base date and the insert target date.
func (g *SyntheticGenerator) resolveDates(ctx context.Context, req Request) (types.PartitionDate, types.PartitionDate, error) {
	base := req.BaseDate
	if base == 0 {
		max, ok, err := g.store.MaxDate(ctx)
		if err != nil {
			return 0, 0, err
		}
		if ok {
			base = max
		} else {
			base = types.PartitionDateOf(g.clock.Now())
		}
	}

	if !req.Late && req.LateDate == 0 {
		return base, base, nil
	}
	if req.LateDate != 0 {
		return base, req.LateDate, nil
	}
	r := phaseRand(req.Seed, vberrors.PhaseResolve)
	return base, LateDates[r.Intn(len(LateDates))], nil
}

func (g *SyntheticGenerator) insert(ctx context.Context, req Request, date types.PartitionDate) (PhaseSummary, error) {
	r := phaseRand(req.Seed, vberrors.PhaseInsert)
	records := make([]types.SourceRecord, req.Inserts)
	for i := range records {
		records[i] = syntheticRecord(r, date)
	}

	start := g.clock.Now()
	res, err := g.store.Insert(ctx, records)
	if err != nil {
		return PhaseSummary{}, err
	}
	p := PhaseSummary{
		Phase:     vberrors.PhaseInsert,
		Requested: req.Inserts,
		Rows:      res.Rows,
		Date:      date,
		Dates:     res.Dates,
		Late:      req.Late || req.LateDate != 0,
		Duration:  g.clock.Now().Sub(start),
	}
	logger.Infof("%s", p.Line())
	return p, nil
}

func (g *SyntheticGenerator) update(ctx context.Context, req Request) (PhaseSummary, error) {
	r := phaseRand(req.Seed, vberrors.PhaseUpdate)
	seed := serverSeed(r)
	next := func() pgstore.Mutation {
		return pgstore.Mutation{Sentiment: sentiment(r), Count: int32(1 + r.Intn(3))}
	}

	start := g.clock.Now()
	res, err := g.store.UpdateSample(ctx, req.Updates, seed, next)
	if err != nil {
		return PhaseSummary{}, err
	}
	p := PhaseSummary{
		Phase:     vberrors.PhaseUpdate,
		Requested: req.Updates,
		Rows:      res.Rows,
		Dates:     res.Dates,
		Duration:  g.clock.Now().Sub(start),
	}
	logger.Infof("%s", p.Line())
	return p, nil
}

func (g *SyntheticGenerator) delete(ctx context.Context, req Request) (PhaseSummary, error) {
	r := phaseRand(req.Seed, vberrors.PhaseDelete)

	start := g.clock.Now()
	res, err := g.store.DeleteSample(ctx, req.Deletes, serverSeed(r))
	if err != nil {
		return PhaseSummary{}, err
	}
	p := PhaseSummary{
		Phase:     vberrors.PhaseDelete,
		Requested: req.Deletes,
		Rows:      res.Rows,
		Dates:     res.Dates,
		Duration:  g.clock.Now().Sub(start),
	}
	logger.Infof("%s", p.Line())
	return p, nil
}

func (g *SyntheticGenerator) marker(ctx context.Context, req Request, date types.PartitionDate) (PhaseSummary, error) {
	r := phaseRand(req.Seed, vberrors.PhaseMarker)
	rec := req.Marker.Record(date, pick(r, Countries), pick(r, CategoryCodes))

	start := g.clock.Now()
	res, err := g.store.Insert(ctx, []types.SourceRecord{rec})
	if err != nil {
		return PhaseSummary{}, err
	}
	p := PhaseSummary{
		Phase:     vberrors.PhaseMarker,
		Requested: 1,
		Rows:      res.Rows,
		Date:      date,
		Dates:     []types.PartitionDate{date},
		Marker:    req.Marker.Actor(),
		Duration:  g.clock.Now().Sub(start),
	}
	logger.Infof("%s", p.Line())
	return p, nil
}

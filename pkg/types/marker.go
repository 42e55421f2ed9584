package types

import (
	"fmt"
	"regexp"
	"strings"
)

// Marker sentinel framing. A marker's source actor is MarkerPrefix + batch + MarkerSuffix.
const (
	MarkerPrefix = "__batch_"
	MarkerSuffix = "__"
)

// MarkerActorPattern matches exactly the sentinel actors. It is valid both
// as a Go regexp and as a Postgres POSIX regex, so SQL filters and
// IsMarkerActor classify actors the same way.
const MarkerActorPattern = `^__batch_[0-9A-Za-z-]+__$`

var (
	markerActorRe = regexp.MustCompile(MarkerActorPattern)
	batchIDRe     = regexp.MustCompile(`^[0-9A-Za-z-]+$`)
)

// Marker identifies the zero-weight sentinel row emitted after a workload batch.
type Marker struct {
	BatchID string `json:"batch_id"`
}

// NewMarker returns the marker for a batch identifier. Identifiers are
// ASCII letters, digits and dashes.
func NewMarker(batchID string) (Marker, error) {
	if !batchIDRe.MatchString(batchID) {
		return Marker{}, fmt.Errorf("%w: batch id %q", ErrInvalidMarker, batchID)
	}
	return Marker{BatchID: batchID}, nil
}

// ParseMarker extracts the marker from a sentinel actor string. A bare batch
// identifier is accepted as well so CLI users can pass either form.
func ParseMarker(s string) (Marker, error) {
	if IsMarkerActor(s) {
		return NewMarker(strings.TrimSuffix(strings.TrimPrefix(s, MarkerPrefix), MarkerSuffix))
	}
	if strings.HasPrefix(s, MarkerPrefix) {
		return Marker{}, fmt.Errorf("%w: %q", ErrInvalidMarker, s)
	}
	return NewMarker(s)
}

// Actor returns the sentinel actor string written to the source actor column.
func (m Marker) Actor() string {
	return MarkerPrefix + m.BatchID + MarkerSuffix
}

func (m Marker) String() string { return m.Actor() }

// IsZero reports whether the marker is unset.
func (m Marker) IsZero() bool { return m.BatchID == "" }

// IsMarkerActor reports whether an actor string is a marker sentinel.
func IsMarkerActor(actor string) bool {
	return markerActorRe.MatchString(actor)
}

// Record builds the marker row for a date. The row carries zero count and
// article metrics and a neutral sentiment so it never moves real aggregates.
func (m Marker) Record(date PartitionDate, targetActor, categoryCode string) SourceRecord {
	return SourceRecord{
		EventDate:      date,
		SourceActor:    StringPtr(m.Actor()),
		TargetActor:    StringPtr(targetActor),
		CategoryCode:   StringPtr(categoryCode),
		CountMetric:    0,
		ArticleMetric:  0,
		QuadClass:      VerbalCooperation,
		SentimentScore: 0,
	}
}

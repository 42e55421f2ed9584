package types

import (
	"fmt"
	"math"
)

// QuadClass is the four-valued event classification.
type QuadClass int16

const (
	VerbalCooperation   QuadClass = 1
	MaterialCooperation QuadClass = 2
	VerbalConflict      QuadClass = 3
	MaterialConflict    QuadClass = 4
)

// AllQuadClasses returns every quad class in ascending order.
func AllQuadClasses() []QuadClass {
	return []QuadClass{VerbalCooperation, MaterialCooperation, VerbalConflict, MaterialConflict}
}

// Valid reports whether q is one of the four defined classes.
func (q QuadClass) Valid() bool {
	return q >= VerbalCooperation && q <= MaterialConflict
}

func (q QuadClass) String() string {
	switch q {
	case VerbalCooperation:
		return "verbal_cooperation"
	case MaterialCooperation:
		return "material_cooperation"
	case VerbalConflict:
		return "verbal_conflict"
	case MaterialConflict:
		return "material_conflict"
	default:
		return fmt.Sprintf("quad_class(%d)", int16(q))
	}
}

// Sentiment score bounds.
const (
	MinSentiment = -10.0
	MaxSentiment = 10.0
)

// SourceRecord is one row of the source-of-truth event table.
type SourceRecord struct {
	// ID is assigned by the database; zero until the row is inserted.
	ID int64 `json:"id"`

	EventDate PartitionDate `json:"event_date"`

	// SourceActor and TargetActor are nullable actor codes.
	SourceActor *string `json:"source_actor,omitempty"`
	TargetActor *string `json:"target_actor,omitempty"`

	// CategoryCode is the event classification code.
	CategoryCode *string `json:"category_code,omitempty"`

	CountMetric   int32     `json:"count_metric"`
	ArticleMetric int32     `json:"article_metric"`
	QuadClass     QuadClass `json:"quad_class"`

	// SentimentScore lies in [MinSentiment, MaxSentiment].
	SentimentScore float64 `json:"sentiment_score"`
}

// Validate checks the record's invariants before it is written.
func (r *SourceRecord) Validate() error {
	if err := r.EventDate.Validate(); err != nil {
		return err
	}
	if !r.QuadClass.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidQuadClass, r.QuadClass)
	}
	if math.IsNaN(r.SentimentScore) || r.SentimentScore < MinSentiment || r.SentimentScore > MaxSentiment {
		return fmt.Errorf("%w: %v", ErrSentimentOutOfRange, r.SentimentScore)
	}
	if r.CountMetric < 0 || r.ArticleMetric < 0 {
		return fmt.Errorf("negative metric on record for %s", r.EventDate)
	}
	return nil
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string { return &s }

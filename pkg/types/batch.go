package types

import "time"

// Batch is the ephemeral context of one benchmark invocation.
type Batch struct {
	ID string `json:"id"`

	Inserts int `json:"inserts"`
	Updates int `json:"updates"`
	Deletes int `json:"deletes"`

	Late     bool          `json:"late"`
	LateDate PartitionDate `json:"late_date,omitempty"`

	// BaseDate is the newest partition at resolution time; TargetDate is
	// where inserts land (LateDate when Late is set).
	BaseDate   PartitionDate `json:"base_date"`
	TargetDate PartitionDate `json:"target_date"`

	Marker     Marker        `json:"marker"`
	MarkerDate PartitionDate `json:"marker_date"`

	Seed      int64     `json:"seed"`
	StartedAt time.Time `json:"started_at"`
}

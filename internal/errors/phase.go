package errors

import (
	"errors"
	"fmt"
)

// Phase names one transactional step of a workload batch.
type Phase string

const (
	PhaseResolve Phase = "resolve"
	PhaseInsert  Phase = "insert"
	PhaseUpdate  Phase = "update"
	PhaseDelete  Phase = "delete"
	PhaseMarker  Phase = "marker"
)

// Code returns the workload error code for the phase.
func (p Phase) Code() string {
	switch p {
	case PhaseResolve:
		return CodeResolveFailed
	case PhaseInsert:
		return CodeInsertFailed
	case PhaseUpdate:
		return CodeUpdateFailed
	case PhaseDelete:
		return CodeDeleteFailed
	case PhaseMarker:
		return CodeMarkerFailed
	default:
		return CodeUnexpected
	}
}

// NewWorkloadError wraps a phase failure. Phases committed before the failing
// one stay committed.
func NewWorkloadError(phase Phase, cause error) *ViewbenchError {
	return Wrap(ErrCategoryWorkload, phase.Code(), fmt.Sprintf("%s phase failed", phase), cause).
		WithDetails(map[string]interface{}{"phase": string(phase)})
}

// FailedPhase returns the workload phase recorded on err, if any.
func FailedPhase(err error) (Phase, bool) {
	var ve *ViewbenchError
	if !errors.As(err, &ve) || ve.Category != ErrCategoryWorkload {
		return "", false
	}
	p, ok := ve.Details["phase"].(string)
	return Phase(p), ok
}

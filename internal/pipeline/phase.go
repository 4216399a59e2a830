package pipeline

import (
	"fmt"
	"strings"
	"time"
)

// Phase names a pipeline stage.
type Phase string

const (
	PhaseCodes      Phase = "codes"
	PhaseThemes     Phase = "themes"
	PhaseDimensions Phase = "dimensions"
	PhaseModel      Phase = "model"
	// PhaseCritique and PhaseVisualize re-run a single synthesis sub-step.
	PhaseCritique  Phase = "critique"
	PhaseVisualize Phase = "visualize"
)

// Phases are the stages Run executes, in order.
var Phases = []Phase{PhaseCodes, PhaseThemes, PhaseDimensions, PhaseModel}

// AllPhases lists every phase, including the standalone ones Run skips.
var AllPhases = append(append([]Phase(nil), Phases...), PhaseCritique, PhaseVisualize)

// ParsePhase returns the phase named s.
func ParsePhase(s string) (Phase, error) {
	p := Phase(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllPhases {
		if p == known {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown phase %q", s)
}

// PhaseState is the lifecycle state of a phase.
type PhaseState string

const (
	StateNotStarted      PhaseState = "not_started"
	StateRunning         PhaseState = "running"
	StateCompleted       PhaseState = "completed"
	StatePartiallyFailed PhaseState = "partially_failed"
	StateFailed          PhaseState = "failed"
	StateCanceled        PhaseState = "canceled"
)

// Done reports whether the phase produced committed output.
func (s PhaseState) Done() bool {
	return s == StateCompleted || s == StatePartiallyFailed
}

// PhaseStatus is the last known state of a phase.
type PhaseStatus struct {
	Phase      Phase      `json:"phase"`
	State      PhaseState `json:"state"`
	Error      string     `json:"error,omitempty"`
	Runs       int        `json:"runs"`
	StartedAt  time.Time  `json:"startedAt,omitzero"`
	FinishedAt time.Time  `json:"finishedAt,omitzero"`
}

// PhaseReport describes one RunPhase invocation.
type PhaseReport struct {
	Phase    Phase         `json:"phase"`
	State    PhaseState    `json:"state"`
	Items    int           `json:"items"`
	Failed   int           `json:"failed"`
	Skipped  int           `json:"skipped"`
	Duration time.Duration `json:"duration"`
	Err      error         `json:"-"`
	Warnings []string      `json:"warnings,omitempty"`
}

// Error returns the report's error text, if any.
func (r *PhaseReport) Error() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

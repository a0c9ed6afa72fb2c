package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/extractd/internal/answer"
	"github.com/fyrsmithlabs/extractd/internal/file"
	"github.com/fyrsmithlabs/extractd/internal/interdoc"
	"github.com/fyrsmithlabs/extractd/internal/mold"
	"github.com/fyrsmithlabs/extractd/internal/prompter"
	"github.com/fyrsmithlabs/extractd/internal/prophet"
	"github.com/fyrsmithlabs/extractd/internal/question"
)

// Phase is one step of the preset answer of a question.
type Phase string

const (
	// PhaseLocate ranks candidate elements with the coarse locator.
	PhaseLocate Phase = "locate"

	// PhasePredict runs the precise extractors over the candidates.
	PhasePredict Phase = "predict"

	// PhaseMerge merges the preset answer with the user answers.
	PhaseMerge Phase = "merge"
)

// AllPhases returns all phases in execution order.
func AllPhases() []Phase {
	return []Phase{PhaseLocate, PhasePredict, PhaseMerge}
}

// PhaseStatus represents the completion status of a phase.
type PhaseStatus string

const (
	StatusPending    PhaseStatus = "pending"
	StatusInProgress PhaseStatus = "in_progress"
	StatusCompleted  PhaseStatus = "completed"
	StatusFailed     PhaseStatus = "failed"
	StatusSkipped    PhaseStatus = "skipped"
)

// PhaseResult captures the outcome of a phase execution.
type PhaseResult struct {
	Phase       Phase       `json:"phase"`
	Status      PhaseStatus `json:"status"`
	StartedAt   time.Time   `json:"started_at"`
	CompletedAt time.Time   `json:"completed_at,omitempty"`
	Error       string      `json:"error,omitempty"`
}

// Violation is a gate finding about a question.
type Violation struct {
	Type        ViolationType `json:"type"`
	Phase       Phase         `json:"phase"`
	Description string        `json:"description"`
	Severity    Severity      `json:"severity"`
	// Record is the exclusive status to store for the question, if any.
	Record *question.AIStatus `json:"record,omitempty"`
}

// ViolationType categorizes gate findings.
type ViolationType string

const (
	ViolationNoEnabledVersion ViolationType = "no_enabled_version"
	ViolationUncorrelated     ViolationType = "uncorrelated"
	ViolationSkipPredict      ViolationType = "skip_predict"
	ViolationNotTodo          ViolationType = "not_todo"
	ViolationLLMMold          ViolationType = "llm_mold"
	ViolationNoCandidates     ViolationType = "no_candidates"
)

// Severity tells the executor what to do with a violation.
type Severity string

const (
	// SeverityWarning is logged and execution continues.
	SeverityWarning Severity = "warning"
	// SeveritySkip stops the question without failing the task.
	SeveritySkip Severity = "skip"
)

// PresetState carries one question through the phases.
type PresetState struct {
	File     *file.File
	Mold     *mold.Mold
	Question *question.Question
	Target   prophet.Target
	// HasVersions is set when the mold has any model version.
	HasVersions bool
	// HasEnabled is set when one of them is enabled.
	HasEnabled bool
	Force      bool

	Reader *interdoc.Reader
	Crude  prompter.CrudeAnswer
	Preset *answer.Answer

	Phase      Phase
	Results    map[Phase]*PhaseResult
	Violations []Violation
	StartedAt  time.Time
	Status     PhaseStatus
}

// NewPresetState creates the state of one question.
func NewPresetState(f *file.File, m *mold.Mold, q *question.Question, r *interdoc.Reader, force bool) *PresetState {
	return &PresetState{
		File:       f,
		Mold:       m,
		Question:   q,
		Reader:     r,
		Force:      force,
		Results:    make(map[Phase]*PhaseResult),
		Violations: []Violation{},
		StartedAt:  time.Now(),
		Status:     StatusPending,
	}
}

// Skipped reports whether a gate stopped the question.
func (s *PresetState) Skipped() bool { return s.Status == StatusSkipped }

// CanTransition checks if the state can move on to next.
func (s *PresetState) CanTransition(next Phase) error {
	phases := AllPhases()
	currentIdx := -1
	nextIdx := -1
	for i, p := range phases {
		if p == s.Phase {
			currentIdx = i
		}
		if p == next {
			nextIdx = i
		}
	}
	if nextIdx == -1 {
		return fmt.Errorf("invalid target phase: %s", next)
	}
	if s.Phase == "" {
		if nextIdx != 0 {
			return fmt.Errorf("cannot start at %s: must follow sequential order", next)
		}
		return nil
	}
	if currentIdx == -1 {
		return fmt.Errorf("invalid current phase: %s", s.Phase)
	}
	if nextIdx != currentIdx+1 {
		return fmt.Errorf("cannot transition from %s to %s: must follow sequential order", s.Phase, next)
	}
	result, ok := s.Results[s.Phase]
	if !ok || result.Status != StatusCompleted {
		return fmt.Errorf("cannot transition: phase %s not completed", s.Phase)
	}
	return nil
}

// PhaseGate defines requirements that must hold before a phase runs.
type PhaseGate interface {
	// Name returns the gate identifier.
	Name() string

	// Check validates gate conditions, returning violations if any.
	Check(ctx context.Context, state *PresetState) ([]Violation, error)
}

// PhaseHandler executes the work of one phase.
type PhaseHandler interface {
	// Phase returns the phase this handler manages.
	Phase() Phase

	// Execute runs the phase work on state.
	Execute(ctx context.Context, state *PresetState) error
}

// PhaseHandlerFunc adapts a function to PhaseHandler.
type PhaseHandlerFunc struct {
	P  Phase
	Fn func(ctx context.Context, state *PresetState) error
}

func (h PhaseHandlerFunc) Phase() Phase { return h.P }

func (h PhaseHandlerFunc) Execute(ctx context.Context, state *PresetState) error {
	return h.Fn(ctx, state)
}

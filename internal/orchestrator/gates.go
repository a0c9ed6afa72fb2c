package orchestrator

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/extractd/internal/question"
	"github.com/fyrsmithlabs/extractd/internal/schema"
)

func recordStatus(s question.AIStatus) *question.AIStatus { return &s }

// VersionGate stops questions whose mold has nothing to predict with.
// A mold with versions but none enabled is DISABLE, a mold with no
// version at all is UNCORRELATED. Own predictors of the mold keep it
// predictable in both cases.
type VersionGate struct{}

// NewVersionGate creates a model version gate.
func NewVersionGate() *VersionGate { return &VersionGate{} }

// Name returns the gate identifier.
func (g *VersionGate) Name() string { return "model-version" }

// Check validates that a model is available.
func (g *VersionGate) Check(_ context.Context, state *PresetState) ([]Violation, error) {
	if state.Mold.HasPredictors() || state.HasEnabled {
		return nil, nil
	}
	if state.HasVersions {
		return []Violation{{
			Type:        ViolationNoEnabledVersion,
			Phase:       PhaseLocate,
			Description: fmt.Sprintf("mold %d has no enabled model version", state.Mold.ID),
			Severity:    SeveritySkip,
			Record:      recordStatus(question.AIDisable),
		}}, nil
	}
	return []Violation{{
		Type:        ViolationUncorrelated,
		Phase:       PhaseLocate,
		Description: fmt.Sprintf("mold %d has no model version", state.Mold.ID),
		Severity:    SeveritySkip,
		Record:      recordStatus(question.AIUncorrelated),
	}}, nil
}

// MoldTypeGate leaves LLM-only molds to the extraction service.
type MoldTypeGate struct{}

// NewMoldTypeGate creates a mold type gate.
func NewMoldTypeGate() *MoldTypeGate { return &MoldTypeGate{} }

// Name returns the gate identifier.
func (g *MoldTypeGate) Name() string { return "mold-type" }

// Check skips LLM molds.
func (g *MoldTypeGate) Check(_ context.Context, state *PresetState) ([]Violation, error) {
	if state.Mold.Type != schema.MoldLLM {
		return nil, nil
	}
	return []Violation{{
		Type:        ViolationLLMMold,
		Phase:       PhaseLocate,
		Description: "LLM molds are extracted by the studio",
		Severity:    SeveritySkip,
	}}, nil
}

// StatusGate skips questions that opted out of prediction and, unless
// forced, questions already past TODO.
type StatusGate struct{}

// NewStatusGate creates an ai_status gate.
func NewStatusGate() *StatusGate { return &StatusGate{} }

// Name returns the gate identifier.
func (g *StatusGate) Name() string { return "ai-status" }

// Check validates the question's ai_status.
func (g *StatusGate) Check(_ context.Context, state *PresetState) ([]Violation, error) {
	q := state.Question
	switch {
	case q.AIStatus == question.AISkipPredict:
		return []Violation{{
			Type:        ViolationSkipPredict,
			Phase:       PhaseLocate,
			Description: "prediction disabled for question",
			Severity:    SeveritySkip,
		}}, nil
	case !state.Force && q.AIStatus != question.AITodo:
		return []Violation{{
			Type:        ViolationNotTodo,
			Phase:       PhaseLocate,
			Description: fmt.Sprintf("ai_status is %s", q.AIStatus),
			Severity:    SeveritySkip,
		}}, nil
	}
	return nil, nil
}

// CandidateGate warns when the locator found nothing; the extractors
// then scan the whole document.
type CandidateGate struct{}

// NewCandidateGate creates a candidate gate.
func NewCandidateGate() *CandidateGate { return &CandidateGate{} }

// Name returns the gate identifier.
func (g *CandidateGate) Name() string { return "candidates" }

// Check reports an empty crude answer.
func (g *CandidateGate) Check(_ context.Context, state *PresetState) ([]Violation, error) {
	if len(state.Crude) > 0 {
		return nil, nil
	}
	return []Violation{{
		Type:        ViolationNoCandidates,
		Phase:       PhasePredict,
		Description: "no element located",
		Severity:    SeverityWarning,
	}}, nil
}

package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// PhaseObserver sees the result of every phase that ended, whether it
// completed, was skipped by a gate or failed.
type PhaseObserver func(res PhaseResult)

// Executor runs a question through locate, predict and merge. Gates run
// before their phase; a skip violation ends the run early.
type Executor struct {
	handlers map[Phase]PhaseHandler
	gates    map[Phase][]PhaseGate
	observe  PhaseObserver
	now      func() time.Time
}

// NewExecutor creates an executor without handlers.
func NewExecutor() *Executor {
	return &Executor{
		handlers: make(map[Phase]PhaseHandler),
		gates:    make(map[Phase][]PhaseGate),
		now:      time.Now,
	}
}

// RegisterHandler sets the handler of its phase, replacing any earlier one.
func (e *Executor) RegisterHandler(handler PhaseHandler) {
	e.handlers[handler.Phase()] = handler
}

// RegisterGate appends a gate to phase. Gates run in registration order.
func (e *Executor) RegisterGate(phase Phase, gate PhaseGate) {
	e.gates[phase] = append(e.gates[phase], gate)
}

// Observe sets the observer.
func (e *Executor) Observe(fn PhaseObserver) {
	e.observe = fn
}

// Execute runs state through all phases. A skip violation ends the run
// with StatusSkipped and no error; a handler error ends it with
// StatusFailed and that error.
func (e *Executor) Execute(ctx context.Context, state *PresetState) error {
	state.Status = StatusInProgress
	for _, phase := range AllPhases() {
		if err := ctx.Err(); err != nil {
			state.Status = StatusFailed
			return err
		}
		if err := state.CanTransition(phase); err != nil {
			state.Status = StatusFailed
			return err
		}
		done, err := e.runPhase(ctx, phase, state)
		if err != nil || done {
			return err
		}
	}
	state.Status = StatusCompleted
	return nil
}

// runPhase checks the gates of phase and runs its handler. done reports
// that a gate ended the run.
func (e *Executor) runPhase(ctx context.Context, phase Phase, state *PresetState) (done bool, err error) {
	res := &PhaseResult{Phase: phase, StartedAt: e.now()}
	defer func() {
		if res.Status != "" {
			res.CompletedAt = e.now()
			state.Results[phase] = res
			if e.observe != nil {
				e.observe(*res)
			}
		}
	}()

	violations, err := e.checkGates(ctx, phase, state)
	if err != nil {
		state.Status = StatusFailed
		return false, fmt.Errorf("phase %s: %w", phase, err)
	}
	state.Violations = append(state.Violations, violations...)
	if hasSkipViolation(violations) {
		state.Status = StatusSkipped
		res.Status = StatusSkipped
		res.Error = describeViolations(violations)
		return true, nil
	}

	handler, ok := e.handlers[phase]
	if !ok {
		state.Status = StatusFailed
		return false, fmt.Errorf("no handler registered for phase %s", phase)
	}
	if err := handler.Execute(ctx, state); err != nil {
		state.Status = StatusFailed
		res.Status = StatusFailed
		res.Error = err.Error()
		return false, err
	}
	res.Status = StatusCompleted
	state.Phase = phase
	return false, nil
}

// checkGates runs the gates of phase until one asks to skip.
func (e *Executor) checkGates(ctx context.Context, phase Phase, state *PresetState) ([]Violation, error) {
	var all []Violation
	for _, gate := range e.gates[phase] {
		violations, err := gate.Check(ctx, state)
		if err != nil {
			return nil, fmt.Errorf("gate %s: %w", gate.Name(), err)
		}
		all = append(all, violations...)
		if hasSkipViolation(violations) {
			break
		}
	}
	return all, nil
}

func hasSkipViolation(violations []Violation) bool {
	for _, v := range violations {
		if v.Severity == SeveritySkip {
			return true
		}
	}
	return false
}

// describeViolations joins violations as "[type] description; ...".
func describeViolations(violations []Violation) string {
	parts := make([]string, 0, len(violations))
	for _, v := range violations {
		parts = append(parts, fmt.Sprintf("[%s] %s", v.Type, v.Description))
	}
	return strings.Join(parts, "; ")
}

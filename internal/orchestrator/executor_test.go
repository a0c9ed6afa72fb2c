package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/extractd/internal/mold"
	"github.com/fyrsmithlabs/extractd/internal/question"
)

type mockHandler struct {
	mock.Mock
	phase Phase
}

func (m *mockHandler) Phase() Phase { return m.phase }

func (m *mockHandler) Execute(ctx context.Context, state *PresetState) error {
	args := m.Called(ctx, state)
	return args.Error(0)
}

type mockGate struct {
	mock.Mock
	name string
}

func (m *mockGate) Name() string { return m.name }

func (m *mockGate) Check(ctx context.Context, state *PresetState) ([]Violation, error) {
	args := m.Called(ctx, state)
	v, _ := args.Get(0).([]Violation)
	return v, args.Error(1)
}

func newState() *PresetState {
	return NewPresetState(nil, &mold.Mold{ID: 1}, &question.Question{ID: 7}, nil, false)
}

func executorWithHandlers() (*Executor, map[Phase]*mockHandler) {
	e := NewExecutor()
	handlers := map[Phase]*mockHandler{}
	for _, p := range AllPhases() {
		h := &mockHandler{phase: p}
		handlers[p] = h
		e.RegisterHandler(h)
	}
	return e, handlers
}

func TestExecutor_RunsAllPhases(t *testing.T) {
	e, handlers := executorWithHandlers()
	for _, h := range handlers {
		h.On("Execute", mock.Anything, mock.Anything).Return(nil).Once()
	}
	var observed []PhaseResult
	e.Observe(func(res PhaseResult) { observed = append(observed, res) })

	st := newState()
	require.NoError(t, e.Execute(context.Background(), st))

	assert.Equal(t, StatusCompleted, st.Status)
	assert.Equal(t, PhaseMerge, st.Phase)
	for _, p := range AllPhases() {
		require.Contains(t, st.Results, p)
		assert.Equal(t, StatusCompleted, st.Results[p].Status)
		handlers[p].AssertExpectations(t)
	}
	require.Len(t, observed, 3)
	for i, p := range AllPhases() {
		assert.Equal(t, p, observed[i].Phase)
		assert.Equal(t, StatusCompleted, observed[i].Status)
		assert.False(t, observed[i].CompletedAt.Before(observed[i].StartedAt))
	}
}

func TestExecutor_SkipViolationStopsWithoutError(t *testing.T) {
	e, handlers := executorWithHandlers()
	g := &mockGate{name: "skip"}
	g.On("Check", mock.Anything, mock.Anything).Return([]Violation{{
		Type:     ViolationNotTodo,
		Phase:    PhaseLocate,
		Severity: SeveritySkip,
	}}, nil)
	later := &mockGate{name: "later"}
	e.RegisterGate(PhaseLocate, g)
	e.RegisterGate(PhaseLocate, later)

	var observed []PhaseResult
	e.Observe(func(res PhaseResult) { observed = append(observed, res) })

	st := newState()
	require.NoError(t, e.Execute(context.Background(), st))

	require.Len(t, observed, 1)
	assert.Equal(t, StatusSkipped, observed[0].Status)
	assert.True(t, st.Skipped())
	assert.Equal(t, StatusSkipped, st.Results[PhaseLocate].Status)
	assert.Contains(t, st.Results[PhaseLocate].Error, string(ViolationNotTodo))
	handlers[PhaseLocate].AssertNotCalled(t, "Execute", mock.Anything, mock.Anything)
	later.AssertNotCalled(t, "Check", mock.Anything, mock.Anything)
}

func TestExecutor_WarningsContinue(t *testing.T) {
	e, handlers := executorWithHandlers()
	for _, h := range handlers {
		h.On("Execute", mock.Anything, mock.Anything).Return(nil)
	}
	g := &mockGate{name: "warn"}
	g.On("Check", mock.Anything, mock.Anything).Return([]Violation{{Type: ViolationNoCandidates, Severity: SeverityWarning}}, nil)
	e.RegisterGate(PhasePredict, g)

	st := newState()
	require.NoError(t, e.Execute(context.Background(), st))
	assert.Equal(t, StatusCompleted, st.Status)
	require.Len(t, st.Violations, 1)
	assert.Equal(t, ViolationNoCandidates, st.Violations[0].Type)
}

func TestExecutor_HandlerFailure(t *testing.T) {
	e, handlers := executorWithHandlers()
	boom := errors.New("boom")
	handlers[PhaseLocate].On("Execute", mock.Anything, mock.Anything).Return(nil)
	handlers[PhasePredict].On("Execute", mock.Anything, mock.Anything).Return(boom)

	st := newState()
	err := e.Execute(context.Background(), st)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, StatusFailed, st.Status)
	assert.Equal(t, StatusFailed, st.Results[PhasePredict].Status)
	assert.NotContains(t, st.Results, PhaseMerge)
	handlers[PhaseMerge].AssertNotCalled(t, "Execute", mock.Anything, mock.Anything)
}

func TestExecutor_GateError(t *testing.T) {
	e, _ := executorWithHandlers()
	g := &mockGate{name: "broken"}
	g.On("Check", mock.Anything, mock.Anything).Return(nil, errors.New("store down"))
	e.RegisterGate(PhaseLocate, g)

	st := newState()
	err := e.Execute(context.Background(), st)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
	assert.Equal(t, StatusFailed, st.Status)
}

func TestExecutor_MissingHandler(t *testing.T) {
	e := NewExecutor()
	st := newState()
	err := e.Execute(context.Background(), st)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no handler")
}

func TestExecutor_CancelledContext(t *testing.T) {
	e, _ := executorWithHandlers()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	st := newState()
	require.ErrorIs(t, e.Execute(ctx, st), context.Canceled)
	assert.Equal(t, StatusFailed, st.Status)
}

func TestPresetState_CanTransition(t *testing.T) {
	tests := []struct {
		name    string
		current Phase
		done    bool
		next    Phase
		wantErr bool
	}{
		{name: "start at locate", next: PhaseLocate},
		{name: "cannot start at predict", next: PhasePredict, wantErr: true},
		{name: "locate to predict", current: PhaseLocate, done: true, next: PhasePredict},
		{name: "locate not completed", current: PhaseLocate, next: PhasePredict, wantErr: true},
		{name: "no skipping", current: PhaseLocate, done: true, next: PhaseMerge, wantErr: true},
		{name: "unknown phase", next: Phase("verify"), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := newState()
			st.Phase = tt.current
			if tt.done {
				st.Results[tt.current] = &PhaseResult{Phase: tt.current, Status: StatusCompleted}
			}
			err := st.CanTransition(tt.next)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

package orchestrator

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/extractd/internal/mold"
	"github.com/fyrsmithlabs/extractd/internal/prompter"
	"github.com/fyrsmithlabs/extractd/internal/question"
	"github.com/fyrsmithlabs/extractd/internal/schema"
)

func TestVersionGate(t *testing.T) {
	own := json.RawMessage(`[{"path":["name"],"models":[{"name":"partial_text"}]}]`)
	tests := []struct {
		name        string
		predictors  json.RawMessage
		hasVersions bool
		hasEnabled  bool
		want        ViolationType
		record      question.AIStatus
	}{
		{name: "enabled version", hasVersions: true, hasEnabled: true},
		{name: "own predictors", predictors: own},
		{name: "own predictors with disabled versions", predictors: own, hasVersions: true},
		{name: "versions none enabled", hasVersions: true, want: ViolationNoEnabledVersion, record: question.AIDisable},
		{name: "no versions", want: ViolationUncorrelated, record: question.AIUncorrelated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := NewPresetState(nil, &mold.Mold{ID: 3, Predictors: tt.predictors}, &question.Question{}, nil, false)
			st.HasVersions, st.HasEnabled = tt.hasVersions, tt.hasEnabled

			vs, err := NewVersionGate().Check(context.Background(), st)
			require.NoError(t, err)
			if tt.want == "" {
				assert.Empty(t, vs)
				return
			}
			require.Len(t, vs, 1)
			assert.Equal(t, tt.want, vs[0].Type)
			assert.Equal(t, SeveritySkip, vs[0].Severity)
			require.NotNil(t, vs[0].Record)
			assert.Equal(t, tt.record, *vs[0].Record)
		})
	}
}

func TestMoldTypeGate(t *testing.T) {
	tests := []struct {
		typ  schema.MoldType
		skip bool
	}{
		{typ: schema.MoldComplex},
		{typ: schema.MoldHybrid},
		{typ: schema.MoldLLM, skip: true},
	}
	for _, tt := range tests {
		t.Run(tt.typ.String(), func(t *testing.T) {
			st := NewPresetState(nil, &mold.Mold{Type: tt.typ}, &question.Question{}, nil, false)
			vs, err := NewMoldTypeGate().Check(context.Background(), st)
			require.NoError(t, err)
			assert.Equal(t, tt.skip, hasSkipViolation(vs))
		})
	}
}

func TestStatusGate(t *testing.T) {
	tests := []struct {
		name   string
		status question.AIStatus
		force  bool
		want   ViolationType
	}{
		{name: "todo", status: question.AITodo},
		{name: "finished", status: question.AIFinish, want: ViolationNotTodo},
		{name: "finished forced", status: question.AIFinish, force: true},
		{name: "failed forced", status: question.AIFailed, force: true},
		{name: "skip predict", status: question.AISkipPredict, want: ViolationSkipPredict},
		{name: "skip predict forced", status: question.AISkipPredict, force: true, want: ViolationSkipPredict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := NewPresetState(nil, &mold.Mold{}, &question.Question{AIStatus: tt.status}, nil, tt.force)
			vs, err := NewStatusGate().Check(context.Background(), st)
			require.NoError(t, err)
			if tt.want == "" {
				assert.Empty(t, vs)
				return
			}
			require.Len(t, vs, 1)
			assert.Equal(t, tt.want, vs[0].Type)
			assert.Nil(t, vs[0].Record, "status skips leave the question untouched")
		})
	}
}

func TestCandidateGate(t *testing.T) {
	st := NewPresetState(nil, &mold.Mold{}, &question.Question{}, nil, false)
	vs, err := NewCandidateGate().Check(context.Background(), st)
	require.NoError(t, err)
	require.Len(t, vs, 1)
	assert.Equal(t, SeverityWarning, vs[0].Severity)

	st.Crude = prompter.CrudeAnswer{"name": nil}
	vs, err = NewCandidateGate().Check(context.Background(), st)
	require.NoError(t, err)
	assert.Empty(t, vs)
}

package hooks

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fyrsmithlabs/extractd/internal/events"
)

type recorder struct{ got []events.Event }

func (r *recorder) Publish(_ context.Context, e events.Event) error {
	r.got = append(r.got, e)
	return nil
}

func TestExecute_Order(t *testing.T) {
	hm := NewHookManager()
	var calls []string
	hm.RegisterHandler(HookPredictFinish, func(context.Context, Payload) error {
		calls = append(calls, "first")
		return nil
	})
	hm.RegisterHandler(HookPredictFinish, func(_ context.Context, p Payload) error {
		calls = append(calls, "second")
		assert.Equal(t, int64(3), p.QuestionID)
		return nil
	})
	require.NoError(t, hm.Execute(context.Background(), HookPredictFinish, Payload{QuestionID: 3}))
	assert.Equal(t, []string{"first", "second"}, calls)
}

func TestExecute_StopsAtError(t *testing.T) {
	hm := NewHookManager()
	called := false
	hm.RegisterHandler(HookAnswerSubmitted, func(context.Context, Payload) error { return errors.New("boom") })
	hm.RegisterHandler(HookAnswerSubmitted, func(context.Context, Payload) error {
		called = true
		return nil
	})
	err := hm.Execute(context.Background(), HookAnswerSubmitted, Payload{})
	assert.ErrorContains(t, err, "hook answer_submitted failed")
	assert.False(t, called)
}

func TestExecute_NoHandler(t *testing.T) {
	assert.NoError(t, NewHookManager().Execute(context.Background(), HookExtractFinish, Payload{}))
	var nilManager *HookManager
	assert.NoError(t, nilManager.Execute(context.Background(), HookExtractFinish, Payload{}))
}

func TestPublishEvents(t *testing.T) {
	hm := NewHookManager()
	rec := &recorder{}
	hm.PublishEvents(rec, zaptest.NewLogger(t))
	require.NoError(t, hm.Execute(context.Background(), HookPredictFinish, Payload{QuestionID: 1, FileID: 2, Status: "FINISH"}))
	require.Len(t, rec.got, 1)
	assert.Equal(t, events.QuestionPredicted, rec.got[0].Type)
	assert.Equal(t, int64(2), rec.got[0].FileID)
	assert.Equal(t, "predict_finish", rec.got[0].Data["hook"])
}

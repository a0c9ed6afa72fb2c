package hooks

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/extractd/internal/events"
)

// HookType names a lifecycle point.
type HookType string

const (
	// HookPredictFinish is fired after the predicted answer of a question
	// went through merge.
	HookPredictFinish HookType = "predict_finish"

	// HookAnswerSubmitted is fired after a user submission was merged.
	HookAnswerSubmitted HookType = "answer_submitted"

	// HookExtractFinish is fired after an LLM extraction callback was
	// applied.
	HookExtractFinish HookType = "extract_finish"
)

// Payload identifies the question a hook fires for.
type Payload struct {
	QuestionID int64
	FileID     int64
	MoldID     int64
	MoldName   string
	Status     string
}

// HookHandler handles one hook event.
type HookHandler func(ctx context.Context, p Payload) error

// HookManager manages lifecycle hooks.
type HookManager struct {
	mu       sync.RWMutex
	handlers map[HookType][]HookHandler
}

// NewHookManager creates an empty hook manager.
func NewHookManager() *HookManager {
	return &HookManager{handlers: make(map[HookType][]HookHandler)}
}

// RegisterHandler registers a handler for a hook type. Handlers run in
// registration order.
func (h *HookManager) RegisterHandler(hookType HookType, handler HookHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[hookType] = append(h.handlers[hookType], handler)
}

// Execute runs the handlers of hookType and stops at the first error.
func (h *HookManager) Execute(ctx context.Context, hookType HookType, p Payload) error {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	handlers := h.handlers[hookType]
	h.mu.RUnlock()

	for _, handler := range handlers {
		if err := handler(ctx, p); err != nil {
			return fmt.Errorf("hook %s failed: %w", hookType, err)
		}
	}
	return nil
}

var hookEvents = map[HookType]events.Type{
	HookPredictFinish:   events.QuestionPredicted,
	HookAnswerSubmitted: events.QuestionAnswered,
	HookExtractFinish:   events.QuestionPredicted,
}

// PublishEvents registers a handler on every hook type that forwards the
// payload as a status event. Publishing failures are logged only.
func (h *HookManager) PublishEvents(pub events.Publisher, logger *zap.Logger) {
	for hookType, typ := range hookEvents {
		hookType, typ := hookType, typ
		h.RegisterHandler(hookType, func(ctx context.Context, p Payload) error {
			events.Emit(ctx, pub, logger, events.Event{
				Type:       typ,
				FileID:     p.FileID,
				QuestionID: p.QuestionID,
				MoldID:     p.MoldID,
				Status:     p.Status,
				Data:       map[string]any{"hook": string(hookType)},
			})
			return nil
		})
	}
}

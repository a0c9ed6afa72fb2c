package postpipe

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/fyrsmithlabs/extractd/internal/answer"
	"github.com/fyrsmithlabs/extractd/internal/file"
	"github.com/fyrsmithlabs/extractd/internal/mold"
	"github.com/fyrsmithlabs/extractd/internal/question"
)

// Pack is what a workshop works on.
type Pack struct {
	Question *question.Question
	File     *file.File
	Mold     *mold.Mold
	Answer   *answer.Answer
}

// Workshop turns an answer into a customer deliverable.
type Workshop interface {
	Work(ctx context.Context, p Pack) (json.RawMessage, error)
}

// WorkshopFunc adapts a function to Workshop.
type WorkshopFunc func(ctx context.Context, p Pack) (json.RawMessage, error)

func (f WorkshopFunc) Work(ctx context.Context, p Pack) (json.RawMessage, error) { return f(ctx, p) }

// Built-in workshop names.
const (
	WorkshopFlat = "flat"
	WorkshopTree = "tree"
)

// Registry holds named workshops. Molds pick one by name through the
// prophet.workshops config.
type Registry struct {
	mu        sync.RWMutex
	workshops map[string]Workshop
	byMold    map[string]string
}

// NewRegistry returns a registry with the flat and tree exports and the
// given mold name to workshop mapping.
func NewRegistry(byMold map[string]string) *Registry {
	r := &Registry{workshops: map[string]Workshop{}, byMold: map[string]string{}}
	for k, v := range byMold {
		r.byMold[k] = v
	}
	r.Register(WorkshopFlat, WorkshopFunc(func(_ context.Context, p Pack) (json.RawMessage, error) {
		return json.Marshal(answer.Flat(p.Answer))
	}))
	r.Register(WorkshopTree, WorkshopFunc(func(_ context.Context, p Pack) (json.RawMessage, error) {
		return json.Marshal(answer.Tree(p.Answer, &p.Mold.Data))
	}))
	return r
}

// Register adds or replaces a workshop.
func (r *Registry) Register(name string, w Workshop) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workshops[name] = w
}

// ForMold returns the workshop configured for a mold name.
func (r *Registry) ForMold(moldName string) (Workshop, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.byMold[moldName]
	if !ok {
		return nil, false
	}
	w, ok := r.workshops[name]
	return w, ok
}

// Names lists the registered workshops.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.workshops))
	for name := range r.workshops {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Check reports mappings that name unknown workshops.
func (r *Registry) Check() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for moldName, name := range r.byMold {
		if _, ok := r.workshops[name]; !ok {
			return fmt.Errorf("postpipe: mold %q maps to unknown workshop %q", moldName, name)
		}
	}
	return nil
}

// core/registry.go
package core

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/chhz0/taskd/types"
)

// Strategy executes one kind of action. Validate runs when a task is
// created; Execute runs when it is dispatched.
type Strategy interface {
	Validate(payload json.RawMessage) error
	Execute(ctx context.Context, task *types.Task) error
}

type TaskRegistry struct {
	handlers map[types.Action]Strategy
	mu       sync.RWMutex
}

func NewTaskRegistry() *TaskRegistry {
	return &TaskRegistry{
		handlers: make(map[types.Action]Strategy),
	}
}

func (r *TaskRegistry) Register(action types.Action, strategy Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[action] = strategy
}

func (r *TaskRegistry) Get(action types.Action) (Strategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.handlers[action]
	return s, ok
}

// Actions lists the registered actions in lexical order.
func (r *TaskRegistry) Actions() []types.Action {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.Action, 0, len(r.handlers))
	for a := range r.handlers {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

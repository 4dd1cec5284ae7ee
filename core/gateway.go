// core/gateway.go
package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/chhz0/taskd/storage"
	"github.com/chhz0/taskd/types"
)

// ErrValidation marks a request the caller must fix. The message after
// the prefix is safe to show to the client.
var ErrValidation = errors.New("validation failed")

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

type CreateRequest struct {
	Action     types.Action     `json:"action"`
	Payload    json.RawMessage  `json:"payload"`
	RunAt      string           `json:"run_at"`
	Recurrence types.Recurrence `json:"recurrence,omitempty"`
}

// Gateway is the CRUD surface over the store. It never dispatches.
type Gateway struct {
	store    storage.Storage
	registry *TaskRegistry
	now      func() time.Time
	newID    func() string
}

func NewGateway(store storage.Storage, registry *TaskRegistry) *Gateway {
	return &Gateway{
		store:    store,
		registry: registry,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

func (g *Gateway) Create(ctx context.Context, req CreateRequest) (*types.Task, error) {
	task, err := g.validate(req)
	if err != nil {
		return nil, err
	}
	if err := g.store.Create(ctx, task); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	return task, nil
}

func (g *Gateway) validate(req CreateRequest) (*types.Task, error) {
	switch {
	case req.Action == "":
		return nil, validationError("Missing required field: action")
	case len(bytes.TrimSpace(req.Payload)) == 0 || bytes.Equal(bytes.TrimSpace(req.Payload), []byte("null")):
		return nil, validationError("Missing required field: payload")
	case strings.TrimSpace(req.RunAt) == "":
		return nil, validationError("Missing required field: run_at")
	}

	runAt, err := types.ParseTime(strings.TrimSpace(req.RunAt))
	if err != nil {
		return nil, validationError("Invalid run_at format. Use ISO8601 format (YYYY-MM-DDTHH:MM:SSZ)")
	}

	strategy, ok := g.registry.Get(req.Action)
	if !ok {
		return nil, validationError("Unsupported action type: %s (supported: %s)", req.Action, joinActions(g.registry.Actions()))
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(req.Payload, &obj); err != nil {
		return nil, validationError("payload must be a JSON object")
	}
	if err := strategy.Validate(req.Payload); err != nil {
		return nil, validationError("%s", err.Error())
	}

	if !req.Recurrence.Valid() {
		return nil, validationError("Unsupported recurrence: %s (use daily, weekly or monthly)", req.Recurrence)
	}

	now := types.Canonical(g.now())
	var payload bytes.Buffer
	if err := json.Compact(&payload, req.Payload); err != nil {
		return nil, validationError("payload must be a JSON object")
	}
	return &types.Task{
		ID:         g.newID(),
		Action:     req.Action,
		Payload:    json.RawMessage(payload.Bytes()),
		RunAt:      runAt,
		Status:     types.StatusScheduled,
		Recurrence: req.Recurrence,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// List returns tasks ordered by run_at. An empty status lists everything.
func (g *Gateway) List(ctx context.Context, status types.TaskStatus) ([]*types.Task, error) {
	if status != "" && !status.Valid() {
		return nil, validationError("Invalid status: %s", status)
	}
	return g.store.List(ctx, status)
}

func (g *Gateway) Get(ctx context.Context, taskID string) (*types.Task, error) {
	return g.store.Get(ctx, taskID)
}

func (g *Gateway) Delete(ctx context.Context, taskID string) error {
	task, err := g.store.Get(ctx, taskID)
	if err != nil {
		return err
	}
	return g.store.Delete(ctx, task.ID, task.RunAt)
}

func joinActions(actions []types.Action) string {
	names := make([]string, len(actions))
	for i, a := range actions {
		names[i] = string(a)
	}
	return strings.Join(names, ", ")
}

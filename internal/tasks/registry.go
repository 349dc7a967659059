// Package tasks tracks long-running operations that callers poll for.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type State string

const (
	StateQueued     State = "queued"
	StateInProgress State = "in_progress"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

func (state State) Terminal() bool {
	return state == StateCompleted || state == StateFailed
}

func (state State) rank() int {
	switch state {
	case StateQueued:
		return 0
	case StateInProgress:
		return 1
	case StateCompleted, StateFailed:
		return 2
	default:
		return -1
	}
}

var ErrTaskNotFound = errors.New("task not found")

type Task struct {
	ID        string    `json:"id"`
	Status    State     `json:"status"`
	Result    string    `json:"result,omitempty"`
	Subject   string    `json:"subject,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Operation is the body of a task. The returned message becomes the result of
// a completed task; an error's text becomes the result of a failed one.
type Operation func(ctx context.Context) (string, error)

// Registry is what HTTP handlers see. MemoryRegistry is the only
// implementation; state does not survive a restart.
type Registry interface {
	Submit(subject string, operation Operation) Task
	Get(id string) (Task, error)
}

type MemoryRegistry struct {
	mu       sync.RWMutex
	tasks    map[string]*Task
	running  sync.WaitGroup
	baseCtx  context.Context
	logger   zerolog.Logger
	observer func(Task)
	now      func() time.Time
}

type Option func(*MemoryRegistry)

// WithObserver registers a callback invoked after every state change.
func WithObserver(observer func(Task)) Option {
	return func(registry *MemoryRegistry) {
		registry.observer = observer
	}
}

// WithBaseContext sets the context task bodies run under. Submitting callers'
// request contexts are never used, so a task outlives the request that
// created it.
func WithBaseContext(ctx context.Context) Option {
	return func(registry *MemoryRegistry) {
		registry.baseCtx = ctx
	}
}

func NewMemoryRegistry(logger zerolog.Logger, options ...Option) *MemoryRegistry {
	registry := &MemoryRegistry{
		tasks:   map[string]*Task{},
		baseCtx: context.Background(),
		logger:  logger.With().Str("component", "tasks").Logger(),
		now:     time.Now,
	}
	for _, option := range options {
		option(registry)
	}
	return registry
}

func (registry *MemoryRegistry) Submit(subject string, operation Operation) Task {
	now := registry.now().UTC()
	task := &Task{
		ID:        uuid.NewString(),
		Status:    StateQueued,
		Subject:   subject,
		CreatedAt: now,
		UpdatedAt: now,
	}
	registry.mu.Lock()
	registry.tasks[task.ID] = task
	snapshot := *task
	registry.mu.Unlock()
	registry.notify(snapshot)
	registry.logger.Info().Str("task_id", task.ID).Str("subject", subject).Msg("task queued")

	registry.running.Add(1)
	go registry.execute(task.ID, operation)
	return snapshot
}

func (registry *MemoryRegistry) Get(id string) (Task, error) {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	task, ok := registry.tasks[id]
	if !ok {
		return Task{}, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return *task, nil
}

// Wait blocks until every submitted task has reached a terminal state.
func (registry *MemoryRegistry) Wait() {
	registry.running.Wait()
}

func (registry *MemoryRegistry) execute(id string, operation Operation) {
	defer registry.running.Done()
	registry.transition(id, StateInProgress, "")

	message, err := registry.invoke(operation)
	if err != nil {
		registry.logger.Error().Str("task_id", id).Err(err).Msg("task failed")
		registry.transition(id, StateFailed, err.Error())
		return
	}
	registry.logger.Info().Str("task_id", id).Msg("task completed")
	registry.transition(id, StateCompleted, message)
}

func (registry *MemoryRegistry) invoke(operation Operation) (message string, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("task panicked: %v", recovered)
		}
	}()
	if operation == nil {
		return "", errors.New("task has no operation")
	}
	return operation(registry.baseCtx)
}

func (registry *MemoryRegistry) transition(id string, next State, result string) {
	registry.mu.Lock()
	task, ok := registry.tasks[id]
	if !ok || next.rank() <= task.Status.rank() {
		registry.mu.Unlock()
		registry.logger.Warn().Str("task_id", id).Str("to", string(next)).Msg("ignored task state change")
		return
	}
	task.Status = next
	task.Result = result
	task.UpdatedAt = registry.now().UTC()
	snapshot := *task
	registry.mu.Unlock()
	registry.notify(snapshot)
}

func (registry *MemoryRegistry) notify(task Task) {
	if registry.observer != nil {
		registry.observer(task)
	}
}

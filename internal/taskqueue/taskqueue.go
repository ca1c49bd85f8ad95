// Package taskqueue provides deferred task execution for work that must
// run after a transaction commits, such as order provisioning.
package taskqueue

import (
	"context"
	"errors"
	"sync"
)

var (
	ErrUnknownTask     = errors.New("unknown_task")
	ErrQueueClosed     = errors.New("queue_closed")
	ErrInvalidEnvelope = errors.New("invalid_task_envelope")
)

// Task is a queued unit of work.
type Task struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Payload  map[string]any `json:"payload"`
	Attempts int            `json:"attempts"`
}

// HandlerFunc executes a task. A returned error requeues the task until
// the attempt budget is exhausted.
type HandlerFunc func(ctx context.Context, task Task) error

// Queue submits named tasks for asynchronous execution.
type Queue interface {
	Submit(ctx context.Context, name string, payload map[string]any) error
}

// Registry maps task names to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]HandlerFunc)}
}

func (r *Registry) Register(name string, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

func (r *Registry) Lookup(name string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

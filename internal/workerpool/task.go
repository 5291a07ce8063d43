// Package workerpool implements the dependency-aware, elastically-scaled
// task executor from spec.md §4.4, plus a burst executor that runs the
// sequencer's batch dispatch off its single-threaded control loop. Queue
// priority computation and cache prefetch analysis do not run here.
package workerpool

import (
	"context"
	"time"
)

// Status is a Task's one-way lifecycle state, except for the
// pending<->running oscillation that happens during a retry.
type Status int

const (
	StatusPending Status = iota
	StatusRunning
	StatusCompleted
	StatusFailed
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Handler executes a Task's payload. It must respect ctx cancellation
// (the pool cancels ctx on timeout or explicit Cancel).
type Handler func(ctx context.Context, t *Task) (interface{}, error)

// Task is the unit of work submitted to the pool.
type Task struct {
	ID           string
	Type         string
	Payload      interface{}
	Priority     float64
	MaxRetries   int
	Timeout      time.Duration
	Dependencies []string
	Dependents   []string

	CreatedAt  time.Time
	Status     Status
	RetryCount int
	Result     interface{}
	Err        error

	handler Handler
	cancel  context.CancelFunc
}

package workerpool

import (
	"sort"
	"sync"

	"github.com/heimdalr/dag"
)

type depVertex struct{ id string }

// taskQueue is priority-ordered by (priority desc, created_at asc) and
// dequeues only tasks whose dependencies have all completed, tracked in a
// dedicated dependency graph per spec.md §4.4 — a second, independent
// heimdalr/dag instance from the cache's.
type taskQueue struct {
	mu        sync.Mutex
	graph     *dag.DAG
	tasks     map[string]*Task
	completed map[string]bool
	pending   map[string]bool // in the "waiting to run" set, as opposed to running/terminal
}

func newTaskQueue() *taskQueue {
	return &taskQueue{
		graph:     dag.NewDAG(),
		tasks:     make(map[string]*Task),
		completed: make(map[string]bool),
		pending:   make(map[string]bool),
	}
}

func (q *taskQueue) ensureVertex(id string) {
	if _, err := q.graph.GetVertex(id); err != nil {
		_ = q.graph.AddVertexByID(id, &depVertex{id: id})
	}
}

// Add registers t and its dependency edges (dep -> t, so t only becomes
// ready once dep completes).
func (q *taskQueue) Add(t *Task) {
	q.mu.Lock()
	defer q.mu.Unlock()

	t.Status = StatusPending
	q.tasks[t.ID] = t
	q.pending[t.ID] = true

	q.ensureVertex(t.ID)
	for _, dep := range t.Dependencies {
		q.ensureVertex(dep)
		_ = q.graph.AddEdge(dep, t.ID)
	}
}

func (q *taskQueue) ready(id string) bool {
	t := q.tasks[id]
	for _, dep := range t.Dependencies {
		if !q.completed[dep] {
			return false
		}
	}
	return true
}

// PopReady removes and returns the highest-priority ready task, or
// (nil, false) if none is ready right now.
func (q *taskQueue) PopReady() (*Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var candidates []*Task
	for id := range q.pending {
		if q.ready(id) {
			candidates = append(candidates, q.tasks[id])
		}
	}
	if len(candidates) == 0 {
		return nil, false
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority > candidates[j].Priority
		}
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})
	chosen := candidates[0]
	delete(q.pending, chosen.ID)
	chosen.Status = StatusRunning
	return chosen, true
}

// Complete marks id completed or failed and returns the ids of dependents
// that became ready as a result, so the pool can notify/schedule them
// immediately instead of waiting for the next poll.
func (q *taskQueue) Complete(id string, failed bool) []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	if failed {
		q.tasks[id].Status = StatusFailed
		return nil
	}
	q.tasks[id].Status = StatusCompleted
	q.completed[id] = true

	children, err := q.graph.GetChildren(id)
	if err != nil {
		return nil
	}
	var readyNow []string
	for childID := range children {
		if q.pending[childID] && q.ready(childID) {
			readyNow = append(readyNow, childID)
		}
	}
	return readyNow
}

// Cancel removes a pending task immediately, or flags a running one so its
// handler can observe cancellation via ctx and transition to cancelled
// once acknowledged.
func (q *taskQueue) Cancel(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.tasks[id]
	if !ok {
		return false
	}
	if q.pending[id] {
		delete(q.pending, id)
		t.Status = StatusCancelled
		return true
	}
	if t.Status == StatusRunning && t.cancel != nil {
		t.cancel()
		return true
	}
	return false
}

// requeueForRetry puts an already-registered task (graph edges intact)
// back into the pending set after a failed attempt.
func (q *taskQueue) requeueForRetry(t *Task) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending[t.ID] = true
}

func (q *taskQueue) Get(id string) (*Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.tasks[id]
	return t, ok
}

func (q *taskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

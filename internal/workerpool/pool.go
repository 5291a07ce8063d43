package workerpool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gammazero/workerpool"

	"github.com/l2labs/sequencer/event"
	"github.com/l2labs/sequencer/log"
	"github.com/l2labs/sequencer/metrics"
)

// Config controls the elastic scheduler: it always keeps MinWorkers
// goroutines alive and scales toward MaxWorkers under load, retiring the
// extras after IdleTimeout of no work.
type Config struct {
	MinWorkers        int
	MaxWorkers        int
	IdleTimeout       time.Duration
	DefaultTimeout    time.Duration
	MaxConsecutiveErr int
}

func DefaultConfig() Config {
	return Config{
		MinWorkers:        4,
		MaxWorkers:        32,
		IdleTimeout:       30 * time.Second,
		DefaultTimeout:    10 * time.Second,
		MaxConsecutiveErr: 3,
	}
}

// TaskDone is emitted on Pool.Events after every terminal task transition,
// so callers (the sequencer's control loop, recovery) can react without
// polling.
type TaskDone struct {
	Task *Task
}

// Pool is the dependency-aware, elastically-scaled executor from
// spec.md §4.4. Submit feeds the dependency-gated priority queue; handlers
// register by Task.Type via RegisterHandler. A separate gammazero/workerpool
// instance runs fire-and-forget bursts (the sequencer's batch dispatch)
// that don't participate in dependency gating or retries (see SubmitBurst).
type Pool struct {
	cfg      Config
	queue    *taskQueue
	handlers map[string]Handler
	handlersMu sync.RWMutex

	workers     int32 // current live worker count, atomic
	wakeup      chan struct{}
	stop        chan struct{}
	wg          sync.WaitGroup

	burst *workerpool.WorkerPool

	Events *event.Feed // emits TaskDone

	errCounters   map[string]int // worker slot id -> consecutive error count, guarded by errMu
	errMu         sync.Mutex

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
}

func New(cfg Config) *Pool {
	p := &Pool{
		cfg:       cfg,
		queue:     newTaskQueue(),
		handlers:  make(map[string]Handler),
		wakeup:    make(chan struct{}, 1),
		stop:      make(chan struct{}),
		burst:     workerpool.New(cfg.MaxWorkers),
		Events:    new(event.Feed),
		errCounters: make(map[string]int),
	}
	for i := 0; i < cfg.MinWorkers; i++ {
		p.spawnWorker(true)
	}
	return p
}

// RegisterHandler binds a Handler to a Task.Type. Must be called before
// tasks of that type are submitted.
func (p *Pool) RegisterHandler(taskType string, h Handler) {
	p.handlersMu.Lock()
	defer p.handlersMu.Unlock()
	p.handlers[taskType] = h
}

// Submit enqueues t for dependency-gated, priority-ordered execution.
func (p *Pool) Submit(t *Task) {
	if t.Timeout == 0 {
		t.Timeout = p.cfg.DefaultTimeout
	}
	t.CreatedAt = timeNow()
	p.queue.Add(t)
	p.submitted.Add(1)
	p.maybeScaleUp()
	p.nudge()
}

// SubmitBurst runs fn on the fire-and-forget burst pool (the sequencer's
// batch dispatch and similar work with no dependencies, retries, or ordering
// requirements). It does not touch the dependency queue at all.
func (p *Pool) SubmitBurst(fn func()) {
	p.burst.Submit(fn)
}

func (p *Pool) nudge() {
	select {
	case p.wakeup <- struct{}{}:
	default:
	}
}

func (p *Pool) maybeScaleUp() {
	if p.queue.Len() <= int(atomic.LoadInt32(&p.workers)) {
		return
	}
	if int(atomic.LoadInt32(&p.workers)) >= p.cfg.MaxWorkers {
		return
	}
	p.spawnWorker(false)
}

func (p *Pool) spawnWorker(core bool) {
	atomic.AddInt32(&p.workers, 1)
	metrics.GetOrRegisterGauge("workerpool.workers", nil).Update(int64(atomic.LoadInt32(&p.workers)))
	p.wg.Add(1)
	go p.runWorker(core)
}

// runWorker is a single elastic worker: core workers (spawned at New) block
// forever on wakeup; scaled-up extras retire themselves after IdleTimeout
// with nothing to do.
func (p *Pool) runWorker(core bool) {
	defer p.wg.Done()
	defer func() {
		atomic.AddInt32(&p.workers, -1)
		metrics.GetOrRegisterGauge("workerpool.workers", nil).Update(int64(atomic.LoadInt32(&p.workers)))
	}()

	slot := newWorkerSlotID()
	idle := time.NewTimer(p.cfg.IdleTimeout)
	defer idle.Stop()

	for {
		t, ok := p.queue.PopReady()
		if !ok {
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(p.cfg.IdleTimeout)
			select {
			case <-p.stop:
				return
			case <-p.wakeup:
				continue
			case <-idle.C:
				if !core {
					return
				}
				idle.Reset(p.cfg.IdleTimeout)
				continue
			}
		}
		if retire := p.execute(slot, t); retire {
			return
		}
	}
}

// execute runs t's handler and reports whether the calling worker must
// retire (see noteError): when true, runWorker returns instead of popping
// another task, so a worker that keeps failing actually stops.
func (p *Pool) execute(slot string, t *Task) bool {
	p.handlersMu.RLock()
	h := p.handlers[t.Type]
	p.handlersMu.RUnlock()
	if h == nil {
		t.Err = errNoHandler(t.Type)
		return p.finish(slot, t, true)
	}

	ctx, cancel := context.WithTimeout(context.Background(), t.Timeout)
	t.cancel = cancel

	result, err := h(ctx, t)
	cancelled := err != nil && ctx.Err() == context.Canceled
	cancel()

	t.Result, t.Err = result, err
	if cancelled {
		p.queue.mu.Lock()
		t.Status = StatusCancelled
		p.queue.mu.Unlock()
		p.Events.Send(TaskDone{Task: t})
		return false
	}
	if err != nil && t.RetryCount < t.MaxRetries {
		t.RetryCount++
		t.Status = StatusPending
		p.queue.requeueForRetry(t)
		p.nudge()
		return false
	}
	return p.finish(slot, t, err != nil)
}

func (p *Pool) finish(slot string, t *Task, failed bool) bool {
	ready := p.queue.Complete(t.ID, failed)
	retire := false
	if failed {
		p.failed.Add(1)
		metrics.GetOrRegisterCounter("workerpool.tasks.failed", nil).Inc(1)
		retire = p.noteError(slot)
	} else {
		p.completed.Add(1)
		metrics.GetOrRegisterCounter("workerpool.tasks.completed", nil).Inc(1)
		p.clearError(slot)
	}
	p.Events.Send(TaskDone{Task: t})
	if len(ready) > 0 {
		p.nudge()
	}
	return retire
}

// noteError reports whether the worker on slot has hit MaxConsecutiveErr
// errors in a row and must retire. A replacement worker is spawned before
// this returns so live worker count holds steady; the caller is
// responsible for actually returning from runWorker's loop.
func (p *Pool) noteError(slot string) bool {
	p.errMu.Lock()
	p.errCounters[slot]++
	n := p.errCounters[slot]
	p.errMu.Unlock()

	if n < p.cfg.MaxConsecutiveErr {
		return false
	}
	log.Warn("workerpool: retiring worker after consecutive errors", "slot", slot, "errors", n)
	p.errMu.Lock()
	delete(p.errCounters, slot)
	p.errMu.Unlock()
	p.spawnWorker(true)
	return true
}

func (p *Pool) clearError(slot string) {
	p.errMu.Lock()
	delete(p.errCounters, slot)
	p.errMu.Unlock()
}

// Cancel cancels a pending or in-flight task by id.
func (p *Pool) Cancel(id string) bool {
	return p.queue.Cancel(id)
}

// Status returns the task's current lifecycle status.
func (p *Pool) Status(id string) (Status, bool) {
	t, ok := p.queue.Get(id)
	if !ok {
		return 0, false
	}
	return t.Status, true
}

// Stats reports running totals for metrics scraping and /get_stats.
type Stats struct {
	Workers   int
	Pending   int
	Submitted int64
	Completed int64
	Failed    int64
}

func (p *Pool) Stats() Stats {
	return Stats{
		Workers:   int(atomic.LoadInt32(&p.workers)),
		Pending:   p.queue.Len(),
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
	}
}

// Close signals the workers to exit once no ready task remains and waits
// for in-flight tasks to drain; the burst pool is then stopped after every
// item already queued on it has run.
func (p *Pool) Close() {
	close(p.stop)
	p.wg.Wait()
	p.burst.StopWait()
}

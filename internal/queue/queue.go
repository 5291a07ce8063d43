// Package queue wraps the indexed binary heap with enqueue/dequeue/batch
// semantics, priority aging, backpressure hysteresis, and periodic batch
// assembly, per spec.md §4.2.
package queue

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/l2labs/sequencer/event"
	"github.com/l2labs/sequencer/internal/heap"
	"github.com/l2labs/sequencer/internal/types"
	"github.com/l2labs/sequencer/log"
	"github.com/l2labs/sequencer/metrics"
)

// Config holds every tunable named in spec.md §6's configuration table
// that pertains to the queue.
type Config struct {
	MaxSize          int
	HighWatermark    float64 // fraction of MaxSize
	LowWatermark     float64 // fraction of MaxSize
	AgingInterval    time.Duration
	AgingFactor      float64
	AdaptiveInterval time.Duration
	BatchInterval    time.Duration
	BatchJitter      time.Duration
	BatchSize        int
	MaxRetries       int
	Weights          Weights
	Caps             NormCaps
}

// DefaultConfig mirrors the numeric defaults spec.md calls out explicitly.
func DefaultConfig() Config {
	return Config{
		MaxSize:          100_000,
		HighWatermark:    0.8,
		LowWatermark:     0.5,
		AgingInterval:    30 * time.Second,
		AgingFactor:      1.1,
		AdaptiveInterval: time.Minute,
		BatchInterval:    2 * time.Second,
		BatchJitter:      200 * time.Millisecond,
		BatchSize:        100,
		MaxRetries:       5,
		Weights:          DefaultWeights(),
		Caps:             DefaultNormCaps(),
	}
}

// Queue is the priority queue described by spec.md §4.2.
type Queue struct {
	cfg Config

	h     *heap.Heap
	stats *senderStats

	mu      sync.Mutex // guards weights and backpressure state only
	weights Weights
	active  bool // backpressure active/inactive

	pendingMu      sync.Mutex
	pendingBatches map[string][]string

	shuttingDown atomic.Bool

	BatchReady    event.Feed // BatchReadyEvent
	Backpressure  event.Feed // BackpressureEvent
	WeightsFeed   event.Feed // WeightsChangedEvent

	metricDropped   metrics.Counter
	metricSize      metrics.Gauge
	metricEnqueued  metrics.Counter
	metricDequeued  metrics.Counter
	metricBatches   metrics.Counter

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New constructs a Queue. Call Start to begin the aging/adaptive/batch
// timers; an un-started Queue still serves synchronous enqueue/dequeue.
func New(cfg Config) *Queue {
	q := &Queue{
		cfg:            cfg,
		h:              heap.New(),
		stats:          newSenderStats(),
		weights:        cfg.Weights.Normalize(),
		pendingBatches: make(map[string][]string),
		metricDropped:  metrics.NewRegisteredCounter("queue/dropped", nil),
		metricSize:     metrics.NewRegisteredGauge("queue/size", nil),
		metricEnqueued: metrics.NewRegisteredCounter("queue/enqueued", nil),
		metricDequeued: metrics.NewRegisteredCounter("queue/dequeued", nil),
		metricBatches:  metrics.NewRegisteredCounter("queue/batches", nil),
	}
	return q
}

// Start launches the background aging, adaptive-reweighting and
// batch-assembly loops. It returns immediately; loops run until ctx is
// canceled or Stop is called.
func (q *Queue) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	q.cancel = cancel

	q.wg.Add(3)
	go q.agingLoop(ctx)
	go q.adaptiveLoop(ctx)
	go q.batchLoop(ctx)
}

// Stop sets the shutting-down flag, which halts batch scheduling and
// causes the background loops to exit once their current tick completes.
func (q *Queue) Stop() {
	q.shuttingDown.Store(true)
	if q.cancel != nil {
		q.cancel()
	}
	q.wg.Wait()
}

// Enqueue assigns an id/timestamp if missing, computes an initial
// priority, and inserts the transaction. It never panics: any internal
// failure increments the dropped counter and returns false.
func (q *Queue) Enqueue(tx *types.Transaction) bool {
	if q.shuttingDown.Load() {
		q.metricDropped.Inc(1)
		return false
	}
	if q.backpressureActive() {
		q.metricDropped.Inc(1)
		return false
	}
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now()
	}

	priority := q.computePriority(tx, 0)
	tx.Priority = priority

	ok := q.h.Insert(&heap.Entry{
		ID:        tx.ID,
		Priority:  priority,
		Timestamp: tx.CreatedAt.UnixNano(),
		Payload:   tx,
	})
	if !ok {
		q.metricDropped.Inc(1)
		return false
	}
	q.metricEnqueued.Inc(1)
	q.metricSize.Update(int64(q.h.Len()))
	q.evaluateBackpressure()
	return true
}

// Dequeue returns up to n highest-priority transactions.
func (q *Queue) Dequeue(n int) []*types.Transaction {
	out := make([]*types.Transaction, 0, n)
	for i := 0; i < n; i++ {
		e, ok := q.h.ExtractMax()
		if !ok {
			break
		}
		tx := e.Payload.(*types.Transaction)
		out = append(out, tx)
		q.metricDequeued.Inc(1)
	}
	q.metricSize.Update(int64(q.h.Len()))
	q.evaluateBackpressure()
	return out
}

// DequeueBatch consumes a pre-assembled batch registered by the periodic
// batch-assembly loop (see BatchReady).
func (q *Queue) DequeueBatch(batchID string) ([]string, bool) {
	q.pendingMu.Lock()
	defer q.pendingMu.Unlock()
	ids, ok := q.pendingBatches[batchID]
	if !ok {
		return nil, false
	}
	delete(q.pendingBatches, batchID)
	return ids, true
}

// UpdatePriority sets an explicit priority for id.
func (q *Queue) UpdatePriority(id string, p float64) bool {
	return q.h.UpdatePriority(id, clamp01(p))
}

// BoostPriority multiplies id's current priority by factor (>1), capped at 1.
func (q *Queue) BoostPriority(id string, factor float64) bool {
	e, ok := q.h.Peek(id)
	if !ok {
		return false
	}
	return q.h.UpdatePriority(id, clamp01(e.Priority*factor))
}

// DecreasePriority multiplies id's current priority by factor (<1).
func (q *Queue) DecreasePriority(id string, factor float64) bool {
	e, ok := q.h.Peek(id)
	if !ok {
		return false
	}
	return q.h.UpdatePriority(id, clamp01(e.Priority*factor))
}

// Remove deletes id from the queue.
func (q *Queue) Remove(id string) bool {
	ok := q.h.Remove(id)
	if ok {
		q.metricSize.Update(int64(q.h.Len()))
		q.evaluateBackpressure()
	}
	return ok
}

// Peek returns the transaction for id without removing it.
func (q *Queue) Peek(id string) (*types.Transaction, bool) {
	e, ok := q.h.Peek(id)
	if !ok {
		return nil, false
	}
	return e.Payload.(*types.Transaction), true
}

// PeekHighest returns the highest-priority transaction without removing it.
func (q *Queue) PeekHighest() (*types.Transaction, bool) {
	e, ok := q.h.PeekMax()
	if !ok {
		return nil, false
	}
	return e.Payload.(*types.Transaction), true
}

// Size returns the current number of queued transactions.
func (q *Queue) Size() int { return q.h.Len() }

// RecordOutcome feeds the sender-reputation component σ: call with ok=true
// on confirmed processing, ok=false on a permanent error.
func (q *Queue) RecordOutcome(sender string, ok bool) {
	q.stats.record(sender, ok)
}

// Requeue re-inserts a transaction that failed priority computation or
// batch submission, incrementing its retry count and capping at
// cfg.MaxRetries (returns false, i.e. the transaction is dropped for good,
// once the cap is exceeded).
func (q *Queue) Requeue(tx *types.Transaction) bool {
	if tx.RetryCount >= q.cfg.MaxRetries {
		q.metricDropped.Inc(1)
		return false
	}
	tx.RetryCount++
	return q.Enqueue(tx)
}

func (q *Queue) computePriority(tx *types.Transaction, ageSeconds float64) float64 {
	q.mu.Lock()
	w := q.weights
	caps := q.cfg.Caps
	q.mu.Unlock()
	in := inputsFor(tx, ageSeconds, q.stats)
	return ComputePriority(in, w, caps)
}

func (q *Queue) backpressureActive() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active
}

// evaluateBackpressure implements the high/low watermark hysteresis from
// spec.md §4.2, emitting a BackpressureEvent on every state transition.
func (q *Queue) evaluateBackpressure() {
	size := q.h.Len()
	high := int(q.cfg.HighWatermark * float64(q.cfg.MaxSize))
	low := int(q.cfg.LowWatermark * float64(q.cfg.MaxSize))

	q.mu.Lock()
	wasActive := q.active
	switch {
	case !q.active && size >= high:
		q.active = true
	case q.active && size <= low:
		q.active = false
	}
	nowActive := q.active
	q.mu.Unlock()

	if wasActive != nowActive {
		q.Backpressure.Send(BackpressureEvent{Active: nowActive, Size: size})
	}
}

// agingLoop raises the priority of long-queued entries on a fixed
// interval, rewriting only changes that exceed +5% to rate-limit
// reheapification, per spec.md §4.2.
func (q *Queue) agingLoop(ctx context.Context) {
	defer q.wg.Done()
	if q.cfg.AgingInterval <= 0 {
		return
	}
	t := time.NewTicker(q.cfg.AgingInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			q.applyAging()
		}
	}
}

func (q *Queue) applyAging() {
	now := time.Now()
	for _, e := range q.h.Snapshot() {
		age := now.Sub(time.Unix(0, e.Timestamp))
		if age < q.cfg.AgingInterval {
			continue
		}
		factor := 1 + (age.Seconds()/q.cfg.AgingInterval.Seconds())*(q.cfg.AgingFactor-1)
		newPriority := clamp01(e.Priority * factor)
		if newPriority-e.Priority > 0.05*e.Priority || (e.Priority == 0 && newPriority > 0) {
			q.h.UpdatePriority(e.ID, newPriority)
		}
	}
}

// adaptiveLoop adjusts priority-function weights toward favoring fee when
// the queue is more than half full, per spec.md §4.2, and broadcasts the
// new weights to workers.
func (q *Queue) adaptiveLoop(ctx context.Context) {
	defer q.wg.Done()
	if q.cfg.AdaptiveInterval <= 0 {
		return
	}
	t := time.NewTicker(q.cfg.AdaptiveInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			q.applyAdaptiveReweight()
		}
	}
}

func (q *Queue) applyAdaptiveReweight() {
	fillRatio := float64(q.h.Len()) / float64(q.cfg.MaxSize)

	q.mu.Lock()
	w := q.weights
	if fillRatio > 0.5 {
		w.Fee = min(0.8, w.Fee+0.05)
		remaining := 1 - w.Fee
		otherSum := w.Age + w.Size + w.Sender
		if otherSum > 0 {
			w.Age = remaining * (w.Age / otherSum)
			w.Size = remaining * (w.Size / otherSum)
			w.Sender = remaining * (w.Sender / otherSum)
		}
	} else {
		def := DefaultWeights()
		w.Fee += (def.Fee - w.Fee) * 0.2
		w.Age += (def.Age - w.Age) * 0.2
		w.Size += (def.Size - w.Size) * 0.2
		w.Sender += (def.Sender - w.Sender) * 0.2
	}
	w = w.Normalize()
	q.weights = w
	q.mu.Unlock()

	q.WeightsFeed.Send(WeightsChangedEvent{Weights: w})
}

// batchLoop periodically assembles up to BatchSize highest-priority
// transactions into a pending batch and emits BatchReady, rescheduling
// itself (with jitter) while the queue is non-empty and not shutting
// down, per spec.md §4.2.
func (q *Queue) batchLoop(ctx context.Context) {
	defer q.wg.Done()
	for {
		wait := q.cfg.BatchInterval + jitter(q.cfg.BatchJitter)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
		if q.shuttingDown.Load() {
			return
		}
		q.assembleBatch()
	}
}

func jitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(max)))
}

func (q *Queue) assembleBatch() {
	if q.h.Len() == 0 {
		return
	}
	txs := q.Dequeue(q.cfg.BatchSize)
	if len(txs) == 0 {
		return
	}
	batchID := uuid.NewString()
	ids := make([]string, len(txs))
	for i, tx := range txs {
		ids[i] = tx.ID
	}

	q.pendingMu.Lock()
	q.pendingBatches[batchID] = ids
	q.pendingMu.Unlock()

	q.metricBatches.Inc(1)
	q.BatchReady.Send(BatchReadyEvent{BatchID: batchID, TransactionIDs: ids})
	log.Info("batch assembled", "batch_id", batchID, "count", len(ids))
}

// Package sequencer implements spec.md §4.5: transaction intake,
// validation, deduplication, batch assembly hand-off to the priority
// queue, merkle commitment, and dispatch through the circuit breaker to
// the external blockchain client.
package sequencer

import (
	"context"
	"fmt"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"

	"github.com/l2labs/sequencer/event"
	"github.com/l2labs/sequencer/internal/breaker"
	"github.com/l2labs/sequencer/internal/cache"
	"github.com/l2labs/sequencer/internal/queue"
	"github.com/l2labs/sequencer/internal/store"
	"github.com/l2labs/sequencer/internal/types"
	"github.com/l2labs/sequencer/internal/workerpool"
	"github.com/l2labs/sequencer/log"
	"github.com/l2labs/sequencer/metrics"
)

// BatchEvent is emitted on Sequencer.Events every time a batch crosses a
// state-machine transition worth surfacing to an external stream
// consumer (submitted, confirmed, errored).
type BatchEvent struct {
	BatchID string
	Status  types.BatchStatus
	Error   string
}

// Config holds the sequencer.*-adjacent options from spec.md §6.
type Config struct {
	BatchSize            int
	BatchInterval        time.Duration
	MaxConcurrentBatches int
	DedupCacheSize       int
	BatchSubmitDeadline  time.Duration
}

func DefaultConfig() Config {
	return Config{
		BatchSize:            100,
		BatchInterval:        2 * time.Second,
		MaxConcurrentBatches: 4,
		DedupCacheSize:       100_000,
		BatchSubmitDeadline:  10 * time.Second,
	}
}

// Sequencer wires the store, cache, queue and breaker together behind the
// single-threaded control-loop contract from spec.md §5: polling and
// event callbacks drive it, I/O is the only suspension point.
type Sequencer struct {
	cfg     Config
	store   *store.Store
	cache   *cache.Cache
	queue   *queue.Queue
	breaker *breaker.Breaker
	dedup   *dedupIndex

	inFlight   mapset.Set[string] // batch ids currently being dispatched
	inFlightMu sync.Mutex
	sem        chan struct{} // bounds MaxConcurrentBatches
	pool       *workerpool.Pool // burst executor for dispatch; nil runs inline via go

	shuttingDown bool
	shutdownMu   sync.Mutex

	Events *event.Feed // emits BatchEvent

	metricSubmitted metrics.Counter
	metricConfirmed metrics.Counter
	metricErrored   metrics.Counter
	metricRejected  metrics.Counter
	metricDuplicate metrics.Counter
}

func New(cfg Config, st *store.Store, c *cache.Cache, q *queue.Queue, br *breaker.Breaker) *Sequencer {
	s := &Sequencer{
		cfg:             cfg,
		store:           st,
		cache:           c,
		queue:           q,
		breaker:         br,
		dedup:           newDedupIndex(cfg.DedupCacheSize),
		inFlight:        mapset.NewSet[string](),
		sem:             make(chan struct{}, max(1, cfg.MaxConcurrentBatches)),
		Events:          new(event.Feed),
		metricSubmitted: metrics.NewRegisteredCounter("sequencer/batches_submitted", nil),
		metricConfirmed: metrics.NewRegisteredCounter("sequencer/batches_confirmed", nil),
		metricErrored:   metrics.NewRegisteredCounter("sequencer/batches_errored", nil),
		metricRejected:  metrics.NewRegisteredCounter("sequencer/tx_rejected", nil),
		metricDuplicate: metrics.NewRegisteredCounter("sequencer/tx_duplicate", nil),
	}
	return s
}

// Start subscribes to the queue's batch-ready events and begins
// dispatching batches as they're assembled.
func (s *Sequencer) Start(ctx context.Context) {
	ch := make(chan queue.BatchReadyEvent, 16)
	sub := s.queue.BatchReady.Subscribe(ch)
	go func() {
		defer sub.Unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				s.handleBatchReady(ctx, ev)
			}
		}
	}()
}

// Shutdown stops admitting new batch dispatches; in-flight dispatches
// still run to completion.
func (s *Sequencer) Shutdown() {
	s.shutdownMu.Lock()
	s.shuttingDown = true
	s.shutdownMu.Unlock()
}

func (s *Sequencer) isShuttingDown() bool {
	s.shutdownMu.Lock()
	defer s.shutdownMu.Unlock()
	return s.shuttingDown
}

// AddTransaction validates, deduplicates, persists, and enqueues tx.
// Priority is the caller's base priority signal (0 for ordinary
// add_transaction, which keeps the queue's computed priority; 1..10 scaled
// to [0,1] for add_priority_transaction, which replaces it).
func (s *Sequencer) AddTransaction(tx *types.Transaction, priority float64) (string, error) {
	if err := Validate(tx, time.Now()); err != nil {
		s.metricRejected.Inc(1)
		return "", err
	}
	if s.dedup.CheckAndAdd(tx) {
		s.metricDuplicate.Inc(1)
		return "", ErrDuplicate
	}

	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	tx.Status = types.TxPending
	tx.CreatedAt = time.Now()
	tx.Priority = priority

	if err := s.store.PutTransaction(tx); err != nil {
		return "", fmt.Errorf("sequencer: persist transaction: %w", err)
	}
	if !s.queue.Enqueue(tx) {
		return "", fmt.Errorf("sequencer: queue rejected transaction (backpressure)")
	}
	if priority > 0 {
		s.queue.UpdatePriority(tx.ID, priority)
	}
	return tx.ID, nil
}

// AdaptivePollInterval implements spec.md §4.5's adaptive polling: tighten
// under heavy backlog, relax when nearly idle.
func AdaptivePollInterval(pending, batchSize int, batchInterval time.Duration) time.Duration {
	switch {
	case pending >= 10*batchSize:
		tightened := batchInterval / 10
		if tightened < time.Second {
			tightened = time.Second
		}
		return tightened
	case pending < batchSize/2:
		relaxed := 2 * batchInterval
		if relaxed > 5*time.Minute {
			relaxed = 5 * time.Minute
		}
		return relaxed
	default:
		return batchInterval
	}
}

// WithPool routes batch dispatch through the given worker pool's burst
// executor instead of a bare goroutine; dispatch stays bounded by sem
// either way.
func (s *Sequencer) WithPool(p *workerpool.Pool) *Sequencer {
	s.pool = p
	return s
}

func (s *Sequencer) handleBatchReady(ctx context.Context, ev queue.BatchReadyEvent) {
	if s.isShuttingDown() {
		return
	}
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return
	}
	run := func() {
		defer func() { <-s.sem }()
		s.dispatchBatch(ctx, ev.BatchID, ev.TransactionIDs)
	}
	if s.pool != nil {
		s.pool.SubmitBurst(run)
	} else {
		go run()
	}
}

// dispatchBatch implements the batch state machine from spec.md §4.5:
// pending -> submitted -> {confirmed | errored}.
func (s *Sequencer) dispatchBatch(ctx context.Context, batchID string, txIDs []string) {
	s.inFlightMu.Lock()
	if s.inFlight.Contains(batchID) {
		s.inFlightMu.Unlock()
		return
	}
	s.inFlight.Add(batchID)
	s.inFlightMu.Unlock()
	defer func() {
		s.inFlightMu.Lock()
		s.inFlight.Remove(batchID)
		s.inFlightMu.Unlock()
	}()

	txs := make([]*types.Transaction, 0, len(txIDs))
	for _, id := range txIDs {
		tx, err := s.store.GetTransaction(id)
		if err != nil {
			log.Error("sequencer: batch references missing transaction", "batch_id", batchID, "tx_id", id, "err", err)
			continue
		}
		txs = append(txs, tx)
	}
	ordered := OrderForCommit(txs)
	root := MerkleRoot(ordered)

	orderedIDs := make([]string, len(ordered))
	for i, tx := range ordered {
		orderedIDs[i] = tx.ID
	}

	batch := &types.Batch{
		ID:               batchID,
		MerkleRoot:       root,
		TransactionCount: len(ordered),
		TransactionIDs:   orderedIDs,
		Status:           types.BatchPending,
		CreatedAt:        time.Now(),
	}
	if err := s.store.PutBatch(batch); err != nil {
		log.Error("sequencer: persist batch failed", "batch_id", batchID, "err", err)
		return
	}
	if err := s.store.AssignBatchID(batchID, orderedIDs, types.TxPending); err != nil {
		log.Error("sequencer: assign batch id failed", "batch_id", batchID, "err", err)
		return
	}

	batch.Status = types.BatchSubmitted
	batch.SubmittedAt = time.Now()
	_ = s.store.PutBatch(batch)
	s.metricSubmitted.Inc(1)
	s.Events.Send(BatchEvent{BatchID: batch.ID, Status: batch.Status})

	submitCtx, cancel := context.WithTimeout(ctx, s.cfg.BatchSubmitDeadline)
	defer cancel()

	payload := encodeBatchPayload(ordered)
	signature, err := s.breaker.Submit(submitCtx, payload, root)
	if err != nil {
		s.failBatch(batch, orderedIDs, err)
		return
	}
	s.confirmBatch(batch, orderedIDs, signature)
}

func (s *Sequencer) confirmBatch(batch *types.Batch, txIDs []string, signature string) {
	batch.Status = types.BatchConfirmed
	batch.ConfirmedAt = time.Now()
	batch.Signature = signature
	if err := s.store.PutBatch(batch); err != nil {
		log.Error("sequencer: persist confirmed batch failed", "batch_id", batch.ID, "err", err)
	}
	if err := s.store.AssignBatchID(batch.ID, txIDs, types.TxProcessed); err != nil {
		log.Error("sequencer: mark transactions processed failed", "batch_id", batch.ID, "err", err)
	}
	for _, id := range txIDs {
		s.cache.Invalidate(cacheKeyForTx(id))
	}
	s.metricConfirmed.Inc(1)
	s.Events.Send(BatchEvent{BatchID: batch.ID, Status: batch.Status})
}

func (s *Sequencer) failBatch(batch *types.Batch, txIDs []string, cause error) {
	batch.Status = types.BatchErrored
	batch.Error = cause.Error()
	if err := s.store.PutBatch(batch); err != nil {
		log.Error("sequencer: persist errored batch failed", "batch_id", batch.ID, "err", err)
	}
	for _, id := range txIDs {
		tx, err := s.store.GetTransaction(id)
		if err != nil {
			continue
		}
		tx.Status = types.TxErrored
		tx.Error = cause.Error()
		_ = s.store.PutTransaction(tx)
	}
	s.metricErrored.Inc(1)
	s.Events.Send(BatchEvent{BatchID: batch.ID, Status: batch.Status, Error: cause.Error()})
	log.Warn("sequencer: batch dispatch failed, handing off to recovery", "batch_id", batch.ID, "err", cause)
}

// Reprocess implements the recovery engine's "mark for reprocessing"
// action from spec.md §4.6: an errored batch's transactions go back
// through the queue with retry_count incremented, and the batch itself
// transitions errored -> pending exactly once.
func (s *Sequencer) Reprocess(batchID string) error {
	batch, err := s.store.GetBatch(batchID)
	if err != nil {
		return err
	}
	if batch.Status != types.BatchErrored {
		return fmt.Errorf("sequencer: reprocess: batch %s is %s, not errored", batchID, batch.Status)
	}
	for _, id := range batch.TransactionIDs {
		tx, err := s.store.GetTransaction(id)
		if err != nil {
			continue
		}
		tx.Status = types.TxPending
		tx.RetryCount++
		tx.BatchID = ""
		if err := s.store.PutTransaction(tx); err != nil {
			continue
		}
		s.queue.Requeue(tx)
	}
	batch.Status = types.BatchPending
	return s.store.PutBatch(batch)
}

func cacheKeyForTx(id string) string { return "tx/" + id }

// encodeBatchPayload is the bytes handed to the external client's
// submit_batch; canonical leaf bytes concatenated in commit order, the
// same layout the merkle tree hashes over.
func encodeBatchPayload(txs []*types.Transaction) []byte {
	var out []byte
	for _, tx := range txs {
		out = append(out, canonicalBytes(tx)...)
	}
	return out
}

package queue

import (
	"context"
	"testing"
	"time"

	"github.com/holiman/uint256"

	"github.com/l2labs/sequencer/internal/types"
)

func newTx(sender string, fee uint64) *types.Transaction {
	return &types.Transaction{
		Sender:          sender,
		Recipient:       "r",
		Amount:          uint256.NewInt(1),
		Fee:             fee,
		ExpiryTimestamp: time.Now().Add(time.Hour),
	}
}

func TestEnqueueDequeueTopN(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BatchSize = 100
	q := New(cfg)

	for fee := 100; fee < 400; fee++ {
		if !q.Enqueue(newTx("s", uint64(fee))) {
			t.Fatalf("enqueue rejected fee=%d", fee)
		}
	}
	if q.Size() != 300 {
		t.Fatalf("expected 300 queued, got %d", q.Size())
	}

	top := q.Dequeue(100)
	if len(top) != 100 {
		t.Fatalf("expected 100 dequeued, got %d", len(top))
	}
	for i := 1; i < len(top); i++ {
		if top[i].Priority > top[i-1].Priority {
			t.Fatalf("dequeued out of priority order at %d", i)
		}
	}
	// With a fixed sender and increasing fee, the top 100 should be the
	// 100 highest fees: [300..399].
	seen := make(map[uint64]bool)
	for _, tx := range top {
		seen[tx.Fee] = true
	}
	for fee := uint64(300); fee < 400; fee++ {
		if !seen[fee] {
			t.Fatalf("expected fee %d in top 100", fee)
		}
	}
}

func TestBackpressureHysteresis(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSize = 10
	cfg.HighWatermark = 0.8
	cfg.LowWatermark = 0.5
	q := New(cfg)

	for i := 0; i < 8; i++ {
		if !q.Enqueue(newTx("s", uint64(i))) {
			t.Fatalf("enqueue %d should be accepted before backpressure", i)
		}
	}
	if !q.backpressureActive() {
		t.Fatal("expected backpressure active at high watermark (8/10)")
	}
	if q.Enqueue(newTx("s", 999)) {
		t.Fatal("expected enqueue to be rejected while backpressure active")
	}

	q.Dequeue(4) // drop to 4, below low watermark (5)
	if q.backpressureActive() {
		t.Fatal("expected backpressure inactive at/below low watermark")
	}
	if !q.Enqueue(newTx("s", 1)) {
		t.Fatal("expected enqueue to succeed once backpressure clears")
	}
}

func TestUpdateBoostDecreasePriority(t *testing.T) {
	q := New(DefaultConfig())
	q.Enqueue(newTx("a", 1))
	tx, _ := q.PeekHighest()

	if !q.BoostPriority(tx.ID, 10) {
		t.Fatal("expected boost to succeed")
	}
	boosted, _ := q.Peek(tx.ID)
	if boosted.Priority != 1.0 {
		t.Fatalf("expected boosted priority capped at 1.0, got %v", boosted.Priority)
	}

	if !q.DecreasePriority(tx.ID, 0) {
		t.Fatal("expected decrease to succeed")
	}
	decreased, _ := q.Peek(tx.ID)
	if decreased.Priority != 0 {
		t.Fatalf("expected decreased priority 0, got %v", decreased.Priority)
	}
}

func TestRemoveAndPeekMissing(t *testing.T) {
	q := New(DefaultConfig())
	q.Enqueue(newTx("a", 1))
	tx, _ := q.PeekHighest()

	if !q.Remove(tx.ID) {
		t.Fatal("expected remove to succeed")
	}
	if _, ok := q.Peek(tx.ID); ok {
		t.Fatal("expected peek of removed id to fail")
	}
}

func TestRequeueCapsAtMaxRetries(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxRetries = 2
	q := New(cfg)
	tx := newTx("a", 1)
	tx.RetryCount = 2
	if q.Requeue(tx) {
		t.Fatal("expected requeue to drop transaction past max retries")
	}
}

func TestAgingRaisesPriorityWithinBound(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AgingInterval = time.Millisecond
	cfg.AgingFactor = 1.1
	q := New(cfg)

	q.Enqueue(newTx("a", 500_000)) // mid-range priority so aging has room to grow
	before, _ := q.PeekHighest()
	beforePriority := before.Priority

	time.Sleep(5 * time.Millisecond)
	q.applyAging()

	after, _ := q.Peek(before.ID)
	if after.Priority < beforePriority {
		t.Fatalf("expected aging to never lower priority: %v -> %v", beforePriority, after.Priority)
	}
	if after.Priority > 1.0+1e-9 {
		t.Fatalf("aging priority must stay capped at 1.0, got %v", after.Priority)
	}
}

func TestDequeueBatchAssembly(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BatchInterval = time.Millisecond
	cfg.BatchJitter = 0
	cfg.BatchSize = 5
	q := New(cfg)
	for i := 0; i < 5; i++ {
		q.Enqueue(newTx("a", uint64(i)))
	}

	var batchID string
	ch := make(chan BatchReadyEvent, 1)
	sub := q.BatchReady.Subscribe(ch)
	defer sub.Unsubscribe()

	q.Start(context.Background())
	defer q.Stop()

	select {
	case ev := <-ch:
		batchID = ev.BatchID
	case <-time.After(time.Second):
		t.Fatal("expected a batch_ready event")
	}

	ids, ok := q.DequeueBatch(batchID)
	if !ok || len(ids) != 5 {
		t.Fatalf("expected to consume 5-tx batch, got ok=%v len=%d", ok, len(ids))
	}
	if _, ok := q.DequeueBatch(batchID); ok {
		t.Fatal("expected batch to be consumed exactly once")
	}
}

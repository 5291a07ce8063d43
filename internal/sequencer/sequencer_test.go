package sequencer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/holiman/uint256"

	"github.com/l2labs/sequencer/internal/breaker"
	"github.com/l2labs/sequencer/internal/cache"
	"github.com/l2labs/sequencer/internal/queue"
	"github.com/l2labs/sequencer/internal/store"
	"github.com/l2labs/sequencer/internal/types"
)

type fakeRPC struct {
	shouldFail bool
}

func (f *fakeRPC) SubmitBatch(ctx context.Context, compressed []byte, merkleRoot string) (string, error) {
	if f.shouldFail {
		return "", errTransient
	}
	return "sig-" + merkleRoot, nil
}

var errTransient = errors.New("rpc unavailable")

func newTestSequencer(t *testing.T, rpc *fakeRPC) (*Sequencer, *queue.Queue) {
	t.Helper()
	st, err := store.Open("")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	c := cache.New(cache.DefaultConfig())
	t.Cleanup(func() { c.Close() })

	qcfg := queue.DefaultConfig()
	qcfg.BatchSize = 2
	qcfg.BatchInterval = 20 * time.Millisecond
	qcfg.BatchJitter = 0
	q := queue.New(qcfg)

	bcfg := breaker.DefaultConfig()
	bcfg.FailureThreshold = 10
	br := breaker.New(bcfg, rpc)

	scfg := DefaultConfig()
	scfg.BatchSize = 2
	s := New(scfg, st, c, q, br)
	return s, q
}

func validTx(sender, recipient string) *types.Transaction {
	return &types.Transaction{
		Sender:          sender,
		Recipient:       recipient,
		Amount:          uint256.NewInt(10),
		ExpiryTimestamp: time.Now().Add(time.Hour),
		TransactionType: types.TxTransfer,
	}
}

func TestValidateRejectsBadTransactions(t *testing.T) {
	now := time.Now()
	cases := []struct {
		name string
		tx   *types.Transaction
	}{
		{"same sender and recipient", &types.Transaction{Sender: "a", Recipient: "a", Amount: uint256.NewInt(1), ExpiryTimestamp: now.Add(time.Hour), TransactionType: types.TxTransfer}},
		{"zero amount", &types.Transaction{Sender: "a", Recipient: "b", Amount: uint256.NewInt(0), ExpiryTimestamp: now.Add(time.Hour), TransactionType: types.TxTransfer}},
		{"expired", &types.Transaction{Sender: "a", Recipient: "b", Amount: uint256.NewInt(1), ExpiryTimestamp: now.Add(-time.Second), TransactionType: types.TxTransfer}},
		{"missing sender", &types.Transaction{Sender: "", Recipient: "b", Amount: uint256.NewInt(1), ExpiryTimestamp: now.Add(time.Hour), TransactionType: types.TxTransfer}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := Validate(tc.tx, now); err == nil {
				t.Fatal("expected rejection")
			}
		})
	}
}

func TestAddTransactionDeduplicates(t *testing.T) {
	s, _ := newTestSequencer(t, &fakeRPC{})

	tx1 := validTx("alice", "bob")
	id1, err := s.AddTransaction(tx1, 0)
	if err != nil {
		t.Fatal(err)
	}

	tx2 := validTx("alice", "bob")
	tx2.Amount = tx1.Amount
	tx2.ExpiryTimestamp = tx1.ExpiryTimestamp
	_, err = s.AddTransaction(tx2, 0)
	if err != ErrDuplicate {
		t.Fatalf("expected ErrDuplicate, got %v (original id %s)", err, id1)
	}
}

func TestAdaptivePollIntervalTightensAndRelaxes(t *testing.T) {
	base := 2 * time.Second
	if got := AdaptivePollInterval(1000, 100, base); got != time.Second {
		t.Fatalf("expected tightened to 1s floor, got %v", got)
	}
	if got := AdaptivePollInterval(10, 100, base); got != 4*time.Second {
		t.Fatalf("expected relaxed to 2x base, got %v", got)
	}
	if got := AdaptivePollInterval(80, 100, base); got != base {
		t.Fatalf("expected unchanged base interval, got %v", got)
	}
}

func TestBatchDispatchConfirmsOnSuccess(t *testing.T) {
	s, q := newTestSequencer(t, &fakeRPC{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	defer q.Stop()
	s.Start(ctx)

	id1, err := s.AddTransaction(validTx("alice", "bob"), 0)
	if err != nil {
		t.Fatal(err)
	}
	id2, err := s.AddTransaction(validTx("carol", "dave"), 0)
	if err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		tx1, err1 := s.store.GetTransaction(id1)
		tx2, err2 := s.store.GetTransaction(id2)
		if err1 == nil && err2 == nil && tx1.Status == types.TxProcessed && tx2.Status == types.TxProcessed {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("transactions never reached processed status")
}

func TestBatchDispatchErrorsAndReprocesses(t *testing.T) {
	rpc := &fakeRPC{shouldFail: true}
	s, q := newTestSequencer(t, rpc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	defer q.Stop()
	s.Start(ctx)

	id1, err := s.AddTransaction(validTx("alice", "bob"), 0)
	if err != nil {
		t.Fatal(err)
	}
	_, err = s.AddTransaction(validTx("carol", "dave"), 0)
	if err != nil {
		t.Fatal(err)
	}

	var batchID string
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		tx1, err1 := s.store.GetTransaction(id1)
		if err1 == nil && tx1.Status == types.TxErrored {
			batchID = tx1.BatchID
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if batchID == "" {
		t.Fatal("transaction never reached errored status")
	}

	rpc.shouldFail = false
	if err := s.Reprocess(batchID); err != nil {
		t.Fatal(err)
	}

	batch, err := s.store.GetBatch(batchID)
	if err != nil {
		t.Fatal(err)
	}
	if batch.Status != types.BatchPending {
		t.Fatalf("expected batch back to pending after reprocess, got %v", batch.Status)
	}
}

package recovery

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/holiman/uint256"

	"github.com/l2labs/sequencer/internal/store"
	"github.com/l2labs/sequencer/internal/types"
)

type fakeChain struct {
	mu         sync.Mutex
	txStatus   map[string]L1Status
	balances   map[string]*uint256.Int
	nonces     map[string]uint64
	sequencer  bool
	bridge     bool
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		txStatus:  make(map[string]L1Status),
		balances:  make(map[string]*uint256.Int),
		nonces:    make(map[string]uint64),
		sequencer: true,
		bridge:    true,
	}
}

func (f *fakeChain) TransactionL1Status(ctx context.Context, txID string) (L1Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if st, ok := f.txStatus[txID]; ok {
		return st, nil
	}
	return L1Unknown, nil
}

func (f *fakeChain) ConfirmedBalance(ctx context.Context, address string) (*uint256.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.balances[address]; ok {
		return b, nil
	}
	return nil, nil
}

func (f *fakeChain) ConfirmedNonce(ctx context.Context, address string) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nonces[address], nil
}

func (f *fakeChain) SequencerLive(ctx context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sequencer, nil
}

func (f *fakeChain) BridgeLive(ctx context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bridge, nil
}

type fakeReprocessor struct {
	calls []string
}

func (f *fakeReprocessor) Reprocess(batchID string) error {
	f.calls = append(f.calls, batchID)
	return nil
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open("")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNonceDetectorAndStrategyReconcile(t *testing.T) {
	st := newTestStore(t)
	chain := newFakeChain()
	reproc := &fakeReprocessor{}
	e := New(DefaultConfig(), st, chain, reproc)

	if err := st.PutAccount(&types.Account{Address: "A", Nonce: 7}); err != nil {
		t.Fatal(err)
	}
	chain.nonces["A"] = 4

	var detector Detector
	for _, d := range e.detectors {
		if d.Type() == types.InconsistencyNonce {
			detector = d
		}
	}
	if detector == nil {
		t.Fatal("nonce detector not registered")
	}

	e.RunOnce(context.Background(), detector)

	acct, err := st.GetAccount("A")
	if err != nil {
		t.Fatal(err)
	}
	if acct.Nonce != 5 {
		t.Fatalf("expected corrected nonce 5, got %d", acct.Nonce)
	}

	// re-running the detector should find no further inconsistency
	recs, err := detector.Detect(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 0 {
		t.Fatalf("expected no inconsistencies after correction, got %d", len(recs))
	}
}

func TestTransactionStrategyMarksConfirmed(t *testing.T) {
	st := newTestStore(t)
	chain := newFakeChain()
	e := New(DefaultConfig(), st, chain, nil)

	tx := &types.Transaction{ID: "tx-1", Status: types.TxProcessed, Amount: uint256.NewInt(1)}
	if err := st.PutTransaction(tx); err != nil {
		t.Fatal(err)
	}
	tx.Status = types.TxPending
	if err := st.PutTransaction(tx); err != nil {
		t.Fatal(err)
	}
	chain.txStatus["tx-1"] = L1Confirmed

	var detector Detector
	for _, d := range e.detectors {
		if d.Type() == types.InconsistencyTransaction {
			detector = d
		}
	}
	e.RunOnce(context.Background(), detector)

	got, err := st.GetTransaction("tx-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != types.TxProcessed {
		t.Fatalf("expected processed after reconciliation, got %v", got.Status)
	}
}

func TestMaxAttemptsEscalatesCriticalAlert(t *testing.T) {
	st := newTestStore(t)
	chain := newFakeChain()
	cfg := DefaultConfig()
	cfg.MaxAttempts = 2
	e := New(cfg, st, chain, nil)

	alertCh := make(chan CriticalAlert, 4)
	sub := e.Alerts.Subscribe(alertCh)
	defer sub.Unsubscribe()

	rec := types.InconsistencyRecord{Type: types.InconsistencyBalance, SubjectID: "missing-account"}
	for i := 0; i < 3; i++ {
		e.apply(context.Background(), rec)
	}

	select {
	case alert := <-alertCh:
		if alert.Record.SubjectID != "missing-account" {
			t.Fatalf("unexpected alert subject %q", alert.Record.SubjectID)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a critical alert after exceeding max attempts")
	}
}

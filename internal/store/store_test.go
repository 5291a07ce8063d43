package store

import (
	"testing"
	"time"

	"github.com/holiman/uint256"

	"github.com/l2labs/sequencer/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutGetTransaction(t *testing.T) {
	s := newTestStore(t)

	tx := &types.Transaction{
		ID:        "tx-1",
		Sender:    "alice",
		Recipient: "bob",
		Amount:    uint256.NewInt(100),
		Status:    types.TxPending,
		CreatedAt: time.Now(),
	}
	if err := s.PutTransaction(tx); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetTransaction("tx-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Sender != "alice" || got.Amount.Uint64() != 100 {
		t.Fatalf("unexpected round trip: %+v", got)
	}
}

func TestListTransactionsByStatusIndexMovesOnUpdate(t *testing.T) {
	s := newTestStore(t)

	tx := &types.Transaction{ID: "tx-1", Status: types.TxPending, Amount: uint256.NewInt(1)}
	if err := s.PutTransaction(tx); err != nil {
		t.Fatal(err)
	}
	pending, err := s.ListTransactionsByStatus(types.TxPending)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending, got %d", len(pending))
	}

	tx.Status = types.TxProcessed
	if err := s.PutTransaction(tx); err != nil {
		t.Fatal(err)
	}

	pending, err = s.ListTransactionsByStatus(types.TxPending)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected stale pending index entry to be gone, got %d", len(pending))
	}
	processed, err := s.ListTransactionsByStatus(types.TxProcessed)
	if err != nil {
		t.Fatal(err)
	}
	if len(processed) != 1 {
		t.Fatalf("expected 1 processed, got %d", len(processed))
	}
}

func TestAssignBatchIDIsAtomicAcrossTransactions(t *testing.T) {
	s := newTestStore(t)

	for _, id := range []string{"tx-1", "tx-2", "tx-3"} {
		tx := &types.Transaction{ID: id, Status: types.TxPending, Amount: uint256.NewInt(1)}
		if err := s.PutTransaction(tx); err != nil {
			t.Fatal(err)
		}
	}

	if err := s.AssignBatchID("batch-1", []string{"tx-1", "tx-2", "tx-3"}, types.TxProcessed); err != nil {
		t.Fatal(err)
	}

	byBatch, err := s.ListTransactionsByBatch("batch-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(byBatch) != 3 {
		t.Fatalf("expected 3 transactions in batch, got %d", len(byBatch))
	}
	for _, tx := range byBatch {
		if tx.Status != types.TxProcessed {
			t.Fatalf("expected processed status, got %v", tx.Status)
		}
	}

	pending, err := s.ListTransactionsByStatus(types.TxPending)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected no pending transactions left, got %d", len(pending))
	}
}

func TestBatchRoundTripAndStatusIndex(t *testing.T) {
	s := newTestStore(t)

	batch := &types.Batch{ID: "b1", MerkleRoot: "deadbeef", Status: types.BatchPending, CreatedAt: time.Now()}
	if err := s.PutBatch(batch); err != nil {
		t.Fatal(err)
	}
	batch.Status = types.BatchConfirmed
	if err := s.PutBatch(batch); err != nil {
		t.Fatal(err)
	}

	confirmed, err := s.ListBatchesByStatus(types.BatchConfirmed)
	if err != nil {
		t.Fatal(err)
	}
	if len(confirmed) != 1 || confirmed[0].ID != "b1" {
		t.Fatalf("unexpected confirmed batches: %+v", confirmed)
	}
	pending, err := s.ListBatchesByStatus(types.BatchPending)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected stale pending index entry gone, got %d", len(pending))
	}
}

func TestAccountRoundTrip(t *testing.T) {
	s := newTestStore(t)

	acct := &types.Account{Address: "alice", Balance: uint256.NewInt(500), Nonce: 3}
	if err := s.PutAccount(acct); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetAccount("alice")
	if err != nil {
		t.Fatal(err)
	}
	if got.Balance.Uint64() != 500 || got.Nonce != 3 {
		t.Fatalf("unexpected account: %+v", got)
	}
}

func TestListAccounts(t *testing.T) {
	s := newTestStore(t)

	if err := s.PutAccount(&types.Account{Address: "alice", Balance: uint256.NewInt(10)}); err != nil {
		t.Fatal(err)
	}
	if err := s.PutAccount(&types.Account{Address: "bob", Balance: uint256.NewInt(20)}); err != nil {
		t.Fatal(err)
	}
	accts, err := s.ListAccounts()
	if err != nil {
		t.Fatal(err)
	}
	if len(accts) != 2 {
		t.Fatalf("expected 2 accounts, got %d", len(accts))
	}
}

func TestGetTransactionNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetTransaction("missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAuditLogAppendsInSequence(t *testing.T) {
	s := newTestStore(t)

	if err := s.AppendAudit(AuditEntry{Subject: "alice", Action: "balance-corrected", Details: "5 -> 7"}); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendAudit(AuditEntry{Subject: "bob", Action: "nonce-corrected", Details: "4 -> 5"}); err != nil {
		t.Fatal(err)
	}
	entries, err := s.ListAudit()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 audit entries, got %d", len(entries))
	}
	if entries[0].Sequence != 1 || entries[1].Sequence != 2 {
		t.Fatalf("expected sequential sequence numbers, got %d, %d", entries[0].Sequence, entries[1].Sequence)
	}
}

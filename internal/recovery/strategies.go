package recovery

import (
	"context"
	"fmt"
	"sync"

	"github.com/l2labs/sequencer/internal/store"
	"github.com/l2labs/sequencer/internal/types"
)

// liveState tracks this process's last-known-good sequencer/bridge
// liveness, the "stored status" the sequencer-state and bridge-state
// detectors compare against a fresh probe.
type liveState struct {
	mu            sync.RWMutex
	sequencerUpV  bool
	bridgeUpV     bool
}

func newLiveState() *liveState {
	return &liveState{sequencerUpV: true, bridgeUpV: true}
}

func (s *liveState) sequencerUp() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sequencerUpV
}

func (s *liveState) setSequencerUp(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sequencerUpV = v
}

func (s *liveState) bridgeUp() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bridgeUpV
}

func (s *liveState) setBridgeUp(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bridgeUpV = v
}

// Reprocessor is the narrow slice of the sequencer a recovery strategy
// needs: re-admitting an errored batch's transactions for another
// dispatch attempt.
type Reprocessor interface {
	Reprocess(batchID string) error
}

// Strategy applies a fix for exactly one InconsistencyType. Strategies
// must be idempotent: applying the same record twice leaves the same
// final state as applying it once.
type Strategy interface {
	Apply(ctx context.Context, rec types.InconsistencyRecord) error
}

type transactionStrategy struct {
	store   *store.Store
	chain   ChainView
	reproc  Reprocessor
}

func (s *transactionStrategy) Apply(ctx context.Context, rec types.InconsistencyRecord) error {
	tx, err := s.store.GetTransaction(rec.SubjectID)
	if err != nil {
		return fmt.Errorf("recovery: transaction strategy: %w", err)
	}
	l1, err := s.chain.TransactionL1Status(ctx, tx.ID)
	if err != nil {
		return fmt.Errorf("recovery: transaction strategy: probe: %w", err)
	}

	switch {
	case l1 == L1Confirmed && tx.Status != types.TxProcessed:
		tx.Status = types.TxProcessed
		return s.store.PutTransaction(tx)
	case l1 != L1Confirmed && tx.Status == types.TxProcessed:
		if tx.BatchID != "" && s.reproc != nil {
			return s.reproc.Reprocess(tx.BatchID)
		}
		tx.Status = types.TxPending
		tx.RetryCount++
		return s.store.PutTransaction(tx)
	case l1 == L1Failed && tx.Status != types.TxErrored:
		tx.Status = types.TxErrored
		return s.store.PutTransaction(tx)
	default:
		return nil // already consistent; idempotent no-op
	}
}

type balanceStrategy struct {
	store *store.Store
	chain ChainView
}

func (s *balanceStrategy) Apply(ctx context.Context, rec types.InconsistencyRecord) error {
	acct, err := s.store.GetAccount(rec.SubjectID)
	if err != nil {
		return fmt.Errorf("recovery: balance strategy: %w", err)
	}
	confirmed, err := s.chain.ConfirmedBalance(ctx, rec.SubjectID)
	if err != nil {
		return fmt.Errorf("recovery: balance strategy: probe: %w", err)
	}
	if acct.Balance != nil && acct.Balance.Cmp(confirmed) == 0 {
		return nil // already consistent
	}
	before := acct.Balance
	acct.Balance = confirmed
	if err := s.store.PutAccount(acct); err != nil {
		return err
	}
	return s.store.AppendAudit(store.AuditEntry{
		Subject: rec.SubjectID,
		Action:  "balance-corrected",
		Details: fmt.Sprintf("%v -> %v", before, confirmed),
	})
}

type nonceStrategy struct {
	store *store.Store
	chain ChainView
}

func (s *nonceStrategy) Apply(ctx context.Context, rec types.InconsistencyRecord) error {
	acct, err := s.store.GetAccount(rec.SubjectID)
	if err != nil {
		return fmt.Errorf("recovery: nonce strategy: %w", err)
	}
	confirmed, err := s.chain.ConfirmedNonce(ctx, rec.SubjectID)
	if err != nil {
		return fmt.Errorf("recovery: nonce strategy: probe: %w", err)
	}
	expected := confirmed + 1
	if acct.Nonce == expected {
		return nil // already consistent
	}
	before := acct.Nonce
	acct.Nonce = expected
	if err := s.store.PutAccount(acct); err != nil {
		return err
	}
	return s.store.AppendAudit(store.AuditEntry{
		Subject: rec.SubjectID,
		Action:  "nonce-corrected",
		Details: fmt.Sprintf("%d -> %d", before, expected),
	})
}

type sequencerStateStrategy struct {
	chain ChainView
	state *liveState
}

func (s *sequencerStateStrategy) Apply(ctx context.Context, rec types.InconsistencyRecord) error {
	live, err := s.chain.SequencerLive(ctx)
	if err != nil {
		return fmt.Errorf("recovery: sequencer-state strategy: %w", err)
	}
	s.state.setSequencerUp(live)
	return nil
}

type bridgeStateStrategy struct {
	chain ChainView
	state *liveState
}

func (s *bridgeStateStrategy) Apply(ctx context.Context, rec types.InconsistencyRecord) error {
	live, err := s.chain.BridgeLive(ctx)
	if err != nil {
		return fmt.Errorf("recovery: bridge-state strategy: %w", err)
	}
	s.state.setBridgeUp(live)
	return nil
}

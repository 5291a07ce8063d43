package recovery

import (
	"context"
	"fmt"
	"time"

	"github.com/l2labs/sequencer/internal/store"
	"github.com/l2labs/sequencer/internal/types"
)

// Detector produces typed InconsistencyRecords for exactly one
// InconsistencyType; the engine runs every detector once per tick of a
// single shared ticker.
type Detector interface {
	Type() types.InconsistencyType
	Detect(ctx context.Context) ([]types.InconsistencyRecord, error)
}

type transactionDetector struct {
	store *store.Store
	chain ChainView
}

func (d *transactionDetector) Type() types.InconsistencyType { return types.InconsistencyTransaction }

// Detect compares L1 status against the locally tracked status for every
// pending, processed and errored transaction; transactions whose L1
// status is unknown or cannot be fetched are skipped.
func (d *transactionDetector) Detect(ctx context.Context) ([]types.InconsistencyRecord, error) {
	var recs []types.InconsistencyRecord
	for _, st := range []types.TxStatus{types.TxPending, types.TxProcessed, types.TxErrored} {
		txs, err := d.store.ListTransactionsByStatus(st)
		if err != nil {
			return nil, fmt.Errorf("recovery: list transactions by status: %w", err)
		}
		for _, tx := range txs {
			l1, err := d.chain.TransactionL1Status(ctx, tx.ID)
			if err != nil || l1 == L1Unknown {
				continue
			}
			if mismatch, details := transactionMismatch(l1, tx.Status); mismatch {
				recs = append(recs, types.InconsistencyRecord{
					Type:      types.InconsistencyTransaction,
					SubjectID: tx.ID,
					Details:   details,
					Severity:   types.SeverityMedium,
					DetectedAt: time.Now(),
				})
			}
		}
	}
	return recs, nil
}

func transactionMismatch(l1 L1Status, l2 types.TxStatus) (bool, string) {
	switch {
	case l1 == L1Confirmed && l2 != types.TxProcessed:
		return true, fmt.Sprintf("L1 confirmed but local status is %s", l2)
	case l1 != L1Confirmed && l2 == types.TxProcessed:
		return true, fmt.Sprintf("local status processed but L1 reports %v", l1)
	case l1 == L1Failed && l2 != types.TxErrored:
		return true, fmt.Sprintf("L1 failed but local status is %s", l2)
	default:
		return false, ""
	}
}

type balanceDetector struct {
	store *store.Store
	chain ChainView
}

func (d *balanceDetector) Type() types.InconsistencyType { return types.InconsistencyBalance }

func (d *balanceDetector) Detect(ctx context.Context) ([]types.InconsistencyRecord, error) {
	accounts, err := d.store.ListAccounts()
	if err != nil {
		return nil, fmt.Errorf("recovery: list accounts: %w", err)
	}
	var recs []types.InconsistencyRecord
	for _, acct := range accounts {
		confirmed, err := d.chain.ConfirmedBalance(ctx, acct.Address)
		if err != nil || confirmed == nil {
			continue
		}
		if acct.Balance == nil || acct.Balance.Cmp(confirmed) != 0 {
			recs = append(recs, types.InconsistencyRecord{
				Type:      types.InconsistencyBalance,
				SubjectID: acct.Address,
				Details:   fmt.Sprintf("stored balance %v, recomputed %v", acct.Balance, confirmed),
				Severity:   types.SeverityHigh,
				DetectedAt: time.Now(),
			})
		}
	}
	return recs, nil
}

type nonceDetector struct {
	store *store.Store
	chain ChainView
}

func (d *nonceDetector) Type() types.InconsistencyType { return types.InconsistencyNonce }

func (d *nonceDetector) Detect(ctx context.Context) ([]types.InconsistencyRecord, error) {
	accounts, err := d.store.ListAccounts()
	if err != nil {
		return nil, fmt.Errorf("recovery: list accounts: %w", err)
	}
	var recs []types.InconsistencyRecord
	for _, acct := range accounts {
		confirmed, err := d.chain.ConfirmedNonce(ctx, acct.Address)
		if err != nil {
			continue
		}
		// Account.Nonce tracks the next nonce to assign, one past the
		// highest confirmed nonce in L1 history.
		if expected := confirmed + 1; acct.Nonce != expected {
			recs = append(recs, types.InconsistencyRecord{
				Type:      types.InconsistencyNonce,
				SubjectID: acct.Address,
				Details:   fmt.Sprintf("stored nonce %d, expected %d from confirmed history max nonce %d", acct.Nonce, expected, confirmed),
				Severity:   types.SeverityHigh,
				DetectedAt: time.Now(),
			})
		}
	}
	return recs, nil
}

type sequencerStateDetector struct {
	chain ChainView
	state *liveState
}

func (d *sequencerStateDetector) Type() types.InconsistencyType {
	return types.InconsistencySequencerState
}

func (d *sequencerStateDetector) Detect(ctx context.Context) ([]types.InconsistencyRecord, error) {
	live, err := d.chain.SequencerLive(ctx)
	if err != nil {
		return nil, nil
	}
	if live != d.state.sequencerUp() {
		return []types.InconsistencyRecord{{
			Type:      types.InconsistencySequencerState,
			SubjectID: "sequencer",
			Details:   fmt.Sprintf("stored status up=%v, live probe up=%v", d.state.sequencerUp(), live),
			Severity:   types.SeverityCritical,
			DetectedAt: time.Now(),
		}}, nil
	}
	return nil, nil
}

type bridgeStateDetector struct {
	chain ChainView
	state *liveState
}

func (d *bridgeStateDetector) Type() types.InconsistencyType { return types.InconsistencyBridgeState }

func (d *bridgeStateDetector) Detect(ctx context.Context) ([]types.InconsistencyRecord, error) {
	live, err := d.chain.BridgeLive(ctx)
	if err != nil {
		return nil, nil
	}
	if live != d.state.bridgeUp() {
		return []types.InconsistencyRecord{{
			Type:      types.InconsistencyBridgeState,
			SubjectID: "bridge",
			Details:   fmt.Sprintf("stored status up=%v, live probe up=%v", d.state.bridgeUp(), live),
			Severity:   types.SeverityCritical,
			DetectedAt: time.Now(),
		}}, nil
	}
	return nil, nil
}

package recovery

import (
	"context"

	"github.com/holiman/uint256"
)

// L1Status is the blockchain-observed status of a transaction, distinct
// from the locally-tracked types.TxStatus so a detector can name a
// divergence between the two without conflating them.
type L1Status int

const (
	L1Unknown L1Status = iota
	L1Pending
	L1Confirmed
	L1Failed
)

// ChainView is the read-only probe contract spec.md's detectors compare
// local state against: confirmed transaction/balance/nonce history plus
// sequencer and bridge liveness. It is an external collaborator (the
// blockchain RPC client and an operational-health check), specified only
// by this query contract; internal/rpcclient's Client is the one
// implementation that ships with this module.
type ChainView interface {
	TransactionL1Status(ctx context.Context, txID string) (L1Status, error)
	ConfirmedBalance(ctx context.Context, address string) (*uint256.Int, error)
	ConfirmedNonce(ctx context.Context, address string) (uint64, error)
	SequencerLive(ctx context.Context) (bool, error)
	BridgeLive(ctx context.Context) (bool, error)
}

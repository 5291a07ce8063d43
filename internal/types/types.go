// Package types holds the data-model shared by every component: the
// sequencer, the priority queue, the cache, and the recovery engine.
package types

import (
	"time"

	"github.com/holiman/uint256"
)

// TxStatus is the lifecycle state of a Transaction.
type TxStatus int

const (
	TxPending TxStatus = iota
	TxProcessed
	TxErrored
)

func (s TxStatus) String() string {
	switch s {
	case TxPending:
		return "pending"
	case TxProcessed:
		return "processed"
	case TxErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// TxType is the small transaction-type enum from the data model.
type TxType int

const (
	TxTransfer TxType = iota
	TxContractCall
	TxDeposit
	TxWithdrawal
)

// ValidTxType reports whether t is one of the known enum values.
func ValidTxType(t TxType) bool {
	return t >= TxTransfer && t <= TxWithdrawal
}

// Transaction is the unit of work accepted by the sequencer.
type Transaction struct {
	ID              string
	Sender          string
	Recipient       string
	Amount          *uint256.Int
	Fee             uint64
	Nonce           uint64
	ExpiryTimestamp time.Time
	TransactionType TxType
	Data            []byte
	Signature       []byte
	Status          TxStatus
	CreatedAt       time.Time
	ProcessedAt     time.Time
	BatchID         string
	Error           string
	Priority        float64
	RetryCount      int
}

// BatchStatus is the lifecycle state of a Batch.
type BatchStatus int

const (
	BatchPending BatchStatus = iota
	BatchSubmitted
	BatchConfirmed
	BatchErrored
)

func (s BatchStatus) String() string {
	switch s {
	case BatchPending:
		return "pending"
	case BatchSubmitted:
		return "submitted"
	case BatchConfirmed:
		return "confirmed"
	case BatchErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Batch is an ordered set of transactions committed together.
type Batch struct {
	ID               string
	MerkleRoot       string
	TransactionCount int
	TransactionIDs   []string
	Status           BatchStatus
	CreatedAt        time.Time
	SubmittedAt      time.Time
	ConfirmedAt      time.Time
	Signature        string
	Error            string
}

// Account is the per-address balance/nonce ledger entry.
type Account struct {
	Address     string
	Balance     *uint256.Int
	Nonce       uint64
	LastUpdated time.Time
}

// InconsistencyType enumerates the kinds of divergence the recovery engine
// detects between layer-1 and layer-2 views.
type InconsistencyType int

const (
	InconsistencyTransaction InconsistencyType = iota
	InconsistencyBalance
	InconsistencyNonce
	InconsistencySequencerState
	InconsistencyBridgeState
)

func (t InconsistencyType) String() string {
	switch t {
	case InconsistencyTransaction:
		return "transaction"
	case InconsistencyBalance:
		return "balance"
	case InconsistencyNonce:
		return "nonce"
	case InconsistencySequencerState:
		return "sequencer-state"
	case InconsistencyBridgeState:
		return "bridge-state"
	default:
		return "unknown"
	}
}

// Severity grades an InconsistencyRecord for alerting purposes.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// InconsistencyRecord is produced by a detector and consumed by exactly one
// strategy, matched by Type. Records are never mutated after creation.
type InconsistencyRecord struct {
	Type       InconsistencyType
	SubjectID  string
	Details    string
	Severity   Severity
	DetectedAt time.Time
}

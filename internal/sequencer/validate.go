package sequencer

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/holiman/uint256"

	"github.com/l2labs/sequencer/internal/types"
)

// ValidationError is a typed, caller-visible rejection. It is never
// wrapped further up the stack: spec.md §7 requires validation errors to
// propagate to the API boundary unchanged.
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

func rejectf(code, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// sanitize strips control characters and the characters most likely to
// break a non-parameterized query builder downstream, even though this
// module's own store only ever issues parameterized pebble key lookups.
func sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '\'', '"', ';', '\\', 0:
			continue
		}
		if r < 0x20 {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Validate enforces spec.md §4.5's mandatory field/type/invariant checks.
// Rejections never reach the store.
func Validate(tx *types.Transaction, now time.Time) error {
	if tx == nil {
		return rejectf("invalid_request", "transaction is nil")
	}
	tx.Sender = sanitize(tx.Sender)
	tx.Recipient = sanitize(tx.Recipient)

	if tx.Sender == "" {
		return rejectf("missing_field", "sender is required")
	}
	if tx.Recipient == "" {
		return rejectf("missing_field", "recipient is required")
	}
	if tx.Sender == tx.Recipient {
		return rejectf("invalid_transaction", "sender and recipient must differ")
	}
	if tx.Amount == nil || tx.Amount.Cmp(uint256.NewInt(0)) <= 0 {
		return rejectf("invalid_amount", "amount must be greater than zero")
	}
	if !types.ValidTxType(tx.TransactionType) {
		return rejectf("invalid_type", "unknown transaction_type %d", tx.TransactionType)
	}
	if tx.ExpiryTimestamp.IsZero() || !tx.ExpiryTimestamp.After(now) {
		return rejectf("expired", "expiry_timestamp must be after now")
	}
	return nil
}

var ErrDuplicate = errors.New("sequencer: duplicate transaction")

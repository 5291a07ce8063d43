package sequencer

import (
	"encoding/binary"
	"encoding/hex"
	"sort"

	"golang.org/x/crypto/sha3"

	"github.com/l2labs/sequencer/internal/types"
)

// OrderForCommit sorts txs into the leaf order spec.md §4.5 requires:
// insertion order (CreatedAt ascending), stable tie-break by id. Callers
// build the merkle tree and the batch's TransactionIDs from this order.
func OrderForCommit(txs []*types.Transaction) []*types.Transaction {
	ordered := make([]*types.Transaction, len(txs))
	copy(ordered, txs)
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].CreatedAt.Equal(ordered[j].CreatedAt) {
			return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
		}
		return ordered[i].ID < ordered[j].ID
	})
	return ordered
}

// canonicalBytes lays out the fields the content-hash and merkle leaf both
// hash over: (sender, recipient, amount, nonce, expiry, type, data).
func canonicalBytes(tx *types.Transaction) []byte {
	var buf []byte
	buf = append(buf, []byte(tx.Sender)...)
	buf = append(buf, 0)
	buf = append(buf, []byte(tx.Recipient)...)
	buf = append(buf, 0)
	if tx.Amount != nil {
		buf = append(buf, tx.Amount.Bytes()...)
	}
	buf = append(buf, 0)

	var n [8]byte
	binary.BigEndian.PutUint64(n[:], tx.Nonce)
	buf = append(buf, n[:]...)

	var e [8]byte
	binary.BigEndian.PutUint64(e[:], uint64(tx.ExpiryTimestamp.Unix()))
	buf = append(buf, e[:]...)

	buf = append(buf, byte(tx.TransactionType))
	buf = append(buf, tx.Data...)
	return buf
}

// ContentHash is the dedup key: Keccak-256 over the canonical byte layout,
// the same hash family hashPair uses for internal merkle nodes.
func ContentHash(tx *types.Transaction) [32]byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(canonicalBytes(tx))
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func leafHash(tx *types.Transaction) []byte {
	h := ContentHash(tx)
	return h[:]
}

func hashPair(a, b []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(a)
	h.Write(b)
	return h.Sum(nil)
}

// MerkleRoot builds the root over txs' leaf hashes in the given order —
// callers pass the result of OrderForCommit. The tree is a standard
// pairwise binary tree; an odd level duplicates its last node, the common
// construction when no explicit padding rule is given.
func MerkleRoot(txs []*types.Transaction) string {
	if len(txs) == 0 {
		return ""
	}
	level := make([][]byte, len(txs))
	for i, tx := range txs {
		level[i] = leafHash(tx)
	}

	for len(level) > 1 {
		var next [][]byte
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, hashPair(level[i], level[i+1]))
			} else {
				next = append(next, hashPair(level[i], level[i]))
			}
		}
		level = next
	}
	return hex.EncodeToString(level[0])
}

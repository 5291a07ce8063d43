package sequencer

import (
	"encoding/hex"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru"

	"github.com/l2labs/sequencer/internal/types"
)

// dedupIndex short-circuits duplicate submissions by content hash
// (spec.md §4.5). xxhash gives a cheap uint64 to use as the LRU's own key
// (avoiding a 32-byte string compare/hash on every lookup); the stored
// value is the canonical sha3 hash so a xxhash collision can't silently
// mask two distinct transactions as duplicates.
type dedupIndex struct {
	lru *lru.Cache
}

func newDedupIndex(size int) *dedupIndex {
	if size <= 0 {
		size = 100_000
	}
	c, err := lru.New(size)
	if err != nil {
		c, _ = lru.New(1024)
	}
	return &dedupIndex{lru: c}
}

// CheckAndAdd reports whether tx is a duplicate of something already seen.
// On a miss it records tx's hash and returns false.
func (d *dedupIndex) CheckAndAdd(tx *types.Transaction) bool {
	full := ContentHash(tx)
	fast := xxhash.Sum64(full[:])

	if v, ok := d.lru.Get(fast); ok {
		if v.(string) == hex.EncodeToString(full[:]) {
			return true
		}
		// fast-hash collision between two distinct transactions: fall
		// through and treat as not-a-duplicate rather than risk masking
		// a legitimate transaction.
	}
	d.lru.Add(fast, hex.EncodeToString(full[:]))
	return false
}

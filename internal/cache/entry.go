package cache

import (
	"bytes"
	"encoding/gob"
	"time"
)

// entryRecord is the on-the-wire representation stored in every tier: the
// (possibly compressed) value plus the metadata needed to reconstruct a
// CacheEntry and to decompress uniformly regardless of which tier served
// the read.
type entryRecord struct {
	Value        []byte
	Compressed   bool
	Algo         Algorithm
	CreatedAt    time.Time
	LastAccessed time.Time
	AccessCount  int64
	Expiry       time.Time // zero means "no expiry"
	Dependencies []string
}

func (e *entryRecord) expired(now time.Time) bool {
	return !e.Expiry.IsZero() && !now.Before(e.Expiry)
}

func encodeRecord(e *entryRecord) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(e); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeRecord(b []byte) (*entryRecord, error) {
	var e entryRecord
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&e); err != nil {
		return nil, err
	}
	return &e, nil
}

// Package store implements the query contract spec.md treats as an
// external collaborator — "durable relational store" — against an
// embedded cockroachdb/pebble key-value engine, the teacher's own
// storage backend. Tables become key prefixes; the required indexes on
// transactions(status), transactions(batch_id) and batches(status) are
// emulated as secondary key spaces maintained alongside the primary rows.
package store

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/google/uuid"

	"github.com/l2labs/sequencer/internal/types"
)

const (
	prefixTx        = "transactions/"
	prefixTxStatus  = "idx/transactions/status/"
	prefixTxBatch   = "idx/transactions/batch_id/"
	prefixBatch     = "batches/"
	prefixBatchStat = "idx/batches/status/"
	prefixAccount   = "accounts/"
	prefixAudit     = "audit_log/"
)

// Store is the persistence boundary every other component goes through;
// nothing else in the module opens its own pebble handle.
type Store struct {
	db *pebble.DB
}

// Open creates or reopens the store at dir. An empty dir opens an
// in-memory instance, used by tests.
func Open(dir string) (*Store, error) {
	var (
		db  *pebble.DB
		err error
	)
	if dir == "" {
		db, err = pebble.Open("", &pebble.Options{FS: vfs.NewMem()})
	} else {
		db, err = pebble.Open(dir, &pebble.Options{})
	}
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func encode(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decode(data []byte, v interface{}) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

// --- transactions ---

func txKey(id string) []byte        { return []byte(prefixTx + id) }
func txStatusKey(st types.TxStatus, id string) []byte {
	return []byte(fmt.Sprintf("%s%d/%s", prefixTxStatus, int(st), id))
}
func txBatchKey(batchID, id string) []byte {
	return []byte(prefixTxBatch + batchID + "/" + id)
}

// PutTransaction inserts or overwrites a transaction row and its status /
// batch_id index entries in a single atomic Pebble batch, removing any
// stale index entries left by a prior status for the same id.
func (s *Store) PutTransaction(tx *types.Transaction) error {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	prev, err := s.GetTransaction(tx.ID)
	b := s.db.NewBatch()
	defer b.Close()

	if err == nil && prev != nil {
		_ = b.Delete(txStatusKey(prev.Status, prev.ID), nil)
		if prev.BatchID != "" {
			_ = b.Delete(txBatchKey(prev.BatchID, prev.ID), nil)
		}
	}

	data, err := encode(tx)
	if err != nil {
		return fmt.Errorf("store: encode transaction: %w", err)
	}
	if err := b.Set(txKey(tx.ID), data, nil); err != nil {
		return err
	}
	if err := b.Set(txStatusKey(tx.Status, tx.ID), nil, nil); err != nil {
		return err
	}
	if tx.BatchID != "" {
		if err := b.Set(txBatchKey(tx.BatchID, tx.ID), nil, nil); err != nil {
			return err
		}
	}
	return b.Commit(pebble.Sync)
}

func (s *Store) GetTransaction(id string) (*types.Transaction, error) {
	data, closer, err := s.db.Get(txKey(id))
	if err != nil {
		if err == pebble.ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer closer.Close()
	var tx types.Transaction
	if err := decode(data, &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

// ListTransactionsByStatus scans the transactions(status) index.
func (s *Store) ListTransactionsByStatus(st types.TxStatus) ([]*types.Transaction, error) {
	prefix := []byte(fmt.Sprintf("%s%d/", prefixTxStatus, int(st)))
	ids, err := s.scanIDs(prefix)
	if err != nil {
		return nil, err
	}
	return s.hydrateTransactions(ids)
}

// ListTransactionsByBatch scans the transactions(batch_id) index.
func (s *Store) ListTransactionsByBatch(batchID string) ([]*types.Transaction, error) {
	prefix := []byte(prefixTxBatch + batchID + "/")
	ids, err := s.scanIDs(prefix)
	if err != nil {
		return nil, err
	}
	return s.hydrateTransactions(ids)
}

func (s *Store) hydrateTransactions(ids []string) ([]*types.Transaction, error) {
	out := make([]*types.Transaction, 0, len(ids))
	for _, id := range ids {
		tx, err := s.GetTransaction(id)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, nil
}

func (s *Store) scanIDs(prefix []byte) ([]string, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: upperBound(prefix)})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var ids []string
	for iter.First(); iter.Valid(); iter.Next() {
		key := string(iter.Key())
		idx := bytes.LastIndexByte([]byte(key), '/')
		ids = append(ids, key[idx+1:])
	}
	return ids, iter.Error()
}

// upperBound computes the exclusive upper bound for a prefix scan by
// incrementing its last byte, the standard Pebble idiom.
func upperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil // prefix was all 0xff: unbounded
}

// --- batches ---

func batchKey(id string) []byte { return []byte(prefixBatch + id) }
func batchStatusKey(st types.BatchStatus, id string) []byte {
	return []byte(fmt.Sprintf("%s%d/%s", prefixBatchStat, int(st), id))
}

func (s *Store) PutBatch(batch *types.Batch) error {
	if batch.ID == "" {
		batch.ID = uuid.NewString()
	}
	prev, err := s.GetBatch(batch.ID)
	b := s.db.NewBatch()
	defer b.Close()

	if err == nil && prev != nil {
		_ = b.Delete(batchStatusKey(prev.Status, prev.ID), nil)
	}
	data, err := encode(batch)
	if err != nil {
		return fmt.Errorf("store: encode batch: %w", err)
	}
	if err := b.Set(batchKey(batch.ID), data, nil); err != nil {
		return err
	}
	if err := b.Set(batchStatusKey(batch.Status, batch.ID), nil, nil); err != nil {
		return err
	}
	return b.Commit(pebble.Sync)
}

func (s *Store) GetBatch(id string) (*types.Batch, error) {
	data, closer, err := s.db.Get(batchKey(id))
	if err != nil {
		if err == pebble.ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer closer.Close()
	var batch types.Batch
	if err := decode(data, &batch); err != nil {
		return nil, err
	}
	return &batch, nil
}

func (s *Store) ListBatchesByStatus(st types.BatchStatus) ([]*types.Batch, error) {
	prefix := []byte(fmt.Sprintf("%s%d/", prefixBatchStat, int(st)))
	ids, err := s.scanIDs(prefix)
	if err != nil {
		return nil, err
	}
	out := make([]*types.Batch, 0, len(ids))
	for _, id := range ids {
		batch, err := s.GetBatch(id)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, batch)
	}
	return out, nil
}

// --- accounts ---

func accountKey(addr string) []byte { return []byte(prefixAccount + addr) }

func (s *Store) PutAccount(acct *types.Account) error {
	data, err := encode(acct)
	if err != nil {
		return fmt.Errorf("store: encode account: %w", err)
	}
	return s.db.Set(accountKey(acct.Address), data, pebble.Sync)
}

// ListAccounts returns every known account, for detectors that must sweep
// the whole ledger (balance/nonce reconciliation).
func (s *Store) ListAccounts() ([]*types.Account, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: []byte(prefixAccount), UpperBound: upperBound([]byte(prefixAccount))})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []*types.Account
	for iter.First(); iter.Valid(); iter.Next() {
		var acct types.Account
		if err := decode(iter.Value(), &acct); err != nil {
			return nil, err
		}
		out = append(out, &acct)
	}
	return out, iter.Error()
}

func (s *Store) GetAccount(addr string) (*types.Account, error) {
	data, closer, err := s.db.Get(accountKey(addr))
	if err != nil {
		if err == pebble.ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer closer.Close()
	var acct types.Account
	if err := decode(data, &acct); err != nil {
		return nil, err
	}
	return &acct, nil
}

// --- audit log ---

// AuditEntry is an append-only record written by recovery strategies; the
// key embeds a monotonic sequence number so iteration order is insertion
// order without relying on wall-clock timestamps colliding.
type AuditEntry struct {
	Sequence  uint64
	Subject   string
	Action    string
	Details   string
}

func auditKey(seq uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], seq)
	return append([]byte(prefixAudit), buf[:]...)
}

func (s *Store) AppendAudit(entry AuditEntry) error {
	seq, err := s.nextAuditSequence()
	if err != nil {
		return err
	}
	entry.Sequence = seq
	data, err := encode(entry)
	if err != nil {
		return err
	}
	return s.db.Set(auditKey(seq), data, pebble.Sync)
}

// nextAuditSequence scans for the highest existing sequence number. The
// audit log is low-volume (recovery strategies only), so a linear scan on
// append is an acceptable tradeoff against a dedicated counter key.
func (s *Store) nextAuditSequence() (uint64, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: []byte(prefixAudit), UpperBound: upperBound([]byte(prefixAudit))})
	if err != nil {
		return 0, err
	}
	defer iter.Close()
	var max uint64
	for iter.First(); iter.Valid(); iter.Next() {
		key := iter.Key()
		seq := binary.BigEndian.Uint64(key[len(prefixAudit):])
		if seq > max {
			max = seq
		}
	}
	if err := iter.Error(); err != nil {
		return 0, err
	}
	if max == 0 {
		return 1, nil
	}
	return max + 1, nil
}

func (s *Store) ListAudit() ([]AuditEntry, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: []byte(prefixAudit), UpperBound: upperBound([]byte(prefixAudit))})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []AuditEntry
	for iter.First(); iter.Valid(); iter.Next() {
		var e AuditEntry
		if err := decode(iter.Value(), &e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, iter.Error()
}

// AssignBatchID atomically moves every transaction in txIDs into batch
// batchID, updating their status and both indexes in one Pebble batch —
// the "atomic batch-id assignment" guarantee from spec.md's store
// contract, without full relational ACID.
func (s *Store) AssignBatchID(batchID string, txIDs []string, newStatus types.TxStatus) error {
	b := s.db.NewBatch()
	defer b.Close()

	for _, id := range txIDs {
		tx, err := s.GetTransaction(id)
		if err != nil {
			return fmt.Errorf("store: assign batch: %w", err)
		}
		_ = b.Delete(txStatusKey(tx.Status, tx.ID), nil)
		if tx.BatchID != "" {
			_ = b.Delete(txBatchKey(tx.BatchID, tx.ID), nil)
		}
		tx.BatchID = batchID
		tx.Status = newStatus
		data, err := encode(tx)
		if err != nil {
			return err
		}
		if err := b.Set(txKey(tx.ID), data, nil); err != nil {
			return err
		}
		if err := b.Set(txStatusKey(tx.Status, tx.ID), nil, nil); err != nil {
			return err
		}
		if err := b.Set(txBatchKey(batchID, tx.ID), nil, nil); err != nil {
			return err
		}
	}
	return b.Commit(pebble.Sync)
}

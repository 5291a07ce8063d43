package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/holiman/uint256"
	"github.com/julienschmidt/httprouter"

	"github.com/l2labs/sequencer/internal/sequencer"
	"github.com/l2labs/sequencer/internal/store"
	"github.com/l2labs/sequencer/internal/types"
	"github.com/l2labs/sequencer/metrics"
)

// addTransactionRequest is the wire shape for both add_transaction and
// add_priority_transaction; amount travels as a decimal string since
// uint256 has no canonical JSON representation worth depending on.
type addTransactionRequest struct {
	Sender          string `json:"sender"`
	Recipient       string `json:"recipient"`
	Amount          string `json:"amount"`
	Fee             uint64 `json:"fee"`
	Nonce           uint64 `json:"nonce"`
	ExpiryTimestamp int64  `json:"expiry_timestamp"` // unix seconds
	TransactionType int    `json:"transaction_type"`
	Data            []byte `json:"data,omitempty"`
	Signature       []byte `json:"signature,omitempty"`
	Priority        int    `json:"priority,omitempty"` // 1..10, priority endpoint only
}

type addTransactionResponse struct {
	TransactionID string `json:"transaction_id"`
}

func (s *Server) handleAddTransaction(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s.addTransaction(w, r, 0)
}

func (s *Server) handleAddPriorityTransaction(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req addTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	priority := float64(req.Priority) / 10
	if priority <= 0 {
		priority = 0.1
	}
	s.addTransactionFromRequest(w, req, priority)
}

func (s *Server) addTransaction(w http.ResponseWriter, r *http.Request, priority float64) {
	var req addTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.addTransactionFromRequest(w, req, priority)
}

func (s *Server) addTransactionFromRequest(w http.ResponseWriter, req addTransactionRequest, priority float64) {
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid amount")
		return
	}
	tx := &types.Transaction{
		Sender:          req.Sender,
		Recipient:       req.Recipient,
		Amount:          amount,
		Fee:             req.Fee,
		Nonce:           req.Nonce,
		ExpiryTimestamp: time.Unix(req.ExpiryTimestamp, 0),
		TransactionType: types.TxType(req.TransactionType),
		Data:            req.Data,
		Signature:       req.Signature,
	}
	id, err := s.seq.AddTransaction(tx, priority)
	if err != nil {
		switch err {
		case sequencer.ErrDuplicate:
			writeError(w, http.StatusConflict, err.Error())
		default:
			if _, ok := err.(*sequencer.ValidationError); ok {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			writeError(w, http.StatusServiceUnavailable, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusAccepted, addTransactionResponse{TransactionID: id})
}

func parseAmount(s string) (*uint256.Int, error) {
	if s == "" {
		return uint256.NewInt(0), nil
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, err
	}
	return v, nil
}

type transactionStatusResponse struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	BatchID     string `json:"batch_id,omitempty"`
	Error       string `json:"error,omitempty"`
	RetryCount  int    `json:"retry_count"`
	CreatedAt   int64  `json:"created_at"`
	ProcessedAt int64  `json:"processed_at,omitempty"`
}

func (s *Server) handleGetTransactionStatus(w http.ResponseWriter, _ *http.Request, ps httprouter.Params) {
	tx, err := s.store.GetTransaction(ps.ByName("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "transaction not found")
		return
	}
	resp := transactionStatusResponse{
		ID:         tx.ID,
		Status:     tx.Status.String(),
		BatchID:    tx.BatchID,
		Error:      tx.Error,
		RetryCount: tx.RetryCount,
		CreatedAt:  tx.CreatedAt.Unix(),
	}
	if !tx.ProcessedAt.IsZero() {
		resp.ProcessedAt = tx.ProcessedAt.Unix()
	}
	writeJSON(w, http.StatusOK, resp)
}

type batchStatusResponse struct {
	ID               string   `json:"id"`
	Status           string   `json:"status"`
	MerkleRoot       string   `json:"merkle_root"`
	TransactionCount int      `json:"transaction_count"`
	TransactionIDs   []string `json:"transaction_ids"`
	Signature        string   `json:"signature,omitempty"`
	Error            string   `json:"error,omitempty"`
}

func (s *Server) handleGetBatchStatus(w http.ResponseWriter, _ *http.Request, ps httprouter.Params) {
	batch, err := s.store.GetBatch(ps.ByName("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "batch not found")
		return
	}
	writeJSON(w, http.StatusOK, batchStatusResponse{
		ID:               batch.ID,
		Status:           batch.Status.String(),
		MerkleRoot:       batch.MerkleRoot,
		TransactionCount: batch.TransactionCount,
		TransactionIDs:   batch.TransactionIDs,
		Signature:        batch.Signature,
		Error:            batch.Error,
	})
}

type accountBalanceResponse struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
	Nonce   uint64 `json:"nonce"`
}

func (s *Server) handleGetAccountBalance(w http.ResponseWriter, _ *http.Request, ps httprouter.Params) {
	acct, err := s.store.GetAccount(ps.ByName("address"))
	if err == store.ErrNotFound {
		writeJSON(w, http.StatusOK, accountBalanceResponse{Address: ps.ByName("address"), Balance: "0", Nonce: 0})
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, accountBalanceResponse{
		Address: acct.Address,
		Balance: acct.Balance.String(),
		Nonce:   acct.Nonce,
	})
}

type statsResponse struct {
	QueueSize      int            `json:"queue_size"`
	BreakerState   string         `json:"breaker_state"`
	WorkerPool     workerStats    `json:"worker_pool"`
	Counters       map[string]int64 `json:"counters"`
}

type workerStats struct {
	Workers   int   `json:"workers"`
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Pending   int   `json:"pending"`
}

func (s *Server) handleGetStats(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	resp := statsResponse{
		QueueSize:    s.q.Size(),
		BreakerState: s.br.State().String(),
		Counters:     make(map[string]int64),
	}
	if s.pool != nil {
		ps := s.pool.Stats()
		resp.WorkerPool = workerStats{
			Workers:   ps.Workers,
			Submitted: ps.Submitted,
			Completed: ps.Completed,
			Failed:    ps.Failed,
			Pending:   ps.Pending,
		}
	}
	metrics.DefaultRegistry.Each(func(name string, v interface{}) {
		switch m := v.(type) {
		case metrics.Counter:
			resp.Counters[name] = m.Count()
		case metrics.Gauge:
			resp.Counters[name] = m.Value()
		}
	})
	writeJSON(w, http.StatusOK, resp)
}

// Package rpcclient is the one concrete adapter this module ships for the
// external blockchain collaborator: a plain HTTP client satisfying both
// breaker.Client (batch submission) and recovery.ChainView (confirmed
// state probes). It assumes a JSON-over-HTTP service sits at the
// configured base URL; wiring an actual L1/bridge RPC protocol is outside
// this module's scope (see internal/recovery's ChainView doc).
package rpcclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/holiman/uint256"

	"github.com/l2labs/sequencer/internal/recovery"
)

// Client talks to an operator-supplied HTTP endpoint for batch submission
// and chain-state probes. BaseURL empty means no endpoint is configured;
// calls return an error rather than silently no-op, so misconfiguration
// is visible immediately instead of masquerading as "always confirmed".
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func New(baseURL string) *Client {
	return &Client{BaseURL: baseURL, HTTP: &http.Client{Timeout: 10 * time.Second}}
}

func (c *Client) do(ctx context.Context, path string, req, resp interface{}) error {
	if c.BaseURL == "" {
		return fmt.Errorf("rpcclient: no endpoint configured")
	}
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpResp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return err
	}
	defer httpResp.Body.Close()
	if httpResp.StatusCode >= 300 {
		return fmt.Errorf("rpcclient: %s returned %s", path, httpResp.Status)
	}
	if resp == nil {
		return nil
	}
	return json.NewDecoder(httpResp.Body).Decode(resp)
}

// SubmitBatch implements breaker.Client.
func (c *Client) SubmitBatch(ctx context.Context, compressed []byte, merkleRoot string) (string, error) {
	var resp struct {
		Signature string `json:"signature"`
	}
	err := c.do(ctx, "/submit_batch", map[string]interface{}{
		"merkle_root": merkleRoot,
		"payload":     compressed,
	}, &resp)
	return resp.Signature, err
}

// TransactionL1Status implements recovery.ChainView.
func (c *Client) TransactionL1Status(ctx context.Context, txID string) (recovery.L1Status, error) {
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.do(ctx, "/tx_status", map[string]string{"tx_id": txID}, &resp); err != nil {
		return recovery.L1Unknown, err
	}
	switch resp.Status {
	case "pending":
		return recovery.L1Pending, nil
	case "confirmed":
		return recovery.L1Confirmed, nil
	case "failed":
		return recovery.L1Failed, nil
	default:
		return recovery.L1Unknown, nil
	}
}

// ConfirmedBalance implements recovery.ChainView.
func (c *Client) ConfirmedBalance(ctx context.Context, address string) (*uint256.Int, error) {
	var resp struct {
		Balance string `json:"balance"`
	}
	if err := c.do(ctx, "/balance", map[string]string{"address": address}, &resp); err != nil {
		return nil, err
	}
	v, err := uint256.FromDecimal(resp.Balance)
	if err != nil {
		return nil, fmt.Errorf("rpcclient: parse balance: %w", err)
	}
	return v, nil
}

// ConfirmedNonce implements recovery.ChainView.
func (c *Client) ConfirmedNonce(ctx context.Context, address string) (uint64, error) {
	var resp struct {
		Nonce uint64 `json:"nonce"`
	}
	err := c.do(ctx, "/nonce", map[string]string{"address": address}, &resp)
	return resp.Nonce, err
}

// SequencerLive implements recovery.ChainView.
func (c *Client) SequencerLive(ctx context.Context) (bool, error) {
	var resp struct {
		Live bool `json:"live"`
	}
	err := c.do(ctx, "/sequencer_live", struct{}{}, &resp)
	return resp.Live, err
}

// BridgeLive implements recovery.ChainView.
func (c *Client) BridgeLive(ctx context.Context) (bool, error) {
	var resp struct {
		Live bool `json:"live"`
	}
	err := c.do(ctx, "/bridge_live", struct{}{}, &resp)
	return resp.Live, err
}

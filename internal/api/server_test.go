package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/l2labs/sequencer/internal/breaker"
	"github.com/l2labs/sequencer/internal/cache"
	"github.com/l2labs/sequencer/internal/queue"
	"github.com/l2labs/sequencer/internal/sequencer"
	"github.com/l2labs/sequencer/internal/store"
)

type fakeRPC struct{}

func (fakeRPC) SubmitBatch(ctx context.Context, compressed []byte, merkleRoot string) (string, error) {
	return "sig-" + merkleRoot, nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	st, err := store.Open("")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	c := cache.New(cache.DefaultConfig())
	t.Cleanup(func() { c.Close() })

	q := queue.New(queue.DefaultConfig())
	br := breaker.New(breaker.DefaultConfig(), fakeRPC{})
	seq := sequencer.New(sequencer.DefaultConfig(), st, c, q, br)

	return New(Deps{Sequencer: seq, Store: st, Queue: q, Breaker: br})
}

func TestAddTransactionAndFetchStatus(t *testing.T) {
	s := newTestServer(t)
	body := addTransactionRequest{
		Sender:          "alice",
		Recipient:       "bob",
		Amount:          "100",
		ExpiryTimestamp: time.Now().Add(time.Hour).Unix(),
		TransactionType: 0,
	}
	buf, _ := json.Marshal(body)

	req := httptest.NewRequest(http.MethodPost, "/v1/transactions", bytes.NewReader(buf))
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	var resp addTransactionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.TransactionID == "" {
		t.Fatal("expected a transaction id")
	}

	req2 := httptest.NewRequest(http.MethodGet, "/v1/transactions/"+resp.TransactionID, nil)
	w2 := httptest.NewRecorder()
	s.Handler().ServeHTTP(w2, req2)
	if w2.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w2.Code, w2.Body.String())
	}
}

func TestRejectsInvalidTransaction(t *testing.T) {
	s := newTestServer(t)
	body := addTransactionRequest{Sender: "alice", Recipient: "alice", Amount: "1"}
	buf, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, "/v1/transactions", bytes.NewReader(buf))
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for self-send, got %d", w.Code)
	}
}

func TestJWTAuthenticatorAcceptsCurrentSecretAndRejectsStale(t *testing.T) {
	secretA := []byte("secret-a")
	auth := NewJWTAuthenticator(secretA)

	tokenA := signToken(t, secretA)
	req := httptest.NewRequest(http.MethodGet, "/v1/stats", nil)
	req.Header.Set("Authorization", "Bearer "+tokenA)
	if err := auth.Authenticate(req); err != nil {
		t.Fatalf("expected current secret to authenticate: %v", err)
	}

	secretB := []byte("secret-b")
	auth.RotateSecret(secretB)
	if err := auth.Authenticate(req); err != nil {
		t.Fatalf("expected prior secret to still authenticate within history: %v", err)
	}

	req.Header.Set("Authorization", "Bearer not-a-token")
	if err := auth.Authenticate(req); err == nil {
		t.Fatal("expected garbage token to be rejected")
	}
}

func TestAuthRequiredOnProtectedRoute(t *testing.T) {
	s := newTestServer(t)
	s.auth = NewJWTAuthenticator([]byte("shh"))
	req := httptest.NewRequest(http.MethodGet, "/v1/stats", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a bearer token, got %d", w.Code)
	}
}

func signToken(t *testing.T, secret []byte) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString(secret)
	if err != nil {
		t.Fatal(err)
	}
	return signed
}

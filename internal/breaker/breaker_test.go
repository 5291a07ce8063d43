package breaker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type fakeClient struct {
	failUntil int32
	calls     int32
}

func (f *fakeClient) SubmitBatch(ctx context.Context, compressed []byte, merkleRoot string) (string, error) {
	n := atomic.AddInt32(&f.calls, 1)
	if n <= f.failUntil {
		return "", errors.New("rpc unavailable")
	}
	return "sig-" + merkleRoot, nil
}

func testConfig() Config {
	return Config{FailureThreshold: 3, Window: time.Minute, ResetTimeout: 20 * time.Millisecond, MaxRetries: 0}
}

func TestSuccessfulSubmitStaysClosed(t *testing.T) {
	b := New(testConfig(), &fakeClient{})
	sig, err := b.Submit(context.Background(), []byte("x"), "root1")
	if err != nil {
		t.Fatal(err)
	}
	if sig != "sig-root1" {
		t.Fatalf("got %q", sig)
	}
	if b.State() != Closed {
		t.Fatalf("expected closed, got %v", b.State())
	}
}

func TestTripsOpenAfterThreshold(t *testing.T) {
	client := &fakeClient{failUntil: 100}
	b := New(testConfig(), client)

	for i := 0; i < 3; i++ {
		if _, err := b.Submit(context.Background(), nil, "r"); err == nil {
			t.Fatal("expected failure")
		}
	}
	if b.State() != Open {
		t.Fatalf("expected open after 3 consecutive failures, got %v", b.State())
	}

	if _, err := b.Submit(context.Background(), nil, "r"); err != ErrOpen {
		t.Fatalf("expected fast-fail ErrOpen, got %v", err)
	}
	if client.calls != 3 {
		t.Fatalf("expected fast-fail to skip the RPC, client saw %d calls", client.calls)
	}
}

func TestHalfOpenTrialAdmittedAfterResetTimeout(t *testing.T) {
	client := &fakeClient{failUntil: 3}
	b := New(testConfig(), client)

	for i := 0; i < 3; i++ {
		b.Submit(context.Background(), nil, "r")
	}
	if b.State() != Open {
		t.Fatalf("expected open, got %v", b.State())
	}

	time.Sleep(30 * time.Millisecond)
	if b.State() != HalfOpen {
		t.Fatalf("expected half-open after reset timeout, got %v", b.State())
	}

	sig, err := b.Submit(context.Background(), nil, "recovery-root")
	if err != nil {
		t.Fatalf("expected trial call to succeed, got %v", err)
	}
	if sig == "" {
		t.Fatal("expected a signature")
	}
	if b.State() != Closed {
		t.Fatalf("expected closed after successful trial, got %v", b.State())
	}
}

// Package breaker implements the closed/open/half-open circuit breaker
// wrapping the blockchain RPC collaborator's submit_batch call, plus the
// jittered exponential backoff retry loop in front of it.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/l2labs/sequencer/event"
	"github.com/l2labs/sequencer/metrics"
)

// State is the breaker's current mode.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

var ErrOpen = errors.New("breaker: circuit open")

// StateChange is emitted on Breaker.Events whenever the breaker trips,
// resets, or enters its half-open trial state.
type StateChange struct {
	From, To State
	At       time.Time
}

// Client is the external collaborator contract from spec.md §6:
// submit_batch(compressed_bytes, merkle_root) -> {signature} | error,
// idempotent keyed by merkle_root.
type Client interface {
	SubmitBatch(ctx context.Context, compressed []byte, merkleRoot string) (signature string, err error)
}

// Config controls trip/reset thresholds.
type Config struct {
	FailureThreshold int           // consecutive failures within Window before tripping
	Window           time.Duration
	ResetTimeout     time.Duration // time spent Open before trying HalfOpen
	MaxRetries       uint64        // backoff retry attempts per call, inside the breaker
}

func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		Window:           60 * time.Second,
		ResetTimeout:     30 * time.Second,
		MaxRetries:       3,
	}
}

// Breaker wraps a Client with failure counting, state transitions, and
// retry-with-backoff. Safe for concurrent use.
type Breaker struct {
	cfg    Config
	client Client

	mu          sync.Mutex
	state       State
	failures    []time.Time // sliding window of recent failure timestamps
	openedAt    time.Time
	halfOpenTry bool // a trial call is already in flight in HalfOpen

	Events *event.Feed // emits StateChange

	stateGauge metrics.Gauge
}

func New(cfg Config, client Client) *Breaker {
	b := &Breaker{
		cfg:        cfg,
		client:     client,
		Events:     new(event.Feed),
		stateGauge: metrics.GetOrRegisterGauge("breaker.state", nil),
	}
	b.stateGauge.Update(int64(Closed))
	return b
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentLocked()
}

// currentLocked resolves Open -> HalfOpen once ResetTimeout has elapsed.
// Caller must hold b.mu.
func (b *Breaker) currentLocked() State {
	if b.state == Open && time.Since(b.openedAt) >= b.cfg.ResetTimeout {
		b.transition(HalfOpen)
	}
	return b.state
}

func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if to == Open {
		b.openedAt = time.Now()
	}
	b.stateGauge.Update(int64(to))
	b.Events.Send(StateChange{From: from, To: to, At: time.Now()})
}

// Submit runs the call through backoff-wrapped retries if the breaker is
// closed or admits a half-open trial; returns ErrOpen immediately
// otherwise (fast-fail, no RPC attempted).
func (b *Breaker) Submit(ctx context.Context, compressed []byte, merkleRoot string) (string, error) {
	b.mu.Lock()
	state := b.currentLocked()
	switch state {
	case Open:
		b.mu.Unlock()
		return "", ErrOpen
	case HalfOpen:
		if b.halfOpenTry {
			b.mu.Unlock()
			return "", ErrOpen
		}
		b.halfOpenTry = true
	}
	b.mu.Unlock()

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), b.cfg.MaxRetries), ctx)

	var signature string
	err := backoff.Retry(func() error {
		sig, err := b.client.SubmitBatch(ctx, compressed, merkleRoot)
		if err != nil {
			return err
		}
		signature = sig
		return nil
	}, bo)

	b.mu.Lock()
	defer b.mu.Unlock()
	if state == HalfOpen {
		b.halfOpenTry = false
	}
	if err != nil {
		b.recordFailureLocked()
		return "", err
	}
	b.recordSuccessLocked()
	return signature, nil
}

func (b *Breaker) recordFailureLocked() {
	now := time.Now()
	b.failures = append(b.failures, now)
	cutoff := now.Add(-b.cfg.Window)
	kept := b.failures[:0]
	for _, t := range b.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	b.failures = kept

	if b.state == HalfOpen {
		b.transition(Open)
		return
	}
	if len(b.failures) >= b.cfg.FailureThreshold {
		b.transition(Open)
	}
}

func (b *Breaker) recordSuccessLocked() {
	b.failures = nil
	b.transition(Closed)
}

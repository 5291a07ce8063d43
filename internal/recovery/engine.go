// Package recovery implements spec.md §4.6: detectors comparing local
// state against the blockchain's view, typed strategies that reconcile
// the divergence, and a per-subject retry discipline that escalates to a
// critical alert once max_recovery_attempts is exhausted.
package recovery

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/l2labs/sequencer/event"
	"github.com/l2labs/sequencer/internal/store"
	"github.com/l2labs/sequencer/internal/types"
	"github.com/l2labs/sequencer/log"
	"github.com/l2labs/sequencer/metrics"
)

// Config controls detector cadence and the retry cutoff.
type Config struct {
	CheckInterval      time.Duration
	MaxAttempts        int
}

func DefaultConfig() Config {
	return Config{CheckInterval: 30 * time.Second, MaxAttempts: 3}
}

// CriticalAlert is emitted on Engine.Alerts when a (type, subject) pair
// exceeds MaxAttempts; delivery to external notifier channels is the
// out-of-scope alert/notification collaborator's job.
type CriticalAlert struct {
	Record   types.InconsistencyRecord
	Attempts int
}

// Engine owns the detector round ticker and the strategy registry.
type Engine struct {
	cfg        Config
	store      *store.Store
	detectors  []Detector
	strategies map[types.InconsistencyType]Strategy

	attemptsMu sync.Mutex
	attempts   map[attemptKey]int

	Alerts *event.Feed // emits CriticalAlert

	metricApplied   metrics.Counter
	metricEscalated metrics.Counter

	wg sync.WaitGroup
}

type attemptKey struct {
	typ       types.InconsistencyType
	subjectID string
}

// New wires the standard detector/strategy set against store and chain.
// reproc may be nil if batch reprocessing isn't wired (tests, or a
// deployment that only runs balance/nonce/liveness reconciliation).
func New(cfg Config, st *store.Store, chain ChainView, reproc Reprocessor) *Engine {
	state := newLiveState()
	e := &Engine{
		cfg:   cfg,
		store: st,
		detectors: []Detector{
			&transactionDetector{store: st, chain: chain},
			&balanceDetector{store: st, chain: chain},
			&nonceDetector{store: st, chain: chain},
			&sequencerStateDetector{chain: chain, state: state},
			&bridgeStateDetector{chain: chain, state: state},
		},
		strategies: map[types.InconsistencyType]Strategy{
			types.InconsistencyTransaction:    &transactionStrategy{store: st, chain: chain, reproc: reproc},
			types.InconsistencyBalance:        &balanceStrategy{store: st, chain: chain},
			types.InconsistencyNonce:          &nonceStrategy{store: st, chain: chain},
			types.InconsistencySequencerState: &sequencerStateStrategy{chain: chain, state: state},
			types.InconsistencyBridgeState:    &bridgeStateStrategy{chain: chain, state: state},
		},
		attempts:        make(map[attemptKey]int),
		Alerts:          new(event.Feed),
		metricApplied:   metrics.NewRegisteredCounter("recovery/applied", nil),
		metricEscalated: metrics.NewRegisteredCounter("recovery/escalated", nil),
	}
	return e
}

// Start launches a single ticker; each tick fans every detector out
// concurrently via errgroup and waits for the round to finish before the
// next tick, so a slow chain probe on one detector never delays the
// others within the same round.
func (e *Engine) Start(ctx context.Context) {
	e.wg.Add(1)
	go e.runRounds(ctx)
}

func (e *Engine) Wait() { e.wg.Wait() }

func (e *Engine) runRounds(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.runRound(ctx)
		}
	}
}

func (e *Engine) runRound(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	for _, d := range e.detectors {
		d := d
		g.Go(func() error {
			e.runOnce(gctx, d)
			return nil
		})
	}
	_ = g.Wait() // runOnce already logs per-detector failures; nothing to propagate
}

// RunOnce runs d and applies its findings immediately; exported so tests
// and an operator CLI can drive a check outside the ticker cadence.
func (e *Engine) RunOnce(ctx context.Context, d Detector) { e.runOnce(ctx, d) }

func (e *Engine) runOnce(ctx context.Context, d Detector) {
	recs, err := d.Detect(ctx)
	if err != nil {
		log.Warn("recovery: detector failed", "type", d.Type(), "err", err)
		return
	}
	for _, rec := range recs {
		e.apply(ctx, rec)
	}
}

func (e *Engine) apply(ctx context.Context, rec types.InconsistencyRecord) {
	key := attemptKey{typ: rec.Type, subjectID: rec.SubjectID}

	e.attemptsMu.Lock()
	attempts := e.attempts[key]
	if attempts >= e.cfg.MaxAttempts {
		e.attemptsMu.Unlock()
		e.metricEscalated.Inc(1)
		e.Alerts.Send(CriticalAlert{Record: rec, Attempts: attempts})
		log.Error("recovery: max attempts exceeded, escalating", "type", rec.Type, "subject", rec.SubjectID, "attempts", attempts)
		return
	}
	e.attemptsMu.Unlock()

	strategy, ok := e.strategies[rec.Type]
	if !ok {
		log.Warn("recovery: no strategy registered", "type", rec.Type)
		return
	}

	if err := strategy.Apply(ctx, rec); err != nil {
		e.attemptsMu.Lock()
		e.attempts[key] = attempts + 1
		e.attemptsMu.Unlock()
		log.Warn("recovery: strategy failed", "type", rec.Type, "subject", rec.SubjectID, "err", err, "attempt", attempts+1)
		return
	}

	e.attemptsMu.Lock()
	delete(e.attempts, key) // success resets the counter
	e.attemptsMu.Unlock()
	e.metricApplied.Inc(1)
}

package queue

import (
	"sync"

	"github.com/l2labs/sequencer/internal/types"
)

// Weights are the priority-function coefficients from spec.md §4.2. They
// must sum to 1; Normalize restores that after adaptive reweighting drifts
// them via floating point accumulation.
type Weights struct {
	Fee    float64
	Age    float64
	Size   float64
	Sender float64
}

// DefaultWeights matches the spec's default (0.5, 0.3, 0.1, 0.1).
func DefaultWeights() Weights {
	return Weights{Fee: 0.5, Age: 0.3, Size: 0.1, Sender: 0.1}
}

func (w Weights) sum() float64 { return w.Fee + w.Age + w.Size + w.Sender }

// Normalize rescales w so its components sum to 1, preserving proportions.
func (w Weights) Normalize() Weights {
	s := w.sum()
	if s <= 0 {
		return DefaultWeights()
	}
	return Weights{
		Fee:    w.Fee / s,
		Age:    w.Age / s,
		Size:   w.Size / s,
		Sender: w.Sender / s,
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// senderStats is the rolling success/total counter backing σ, the sender
// reputation component of the priority function.
type senderStats struct {
	mu      sync.Mutex
	success map[string]uint64
	total   map[string]uint64
}

func newSenderStats() *senderStats {
	return &senderStats{success: make(map[string]uint64), total: make(map[string]uint64)}
}

func (s *senderStats) record(sender string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total[sender]++
	if ok {
		s.success[sender]++
	}
}

// reputation returns σ = min(1, success/total), defaulting to 0.5 for a
// sender with no recorded history.
func (s *senderStats) reputation(sender string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := s.total[sender]
	if total == 0 {
		return 0.5
	}
	return clamp01(float64(s.success[sender]) / float64(total))
}

// PriorityInputs bundles the raw, un-normalized quantities the priority
// function needs, so the computation can be offloaded to a worker without
// that worker needing direct access to the queue's internal sender table.
type PriorityInputs struct {
	Fee         float64
	AgeSeconds  float64
	SizeBytes   float64
	Sender      string
	SenderScore float64 // σ, pre-resolved so workers don't touch queue state directly
}

// Normalization caps used by f̂, â, ŝ.
type NormCaps struct {
	FeeMax  float64
	AgeMax  float64
	SizeMax float64
}

// DefaultNormCaps are reasonable defaults for an L2 fee market; overridden
// by configuration in practice.
func DefaultNormCaps() NormCaps {
	return NormCaps{FeeMax: 1_000_000, AgeMax: 300, SizeMax: 8192}
}

// ComputePriority implements spec.md §4.2's priority function:
// p = w_fee·f̂ + w_age·â + w_size·ŝ + w_sender·σ.
func ComputePriority(in PriorityInputs, w Weights, caps NormCaps) float64 {
	fHat := clamp01(in.Fee / caps.FeeMax)
	aHat := clamp01(in.AgeSeconds / caps.AgeMax)
	sHat := 1 - clamp01(in.SizeBytes/caps.SizeMax)
	sigma := clamp01(in.SenderScore)
	return w.Fee*fHat + w.Age*aHat + w.Size*sHat + w.Sender*sigma
}

// inputsFor derives PriorityInputs for a transaction at computation time.
func inputsFor(tx *types.Transaction, ageSeconds float64, stats *senderStats) PriorityInputs {
	return PriorityInputs{
		Fee:         float64(tx.Fee),
		AgeSeconds:  ageSeconds,
		SizeBytes:   float64(len(tx.Data) + len(tx.Signature)),
		Sender:      tx.Sender,
		SenderScore: stats.reputation(tx.Sender),
	}
}

package cache

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// Prefetcher accumulates an n-gram access-pattern map — (pattern of the
// last N-1 keys) -> (next key -> frequency) — and predicts candidates for
// speculative loading, per spec.md §4.3.
type Prefetcher struct {
	mu            sync.Mutex
	patternLength int
	threshold     float64
	maxItems      int

	recent   []string // sliding window of the last patternLength-1 keys
	patterns map[string]map[string]int64
	global   map[string]int64 // global key frequency, for the hybrid score
	lastSeen map[string]time.Time
}

// NewPrefetcher constructs a Prefetcher. patternLength is N (so the
// sliding window holds N-1 keys); threshold is the minimum blended score a
// candidate must clear to be prefetched; maxItems bounds how many
// candidates are returned per prediction.
func NewPrefetcher(patternLength int, threshold float64, maxItems int) *Prefetcher {
	if patternLength < 2 {
		patternLength = 2
	}
	return &Prefetcher{
		patternLength: patternLength,
		threshold:     threshold,
		maxItems:      maxItems,
		patterns:      make(map[string]map[string]int64),
		global:        make(map[string]int64),
		lastSeen:      make(map[string]time.Time),
	}
}

// hybrid strategy weights from spec.md §4.3: sequence-pattern 0.5, global
// frequency 0.3, temporal proximity 0.2.
const (
	weightSequence = 0.5
	weightGlobal   = 0.3
	weightTemporal = 0.2
)

// RecordAccess folds key into the sliding window, updates the n-gram map
// for the pattern that just completed, and returns prefetch candidates for
// the (possibly new) pattern now at the head of the window.
func (p *Prefetcher) RecordAccess(key string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	p.global[key]++
	p.lastSeen[key] = now

	if len(p.recent) == p.patternLength-1 {
		pattern := strings.Join(p.recent, "\x00")
		next := p.patterns[pattern]
		if next == nil {
			next = make(map[string]int64)
			p.patterns[pattern] = next
		}
		next[key]++
	}

	p.recent = append(p.recent, key)
	if len(p.recent) > p.patternLength-1 {
		p.recent = p.recent[len(p.recent)-(p.patternLength-1):]
	}

	if len(p.recent) < p.patternLength-1 {
		return nil
	}
	return p.predictLocked(now)
}

func (p *Prefetcher) predictLocked(now time.Time) []string {
	pattern := strings.Join(p.recent, "\x00")
	candidates := p.patterns[pattern]
	if len(candidates) == 0 {
		return nil
	}

	var totalPattern int64
	for _, c := range candidates {
		totalPattern += c
	}
	var totalGlobal int64
	for _, c := range p.global {
		totalGlobal += c
	}

	type scored struct {
		key   string
		score float64
	}
	var scores []scored
	for key, count := range candidates {
		seqScore := float64(count) / float64(totalPattern)
		var globalScore float64
		if totalGlobal > 0 {
			globalScore = float64(p.global[key]) / float64(totalGlobal)
		}
		temporalScore := 0.0
		if last, ok := p.lastSeen[key]; ok {
			age := now.Sub(last)
			// Decays from 1 (just seen) to 0 over a five-minute horizon.
			temporalScore = 1 - clampUnit(age.Seconds()/300)
		}
		blended := weightSequence*seqScore + weightGlobal*globalScore + weightTemporal*temporalScore
		if blended >= p.threshold {
			scores = append(scores, scored{key: key, score: blended})
		}
	}
	sort.Slice(scores, func(i, j int) bool { return scores[i].score > scores[j].score })
	if len(scores) > p.maxItems {
		scores = scores[:p.maxItems]
	}
	out := make([]string, len(scores))
	for i, s := range scores {
		out[i] = s.key
	}
	return out
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

package metrics

import (
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"
)

const rescaleThreshold = time.Hour

// Sample maintains a statistically-significant selection of values from a
// stream and allows for percentile estimation.
type Sample interface {
	Clear()
	Count() int64
	Max() int64
	Mean() float64
	Min() int64
	Percentile(float64) float64
	Percentiles([]float64) []float64
	Size() int
	Snapshot() Sample
	StdDev() float64
	Sum() int64
	Update(int64)
	Values() []int64
	Variance() float64
}

// SampleSnapshot is a read-only copy of another Sample.
type SampleSnapshot struct {
	values []int64
}

func NewSampleSnapshot(values []int64) *SampleSnapshot { return &SampleSnapshot{values: values} }

func (s *SampleSnapshot) Clear()  { panic("Clear called on a SampleSnapshot") }
func (s *SampleSnapshot) Update(int64) { panic("Update called on a SampleSnapshot") }
func (s *SampleSnapshot) Snapshot() Sample { return s }
func (s *SampleSnapshot) Count() int64 { return int64(len(s.values)) }
func (s *SampleSnapshot) Size() int    { return len(s.values) }
func (s *SampleSnapshot) Values() []int64 {
	out := make([]int64, len(s.values))
	copy(out, s.values)
	return out
}
func (s *SampleSnapshot) Min() int64 { min, _, _, _, _ := statsOf(s.values); return min }
func (s *SampleSnapshot) Max() int64 { _, max, _, _, _ := statsOf(s.values); return max }
func (s *SampleSnapshot) Sum() int64 { _, _, sum, _, _ := statsOf(s.values); return sum }
func (s *SampleSnapshot) Mean() float64 { _, _, _, mean, _ := statsOf(s.values); return mean }
func (s *SampleSnapshot) StdDev() float64 { _, _, _, _, sd := statsOf(s.values); return sd }
func (s *SampleSnapshot) Variance() float64 { sd := s.StdDev(); return sd * sd }
func (s *SampleSnapshot) Percentile(p float64) float64 {
	return samplePercentiles(s.values, []float64{p})[0]
}
func (s *SampleSnapshot) Percentiles(ps []float64) []float64 {
	return samplePercentiles(s.values, ps)
}

// sampleStats computes the common statistics (count/min/max/sum/mean/stddev)
// over a slice of raw values.
func sampleStats(values []int64) (count int64, min, max, sum int64, mean, stdDev float64) {
	count = int64(len(values))
	if count == 0 {
		return
	}
	min = values[0]
	max = values[0]
	for _, v := range values {
		sum += v
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	mean = float64(sum) / float64(count)
	var sumSquares float64
	for _, v := range values {
		d := float64(v) - mean
		sumSquares += d * d
	}
	if count > 0 {
		stdDev = math.Sqrt(sumSquares / float64(count))
	}
	return
}

func samplePercentiles(values []int64, ps []float64) []float64 {
	scores := make([]float64, len(ps))
	size := len(values)
	if size == 0 {
		return scores
	}
	sorted := make([]int64, size)
	copy(sorted, values)
	sort.Sort(int64Slice(sorted))

	for i, p := range ps {
		if size == 1 {
			scores[i] = float64(sorted[0])
			continue
		}
		pos := p * float64(size+1)
		if pos < 1.0 {
			scores[i] = float64(sorted[0])
		} else if pos >= float64(size) {
			scores[i] = float64(sorted[size-1])
		} else {
			lower := float64(sorted[int(pos)-1])
			upper := float64(sorted[int(pos)])
			scores[i] = lower + (pos-math.Floor(pos))*(upper-lower)
		}
	}
	return scores
}

type int64Slice []int64

func (s int64Slice) Len() int           { return len(s) }
func (s int64Slice) Less(i, j int) bool { return s[i] < s[j] }
func (s int64Slice) Swap(i, j int)      { s[i], s[j] = s[j], s[i] }

// UniformSample is a uniformly-distributed sample of a stream, using
// Vitter's Algorithm R to produce a statistically representative sample of
// reservoirSize elements.
type UniformSample struct {
	mu         sync.Mutex
	reservoir  []int64
	count      int64
	rand       *rand.Rand
	reservoirSize int
}

// NewUniformSample constructs a new uniform sample with the given reservoir
// size.
func NewUniformSample(reservoirSize int) Sample {
	if !Enabled {
		return NilSample{}
	}
	return &UniformSample{
		reservoir:     make([]int64, 0, reservoirSize),
		rand:          rand.New(rand.NewSource(time.Now().UnixNano())),
		reservoirSize: reservoirSize,
	}
}

func (s *UniformSample) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count = 0
	s.reservoir = make([]int64, 0, s.reservoirSize)
}

func (s *UniformSample) Count() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

func (s *UniformSample) Update(v int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count++
	if len(s.reservoir) < s.reservoirSize {
		s.reservoir = append(s.reservoir, v)
		return
	}
	r := s.rand.Int63n(s.count)
	if r < int64(s.reservoirSize) {
		s.reservoir[r] = v
	}
}

func (s *UniformSample) Values() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int64, len(s.reservoir))
	copy(out, s.reservoir)
	return out
}

func (s *UniformSample) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reservoir)
}

func (s *UniformSample) Snapshot() Sample {
	return NewSampleSnapshot(s.Values())
}

func (s *UniformSample) Min() int64 {
	min, _, _, _, _ := statsOf(s.Values())
	return min
}
func (s *UniformSample) Max() int64 {
	_, max, _, _, _ := statsOf(s.Values())
	return max
}
func (s *UniformSample) Sum() int64 {
	_, _, sum, _, _ := statsOf(s.Values())
	return sum
}
func (s *UniformSample) Mean() float64 {
	_, _, _, mean, _ := statsOf(s.Values())
	return mean
}
func (s *UniformSample) StdDev() float64 {
	_, _, _, _, sd := statsOf(s.Values())
	return sd
}
func (s *UniformSample) Variance() float64 {
	sd := s.StdDev()
	return sd * sd
}
func (s *UniformSample) Percentile(p float64) float64 {
	return samplePercentiles(s.Values(), []float64{p})[0]
}
func (s *UniformSample) Percentiles(ps []float64) []float64 {
	return samplePercentiles(s.Values(), ps)
}

func statsOf(values []int64) (min, max, sum int64, mean, stdDev float64) {
	_, min, max, sum, mean, stdDev = sampleStats(values)
	return
}

// NilSample is a no-op Sample used when metrics are disabled.
type NilSample struct{}

func (NilSample) Clear()                        {}
func (NilSample) Count() int64                   { return 0 }
func (NilSample) Max() int64                     { return 0 }
func (NilSample) Mean() float64                  { return 0 }
func (NilSample) Min() int64                     { return 0 }
func (NilSample) Percentile(float64) float64     { return 0 }
func (NilSample) Percentiles([]float64) []float64 { return make([]float64, 0) }
func (NilSample) Size() int                      { return 0 }
func (NilSample) Snapshot() Sample                { return NilSample{} }
func (NilSample) StdDev() float64                { return 0 }
func (NilSample) Sum() int64                     { return 0 }
func (NilSample) Update(int64)                   {}
func (NilSample) Values() []int64                { return []int64{} }
func (NilSample) Variance() float64              { return 0 }

package metrics

import "testing"

func TestGetOrRegisterHistogram(t *testing.T) {
	r := NewRegistry()
	s := NewUniformSample(100)
	NewRegisteredHistogram("foo", r, s).Update(47)
	if h := GetOrRegisterHistogram("foo", r, s); h.Count() != 1 {
		t.Fatal(h)
	}
}

func TestHistogram10000(t *testing.T) {
	h := NewHistogram(NewUniformSample(100000))
	for i := 1; i <= 10000; i++ {
		h.Update(int64(i))
	}
	testHistogram10000(t, h)
}

func TestHistogramEmpty(t *testing.T) {
	h := NewHistogram(NewUniformSample(100))
	if count := h.Count(); count != 0 {
		t.Errorf("h.Count(): 0 != %v\n", count)
	}
	if min := h.Min(); min != 0 {
		t.Errorf("h.Min(): 0 != %v\n", min)
	}
	if max := h.Max(); max != 0 {
		t.Errorf("h.Max(): 0 != %v\n", max)
	}
}

func TestHistogramSnapshot(t *testing.T) {
	h := NewHistogram(NewUniformSample(100000))
	for i := 1; i <= 10000; i++ {
		h.Update(int64(i))
	}
	snapshot := h.Snapshot()
	h.Update(0)
	testHistogram10000(t, snapshot)
}

func TestHistogramPercentiles(t *testing.T) {
	h := NewHistogram(NewUniformSample(100000))
	for i := 1; i <= 1000; i++ {
		h.Update(int64(i))
	}
	ps := h.Percentiles(StandardPercentiles)
	if len(ps) != 5 {
		t.Fatalf("expected 5 percentiles, got %d", len(ps))
	}
	if ps[4] < ps[0] {
		t.Errorf("p99 (%v) should be >= p50 (%v)", ps[4], ps[0])
	}
}

func testHistogram10000(t *testing.T, h Histogram) {
	if count := h.Count(); count != 10000 {
		t.Errorf("h.Count(): 10000 != %v\n", count)
	}
	if min := h.Min(); min != 1 {
		t.Errorf("h.Min(): 1 != %v\n", min)
	}
	if max := h.Max(); max != 10000 {
		t.Errorf("h.Max(): 10000 != %v\n", max)
	}
	if mean := h.Mean(); mean != 5000.5 {
		t.Errorf("h.Mean(): 5000.5 != %v\n", mean)
	}
}

package metrics

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCounterClear(t *testing.T) {
	c := NewCounter()
	c.Inc(1)
	c.Clear()
	require.Zero(t, c.Snapshot().Count())
}

func TestCounter(t *testing.T) {
	c := NewCounter()
	require.Zero(t, c.Snapshot().Count())
	c.Dec(1)
	c.Dec(2)
	c.Inc(1)
	c.Inc(2)
	require.Zero(t, c.Snapshot().Count())
}

func TestCounterSnapshot(t *testing.T) {
	c := NewCounter()
	c.Inc(1)
	snapshot := c.Snapshot()
	c.Inc(1)
	require.EqualValues(t, 1, snapshot.Count())
}

func TestGetOrRegisterCounter(t *testing.T) {
	r := NewRegistry()
	NewRegisteredCounter("foo", r).Inc(47)
	require.EqualValues(t, 47, GetOrRegisterCounter("foo", r).Snapshot().Count())
}

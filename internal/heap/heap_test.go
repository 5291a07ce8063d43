package heap

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func invariantsHold(t *testing.T, h *Heap) {
	t.Helper()
	entries := h.Snapshot()
	for i, e := range entries {
		idx, ok := h.IndexOf(e.ID)
		require.True(t, ok, "index map out of sync for %s", e.ID)
		require.Equal(t, i, idx, "index map out of sync for %s", e.ID)
		left, right := 2*i+1, 2*i+2
		if left < len(entries) {
			require.GreaterOrEqual(t, entries[i].Priority, entries[left].Priority, "max-heap violated at %d/%d", i, left)
		}
		if right < len(entries) {
			require.GreaterOrEqual(t, entries[i].Priority, entries[right].Priority, "max-heap violated at %d/%d", i, right)
		}
	}
}

func TestInsertExtractOrder(t *testing.T) {
	h := New()
	fees := []float64{100, 399, 250, 0, 1, 42}
	for i, f := range fees {
		h.Insert(&Entry{ID: string(rune('a' + i)), Priority: f, Timestamp: int64(i)})
	}
	invariantsHold(t, h)

	var got []float64
	for h.Len() > 0 {
		e, ok := h.ExtractMax()
		require.True(t, ok, "expected an entry")
		got = append(got, e.Priority)
		invariantsHold(t, h)
	}
	for i := 1; i < len(got); i++ {
		require.LessOrEqual(t, got[i], got[i-1], "not in decreasing order: %v", got)
	}
}

func TestUpdatePriority(t *testing.T) {
	h := New()
	h.Insert(&Entry{ID: "a", Priority: 1})
	h.Insert(&Entry{ID: "b", Priority: 2})
	h.Insert(&Entry{ID: "c", Priority: 3})
	invariantsHold(t, h)

	h.UpdatePriority("a", 10)
	invariantsHold(t, h)
	top, _ := h.PeekMax()
	require.Equal(t, "a", top.ID, "expected a to be max after boost")

	h.UpdatePriority("a", 0)
	invariantsHold(t, h)
	top, _ = h.PeekMax()
	require.Equal(t, "c", top.ID, "expected c to be max after demotion")
}

func TestRemove(t *testing.T) {
	h := New()
	for i := 0; i < 10; i++ {
		h.Insert(&Entry{ID: string(rune('a' + i)), Priority: float64(i)})
	}
	require.True(t, h.Remove("e"), "expected remove to succeed")
	require.False(t, h.Contains("e"), "entry should be gone")
	invariantsHold(t, h)
}

func TestRemoveMissing(t *testing.T) {
	h := New()
	h.Insert(&Entry{ID: "a", Priority: 1})
	require.False(t, h.Remove("missing"), "expected remove of missing id to fail")
}

func TestEmptyAndSingleton(t *testing.T) {
	h := New()
	_, ok := h.ExtractMax()
	require.False(t, ok, "expected empty heap extract to fail")

	h.Insert(&Entry{ID: "only", Priority: 5})
	invariantsHold(t, h)
	e, ok := h.ExtractMax()
	require.True(t, ok)
	require.Equal(t, "only", e.ID, "expected singleton extract to return the only entry")
	require.Zero(t, h.Len(), "expected heap to be empty")
}

func TestRandomizedInvariants(t *testing.T) {
	h := New()
	r := rand.New(rand.NewSource(1))
	ids := make([]string, 0, 200)
	for i := 0; i < 200; i++ {
		id := string(rune('A'+i%26)) + string(rune('0'+i/26))
		ids = append(ids, id)
		h.Insert(&Entry{ID: id, Priority: r.Float64(), Timestamp: int64(i)})
		invariantsHold(t, h)
	}
	for _, id := range ids[:50] {
		h.UpdatePriority(id, r.Float64())
		invariantsHold(t, h)
	}
	for _, id := range ids[50:100] {
		h.Remove(id)
		invariantsHold(t, h)
	}
}

func TestTieBreakByInsertionOrder(t *testing.T) {
	h := New()
	h.Insert(&Entry{ID: "first", Priority: 1, Timestamp: 1})
	h.Insert(&Entry{ID: "second", Priority: 1, Timestamp: 2})
	top, _ := h.PeekMax()
	require.Equal(t, "first", top.ID, "expected earlier timestamp to win tie")
}

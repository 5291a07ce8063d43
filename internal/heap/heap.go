// Package heap implements the indexed binary max-heap that backs the
// priority queue: an array-backed heap with a side id→index map so that
// update_priority and remove run in O(log n) instead of requiring a linear
// scan, and contains/peek run in O(1).
package heap

import "sync"

// Entry is a single heap element. Priority drives ordering; Timestamp
// breaks ties in insertion order (earlier wins), matching the heap-entry
// invariants of the data model.
type Entry struct {
	ID        string
	Priority  float64
	Timestamp int64
	Payload   interface{}
}

// Heap is an id-indexed binary max-heap, safe for concurrent use behind a
// single exclusive mutator as required by the shared-resource policy: the
// mutex here *is* that single writer.
type Heap struct {
	mu      sync.RWMutex
	entries []*Entry
	index   map[string]int // id -> position in entries
}

// New constructs an empty Heap.
func New() *Heap {
	return &Heap{index: make(map[string]int)}
}

// Len returns the number of entries currently in the heap.
func (h *Heap) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}

// Contains reports whether id is present, in O(1).
func (h *Heap) Contains(id string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.index[id]
	return ok
}

// Peek returns the entry for id without removing it, in O(1).
func (h *Heap) Peek(id string) (*Entry, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	i, ok := h.index[id]
	if !ok {
		return nil, false
	}
	return cloneEntry(h.entries[i]), true
}

// PeekMax returns the highest-priority entry without removing it.
func (h *Heap) PeekMax() (*Entry, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.entries) == 0 {
		return nil, false
	}
	return cloneEntry(h.entries[0]), true
}

// Insert adds a new entry to the heap. If id already exists, Insert is a
// no-op and returns false.
func (h *Heap) Insert(e *Entry) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.index[e.ID]; ok {
		return false
	}
	clone := cloneEntry(e)
	h.entries = append(h.entries, clone)
	i := len(h.entries) - 1
	h.index[clone.ID] = i
	h.siftUp(i)
	return true
}

// ExtractMax removes and returns the highest-priority entry.
func (h *Heap) ExtractMax() (*Entry, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.entries) == 0 {
		return nil, false
	}
	top := h.entries[0]
	last := len(h.entries) - 1
	h.swap(0, last)
	h.entries = h.entries[:last]
	delete(h.index, top.ID)
	if len(h.entries) > 0 {
		h.siftDown(0)
	}
	return top, true
}

// Remove deletes the entry with the given id, if present.
func (h *Heap) Remove(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	i, ok := h.index[id]
	if !ok {
		return false
	}
	last := len(h.entries) - 1
	h.swap(i, last)
	removed := h.entries[last]
	h.entries = h.entries[:last]
	delete(h.index, removed.ID)
	if i < len(h.entries) {
		h.siftDown(i)
		h.siftUp(i)
	}
	return true
}

// UpdatePriority changes the priority of id and re-heapifies in the
// appropriate direction only (sift-up for an increase, sift-down for a
// decrease), avoiding a full reheapify.
func (h *Heap) UpdatePriority(id string, priority float64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	i, ok := h.index[id]
	if !ok {
		return false
	}
	old := h.entries[i].Priority
	h.entries[i].Priority = priority
	switch {
	case priority > old:
		h.siftUp(i)
	case priority < old:
		h.siftDown(i)
	}
	return true
}

// Snapshot returns a priority-ordered (not strictly sorted) copy of every
// entry currently in the heap, for introspection/testing.
func (h *Heap) Snapshot() []*Entry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Entry, len(h.entries))
	for i, e := range h.entries {
		out[i] = cloneEntry(e)
	}
	return out
}

// IndexOf exposes the current array index of id; used only by invariant
// tests, which check index[heap[i].id] == i for every i.
func (h *Heap) IndexOf(id string) (int, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	i, ok := h.index[id]
	return i, ok
}

func (h *Heap) less(i, j int) bool {
	a, b := h.entries[i], h.entries[j]
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	// Equal priority: earlier timestamp wins, so it must sort as "greater"
	// for a max-heap to keep it nearer the root.
	return a.Timestamp > b.Timestamp
}

func (h *Heap) swap(i, j int) {
	h.entries[i], h.entries[j] = h.entries[j], h.entries[i]
	h.index[h.entries[i].ID] = i
	h.index[h.entries[j].ID] = j
}

func (h *Heap) siftUp(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if !h.less(parent, i) {
			break
		}
		h.swap(parent, i)
		i = parent
	}
}

func (h *Heap) siftDown(i int) {
	n := len(h.entries)
	for {
		left, right := 2*i+1, 2*i+2
		largest := i
		if left < n && h.less(largest, left) {
			largest = left
		}
		if right < n && h.less(largest, right) {
			largest = right
		}
		if largest == i {
			break
		}
		h.swap(i, largest)
		i = largest
	}
}

func cloneEntry(e *Entry) *Entry {
	c := *e
	return &c
}

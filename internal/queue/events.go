package queue

// BatchReadyEvent is emitted when the periodic batch-assembly timer pulls a
// fresh batch of transaction ids off the heap.
type BatchReadyEvent struct {
	BatchID        string
	TransactionIDs []string
}

// BackpressureEvent is emitted whenever the queue crosses a watermark.
type BackpressureEvent struct {
	Active bool
	Size   int
}

// WeightsChangedEvent is broadcast to workers whenever adaptive
// reweighting adjusts the priority-function coefficients, per spec.md
// §4.2's "New weights are broadcast to workers."
type WeightsChangedEvent struct {
	Weights Weights
}

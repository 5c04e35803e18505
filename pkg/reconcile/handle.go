package reconcile

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/pricekit/repricer/pkg/models"
)

// statBucket is the single statistics counter one analyzed item lands in.
// Every item increments analyzed plus exactly one bucket, so the counters
// always partition the processed set.
type statBucket int

const (
	bucketUpdated statBucket = iota
	bucketExcluded
	bucketFailed
	bucketKeptCurrent
)

// RunHandle is the shared state of one reconciliation run: the cancellation
// flag and the statistics accumulator. It is the only mutable state shared
// between the worker goroutines and the manager.
type RunHandle struct {
	runID     uuid.UUID
	cancelled atomic.Bool
	cancelCtx context.CancelFunc
	done      chan struct{}

	mu    sync.Mutex
	stats models.RunStatistics
}

func newRunHandle(runID uuid.UUID, total int64, cancel context.CancelFunc) *RunHandle {
	return &RunHandle{
		runID:     runID,
		cancelCtx: cancel,
		done:      make(chan struct{}),
		stats:     models.RunStatistics{Total: total},
	}
}

// RunID returns the id of the run this handle belongs to.
func (h *RunHandle) RunID() uuid.UUID {
	return h.runID
}

// Cancel requests cooperative cancellation. Idempotent.
func (h *RunHandle) Cancel() {
	if h.cancelled.CompareAndSwap(false, true) {
		h.cancelCtx()
	}
}

// Cancelled reports whether cancellation has been requested.
func (h *RunHandle) Cancelled() bool {
	return h.cancelled.Load()
}

// Done is closed when the run reaches a terminal state.
func (h *RunHandle) Done() <-chan struct{} {
	return h.done
}

func (h *RunHandle) finish() {
	close(h.done)
}

// Finished reports whether the run has reached a terminal state.
func (h *RunHandle) Finished() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// recordItem counts one analyzed item into exactly one bucket.
func (h *RunHandle) recordItem(bucket statBucket) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.stats.Analyzed++
	switch bucket {
	case bucketUpdated:
		h.stats.Updated++
	case bucketExcluded:
		h.stats.Excluded++
	case bucketFailed:
		h.stats.Failed++
	case bucketKeptCurrent:
		h.stats.KeptCurrent++
	}
}

// Snapshot returns a copy of the current statistics.
func (h *RunHandle) Snapshot() models.RunStatistics {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stats
}

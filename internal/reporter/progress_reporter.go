// Package reporter decouples upload progress from how it is displayed, so a
// slow terminal never stalls the send pipeline.
package reporter

import (
	"context"
	"sync"

	"ftx/pkg/types"
)

// Sink displays progress snapshots.
type Sink interface {
	UpdateProgress(update types.ProgressUpdate)
}

// ProgressReporter queues snapshots from the sender and hands them to a Sink
// on its own goroutine. Intermediate snapshots are dropped when the sink
// falls behind; the final one is always delivered.
type ProgressReporter struct {
	sink    Sink
	updates chan types.ProgressUpdate

	closeOnce sync.Once
	stopped   chan struct{}
	stopOnce  sync.Once
}

// NewProgressReporter creates a reporter that buffers up to depth snapshots.
func NewProgressReporter(sink Sink, depth int) *ProgressReporter {
	if depth <= 0 {
		depth = 16
	}
	return &ProgressReporter{
		sink:    sink,
		updates: make(chan types.ProgressUpdate, depth),
		stopped: make(chan struct{}),
	}
}

// Report enqueues a snapshot. Its signature matches sender.ProgressFunc.
// It must not be called after Close.
func (pr *ProgressReporter) Report(update types.ProgressUpdate) {
	if update.Done() {
		select {
		case pr.updates <- update:
		case <-pr.stopped:
		}
		return
	}
	select {
	case pr.updates <- update:
	default:
	}
}

// StartUpdatingProgress feeds the sink until Close is called and the queue
// has drained, or ctx is cancelled.
func (pr *ProgressReporter) StartUpdatingProgress(ctx context.Context) {
	defer pr.stopOnce.Do(func() { close(pr.stopped) })
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-pr.updates:
			if !ok {
				return
			}
			pr.sink.UpdateProgress(update)
		}
	}
}

// Close ends the stream of snapshots.
func (pr *ProgressReporter) Close() {
	pr.closeOnce.Do(func() { close(pr.updates) })
}

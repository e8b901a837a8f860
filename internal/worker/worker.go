// ============================================================================
// beaver-map Worker - batch execution unit
// ============================================================================
//
// Package: internal/worker
// File: worker.go
// Function: one goroutine bound to one Processor
//
// How it works:
//   Each Worker runs the following loop until the batch channel closes or
//   the run is cancelled:
//   1. Receive a batch
//   2. On the first batch, take the next admission id and SetThreadID
//   3. ProcessRecord for every record, in order
//   4. OnBatchComplete
//
// Execution Model:
//   ┌─────────────────────────────────────┐
//   │  Worker Goroutine                   │
//   │  ┌──────────────────────────────┐   │
//   │  │ for batch := range batchCh   │   │
//   │  │   ├─ SetThreadID (once)      │   │
//   │  │   ├─ ProcessRecord × n       │   │
//   │  │   └─ OnBatchComplete         │   │
//   │  └──────────────────────────────┘   │
//   └─────────────────────────────────────┘
//
// Error Handling:
//   The first error returned by the processor ends the worker and is
//   returned to the errgroup, which cancels every other worker and the
//   dispatcher.
//
// ============================================================================

package worker

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Worker drives one Processor.
type Worker struct {
	slot    int // spawn index, for logs only
	proc    Processor
	batchCh <-chan Batch
	admit   func() int
	logger  *zap.Logger

	batches uint64
	records uint64
}

func newWorker(slot int, proc Processor, batchCh <-chan Batch, admit func() int, logger *zap.Logger) *Worker {
	return &Worker{
		slot:    slot,
		proc:    proc,
		batchCh: batchCh,
		admit:   admit,
		logger:  logger,
	}
}

// Run processes batches until the channel closes or ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	id := -1
	for {
		var (
			b  Batch
			ok bool
		)
		select {
		case <-ctx.Done():
			return nil
		case b, ok = <-w.batchCh:
			if !ok {
				w.logger.Debug("worker finished",
					zap.Int("slot", w.slot),
					zap.Int("thread", id),
					zap.Uint64("batches", w.batches),
					zap.Uint64("records", w.records))
				return nil
			}
		}

		// a cancelled run flushes nothing more, even a batch already received
		if ctx.Err() != nil {
			return nil
		}
		if id < 0 {
			id = w.admit()
			w.proc.SetThreadID(id)
		}
		if err := w.execute(b); err != nil {
			return fmt.Errorf("thread %d, batch %d: %w", id, b.Seq, err)
		}
	}
}

func (w *Worker) execute(b Batch) error {
	for _, rec := range b.Records {
		if err := w.proc.ProcessRecord(rec); err != nil {
			return err
		}
	}
	if err := w.proc.OnBatchComplete(); err != nil {
		return err
	}
	w.batches++
	w.records += uint64(len(b.Records))
	return nil
}

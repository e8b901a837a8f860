// ============================================================================
// beaver-map Worker Pool - batch scheduler
// ============================================================================
//
// Package: internal/worker
// File: worker_pool.go
// Function: read records from a Source, group them into batches and hand
// the batches to a fixed set of workers
//
// Architecture:
//   ┌────────────┐
//   │ dispatcher │ -- Batch --> batchCh
//   └────────────┘
//         │
//   ┌─────────────┐
//   │   Pool      │
//   │  ┌────────┐ │
//   │  │Worker 1│←── batchCh
//   │  │Worker 2│←── batchCh
//   │  │Worker 3│←── batchCh
//   │  └────────┘ │
//   └─────────────┘
//
// Thread ids:
//   Ids follow admission order: the first worker to receive a batch gets
//   id 0, the next one 1, and so on. Id 0 is the reporting thread.
//
// Ordering:
//   Records inside one batch are processed in input order. Batches are
//   taken by whichever worker is free; nothing is reordered or stolen.
//
// Errors:
//   errgroup ties the dispatcher and the workers together. The first error
//   cancels the shared context; the dispatcher stops reading and every
//   worker exits at its next batch boundary. Run returns that first error.
//
// ============================================================================

package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ChuLiYu/beaver-map/internal/input"
)

// DefaultBatchSize is the number of records per batch.
const DefaultBatchSize = 1024

var (
	// ErrInvalidConfig is returned for non-positive worker or batch counts
	ErrInvalidConfig = errors.New("invalid worker pool configuration")
	// ErrPoolBusy is returned when Run is called while a run is active
	ErrPoolBusy = errors.New("worker pool is already running")
)

// Pool schedules batches of records over a fixed number of workers.
type Pool struct {
	workers   int
	batchSize int
	logger    *zap.Logger

	running  atomic.Bool
	admitted atomic.Int64
	batches  atomic.Uint64
	records  atomic.Uint64
}

// Option configures a Pool.
type Option func(*Pool)

// WithLogger sets the pool logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pool) { p.logger = l }
}

// NewPool creates a pool of workers processing batchSize records at a time.
func NewPool(workers, batchSize int, opts ...Option) (*Pool, error) {
	if workers < 1 || batchSize < 1 {
		return nil, fmt.Errorf("%w: workers=%d batch=%d", ErrInvalidConfig, workers, batchSize)
	}
	p := &Pool{workers: workers, batchSize: batchSize, logger: zap.NewNop()}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Run drains src through the workers. newProcessor is called once per
// worker before any batch is dispatched.
func (p *Pool) Run(ctx context.Context, src input.Source, newProcessor Factory) error {
	if !p.running.CompareAndSwap(false, true) {
		return ErrPoolBusy
	}
	defer p.running.Store(false)

	p.admitted.Store(0)
	p.batches.Store(0)
	p.records.Store(0)

	g, ctx := errgroup.WithContext(ctx)
	batchCh := make(chan Batch, p.workers)

	g.Go(func() error {
		defer close(batchCh)
		return p.dispatch(ctx, src, batchCh)
	})

	admit := func() int { return int(p.admitted.Add(1) - 1) }
	for i := 0; i < p.workers; i++ {
		w := newWorker(i, newProcessor(), batchCh, admit, p.logger)
		g.Go(func() error { return w.Run(ctx) })
	}

	return g.Wait()
}

// dispatch reads batches until EOF, a read error or cancellation.
func (p *Pool) dispatch(ctx context.Context, src input.Source, batchCh chan<- Batch) error {
	var seq uint64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		recs, readErr := p.readBatch(src)
		if len(recs) > 0 {
			select {
			case batchCh <- Batch{Seq: seq, Records: recs}:
				seq++
				p.batches.Add(1)
				p.records.Add(uint64(len(recs)))
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		switch {
		case errors.Is(readErr, io.EOF):
			return nil
		case readErr != nil:
			return readErr
		}
	}
}

func (p *Pool) readBatch(src input.Source) ([]input.Record, error) {
	recs := make([]input.Record, 0, p.batchSize)
	for len(recs) < p.batchSize {
		rec, err := src.Next()
		if err != nil {
			return recs, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// Workers returns the configured worker count.
func (p *Pool) Workers() int { return p.workers }

// BatchSize returns the configured batch size.
func (p *Pool) BatchSize() int { return p.batchSize }

// Admitted returns how many workers received at least one batch in the
// last run.
func (p *Pool) Admitted() int { return int(p.admitted.Load()) }

// Dispatched returns the batch and record counts handed out in the last run.
func (p *Pool) Dispatched() (batches, records uint64) {
	return p.batches.Load(), p.records.Load()
}

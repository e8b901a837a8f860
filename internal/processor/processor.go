package processor

// ============================================================================
// Per-Thread Processor
// Purpose: turn input records into PAF rows and coordinate batch flushes
//
// Record path (lock-free):
//   decode -> engine.Map -> paf.FromMapping -> local buffer, local count++
//
// Batch boundary (locked, one lock at a time):
//   sink.Append(local buffer)   under the sink lock
//   counter.Add(local count)    under the counter lock
//   progress.Update             reporting thread (id 0) only
// ============================================================================

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/ChuLiYu/beaver-map/internal/aligner"
	"github.com/ChuLiYu/beaver-map/internal/input"
	"github.com/ChuLiYu/beaver-map/internal/metrics"
	"github.com/ChuLiYu/beaver-map/internal/paf"
	"github.com/ChuLiYu/beaver-map/internal/progress"
	"github.com/ChuLiYu/beaver-map/internal/sink"
	"github.com/ChuLiYu/beaver-map/internal/stats"
	"github.com/ChuLiYu/beaver-map/pkg/types"
)

// ReportingThread is the thread id allowed to update the progress display.
const ReportingThread = 0

// unassigned marks a processor that has not been given a thread id yet.
const unassigned = -1

// Shared is the state every processor of a run references.
type Shared struct {
	Engine   aligner.Engine
	Options  aligner.MapOptions // Options.Cigar requests the cg:Z: column
	Sink     sink.Sink
	Counter  *stats.Counter
	Progress progress.Display
	Metrics  *metrics.Collector // optional
	Logger   *zap.Logger        // optional
	Start    time.Time          // reference point for elapsed time
}

// Processor is the per-worker state machine. It is not safe for concurrent
// use; each worker owns one.
type Processor struct {
	shared   *Shared
	threadID int

	decoded []byte // bases of the current record only
	buf     []byte // rows of the current batch
	local   uint64 // records in the current batch
}

// New returns a processor bound to shared.
func New(shared *Shared) *Processor {
	if shared.Logger == nil {
		shared.Logger = zap.NewNop()
	}
	return &Processor{shared: shared, threadID: unassigned}
}

// Clone returns a processor sharing p's shared state with fresh buffers.
func (p *Processor) Clone() *Processor {
	return &Processor{shared: p.shared, threadID: unassigned}
}

// SetThreadID records this processor's identity. Id 0 marks the reporting
// thread.
func (p *Processor) SetThreadID(id int) {
	p.threadID = id
}

// ThreadID returns the assigned id, -1 before SetThreadID.
func (p *Processor) ThreadID() int { return p.threadID }

// Pending returns the number of records processed since the last flush.
func (p *Processor) Pending() uint64 { return p.local }

// ProcessRecord maps one record and appends its rows to the local buffer.
func (p *Processor) ProcessRecord(rec input.Record) error {
	var err error
	p.decoded, err = rec.Decode(p.decoded[:0])
	if err != nil {
		var de *types.DecodeError
		if !errors.As(err, &de) {
			err = &types.DecodeError{Index: rec.Index(), Cause: err}
		}
		p.shared.Metrics.RecordFailure(metrics.KindDecode)
		return err
	}

	name := rec.Name()
	if len(name) == 0 {
		name = []byte(input.FallbackName(rec.Index()))
	}

	hits, err := p.shared.Engine.Map(p.decoded, p.shared.Options, name)
	if err != nil {
		p.shared.Metrics.RecordFailure(metrics.KindAlign)
		return &types.AlignError{Query: string(name), Message: err.Error(), Cause: err}
	}

	for _, m := range hits {
		p.buf = paf.FromMapping(m, p.shared.Options.Cigar).AppendTo(p.buf)
	}
	p.local++
	p.shared.Metrics.RecordRecord(len(hits))
	return nil
}

// OnBatchComplete flushes the local buffer to the sink, merges the local
// count into the global counter and, on the reporting thread, refreshes the
// progress display.
func (p *Processor) OnBatchComplete() error {
	if len(p.buf) > 0 {
		began := time.Now()
		if err := p.shared.Sink.Append(p.buf); err != nil {
			p.shared.Metrics.RecordFailure(metrics.KindIO)
			return err
		}
		p.shared.Metrics.RecordFlush(len(p.buf), time.Since(began).Seconds())
		p.buf = p.buf[:0]
	}

	total := p.shared.Counter.Add(p.local)
	p.local = 0

	if p.threadID == ReportingThread {
		elapsed := time.Since(p.shared.Start)
		p.shared.Progress.Update(elapsed, total)
		p.shared.Metrics.SetThroughput(stats.Throughput(total, elapsed.Seconds()))
		p.shared.Logger.Debug("batch complete",
			zap.Int("thread", p.threadID),
			zap.Uint64("records", total),
			zap.Duration("elapsed", elapsed))
	}
	return nil
}

package worker

import (
	"github.com/ChuLiYu/beaver-map/internal/input"
)

// Processor is the per-worker callback set driven by the pool.
type Processor interface {
	// SetThreadID is called once, before the first record.
	SetThreadID(id int)
	// ProcessRecord is called once per record of a batch, in batch order.
	ProcessRecord(rec input.Record) error
	// OnBatchComplete is called after the last record of every batch.
	OnBatchComplete() error
}

// Factory builds the processor bound to one worker.
type Factory func() Processor

// Batch is a run of consecutive input records.
type Batch struct {
	Seq     uint64 // dispatch order
	Records []input.Record
}

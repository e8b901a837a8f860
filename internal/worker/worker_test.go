package worker

// ============================================================================
// Worker Pool Test File
// Purpose: Verify batching, thread id admission, error propagation and
// goroutine cleanup
// ============================================================================

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/ChuLiYu/beaver-map/internal/input"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// ============================================================================
// Test doubles
// ============================================================================

type stubRecord uint64

func (r stubRecord) Index() uint64                     { return uint64(r) }
func (r stubRecord) Name() []byte                      { return nil }
func (r stubRecord) Decode(dst []byte) ([]byte, error) { return append(dst, 'A'), nil }

// sliceSource yields n records, then err (io.EOF by default).
type sliceSource struct {
	mu   sync.Mutex
	next uint64
	n    uint64
	err  error
	read atomic.Uint64
}

func newSource(n uint64) *sliceSource { return &sliceSource{n: n, err: io.EOF} }

func (s *sliceSource) Next() (input.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next >= s.n {
		return nil, s.err
	}
	r := stubRecord(s.next)
	s.next++
	s.read.Add(1)
	return r, nil
}

func (s *sliceSource) Close() error { return nil }

// recorder is a Processor that records what it was asked to do.
type recorder struct {
	mu       sync.Mutex
	idCalls  int
	id       int
	setFirst bool // SetThreadID happened before any record
	batches  [][]uint64
	current  []uint64

	failAt    int64 // record index that fails ProcessRecord, -1 for none
	failFlush bool
}

var errRecord = errors.New("record failed")
var errFlush = errors.New("flush failed")

func (r *recorder) SetThreadID(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.idCalls++
	r.id = id
	r.setFirst = len(r.batches) == 0 && len(r.current) == 0
}

func (r *recorder) ProcessRecord(rec input.Record) error {
	if int64(rec.Index()) == r.failAt {
		return errRecord
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = append(r.current, rec.Index())
	return nil
}

func (r *recorder) OnBatchComplete() error {
	if r.failFlush {
		return errFlush
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, r.current)
	r.current = nil
	return nil
}

type recorderSet struct {
	mu   sync.Mutex
	all  []*recorder
	make func() *recorder
}

func (s *recorderSet) factory() Processor {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := &recorder{failAt: -1}
	if s.make != nil {
		r = s.make()
	}
	s.all = append(s.all, r)
	return r
}

// ============================================================================
// Configuration
// ============================================================================

func TestNewPool(t *testing.T) {
	pool, err := NewPool(4, 16)
	require.NoError(t, err)
	assert.Equal(t, 4, pool.Workers())
	assert.Equal(t, 16, pool.BatchSize())

	_, err = NewPool(0, 16)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewPool(2, 0)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

// ============================================================================
// Scheduling
// ============================================================================

func TestRunProcessesEveryRecordOnce(t *testing.T) {
	const n, batch = 1000, 7
	pool, err := NewPool(4, batch)
	require.NoError(t, err)

	set := &recorderSet{}
	require.NoError(t, pool.Run(context.Background(), newSource(n), set.factory))
	require.Len(t, set.all, 4)

	var seen []uint64
	totalBatches := 0
	for _, r := range set.all {
		totalBatches += len(r.batches)
		for _, b := range r.batches {
			assert.LessOrEqual(t, len(b), batch)
			// records of one batch arrive consecutive and in order
			for i := 1; i < len(b); i++ {
				assert.Equal(t, b[i-1]+1, b[i])
			}
			seen = append(seen, b...)
		}
		assert.Empty(t, r.current)
	}

	sort.Slice(seen, func(i, j int) bool { return seen[i] < seen[j] })
	require.Len(t, seen, n)
	for i, idx := range seen {
		require.Equal(t, uint64(i), idx)
	}
	assert.Equal(t, (n+batch-1)/batch, totalBatches)

	batches, records := pool.Dispatched()
	assert.Equal(t, uint64(totalBatches), batches)
	assert.Equal(t, uint64(n), records)
}

func TestThreadIDsFollowAdmissionOrder(t *testing.T) {
	pool, err := NewPool(6, 3)
	require.NoError(t, err)

	set := &recorderSet{}
	require.NoError(t, pool.Run(context.Background(), newSource(500), set.factory))

	var ids []int
	for _, r := range set.all {
		if r.idCalls == 0 {
			assert.Empty(t, r.batches, "worker without id must not see records")
			continue
		}
		assert.Equal(t, 1, r.idCalls, "SetThreadID is called once")
		assert.True(t, r.setFirst, "SetThreadID precedes the first record")
		ids = append(ids, r.id)
	}

	sort.Ints(ids)
	require.Equal(t, pool.Admitted(), len(ids))
	for i, id := range ids {
		assert.Equal(t, i, id)
	}
	assert.Equal(t, 0, ids[0])
}

func TestSingleWorkerGetsReportingID(t *testing.T) {
	pool, err := NewPool(1, 10)
	require.NoError(t, err)

	set := &recorderSet{}
	require.NoError(t, pool.Run(context.Background(), newSource(25), set.factory))
	require.Len(t, set.all, 1)
	assert.Equal(t, 0, set.all[0].id)
	assert.Len(t, set.all[0].batches, 3)
}

func TestEmptySource(t *testing.T) {
	pool, err := NewPool(3, 10)
	require.NoError(t, err)

	set := &recorderSet{}
	require.NoError(t, pool.Run(context.Background(), newSource(0), set.factory))
	for _, r := range set.all {
		assert.Zero(t, r.idCalls)
		assert.Empty(t, r.batches)
	}
	assert.Equal(t, 0, pool.Admitted())
}

// ============================================================================
// Failures
// ============================================================================

func TestRecordErrorStopsDispatch(t *testing.T) {
	const n = 100000
	pool, err := NewPool(2, 10)
	require.NoError(t, err)

	src := newSource(n)
	set := &recorderSet{make: func() *recorder { return &recorder{failAt: 55} }}
	err = pool.Run(context.Background(), src, set.factory)
	require.Error(t, err)
	assert.ErrorIs(t, err, errRecord)

	assert.Less(t, src.read.Load(), uint64(n), "dispatch must stop after the failure")
	for _, r := range set.all {
		for _, b := range r.batches {
			for _, idx := range b {
				assert.NotEqual(t, uint64(55), idx)
			}
		}
	}
}

func TestFlushErrorPropagates(t *testing.T) {
	pool, err := NewPool(3, 5)
	require.NoError(t, err)

	set := &recorderSet{make: func() *recorder { return &recorder{failAt: -1, failFlush: true} }}
	err = pool.Run(context.Background(), newSource(1000), set.factory)
	assert.ErrorIs(t, err, errFlush)
}

func TestSourceErrorPropagates(t *testing.T) {
	pool, err := NewPool(2, 4)
	require.NoError(t, err)

	decodeErr := errors.New("truncated record")
	src := &sliceSource{n: 10, err: decodeErr}
	set := &recorderSet{}
	err = pool.Run(context.Background(), src, set.factory)
	assert.ErrorIs(t, err, decodeErr)
}

func TestCancelledContext(t *testing.T) {
	pool, err := NewPool(2, 4)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	set := &recorderSet{}
	err = pool.Run(ctx, newSource(1000), set.factory)
	assert.ErrorIs(t, err, context.Canceled)
}

// ============================================================================
// Benchmarks
// ============================================================================

type nopProcessor struct{}

func (nopProcessor) SetThreadID(int)                  {}
func (nopProcessor) ProcessRecord(input.Record) error { return nil }
func (nopProcessor) OnBatchComplete() error           { return nil }

func BenchmarkPoolThroughput(b *testing.B) {
	pool, err := NewPool(8, 1024)
	require.NoError(b, err)

	b.ResetTimer()
	err = pool.Run(context.Background(), newSource(uint64(b.N)), func() Processor { return nopProcessor{} })
	require.NoError(b, err)
}

func TestWorkerSkipsBufferedBatchAfterCancel(t *testing.T) {
	batchCh := make(chan Batch, 4)
	for i := 0; i < 4; i++ {
		batchCh <- Batch{Seq: uint64(i), Records: []input.Record{stubRecord(i)}}
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := &recorder{failAt: -1}
	admitted := 0
	w := newWorker(0, rec, batchCh, func() int { admitted++; return 0 }, zap.NewNop())

	// repeat so a random select choice cannot hide a flushed batch
	for i := 0; i < 4; i++ {
		require.NoError(t, w.Run(ctx))
	}
	assert.Empty(t, rec.batches)
	assert.Empty(t, rec.current)
	assert.Zero(t, admitted)
}

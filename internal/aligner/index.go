package aligner

import (
	"context"
	"fmt"
	"sort"

	"github.com/sourcegraph/conc/pool"

	"github.com/ChuLiYu/beaver-map/internal/input"
)

// minMaskOcc is the floor of the repetitive-minimizer cutoff.
const minMaskOcc = 10

// Target is one reference sequence.
type Target struct {
	Name string
	Seq  []byte // upper-case, non-ACGT letters as N
}

// location is one occurrence of a minimizer on a target.
type location struct {
	tid int32
	pos int32
	rev bool
}

// Index is an immutable minimizer index over a set of targets. It is safe
// for concurrent reads.
type Index struct {
	opts    IndexOptions
	targets []Target
	seeds   map[uint64][]location
	maxOcc  int
}

// IndexStats summarizes an index.
type IndexStats struct {
	Targets   int
	Bases     int
	Seeds     int // distinct minimizers
	Locations int
	MaxOcc    int
}

// BuildIndex reads every reference sequence from path and indexes it with
// the given number of goroutines.
func BuildIndex(ctx context.Context, path string, opts IndexOptions, threads int) (*Index, error) {
	src, err := input.Open(path, input.FormatAuto)
	if err != nil {
		return nil, fmt.Errorf("open reference: %w", err)
	}
	defer src.Close()

	names, seqs, err := input.ReadAll(src)
	if err != nil {
		return nil, fmt.Errorf("read reference: %w", err)
	}
	if len(seqs) == 0 {
		return nil, fmt.Errorf("%w: reference %s has no sequences", ErrInvalidOptions, path)
	}
	return NewIndex(ctx, names, seqs, opts, threads)
}

// NewIndex indexes in-memory sequences.
func NewIndex(ctx context.Context, names []string, seqs [][]byte, opts IndexOptions, threads int) (*Index, error) {
	if len(names) != len(seqs) {
		return nil, fmt.Errorf("%w: %d names for %d sequences", ErrInvalidOptions, len(names), len(seqs))
	}
	if opts.K < 2 || opts.K > 28 || opts.W < 1 {
		return nil, fmt.Errorf("%w: k=%d w=%d", ErrInvalidOptions, opts.K, opts.W)
	}
	if threads < 1 {
		threads = 1
	}

	targets := make([]Target, len(seqs))
	sketches := make([][]minimizer, len(seqs))

	p := pool.New().
		WithContext(ctx).
		WithCancelOnError().
		WithFirstError().
		WithMaxGoroutines(threads)
	for i := range seqs {
		i := i
		p.Go(func(ctx context.Context) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			seq, err := normalize(seqs[i])
			if err != nil {
				return fmt.Errorf("target %s: %w", names[i], err)
			}
			targets[i] = Target{Name: names[i], Seq: seq}
			sketches[i] = sketch(seq, opts.K, opts.W, nil)
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, err
	}

	idx := &Index{
		opts:    opts,
		targets: targets,
		seeds:   make(map[uint64][]location),
	}
	for tid, mins := range sketches {
		for _, m := range mins {
			idx.seeds[m.hash] = append(idx.seeds[m.hash], location{tid: int32(tid), pos: m.pos, rev: m.rev})
		}
	}
	idx.maxOcc = occCutoff(idx.seeds, opts.MaskLevel)
	return idx, nil
}

// occCutoff returns the occurrence count above which a minimizer is ignored:
// the (1-f) quantile of occurrence counts, never below minMaskOcc.
func occCutoff(seeds map[uint64][]location, f float64) int {
	if f <= 0 || len(seeds) == 0 {
		return int(^uint(0) >> 1)
	}
	counts := make([]int, 0, len(seeds))
	for _, locs := range seeds {
		counts = append(counts, len(locs))
	}
	sort.Ints(counts)
	i := int((1 - f) * float64(len(counts)))
	if i >= len(counts) {
		i = len(counts) - 1
	}
	return max(counts[i], minMaskOcc)
}

// Options returns the options the index was built with.
func (idx *Index) Options() IndexOptions { return idx.opts }

// Targets returns the indexed sequences.
func (idx *Index) Targets() []Target { return idx.targets }

// Stats summarizes the index.
func (idx *Index) Stats() IndexStats {
	s := IndexStats{Targets: len(idx.targets), Seeds: len(idx.seeds), MaxOcc: idx.maxOcc}
	for _, t := range idx.targets {
		s.Bases += len(t.Seq)
	}
	for _, locs := range idx.seeds {
		s.Locations += len(locs)
	}
	return s
}

// lookup returns the locations of a minimizer, or nil when it is masked.
func (idx *Index) lookup(h uint64) []location {
	locs := idx.seeds[h]
	if len(locs) > idx.maxOcc {
		return nil
	}
	return locs
}

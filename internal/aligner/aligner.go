// Package aligner provides the alignment engine used by the mapping
// pipeline: a minimizer index over reference sequences and a seed-chain
// mapper with optional base-level alignment.
//
// The pipeline only depends on the Engine interface; everything else in this
// package is one concrete engine.
package aligner

import (
	"errors"

	"github.com/ChuLiYu/beaver-map/pkg/types"
)

// Engine maps one query sequence against a pre-built, immutable index.
// Implementations must be safe for concurrent use.
type Engine interface {
	Map(seq []byte, opts MapOptions, queryName []byte) ([]types.Mapping, error)
}

// MapOptions are the per-call switches passed with every query.
type MapOptions struct {
	Cigar     bool   // compute base-level alignment and CIGAR
	Approx    bool   // chaining only; never run the DP even if Cigar is set
	Bandwidth int    // chaining bandwidth override, 0 keeps the configured value
	Extra     uint64 // ExtraFlags bit set
}

// Extra flags.
const (
	// ExtraNoSecondary drops secondary hits from the result.
	ExtraNoSecondary uint64 = 1 << iota
)

// IndexOptions control index construction.
type IndexOptions struct {
	K         int     `yaml:"k"`          // k-mer size, 2..28
	W         int     `yaml:"w"`          // minimizer window, in k-mers
	MaskLevel float64 `yaml:"mask_level"` // fraction of most repetitive minimizers to ignore
}

// ChainOptions control seed chaining and hit selection.
type ChainOptions struct {
	MaxGap        int     `yaml:"max_gap"`         // split chains on gaps larger than this (bp)
	Bandwidth     int     `yaml:"bandwidth"`       // max diagonal drift inside a chain (bp)
	MinCnt        int     `yaml:"min_cnt"`         // min seeds on a chain
	MinChainScore int     `yaml:"min_chain_score"` // min covered bases on a chain
	PriRatio      float64 `yaml:"pri_ratio"`       // min secondary/primary score ratio
	BestN         int     `yaml:"best_n"`          // max secondary hits
}

// ScoreOptions are the DP scores. Gaps of length L cost GapOpen + L*GapExt.
type ScoreOptions struct {
	Match    int `yaml:"match"`
	Mismatch int `yaml:"mismatch"`
	GapOpen  int `yaml:"gap_open"`
	GapExt   int `yaml:"gap_ext"`
}

// Options bundles every engine parameter.
type Options struct {
	Index IndexOptions `yaml:"index"`
	Chain ChainOptions `yaml:"chain"`
	Score ScoreOptions `yaml:"score"`
}

var (
	// ErrEmptySequence is returned for zero-length queries
	ErrEmptySequence = errors.New("empty query sequence")
	// ErrInvalidBase is returned for bytes that are not IUPAC letters
	ErrInvalidBase = errors.New("invalid base")
	// ErrInvalidOptions is returned for out-of-range index parameters
	ErrInvalidOptions = errors.New("invalid aligner options")
)

// Aligner is the seed-chain Engine over an Index.
type Aligner struct {
	idx   *Index
	chain ChainOptions
	score ScoreOptions
}

var _ Engine = (*Aligner)(nil)

// New returns an engine over idx.
func New(idx *Index, chain ChainOptions, score ScoreOptions) *Aligner {
	return &Aligner{idx: idx, chain: chain, score: score}
}

// Index returns the underlying index.
func (a *Aligner) Index() *Index { return a.idx }

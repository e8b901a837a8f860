// Package types defines the core domain model shared by the beaver-map pipeline.
package types

import (
	"github.com/biogo/hts/sam"
)

// Strand is the relative orientation of a query against its target.
type Strand int8

const (
	Forward Strand = iota // query aligns as given
	Reverse               // query aligns as reverse complement
)

// Symbol returns the PAF strand character.
func (s Strand) Symbol() byte {
	if s == Reverse {
		return '-'
	}
	return '+'
}

func (s Strand) String() string {
	return string(s.Symbol())
}

// Alignment carries base-level detail for a hit. Engines only attach it when
// CIGAR output was requested and the region could be aligned.
type Alignment struct {
	Cigar        sam.Cigar // operations along the target, query oriented to Strand
	EditDistance int       // NM: mismatches plus gap bases
	Score        int       // DP score of the aligned region
}

// Mapping is one hit (query <-> target correspondence) returned by an engine.
//
// Coordinates are 0-based, half-open. Query coordinates always refer to the
// forward query strand.
type Mapping struct {
	QueryName  string // empty when unknown; rendered as "*"
	QueryLen   int    // 0 when unknown, otherwise > 0
	QueryStart int
	QueryEnd   int
	Strand     Strand

	TargetName  string // empty when unknown; rendered as "*"
	TargetLen   int
	TargetStart int
	TargetEnd   int

	MatchLen int    // number of matching bases
	BlockLen int    // alignable block length, including gaps
	MapQ     uint32 // mapping quality 0-255

	IsPrimary       bool
	IsSupplementary bool

	Alignment *Alignment // nil when the engine produced no base-level detail
}

// HasCigar reports whether the mapping carries a non-empty CIGAR.
func (m *Mapping) HasCigar() bool {
	return m.Alignment != nil && len(m.Alignment.Cigar) > 0
}

package aligner

import (
	"math"

	"github.com/biogo/hts/sam"
)

// maxDPCells bounds the score matrix of one alignment. Larger regions are
// reported without base-level detail.
const maxDPCells = 1 << 23

const negInf = math.MinInt32 / 2

// Cell states. The low two bits of a traceback byte hold the state the
// cell's best score came from; the flags record gap extension.
const (
	stateMatch byte = iota
	stateDel        // gap in the query, consumes target
	stateIns        // gap in the target, consumes query
	stateMask byte = 3

	delExt byte = 4
	insExt byte = 8
)

// alignment is the result of globalAlign. Trim fields count terminal gap
// bases removed from each end, in aligned orientation.
type alignment struct {
	cigar   sam.Cigar
	score   int
	matches int
	nm      int
	block   int

	qTrimStart, qTrimEnd int
	tTrimStart, tTrimEnd int
}

// globalAlign aligns q end to end against t with affine gaps (Gotoh). It
// reports false when either side is empty or the matrix exceeds maxDPCells.
func globalAlign(q, t []byte, sc ScoreOptions) (alignment, bool) {
	n, m := len(q), len(t)
	if n == 0 || m == 0 || (n+1)*(m+1) > maxDPCells {
		return alignment{}, false
	}
	o, e := int32(sc.GapOpen), int32(sc.GapExt)
	match, mismatch := int32(sc.Match), -int32(sc.Mismatch)

	cols := m + 1
	tb := make([]byte, (n+1)*cols)
	h := make([]int32, cols)   // best score, row i-1 until overwritten
	ins := make([]int32, cols) // insertion state per column

	for j := 1; j <= m; j++ {
		h[j] = -(o + int32(j)*e)
		ins[j] = negInf
		tb[j] = stateDel
		if j > 1 {
			tb[j] |= delExt
		}
	}
	ins[0] = negInf

	for i := 1; i <= n; i++ {
		row := tb[i*cols : (i+1)*cols]
		diag := h[0]
		h[0] = -(o + int32(i)*e)
		ins[0] = h[0]
		row[0] = stateIns
		if i > 1 {
			row[0] |= insExt
		}

		del := int32(negInf)
		qi := q[i-1]
		for j := 1; j <= m; j++ {
			var bits byte

			if open, ext := h[j-1]-o-e, del-e; ext > open {
				del, bits = ext, bits|delExt
			} else {
				del = open
			}
			if open, ext := h[j]-o-e, ins[j]-e; ext > open {
				ins[j], bits = ext, bits|insExt
			} else {
				ins[j] = open
			}

			s := mismatch
			if qi == t[j-1] && qi != 'N' {
				s = match
			}
			best, src := diag+s, stateMatch
			if del > best {
				best, src = del, stateDel
			}
			if ins[j] > best {
				best, src = ins[j], stateIns
			}

			diag = h[j]
			h[j] = best
			row[j] = bits | src
		}
	}

	res := alignment{score: int(h[m])}
	ops := make([]sam.CigarOpType, 0, n+m)
	state := stateMatch
	for i, j := n, m; i > 0 || j > 0; {
		c := tb[i*cols+j]
		switch state {
		case stateMatch:
			if src := c & stateMask; src != stateMatch {
				state = src
				continue
			}
			if q[i-1] == t[j-1] && q[i-1] != 'N' {
				res.matches++
			} else {
				res.nm++
			}
			ops = append(ops, sam.CigarMatch)
			i--
			j--
		case stateDel:
			ops = append(ops, sam.CigarDeletion)
			res.nm++
			if c&delExt == 0 {
				state = stateMatch
			}
			j--
		case stateIns:
			ops = append(ops, sam.CigarInsertion)
			res.nm++
			if c&insExt == 0 {
				state = stateMatch
			}
			i--
		}
	}

	// ops are in reverse order; run-length encode them front to back.
	var runs []sam.CigarOp
	for k := len(ops) - 1; k >= 0; {
		op, l := ops[k], 0
		for k >= 0 && ops[k] == op {
			l++
			k--
		}
		runs = append(runs, sam.NewCigarOp(op, l))
	}

	for len(runs) > 0 && runs[0].Type() != sam.CigarMatch {
		res.trim(runs[0], true)
		runs = runs[1:]
	}
	for len(runs) > 0 && runs[len(runs)-1].Type() != sam.CigarMatch {
		res.trim(runs[len(runs)-1], false)
		runs = runs[:len(runs)-1]
	}
	if len(runs) == 0 {
		return alignment{}, false
	}

	for _, r := range runs {
		res.block += r.Len()
	}
	res.cigar = sam.Cigar(runs)
	return res, true
}

// trim records a removed terminal gap.
func (a *alignment) trim(op sam.CigarOp, start bool) {
	l := op.Len()
	a.nm -= l
	switch {
	case op.Type() == sam.CigarDeletion && start:
		a.tTrimStart += l
	case op.Type() == sam.CigarDeletion:
		a.tTrimEnd += l
	case start:
		a.qTrimStart += l
	default:
		a.qTrimEnd += l
	}
}

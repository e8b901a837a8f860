package aligner

import (
	"math"
	"sort"

	"github.com/ChuLiYu/beaver-map/pkg/types"
)

// maxMapQ caps reported mapping quality.
const maxMapQ = 60

// hit is one seed match between a query minimizer and a target location.
type hit struct {
	tid  int32
	rev  bool
	diag int32 // tpos - qa
	tpos int32 // seed start on the target
	qa   int32 // seed start on the query in aligned orientation
}

// chain is a colinear run of hits on one target and strand.
type chain struct {
	tid int32
	rev bool
	n   int // seeds

	qa0, qa1 int // query span, aligned orientation
	qs, qe   int // query span, forward strand
	ts, te   int

	score     int // bases covered by seeds
	mapq      uint32
	primary       bool
	supplementary bool
}

// Map finds the hits of seq on the index.
func (a *Aligner) Map(seq []byte, opts MapOptions, queryName []byte) ([]types.Mapping, error) {
	if len(seq) == 0 {
		return nil, ErrEmptySequence
	}
	q, err := normalize(seq)
	if err != nil {
		return nil, err
	}

	bw := a.chain.Bandwidth
	if opts.Bandwidth > 0 {
		bw = opts.Bandwidth
	}

	mins := sketch(q, a.idx.opts.K, a.idx.opts.W, nil)
	hits := a.collectHits(mins, len(q))
	if len(hits) == 0 {
		return nil, nil
	}
	chains := a.chainHits(hits, len(q), bw)
	if len(chains) == 0 {
		return nil, nil
	}
	chains = a.selectChains(chains, opts)

	var qrc []byte
	out := make([]types.Mapping, 0, len(chains))
	for i := range chains {
		c := &chains[i]
		m := a.toMapping(c, len(q), queryName)
		if opts.Cigar && !opts.Approx {
			qa := q
			if c.rev {
				if qrc == nil {
					qrc = revComp(q)
				}
				qa = qrc
			}
			a.align(&m, c, qa)
		}
		out = append(out, m)
	}
	return out, nil
}

func (a *Aligner) collectHits(mins []minimizer, qlen int) []hit {
	k := int32(a.idx.opts.K)
	var hits []hit
	for _, m := range mins {
		for _, loc := range a.idx.lookup(m.hash) {
			h := hit{tid: loc.tid, rev: m.rev != loc.rev, tpos: loc.pos, qa: m.pos}
			if h.rev {
				h.qa = int32(qlen) - (m.pos + k)
			}
			h.diag = h.tpos - h.qa
			hits = append(hits, h)
		}
	}
	return hits
}

// chainHits groups hits by target, strand and diagonal band, then splits
// every group into colinear chains.
func (a *Aligner) chainHits(hits []hit, qlen, bw int) []chain {
	sort.Slice(hits, func(i, j int) bool {
		x, y := hits[i], hits[j]
		if x.tid != y.tid {
			return x.tid < y.tid
		}
		if x.rev != y.rev {
			return !x.rev
		}
		if x.diag != y.diag {
			return x.diag < y.diag
		}
		return x.tpos < y.tpos
	})

	var chains []chain
	for start := 0; start < len(hits); {
		end := start + 1
		for end < len(hits) &&
			hits[end].tid == hits[start].tid &&
			hits[end].rev == hits[start].rev &&
			int(hits[end].diag-hits[end-1].diag) <= bw {
			end++
		}
		chains = a.splitCluster(hits[start:end], qlen, chains)
		start = end
	}
	return chains
}

func (a *Aligner) splitCluster(cluster []hit, qlen int, dst []chain) []chain {
	sort.Slice(cluster, func(i, j int) bool {
		if cluster[i].tpos != cluster[j].tpos {
			return cluster[i].tpos < cluster[j].tpos
		}
		return cluster[i].qa < cluster[j].qa
	})

	k := a.idx.opts.K
	var cur []hit
	flush := func() {
		if c, ok := a.finishChain(cur, qlen, k); ok {
			dst = append(dst, c)
		}
		cur = cur[:0]
	}
	for _, h := range cluster {
		if len(cur) > 0 {
			prev := cur[len(cur)-1]
			if int(h.tpos-prev.tpos) > a.chain.MaxGap || int(h.qa-prev.qa) > a.chain.MaxGap {
				flush()
			} else if h.tpos <= prev.tpos || h.qa <= prev.qa {
				continue
			}
		}
		cur = append(cur, h)
	}
	flush()
	return dst
}

func (a *Aligner) finishChain(hits []hit, qlen, k int) (chain, bool) {
	if len(hits) == 0 || len(hits) < a.chain.MinCnt {
		return chain{}, false
	}
	first, last := hits[0], hits[len(hits)-1]
	c := chain{
		tid: first.tid,
		rev: first.rev,
		n:   len(hits),
		qa0: int(first.qa),
		qa1: int(last.qa) + k,
		ts:  int(first.tpos),
		te:  int(last.tpos) + k,
	}
	c.score = k
	for i := 1; i < len(hits); i++ {
		c.score += min(k, int(hits[i].qa-hits[i-1].qa), int(hits[i].tpos-hits[i-1].tpos))
	}
	if c.score < a.chain.MinChainScore {
		return chain{}, false
	}
	c.qs, c.qe = c.qa0, c.qa1
	if c.rev {
		c.qs, c.qe = qlen-c.qa1, qlen-c.qa0
	}
	return c, true
}

// selectChains ranks chains by score and keeps primaries (the best chain
// and every chain that does not overlap a kept primary on the query) plus
// up to BestN secondaries scoring at least PriRatio of the best.
func (a *Aligner) selectChains(chains []chain, opts MapOptions) []chain {
	sort.SliceStable(chains, func(i, j int) bool {
		if chains[i].score != chains[j].score {
			return chains[i].score > chains[j].score
		}
		if chains[i].tid != chains[j].tid {
			return chains[i].tid < chains[j].tid
		}
		return chains[i].ts < chains[j].ts
	})

	for i := range chains {
		chains[i].mapq = mapq(chains, i)
	}

	best := float64(chains[0].score)
	out := make([]chain, 0, len(chains))
	var primaries []int
	secondaries := 0
	for i := range chains {
		c := chains[i]
		overlapped := false
		for _, p := range primaries {
			if overlaps(&c, &chains[p]) {
				overlapped = true
				break
			}
		}
		if !overlapped {
			c.primary = true
			c.supplementary = len(primaries) > 0
			primaries = append(primaries, i)
			out = append(out, c)
			continue
		}
		if opts.Extra&ExtraNoSecondary != 0 ||
			float64(c.score) < a.chain.PriRatio*best ||
			secondaries >= a.chain.BestN {
			continue
		}
		secondaries++
		c.mapq = 0
		out = append(out, c)
	}
	return out
}

// overlaps reports whether two chains share at least half of the shorter
// query span.
func overlaps(x, y *chain) bool {
	ov := min(x.qe, y.qe) - max(x.qs, y.qs)
	if ov <= 0 {
		return false
	}
	return 2*ov >= min(x.qe-x.qs, y.qe-y.qs)
}

// mapq scores chain i against the best competing chain on the same query
// span.
func mapq(chains []chain, i int) uint32 {
	c := &chains[i]
	s2 := 0
	for j := range chains {
		if j != i && overlaps(c, &chains[j]) && chains[j].score > s2 {
			s2 = chains[j].score
		}
	}
	q := float64(maxMapQ) * (1 - float64(s2)/float64(c.score)) * math.Min(1, float64(c.n)/10)
	return uint32(math.Max(0, math.Min(maxMapQ, math.Round(q))))
}

func (a *Aligner) toMapping(c *chain, qlen int, queryName []byte) types.Mapping {
	t := a.idx.targets[c.tid]
	m := types.Mapping{
		QueryName:   string(queryName),
		QueryLen:    qlen,
		QueryStart:  c.qs,
		QueryEnd:    c.qe,
		Strand:      types.Forward,
		TargetName:  t.Name,
		TargetLen:   len(t.Seq),
		TargetStart: c.ts,
		TargetEnd:   c.te,
		MatchLen:    c.score,
		BlockLen:    max(c.qe-c.qs, c.te-c.ts),
		MapQ:        c.mapq,
		IsPrimary:   c.primary,

		IsSupplementary: c.supplementary,
	}
	if c.rev {
		m.Strand = types.Reverse
	}
	return m
}

// align extends the chain to the query ends where the target allows, runs
// the DP and replaces the chain estimates with exact values. qa is the query
// in aligned orientation.
func (a *Aligner) align(m *types.Mapping, c *chain, qa []byte) {
	t := a.idx.targets[c.tid].Seq
	qlen := len(qa)

	left := min(c.qa0, c.ts)
	right := min(qlen-c.qa1, len(t)-c.te)
	q0, q1 := c.qa0-left, c.qa1+right
	t0, t1 := c.ts-left, c.te+right

	res, ok := globalAlign(qa[q0:q1], t[t0:t1], a.score)
	if !ok {
		return
	}
	q0 += res.qTrimStart
	q1 -= res.qTrimEnd
	t0 += res.tTrimStart
	t1 -= res.tTrimEnd

	m.QueryStart, m.QueryEnd = q0, q1
	if c.rev {
		m.QueryStart, m.QueryEnd = qlen-q1, qlen-q0
	}
	m.TargetStart, m.TargetEnd = t0, t1
	m.MatchLen = res.matches
	m.BlockLen = res.block
	m.Alignment = &types.Alignment{
		Cigar:        res.cigar,
		EditDistance: res.nm,
		Score:        res.score,
	}
}

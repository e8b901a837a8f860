package aligner

import "fmt"

// nt4 maps ASCII to 2-bit codes; 4 marks anything that is not ACGT.
var nt4 = func() (t [256]byte) {
	for i := range t {
		t[i] = 4
	}
	for i, c := range "ACGT" {
		t[c] = byte(i)
		t[c+'a'-'A'] = byte(i)
	}
	return t
}()

// minimizer is one sampled k-mer.
type minimizer struct {
	hash uint64
	pos  int32 // start of the k-mer on the forward strand
	rev  bool  // canonical form is the reverse complement
}

// hash64 is an invertible integer mix restricted to mask.
func hash64(key, mask uint64) uint64 {
	key = (^key + (key << 21)) & mask
	key = key ^ key>>24
	key = ((key + (key << 3)) + (key << 8)) & mask
	key = key ^ key>>14
	key = ((key + (key << 2)) + (key << 4)) & mask
	key = key ^ key>>28
	key = (key + (key << 31)) & mask
	return key
}

// sketch appends the (w,k)-minimizers of seq to dst. K-mers spanning a
// non-ACGT base and palindromic k-mers are skipped.
func sketch(seq []byte, k, w int, dst []minimizer) []minimizer {
	if len(seq) < k {
		return dst
	}
	mask := uint64(1)<<(2*uint(k)) - 1
	shift := 2 * uint(k-1)

	kmers := make([]minimizer, 0, len(seq)-k+1)
	var fwd, rev uint64
	l := 0
	for i, c := range seq {
		code := nt4[c]
		if code > 3 {
			l, fwd, rev = 0, 0, 0
			continue
		}
		fwd = (fwd<<2 | uint64(code)) & mask
		rev = rev>>2 | uint64(3-code)<<shift
		if l++; l < k || fwd == rev {
			continue
		}
		canon, isRev := fwd, false
		if rev < fwd {
			canon, isRev = rev, true
		}
		kmers = append(kmers, minimizer{hash: hash64(canon, mask), pos: int32(i - k + 1), rev: isRev})
	}
	if len(kmers) == 0 {
		return dst
	}
	if w > len(kmers) {
		w = len(kmers)
	}

	// Sliding window minimum; dq holds indices with increasing hashes.
	dq := make([]int, 0, w)
	last := -1
	for i := range kmers {
		for len(dq) > 0 && kmers[dq[len(dq)-1]].hash >= kmers[i].hash {
			dq = dq[:len(dq)-1]
		}
		dq = append(dq, i)
		if dq[0] <= i-w {
			dq = dq[1:]
		}
		if i >= w-1 && dq[0] != last {
			last = dq[0]
			dst = append(dst, kmers[last])
		}
	}
	return dst
}

var complement = func() (t [256]byte) {
	for i := range t {
		t[i] = 'N'
	}
	for _, p := range []string{"AT", "CG", "GC", "TA"} {
		t[p[0]] = p[1]
		t[p[0]+'a'-'A'] = p[1]
	}
	return t
}()

// revComp returns the upper-case reverse complement of seq.
func revComp(seq []byte) []byte {
	out := make([]byte, len(seq))
	for i, c := range seq {
		out[len(seq)-1-i] = complement[c]
	}
	return out
}

// normalize upper-cases seq and turns every non-ACGT letter into N.
func normalize(seq []byte) ([]byte, error) {
	out := make([]byte, len(seq))
	for i, c := range seq {
		switch {
		case nt4[c] < 4:
			out[i] = "ACGT"[nt4[c]]
		case (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z'):
			out[i] = 'N'
		default:
			return nil, fmt.Errorf("%w %q at position %d", ErrInvalidBase, c, i)
		}
	}
	return out, nil
}

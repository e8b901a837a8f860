// ============================================================================
// Packed sequence format ("bq")
// ============================================================================
//
// Layout:
//
//	"BQS1"                              magic
//	repeated records:
//	  uvarint  n                        number of bases
//	  uvarint  r                        number of N runs
//	  r x (uvarint start, uvarint len)  N runs, ascending, inside [0, n)
//	  ceil(n/4) bytes                   2-bit bases, A=0 C=1 G=2 T=3, low bits first
//	  uint32 LE                         CRC32-IEEE of the packed bytes
//
// Records carry no name; consumers fall back to "bq.<index>".
// ============================================================================

package input

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/ChuLiYu/beaver-map/pkg/types"
)

const bqMagic = "BQS1"

// maxBQBases bounds a single record. Runs and packed bytes are read in
// chunks, so a forged header fails on the truncated stream before memory
// grows past what the file actually holds.
const maxBQBases = 1 << 28

// bqChunk is the largest up-front allocation made from header values.
const bqChunk = 1 << 16

var (
	// ErrChecksumMismatch indicates packed bases that fail CRC verification
	ErrChecksumMismatch = errors.New("bq: checksum mismatch")
	// ErrBadPadding indicates non-zero bits after the last base
	ErrBadPadding = errors.New("bq: non-zero padding bits")
	// ErrBadRun indicates an N run outside the record
	ErrBadRun = errors.New("bq: N run out of range")
	// ErrBadMagic indicates a stream that is not a bq file
	ErrBadMagic = errors.New("bq: bad magic")
)

var (
	baseCode = func() (t [256]byte) {
		for i := range t {
			t[i] = 0xff
		}
		for i, c := range "ACGT" {
			t[c] = byte(i)
			t[c+'a'-'A'] = byte(i)
		}
		return t
	}()
	codeBase = [4]byte{'A', 'C', 'G', 'T'}
)

type nRun struct{ start, length uint64 }

// bqRecord keeps the packed payload; unpacking happens in Decode.
type bqRecord struct {
	index  uint64
	n      uint64
	runs   []nRun
	packed []byte
	crc    uint32
}

func (r *bqRecord) Index() uint64 { return r.index }
func (r *bqRecord) Name() []byte  { return nil }

// Decode verifies the checksum and padding, then appends the bases to dst.
func (r *bqRecord) Decode(dst []byte) ([]byte, error) {
	if crc32.ChecksumIEEE(r.packed) != r.crc {
		return dst, ErrChecksumMismatch
	}
	if rem := r.n % 4; rem != 0 && len(r.packed) > 0 {
		if r.packed[len(r.packed)-1]>>(2*rem) != 0 {
			return dst, ErrBadPadding
		}
	}

	base := len(dst)
	for i := uint64(0); i < r.n; i++ {
		code := (r.packed[i/4] >> (2 * (i % 4))) & 0x3
		dst = append(dst, codeBase[code])
	}
	for _, run := range r.runs {
		if run.start+run.length > r.n {
			return dst[:base], ErrBadRun
		}
		for i := run.start; i < run.start+run.length; i++ {
			dst[base+int(i)] = 'N'
		}
	}
	return dst, nil
}

// bqSource reads records from a bq stream.
type bqSource struct {
	br     *bufio.Reader
	closer io.Closer
	next   uint64
}

func newBQSource(br *bufio.Reader, c io.Closer) (*bqSource, error) {
	magic := make([]byte, len(bqMagic))
	if _, err := io.ReadFull(br, magic); err != nil {
		if errors.Is(err, io.EOF) {
			// Empty file: zero records.
			return &bqSource{br: br, closer: c}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrBadMagic, err)
	}
	if string(magic) != bqMagic {
		return nil, ErrBadMagic
	}
	return &bqSource{br: br, closer: c}, nil
}

func (s *bqSource) Next() (Record, error) {
	n, err := binary.ReadUvarint(s.br)
	if errors.Is(err, io.EOF) {
		return nil, io.EOF
	}
	if err != nil {
		return nil, s.fail(err)
	}
	if n > maxBQBases {
		return nil, s.fail(fmt.Errorf("record length %d exceeds limit", n))
	}

	nruns, err := binary.ReadUvarint(s.br)
	if err != nil {
		return nil, s.fail(err)
	}
	// runs are disjoint and never adjacent
	if nruns > (n+1)/2 {
		return nil, s.fail(ErrBadRun)
	}
	rec := &bqRecord{index: s.next, n: n, runs: make([]nRun, 0, min(nruns, bqChunk))}
	for i := uint64(0); i < nruns; i++ {
		var run nRun
		if run.start, err = binary.ReadUvarint(s.br); err != nil {
			return nil, s.fail(err)
		}
		if run.length, err = binary.ReadUvarint(s.br); err != nil {
			return nil, s.fail(err)
		}
		rec.runs = append(rec.runs, run)
	}

	if rec.packed, err = readChunked(s.br, (n+3)/4); err != nil {
		return nil, s.fail(err)
	}
	var crc [4]byte
	if _, err := io.ReadFull(s.br, crc[:]); err != nil {
		return nil, s.fail(err)
	}
	rec.crc = binary.LittleEndian.Uint32(crc[:])

	s.next++
	return rec, nil
}

// readChunked reads exactly size bytes, growing the buffer as data arrives.
func readChunked(r io.Reader, size uint64) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(int(min(size, bqChunk)))
	if _, err := io.CopyN(&buf, r, int64(size)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *bqSource) fail(err error) error {
	if errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return &types.DecodeError{Index: s.next, Cause: err}
}

func (s *bqSource) Close() error {
	return s.closer.Close()
}

// BQWriter encodes sequences into the bq format. Bytes other than ACGT
// (any case) are stored as N.
type BQWriter struct {
	w       *bufio.Writer
	started bool
	scratch []byte
	count   uint64
}

// NewBQWriter returns a writer; the magic is emitted with the first record
// or on Flush.
func NewBQWriter(w io.Writer) *BQWriter {
	return &BQWriter{w: bufio.NewWriter(w)}
}

func (bw *BQWriter) writeMagic() error {
	if bw.started {
		return nil
	}
	bw.started = true
	_, err := bw.w.WriteString(bqMagic)
	return err
}

// Write appends one sequence.
func (bw *BQWriter) Write(seq []byte) error {
	if err := bw.writeMagic(); err != nil {
		return err
	}

	var runs []nRun
	packed := bw.scratch[:0]
	for i := 0; i < (len(seq)+3)/4; i++ {
		packed = append(packed, 0)
	}
	for i, c := range seq {
		code := baseCode[c]
		if code == 0xff {
			if k := len(runs) - 1; k >= 0 && runs[k].start+runs[k].length == uint64(i) {
				runs[k].length++
			} else {
				runs = append(runs, nRun{start: uint64(i), length: 1})
			}
			code = 0
		}
		packed[i/4] |= code << (2 * (i % 4))
	}
	bw.scratch = packed

	var hdr [binary.MaxVarintLen64]byte
	put := func(v uint64) error {
		_, err := bw.w.Write(hdr[:binary.PutUvarint(hdr[:], v)])
		return err
	}
	if err := put(uint64(len(seq))); err != nil {
		return err
	}
	if err := put(uint64(len(runs))); err != nil {
		return err
	}
	for _, r := range runs {
		if err := put(r.start); err != nil {
			return err
		}
		if err := put(r.length); err != nil {
			return err
		}
	}
	if _, err := bw.w.Write(packed); err != nil {
		return err
	}
	var crc [4]byte
	binary.LittleEndian.PutUint32(crc[:], crc32.ChecksumIEEE(packed))
	if _, err := bw.w.Write(crc[:]); err != nil {
		return err
	}
	bw.count++
	return nil
}

// Count returns the number of records written so far.
func (bw *BQWriter) Count() uint64 { return bw.count }

// Flush writes buffered data to the underlying writer.
func (bw *BQWriter) Flush() error {
	if err := bw.writeMagic(); err != nil {
		return err
	}
	return bw.w.Flush()
}

package input

import (
	"fmt"
	"io"

	"github.com/biogo/biogo/alphabet"
	"github.com/biogo/biogo/io/seqio"
	"github.com/biogo/biogo/io/seqio/fasta"
	"github.com/biogo/biogo/io/seqio/fastq"
	"github.com/biogo/biogo/seq/linear"

	"github.com/ChuLiYu/beaver-map/pkg/types"
)

// fastxRecord holds an already parsed FASTA/FASTQ record.
type fastxRecord struct {
	index uint64
	name  []byte
	seq   []byte
}

func (r *fastxRecord) Index() uint64 { return r.index }
func (r *fastxRecord) Name() []byte  { return r.name }

func (r *fastxRecord) Decode(dst []byte) ([]byte, error) {
	return append(dst, r.seq...), nil
}

// fastxSource adapts a biogo scanner to Source.
type fastxSource struct {
	sc     *seqio.Scanner
	closer io.Closer
	next   uint64
}

func newFASTASource(r io.Reader, c io.Closer) *fastxSource {
	tmpl := linear.NewSeq("", nil, alphabet.DNA)
	return &fastxSource{sc: seqio.NewScanner(fasta.NewReader(r, tmpl)), closer: c}
}

func newFASTQSource(r io.Reader, c io.Closer) *fastxSource {
	tmpl := linear.NewQSeq("", nil, alphabet.DNA, alphabet.Sanger)
	return &fastxSource{sc: seqio.NewScanner(fastq.NewReader(r, tmpl)), closer: c}
}

func (s *fastxSource) Next() (Record, error) {
	if !s.sc.Next() {
		if err := s.sc.Error(); err != nil {
			return nil, &types.DecodeError{Index: s.next, Cause: err}
		}
		return nil, io.EOF
	}

	rec := &fastxRecord{index: s.next}
	switch sq := s.sc.Seq().(type) {
	case *linear.Seq:
		rec.name = []byte(sq.Name())
		rec.seq = make([]byte, len(sq.Seq))
		for i, l := range sq.Seq {
			rec.seq[i] = byte(l)
		}
	case *linear.QSeq:
		rec.name = []byte(sq.Name())
		rec.seq = make([]byte, len(sq.Seq))
		for i, ql := range sq.Seq {
			rec.seq[i] = byte(ql.L)
		}
	default:
		return nil, &types.DecodeError{Index: s.next, Cause: fmt.Errorf("unexpected sequence type %T", sq)}
	}
	s.next++
	return rec, nil
}

func (s *fastxSource) Close() error {
	return s.closer.Close()
}

// ============================================================================
// PAF row model
// ============================================================================
//
// Package: internal/paf
// File: row.go
// Purpose: normalise an engine Mapping into a fixed-order, tab-separated row
//
// Column order (no header, one row per mapping, newline terminated):
//
//	 1 query name        ("*" when unknown; tab, CR and LF become '_')
//	 2 query length      ("*" when unknown)
//	 3 query start       (0-based)
//	 4 query end         (exclusive)
//	 5 strand            ('+' / '-')
//	 6 target name       ("*" when unknown; sanitised like the query name)
//	 7 target length
//	 8 target start
//	 9 target end
//	10 matching bases
//	11 block length
//	12 mapping quality
//	13 cg:Z:<cigar>      (only when requested AND the hit carries alignment detail)
//
// ============================================================================

package paf

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ChuLiYu/beaver-map/pkg/types"
)

const (
	// Missing is the sentinel rendered for absent names and lengths.
	Missing = "*"

	// CigarTag prefixes the optional CIGAR column.
	CigarTag = "cg:Z:"

	// BaseColumns is the number of mandatory columns.
	BaseColumns = 12
)

var (
	// ErrColumnCount indicates a line without 12 or 13 columns
	ErrColumnCount = errors.New("paf: wrong column count")
	// ErrField indicates a column that could not be parsed
	ErrField = errors.New("paf: malformed field")
)

// Row is the serialisable form of one mapping.
type Row struct {
	QueryName   string
	QueryLen    int // 0 renders as "*"
	QueryStart  int
	QueryEnd    int
	Strand      types.Strand
	TargetName  string
	TargetLen   int
	TargetStart int
	TargetEnd   int
	MatchLen    int
	BlockLen    int
	MapQ        uint32
	Cigar       string // empty means the column is omitted
}

// FromMapping converts an engine mapping. It is pure; the CIGAR column is
// filled only when emitCigar is set and the mapping has alignment detail.
func FromMapping(m types.Mapping, emitCigar bool) Row {
	r := Row{
		QueryName:   m.QueryName,
		QueryLen:    m.QueryLen,
		QueryStart:  m.QueryStart,
		QueryEnd:    m.QueryEnd,
		Strand:      m.Strand,
		TargetName:  m.TargetName,
		TargetLen:   m.TargetLen,
		TargetStart: m.TargetStart,
		TargetEnd:   m.TargetEnd,
		MatchLen:    m.MatchLen,
		BlockLen:    m.BlockLen,
		MapQ:        m.MapQ,
	}
	if r.QueryName == "" {
		r.QueryName = Missing
	}
	if r.QueryLen < 0 {
		r.QueryLen = 0
	}
	if emitCigar && m.HasCigar() {
		r.Cigar = m.Alignment.Cigar.String()
	}
	return r
}

// Columns returns the number of columns the row serialises to.
func (r Row) Columns() int {
	if r.Cigar != "" {
		return BaseColumns + 1
	}
	return BaseColumns
}

// AppendTo appends the row, newline included, to dst and returns the
// extended slice.
func (r Row) AppendTo(dst []byte) []byte {
	dst = appendName(dst, r.QueryName)
	dst = append(dst, '\t')
	if r.QueryLen > 0 {
		dst = strconv.AppendInt(dst, int64(r.QueryLen), 10)
	} else {
		dst = append(dst, Missing...)
	}
	dst = appendInt(dst, r.QueryStart)
	dst = appendInt(dst, r.QueryEnd)
	dst = append(dst, '\t', r.Strand.Symbol(), '\t')
	if r.TargetName != "" {
		dst = appendName(dst, r.TargetName)
	} else {
		dst = append(dst, Missing...)
	}
	dst = appendInt(dst, r.TargetLen)
	dst = appendInt(dst, r.TargetStart)
	dst = appendInt(dst, r.TargetEnd)
	dst = appendInt(dst, r.MatchLen)
	dst = appendInt(dst, r.BlockLen)
	dst = append(dst, '\t')
	dst = strconv.AppendUint(dst, uint64(r.MapQ), 10)
	if r.Cigar != "" {
		dst = append(dst, '\t')
		dst = append(dst, CigarTag...)
		dst = append(dst, r.Cigar...)
	}
	return append(dst, '\n')
}

func (r Row) String() string {
	return string(bytes.TrimSuffix(r.AppendTo(nil), []byte{'\n'}))
}

// appendName writes a name field; bytes that would break the row layout are
// replaced with '_'.
func appendName(dst []byte, name string) []byte {
	if !strings.ContainsAny(name, "\t\r\n") {
		return append(dst, name...)
	}
	for i := 0; i < len(name); i++ {
		switch c := name[i]; c {
		case '\t', '\r', '\n':
			dst = append(dst, '_')
		default:
			dst = append(dst, c)
		}
	}
	return dst
}

func appendInt(dst []byte, v int) []byte {
	dst = append(dst, '\t')
	return strconv.AppendInt(dst, int64(v), 10)
}

// ParseRow parses one line (with or without trailing newline) back into a Row.
func ParseRow(line []byte) (Row, error) {
	line = bytes.TrimSuffix(line, []byte{'\n'})
	fields := bytes.Split(line, []byte{'\t'})
	if len(fields) != BaseColumns && len(fields) != BaseColumns+1 {
		return Row{}, fmt.Errorf("%w: got %d", ErrColumnCount, len(fields))
	}

	var (
		r    Row
		err  error
		ints = [...]*int{
			nil, &r.QueryLen, &r.QueryStart, &r.QueryEnd, nil, nil,
			&r.TargetLen, &r.TargetStart, &r.TargetEnd, &r.MatchLen, &r.BlockLen,
		}
	)
	r.QueryName = string(fields[0])
	if string(fields[5]) != Missing {
		r.TargetName = string(fields[5])
	}
	for i, dst := range ints {
		if dst == nil {
			continue
		}
		if i == 1 && string(fields[1]) == Missing {
			continue
		}
		if *dst, err = strconv.Atoi(string(fields[i])); err != nil {
			return Row{}, fmt.Errorf("%w: column %d: %v", ErrField, i+1, err)
		}
	}

	switch string(fields[4]) {
	case "+":
		r.Strand = types.Forward
	case "-":
		r.Strand = types.Reverse
	default:
		return Row{}, fmt.Errorf("%w: strand %q", ErrField, fields[4])
	}

	mapq, err := strconv.ParseUint(string(fields[11]), 10, 32)
	if err != nil {
		return Row{}, fmt.Errorf("%w: mapq: %v", ErrField, err)
	}
	r.MapQ = uint32(mapq)

	if len(fields) == BaseColumns+1 {
		tag := fields[12]
		if !bytes.HasPrefix(tag, []byte(CigarTag)) || len(tag) == len(CigarTag) {
			return Row{}, fmt.Errorf("%w: tag %q", ErrField, tag)
		}
		r.Cigar = string(tag[len(CigarTag):])
	}
	return r, nil
}

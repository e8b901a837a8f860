// Package input turns sequence files into a stream of records for the
// mapping pipeline. FASTA and FASTQ are parsed with biogo; the packed "bq"
// format is native. Gzip and zstd compression are detected from magic bytes.
package input

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Format names an input encoding.
type Format string

const (
	FormatAuto  Format = "auto"
	FormatFASTA Format = "fasta"
	FormatFASTQ Format = "fastq"
	FormatBQ    Format = "bq"
)

// ErrUnknownFormat is returned when a format name or file content is not recognised.
var ErrUnknownFormat = errors.New("input: unknown format")

// ParseFormat validates a user supplied format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case "", FormatAuto:
		return FormatAuto, nil
	case FormatFASTA, FormatFASTQ, FormatBQ:
		return f, nil
	case "fa":
		return FormatFASTA, nil
	case "fq":
		return FormatFASTQ, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

// Record is one input sequence as delivered by a Source.
type Record interface {
	// Index is the 0-based position of the record in its input.
	Index() uint64
	// Name is the record identifier, nil when the format carries none.
	Name() []byte
	// Decode appends the ASCII nucleotides of the record to dst. It fails
	// when the record's internal encoding is invalid.
	Decode(dst []byte) ([]byte, error)
}

// Source yields records in file order. Next returns io.EOF after the last
// record. Records returned by Next stay valid after subsequent calls.
type Source interface {
	Next() (Record, error)
	Close() error
}

// Open opens path ("-" for stdin) as a record source. FormatAuto inspects
// the file name and falls back to the first byte of the content.
func Open(path string, format Format) (Source, error) {
	rc, err := OpenReader(path)
	if err != nil {
		return nil, err
	}

	br := bufio.NewReaderSize(rc, 1<<16)
	if format == FormatAuto {
		format, err = detect(path, br)
		if err != nil {
			rc.Close()
			return nil, err
		}
	}

	var src Source
	switch format {
	case FormatFASTA:
		src = newFASTASource(br, rc)
	case FormatFASTQ:
		src = newFASTQSource(br, rc)
	case FormatBQ:
		src, err = newBQSource(br, rc)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	if err != nil {
		rc.Close()
		return nil, err
	}
	return src, nil
}

// detect picks a format from the extension, ignoring compression suffixes,
// and otherwise from the first content byte.
func detect(path string, br *bufio.Reader) (Format, error) {
	name := strings.ToLower(filepath.Base(path))
	for _, ext := range []string{".gz", ".zst", ".zstd"} {
		name = strings.TrimSuffix(name, ext)
	}
	switch filepath.Ext(name) {
	case ".fa", ".fasta", ".fna", ".fas", ".ffn":
		return FormatFASTA, nil
	case ".fq", ".fastq":
		return FormatFASTQ, nil
	case ".bq":
		return FormatBQ, nil
	}

	head, err := br.Peek(len(bqMagic))
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	switch {
	case len(head) == 0:
		// Empty input: any parser yields zero records.
		return FormatFASTA, nil
	case string(head) == bqMagic:
		return FormatBQ, nil
	case head[0] == '>':
		return FormatFASTA, nil
	case head[0] == '@':
		return FormatFASTQ, nil
	}
	return "", fmt.Errorf("%w: cannot detect format of %s", ErrUnknownFormat, path)
}

// ReadAll drains src into memory, decoding every record. Used for small
// inputs such as reference sequences.
func ReadAll(src Source) (names []string, seqs [][]byte, err error) {
	for {
		rec, err := src.Next()
		if errors.Is(err, io.EOF) {
			return names, seqs, nil
		}
		if err != nil {
			return nil, nil, err
		}
		seq, err := rec.Decode(nil)
		if err != nil {
			return nil, nil, err
		}
		name := string(rec.Name())
		if name == "" {
			name = FallbackName(rec.Index())
		}
		names = append(names, name)
		seqs = append(seqs, seq)
	}
}

// FallbackName is the identifier used for records without a name.
func FallbackName(index uint64) string {
	return fmt.Sprintf("bq.%d", index)
}

func stdin() io.ReadCloser { return io.NopCloser(os.Stdin) }

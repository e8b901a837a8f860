package input

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
)

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

type multiCloser struct {
	io.Reader
	closers []io.Closer
}

func (m *multiCloser) Close() error {
	var first error
	for _, c := range m.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// OpenReader opens path ("-" for stdin) and transparently decompresses gzip
// or zstd content.
func OpenReader(path string) (io.ReadCloser, error) {
	var raw io.ReadCloser
	if path == "-" {
		raw = stdin()
	} else {
		fh, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		raw = fh
	}
	return Decompress(raw)
}

// Decompress wraps rc with a decoder chosen from its leading magic bytes.
// Closing the result closes rc.
func Decompress(rc io.ReadCloser) (io.ReadCloser, error) {
	br := bufio.NewReader(rc)
	head, _ := br.Peek(len(zstdMagic))

	switch {
	case bytes.HasPrefix(head, gzipMagic):
		gr, err := gzip.NewReader(br)
		if err != nil {
			rc.Close()
			return nil, err
		}
		return &multiCloser{Reader: gr, closers: []io.Closer{gr, rc}}, nil
	case bytes.HasPrefix(head, zstdMagic):
		zr, err := zstd.NewReader(br)
		if err != nil {
			rc.Close()
			return nil, err
		}
		return &multiCloser{Reader: zr, closers: []io.Closer{zr.IOReadCloser(), rc}}, nil
	}
	return &multiCloser{Reader: br, closers: []io.Closer{rc}}, nil
}

package input

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
)

// Convert re-encodes every record of in as a bq file at out and returns the
// number of records written. A failed conversion removes the partial output.
func Convert(ctx context.Context, in, out string, format Format) (n uint64, err error) {
	src, err := Open(in, format)
	if err != nil {
		return 0, err
	}
	defer src.Close()

	f, err := os.Create(out)
	if err != nil {
		return 0, err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(out)
		}
	}()

	bw := NewBQWriter(f)
	var seq []byte
	for {
		if err := ctx.Err(); err != nil {
			return bw.Count(), err
		}
		rec, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return bw.Count(), err
		}
		if seq, err = rec.Decode(seq[:0]); err != nil {
			return bw.Count(), err
		}
		if err := bw.Write(seq); err != nil {
			return bw.Count(), fmt.Errorf("write %s: %w", out, err)
		}
	}
	if err := bw.Flush(); err != nil {
		return bw.Count(), fmt.Errorf("write %s: %w", out, err)
	}
	return bw.Count(), nil
}

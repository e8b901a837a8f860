package input

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvertFASTQToBQ(t *testing.T) {
	in := writeFile(t, "reads.fq", []byte(fastqText))
	out := filepath.Join(t.TempDir(), "reads.bq")

	n, err := Convert(context.Background(), in, out, FormatAuto)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n)

	src, err := Open(out, FormatAuto)
	require.NoError(t, err)
	names, seqs := collect(t, src)
	assert.Equal(t, []string{"", ""}, names)
	assert.Equal(t, []string{"ACGTN", "GGCC"}, seqs)
}

func TestConvertEmptyInput(t *testing.T) {
	in := writeFile(t, "empty.fa", nil)
	out := filepath.Join(t.TempDir(), "empty.bq")

	n, err := Convert(context.Background(), in, out, FormatAuto)
	require.NoError(t, err)
	assert.Zero(t, n)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, bqMagic, string(data))
}

func TestConvertRemovesPartialOutput(t *testing.T) {
	in := writeFile(t, "reads.fa", []byte(fastaText))
	out := filepath.Join(t.TempDir(), "reads.bq")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Convert(ctx, in, out, FormatAuto)
	assert.ErrorIs(t, err, context.Canceled)

	_, statErr := os.Stat(out)
	assert.True(t, os.IsNotExist(statErr))
}

func TestConvertMissingInput(t *testing.T) {
	_, err := Convert(context.Background(), filepath.Join(t.TempDir(), "nope.fa"), filepath.Join(t.TempDir(), "x.bq"), FormatAuto)
	assert.Error(t, err)
}

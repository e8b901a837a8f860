// ============================================================================
// beaver-map end-to-end test suite
// ============================================================================
//
// Package: test/integration
// File: pipeline_test.go
// Purpose: run the full pipeline (index build, parallel mapping, PAF output,
// runtime summary) on simulated data
//
// Data set:
//   - three random contigs (20k, 15k, 10k bases)
//   - reads cut at random positions and strands, with ~1% substitutions
//   - read names encode the truth: sim_<i>_<contig>_<start>_<strand>
//
// Expectations:
//   - at least 95% of the reads have a primary hit on the right contig and
//     strand, within a few bases of the true start
//   - output is identical in content across thread counts
//   - every row parses back as PAF
//
// ============================================================================

package integration

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/beaver-map/internal/config"
	"github.com/ChuLiYu/beaver-map/internal/controller"
	"github.com/ChuLiYu/beaver-map/internal/input"
	"github.com/ChuLiYu/beaver-map/internal/paf"
	"github.com/ChuLiYu/beaver-map/internal/stats"
	"github.com/ChuLiYu/beaver-map/pkg/types"
)

// ============================================================================
// Simulation
// ============================================================================

type dataset struct {
	dir   string
	ref   string
	reads string
	count int
}

var contigs = []struct {
	name string
	len  int
}{{"ctg1", 20000}, {"ctg2", 15000}, {"ctg3", 10000}}

func complement(b byte) byte {
	switch b {
	case 'A':
		return 'T'
	case 'C':
		return 'G'
	case 'G':
		return 'C'
	}
	return 'A'
}

func simulate(t testing.TB, reads, readLen int) dataset {
	t.Helper()
	r := rand.New(rand.NewSource(2024))
	dir := t.TempDir()

	var ref bytes.Buffer
	seqs := make([][]byte, len(contigs))
	for i, c := range contigs {
		seqs[i] = make([]byte, c.len)
		for j := range seqs[i] {
			seqs[i][j] = "ACGT"[r.Intn(4)]
		}
		fmt.Fprintf(&ref, ">%s\n%s\n", c.name, seqs[i])
	}

	var fq bytes.Buffer
	for i := 0; i < reads; i++ {
		ci := r.Intn(len(contigs))
		start := r.Intn(contigs[ci].len - readLen)
		read := append([]byte(nil), seqs[ci][start:start+readLen]...)
		for j := range read {
			if r.Float64() < 0.01 {
				read[j] = "ACGT"[(strings.IndexByte("ACGT", read[j])+1+r.Intn(3))%4]
			}
		}
		strand := "+"
		if r.Intn(2) == 1 {
			strand = "-"
			for a, b := 0, len(read)-1; a <= b; a, b = a+1, b-1 {
				read[a], read[b] = complement(read[b]), complement(read[a])
			}
		}
		fmt.Fprintf(&fq, "@sim_%d_%s_%d_%s\n%s\n+\n%s\n",
			i, contigs[ci].name, start, strand, read, strings.Repeat("I", readLen))
	}

	ds := dataset{
		dir:   dir,
		ref:   filepath.Join(dir, "ref.fa"),
		reads: filepath.Join(dir, "reads.fq"),
		count: reads,
	}
	require.NoError(t, os.WriteFile(ds.ref, ref.Bytes(), 0644))
	require.NoError(t, os.WriteFile(ds.reads, fq.Bytes(), 0644))
	return ds
}

func runConfig(ds dataset, query, out string, threads int) config.Config {
	cfg := config.Default()
	cfg.IO.Reference = ds.ref
	cfg.IO.Query = query
	cfg.Run.Threads = threads
	cfg.Run.BatchSize = 16
	cfg.Run.Progress = false
	cfg.Output.Path = out
	cfg.Output.LogPath = filepath.Join(filepath.Dir(out), filepath.Base(out)+".summary.json")
	cfg.Output.Cigar = true
	return cfg
}

func runPipeline(t testing.TB, cfg config.Config) stats.Runtime {
	t.Helper()
	rt, err := controller.New(cfg).Run(context.Background())
	require.NoError(t, err)
	return rt
}

func readRows(t testing.TB, path string) []paf.Row {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var rows []paf.Row
	for _, line := range bytes.SplitAfter(data, []byte{'\n'}) {
		if len(line) == 0 {
			continue
		}
		row, err := paf.ParseRow(line)
		require.NoError(t, err, "line %q", line)
		rows = append(rows, row)
	}
	return rows
}

// ============================================================================
// Tests
// ============================================================================

func TestSimulatedReadsMapToTheirOrigin(t *testing.T) {
	ds := simulate(t, 300, 150)
	out := filepath.Join(ds.dir, "out.paf")

	rt := runPipeline(t, runConfig(ds, ds.reads, out, 4))
	assert.Equal(t, uint64(ds.count), rt.TotalRecords)

	correct := 0
	primaries := make(map[string]int)
	for _, row := range readRows(t, out) {
		assert.Equal(t, 150, row.QueryLen)
		assert.LessOrEqual(t, row.MatchLen, row.BlockLen)
		assert.LessOrEqual(t, row.MapQ, uint32(60))
		if row.MapQ == 0 {
			continue
		}
		primaries[row.QueryName]++

		parts := strings.Split(row.QueryName, "_")
		require.Len(t, parts, 5)
		start, err := strconv.Atoi(parts[3])
		require.NoError(t, err)
		wantStrand := types.Forward
		if parts[4] == "-" {
			wantStrand = types.Reverse
		}
		if row.TargetName == parts[2] && row.Strand == wantStrand && abs(row.TargetStart-start) <= 5 {
			correct++
			assert.NotEmpty(t, row.Cigar, row.QueryName)
		}
	}
	for name, n := range primaries {
		assert.Equal(t, 1, n, "%s has one confident hit", name)
	}
	assert.GreaterOrEqual(t, correct, ds.count*95/100, "correct: %d of %d", correct, ds.count)
}

func TestOutputIndependentOfThreadCount(t *testing.T) {
	ds := simulate(t, 200, 120)

	sorted := func(path string) []string {
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
		sort.Strings(lines)
		return lines
	}

	single := filepath.Join(ds.dir, "t1.paf")
	runPipeline(t, runConfig(ds, ds.reads, single, 1))
	multi := filepath.Join(ds.dir, "t4.paf")
	runPipeline(t, runConfig(ds, ds.reads, multi, 4))

	assert.Equal(t, sorted(single), sorted(multi))
}

func TestCompressedAndPackedQueries(t *testing.T) {
	ds := simulate(t, 100, 150)

	raw, err := os.ReadFile(ds.reads)
	require.NoError(t, err)
	zst := filepath.Join(ds.dir, "reads.fq.zst")
	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(zst, enc.EncodeAll(raw, nil), 0644))
	require.NoError(t, enc.Close())

	bq := filepath.Join(ds.dir, "reads.bq")
	n, err := input.Convert(context.Background(), ds.reads, bq, input.FormatAuto)
	require.NoError(t, err)
	require.Equal(t, uint64(ds.count), n)

	plain := filepath.Join(ds.dir, "plain.paf")
	runPipeline(t, runConfig(ds, ds.reads, plain, 2))
	fromZst := filepath.Join(ds.dir, "zst.paf")
	runPipeline(t, runConfig(ds, zst, fromZst, 2))
	fromBQ := filepath.Join(ds.dir, "bq.paf")
	runPipeline(t, runConfig(ds, bq, fromBQ, 1))

	a, err := os.ReadFile(plain)
	require.NoError(t, err)
	b, err := os.ReadFile(fromZst)
	require.NoError(t, err)
	assert.ElementsMatch(t, strings.Split(string(a), "\n"), strings.Split(string(b), "\n"))

	// bq records are nameless; everything but the name matches
	strip := func(rows []paf.Row) []paf.Row {
		for i := range rows {
			rows[i].QueryName = ""
		}
		return rows
	}
	bqRows := readRows(t, fromBQ)
	for _, row := range bqRows {
		assert.True(t, strings.HasPrefix(row.QueryName, "bq."), row.QueryName)
	}
	assert.ElementsMatch(t, strip(readRows(t, plain)), strip(bqRows))
}

func TestSummaryFile(t *testing.T) {
	ds := simulate(t, 50, 150)
	cfg := runConfig(ds, ds.reads, filepath.Join(ds.dir, "out.paf"), 2)
	cfg.Output.LogPath = filepath.Join(ds.dir, "summary.yaml")

	rt := runPipeline(t, cfg)
	got, err := stats.Load(cfg.Output.LogPath)
	require.NoError(t, err)
	assert.Equal(t, rt.TotalRecords, got.TotalRecords)
	assert.Equal(t, uint64(ds.count), got.TotalRecords)
	assert.GreaterOrEqual(t, got.ElapsedTotalSec, got.ElapsedInitSec)
	assert.Greater(t, got.ThroughputRecordsPerSec, 0.0)
}

func TestCorruptPackedRecordAbortsRun(t *testing.T) {
	ds := simulate(t, 20, 150)
	bq := filepath.Join(ds.dir, "reads.bq")
	_, err := input.Convert(context.Background(), ds.reads, bq, input.FormatAuto)
	require.NoError(t, err)

	// flip a bit in the last record's checksum
	data, err := os.ReadFile(bq)
	require.NoError(t, err)
	data[len(data)-1] ^= 0x01
	require.NoError(t, os.WriteFile(bq, data, 0644))

	cfg := runConfig(ds, bq, filepath.Join(ds.dir, "out.paf"), 2)
	_, err = controller.New(cfg).Run(context.Background())
	assert.ErrorIs(t, err, types.ErrDecode)

	_, statErr := os.Stat(cfg.Output.LogPath)
	assert.True(t, os.IsNotExist(statErr))
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

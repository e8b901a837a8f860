package stats

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/beaver-map/pkg/types"
)

// ============================================================================
// Counter
// ============================================================================

func TestCounterConcurrentAdd(t *testing.T) {
	var c Counter
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				c.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, uint64(16000), c.Load())
	assert.Equal(t, uint64(16010), c.Add(10))
}

// ============================================================================
// Runtime
// ============================================================================

func TestNewRuntime(t *testing.T) {
	start := time.Unix(1000, 0)
	ready := start.Add(2 * time.Second)
	end := ready.Add(4 * time.Second)

	rt := NewRuntime(start, ready, end, 100)
	assert.Equal(t, 6.0, rt.ElapsedTotalSec)
	assert.Equal(t, 2.0, rt.ElapsedInitSec)
	assert.Equal(t, 4.0, rt.ElapsedMapSec)
	assert.Equal(t, uint64(100), rt.TotalRecords)
	assert.Equal(t, 25.0, rt.ThroughputRecordsPerSec)
}

func TestThroughputGuardsZero(t *testing.T) {
	assert.Equal(t, 0.0, Throughput(0, 3))
	assert.Equal(t, 0.0, Throughput(10, 0))

	now := time.Now()
	rt := NewRuntime(now, now, now, 0)
	assert.Equal(t, 0.0, rt.ThroughputRecordsPerSec)
}

// ============================================================================
// Writer
// ============================================================================

func sample() Runtime {
	return Runtime{
		ElapsedTotalSec:         1.5,
		ElapsedInitSec:          0.5,
		ElapsedMapSec:           1,
		TotalRecords:            3,
		ThroughputRecordsPerSec: 3,
	}
}

func TestWriteToStream(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewWriter("", &buf).Write(sample()))

	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	for _, key := range []string{
		"elapsed_total_sec", "elapsed_init_sec", "elapsed_map_sec",
		"total_records", "throughput_records_per_sec",
	} {
		assert.Contains(t, got, key)
	}
	assert.Contains(t, buf.String(), "\n  \"total_records\": 3")
}

func TestWriteFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"run.json", "run.yaml", "run.log"} {
		path := filepath.Join(dir, name)
		w := NewWriter(path, nil)
		require.NoError(t, w.Write(sample()))
		assert.Equal(t, path, w.Path())

		got, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, sample(), got)
	}

	data, err := os.ReadFile(filepath.Join(dir, "run.yaml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "total_records: 3")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 3, "no temp files left behind")
}

func TestWriteUnwritablePath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "run.json")
	err := NewWriter(path, nil).Write(sample())
	assert.ErrorIs(t, err, types.ErrIO)
}

func TestLoadCorrupted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))
	_, err := Load(path)
	assert.ErrorIs(t, err, ErrCorruptedSummary)
}

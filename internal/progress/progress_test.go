package progress

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMessageFormat(t *testing.T) {
	assert.Equal(t, "Elapsed: 2.00s, Throughput: 50.00 reads/s", Message(2*time.Second, 100))
	assert.Equal(t, "Elapsed: 0.00s, Throughput: 0.00 reads/s", Message(0, 0))
	assert.Equal(t, "Elapsed: 1.50s, Throughput: 0.00 reads/s", Message(1500*time.Millisecond, 0))
}

func TestSilentDisplay(t *testing.T) {
	s := NewSilent()
	assert.Equal(t, Message(0, 0), s.Message())

	s.Update(4*time.Second, 10)
	assert.Equal(t, "Elapsed: 4.00s, Throughput: 2.50 reads/s", s.Message())
	assert.Equal(t, uint64(1), s.Updates())

	assert.False(t, s.Finished())
	s.Finish(5*time.Second, 100)
	assert.True(t, s.Finished())
	assert.Equal(t, "Elapsed: 5.00s, Throughput: 20.00 reads/s", s.Message())
	assert.Equal(t, uint64(1), s.Updates(), "Finish is not counted as an update")

	s.Finish(time.Second, 1)
	assert.Equal(t, "Elapsed: 5.00s, Throughput: 20.00 reads/s", s.Message(), "only the first Finish counts")
}

func TestSpinnerRendersAndFinishes(t *testing.T) {
	var buf syncBuffer
	s := NewSpinner(&buf, 10*time.Millisecond)

	s.Update(time.Second, 42)
	assert.Equal(t, "Elapsed: 1.00s, Throughput: 42.00 reads/s", s.Message())

	done := make(chan struct{})
	go func() {
		s.Finish(2*time.Second, 100)
		s.Finish(time.Second, 1)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Finish did not return")
	}
	assert.Equal(t, "Elapsed: 2.00s, Throughput: 50.00 reads/s", s.Message())
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

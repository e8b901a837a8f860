// Package progress renders the live status line of a mapping run. Only the
// reporting worker updates it; the display itself does no locking beyond
// an atomic message swap read by the render goroutine.
package progress

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/ChuLiYu/beaver-map/internal/stats"
)

// Display is the shared progress handle.
type Display interface {
	// Update recomputes the message from the run-wide count.
	Update(elapsed time.Duration, records uint64)
	// Finish recomputes the message from the final count and switches the
	// display to its final state. Only the first call has an effect.
	Finish(elapsed time.Duration, records uint64)
	// Message returns the current status text.
	Message() string
}

// Message formats elapsed time and throughput with two decimals.
func Message(elapsed time.Duration, records uint64) string {
	sec := elapsed.Seconds()
	return fmt.Sprintf("Elapsed: %.2fs, Throughput: %.2f reads/s", sec, stats.Throughput(records, sec))
}

// ============================================================================
// Spinner
// ============================================================================

// DefaultRefresh is the spinner redraw interval.
const DefaultRefresh = 150 * time.Millisecond

// Spinner is a Display drawn with mpb.
type Spinner struct {
	p   *mpb.Progress
	bar *mpb.Bar
	msg atomic.Pointer[string]

	finish sync.Once
}

// NewSpinner starts a spinner writing to w.
func NewSpinner(w io.Writer, refresh time.Duration) *Spinner {
	if refresh <= 0 {
		refresh = DefaultRefresh
	}
	s := &Spinner{}
	s.set(Message(0, 0))

	s.p = mpb.New(mpb.WithOutput(w), mpb.WithRefreshRate(refresh))
	s.bar = s.p.New(0, mpb.SpinnerStyle(),
		mpb.PrependDecorators(
			decor.Name("mapping "),
		),
		mpb.AppendDecorators(
			decor.Any(func(decor.Statistics) string { return s.Message() }),
			decor.OnComplete(decor.Name(""), " finished"),
		),
	)
	return s
}

func (s *Spinner) set(m string) { s.msg.Store(&m) }

// Update replaces the status text.
func (s *Spinner) Update(elapsed time.Duration, records uint64) {
	s.set(Message(elapsed, records))
	s.bar.SetCurrent(int64(records))
}

// Message returns the current status text.
func (s *Spinner) Message() string { return *s.msg.Load() }

// Finish sets the final message, completes the bar and waits for the last
// render.
func (s *Spinner) Finish(elapsed time.Duration, records uint64) {
	s.finish.Do(func() {
		s.set(Message(elapsed, records))
		s.bar.SetCurrent(int64(records))
		s.bar.SetTotal(-1, true)
		s.p.Wait()
	})
}

// ============================================================================
// Silent display
// ============================================================================

// Silent keeps the message without drawing anything. It backs --no-progress
// and tests.
type Silent struct {
	msg      atomic.Pointer[string]
	updates  atomic.Uint64
	finished atomic.Bool
	once     sync.Once
}

// NewSilent returns a display that never renders.
func NewSilent() *Silent {
	s := &Silent{}
	m := Message(0, 0)
	s.msg.Store(&m)
	return s
}

func (s *Silent) Update(elapsed time.Duration, records uint64) {
	m := Message(elapsed, records)
	s.msg.Store(&m)
	s.updates.Add(1)
}

func (s *Silent) Finish(elapsed time.Duration, records uint64) {
	s.once.Do(func() {
		m := Message(elapsed, records)
		s.msg.Store(&m)
		s.finished.Store(true)
	})
}

func (s *Silent) Message() string { return *s.msg.Load() }

// Updates returns how many times Update was called.
func (s *Silent) Updates() uint64 { return s.updates.Load() }

// Finished reports whether Finish was called.
func (s *Silent) Finished() bool { return s.finished.Load() }

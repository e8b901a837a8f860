// Package stats holds the run-wide record counter and the end-of-run
// summary.
package stats

import "sync"

// Counter is the global processed-record count. It has its own lock so it
// is never held together with the output sink lock.
type Counter struct {
	mu sync.Mutex
	n  uint64
}

// Add merges a local count and returns the new total.
func (c *Counter) Add(n uint64) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n += n
	return c.n
}

// Load returns the current total.
func (c *Counter) Load() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

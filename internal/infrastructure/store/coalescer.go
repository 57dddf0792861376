package store

import (
	"sort"
	"sync"
	"time"

	"github.com/GriffinCanCode/ThingHost/backend/internal/shared/clock"
)

// Coalescer batches marks into a single deferred flush. Each Mark cancels
// the pending flush and schedules a new one delay later, so a burst of
// marks produces one flush carrying every key marked during the burst.
type Coalescer struct {
	clock clock.Clock
	delay time.Duration
	flush func(keys []string)

	mu      sync.Mutex
	pending map[string]struct{}
	timer   clock.Timer
}

// NewCoalescer creates a Coalescer that calls flush delay after the last Mark.
func NewCoalescer(c clock.Clock, delay time.Duration, flush func(keys []string)) *Coalescer {
	return &Coalescer{
		clock:   c,
		delay:   delay,
		flush:   flush,
		pending: make(map[string]struct{}),
	}
}

// Mark flags key as dirty and restarts the flush timer.
func (c *Coalescer) Mark(key string) {
	c.mu.Lock()
	c.pending[key] = struct{}{}
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = nil
	c.mu.Unlock()

	// AfterFunc may run the callback inline for a zero delay, so the
	// timer is installed without holding the lock.
	t := c.clock.AfterFunc(c.delay, c.fire)

	c.mu.Lock()
	if len(c.pending) > 0 && c.timer == nil {
		c.timer = t
	} else {
		t.Stop()
	}
	c.mu.Unlock()
}

// Flush runs any pending flush immediately.
func (c *Coalescer) Flush() {
	c.fire()
}

// Pending returns the number of dirty keys awaiting a flush.
func (c *Coalescer) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Stop cancels the pending flush without running it.
func (c *Coalescer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Coalescer) fire() {
	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if len(c.pending) == 0 {
		c.mu.Unlock()
		return
	}
	keys := make([]string, 0, len(c.pending))
	for k := range c.pending {
		keys = append(keys, k)
	}
	c.pending = make(map[string]struct{})
	c.mu.Unlock()

	sort.Strings(keys)
	c.flush(keys)
}

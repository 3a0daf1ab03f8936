// Package clock provides the shared periodic tick source and the
// foreground visibility flag consumed by the recurrence engine.
package clock

import (
	"context"
	"log"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Visibility reports whether the application is in the foreground.
type Visibility interface {
	Visible() bool
}

// Always is a Visibility that is always in the foreground.
type Always struct{}

// Visible implements Visibility.
func (Always) Visible() bool { return true }

// Flag is a settable Visibility.
type Flag struct {
	v atomic.Bool
}

// Set updates the flag.
func (f *Flag) Set(visible bool) { f.v.Store(visible) }

// Visible implements Visibility.
func (f *Flag) Visible() bool { return f.v.Load() }

// Clock fans one ticker out to every subscriber.
type Clock struct {
	interval time.Duration
	logger   *log.Logger

	mu     sync.Mutex
	subs   map[uint64]func(time.Time)
	nextID uint64
}

// New creates a clock ticking every interval (default: 1 minute).
// If logger is nil, a default logger writing to stderr is used.
func New(interval time.Duration, logger *log.Logger) *Clock {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[clock] ", log.LstdFlags)
	}
	return &Clock{
		interval: interval,
		logger:   logger,
		subs:     make(map[uint64]func(time.Time)),
	}
}

// Interval returns the tick period.
func (c *Clock) Interval() time.Duration {
	return c.interval
}

// Subscribe registers fn for every tick. The returned function removes the
// subscription; calling it more than once is harmless.
func (c *Clock) Subscribe(fn func(now time.Time)) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.subs[id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
		})
	}
}

// Len returns the number of active subscriptions.
func (c *Clock) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

// Tick delivers now to every subscriber in subscription order.
// Subscribers run without the clock lock held, so they may unsubscribe.
func (c *Clock) Tick(now time.Time) {
	c.mu.Lock()
	ids := make([]uint64, 0, len(c.subs))
	for id := range c.subs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	fns := make([]func(time.Time), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, c.subs[id])
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(now)
	}
}

// Run ticks until ctx is cancelled.
func (c *Clock) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.logger.Printf("Clock started (interval %v)", c.interval)
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			c.Tick(now)
		}
	}
}

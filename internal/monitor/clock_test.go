package monitor_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"chainmonitor/internal/monitor"
)

type fakeTicker struct {
	period  time.Duration
	elapsed time.Duration
	ch      chan time.Time
	stopped atomic.Bool
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }

func (t *fakeTicker) Stop() { t.stopped.Store(true) }

// fakeClock hands out tickers that only fire when Advance is called.
type fakeClock struct {
	mu        sync.Mutex
	now       time.Time
	tickers   []*fakeTicker
	lateReads int
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0)}
}

func (c *fakeClock) NewTicker(d time.Duration) monitor.Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTicker{period: d, ch: make(chan time.Time)}
	c.tickers = append(c.tickers, t)
	return t
}

func (c *fakeClock) Tickers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tickers)
}

func (c *fakeClock) AllStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range c.tickers {
		if !t.stopped.Load() {
			return false
		}
	}
	return true
}

// LateReads counts ticks a stopped ticker managed to deliver.
func (c *fakeClock) LateReads() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lateReads
}

// Advance moves simulated time forward and fires every tick that falls due.
// Ticks on running tickers are delivered synchronously, so when a send
// returns the loop has taken the tick. Stopped tickers are still offered
// their ticks briefly to prove nobody reads them any more.
func (c *fakeClock) Advance(t *testing.T, d time.Duration) {
	t.Helper()
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	tickers := append([]*fakeTicker(nil), c.tickers...)
	c.mu.Unlock()

	for _, ticker := range tickers {
		ticker.elapsed += d
		for ticker.elapsed >= ticker.period {
			ticker.elapsed -= ticker.period
			if ticker.stopped.Load() {
				select {
				case ticker.ch <- now:
					c.mu.Lock()
					c.lateReads++
					c.mu.Unlock()
				case <-time.After(20 * time.Millisecond):
				}
				continue
			}
			select {
			case ticker.ch <- now:
			case <-time.After(2 * time.Second):
				t.Fatalf("tick not consumed within 2s")
			}
		}
	}
}

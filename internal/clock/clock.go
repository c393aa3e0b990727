// Package clock provides an injectable time source. Production code uses
// Real(); tests use Fake() and move time forward with Advance.
package clock

import (
	"sort"
	"sync"
	"time"
)

// Clock abstracts the time operations used by the scheduler and the
// persistence timestamps.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// NewTicker returns a ticker delivering ticks every d. Panics if d <= 0.
	NewTicker(d time.Duration) *Ticker
}

// Ticker delivers periodic ticks on C. C has capacity 1; slow consumers
// drop ticks, matching time.Ticker.
type Ticker struct {
	C <-chan time.Time

	stop func()
}

// Stop turns off the ticker. C is not closed.
func (t *Ticker) Stop() { t.stop() }

// Real returns the wall clock.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) NewTicker(d time.Duration) *Ticker {
	t := time.NewTicker(d)
	return &Ticker{C: t.C, stop: t.Stop}
}

// FakeClock is a deterministic clock that only moves when Advance is called.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*fakeTicker
	added   chan struct{}
}

type fakeTicker struct {
	c       chan time.Time
	period  time.Duration
	next    time.Time
	stopped bool
}

// Fake returns a FakeClock starting at start.
func Fake(start time.Time) *FakeClock {
	return &FakeClock{now: start, added: make(chan struct{}, 64)}
}

// Now returns the fake current time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// NewTicker registers a ticker that fires as Advance crosses its period.
func (c *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive ticker interval")
	}
	ch := make(chan time.Time, 1)

	c.mu.Lock()
	ft := &fakeTicker{c: ch, period: d, next: c.now.Add(d)}
	c.tickers = append(c.tickers, ft)
	c.mu.Unlock()

	select {
	case c.added <- struct{}{}:
	default:
	}

	return &Ticker{C: ch, stop: func() {
		c.mu.Lock()
		ft.stopped = true
		c.mu.Unlock()
	}}
}

// WaitForTickers blocks until n tickers have been registered in total.
// Use it before Advance so a goroutine's ticker exists when time moves.
func (c *FakeClock) WaitForTickers(n int) {
	for {
		c.mu.Lock()
		count := len(c.tickers)
		c.mu.Unlock()
		if count >= n {
			return
		}
		<-c.added
	}
}

// Advance moves time forward by d and fires every ticker whose deadline
// was crossed, in deadline order.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)

	type firing struct {
		at time.Time
		ft *fakeTicker
	}
	var due []firing
	for _, ft := range c.tickers {
		for !ft.stopped && !ft.next.After(target) {
			due = append(due, firing{at: ft.next, ft: ft})
			ft.next = ft.next.Add(ft.period)
		}
	}
	sort.SliceStable(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	c.now = target
	c.mu.Unlock()

	for _, f := range due {
		select {
		case f.ft.c <- f.at:
		default:
		}
	}
}

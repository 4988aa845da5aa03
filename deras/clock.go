package deras

import (
	"sync"
	"time"
)

// Clock abstracts time operations so the mock simulator and the command
// correlator can be tested without real delays.
type Clock interface {
	// Now returns the current time
	Now() time.Time

	// NewTicker creates a ticker that sends on its channel at the
	// given interval
	NewTicker(d time.Duration) Ticker

	// NewTimer creates a timer that fires once after the given duration
	NewTimer(d time.Duration) Timer
}

// Ticker is an interface over time.Ticker to enable testing
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Timer is an interface over time.Timer to enable testing
type Timer interface {
	C() <-chan time.Time
	Stop() bool
}

// RealClock implements Clock using actual time operations
type RealClock struct{}

// NewRealClock creates a new RealClock
func NewRealClock() Clock {
	return &RealClock{}
}

func (rc *RealClock) Now() time.Time {
	return time.Now()
}

func (rc *RealClock) NewTicker(d time.Duration) Ticker {
	return &realTicker{ticker: time.NewTicker(d)}
}

func (rc *RealClock) NewTimer(d time.Duration) Timer {
	return &realTimer{timer: time.NewTimer(d)}
}

type realTicker struct {
	ticker *time.Ticker
}

func (rt *realTicker) C() <-chan time.Time { return rt.ticker.C }
func (rt *realTicker) Stop()               { rt.ticker.Stop() }

type realTimer struct {
	timer *time.Timer
}

func (rt *realTimer) C() <-chan time.Time { return rt.timer.C }
func (rt *realTimer) Stop() bool          { return rt.timer.Stop() }

// FakeClock implements Clock for testing with controllable time
type FakeClock struct {
	mu      sync.RWMutex
	now     time.Time
	tickers []*fakeTicker
	timers  []*fakeTimer
}

// NewFakeClock creates a new FakeClock starting at the given time
func NewFakeClock(startTime time.Time) *FakeClock {
	return &FakeClock{now: startTime}
}

func (fc *FakeClock) Now() time.Time {
	fc.mu.RLock()
	defer fc.mu.RUnlock()
	return fc.now
}

func (fc *FakeClock) NewTicker(d time.Duration) Ticker {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	ft := &fakeTicker{c: make(chan time.Time, 1)}
	fc.tickers = append(fc.tickers, ft)
	return ft
}

func (fc *FakeClock) NewTimer(d time.Duration) Timer {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	ft := &fakeTimer{deadline: fc.now.Add(d), c: make(chan time.Time, 1)}
	fc.timers = append(fc.timers, ft)
	return ft
}

// Advance moves the fake clock forward by d and fires any tickers and
// due timers. Each Advance delivers at most one tick per ticker; call
// it once per simulated interval.
func (fc *FakeClock) Advance(d time.Duration) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.now = fc.now.Add(d)

	for _, ticker := range fc.tickers {
		if ticker.stopped {
			continue
		}
		select {
		case ticker.c <- fc.now:
		default:
		}
	}

	for _, timer := range fc.timers {
		if timer.stopped || fc.now.Before(timer.deadline) {
			continue
		}
		select {
		case timer.c <- fc.now:
			timer.stopped = true // timers fire once
		default:
		}
	}
}

type fakeTicker struct {
	c       chan time.Time
	stopped bool
}

func (ft *fakeTicker) C() <-chan time.Time { return ft.c }
func (ft *fakeTicker) Stop()               { ft.stopped = true }

type fakeTimer struct {
	deadline time.Time
	c        chan time.Time
	stopped  bool
}

func (ft *fakeTimer) C() <-chan time.Time { return ft.c }

func (ft *fakeTimer) Stop() bool {
	if ft.stopped {
		return false
	}
	ft.stopped = true
	return true
}

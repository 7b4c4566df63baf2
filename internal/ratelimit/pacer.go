package ratelimit

import (
	"context"
	"time"
)

// DefaultRequestDelay is the minimum gap between two upstream calls
const DefaultRequestDelay = 300 * time.Millisecond

// SleepFunc blocks for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

// Pacer owns the "last request time" for one upstream service and enforces
// a minimum delay before every call, the first one included. It is not safe
// for concurrent use; calls are meant to be issued one at a time.
type Pacer struct {
	delay time.Duration
	last  time.Time
	now   func() time.Time
	sleep SleepFunc

	calls  int
	waited time.Duration
}

// NewPacer creates a pacer on the wall clock
func NewPacer(delay time.Duration) *Pacer {
	return &Pacer{
		delay: delay,
		now:   time.Now,
		sleep: sleepContext,
	}
}

// WithClock replaces the clock and sleep function, for tests
func (p *Pacer) WithClock(now func() time.Time, sleep SleepFunc) *Pacer {
	p.now = now
	p.sleep = sleep
	return p
}

// Wait blocks until the delay since the previous call has elapsed, then
// marks now as the time of the next call. Before the first call it waits
// the full delay.
func (p *Pacer) Wait(ctx context.Context) error {
	wait := p.delay
	if !p.last.IsZero() {
		wait = p.delay - p.now().Sub(p.last)
	}
	if wait > 0 {
		if err := p.sleep(ctx, wait); err != nil {
			return err
		}
		p.waited += wait
	}
	p.last = p.now()
	p.calls++
	return nil
}

// Calls returns how many calls have been paced
func (p *Pacer) Calls() int { return p.calls }

// Waited returns the total time spent sleeping
func (p *Pacer) Waited() time.Duration { return p.waited }

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

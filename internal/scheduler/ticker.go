// Package scheduler runs the control tick at a fixed rate against absolute
// deadlines.
package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// ErrInvalidPeriod is returned for a non-positive period.
var ErrInvalidPeriod = errors.New("period must be positive")

// Option configures a Ticker.
type Option func(*Ticker)

// WithClock overrides the time source and the sleep function. sleep must
// return early with ctx.Err() when ctx is cancelled.
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(t *Ticker) {
		t.now = now
		t.sleep = sleep
	}
}

// Ticker calls a function once per period. Deadlines are start + k*period,
// so jitter in one tick does not shift the next.
type Ticker struct {
	period time.Duration
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error

	ticks  atomic.Uint64
	missed atomic.Uint64
}

// New returns a ticker with the given period.
func New(period time.Duration, opts ...Option) (*Ticker, error) {
	if period <= 0 {
		return nil, ErrInvalidPeriod
	}

	t := &Ticker{
		period: period,
		now:    time.Now,
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Run calls fn with the wake-up time until ctx is cancelled, and then
// returns ctx.Err(). A tick that overruns past later deadlines skips them;
// skipped deadlines are counted, not replayed.
func (t *Ticker) Run(ctx context.Context, fn func(now time.Time)) error {
	next := t.now()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		fn(t.now())
		t.ticks.Add(1)

		next = next.Add(t.period)
		now := t.now()
		if now.After(next) {
			skip := now.Sub(next)/t.period + 1
			t.missed.Add(uint64(skip))
			next = next.Add(skip * t.period)
		}

		if err := t.sleep(ctx, next.Sub(now)); err != nil {
			return err
		}
	}
}

// Period returns the tick period.
func (t *Ticker) Period() time.Duration {
	return t.period
}

// Ticks returns the number of completed ticks.
func (t *Ticker) Ticks() uint64 {
	return t.ticks.Load()
}

// Missed returns the number of skipped deadlines.
func (t *Ticker) Missed() uint64 {
	return t.missed.Load()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

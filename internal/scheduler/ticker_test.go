package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"
)

type simClock struct {
	now time.Time
}

func (c *simClock) Now() time.Time { return c.now }

func (c *simClock) Sleep(ctx context.Context, d time.Duration) error {
	if d > 0 {
		c.now = c.now.Add(d)
	}
	return ctx.Err()
}

func TestNewRejectsBadPeriod(t *testing.T) {
	if _, err := New(0); !errors.Is(err, ErrInvalidPeriod) {
		t.Errorf("New(0) error = %v, want %v", err, ErrInvalidPeriod)
	}
}

func TestTickerDeadlines(t *testing.T) {
	tests := []struct {
		name       string
		work       []time.Duration
		wantOffset []time.Duration
		wantMissed uint64
	}{
		{
			name:       "no drift with jitter",
			work:       []time.Duration{time.Millisecond, 3 * time.Millisecond, 0, 4 * time.Millisecond, 2 * time.Millisecond},
			wantOffset: []time.Duration{0, 5, 10, 15, 20},
		},
		{
			name:       "overrun skips missed deadlines",
			work:       []time.Duration{12 * time.Millisecond, time.Millisecond, time.Millisecond},
			wantOffset: []time.Duration{0, 15, 20},
			wantMissed: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start := time.Unix(1700000000, 0)
			clock := &simClock{now: start}
			ticker, err := New(5*time.Millisecond, WithClock(clock.Now, clock.Sleep))
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			var got []time.Duration
			err = ticker.Run(ctx, func(now time.Time) {
				got = append(got, now.Sub(start))
				clock.now = clock.now.Add(tt.work[len(got)-1])
				if len(got) == len(tt.work) {
					cancel()
				}
			})
			if !errors.Is(err, context.Canceled) {
				t.Fatalf("Run() error = %v, want %v", err, context.Canceled)
			}

			if len(got) != len(tt.wantOffset) {
				t.Fatalf("ticks = %v, want %d ticks", got, len(tt.wantOffset))
			}
			for i, w := range tt.wantOffset {
				if got[i] != w*time.Millisecond {
					t.Errorf("tick %d at %v, want %v", i, got[i], w*time.Millisecond)
				}
			}
			if ticker.Missed() != tt.wantMissed {
				t.Errorf("Missed() = %d, want %d", ticker.Missed(), tt.wantMissed)
			}
			if ticker.Ticks() != uint64(len(tt.work)) {
				t.Errorf("Ticks() = %d, want %d", ticker.Ticks(), len(tt.work))
			}
		})
	}
}

func TestTickerRealClock(t *testing.T) {
	ticker, err := New(time.Millisecond)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	n := 0
	err = ticker.Run(ctx, func(time.Time) { n++ })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run() error = %v, want %v", err, context.DeadlineExceeded)
	}
	if n == 0 {
		t.Error("Run() never ticked")
	}
}

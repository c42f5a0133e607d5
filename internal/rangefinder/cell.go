// Package rangefinder holds the latest downward distance reading and the
// readers that produce it.
package rangefinder

import (
	"sync/atomic"
	"time"
)

// NoReading is returned by Cell.Latest when there is no usable distance.
const NoReading = -1.0

// DefaultMaxAge is how long a distance stays valid without a new reading.
const DefaultMaxAge = 100 * time.Millisecond

type reading struct {
	cm float64
	at time.Time
}

// Cell is a single-slot handoff between a rangefinder reader and the control
// tick. Writers overwrite, readers get the latest value.
type Cell struct {
	latest atomic.Pointer[reading]
	maxAge time.Duration
	now    func() time.Time
}

// CellOption configures a Cell.
type CellOption func(*Cell)

// WithMaxAge sets how old a reading may be before Latest reports NoReading.
// Zero disables the staleness check.
func WithMaxAge(d time.Duration) CellOption {
	return func(c *Cell) {
		c.maxAge = d
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) CellOption {
	return func(c *Cell) {
		c.now = now
	}
}

// NewCell returns an empty cell.
func NewCell(opts ...CellOption) *Cell {
	c := &Cell{maxAge: DefaultMaxAge, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Store records a distance in centimetres. A negative value records a
// sensor timeout.
func (c *Cell) Store(cm float64) {
	c.latest.Store(&reading{cm: cm, at: c.now()})
}

// Latest returns the most recent distance in centimetres, or NoReading.
func (c *Cell) Latest() float64 {
	r := c.latest.Load()
	if r == nil || r.cm < 0 {
		return NoReading
	}
	if c.maxAge > 0 && c.now().Sub(r.at) > c.maxAge {
		return NoReading
	}
	return r.cm
}

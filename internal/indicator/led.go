// Package indicator drives on/off/blinking status LEDs.
package indicator

import (
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/roman-kulish/quadrotor-fc/internal/fsm"
)

// DefaultBlinkInterval is the time between toggles while blinking.
const DefaultBlinkInterval = 500 * time.Millisecond

// Mode is what the LED is asked to show.
type Mode uint8

const (
	Off Mode = iota
	On
	Blinking
)

func (m Mode) String() string {
	switch m {
	case Off:
		return "off"
	case On:
		return "on"
	case Blinking:
		return "blinking"
	default:
		return "Mode(" + strconv.Itoa(int(m)) + ")"
	}
}

// Pin is a binary output.
type Pin interface {
	Set(high bool) error
}

type ledState uint8

const (
	stateOff ledState = iota
	stateOn
	stateBlinkLit
	stateBlinkDark
)

type ledContext struct {
	pin      Pin
	interval time.Duration
	mode     Mode
	now      time.Time
	next     time.Time
	lit      bool
	err      error
}

func (c *ledContext) drive(high bool) {
	c.lit = high
	if err := c.pin.Set(high); err != nil {
		c.err = err
	}
}

// LED is one indicator. Set records the requested mode and Tick advances the
// underlying machine; the pin only changes inside Tick.
type LED struct {
	mu sync.Mutex
	c  *ledContext
	m  *fsm.Machine[ledState, *ledContext]
}

// NewLED returns an LED that starts dark.
func NewLED(pin Pin, interval time.Duration) (*LED, error) {
	if interval <= 0 {
		interval = DefaultBlinkInterval
	}
	c := &ledContext{pin: pin, interval: interval}

	wants := func(mode Mode) func(*ledContext) bool {
		return func(c *ledContext) bool { return c.mode == mode }
	}
	due := func(c *ledContext) bool {
		return c.mode == Blinking && !c.now.Before(c.next)
	}
	turnOn := func(c *ledContext) { c.drive(true) }
	turnOff := func(c *ledContext) { c.drive(false) }
	startBlink := func(c *ledContext) {
		c.next = c.now.Add(c.interval)
		c.drive(true)
	}
	toggle := func(lit bool) func(*ledContext) {
		return func(c *ledContext) {
			c.next = c.now.Add(c.interval)
			c.drive(lit)
		}
	}

	table := []fsm.Transition[ledState, *ledContext]{
		{From: stateOff, Guard: wants(On), To: stateOn, Action: turnOn},
		{From: stateOff, Guard: wants(Blinking), To: stateBlinkLit, Action: startBlink},
		{From: stateOff, Guard: fsm.Always[*ledContext], To: stateOff},

		{From: stateOn, Guard: wants(Off), To: stateOff, Action: turnOff},
		{From: stateOn, Guard: wants(Blinking), To: stateBlinkDark, Action: toggle(false)},
		{From: stateOn, Guard: fsm.Always[*ledContext], To: stateOn},

		{From: stateBlinkLit, Guard: wants(Off), To: stateOff, Action: turnOff},
		{From: stateBlinkLit, Guard: wants(On), To: stateOn},
		{From: stateBlinkLit, Guard: due, To: stateBlinkDark, Action: toggle(false)},
		{From: stateBlinkLit, Guard: fsm.Always[*ledContext], To: stateBlinkLit},

		{From: stateBlinkDark, Guard: wants(Off), To: stateOff},
		{From: stateBlinkDark, Guard: wants(On), To: stateOn, Action: turnOn},
		{From: stateBlinkDark, Guard: due, To: stateBlinkLit, Action: toggle(true)},
		{From: stateBlinkDark, Guard: fsm.Always[*ledContext], To: stateBlinkDark},
	}

	m, err := fsm.New(stateOff, c, table)
	if err != nil {
		return nil, fmt.Errorf("building led machine: %w", err)
	}
	if err = pin.Set(false); err != nil {
		return nil, fmt.Errorf("turning led off: %w", err)
	}
	return &LED{c: c, m: m}, nil
}

// Set requests a mode. It takes effect on the next Tick.
func (l *LED) Set(mode Mode) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.c.mode = mode
}

// Tick advances the LED to now and returns the last pin error, if any.
func (l *LED) Tick(now time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.c.now = now
	l.c.err = nil
	l.m.Fire()
	return l.c.err
}

// Mode returns the requested mode.
func (l *LED) Mode() Mode {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.c.mode
}

// Lit reports whether the pin is currently driven high.
func (l *LED) Lit() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.c.lit
}

// SysfsPin drives an LED class device through its brightness file, e.g.
// /sys/class/leds/led0/brightness.
type SysfsPin struct {
	path string
}

// NewSysfsPin returns a pin writing to path.
func NewSysfsPin(path string) *SysfsPin {
	return &SysfsPin{path: path}
}

func (p *SysfsPin) Set(high bool) error {
	v := []byte("0")
	if high {
		v = []byte("1")
	}
	if err := os.WriteFile(p.path, v, 0o644); err != nil {
		return fmt.Errorf("writing brightness: %w", err)
	}
	return nil
}

// NopPin discards writes.
type NopPin struct{}

func (NopPin) Set(bool) error { return nil }

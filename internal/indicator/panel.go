package indicator

import (
	"errors"
	"fmt"
	"time"
)

// Panel groups the three indicators the flight controller drives.
type Panel struct {
	Status  *LED
	Link    *LED
	Battery *LED
}

// NewPanel builds a panel on the given pins.
func NewPanel(status, link, battery Pin, interval time.Duration) (*Panel, error) {
	var (
		p   Panel
		err error
	)
	if p.Status, err = NewLED(status, interval); err != nil {
		return nil, fmt.Errorf("status led: %w", err)
	}
	if p.Link, err = NewLED(link, interval); err != nil {
		return nil, fmt.Errorf("link led: %w", err)
	}
	if p.Battery, err = NewLED(battery, interval); err != nil {
		return nil, fmt.Errorf("battery led: %w", err)
	}
	return &p, nil
}

// Tick advances every LED.
func (p *Panel) Tick(now time.Time) error {
	return errors.Join(
		p.Status.Tick(now),
		p.Link.Tick(now),
		p.Battery.Tick(now),
	)
}

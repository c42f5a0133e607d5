// Package i2cdev exposes a Linux /dev/i2c-N adapter as a bus usable by the
// TinyGo sensor drivers.
package i2cdev

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/exp/io/i2c"
	"golang.org/x/exp/io/i2c/driver"
)

// ErrClosed is returned for transactions on a closed bus.
var ErrClosed = errors.New("bus closed")

// Bus opens one device handle per target address on first use. It is safe
// for concurrent use; transactions are serialised.
type Bus struct {
	dev    string
	opener driver.Opener

	mu      sync.Mutex
	devices map[uint16]*i2c.Device
	closed  bool
}

// Open returns a bus on dev, for example "/dev/i2c-1". No file is opened
// until the first transaction.
func Open(dev string) *Bus {
	return OpenWith(dev, &i2c.Devfs{Dev: dev})
}

// OpenWith returns a bus that opens device handles through o. name only
// labels errors.
func OpenWith(name string, o driver.Opener) *Bus {
	return &Bus{
		dev:     name,
		opener:  o,
		devices: make(map[uint16]*i2c.Device),
	}
}

// Tx writes w to the device at addr and then reads len(r) bytes into r.
// Either slice may be empty.
func (b *Bus) Tx(addr uint16, w, r []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	d, err := b.device(addr)
	if err != nil {
		return err
	}
	if len(w) > 0 {
		if err = d.Write(w); err != nil {
			return fmt.Errorf("writing to 0x%02x on %s: %w", addr, b.dev, err)
		}
	}
	if len(r) > 0 {
		if err = d.Read(r); err != nil {
			return fmt.Errorf("reading from 0x%02x on %s: %w", addr, b.dev, err)
		}
	}
	return nil
}

// ReadRegister reads len(buf) bytes starting at reg.
func (b *Bus) ReadRegister(addr uint16, reg byte, buf []byte) error {
	return b.Tx(addr, []byte{reg}, buf)
}

// WriteRegister writes buf starting at reg.
func (b *Bus) WriteRegister(addr uint16, reg byte, buf []byte) error {
	return b.Tx(addr, append([]byte{reg}, buf...), nil)
}

func (b *Bus) device(addr uint16) (*i2c.Device, error) {
	if b.closed {
		return nil, ErrClosed
	}
	if d, ok := b.devices[addr]; ok {
		return d, nil
	}

	d, err := i2c.Open(b.opener, int(addr))
	if err != nil {
		return nil, fmt.Errorf("opening 0x%02x on %s: %w", addr, b.dev, err)
	}
	b.devices[addr] = d
	return d, nil
}

// Close closes every device handle.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var errs []error
	for addr, d := range b.devices {
		if err := d.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing 0x%02x: %w", addr, err))
		}
		delete(b.devices, addr)
	}
	b.closed = true
	return errors.Join(errs...)
}

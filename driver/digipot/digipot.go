// Package digipot drives an I2C digital potentiometer with 256 wiper taps
// spanning 325Ω to 100kΩ.
package digipot

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/oxplot/pdmux/driver"
)

// Resistance range and resolution of the potentiometer.
const (
	MaxResistance = 100000 // Ω
	MinResistance = 325    // Ω, wiper resistance
	Taps          = 256
)

// Commands
const (
	cmdVolatileWiper    = 0x11
	cmdNonVolatileWiper = 0x21
)

// Dev is a digital potentiometer on an I2C bus.
type Dev struct {
	bus  driver.I2C
	addr uint16
	tap  uint8

	// Buffer used for writes, defined once here instead to avoid heap
	// allocations in each call.
	buf [2]byte
}

// New returns a potentiometer at addr and sets it to full scale, which is the
// lowest current limit for a switch behind it.
func New(bus driver.I2C, addr uint16) (*Dev, error) {
	d := &Dev{bus: bus, addr: addr}
	if err := d.SetTap(Taps - 1); err != nil {
		return nil, err
	}
	return d, nil
}

// TapFor returns the wiper tap closest below ohms. Values above
// MaxResistance are clamped.
func TapFor(ohms uint32) uint8 {
	if ohms > MaxResistance {
		ohms = MaxResistance
	}
	if ohms <= MinResistance {
		return 0
	}
	return uint8((ohms - MinResistance) * Taps / MaxResistance)
}

// SetResistance selects the tap for ohms.
func (d *Dev) SetResistance(ohms uint32) error {
	return d.SetTap(TapFor(ohms))
}

// SetTap writes tap to the volatile wiper register.
func (d *Dev) SetTap(tap uint8) error {
	return d.write(cmdVolatileWiper, tap)
}

// Store writes tap to the non-volatile wiper register so it is restored on
// power up.
func (d *Dev) Store(tap uint8) error {
	return d.write(cmdNonVolatileWiper, tap)
}

func (d *Dev) write(cmd, tap uint8) error {
	d.buf[0] = cmd
	d.buf[1] = tap
	if err := d.bus.Tx(d.addr, d.buf[:], nil); err != nil {
		return errors.Wrapf(err, "digipot %#02x: write %#02x", d.addr, cmd)
	}
	if cmd == cmdVolatileWiper {
		d.tap = tap
	}
	return nil
}

// Tap returns the last tap written to the volatile wiper.
func (d *Dev) Tap() uint8 {
	return d.tap
}

func (d *Dev) String() string {
	return fmt.Sprintf("digipot@%#02x", d.addr)
}

// Package powerswitch drives a current limited load switch whose limit is
// set by a resistor, here a digital potentiometer.
package powerswitch

import (
	"github.com/pkg/errors"
	"periph.io/x/conn/v3/gpio"

	"github.com/oxplot/pdmux/driver"
)

const (
	currentLimitRatio = 90000000 // mA·Ω
	currentPad        = 1000     // mA added on top of the negotiated current

	// Limit resistor range accepted by the switch.
	MinResistance = 7000  // Ω
	MaxResistance = 70000 // Ω
)

// Resistor is the limit setting resistor.
type Resistor interface {
	SetResistance(ohms uint32) error
}

// ResistanceFor returns the limit resistance for a current of mA, padded and
// clamped to the range of the switch.
func ResistanceFor(mA uint32) uint32 {
	r := uint32(currentLimitRatio / (uint64(mA) + currentPad))
	if r < MinResistance {
		r = MinResistance
	}
	if r > MaxResistance {
		r = MaxResistance
	}
	return r
}

// Switch is one load switch. It implements the powermux Switch interface.
type Switch struct {
	en      driver.Pin
	res     Resistor
	current uint32
	enabled bool
}

// New returns a disabled switch enabled by pin en with its limit set by res.
func New(en driver.Pin, res Resistor) (*Switch, error) {
	s := &Switch{en: en, res: res}
	if err := s.SetEnabled(false); err != nil {
		return nil, err
	}
	return s, nil
}

// SetCurrentLimit sets the current limit to mA plus a margin.
func (s *Switch) SetCurrentLimit(mA uint32) error {
	if err := s.res.SetResistance(ResistanceFor(mA)); err != nil {
		return errors.Wrap(err, "set current limit")
	}
	s.current = mA
	return nil
}

// SetEnabled turns the switch on or off.
func (s *Switch) SetEnabled(on bool) error {
	if err := s.en.Out(gpio.Level(on)); err != nil {
		return errors.Wrap(err, "set switch")
	}
	s.enabled = on
	return nil
}

// CurrentLimit returns the last current limit set in mA, without margin.
func (s *Switch) CurrentLimit() uint32 {
	return s.current
}

// Enabled reports whether the switch is on.
func (s *Switch) Enabled() bool {
	return s.enabled
}

// Package dishy drives the 48V output stage feeding the dish: a boost
// converter, a load switch to the output and a sense switch used to detect
// a connected load.
package dishy

import (
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/gpio"

	"github.com/oxplot/pdmux"
	"github.com/oxplot/pdmux/driver"
)

// LoadMode is the configuration of the output switches.
type LoadMode uint8

// Load modes.
const (
	ModeUnknown  LoadMode = iota
	ModeDisabled          // load and sense switches open, boost off
	ModeSense             // boost off, sense switch closed
	ModeLoad              // boost on, load switch closed
)

func (m LoadMode) String() string {
	switch m {
	case ModeDisabled:
		return "disabled"
	case ModeSense:
		return "sense"
	case ModeLoad:
		return "load"
	default:
		return "unknown"
	}
}

// Pins of the output stage.
type Pins struct {
	Boost driver.Pin
	Load  driver.Pin
	Sense driver.Pin
}

// Output is the output stage. EnablePower and DisablePower only record the
// request; the pins change on the next Tick. It implements the powermux
// Output interface.
type Output struct {
	pins Pins
	log  logrus.FieldLogger

	enabled   atomic.Bool
	connected atomic.Bool
	mode      LoadMode
}

// New returns an output stage in unknown mode. The first Tick disables it.
func New(pins Pins, log logrus.FieldLogger) *Output {
	o := &Output{pins: pins, log: pdmux.OrDiscard(log).WithField("component", "output")}
	o.connected.Store(true)
	return o
}

// EnablePower requests the output on.
func (o *Output) EnablePower() {
	if !o.enabled.Swap(true) {
		o.log.Info("power enable")
	}
}

// DisablePower requests the output off.
func (o *Output) DisablePower() {
	if o.enabled.Swap(false) {
		o.log.Info("power disable")
	}
}

// Enabled reports whether the output was requested on.
func (o *Output) Enabled() bool {
	return o.enabled.Load()
}

// SetConnected records whether a load is detected on the output. An enabled
// output without a load stays in sense mode.
func (o *Output) SetConnected(c bool) {
	o.connected.Store(c)
}

// Mode returns the mode applied by the last Tick.
func (o *Output) Mode() LoadMode {
	return o.mode
}

// Tick applies the requested state to the pins.
func (o *Output) Tick() error {
	if !o.enabled.Load() {
		if err := o.setMode(ModeDisabled); err != nil {
			return err
		}
		return o.pins.Boost.Out(gpio.Low)
	}
	if o.connected.Load() {
		return o.setMode(ModeLoad)
	}
	return o.setMode(ModeSense)
}

func (o *Output) setMode(m LoadMode) error {
	if o.mode == m {
		return nil
	}
	var steps []step
	switch m {
	case ModeDisabled:
		steps = []step{{o.pins.Load, gpio.Low}, {o.pins.Sense, gpio.Low}}
	case ModeSense:
		steps = []step{{o.pins.Load, gpio.Low}, {o.pins.Boost, gpio.Low}, {o.pins.Sense, gpio.High}}
	case ModeLoad:
		steps = []step{{o.pins.Sense, gpio.Low}, {o.pins.Boost, gpio.High}, {o.pins.Load, gpio.High}}
	default:
		return errors.Errorf("dishy: bad mode %d", m)
	}
	for _, s := range steps {
		if err := s.pin.Out(s.l); err != nil {
			o.mode = ModeUnknown
			return errors.Wrapf(err, "set %s mode", m)
		}
	}
	o.log.WithField("mode", m).Info("load mode")
	o.mode = m
	return nil
}

// step is one pin change. Order matters: the boost never feeds the sense
// switch.
type step struct {
	pin driver.Pin
	l   gpio.Level
}

// Package statuslight drives an RGB indicator made of three LEDs.
package statuslight

import (
	"github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/gpio"

	"github.com/oxplot/pdmux"
	"github.com/oxplot/pdmux/driver"
)

// Light is an RGB light. It implements the powermux Indicator interface.
type Light struct {
	pins      [3]driver.Pin
	activeLow bool
	log       logrus.FieldLogger
	color     [3]bool
}

// New returns a light on the given pins. LEDs sunk by open drain outputs are
// lit by driving the pin low and need activeLow.
func New(red, green, blue driver.Pin, activeLow bool, log logrus.FieldLogger) *Light {
	return &Light{
		pins:      [3]driver.Pin{red, green, blue},
		activeLow: activeLow,
		log:       pdmux.OrDiscard(log),
	}
}

// SetColor lights the selected LEDs and turns the others off. Pin errors
// are logged.
func (l *Light) SetColor(r, g, b bool) {
	l.color = [3]bool{r, g, b}
	for i, on := range l.color {
		if l.pins[i] == nil {
			continue
		}
		if err := l.pins[i].Out(gpio.Level(on != l.activeLow)); err != nil {
			l.log.WithError(err).Warn("status light")
		}
	}
}

// Color returns the last color set.
func (l *Light) Color() (r, g, b bool) {
	return l.color[0], l.color[1], l.color[2]
}

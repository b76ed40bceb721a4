// Package driver defines the minimal hardware interfaces used by the output
// stage drivers, and virtual implementations of them for running without
// hardware.
//
// The interfaces are satisfied by periph.io buses and pins so that real
// hardware can be wired in directly.
package driver

import (
	"encoding/hex"
	"sync"

	"github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/gpio"

	"github.com/oxplot/pdmux"
)

// I2C defines a minimum interface to I2C hardware with a single Tx method
// which allows a single driver implementation to work across many different
// host platforms. periph.io i2c.Bus implements it.
type I2C interface {

	// Tx performs a write and then a read transfer placing the result in r. Tx
	// must be safe to call concurrently from multiple goroutines.
	//
	// Passing a nil value for w or r skips the transfer corresponding to write
	// or read, respectively.
	Tx(addr uint16, w, r []byte) error
}

// Pin is a digital output. periph.io gpio.PinOut implements it.
type Pin interface {
	Out(l gpio.Level) error
}

// VirtualBus is an I2C bus that logs writes and reads back zeros.
type VirtualBus struct {
	log logrus.FieldLogger
}

// NewVirtualBus returns a bus logging at debug level to log.
func NewVirtualBus(log logrus.FieldLogger) *VirtualBus {
	return &VirtualBus{log: pdmux.OrDiscard(log).WithField("bus", "virtual")}
}

// Tx implements I2C.
func (b *VirtualBus) Tx(addr uint16, w, r []byte) error {
	if len(w) > 0 {
		b.log.WithField("addr", addr).Debugf("i2c write %s", hex.EncodeToString(w))
	}
	for i := range r {
		r[i] = 0
	}
	return nil
}

// VirtualPin is an output pin that remembers and logs its level.
type VirtualPin struct {
	name string
	log  logrus.FieldLogger

	mu sync.Mutex
	l  gpio.Level
}

// NewVirtualPin returns a low pin named name.
func NewVirtualPin(name string, log logrus.FieldLogger) *VirtualPin {
	return &VirtualPin{name: name, log: pdmux.OrDiscard(log)}
}

// Out implements Pin.
func (p *VirtualPin) Out(l gpio.Level) error {
	p.mu.Lock()
	changed := p.l != l
	p.l = l
	p.mu.Unlock()
	if changed {
		p.log.WithField("pin", p.name).Debugf("pin %s", l)
	}
	return nil
}

// Read returns the last level written.
func (p *VirtualPin) Read() gpio.Level {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.l
}

func (p *VirtualPin) String() string {
	return p.name
}

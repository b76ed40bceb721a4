package board

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"github.com/oxplot/pdmux"
	"github.com/oxplot/pdmux/config"
	"github.com/oxplot/pdmux/driver"
	"github.com/oxplot/pdmux/driver/fusb302"
	"github.com/oxplot/pdmux/portctl"
)

// PHY is the physical layer of a port talking to a real source.
// fusb302.Dev implements it.
type PHY interface {
	portctl.Transport
	Poll(dst fusb302.Ingester) error
}

// Hardware is the set of buses and pins the board drives.
type Hardware struct {
	Bus   driver.I2C
	Ports [pdmux.NumPorts]struct {
		DigipotAddr uint16
		Switch      driver.Pin
		PHY         PHY // nil for a simulated port
	}
	Boost, Load, Sense driver.Pin
	Red, Green, Blue   driver.Pin
	ActiveLow          bool

	closer  i2c.BusCloser
	virtual map[string]*driver.VirtualPin
}

// Close releases the I2C bus.
func (h *Hardware) Close() error {
	if h.closer == nil {
		return nil
	}
	return h.closer.Close()
}

// VirtualHardware returns hardware made of logging virtual pins and a
// virtual bus, with the default digipot addresses.
func VirtualHardware(log logrus.FieldLogger) *Hardware {
	h := &Hardware{
		Bus:     driver.NewVirtualBus(log),
		virtual: make(map[string]*driver.VirtualPin),
	}
	pin := func(name string) driver.Pin {
		p := driver.NewVirtualPin(name, log)
		h.virtual[name] = p
		return p
	}
	def := config.Default().Hardware
	for i := range h.Ports {
		h.Ports[i].DigipotAddr = def.Ports[i].DigipotAddr
	}
	h.Ports[0].Switch = pin("switch-a")
	h.Ports[1].Switch = pin("switch-b")
	h.Boost = pin("boost")
	h.Load = pin("load")
	h.Sense = pin("sense")
	h.Red = pin("red")
	h.Green = pin("green")
	h.Blue = pin("blue")
	return h
}

// OpenHardware initializes the host drivers and opens the bus, the PHYs and
// the pins named in hw.
func OpenHardware(hw config.Hardware, log logrus.FieldLogger) (*Hardware, error) {
	log = pdmux.OrDiscard(log)
	if _, err := host.Init(); err != nil {
		return nil, errors.Wrap(err, "init host")
	}
	bus, err := i2creg.Open(hw.I2CBus)
	if err != nil {
		return nil, errors.Wrapf(err, "open i2c bus %q", hw.I2CBus)
	}
	h := &Hardware{Bus: bus, closer: bus, ActiveLow: hw.Light.ActiveLow}

	pin := func(name string, required bool) (driver.Pin, error) {
		if name == "" {
			if required {
				return nil, errors.New("missing pin name")
			}
			return nil, nil
		}
		p := gpioreg.ByName(name)
		if p == nil {
			return nil, errors.Errorf("no such pin %q", name)
		}
		if err := p.Out(gpio.Low); err != nil {
			return nil, errors.Wrapf(err, "pin %s", name)
		}
		return p, nil
	}

	fail := func(err error) (*Hardware, error) {
		bus.Close()
		return nil, err
	}
	for i, p := range hw.Ports {
		h.Ports[i].DigipotAddr = p.DigipotAddr
		if h.Ports[i].Switch, err = pin(p.SwitchPin, true); err != nil {
			return fail(err)
		}
		if p.PHY == "fusb302" {
			dev := fusb302.New(bus, fusb302.MPN(p.PHYAddr), log.WithField("port", pdmux.PortAt(i)))
			if err := dev.Init(); err != nil {
				return fail(errors.Wrapf(err, "port %v phy", pdmux.PortAt(i)))
			}
			h.Ports[i].PHY = dev
		}
	}
	outputs := []struct {
		name     string
		dst      *driver.Pin
		required bool
	}{
		{hw.Output.BoostPin, &h.Boost, true},
		{hw.Output.LoadPin, &h.Load, true},
		{hw.Output.SensePin, &h.Sense, true},
		{hw.Light.RedPin, &h.Red, false},
		{hw.Light.GreenPin, &h.Green, false},
		{hw.Light.BluePin, &h.Blue, false},
	}
	for _, o := range outputs {
		if *o.dst, err = pin(o.name, o.required); err != nil {
			return fail(err)
		}
	}
	return h, nil
}

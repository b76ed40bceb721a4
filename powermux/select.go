package powermux

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/oxplot/pdmux"
	"github.com/oxplot/pdmux/pdcap"
)

// Selector picks the capability to request from one source.
type Selector interface {
	// Validate returns an error if the selector parameters are invalid.
	Validate() error

	// Select returns the chosen capability and true, or false if none of caps
	// is acceptable.
	Select(port pdmux.PortID, caps pdcap.SourceCapabilities) (pdcap.SourceCapability, bool)
}

// SelectMaxPower returns the capability with the greatest max power. Ties go
// to the lowest index. Empty capabilities and capabilities at 0V are never
// chosen.
func SelectMaxPower(caps pdcap.SourceCapabilities) (pdcap.SourceCapability, bool) {
	return selectMax(caps, func(pdcap.SourceCapability) bool { return true })
}

func selectMax(caps pdcap.SourceCapabilities, accept func(pdcap.SourceCapability) bool) (pdcap.SourceCapability, bool) {
	var best pdcap.SourceCapability
	found := false
	for i := 0; i < caps.Count(); i++ {
		c := caps.At(i)
		if c.IsEmpty() || c.Voltage() == 0 || !accept(c) {
			continue
		}
		if !found || c.MaxPower() > best.MaxPower() {
			best, found = c, true
		}
	}
	return best, found
}

// MaxPower is the default selector. It picks the most powerful capability.
type MaxPower struct{}

// Validate returns nil.
func (MaxPower) Validate() error { return nil }

// Select implements Selector.
func (MaxPower) Select(_ pdmux.PortID, caps pdcap.SourceCapabilities) (pdcap.SourceCapability, bool) {
	return SelectMaxPower(caps)
}

var (
	errBadVoltage            = errors.New("powermux: voltage must be >= 3300mV & <= 21000mV")
	errMaxVoltageLessThanMin = errors.New("powermux: max voltage must be >= min voltage")
)

// VoltageRange picks the most powerful capability whose voltage lies within
// [MinVoltage, MaxVoltage]. It protects an output stage that cannot take the
// full PD voltage range.
type VoltageRange struct {

	// Minimum accepted voltage in millivolts.
	MinVoltage uint32

	// Maximum accepted voltage in millivolts.
	MaxVoltage uint32
}

// Validate returns an error if the range is invalid.
func (r VoltageRange) Validate() error {
	if r.MinVoltage < 3300 || r.MaxVoltage < 3300 || r.MinVoltage > 21000 || r.MaxVoltage > 21000 {
		return errBadVoltage
	}
	if r.MinVoltage > r.MaxVoltage {
		return errMaxVoltageLessThanMin
	}
	return nil
}

// Select implements Selector.
func (r VoltageRange) Select(_ pdmux.PortID, caps pdcap.SourceCapabilities) (pdcap.SourceCapability, bool) {
	return selectMax(caps, func(c pdcap.SourceCapability) bool {
		return c.Voltage() >= r.MinVoltage && c.Voltage() <= r.MaxVoltage
	})
}

// Logger is a passthrough selector that logs every advertisement it is asked
// to choose from. It's mostly used for debugging purposes.
type Logger struct {
	log  logrus.FieldLogger
	base Selector
}

// NewLogger creates a selector logging to log at info level and passing the
// choice down to base. A nil base selects MaxPower.
func NewLogger(log logrus.FieldLogger, base Selector) *Logger {
	if base == nil {
		base = MaxPower{}
	}
	return &Logger{log: pdmux.OrDiscard(log), base: base}
}

// Validate returns the validation result of the underlying selector.
func (l *Logger) Validate() error {
	return l.base.Validate()
}

// Select writes out the textual description of caps and returns the choice
// of the underlying selector.
func (l *Logger) Select(port pdmux.PortID, caps pdcap.SourceCapabilities) (pdcap.SourceCapability, bool) {
	log := l.log.WithField("port", port)
	log.Infof("received %d profiles", caps.Count())
	for _, c := range caps.Caps() {
		log.Infof("  %s", c)
	}
	c, ok := l.base.Select(port, caps)
	if ok {
		log.Infof("selected %s", c)
	} else {
		log.Info("no acceptable profile")
	}
	return c, ok
}

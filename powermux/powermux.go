// Package powermux implements the arbiter that combines up to two USB PD
// sources into one output rail. It listens to the events of the port
// controllers, decides which capability to request on each port and gates
// the output on the negotiated contracts.
package powermux

import (
	"strings"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/oxplot/pdmux"
	"github.com/oxplot/pdmux/pdcap"
)

// DefaultRequiredPowerMW is the power the output stage needs before it may be
// enabled.
const DefaultRequiredPowerMW = 93000

// Switch is the load switch between one port and the shared rail.
type Switch interface {
	SetCurrentLimit(mA uint32) error
	SetEnabled(on bool) error
}

// Output is the shared output stage.
type Output interface {
	EnablePower()
	DisablePower()
}

// Indicator shows the arbiter status, normally on an RGB light.
type Indicator interface {
	SetColor(r, g, b bool)
}

// Strategy decides how two connected sources are negotiated.
type Strategy uint8

// Arbitration strategies.
const (
	// StrategyLoadBalance requests half of the required power from each of
	// two sources at the same voltage.
	StrategyLoadBalance Strategy = iota

	// StrategySequential negotiates the most powerful capability on port A
	// and then on port B.
	StrategySequential
)

var errUnknownStrategy = errors.New("powermux: unknown strategy")

func (s Strategy) String() string {
	switch s {
	case StrategyLoadBalance:
		return "load-balance"
	case StrategySequential:
		return "sequential"
	default:
		return "INVALID"
	}
}

// ParseStrategy returns the strategy named s.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "load-balance", "loadbalance":
		return StrategyLoadBalance, nil
	case "sequential":
		return StrategySequential, nil
	}
	return 0, errors.Wrapf(errUnknownStrategy, "%q", s)
}

// Config holds the arbiter parameters.
type Config struct {
	RequiredPowerMW uint32
	Strategy        Strategy

	// Selector picks the capability on each port. Nil selects MaxPower.
	Selector Selector
}

// DefaultConfig returns the configuration of the reference hardware.
func DefaultConfig() Config {
	return Config{
		RequiredPowerMW: DefaultRequiredPowerMW,
		Strategy:        StrategyLoadBalance,
		Selector:        MaxPower{},
	}
}

// Port couples a controller with the switch connecting it to the rail.
type Port struct {
	Controller pdmux.Controller
	Switch     Switch
}

// record is what the arbiter knows about one port.
type record struct {
	selected  pdcap.SourceCapability
	requested uint32 // mW of the last request
	accepted  bool
	ready     bool
	inFlight  bool
}

// Mux is the power mux arbiter. It is driven by controller events and must
// only be used from the goroutine polling the controllers. Status is safe to
// call from anywhere.
type Mux struct {
	cfg   Config
	log   logrus.FieldLogger
	ports [pdmux.NumPorts]Port
	recs  [pdmux.NumPorts]record
	out   Output
	light Indicator

	enabled      bool
	incompatible bool
	faulted      bool // a reset happened and no source got ready since

	status atomic.Pointer[Status]
}

// New creates an arbiter over ports and registers it as the event sink of
// their controllers. Ports are slotted by their controller's PortID.
func New(cfg Config, out Output, log logrus.FieldLogger, ports ...Port) (*Mux, error) {
	if cfg.RequiredPowerMW == 0 {
		return nil, errors.New("powermux: required power must be > 0")
	}
	if cfg.Selector == nil {
		cfg.Selector = MaxPower{}
	}
	if err := cfg.Selector.Validate(); err != nil {
		return nil, err
	}
	if out == nil {
		return nil, errors.New("powermux: nil output")
	}
	m := &Mux{
		cfg: cfg,
		log: pdmux.OrDiscard(log),
		out: out,
	}
	for _, p := range ports {
		if p.Controller == nil || p.Switch == nil {
			return nil, errors.New("powermux: port needs a controller and a switch")
		}
		i := p.Controller.Port().Index()
		if i < 0 {
			return nil, errors.Errorf("powermux: bad port %v", p.Controller.Port())
		}
		if m.ports[i].Controller != nil {
			return nil, errors.Errorf("powermux: port %v given twice", p.Controller.Port())
		}
		m.ports[i] = p
		p.Controller.SetEventSink(m)
	}
	m.publish()
	return m, nil
}

// SetIndicator sets the status indicator. Nil removes it.
func (m *Mux) SetIndicator(i Indicator) {
	m.light = i
	m.updateLight()
}

// HandleEvent implements pdmux.EventSink.
func (m *Mux) HandleEvent(e pdmux.Event) {
	i := e.Port.Index()
	if i < 0 || m.ports[i].Controller == nil {
		m.log.WithField("port", e.Port).Warn("event from unknown port")
		return
	}
	r := &m.recs[i]
	log := m.log.WithFields(logrus.Fields{"port": e.Port, "event": e.Kind})
	log.Debug("event")

	switch e.Kind {
	case pdmux.EventGoToMinReceived:
		// The source is about to drop to its minimum. The contract stands, so
		// stay off until the source reports its supply ready again.
		r.ready = false
		m.disableAll()
		m.publish()
		return
	case pdmux.EventAcceptReceived:
		r.accepted = true
	case pdmux.EventRejectReceived:
		r.accepted = false
		r.inFlight = false
		r.selected = pdcap.SourceCapability{}
		r.requested = 0
	case pdmux.EventPSReadyReceived:
		r.ready = true
		r.inFlight = false
		m.faulted = false
		m.selectSupplies()
	case pdmux.EventResetReceived, pdmux.EventControllerDisconnected:
		m.faulted = true
		m.resetPort(i)
		m.selectSupplies()
	case pdmux.EventCapabilitiesReceived:
		// Some sources with multiple ports re-advertise when another port is
		// plugged. The old contract is gone.
		if r.accepted || r.ready {
			log.Info("source renegotiating")
			m.resetPort(i)
		}
		m.selectSupplies()
	default:
		log.Warn("unknown event")
		return
	}

	m.checkOutput()
	m.publish()
}

// activeSupplies returns the slots whose controller holds capabilities.
func (m *Mux) activeSupplies() []int {
	var act []int
	for i, p := range m.ports {
		if p.Controller != nil && !p.Controller.Capabilities().Empty() {
			act = append(act, i)
		}
	}
	return act
}

func (m *Mux) selectSupplies() {
	act := m.activeSupplies()
	m.incompatible = false
	switch {
	case len(act) == 1:
		m.selectSingle(act[0])
	case len(act) == 2 && m.cfg.Strategy == StrategySequential:
		m.selectSequential()
	case len(act) == 2:
		m.selectBalanced()
	}
}

func (m *Mux) choose(i int) (pdcap.SourceCapability, bool) {
	p := m.ports[i]
	return m.cfg.Selector.Select(p.Controller.Port(), p.Controller.Capabilities())
}

// selectSingle requests the best capability of the only connected source. A
// port left with a partial contract from load balancing is renegotiated.
func (m *Mux) selectSingle(i int) {
	r := &m.recs[i]
	if r.inFlight {
		return
	}
	c, ok := m.choose(i)
	if !ok {
		m.log.WithField("port", pdmux.PortAt(i)).Warn("no acceptable capability")
		return
	}
	if r.ready && r.selected == c && r.requested == c.MaxPower() {
		return
	}
	m.request(i, c, c.MaxPower())
}

func (m *Mux) selectBalanced() {
	var caps [pdmux.NumPorts]pdcap.SourceCapability
	for i := range caps {
		c, ok := m.choose(i)
		if !ok {
			m.log.WithField("port", pdmux.PortAt(i)).Warn("no acceptable capability")
			return
		}
		caps[i] = c
	}
	if caps[0].Voltage() != caps[1].Voltage() {
		m.incompatible = true
		m.log.WithFields(logrus.Fields{
			"a": caps[0].Voltage(),
			"b": caps[1].Voltage(),
		}).Warn("incompatible supply voltages")
		return
	}
	target := m.cfg.RequiredPowerMW / 2
	for i, c := range caps {
		if len(m.activeSupplies()) != len(caps) {
			return
		}
		r := &m.recs[i]
		power := target
		if c.MaxPower() < power {
			power = c.MaxPower()
		}
		if r.inFlight || (r.ready && r.selected == c && r.requested == power) {
			continue
		}
		m.request(i, c, power)
	}
}

// selectSequential negotiates port A first and port B once A is ready.
func (m *Mux) selectSequential() {
	for i := range m.recs {
		r := &m.recs[i]
		if r.inFlight {
			return
		}
		if r.ready {
			continue
		}
		c, ok := m.choose(i)
		if !ok {
			continue
		}
		m.request(i, c, c.MaxPower())
		return
	}
}

func (m *Mux) request(i int, c pdcap.SourceCapability, power uint32) {
	r := &m.recs[i]
	r.selected = c
	r.requested = power
	r.accepted = false
	r.ready = false
	r.inFlight = true
	m.log.WithFields(logrus.Fields{
		"port":    pdmux.PortAt(i),
		"cap":     c,
		"powerMW": power,
	}).Info("requesting capability")
	// A failed transmit makes the controller hard reset the port, which
	// delivers ResetReceived to HandleEvent before this call returns. That
	// nested event clears the record and runs selection again while the
	// caller may still hold choices made before it. Callers stop once the
	// set of active supplies changed and skip in-flight ports, so no stale
	// choice is requested.
	if err := m.ports[i].Controller.RequestCapabilityPower(c, power); err != nil {
		m.log.WithError(err).WithField("port", pdmux.PortAt(i)).Error("request failed")
		r.inFlight = false
	}
}

// resetPort forgets everything about slot i and turns the output off.
func (m *Mux) resetPort(i int) {
	m.recs[i] = record{}
	m.setSwitch(i, false)
	if m.enabled {
		m.log.Info("output disabled")
	}
	m.enabled = false
	m.out.DisablePower()
	m.updateLight()
}

// checkOutput enables the output when the contracts cover the required
// power and disables it otherwise.
func (m *Mux) checkOutput() {
	act := m.activeSupplies()
	var on []int
	switch len(act) {
	case 1:
		r := m.recs[act[0]]
		if r.accepted && r.ready && r.selected.MaxPower() >= m.cfg.RequiredPowerMW {
			on = act
		}
	case 2:
		a, b := m.recs[0], m.recs[1]
		if a.accepted && b.accepted && a.ready && b.ready &&
			a.selected.MaxPower()+b.selected.MaxPower() > m.cfg.RequiredPowerMW &&
			a.selected.Voltage() == b.selected.Voltage() {
			on = act
		}
	}
	if len(on) == 0 {
		m.disableAll()
		return
	}
	for _, i := range on {
		r := m.recs[i]
		if r.selected.Voltage() == 0 {
			m.log.WithField("port", pdmux.PortAt(i)).Error("selected capability has no voltage")
			m.disableAll()
			return
		}
		limit := r.requested * 1000 / r.selected.Voltage()
		if err := m.ports[i].Switch.SetCurrentLimit(limit); err != nil {
			m.log.WithError(err).WithField("port", pdmux.PortAt(i)).Error("set current limit")
			m.disableAll()
			return
		}
		m.setSwitch(i, true)
	}
	if !m.enabled {
		m.log.WithField("availableMW", m.availablePower()).Info("output enabled")
	}
	m.enabled = true
	m.out.EnablePower()
	m.updateLight()
}

func (m *Mux) disableAll() {
	for i := range m.ports {
		m.setSwitch(i, false)
	}
	if m.enabled {
		m.log.Info("output disabled")
	}
	m.enabled = false
	m.out.DisablePower()
	m.updateLight()
}

func (m *Mux) setSwitch(i int, on bool) {
	s := m.ports[i].Switch
	if s == nil {
		return
	}
	if err := s.SetEnabled(on); err != nil {
		m.log.WithError(err).WithField("port", pdmux.PortAt(i)).Error("set switch")
	}
}

func (m *Mux) updateLight() {
	if m.light == nil {
		return
	}
	switch {
	case m.enabled:
		m.light.SetColor(false, true, false)
	case m.faulted:
		m.light.SetColor(true, false, false)
	default:
		m.light.SetColor(true, true, false)
	}
}

func (m *Mux) availablePower() uint32 {
	var p uint32
	for _, r := range m.recs {
		p += r.selected.MaxPower()
	}
	return p
}

// OutputEnabled reports whether the output is on.
func (m *Mux) OutputEnabled() bool {
	return m.enabled
}

// Package simsrc simulates a USB PD source on the far end of a port. It
// implements the transport of a port controller and answers its messages the
// way a compliant charger would, which makes it possible to run the whole
// sink without hardware.
package simsrc

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/oxplot/pdmux"
	"github.com/oxplot/pdmux/pdmsg"
	"github.com/oxplot/pdmux/portctl"
)

// ErrNotAttached is returned by Transmit when no source is plugged: nobody
// acknowledges the frame.
var ErrNotAttached = errors.New("simsrc: not attached")

// ErrNoContract is returned by GoToMin and Restore when no contract is in
// place.
var ErrNoContract = errors.New("simsrc: no contract")

// Ingester receives the signals of the simulated line. portctl.Controller
// implements it.
type Ingester interface {
	Ingest(portctl.Signal) error
}

// Options tweak the behavior of the source.
type Options struct {
	// RejectRequests makes the source reject every request.
	RejectRequests bool

	// Unresponsive makes the source acknowledge frames but never advertise
	// or answer.
	Unresponsive bool
}

// Source is a simulated power source.
type Source struct {
	log  logrus.FieldLogger
	opts Options

	mu         sync.Mutex
	target     Ingester
	pdos       []pdmsg.PDO
	attached   bool
	nextID     uint8
	contract   pdmsg.RequestDO
	requests   int
	hardResets int
}

// New returns an unplugged source advertising pdos.
func New(pdos []pdmsg.PDO, opts Options, log logrus.FieldLogger) *Source {
	return &Source{
		log:  pdmux.OrDiscard(log).WithField("component", "simsrc"),
		opts: opts,
		pdos: append([]pdmsg.PDO(nil), pdos...),
	}
}

// Connect sets the receiver of the line signals.
func (s *Source) Connect(target Ingester) {
	s.mu.Lock()
	s.target = target
	s.mu.Unlock()
}

// Plug attaches the source and advertises its capabilities.
func (s *Source) Plug() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.target == nil {
		return errors.New("simsrc: not connected")
	}
	s.attached = true
	s.nextID = 0
	s.contract = 0
	s.log.Info("plugged")
	if err := s.target.Ingest(portctl.Signal{Kind: portctl.SignalAttached}); err != nil {
		return err
	}
	return s.advertise()
}

// Unplug detaches the source.
func (s *Source) Unplug() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.attached {
		return nil
	}
	s.attached = false
	s.contract = 0
	s.log.Info("unplugged")
	return s.target.Ingest(portctl.Signal{Kind: portctl.SignalDetached})
}

// Readvertise replaces the capabilities and advertises them, as a charger
// does when another of its ports is plugged.
func (s *Source) Readvertise(pdos []pdmsg.PDO) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pdos = append(s.pdos[:0], pdos...)
	s.contract = 0
	if !s.attached {
		return nil
	}
	return s.advertise()
}

// HardReset signals a hard reset from the source side and advertises again.
func (s *Source) HardReset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.attached {
		return ErrNotAttached
	}
	s.nextID = 0
	s.contract = 0
	if err := s.target.Ingest(portctl.Signal{Kind: portctl.SignalHardReset}); err != nil {
		return err
	}
	return s.advertise()
}

// GoToMin tells the sink to drop to its minimum current. The contract
// stands.
func (s *Source) GoToMin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.attached || s.contract == 0 {
		return ErrNoContract
	}
	return s.send(pdmsg.TypeGotoMin)
}

// Restore reports the supply back at the contract level after GoToMin.
func (s *Source) Restore() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.attached || s.contract == 0 {
		return ErrNoContract
	}
	return s.send(pdmsg.TypePSReady)
}

// Contract returns the request data object of the contract in place.
func (s *Source) Contract() (pdmsg.RequestDO, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.contract, s.contract != 0
}

// Requests returns the number of requests received.
func (s *Source) Requests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

// HardResets returns the number of hard resets signaled by the sink.
func (s *Source) HardResets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hardResets
}

// Transmit implements portctl.Transport.
func (s *Source) Transmit(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.attached {
		return ErrNotAttached
	}
	m, err := pdmsg.Parse(frame)
	if err != nil {
		return errors.Wrap(err, "simsrc")
	}
	h := m.Header
	if !h.IsData() && h.Type() == pdmsg.TypeGoodCRC {
		return nil
	}
	s.log.WithField("msg", h.Name()).Debug("received")
	if s.opts.Unresponsive {
		return nil
	}

	if h.IsData() {
		if h.Type() == pdmsg.TypeRequest {
			s.requests++
			return s.evaluate(pdmsg.RequestDO(m.Data[0]))
		}
		return nil
	}

	switch h.Type() {
	case pdmsg.TypeGetSourceCap:
		return s.advertise()
	case pdmsg.TypeSoftReset:
		s.nextID = 0
		s.contract = 0
		if err := s.send(pdmsg.TypeAccept); err != nil {
			return err
		}
		return s.advertise()
	}
	return nil
}

// SendHardReset implements portctl.Transport. The source resets and then
// advertises again.
func (s *Source) SendHardReset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hardResets++
	if !s.attached {
		return nil
	}
	s.nextID = 0
	s.contract = 0
	if s.opts.Unresponsive {
		return nil
	}
	return s.advertise()
}

// evaluate accepts rdo if it fits the advertised object it points at.
func (s *Source) evaluate(rdo pdmsg.RequestDO) error {
	if s.opts.RejectRequests || !s.fits(rdo) {
		s.log.WithField("rdo", rdo).Info("request rejected")
		return s.send(pdmsg.TypeReject)
	}
	if err := s.send(pdmsg.TypeAccept); err != nil {
		return err
	}
	s.contract = rdo
	return s.send(pdmsg.TypePSReady)
}

func (s *Source) fits(rdo pdmsg.RequestDO) bool {
	pos := int(rdo.SelectedObjectPosition())
	if pos < 1 || pos > len(s.pdos) || pos > pdmsg.MaxDataObjects {
		return false
	}
	p := s.pdos[pos-1]
	switch p.Type() {
	case pdmsg.SupplyFixed:
		return rdo.FixedOperatingCurrent() <= pdmsg.FixedSupplyPDO(p).MaxCurrent()
	case pdmsg.SupplyVariable:
		return rdo.FixedOperatingCurrent() <= pdmsg.VariablePDO(p).MaxCurrent()
	case pdmsg.SupplyBattery:
		return rdo.BatteryOperatingPower() <= pdmsg.BatteryPDO(p).MaxPower()
	}
	return false
}

func (s *Source) advertise() error {
	if s.opts.Unresponsive {
		return nil
	}
	n := len(s.pdos)
	if n > pdmsg.MaxDataObjects {
		n = pdmsg.MaxDataObjects
	}
	m := pdmsg.Message{Header: s.header(pdmsg.TypeSourceCap, uint8(n))}
	for i := 0; i < n; i++ {
		m.Data[i] = uint32(s.pdos[i])
	}
	return s.push(m)
}

func (s *Source) send(t pdmsg.Type) error {
	return s.push(pdmsg.Message{Header: s.header(t, 0)})
}

func (s *Source) header(t pdmsg.Type, count uint8) pdmsg.Header {
	h := pdmsg.NewHeader(t, s.nextID, count)
	h.SetPowerRole(pdmsg.PowerRoleSource)
	h.SetDataRole(pdmsg.DataRoleDFP)
	s.nextID = (s.nextID + 1) % 8
	return h
}

func (s *Source) push(m pdmsg.Message) error {
	return s.target.Ingest(portctl.FrameSignal(m.Bytes()))
}

// Package portctl implements the sink side protocol state machine of one
// USB Power Delivery port. It consumes frames and line signals pushed by a
// producer (a PHY driver or a simulated source), acknowledges and interprets
// them, drives the capability negotiation and reports events to a single
// sink, normally the power mux arbiter.
//
// All processing happens in Tick which must be called periodically from one
// goroutine. Ingest is the only method safe to call from elsewhere.
package portctl

import (
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/oxplot/pdmux"
	"github.com/oxplot/pdmux/mstime"
	"github.com/oxplot/pdmux/pdcap"
	"github.com/oxplot/pdmux/pdmsg"
	"github.com/oxplot/pdmux/queue"
)

var (
	// ErrQueueFull is returned by Ingest when the signal queue has no room.
	ErrQueueFull = errors.New("portctl: signal queue full")

	// ErrNoCapability is returned when requesting an empty capability.
	ErrNoCapability = errors.New("portctl: empty capability")
)

// noRxID is an impossible message id meaning no message was received yet.
const noRxID = 8

// Transport puts frames on the wire of one port.
type Transport interface {
	// Transmit sends a complete message frame. It returns an error if the
	// frame could not be delivered, e.g. no GoodCRC arrived from the peer.
	Transmit(frame []byte) error

	// SendHardReset signals a hard reset on the line.
	SendHardReset() error
}

// SignalKind is the kind of input pushed into a controller.
type SignalKind uint8

// Signal kinds.
const (
	SignalFrame SignalKind = iota + 1
	SignalHardReset
	SignalAttached
	SignalDetached
)

func (k SignalKind) String() string {
	switch k {
	case SignalFrame:
		return "frame"
	case SignalHardReset:
		return "hard-reset"
	case SignalAttached:
		return "attached"
	case SignalDetached:
		return "detached"
	default:
		return "INVALID"
	}
}

// Signal is one unit of input. Frames are copied into the signal so the
// producer may reuse its buffer.
type Signal struct {
	Kind  SignalKind
	Size  uint8
	Frame [pdmsg.MaxFrameBytes]byte
}

// FrameSignal returns a frame signal holding a copy of b. Bytes beyond
// pdmsg.MaxFrameBytes are dropped.
func FrameSignal(b []byte) Signal {
	s := Signal{Kind: SignalFrame}
	s.Size = uint8(copy(s.Frame[:], b))
	return s
}

// Bytes returns the frame carried by the signal.
func (s *Signal) Bytes() []byte {
	return s.Frame[:s.Size]
}

// Config holds the protocol timing and buffering of a controller.
type Config struct {
	// CapsRequestDelay is how long an attached port waits for unsolicited
	// capabilities before sending Get_Source_Cap.
	CapsRequestDelay time.Duration

	// ResponseTimeout bounds the wait for capabilities or for the answer to a
	// request.
	ResponseTimeout time.Duration

	// PSTransitionTimeout bounds the wait for PS_RDY after an Accept.
	PSTransitionTimeout time.Duration

	// TxRetries is the number of retransmissions of a failed frame before
	// the port is hard reset.
	TxRetries int

	// QueueSize is the declared size of the signal ring. It holds
	// QueueSize-1 signals.
	QueueSize int
}

// DefaultConfig returns the timing used by the reference hardware.
func DefaultConfig() Config {
	return Config{
		CapsRequestDelay:    100 * time.Millisecond,
		ResponseTimeout:     200 * time.Millisecond,
		PSTransitionTimeout: 550 * time.Millisecond,
		TxRetries:           2,
		QueueSize:           16,
	}
}

// Controller is the protocol state machine of a single port. It implements
// pdmux.Controller.
type Controller struct {
	port  pdmux.PortID
	tr    Transport
	clock mstime.Clock
	log   logrus.FieldLogger
	sink  pdmux.EventSink

	signals *queue.Ring[Signal]
	dropped atomic.Uint32

	state *state
	caps  pdcap.SourceCapabilities

	attached bool
	nextTxID uint8
	lastRxID uint8
	retries  int
	// consecutive response timeouts since capabilities were last received
	timeouts int

	capsDelay       uint32
	responseTimeout uint32
	psTransition    uint32

	capsTimer     mstime.Timer
	responseTimer mstime.Timer
	psTimer       mstime.Timer
}

// New creates a controller for port sending through tr. A nil log discards
// all logging.
func New(port pdmux.PortID, tr Transport, clock mstime.Clock, cfg Config, log logrus.FieldLogger) *Controller {
	if cfg.TxRetries < 0 {
		cfg.TxRetries = 0
	}
	c := &Controller{
		port:            port,
		tr:              tr,
		clock:           clock,
		log:             pdmux.OrDiscard(log).WithField("port", port),
		signals:         queue.New[Signal](cfg.QueueSize),
		state:           stateUnknown,
		lastRxID:        noRxID,
		retries:         cfg.TxRetries,
		capsDelay:       mstime.ToMillis(cfg.CapsRequestDelay),
		responseTimeout: mstime.ToMillis(cfg.ResponseTimeout),
		psTransition:    mstime.ToMillis(cfg.PSTransitionTimeout),
	}
	return c
}

// Port implements pdmux.Controller.
func (c *Controller) Port() pdmux.PortID {
	return c.port
}

// State returns the current protocol state.
func (c *Controller) State() State {
	return c.state.ID
}

// Attached reports whether a source is attached to the port.
func (c *Controller) Attached() bool {
	return c.attached
}

// Capabilities implements pdmux.Controller.
func (c *Controller) Capabilities() pdcap.SourceCapabilities {
	return c.caps
}

// SetEventSink implements pdmux.Controller.
func (c *Controller) SetEventSink(s pdmux.EventSink) {
	c.sink = s
}

// Dropped returns the number of signals lost to a full queue.
func (c *Controller) Dropped() uint32 {
	return c.dropped.Load()
}

// Ingest queues s for the next Tick. It never blocks and may be called from
// one producer goroutine concurrently with Tick.
func (c *Controller) Ingest(s Signal) error {
	if !c.signals.Push(s) {
		c.dropped.Add(1)
		return ErrQueueFull
	}
	return nil
}

// Tick processes the signals queued when it was called and then checks the
// protocol timers.
func (c *Controller) Tick() {
	for n := c.signals.Len(); n > 0; n-- {
		s, ok := c.signals.Pop()
		if !ok {
			break
		}
		c.handleSignal(&s)
	}
	c.checkTimers()
}

func (c *Controller) handleSignal(s *Signal) {
	switch s.Kind {
	case SignalAttached:
		c.attached = true
		c.log.Info("source attached")
		if c.state == stateUnknown {
			c.enter(stateInit)
		}
	case SignalDetached:
		c.attached = false
		c.log.Info("source detached")
		c.nextTxID = 0
		c.lastRxID = noRxID
		c.timeouts = 0
		c.caps = pdcap.SourceCapabilities{}
		c.enter(stateUnknown)
		c.emit(pdmux.EventControllerDisconnected)
	case SignalHardReset:
		c.log.Warn("hard reset received")
		c.reset()
	case SignalFrame:
		c.handleFrame(s.Bytes())
	default:
		c.log.WithField("kind", s.Kind).Warn("unknown signal dropped")
	}
}

func (c *Controller) checkTimers() {
	now := c.clock.Millis()

	if c.capsTimer.Expired(now) {
		switch c.state {
		case stateInit:
			c.enter(stateCapsWait)
		case stateUnknown:
			if c.attached {
				c.enter(stateCapsWait)
			}
		case stateFault:
			_ = c.SendHardReset()
		}
	}

	if c.responseTimer.Expired(now) && (c.state == stateCapsWait || c.state == stateNeedResp) {
		c.timeouts++
		if c.timeouts >= 2 {
			c.log.WithField("state", c.state.Name).Warn("no response from source, hard reset")
			_ = c.SendHardReset()
			return
		}
		c.log.WithField("state", c.state.Name).Warn("no response from source, soft reset")
		if err := c.sendControl(pdmsg.TypeSoftReset); err != nil {
			return
		}
		c.nextTxID = 0
		c.lastRxID = noRxID
		c.caps = pdcap.SourceCapabilities{}
		c.enter(stateUnknown)
		c.emit(pdmux.EventResetReceived)
	}

	if c.psTimer.Expired(now) && c.state == stateAccepted {
		c.log.Warn("no PS_RDY from source, hard reset")
		_ = c.SendHardReset()
	}
}

func (c *Controller) handleFrame(b []byte) {
	m, err := pdmsg.Parse(b)
	if err != nil {
		c.log.WithError(err).Debug("dropping frame")
		return
	}
	h := m.Header

	if !h.IsData() && h.Type() == pdmsg.TypeGoodCRC {
		c.log.WithField("id", h.ID()).Trace("GoodCRC received")
		if c.state != stateNeedResp {
			c.responseTimer.Stop()
		}
		return
	}

	// Acknowledge with the peer's id. This does not consume a local id.
	if err := c.transmit(pdmsg.EncodeControl(pdmsg.TypeGoodCRC, h.ID())); err != nil {
		return
	}

	if h.ID() == c.lastRxID {
		c.log.WithField("msg", h.Name()).Debug("duplicate message ignored")
		return
	}
	c.lastRxID = h.ID()

	c.log.WithFields(logrus.Fields{"msg": h.Name(), "state": c.state.Name}).Debug("message received")

	if h.IsData() {
		c.handleData(m)
	} else {
		c.handleControl(h.Type())
	}
}

func (c *Controller) handleData(m pdmsg.Message) {
	switch m.Header.Type() {
	case pdmsg.TypeSourceCap:
		c.caps = pdcap.FromPDOs(m.PDOs())
		c.timeouts = 0
		c.responseTimer.Stop()
		c.enter(stateNeedResp)
		c.log.WithField("count", c.caps.Count()).Info("source capabilities received")
		c.emit(pdmux.EventCapabilitiesReceived)
	case pdmsg.TypeVendorDefined:
		_ = c.sendControl(pdmsg.TypeReject)
	default:
		c.log.WithField("msg", m.Header.Name()).Debug("data message ignored")
	}
}

func (c *Controller) handleControl(t pdmsg.Type) {
	switch t {
	case pdmsg.TypeAccept:
		if c.state != stateCapsWait && c.state != stateNeedResp {
			c.violation(t)
			return
		}
		c.enter(stateAccepted)
		c.emit(pdmux.EventAcceptReceived)
	case pdmsg.TypeReject:
		if c.state != stateCapsWait && c.state != stateNeedResp {
			c.violation(t)
			return
		}
		c.enter(stateRejected)
		c.emit(pdmux.EventRejectReceived)
	case pdmsg.TypeWait:
		if c.state != stateNeedResp {
			c.violation(t)
			return
		}
		// The source asks to try later. The arbiter treats this as a reject
		// and requests again on the next advertisement.
		c.enter(stateUnknown)
		c.emit(pdmux.EventRejectReceived)
	case pdmsg.TypePSReady:
		// A source in a contract sends PS_RDY again after GotoMin once its
		// supply is back at the contract level.
		if c.state != stateAccepted && c.state != statePsRdy {
			c.violation(t)
			return
		}
		c.enter(statePsRdy)
		c.emit(pdmux.EventPSReadyReceived)
	case pdmsg.TypeGotoMin:
		c.emit(pdmux.EventGoToMinReceived)
	case pdmsg.TypePing:
	case pdmsg.TypeSoftReset:
		c.log.Warn("soft reset received")
		c.nextTxID = 0
		if err := c.sendControl(pdmsg.TypeAccept); err != nil {
			return
		}
		c.lastRxID = noRxID
		c.timeouts = 0
		c.caps = pdcap.SourceCapabilities{}
		c.enter(stateUnknown)
		c.emit(pdmux.EventResetReceived)
	case pdmsg.TypeGetSinkCap, pdmsg.TypeDRSwap, pdmsg.TypePRSwap, pdmsg.TypeVconnSwap:
		_ = c.sendControl(pdmsg.TypeReject)
	default:
		c.log.WithField("msg", t.ControlName()).Debug("control message ignored")
	}
}

func (c *Controller) violation(t pdmsg.Type) {
	c.log.WithFields(logrus.Fields{"msg": t.ControlName(), "state": c.state.Name}).Warn("unexpected message")
}

// reset returns the port to its power up state after a hard reset on the
// line in either direction.
func (c *Controller) reset() {
	c.nextTxID = 0
	c.lastRxID = noRxID
	c.timeouts = 0
	c.caps = pdcap.SourceCapabilities{}
	c.enter(stateUnknown)
	c.emit(pdmux.EventResetReceived)
}

// SendHardReset implements pdmux.Controller. A port that cannot signal the
// reset is put in StateFault and retried after the capability request delay.
func (c *Controller) SendHardReset() error {
	c.log.Warn("sending hard reset")
	if err := c.tr.SendHardReset(); err != nil {
		c.log.WithError(err).Error("hard reset failed")
		c.caps = pdcap.SourceCapabilities{}
		c.enter(stateFault)
		c.emit(pdmux.EventResetReceived)
		return errors.Wrap(err, "send hard reset")
	}
	c.reset()
	return nil
}

// SendControlMessage implements pdmux.Controller.
func (c *Controller) SendControlMessage(t pdmsg.Type) error {
	return c.sendControl(t)
}

// RequestCapability implements pdmux.Controller.
func (c *Controller) RequestCapability(sc pdcap.SourceCapability) error {
	return c.RequestCapabilityPower(sc, sc.MaxPower())
}

// RequestCapabilityPower implements pdmux.Controller. The response timer is
// armed and the controller waits in StateNeedResp for Accept or Reject.
func (c *Controller) RequestCapabilityPower(sc pdcap.SourceCapability, power uint32) error {
	if sc.IsEmpty() {
		return ErrNoCapability
	}
	req := pdcap.NewRequest(sc, power)
	c.log.WithField("request", req).Info("requesting power")
	if err := c.send(pdmsg.EncodeRequest(req.GeneratePDO(), c.takeTxID())); err != nil {
		return err
	}
	if c.state != stateNeedResp {
		c.enter(stateNeedResp)
	}
	c.responseTimer.Start(c.clock.Millis(), c.responseTimeout)
	return nil
}

func (c *Controller) takeTxID() uint8 {
	id := c.nextTxID
	c.nextTxID = (c.nextTxID + 1) % 8
	return id
}

func (c *Controller) sendControl(t pdmsg.Type) error {
	return c.send(pdmsg.EncodeControl(t, c.takeTxID()))
}

// send transmits a locally originated frame and hard resets the port if it
// cannot be delivered.
func (c *Controller) send(frame []byte) error {
	err := c.transmit(frame)
	if err != nil {
		_ = c.SendHardReset()
	}
	return err
}

// transmit retries a frame up to the configured number of times. Failure of
// the last attempt is escalated to a hard reset.
func (c *Controller) transmit(frame []byte) error {
	var err error
	for i := 0; i <= c.retries; i++ {
		if err = c.tr.Transmit(frame); err == nil {
			return nil
		}
		c.log.WithError(err).WithField("attempt", i+1).Debug("transmit failed")
	}
	err = errors.Wrapf(err, "transmit after %d attempts", c.retries+1)
	if h, herr := pdmsg.DecodeHeader(frame); herr == nil && !h.IsData() && h.Type() == pdmsg.TypeGoodCRC {
		// acknowledgements are not locally originated, escalate here
		c.log.WithError(err).Warn("acknowledge failed")
		_ = c.SendHardReset()
	}
	return err
}

// enter moves to s and runs its entry actions, following chained
// transitions.
func (c *Controller) enter(s *state) {
	for s != nil {
		if s != c.state {
			c.log.WithFields(logrus.Fields{"from": c.state.Name, "to": s.Name}).Debug("state change")
		}
		c.state = s
		if s.Enter == nil {
			return
		}
		s = s.Enter(c)
	}
}

func (c *Controller) emit(k pdmux.EventKind) {
	if c.sink == nil {
		return
	}
	e := pdmux.Event{Kind: k, Port: c.port}
	if k == pdmux.EventCapabilitiesReceived {
		e.Capabilities = c.caps
	}
	c.sink.HandleEvent(e)
}

// Package pdmux defines the contracts shared by the USB Power Delivery sink
// port controllers and the arbiter that muxes power from up to two of them
// into a single output rail.
package pdmux

import (
	"io"

	"github.com/sirupsen/logrus"

	"github.com/oxplot/pdmux/pdcap"
	"github.com/oxplot/pdmux/pdmsg"
)

// PortID identifies one of the two physical USB-C ports.
type PortID uint8

// Ports known to the arbiter.
const (
	PortUnknown PortID = iota
	PortA
	PortB
)

// NumPorts is the number of physical ports an arbiter can serve.
const NumPorts = 2

// Index returns the 0 based slot of the port, -1 for PortUnknown.
func (p PortID) Index() int {
	switch p {
	case PortA:
		return 0
	case PortB:
		return 1
	default:
		return -1
	}
}

// PortAt returns the port stored at slot i.
func PortAt(i int) PortID {
	switch i {
	case 0:
		return PortA
	case 1:
		return PortB
	default:
		return PortUnknown
	}
}

func (p PortID) String() string {
	switch p {
	case PortA:
		return "A"
	case PortB:
		return "B"
	default:
		return "?"
	}
}

// Controller is the narrow contract a port controller exposes to the
// arbiter. The arbiter never reaches into a controller's protocol state
// beyond these methods.
type Controller interface {

	// Port returns the identity of the physical port the controller drives.
	Port() PortID

	// Capabilities returns a snapshot of the capabilities last advertised by
	// the source. The set is empty when no source is attached or after a reset.
	Capabilities() pdcap.SourceCapabilities

	// SendControlMessage sends a control message originated by the sink.
	SendControlMessage(t pdmsg.Type) error

	// SendHardReset signals a hard reset to the source.
	SendHardReset() error

	// RequestCapability requests the full power of c.
	RequestCapability(c pdcap.SourceCapability) error

	// RequestCapabilityPower requests power milliwatts from c.
	RequestCapabilityPower(c pdcap.SourceCapability, power uint32) error

	// SetEventSink registers the single receiver of the controller's events.
	// A later call replaces the previous sink, nil removes it.
	SetEventSink(EventSink)
}

// EventKind is one of the seven events a controller reports.
type EventKind uint8

// Controller events.
const (
	EventGoToMinReceived EventKind = iota + 1
	EventAcceptReceived
	EventRejectReceived
	EventPSReadyReceived
	EventResetReceived
	EventControllerDisconnected
	EventCapabilitiesReceived
)

func (k EventKind) String() string {
	switch k {
	case EventGoToMinReceived:
		return "go_to_min_received"
	case EventAcceptReceived:
		return "accept_received"
	case EventRejectReceived:
		return "reject_received"
	case EventPSReadyReceived:
		return "ps_ready_received"
	case EventResetReceived:
		return "reset_received"
	case EventControllerDisconnected:
		return "controller_disconnected"
	case EventCapabilitiesReceived:
		return "capabilities_received"
	default:
		return "INVALID"
	}
}

// Event is delivered by a controller to its sink. Capabilities is only set
// for EventCapabilitiesReceived.
type Event struct {
	Kind         EventKind
	Port         PortID
	Capabilities pdcap.SourceCapabilities
}

// EventSink is an interface that wraps the method HandleEvent.
type EventSink interface {
	// HandleEvent is called from the controller's polling context, never
	// concurrently for the same controller.
	HandleEvent(Event)
}

// EventSinkFunc is an adapter to allow the use of ordinary functions as
// EventSink.
type EventSinkFunc func(Event)

// HandleEvent implements EventSink interface.
func (f EventSinkFunc) HandleEvent(e Event) {
	f(e)
}

// DiscardLogger returns a logger that drops everything. Components use it
// when no logger is given.
func DiscardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// OrDiscard returns l, or a discarding logger when l is nil.
func OrDiscard(l logrus.FieldLogger) logrus.FieldLogger {
	if l == nil {
		return DiscardLogger()
	}
	return l
}

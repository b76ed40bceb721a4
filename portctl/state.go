package portctl

import "github.com/oxplot/pdmux/pdmsg"

// State is the protocol state of a port controller.
type State uint8

// Port controller states. There is no terminal state; the controller cycles
// back to StateUnknown on every reset or detach.
const (
	StateUnknown  State = iota // power up, after resets and detach
	StateInit                  // attached, waiting before asking for capabilities
	StateCapsWait              // Get_Source_Cap sent, waiting for capabilities
	StateNeedResp              // capabilities known, request pending or about to be sent
	StateAccepted              // source accepted the request, waiting for PS_RDY
	StateRejected              // source rejected the request
	StatePsRdy                 // source delivers the requested contract
	StateFault                 // the port could not be reset, retried periodically
)

func (s State) String() string {
	if int(s) < len(states) && states[s] != nil {
		return states[s].Name
	}
	return "INVALID"
}

// state represents a port controller state.
type state struct {
	ID   State
	Name string

	// Enter runs actions on entering the state. It may be nil in which case it
	// is ignored. If non-nil next state is returned, the controller
	// immediately enters it.
	Enter func(*Controller) *state
}

var states [StateFault + 1]*state

var (
	stateUnknown  *state
	stateInit     *state
	stateCapsWait *state
	stateNeedResp *state
	stateAccepted *state
	stateRejected *state
	statePsRdy    *state
	stateFault    *state
)

func init() {

	// Initializing is done here to avoid circular references between states
	// which are not allowed at the package level variable assignments.

	stateUnknown = &state{
		ID:   StateUnknown,
		Name: "unknown",
		Enter: func(c *Controller) *state {
			c.responseTimer.Stop()
			c.psTimer.Stop()
			c.capsTimer.Stop()
			// Still attached after a reset: ask again for capabilities if the
			// source stays quiet.
			if c.attached {
				c.capsTimer.Start(c.clock.Millis(), c.capsDelay)
			}
			return nil
		},
	}

	stateInit = &state{
		ID:   StateInit,
		Name: "init",
		Enter: func(c *Controller) *state {
			c.capsTimer.Start(c.clock.Millis(), c.capsDelay)
			return nil
		},
	}

	stateCapsWait = &state{
		ID:   StateCapsWait,
		Name: "caps-wait",
		Enter: func(c *Controller) *state {
			c.capsTimer.Stop()
			if err := c.sendControl(pdmsg.TypeGetSourceCap); err != nil {
				// the failed send already reset the port
				return nil
			}
			c.responseTimer.Start(c.clock.Millis(), c.responseTimeout)
			return nil
		},
	}

	stateNeedResp = &state{
		ID:   StateNeedResp,
		Name: "need-resp",
		Enter: func(c *Controller) *state {
			c.capsTimer.Stop()
			c.psTimer.Stop()
			return nil
		},
	}

	stateAccepted = &state{
		ID:   StateAccepted,
		Name: "accepted",
		Enter: func(c *Controller) *state {
			c.responseTimer.Stop()
			c.psTimer.Start(c.clock.Millis(), c.psTransition)
			return nil
		},
	}

	stateRejected = &state{
		ID:   StateRejected,
		Name: "rejected",
		Enter: func(c *Controller) *state {
			c.responseTimer.Stop()
			return stateUnknown
		},
	}

	statePsRdy = &state{
		ID:   StatePsRdy,
		Name: "ps-rdy",
		Enter: func(c *Controller) *state {
			c.psTimer.Stop()
			c.responseTimer.Stop()
			return nil
		},
	}

	stateFault = &state{
		ID:   StateFault,
		Name: "fault",
		Enter: func(c *Controller) *state {
			c.responseTimer.Stop()
			c.psTimer.Stop()
			c.capsTimer.Start(c.clock.Millis(), c.capsDelay)
			return nil
		},
	}

	for _, s := range []*state{stateUnknown, stateInit, stateCapsWait, stateNeedResp, stateAccepted, stateRejected, statePsRdy, stateFault} {
		states[s.ID] = s
	}
}

package powermux

import "github.com/oxplot/pdmux"

// PortStatus is the arbiter's view of one port.
type PortStatus struct {
	Port         string   `json:"port"`
	Connected    bool     `json:"connected"`
	Active       bool     `json:"active"`
	Capabilities []string `json:"capabilities,omitempty"`
	Selected     string   `json:"selected,omitempty"`
	VoltageMV    uint32   `json:"voltage_mv"`
	MaxPowerMW   uint32   `json:"max_power_mw"`
	RequestedMW  uint32   `json:"requested_mw"`
	Accepted     bool     `json:"accepted"`
	Ready        bool     `json:"ready"`
	InFlight     bool     `json:"in_flight"`
}

// Status is an immutable snapshot of the arbiter.
type Status struct {
	Strategy         string       `json:"strategy"`
	RequiredPowerMW  uint32       `json:"required_power_mw"`
	AvailablePowerMW uint32       `json:"available_power_mw"`
	OutputEnabled    bool         `json:"output_enabled"`
	Incompatible     bool         `json:"incompatible_voltages"`
	Ports            []PortStatus `json:"ports"`
}

// Status returns the snapshot taken after the last event. It may be called
// from any goroutine.
func (m *Mux) Status() *Status {
	return m.status.Load()
}

func (m *Mux) publish() {
	s := &Status{
		Strategy:         m.cfg.Strategy.String(),
		RequiredPowerMW:  m.cfg.RequiredPowerMW,
		AvailablePowerMW: m.availablePower(),
		OutputEnabled:    m.enabled,
		Incompatible:     m.incompatible,
	}
	for i, p := range m.ports {
		if p.Controller == nil {
			continue
		}
		r := m.recs[i]
		caps := p.Controller.Capabilities()
		ps := PortStatus{
			Port:        pdmux.PortAt(i).String(),
			Connected:   true,
			Active:      !caps.Empty(),
			RequestedMW: r.requested,
			Accepted:    r.accepted,
			Ready:       r.ready,
			InFlight:    r.inFlight,
		}
		for _, c := range caps.Caps() {
			ps.Capabilities = append(ps.Capabilities, c.String())
		}
		if !r.selected.IsEmpty() {
			ps.Selected = r.selected.String()
			ps.VoltageMV = r.selected.Voltage()
			ps.MaxPowerMW = r.selected.MaxPower()
		}
		s.Ports = append(s.Ports, ps)
	}
	m.status.Store(s)
}

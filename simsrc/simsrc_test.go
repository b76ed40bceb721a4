package simsrc

import (
	"testing"

	"github.com/oxplot/pdmux"
	"github.com/oxplot/pdmux/mstime"
	"github.com/oxplot/pdmux/pdmsg"
	"github.com/oxplot/pdmux/portctl"
	"github.com/oxplot/pdmux/powermux"
)

type fakeSwitch struct {
	limit   uint32
	enabled bool
}

func (s *fakeSwitch) SetCurrentLimit(mA uint32) error { s.limit = mA; return nil }
func (s *fakeSwitch) SetEnabled(on bool) error        { s.enabled = on; return nil }

type fakeOutput struct {
	enabled bool
}

func (o *fakeOutput) EnablePower()  { o.enabled = true }
func (o *fakeOutput) DisablePower() { o.enabled = false }

// system is a complete two port sink fed by simulated sources.
type system struct {
	clock    *mstime.Manual
	ctrls    [2]*portctl.Controller
	srcs     [2]*Source
	switches [2]*fakeSwitch
	out      *fakeOutput
	mux      *powermux.Mux
}

func newSystem(t *testing.T, cfg powermux.Config, a, b *Source) *system {
	t.Helper()
	s := &system{clock: mstime.NewManual(0), srcs: [2]*Source{a, b}, out: &fakeOutput{}}
	var ports []powermux.Port
	for i, src := range s.srcs {
		c := portctl.New(pdmux.PortAt(i), src, s.clock, portctl.DefaultConfig(), nil)
		src.Connect(c)
		s.ctrls[i] = c
		s.switches[i] = &fakeSwitch{}
		ports = append(ports, powermux.Port{Controller: c, Switch: s.switches[i]})
	}
	m, err := powermux.New(cfg, s.out, nil, ports...)
	if err != nil {
		t.Fatal(err)
	}
	s.mux = m
	return s
}

// run polls both controllers for ms milliseconds.
func (s *system) run(ms int) {
	for i := 0; i < ms; i++ {
		s.clock.Advance(1)
		for _, c := range s.ctrls {
			c.Tick()
		}
	}
}

func fixed(v, c uint32) pdmsg.PDO {
	return pdmsg.PDO(pdmsg.NewFixedSupplyPDO(v, c))
}

var (
	charger100W = []pdmsg.PDO{fixed(5000, 3000), fixed(9000, 3000), fixed(15000, 3000), fixed(20000, 5000)}
	charger60W  = []pdmsg.PDO{fixed(5000, 3000), fixed(9000, 3000), fixed(20000, 3000)}
	charger45W  = []pdmsg.PDO{fixed(5000, 3000), fixed(15000, 3000)}
)

func TestSingleCharger(t *testing.T) {
	a, b := New(charger100W, Options{}, nil), New(nil, Options{}, nil)
	s := newSystem(t, powermux.DefaultConfig(), a, b)
	if err := a.Plug(); err != nil {
		t.Fatal(err)
	}
	s.run(5)

	if !s.out.enabled || !s.switches[0].enabled || s.switches[1].enabled {
		t.Fatalf("output=%v switches=%v/%v", s.out.enabled, s.switches[0].enabled, s.switches[1].enabled)
	}
	if s.ctrls[0].State() != portctl.StatePsRdy {
		t.Errorf("state = %v", s.ctrls[0].State())
	}
	rdo, ok := a.Contract()
	if !ok || rdo.SelectedObjectPosition() != 4 || rdo.FixedOperatingCurrent() != 5000 {
		t.Errorf("contract = %#08x", uint32(rdo))
	}
	if s.switches[0].limit != 5000 {
		t.Errorf("limit = %d", s.switches[0].limit)
	}

	// stays up
	s.run(2000)
	if !s.out.enabled || a.Requests() != 1 {
		t.Errorf("output=%v requests=%d after idling", s.out.enabled, a.Requests())
	}

	if err := a.Unplug(); err != nil {
		t.Fatal(err)
	}
	s.run(1)
	if s.out.enabled || s.switches[0].enabled {
		t.Errorf("output kept on after unplug")
	}
}

func TestLoadBalancedPair(t *testing.T) {
	a, b := New(charger60W, Options{}, nil), New(charger60W, Options{}, nil)
	s := newSystem(t, powermux.DefaultConfig(), a, b)
	if err := a.Plug(); err != nil {
		t.Fatal(err)
	}
	s.run(5)
	if s.out.enabled {
		t.Fatal("60W alone enabled the output")
	}
	if err := b.Plug(); err != nil {
		t.Fatal(err)
	}
	s.run(10)

	if !s.out.enabled {
		t.Fatalf("pair did not enable the output: %+v", s.mux.Status())
	}
	for i, src := range []*Source{a, b} {
		rdo, ok := src.Contract()
		// 46.5W at 20V, in 10mA units
		if !ok || rdo.SelectedObjectPosition() != 3 || rdo.FixedOperatingCurrent() != 2320 {
			t.Errorf("port %d contract = %#08x", i, uint32(rdo))
		}
		if s.switches[i].limit != 2325 {
			t.Errorf("port %d limit = %d", i, s.switches[i].limit)
		}
	}

	// losing one source drops the output and renegotiates the other at full
	// power, which is not enough alone
	if err := b.Unplug(); err != nil {
		t.Fatal(err)
	}
	s.run(10)
	if s.out.enabled {
		t.Error("output on with a single 60W source")
	}
	if rdo, _ := a.Contract(); rdo.FixedOperatingCurrent() != 3000 {
		t.Errorf("remaining contract = %#08x", uint32(rdo))
	}
}

func TestMismatchedPair(t *testing.T) {
	a, b := New(charger60W, Options{}, nil), New(charger45W, Options{}, nil)
	s := newSystem(t, powermux.DefaultConfig(), a, b)
	_ = a.Plug()
	_ = b.Plug()
	s.run(20)
	if s.out.enabled {
		t.Error("mismatched voltages enabled the output")
	}
	if b.Requests() != 0 {
		t.Errorf("B requests = %d", b.Requests())
	}
	if !s.mux.Status().Incompatible {
		t.Error("incompatible not reported")
	}
}

func TestSequentialPair(t *testing.T) {
	cfg := powermux.DefaultConfig()
	cfg.Strategy = powermux.StrategySequential
	a, b := New(charger60W, Options{}, nil), New(charger60W, Options{}, nil)
	s := newSystem(t, cfg, a, b)
	_ = a.Plug()
	_ = b.Plug()
	s.run(10)
	if !s.out.enabled {
		t.Fatalf("sequential pair not enabled: %+v", s.mux.Status())
	}
	if a.Requests() != 1 || b.Requests() != 1 {
		t.Errorf("requests = %d/%d", a.Requests(), b.Requests())
	}
	if s.switches[0].limit != 3000 || s.switches[1].limit != 3000 {
		t.Errorf("limits = %d/%d", s.switches[0].limit, s.switches[1].limit)
	}
}

func TestRejectingCharger(t *testing.T) {
	a := New(charger100W, Options{RejectRequests: true}, nil)
	s := newSystem(t, powermux.DefaultConfig(), a, New(nil, Options{}, nil))
	_ = a.Plug()
	s.run(350)
	if s.out.enabled {
		t.Error("output on without a contract")
	}
	if a.Requests() < 3 {
		t.Errorf("requests = %d, want periodic retries", a.Requests())
	}
}

func TestUnresponsiveCharger(t *testing.T) {
	a := New(charger100W, Options{Unresponsive: true}, nil)
	s := newSystem(t, powermux.DefaultConfig(), a, New(nil, Options{}, nil))
	_ = a.Plug()
	s.run(601)
	if a.HardResets() != 1 {
		t.Errorf("hard resets = %d, want 1", a.HardResets())
	}
	if s.out.enabled {
		t.Error("output on")
	}
}

func TestSourceRenegotiation(t *testing.T) {
	a := New(charger100W, Options{}, nil)
	s := newSystem(t, powermux.DefaultConfig(), a, New(nil, Options{}, nil))
	_ = a.Plug()
	s.run(5)
	if !s.out.enabled {
		t.Fatal("not enabled")
	}
	if err := a.Readvertise(charger60W); err != nil {
		t.Fatal(err)
	}
	s.run(5)
	if s.out.enabled {
		t.Error("output on after the source dropped to 60W")
	}
	if rdo, _ := a.Contract(); rdo.SelectedObjectPosition() != 3 {
		t.Errorf("contract = %#08x", uint32(rdo))
	}
}

func TestGoToMinRestored(t *testing.T) {
	a := New(charger100W, Options{}, nil)
	s := newSystem(t, powermux.DefaultConfig(), a, New(nil, Options{}, nil))
	if err := a.GoToMin(); err != ErrNoContract {
		t.Errorf("GoToMin before plug: %v", err)
	}
	_ = a.Plug()
	s.run(5)
	if !s.out.enabled {
		t.Fatal("not enabled")
	}

	if err := a.GoToMin(); err != nil {
		t.Fatal(err)
	}
	s.run(1)
	if s.out.enabled || s.switches[0].enabled {
		t.Fatal("output kept on after GotoMin")
	}

	if err := a.Restore(); err != nil {
		t.Fatal(err)
	}
	s.run(1)
	if !s.out.enabled || !s.switches[0].enabled {
		t.Errorf("output=%v switch=%v after PS_RDY", s.out.enabled, s.switches[0].enabled)
	}
	if a.Requests() != 1 || s.ctrls[0].State() != portctl.StatePsRdy {
		t.Errorf("requests=%d state=%v", a.Requests(), s.ctrls[0].State())
	}
}

func TestSourceHardReset(t *testing.T) {
	a := New(charger100W, Options{}, nil)
	s := newSystem(t, powermux.DefaultConfig(), a, New(nil, Options{}, nil))
	_ = a.Plug()
	s.run(5)
	if err := a.HardReset(); err != nil {
		t.Fatal(err)
	}
	s.run(1)
	if s.out.enabled {
		t.Error("output kept on across a hard reset")
	}
	s.run(5)
	if !s.out.enabled || a.Requests() != 2 {
		t.Errorf("output=%v requests=%d after recovery", s.out.enabled, a.Requests())
	}
}

func TestTransmitUnplugged(t *testing.T) {
	src := New(charger100W, Options{}, nil)
	if err := src.Transmit(pdmsg.EncodeControl(pdmsg.TypePing, 0)); err != ErrNotAttached {
		t.Errorf("err = %v", err)
	}
}

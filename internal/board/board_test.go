package board

import (
	"context"
	"testing"
	"time"

	"periph.io/x/conn/v3/gpio"

	"github.com/oxplot/pdmux"
	"github.com/oxplot/pdmux/config"
	"github.com/oxplot/pdmux/driver/dishy"
	"github.com/oxplot/pdmux/driver/fusb302"
	"github.com/oxplot/pdmux/mstime"
	"github.com/oxplot/pdmux/pdmsg"
	"github.com/oxplot/pdmux/portctl"
)

const pairConfig = `
[[supply]]
port = "A"
pdos = ["fixed:5000:3000", "fixed:20000:3000"]

[[supply]]
port = "B"
attach_after = "500ms"
detach_after = "2s"
pdos = ["fixed:5000:3000", "fixed:20000:3000"]
`

type rig struct {
	clock *mstime.Manual
	b     *Board
}

func newRig(t *testing.T, toml string) *rig {
	t.Helper()
	cfg, err := config.Decode(toml)
	if err != nil {
		t.Fatalf("unexpected config error: %v", err)
	}
	clock := mstime.NewManual(1000)
	b, err := New(cfg, nil, clock, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return &rig{clock: clock, b: b}
}

// runUntil steps the board one millisecond at a time until ms have passed
// since it was built.
func (r *rig) runUntil(ms uint32) {
	for mstime.Since(r.clock.Millis(), 1000) < ms {
		r.clock.Advance(1)
		r.b.Step()
	}
}

func TestPairLifecycle(t *testing.T) {
	r := newRig(t, pairConfig)
	pins := r.b.Pins()

	r.runUntil(400)
	a := r.b.Source(pdmux.PortA)
	if a == nil {
		t.Fatal("supply A not plugged")
	}
	if rdo, ok := a.Contract(); !ok || rdo.FixedOperatingCurrent() != 3000 {
		t.Fatalf("unexpected contract on A: %v %v", rdo, ok)
	}
	if r.b.Output.Enabled() {
		t.Fatal("60W alone must not enable the output")
	}
	if r.b.Source(pdmux.PortB) != nil {
		t.Fatal("supply B plugged early")
	}

	r.runUntil(1000)
	if !r.b.Mux.OutputEnabled() || r.b.Output.Mode() != dishy.ModeLoad {
		t.Fatalf("output not on: enabled=%v mode=%v", r.b.Mux.OutputEnabled(), r.b.Output.Mode())
	}
	for i, sw := range r.b.Switches {
		if !sw.Enabled() || sw.CurrentLimit() != 2325 {
			t.Fatalf("switch %d: enabled=%v limit=%d", i, sw.Enabled(), sw.CurrentLimit())
		}
	}
	if pins["switch-a"].Read() != gpio.High || pins["load"].Read() != gpio.High {
		t.Fatal("pins not driven")
	}
	if pins["green"].Read() != gpio.High || pins["red"].Read() != gpio.Low {
		t.Fatal("light should be green")
	}
	if st := r.b.Mux.Status(); !st.OutputEnabled || st.AvailablePowerMW != 120000 {
		t.Fatalf("unexpected status: %+v", st)
	}

	r.runUntil(2500)
	if r.b.Source(pdmux.PortB) != nil {
		t.Fatal("supply B still plugged")
	}
	if r.b.Output.Enabled() || r.b.Output.Mode() != dishy.ModeDisabled {
		t.Fatal("output should be off after B left")
	}
	if pins["boost"].Read() != gpio.Low {
		t.Fatal("boost left on")
	}
	if rdo, ok := a.Contract(); !ok || rdo.FixedOperatingCurrent() != 3000 {
		t.Fatalf("A not renegotiated to full power: %v %v", rdo, ok)
	}
}

func TestSupplyReplaced(t *testing.T) {
	r := newRig(t, `
[[supply]]
port = "A"
pdos = ["fixed:5000:3000"]

[[supply]]
port = "A"
attach_after = "300ms"
pdos = ["fixed:5000:3000", "fixed:20000:5000"]
`)
	r.runUntil(200)
	first := r.b.Source(pdmux.PortA)

	r.runUntil(800)
	second := r.b.Source(pdmux.PortA)
	if second == nil || second == first {
		t.Fatal("second supply not plugged")
	}
	if !r.b.Output.Enabled() {
		t.Fatal("100W supply should enable the output")
	}
	if _, ok := first.Contract(); ok {
		t.Fatal("replaced supply kept its contract")
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.RequiredPowerMW = 0
	if _, err := New(cfg, nil, mstime.NewManual(0), nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestRunStops(t *testing.T) {
	cfg := config.Default()
	b, err := New(cfg, nil, mstime.NewSystem(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := b.Run(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.Output.Enabled() {
		t.Fatal("output left on")
	}
	for _, sw := range b.Switches {
		if sw.Enabled() {
			t.Fatal("switch left on")
		}
	}
}

// fakePHY is a source behind a physical layer: it attaches and advertises
// on the first poll and records what the sink transmits.
type fakePHY struct {
	polls  int
	frames [][]byte
	caps   pdmsg.Message
}

func (p *fakePHY) Transmit(frame []byte) error {
	p.frames = append(p.frames, append([]byte(nil), frame...))
	return nil
}

func (p *fakePHY) SendHardReset() error { return nil }

func (p *fakePHY) Poll(dst fusb302.Ingester) error {
	p.polls++
	if p.polls != 1 {
		return nil
	}
	if err := dst.Ingest(portctl.Signal{Kind: portctl.SignalAttached}); err != nil {
		return err
	}
	return dst.Ingest(portctl.FrameSignal(p.caps.Bytes()))
}

func TestPHYPort(t *testing.T) {
	cfg := config.Default()
	cfg.Supplies = nil
	h := pdmsg.NewHeader(pdmsg.TypeSourceCap, 0, 1)
	h.SetPowerRole(pdmsg.PowerRoleSource)
	phy := &fakePHY{caps: pdmsg.Message{Header: h}}
	phy.caps.Data[0] = uint32(pdmsg.NewFixedSupplyPDO(20000, 5000))

	hw := VirtualHardware(nil)
	hw.Ports[1].PHY = phy
	clock := mstime.NewManual(0)
	b, err := New(cfg, hw, clock, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 5; i++ {
		clock.Advance(1)
		b.Step()
	}
	if b.Source(pdmux.PortB) != nil {
		t.Fatal("phy port has no simulated supply")
	}
	var request bool
	for _, f := range phy.frames {
		m, err := pdmsg.Parse(f)
		if err != nil {
			t.Fatalf("bad frame % x: %v", f, err)
		}
		if m.Header.IsData() && m.Header.Type() == pdmsg.TypeRequest {
			request = true
			if got := pdmsg.RequestDO(m.Data[0]).FixedOperatingCurrent(); got != 5000 {
				t.Fatalf("requested %dmA, want 5000", got)
			}
		}
	}
	if !request {
		t.Fatal("no request sent through the phy")
	}
}

func TestSupplyOnPHYPortRejected(t *testing.T) {
	cfg := config.Default()
	hw := VirtualHardware(nil)
	hw.Ports[0].PHY = &fakePHY{}
	if _, err := New(cfg, hw, mstime.NewManual(0), nil); err == nil {
		t.Fatal("expected error")
	}
}

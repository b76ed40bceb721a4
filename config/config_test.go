package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/oxplot/pdmux"
	"github.com/oxplot/pdmux/pdmsg"
	"github.com/oxplot/pdmux/powermux"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := cfg.Selector().(powermux.MaxPower); !ok {
		t.Fatalf("unexpected selector: %T", cfg.Selector())
	}
	if cfg.Mux().RequiredPowerMW != powermux.DefaultRequiredPowerMW {
		t.Fatalf("unexpected required power: %d", cfg.Mux().RequiredPowerMW)
	}
}

func TestLoadExample(t *testing.T) {
	cfg, err := Load(filepath.Join("testdata", "pdmux.toml"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.RequiredPowerMW != 90000 {
		t.Fatalf("unexpected required power: %d", cfg.RequiredPowerMW)
	}
	if cfg.LogLevel != logrus.DebugLevel {
		t.Fatalf("unexpected log level: %v", cfg.LogLevel)
	}
	if cfg.Port.CapsRequestDelay != 150*time.Millisecond || cfg.Port.ResponseTimeout != 250*time.Millisecond {
		t.Fatalf("unexpected timing: %+v", cfg.Port)
	}
	if cfg.Port.PSTransitionTimeout != 550*time.Millisecond {
		t.Fatalf("unset key lost its default: %v", cfg.Port.PSTransitionTimeout)
	}
	if cfg.TickInterval != 2*time.Millisecond {
		t.Fatalf("unexpected tick interval: %v", cfg.TickInterval)
	}
	if cfg.Port.TxRetries != 3 || cfg.Port.QueueSize != 16 {
		t.Fatalf("unexpected transport: %+v", cfg.Port)
	}
	if cfg.StatusListen != ":9000" {
		t.Fatalf("unexpected listen address: %q", cfg.StatusListen)
	}

	vr, ok := cfg.Selector().(powermux.VoltageRange)
	if !ok || vr.MinVoltage != 9000 || vr.MaxVoltage != 20000 {
		t.Fatalf("unexpected selector: %#v", cfg.Selector())
	}

	hw := cfg.Hardware
	if hw.Ports[0].DigipotAddr != 0x2c || hw.Ports[1].DigipotAddr != 0x2f {
		t.Fatalf("unexpected digipot addresses: %+v", hw.Ports)
	}
	if hw.Ports[1].SwitchPin != "GPIO27" {
		t.Fatalf("unset pin lost its default: %q", hw.Ports[1].SwitchPin)
	}
	if hw.Light.ActiveLow {
		t.Fatal("active_low should be false")
	}

	if len(cfg.Supplies) != 2 {
		t.Fatalf("unexpected supplies: %+v", cfg.Supplies)
	}
	a, b := cfg.Supplies[0], cfg.Supplies[1]
	if a.Port != pdmux.PortA || len(a.PDOs) != 3 || a.AttachAfter != 0 || a.DetachAfter != 0 {
		t.Fatalf("unexpected supply A: %+v", a)
	}
	if a.PDOs[2].Type() != pdmsg.SupplyVariable {
		t.Fatalf("unexpected pdo type: %v", a.PDOs[2].Type())
	}
	if b.Port != pdmux.PortB || b.AttachAfter != time.Second || b.DetachAfter != 10*time.Second || !b.RejectRequests {
		t.Fatalf("unexpected supply B: %+v", b)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatal("expected error")
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		invalid bool
	}{
		{"bad duration", "[timing]\nresponse_timeout = \"soon\"\n", false},
		{"bad strategy", "strategy = \"greedy\"\n", false},
		{"bad level", "log_level = \"loud\"\n", false},
		{"bad port", "[[supply]]\nport = \"C\"\npdos = [\"fixed:5000:3000\"]\n", false},
		{"bad pdo", "[[supply]]\nport = \"A\"\npdos = [\"pps:5000:3000\"]\n", false},
		{"zero power", "required_output_power_mw = 0\n", true},
		{"inverted range", "[selection]\nmin_voltage_mv = 20000\nmax_voltage_mv = 9000\n", true},
		{"tick too slow", "[timing]\ntick_interval = \"1s\"\n", true},
		{"small queue", "[transport]\nqueue_size = 1\n", true},
		{"no pdos", "[[supply]]\nport = \"A\"\n", true},
		{"detach first", "[[supply]]\nport = \"A\"\nattach_after = \"2s\"\ndetach_after = \"1s\"\npdos = [\"fixed:5000:3000\"]\n", true},
		{"hardware without pins", "[hardware]\nenabled = true\n[hardware.output]\nload_pin = \"\"\n", true},
		{"unknown phy", "[hardware]\nenabled = true\n[hardware.port_b]\nphy = \"tcpm\"\n", true},
		{"supply on phy port", "[hardware]\nenabled = true\n[hardware.port_a]\nphy = \"fusb302\"\n", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "pdmux.toml")
			if err := os.WriteFile(path, []byte(tt.data), 0o644); err != nil {
				t.Fatal(err)
			}
			_, err := Load(path)
			if err == nil {
				t.Fatal("expected error")
			}
			if got := errors.Is(err, ErrInvalid); got != tt.invalid {
				t.Fatalf("errors.Is(ErrInvalid) = %v, want %v (%v)", got, tt.invalid, err)
			}
		})
	}
}

func TestDecodeEmptyKeepsDefaults(t *testing.T) {
	cfg, err := Decode("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Supplies) != 1 || cfg.Supplies[0].Port != pdmux.PortA {
		t.Fatalf("unexpected supplies: %+v", cfg.Supplies)
	}
	if cfg.Strategy != powermux.StrategyLoadBalance {
		t.Fatalf("unexpected strategy: %v", cfg.Strategy)
	}
}

func TestPHYPort(t *testing.T) {
	cfg, err := Decode(`
[hardware]
enabled = true
[hardware.port_b]
phy = "FUSB302"
phy_addr = 0x25
`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p := cfg.Hardware.Ports[1]; p.PHY != "fusb302" || p.PHYAddr != 0x25 {
		t.Fatalf("unexpected port B hardware: %+v", p)
	}
	if cfg.Hardware.Ports[0].PHY != "" {
		t.Fatalf("port A should stay simulated: %+v", cfg.Hardware.Ports[0])
	}
}

func TestParsePDO(t *testing.T) {
	tests := []struct {
		in   string
		want pdmsg.PDO
		err  bool
	}{
		{in: "fixed:5000:3000", want: pdmsg.PDO(pdmsg.NewFixedSupplyPDO(5000, 3000))},
		{in: " Fixed:20000:5000 ", want: pdmsg.PDO(pdmsg.NewFixedSupplyPDO(20000, 5000))},
		{in: "battery:5000:20000:45000", want: pdmsg.PDO(pdmsg.NewBatteryPDO(5000, 20000, 45000))},
		{in: "variable:5000:20000:2500", want: pdmsg.PDO(pdmsg.NewVariablePDO(5000, 20000, 2500))},
		{in: "fixed:5000", err: true},
		{in: "fixed:5V:3A", err: true},
		{in: "", err: true},
	}
	for _, tt := range tests {
		got, err := ParsePDO(tt.in)
		if tt.err {
			if err == nil {
				t.Errorf("ParsePDO(%q) expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParsePDO(%q) unexpected error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParsePDO(%q) = %#08x, want %#08x", tt.in, uint32(got), uint32(tt.want))
		}
	}
}

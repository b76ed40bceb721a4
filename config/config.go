// Package config loads the pdmux configuration from a TOML file. Keys absent
// from the file keep their defaults.
package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/oxplot/pdmux"
	"github.com/oxplot/pdmux/pdmsg"
	"github.com/oxplot/pdmux/portctl"
	"github.com/oxplot/pdmux/powermux"
)

// ErrInvalid is wrapped by every validation error.
var ErrInvalid = errors.New("config: invalid")

// Config is the complete configuration of a pdmux instance.
type Config struct {
	RequiredPowerMW uint32
	Strategy        powermux.Strategy
	LogLevel        logrus.Level

	// Voltage window for capability selection, both 0 for no limit.
	MinVoltageMV uint32
	MaxVoltageMV uint32

	Port         portctl.Config
	TickInterval time.Duration

	// StatusListen is the address of the HTTP status API, empty to disable.
	StatusListen string

	Hardware Hardware
	Supplies []Supply
}

// Hardware describes the output stage wiring. Pin names are looked up in the
// periph.io pin registry.
type Hardware struct {
	Enabled bool
	I2CBus  string
	Ports   [pdmux.NumPorts]PortHardware
	Output  OutputHardware
	Light   LightHardware
}

// PortHardware is the load switch of one port and, optionally, the PHY
// talking to a real source. A port without a PHY is fed by simulated
// supplies.
type PortHardware struct {
	DigipotAddr uint16
	SwitchPin   string
	PHY         string // "" or "fusb302"
	PHYAddr     uint16
}

// OutputHardware is the output stage pins.
type OutputHardware struct {
	BoostPin string
	LoadPin  string
	SensePin string
}

// LightHardware is the status light pins.
type LightHardware struct {
	RedPin    string
	GreenPin  string
	BluePin   string
	ActiveLow bool
}

// Supply is a simulated source plugged into a port.
type Supply struct {
	Port           pdmux.PortID
	AttachAfter    time.Duration
	DetachAfter    time.Duration // 0 keeps it attached
	PDOs           []pdmsg.PDO
	RejectRequests bool
	Unresponsive   bool
}

// Default returns the configuration of the reference board with a single
// simulated 100W charger on port A.
func Default() Config {
	return Config{
		RequiredPowerMW: powermux.DefaultRequiredPowerMW,
		Strategy:        powermux.StrategyLoadBalance,
		LogLevel:        logrus.InfoLevel,
		Port:            portctl.DefaultConfig(),
		TickInterval:    time.Millisecond,
		StatusListen:    "127.0.0.1:8093",
		Hardware: Hardware{
			I2CBus: "1",
			Ports: [pdmux.NumPorts]PortHardware{
				{DigipotAddr: 0x2c, SwitchPin: "GPIO17", PHYAddr: 0x22},
				{DigipotAddr: 0x2e, SwitchPin: "GPIO27", PHYAddr: 0x23},
			},
			Output: OutputHardware{BoostPin: "GPIO5", LoadPin: "GPIO6", SensePin: "GPIO13"},
			Light:  LightHardware{RedPin: "GPIO16", GreenPin: "GPIO20", BluePin: "GPIO21", ActiveLow: true},
		},
		Supplies: []Supply{{
			Port: pdmux.PortA,
			PDOs: []pdmsg.PDO{
				pdmsg.PDO(pdmsg.NewFixedSupplyPDO(5000, 3000)),
				pdmsg.PDO(pdmsg.NewFixedSupplyPDO(9000, 3000)),
				pdmsg.PDO(pdmsg.NewFixedSupplyPDO(15000, 3000)),
				pdmsg.PDO(pdmsg.NewFixedSupplyPDO(20000, 5000)),
			},
		}},
	}
}

type fileConfig struct {
	RequiredPowerMW uint32 `toml:"required_output_power_mw"`
	Strategy        string `toml:"strategy"`
	LogLevel        string `toml:"log_level"`

	Selection struct {
		MinVoltageMV uint32 `toml:"min_voltage_mv"`
		MaxVoltageMV uint32 `toml:"max_voltage_mv"`
	} `toml:"selection"`

	Timing struct {
		CapsRequestDelay    string `toml:"caps_request_delay"`
		ResponseTimeout     string `toml:"response_timeout"`
		PSTransitionTimeout string `toml:"ps_transition_timeout"`
		TickInterval        string `toml:"tick_interval"`
	} `toml:"timing"`

	Transport struct {
		TxRetries int `toml:"tx_retries"`
		QueueSize int `toml:"queue_size"`
	} `toml:"transport"`

	Status struct {
		Listen string `toml:"listen"`
	} `toml:"status"`

	Hardware struct {
		Enabled bool             `toml:"enabled"`
		I2CBus  string           `toml:"i2c_bus"`
		PortA   filePortHardware `toml:"port_a"`
		PortB   filePortHardware `toml:"port_b"`
		Output  struct {
			BoostPin string `toml:"boost_pin"`
			LoadPin  string `toml:"load_pin"`
			SensePin string `toml:"sense_pin"`
		} `toml:"output"`
		Light struct {
			RedPin    string `toml:"red_pin"`
			GreenPin  string `toml:"green_pin"`
			BluePin   string `toml:"blue_pin"`
			ActiveLow bool   `toml:"active_low"`
		} `toml:"light"`
	} `toml:"hardware"`

	Supplies []fileSupply `toml:"supply"`
}

type filePortHardware struct {
	DigipotAddr uint16 `toml:"digipot_addr"`
	SwitchPin   string `toml:"switch_pin"`
	PHY         string `toml:"phy"`
	PHYAddr     uint16 `toml:"phy_addr"`
}

type fileSupply struct {
	Port           string   `toml:"port"`
	AttachAfter    string   `toml:"attach_after"`
	DetachAfter    string   `toml:"detach_after"`
	PDOs           []string `toml:"pdos"`
	RejectRequests bool     `toml:"reject_requests"`
	Unresponsive   bool     `toml:"unresponsive"`
}

// Load reads the file at path over the defaults and validates the result.
func Load(path string) (Config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, errors.Wrap(err, "load config")
	}
	cfg, err := apply(Default(), &raw, meta)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Decode parses TOML text over the defaults and validates the result.
func Decode(data string) (Config, error) {
	var raw fileConfig
	meta, err := toml.Decode(data, &raw)
	if err != nil {
		return Config{}, errors.Wrap(err, "decode config")
	}
	cfg, err := apply(Default(), &raw, meta)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func apply(cfg Config, raw *fileConfig, meta toml.MetaData) (Config, error) {
	if meta.IsDefined("required_output_power_mw") {
		cfg.RequiredPowerMW = raw.RequiredPowerMW
	}

	if meta.IsDefined("strategy") {
		s, err := powermux.ParseStrategy(raw.Strategy)
		if err != nil {
			return Config{}, errors.Wrap(err, "parse strategy")
		}
		cfg.Strategy = s
	}

	if meta.IsDefined("log_level") {
		l, err := logrus.ParseLevel(strings.TrimSpace(raw.LogLevel))
		if err != nil {
			return Config{}, errors.Wrap(err, "parse log_level")
		}
		cfg.LogLevel = l
	}

	if meta.IsDefined("selection", "min_voltage_mv") {
		cfg.MinVoltageMV = raw.Selection.MinVoltageMV
	}
	if meta.IsDefined("selection", "max_voltage_mv") {
		cfg.MaxVoltageMV = raw.Selection.MaxVoltageMV
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"caps_request_delay", raw.Timing.CapsRequestDelay, &cfg.Port.CapsRequestDelay},
		{"response_timeout", raw.Timing.ResponseTimeout, &cfg.Port.ResponseTimeout},
		{"ps_transition_timeout", raw.Timing.PSTransitionTimeout, &cfg.Port.PSTransitionTimeout},
		{"tick_interval", raw.Timing.TickInterval, &cfg.TickInterval},
	}
	for _, d := range durations {
		if !meta.IsDefined("timing", d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return Config{}, errors.Wrapf(err, "parse timing.%s", d.key)
		}
		*d.dst = v
	}

	if meta.IsDefined("transport", "tx_retries") {
		cfg.Port.TxRetries = raw.Transport.TxRetries
	}
	if meta.IsDefined("transport", "queue_size") {
		cfg.Port.QueueSize = raw.Transport.QueueSize
	}

	if meta.IsDefined("status", "listen") {
		cfg.StatusListen = strings.TrimSpace(raw.Status.Listen)
	}

	hw := &cfg.Hardware
	if meta.IsDefined("hardware", "enabled") {
		hw.Enabled = raw.Hardware.Enabled
	}
	if meta.IsDefined("hardware", "i2c_bus") {
		hw.I2CBus = strings.TrimSpace(raw.Hardware.I2CBus)
	}
	for i, p := range []struct {
		key string
		raw filePortHardware
	}{{"port_a", raw.Hardware.PortA}, {"port_b", raw.Hardware.PortB}} {
		if meta.IsDefined("hardware", p.key, "digipot_addr") {
			hw.Ports[i].DigipotAddr = p.raw.DigipotAddr
		}
		if meta.IsDefined("hardware", p.key, "switch_pin") {
			hw.Ports[i].SwitchPin = strings.TrimSpace(p.raw.SwitchPin)
		}
		if meta.IsDefined("hardware", p.key, "phy") {
			hw.Ports[i].PHY = strings.ToLower(strings.TrimSpace(p.raw.PHY))
		}
		if meta.IsDefined("hardware", p.key, "phy_addr") {
			hw.Ports[i].PHYAddr = p.raw.PHYAddr
		}
	}
	setString(meta, &hw.Output.BoostPin, raw.Hardware.Output.BoostPin, "hardware", "output", "boost_pin")
	setString(meta, &hw.Output.LoadPin, raw.Hardware.Output.LoadPin, "hardware", "output", "load_pin")
	setString(meta, &hw.Output.SensePin, raw.Hardware.Output.SensePin, "hardware", "output", "sense_pin")
	setString(meta, &hw.Light.RedPin, raw.Hardware.Light.RedPin, "hardware", "light", "red_pin")
	setString(meta, &hw.Light.GreenPin, raw.Hardware.Light.GreenPin, "hardware", "light", "green_pin")
	setString(meta, &hw.Light.BluePin, raw.Hardware.Light.BluePin, "hardware", "light", "blue_pin")
	if meta.IsDefined("hardware", "light", "active_low") {
		hw.Light.ActiveLow = raw.Hardware.Light.ActiveLow
	}

	if meta.IsDefined("supply") {
		supplies := make([]Supply, 0, len(raw.Supplies))
		for i, fs := range raw.Supplies {
			s, err := parseSupply(fs)
			if err != nil {
				return Config{}, errors.Wrapf(err, "supply %d", i+1)
			}
			supplies = append(supplies, s)
		}
		cfg.Supplies = supplies
	}

	return cfg, nil
}

func setString(meta toml.MetaData, dst *string, v string, key ...string) {
	if meta.IsDefined(key...) {
		*dst = strings.TrimSpace(v)
	}
}

func parseSupply(fs fileSupply) (Supply, error) {
	var s Supply
	switch strings.ToUpper(strings.TrimSpace(fs.Port)) {
	case "A":
		s.Port = pdmux.PortA
	case "B":
		s.Port = pdmux.PortB
	default:
		return Supply{}, errors.Errorf("bad port %q", fs.Port)
	}
	var err error
	if fs.AttachAfter != "" {
		if s.AttachAfter, err = time.ParseDuration(fs.AttachAfter); err != nil {
			return Supply{}, errors.Wrap(err, "parse attach_after")
		}
	}
	if fs.DetachAfter != "" {
		if s.DetachAfter, err = time.ParseDuration(fs.DetachAfter); err != nil {
			return Supply{}, errors.Wrap(err, "parse detach_after")
		}
	}
	for _, p := range fs.PDOs {
		pdo, err := ParsePDO(p)
		if err != nil {
			return Supply{}, err
		}
		s.PDOs = append(s.PDOs, pdo)
	}
	s.RejectRequests = fs.RejectRequests
	s.Unresponsive = fs.Unresponsive
	return s, nil
}

// ParsePDO parses a power data object written as one of
//
//	fixed:<mV>:<mA>
//	battery:<min mV>:<max mV>:<mW>
//	variable:<min mV>:<max mV>:<mA>
func ParsePDO(s string) (pdmsg.PDO, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	nums := make([]uint32, 0, len(parts)-1)
	for _, p := range parts[1:] {
		n, err := strconv.ParseUint(strings.TrimSpace(p), 10, 32)
		if err != nil {
			return 0, errors.Wrapf(err, "parse pdo %q", s)
		}
		nums = append(nums, uint32(n))
	}
	bad := errors.Errorf("parse pdo %q: want fixed:mV:mA, battery:mV:mV:mW or variable:mV:mV:mA", s)
	switch strings.ToLower(parts[0]) {
	case "fixed":
		if len(nums) != 2 {
			return 0, bad
		}
		return pdmsg.PDO(pdmsg.NewFixedSupplyPDO(nums[0], nums[1])), nil
	case "battery":
		if len(nums) != 3 {
			return 0, bad
		}
		return pdmsg.PDO(pdmsg.NewBatteryPDO(nums[0], nums[1], nums[2])), nil
	case "variable":
		if len(nums) != 3 {
			return 0, bad
		}
		return pdmsg.PDO(pdmsg.NewVariablePDO(nums[0], nums[1], nums[2])), nil
	}
	return 0, bad
}

// Validate returns an error wrapping ErrInvalid if the configuration cannot
// be run.
func (c Config) Validate() error {
	if c.RequiredPowerMW == 0 {
		return errors.Wrap(ErrInvalid, "required_output_power_mw must be > 0")
	}
	if c.MinVoltageMV != 0 || c.MaxVoltageMV != 0 {
		if err := c.Selector().Validate(); err != nil {
			return errors.Wrapf(ErrInvalid, "selection: %v", err)
		}
	}
	if c.Port.CapsRequestDelay <= 0 || c.Port.ResponseTimeout <= 0 || c.Port.PSTransitionTimeout <= 0 {
		return errors.Wrap(ErrInvalid, "timing values must be > 0")
	}
	if c.TickInterval <= 0 || c.TickInterval > c.Port.CapsRequestDelay {
		return errors.Wrap(ErrInvalid, "tick_interval must be > 0 and <= caps_request_delay")
	}
	if c.Port.TxRetries < 0 {
		return errors.Wrap(ErrInvalid, "tx_retries must be >= 0")
	}
	if c.Port.QueueSize < 2 {
		return errors.Wrap(ErrInvalid, "queue_size must be >= 2")
	}
	for i, s := range c.Supplies {
		if s.Port.Index() < 0 {
			return errors.Wrapf(ErrInvalid, "supply %d has no valid port", i+1)
		}
		if len(s.PDOs) == 0 && !s.Unresponsive {
			return errors.Wrapf(ErrInvalid, "supply %d has no pdos", i+1)
		}
		if len(s.PDOs) > pdmsg.MaxDataObjects {
			return errors.Wrapf(ErrInvalid, "supply %d has more than %d pdos", i+1, pdmsg.MaxDataObjects)
		}
		if s.DetachAfter != 0 && s.DetachAfter <= s.AttachAfter {
			return errors.Wrapf(ErrInvalid, "supply %d detaches before it attaches", i+1)
		}
		if c.Hardware.Enabled && c.Hardware.Ports[s.Port.Index()].PHY != "" {
			return errors.Wrapf(ErrInvalid, "supply %d is on port %v which has a phy", i+1, s.Port)
		}
	}
	if c.Hardware.Enabled {
		if c.Hardware.I2CBus == "" {
			return errors.Wrap(ErrInvalid, "hardware.i2c_bus is required")
		}
		for i, p := range c.Hardware.Ports {
			if p.SwitchPin == "" || p.DigipotAddr == 0 {
				return errors.Wrapf(ErrInvalid, "hardware port %v needs digipot_addr and switch_pin", pdmux.PortAt(i))
			}
			switch p.PHY {
			case "":
			case "fusb302":
				if p.PHYAddr == 0 {
					return errors.Wrapf(ErrInvalid, "hardware port %v needs phy_addr", pdmux.PortAt(i))
				}
			default:
				return errors.Wrapf(ErrInvalid, "hardware port %v: unknown phy %q", pdmux.PortAt(i), p.PHY)
			}
		}
		o := c.Hardware.Output
		if o.BoostPin == "" || o.LoadPin == "" || o.SensePin == "" {
			return errors.Wrap(ErrInvalid, "hardware.output needs boost_pin, load_pin and sense_pin")
		}
	}
	return nil
}

// Selector returns the capability selector configured.
func (c Config) Selector() powermux.Selector {
	if c.MinVoltageMV == 0 && c.MaxVoltageMV == 0 {
		return powermux.MaxPower{}
	}
	return powermux.VoltageRange{MinVoltage: c.MinVoltageMV, MaxVoltage: c.MaxVoltageMV}
}

// Mux returns the arbiter configuration.
func (c Config) Mux() powermux.Config {
	return powermux.Config{
		RequiredPowerMW: c.RequiredPowerMW,
		Strategy:        c.Strategy,
		Selector:        c.Selector(),
	}
}

// Package board assembles a complete dual-port sink from a configuration:
// two port controllers fed by simulated sources, the load switches, the
// output stage, the status light and the arbiter tying them together.
package board

import (
	"context"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/oxplot/pdmux"
	"github.com/oxplot/pdmux/config"
	"github.com/oxplot/pdmux/driver"
	"github.com/oxplot/pdmux/driver/digipot"
	"github.com/oxplot/pdmux/driver/dishy"
	"github.com/oxplot/pdmux/driver/powerswitch"
	"github.com/oxplot/pdmux/driver/statuslight"
	"github.com/oxplot/pdmux/mstime"
	"github.com/oxplot/pdmux/portctl"
	"github.com/oxplot/pdmux/powermux"
	"github.com/oxplot/pdmux/simsrc"
)

// Board is a running sink.
type Board struct {
	log   logrus.FieldLogger
	clock mstime.Clock
	tick  time.Duration
	hw    *Hardware

	Mux         *powermux.Mux
	Controllers [pdmux.NumPorts]*portctl.Controller
	Switches    [pdmux.NumPorts]*powerswitch.Switch
	Output      *dishy.Output
	Light       *statuslight.Light

	lines    [pdmux.NumPorts]*line
	supplies []*supply
	plan     []step
	next     int
	start    uint32
}

type supply struct {
	port int
	src  *simsrc.Source
}

// step plugs or unplugs a supply at a time relative to the board start.
type step struct {
	at   uint32
	s    *supply
	plug bool
}

// New builds a board from cfg on hw. A nil hw runs on virtual pins and a
// virtual bus.
func New(cfg config.Config, hw *Hardware, clock mstime.Clock, log logrus.FieldLogger) (*Board, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log = pdmux.OrDiscard(log)
	if hw == nil {
		hw = VirtualHardware(log)
	}
	b := &Board{
		log:   log,
		clock: clock,
		tick:  cfg.TickInterval,
		hw:    hw,
		start: clock.Millis(),
	}

	ports := make([]powermux.Port, 0, pdmux.NumPorts)
	for i := range b.Controllers {
		id := pdmux.PortAt(i)
		plog := log.WithField("port", id)

		pot, err := digipot.New(hw.Bus, hw.Ports[i].DigipotAddr)
		if err != nil {
			return nil, errors.Wrapf(err, "port %v digipot", id)
		}
		sw, err := powerswitch.New(hw.Ports[i].Switch, pot)
		if err != nil {
			return nil, errors.Wrapf(err, "port %v switch", id)
		}
		b.Switches[i] = sw

		var tr portctl.Transport
		if phy := hw.Ports[i].PHY; phy != nil {
			tr = phy
		} else {
			b.lines[i] = &line{}
			tr = b.lines[i]
		}
		b.Controllers[i] = portctl.New(id, tr, clock, cfg.Port, plog)
		ports = append(ports, powermux.Port{Controller: b.Controllers[i], Switch: sw})
	}

	b.Output = dishy.New(dishy.Pins{Boost: hw.Boost, Load: hw.Load, Sense: hw.Sense}, log)
	if hw.Red != nil || hw.Green != nil || hw.Blue != nil {
		b.Light = statuslight.New(hw.Red, hw.Green, hw.Blue, hw.ActiveLow, log)
	}

	mcfg := cfg.Mux()
	mcfg.Selector = powermux.NewLogger(log.WithField("component", "selector"), mcfg.Selector)
	m, err := powermux.New(mcfg, b.Output, log.WithField("component", "powermux"), ports...)
	if err != nil {
		return nil, err
	}
	if b.Light != nil {
		m.SetIndicator(b.Light)
	}
	b.Mux = m

	for _, sc := range cfg.Supplies {
		if b.lines[sc.Port.Index()] == nil {
			return nil, errors.Errorf("port %v has a phy and takes no simulated supply", sc.Port)
		}
		s := &supply{
			port: sc.Port.Index(),
			src: simsrc.New(sc.PDOs, simsrc.Options{
				RejectRequests: sc.RejectRequests,
				Unresponsive:   sc.Unresponsive,
			}, log.WithField("port", sc.Port)),
		}
		s.src.Connect(b.Controllers[s.port])
		b.supplies = append(b.supplies, s)
		b.plan = append(b.plan, step{at: mstime.ToMillis(sc.AttachAfter), s: s, plug: true})
		if sc.DetachAfter != 0 {
			b.plan = append(b.plan, step{at: mstime.ToMillis(sc.DetachAfter), s: s})
		}
	}
	sort.SliceStable(b.plan, func(i, j int) bool { return b.plan[i].at < b.plan[j].at })

	return b, nil
}

// Step runs the due supply changes and one tick of every component.
func (b *Board) Step() {
	elapsed := mstime.Since(b.clock.Millis(), b.start)
	for b.next < len(b.plan) && b.plan[b.next].at <= elapsed {
		b.apply(b.plan[b.next])
		b.next++
	}
	for i, c := range b.Controllers {
		if phy := b.hw.Ports[i].PHY; phy != nil {
			if err := phy.Poll(c); err != nil {
				b.log.WithError(err).WithField("port", pdmux.PortAt(i)).Warn("phy poll")
			}
		}
		c.Tick()
	}
	if err := b.Output.Tick(); err != nil {
		b.log.WithError(err).Error("output stage")
	}
}

func (b *Board) apply(st step) {
	l := b.lines[st.s.port]
	log := b.log.WithField("port", pdmux.PortAt(st.s.port))
	if !st.plug {
		if l.current() != st.s.src {
			return
		}
		log.Info("supply unplugged")
		if err := st.s.src.Unplug(); err != nil {
			log.WithError(err).Warn("unplug")
		}
		l.set(nil)
		return
	}
	if prev := l.current(); prev != nil {
		log.Warn("replacing plugged supply")
		if err := prev.Unplug(); err != nil {
			log.WithError(err).Warn("unplug")
		}
	}
	l.set(st.s.src)
	log.Info("supply plugged")
	if err := st.s.src.Plug(); err != nil {
		log.WithError(err).Warn("plug")
	}
}

// Source returns the simulated supply currently plugged into port, or nil.
func (b *Board) Source(port pdmux.PortID) *simsrc.Source {
	i := port.Index()
	if i < 0 || b.lines[i] == nil {
		return nil
	}
	return b.lines[i].current()
}

// Run steps the board every tick interval until ctx is done, then turns the
// output off.
func (b *Board) Run(ctx context.Context) error {
	t := time.NewTicker(b.tick)
	defer t.Stop()

	b.log.Info("main loop starts")
	for {
		select {
		case <-ctx.Done():
			b.shutdown()
			return nil
		case <-t.C:
			b.Step()
		}
	}
}

func (b *Board) shutdown() {
	b.Output.DisablePower()
	if err := b.Output.Tick(); err != nil {
		b.log.WithError(err).Error("output stage")
	}
	for i, sw := range b.Switches {
		if err := sw.SetEnabled(false); err != nil {
			b.log.WithError(err).WithField("port", pdmux.PortAt(i)).Error("switch")
		}
	}
	if err := b.hw.Close(); err != nil {
		b.log.WithError(err).Warn("close hardware")
	}
}

// Pins lists the pins of a virtual board by name, nil otherwise.
func (b *Board) Pins() map[string]*driver.VirtualPin {
	return b.hw.virtual
}

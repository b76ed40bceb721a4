package fusb302

import (
	"bytes"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/oxplot/pdmux/pdmsg"
	"github.com/oxplot/pdmux/portctl"
)

// chip models the FUSB302 registers the driver touches. Interrupt registers
// clear on read and the receive FIFO is a byte stream.
type chip struct {
	regs   [0x44]byte
	rx     []byte
	tx     [][]byte
	writes []uint8 // registers written, FIFO excluded

	ack       bool // set TxSuccess when a frame is written
	nack      bool // set RetryFail when a frame is written
	resetSent bool // set HardSent on a hard reset request
}

func (c *chip) Tx(addr uint16, w, r []byte) error {
	if addr != FUSB302BMPX.I2CAddress() {
		return errors.Errorf("no device at %#x", addr)
	}
	reg := w[0]
	if len(w) > 1 {
		if reg == regFIFOs {
			c.tx = append(c.tx, append([]byte(nil), w[1:]...))
			switch {
			case c.ack:
				c.regs[regInterruptA] |= regInterruptATxSuccess
			case c.nack:
				c.regs[regInterruptA] |= regInterruptARetryFail
			}
			return nil
		}
		c.writes = append(c.writes, reg)
		c.regs[reg] = w[1]
		if reg == regControl3 && w[1]&regControl3SendHardReset != 0 && c.resetSent {
			c.regs[regInterruptA] |= regInterruptAHardSent
		}
		return nil
	}
	for i := range r {
		a := reg + uint8(i)
		if reg == regFIFOs {
			r[i], c.rx = c.rx[0], c.rx[1:]
			continue
		}
		if a == regStatus1 {
			c.regs[a] &^= regStatus1RxEmpty
			if len(c.rx) == 0 {
				c.regs[a] |= regStatus1RxEmpty
			}
		}
		r[i] = c.regs[a]
		switch a {
		case regInterruptA, regInterruptB, regInterrupt:
			c.regs[a] = 0
		}
	}
	return nil
}

// receive queues frame in the FIFO the way the chip does.
func (c *chip) receive(frame []byte) {
	c.rx = append(c.rx, fifoTokenSOP)
	c.rx = append(c.rx, frame...)
	c.rx = append(c.rx, 0xde, 0xad, 0xbe, 0xef)
	c.regs[regInterrupt] |= regInterruptCRCChk
}

type sink struct {
	got []portctl.Signal
	err error
}

func (s *sink) Ingest(sig portctl.Signal) error {
	s.got = append(s.got, sig)
	return s.err
}

func newDev(c *chip) (*Dev, *int) {
	d := New(c, FUSB302BMPX, nil)
	sleeps := 0
	d.sleep = func(time.Duration) { sleeps++ }
	return d, &sleeps
}

func TestInit(t *testing.T) {
	c := &chip{}
	d, _ := newDev(c)
	if err := d.Init(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []uint8{regReset, regControl1, regPower, regControl2, regControl3}
	if !bytes.Equal(c.writes, want) {
		t.Fatalf("writes = %x, want %x", c.writes, want)
	}
	if c.regs[regPower] != regPowerPwrAll || c.regs[regControl3] != regControl3AutoRetry {
		t.Fatal("unexpected register values")
	}
}

func TestTransmit(t *testing.T) {
	frame := pdmsg.EncodeRequest(pdmsg.RequestDO(0x2000_0000|300<<10|300), 5)

	tests := []struct {
		name   string
		ack    bool
		nack   bool
		err    error
		sleeps int
	}{
		{name: "acknowledged", ack: true},
		{name: "retries exhausted", nack: true, err: ErrTxFailed},
		{name: "no answer", err: ErrTxFailed, sleeps: 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &chip{ack: tt.ack, nack: tt.nack}
			d, sleeps := newDev(c)
			if err := d.Transmit(frame); !errors.Is(err, tt.err) {
				t.Fatalf("Transmit() = %v, want %v", err, tt.err)
			}
			if *sleeps != tt.sleeps {
				t.Fatalf("slept %d times, want %d", *sleeps, tt.sleeps)
			}
			if len(c.tx) != 1 {
				t.Fatalf("fifo writes = %d", len(c.tx))
			}
			pkt := c.tx[0]
			if pkt[4] != fifoTokenPackSym|byte(len(frame)) || !bytes.Equal(pkt[5:5+len(frame)], frame) {
				t.Fatalf("unexpected packet % x", pkt)
			}
			if !bytes.Equal(pkt[len(pkt)-4:], []byte{fifoTokenJamCRC, fifoTokenEOP, fifoTokenTxOff, fifoTokenTxOn}) {
				t.Fatalf("unexpected trailer % x", pkt)
			}
		})
	}
}

func TestTransmitSkipsGoodCRC(t *testing.T) {
	c := &chip{}
	d, _ := newDev(c)
	if err := d.Transmit(pdmsg.EncodeControl(pdmsg.TypeGoodCRC, 2)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(c.tx) != 0 || len(c.writes) != 0 {
		t.Fatal("GoodCRC reached the chip")
	}
	if err := d.Transmit([]byte{1}); err == nil {
		t.Fatal("expected error for a short frame")
	}
}

func TestSendHardReset(t *testing.T) {
	c := &chip{resetSent: true}
	c.regs[regControl3] = regControl3AutoRetry
	d, _ := newDev(c)
	if err := d.SendHardReset(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.regs[regControl3] != regControl3AutoRetry|regControl3SendHardReset {
		t.Fatalf("control3 = %#x", c.regs[regControl3])
	}

	c = &chip{}
	d, sleeps := newDev(c)
	if err := d.SendHardReset(); !errors.Is(err, ErrTxFailed) || *sleeps != 5 {
		t.Fatalf("SendHardReset() = %v after %d sleeps", err, *sleeps)
	}
}

func TestPollAttachAndReceive(t *testing.T) {
	c := &chip{}
	d, _ := newDev(c)

	c.regs[regInterruptA] = regInterruptATogDone
	c.regs[regStatus1A] = regStatus1ATogSSSnk2 << regStatus1ATogSSPos
	c.regs[regInterrupt] = regInterruptVBusOK
	c.regs[regStatus0] = regStatus0VBusOK

	h := pdmsg.NewHeader(pdmsg.TypeSourceCap, 1, 2)
	caps := pdmsg.Message{Header: h}
	caps.Data[0] = uint32(pdmsg.NewFixedSupplyPDO(5000, 3000))
	caps.Data[1] = uint32(pdmsg.NewFixedSupplyPDO(20000, 3000))
	c.receive(pdmsg.EncodeControl(pdmsg.TypeGoodCRC, 0))
	c.receive(caps.Bytes())

	var s sink
	if err := d.Poll(&s); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.regs[regSwitches1] != regSwitches1SpecRev1|regSwitches1AutoGCRC|regSwitches1TxCC2En {
		t.Fatalf("switches1 = %#x", c.regs[regSwitches1])
	}
	if c.regs[regSwitches0]&regSwitches0MeasCC2 == 0 {
		t.Fatal("not measuring CC2")
	}
	if len(s.got) != 2 {
		t.Fatalf("signals = %+v", s.got)
	}
	if s.got[0].Kind != portctl.SignalAttached {
		t.Fatalf("first signal = %v", s.got[0].Kind)
	}
	if s.got[1].Kind != portctl.SignalFrame || !bytes.Equal(s.got[1].Bytes(), caps.Bytes()) {
		t.Fatalf("frame = % x, want % x", s.got[1].Bytes(), caps.Bytes())
	}
	if len(c.rx) != 0 {
		t.Fatal("fifo not drained")
	}

	// Nothing pending.
	s.got = nil
	if err := d.Poll(&s); err != nil || len(s.got) != 0 {
		t.Fatalf("idle poll: %v %+v", err, s.got)
	}
}

func TestPollResetAndDetach(t *testing.T) {
	c := &chip{}
	d, _ := newDev(c)
	c.regs[regInterruptA] = regInterruptAHardReset
	c.regs[regStatus0A] = regStatus0ARxHardReset
	c.regs[regInterrupt] = regInterruptVBusOK

	s := sink{err: portctl.ErrQueueFull}
	err := d.Poll(&s)
	if !errors.Is(err, portctl.ErrQueueFull) {
		t.Fatalf("Poll() = %v", err)
	}
	if len(s.got) != 2 || s.got[0].Kind != portctl.SignalHardReset || s.got[1].Kind != portctl.SignalDetached {
		t.Fatalf("signals = %+v", s.got)
	}
}

func TestPollInvalidCC(t *testing.T) {
	c := &chip{}
	d, _ := newDev(c)
	c.regs[regInterruptA] = regInterruptATogDone
	if err := d.Poll(&sink{}); !errors.Is(err, ErrInvalidCCState) {
		t.Fatalf("Poll() = %v", err)
	}
}

func TestTxInterruptsKeptForPoll(t *testing.T) {
	c := &chip{ack: true}
	d, _ := newDev(c)
	c.regs[regStatus0A] = regStatus0ARxHardReset
	// A hard reset arriving while waiting for GoodCRC.
	c.regs[regInterruptA] = regInterruptAHardReset
	if err := d.Transmit(pdmsg.EncodeControl(pdmsg.TypeGetSourceCap, 0)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var s sink
	if err := d.Poll(&s); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(s.got) != 1 || s.got[0].Kind != portctl.SignalHardReset {
		t.Fatalf("signals = %+v", s.got)
	}
}

// Package fusb302 drives the FUSB302 Type-C port controller from ONSemi as
// the physical layer of a port controller. It transmits frames and hard
// resets, and turns the chip interrupts into line signals.
package fusb302

import (
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/oxplot/pdmux"
	"github.com/oxplot/pdmux/driver"
	"github.com/oxplot/pdmux/pdmsg"
	"github.com/oxplot/pdmux/portctl"
)

// MPN represents the manufacturer part number.
type MPN uint8

// I2CAddress returns the I2C address of the FUSB302.
func (m MPN) I2CAddress() uint16 {
	return uint16(m)
}

// Manufacturer part numbers
const (
	FUSB302BUCX   MPN = 0b100010
	FUSB302BMPX   MPN = 0b100010
	FUSB302VMPX   MPN = 0b100010
	FUSB302B01MPX MPN = 0b100011
	FUSB302B10MPX MPN = 0b100100
	FUSB302B11MPX MPN = 0b100101
)

var (
	// ErrTxFailed is returned when the partner did not acknowledge a frame
	// after the automatic retries.
	ErrTxFailed = errors.New("fusb302: tx failed")

	// ErrInvalidCCState is returned when the CC lines settle in a state a
	// sink cannot use.
	ErrInvalidCCState = errors.New("fusb302: invalid cc state")

	errRxEmpty = errors.New("fusb302: rx empty")
)

// Ingester receives the line signals. portctl.Controller implements it.
type Ingester interface {
	Ingest(portctl.Signal) error
}

// Dev is a FUSB302 on an I2C bus.
type Dev struct {
	bus  driver.I2C
	addr uint16
	log  logrus.FieldLogger

	intA uint8 // interrupts read while polling for tx completion

	// sleep waits between completion polls.
	sleep func(time.Duration)

	// Buffer used for tx and rx, defined once here to avoid allocations in
	// each call.
	buf [pdmsg.MaxMessageBytes + 10]byte
}

// New returns the driver of the chip at the address of mpn. The I2C bus must
// run at 1MHz or less.
func New(bus driver.I2C, mpn MPN, log logrus.FieldLogger) *Dev {
	return &Dev{
		bus:   bus,
		addr:  mpn.I2CAddress(),
		log:   pdmux.OrDiscard(log).WithField("phy", "fusb302"),
		sleep: time.Sleep,
	}
}

func (d *Dev) write(r uint8, v byte) error {
	d.buf[0] = r
	d.buf[1] = v
	return d.bus.Tx(d.addr, d.buf[:2], nil)
}

func (d *Dev) read(r uint8) (byte, error) {
	d.buf[0] = r
	err := d.bus.Tx(d.addr, d.buf[:1], d.buf[1:2])
	return d.buf[1], err
}

func (d *Dev) writeMany(r uint8, v []byte) error {
	d.buf[0] = r
	copy(d.buf[1:], v)
	return d.bus.Tx(d.addr, d.buf[:len(v)+1], nil)
}

func (d *Dev) readMany(r uint8, v []byte) error {
	d.buf[0] = r
	err := d.bus.Tx(d.addr, d.buf[:1], d.buf[1:len(v)+1])
	if err == nil {
		copy(v, d.buf[1:len(v)+1])
	}
	return err
}

// Init resets the chip and starts sink mode CC detection.
func (d *Dev) Init() error {
	steps := []struct {
		reg, val uint8
		what     string
	}{
		{regReset, regResetSWReset, "reset"},
		{regControl1, regControl1RxFlush, "flush rx"},
		{regPower, regPowerPwrAll, "power"},
		{regControl2, regControl2SnkToggle, "cc detect"},
		{regControl3, regControl3AutoRetry, "auto retry"},
	}
	for _, s := range steps {
		if err := d.write(s.reg, s.val); err != nil {
			return errors.Wrapf(err, "fusb302: %s", s.what)
		}
	}
	d.intA = 0
	return nil
}

// Transmit implements portctl.Transport. It returns once the partner
// acknowledged the frame. GoodCRC frames are not sent as the chip replies
// with GoodCRC on its own.
func (d *Dev) Transmit(frame []byte) error {
	h, err := pdmsg.DecodeHeader(frame)
	if err != nil {
		return err
	}
	if !h.IsData() && h.Type() == pdmsg.TypeGoodCRC {
		return nil
	}
	if len(frame) > pdmsg.MaxMessageBytes {
		return errors.Errorf("fusb302: frame of %d bytes", len(frame))
	}

	if err := d.write(regControl0, regControl0TxFlush); err != nil {
		return errors.Wrap(err, "fusb302: flush tx")
	}

	var pkt [9 + pdmsg.MaxMessageBytes]byte
	copy(pkt[:], []byte{fifoTokenSync1, fifoTokenSync1, fifoTokenSync1, fifoTokenSync2})
	pkt[4] = fifoTokenPackSym | byte(len(frame))
	n := 5 + copy(pkt[5:], frame)
	n += copy(pkt[n:], []byte{fifoTokenJamCRC, fifoTokenEOP, fifoTokenTxOff, fifoTokenTxOn})
	if err := d.writeMany(regFIFOs, pkt[:n]); err != nil {
		return errors.Wrap(err, "fusb302: write fifo")
	}

	// Wait for GoodCRC, a retry failure or about 10ms.
	for i := 0; i < 10; i++ {
		r, err := d.read(regInterruptA)
		if err != nil {
			return err
		}
		d.intA |= r
		if r&regInterruptATxSuccess != 0 {
			return nil
		}
		if r&regInterruptARetryFail != 0 {
			return ErrTxFailed
		}
		d.sleep(time.Millisecond)
	}
	return ErrTxFailed
}

// SendHardReset implements portctl.Transport.
func (d *Dev) SendHardReset() error {
	r, err := d.read(regControl3)
	if err != nil {
		return err
	}
	if err := d.write(regControl3, r|regControl3SendHardReset); err != nil {
		return err
	}
	for i := 0; i < 5; i++ {
		intA, err := d.read(regInterruptA)
		if err != nil {
			return err
		}
		d.intA |= intA
		if intA&regInterruptAHardSent != 0 {
			return nil
		}
		d.sleep(time.Millisecond)
	}
	return ErrTxFailed
}

// Poll processes the pending interrupts and hands the resulting signals to
// dst: attach and detach on VBUS changes, hard resets, and every received
// frame except GoodCRC.
func (d *Dev) Poll(dst Ingester) error {
	var regs [7]byte
	if err := d.readMany(regStatus0A, regs[:]); err != nil {
		return errors.Wrap(err, "fusb302: read status")
	}
	status0A, status1A, intA, status0, intT := regs[0], regs[1], regs[2], regs[4], regs[6]
	intA |= d.intA
	d.intA = 0

	var firstErr error
	ingest := func(s portctl.Signal) {
		if err := dst.Ingest(s); err != nil {
			d.log.WithError(err).WithField("signal", s.Kind).Warn("signal dropped")
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if intA&regInterruptAHardReset != 0 && status0A&regStatus0ARxHardReset != 0 {
		ingest(portctl.Signal{Kind: portctl.SignalHardReset})
	}

	// Route tx and rx to the CC line the source pulls up once toggling is
	// done.
	if intA&regInterruptATogDone != 0 {
		if err := d.orient(status1A); err != nil {
			return err
		}
	}

	if intT&regInterruptVBusOK != 0 {
		if status0&regStatus0VBusOK == 0 {
			ingest(portctl.Signal{Kind: portctl.SignalDetached})
		} else {
			ingest(portctl.Signal{Kind: portctl.SignalAttached})
		}
	}

	if intT&regInterruptCRCChk != 0 {
		for {
			var sig portctl.Signal
			err := d.rx(&sig)
			if errors.Is(err, errRxEmpty) {
				break
			}
			if err != nil {
				return err
			}
			h, _ := pdmsg.DecodeHeader(sig.Bytes())
			if !h.IsData() && h.Type() == pdmsg.TypeGoodCRC {
				continue
			}
			ingest(sig)
		}
	}
	return firstErr
}

func (d *Dev) orient(status1A uint8) error {
	if err := d.write(regControl2, 0); err != nil {
		return err
	}
	var pol, meas uint8
	switch (status1A >> regStatus1ATogSSPos) & regStatus1ATogSSMask {
	case regStatus1ATogSSSnk1:
		pol, meas = regSwitches1TxCC1En, regSwitches0MeasCC1
	case regStatus1ATogSSSnk2:
		pol, meas = regSwitches1TxCC2En, regSwitches0MeasCC2
	default:
		return ErrInvalidCCState
	}
	if err := d.write(regSwitches1, regSwitches1SpecRev1|regSwitches1AutoGCRC|pol); err != nil {
		return err
	}
	return d.write(regSwitches0, meas|regSwitches0CC1PdEn|regSwitches0CC2PdEn)
}

// rx reads one frame from the receive FIFO into s.
func (d *Dev) rx(s *portctl.Signal) error {
	st, err := d.read(regStatus1)
	if err != nil {
		return err
	}
	if st&regStatus1RxEmpty != 0 {
		return errRxEmpty
	}

	// SOP token then the header.
	var hdr [3]byte
	if err := d.readMany(regFIFOs, hdr[:]); err != nil {
		return err
	}
	h, _ := pdmsg.DecodeHeader(hdr[1:])
	n := int(h.DataObjectCount()) * 4

	// Data objects then the CRC, which is dropped.
	var rest [pdmsg.MaxMessageBytes + 4]byte
	if err := d.readMany(regFIFOs, rest[:n+4]); err != nil {
		return err
	}
	*s = portctl.Signal{Kind: portctl.SignalFrame, Size: uint8(2 + n)}
	copy(s.Frame[:], hdr[1:])
	copy(s.Frame[2:], rest[:n])
	return nil
}

const (
	regSwitches0        = 0x02
	regSwitches0MeasCC2 = 1 << 3
	regSwitches0MeasCC1 = 1 << 2
	regSwitches0CC2PdEn = 1 << 1
	regSwitches0CC1PdEn = 1 << 0

	regSwitches1         = 0x03
	regSwitches1SpecRev1 = 1 << 6
	regSwitches1AutoGCRC = 1 << 2
	regSwitches1TxCC2En  = 1 << 1
	regSwitches1TxCC1En  = 1 << 0

	regControl0        = 0x06
	regControl0TxFlush = 0b01100100

	regControl1        = 0x07
	regControl1RxFlush = 0b100

	regControl2          = 0x08
	regControl2SnkToggle = 0b00000101

	regControl3              = 0x09
	regControl3AutoRetry     = 0b111
	regControl3SendHardReset = 1 << 6

	regPower       = 0x0B
	regPowerPwrAll = 0xF

	regReset        = 0x0C
	regResetSWReset = 1 << 0

	regStatus0A            = 0x3C
	regStatus0ARxHardReset = 1 << 0

	regStatus1A          = 0x3D
	regStatus1ATogSSSnk1 = 0b101
	regStatus1ATogSSSnk2 = 0b110
	regStatus1ATogSSPos  = 3
	regStatus1ATogSSMask = 0x7

	regInterruptA          = 0x3E
	regInterruptATogDone   = 1 << 6
	regInterruptARetryFail = 1 << 4
	regInterruptAHardSent  = 1 << 3
	regInterruptATxSuccess = 1 << 2
	regInterruptAHardReset = 1 << 0

	regInterruptB = 0x3F

	regStatus0       = 0x40
	regStatus0VBusOK = 1 << 7

	regStatus1        = 0x41
	regStatus1RxEmpty = 1 << 5

	regInterrupt       = 0x42
	regInterruptVBusOK = 1 << 7
	regInterruptCRCChk = 1 << 4

	regFIFOs = 0x43

	fifoTokenTxOn    = 0xA1
	fifoTokenSync1   = 0x12
	fifoTokenSync2   = 0x13
	fifoTokenPackSym = 0x80
	fifoTokenJamCRC  = 0xFF
	fifoTokenEOP     = 0x14
	fifoTokenTxOff   = 0xFE
	fifoTokenSOP     = 0xE0
)

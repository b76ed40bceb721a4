package powerswitch

import (
	"testing"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
	"periph.io/x/conn/v3/i2c/i2ctest"

	"github.com/oxplot/pdmux/driver/digipot"
)

func TestResistanceFor(t *testing.T) {
	tests := []struct {
		mA   uint32
		ohms uint32
	}{
		{0, 70000},
		{100, 70000},
		{1000, 45000},
		{2325, 27067},
		{5000, 15000},
		{15000, 7000},
	}
	for _, tt := range tests {
		if got := ResistanceFor(tt.mA); got != tt.ohms {
			t.Errorf("ResistanceFor(%d) = %d, want %d", tt.mA, got, tt.ohms)
		}
	}
}

type fakeResistor struct {
	ohms uint32
}

func (f *fakeResistor) SetResistance(ohms uint32) error {
	f.ohms = ohms
	return nil
}

func TestSwitch(t *testing.T) {
	pin := &gpiotest.Pin{N: "SW_A", L: gpio.High}
	res := &fakeResistor{}
	s, err := New(pin, res)
	if err != nil {
		t.Fatal(err)
	}
	if pin.L != gpio.Low || s.Enabled() {
		t.Fatalf("new switch not disabled")
	}

	if err := s.SetCurrentLimit(5000); err != nil {
		t.Fatal(err)
	}
	if res.ohms != 15000 || s.CurrentLimit() != 5000 {
		t.Errorf("ohms = %d limit = %d", res.ohms, s.CurrentLimit())
	}
	if err := s.SetEnabled(true); err != nil {
		t.Fatal(err)
	}
	if pin.L != gpio.High || !s.Enabled() {
		t.Errorf("switch not enabled")
	}
}

func TestSwitchWithDigipot(t *testing.T) {
	bus := &i2ctest.Record{}
	pot, err := digipot.New(bus, 0x2e)
	if err != nil {
		t.Fatal(err)
	}
	s, err := New(&gpiotest.Pin{N: "SW_B"}, pot)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SetCurrentLimit(5000); err != nil {
		t.Fatal(err)
	}
	if want := digipot.TapFor(15000); pot.Tap() != want {
		t.Errorf("tap = %d, want %d", pot.Tap(), want)
	}
}

//go:build arm || arm64

package main

import (
	"fmt"

	"github.com/stianeikeland/go-rpio"

	"github.com/timex-sinclair-projects/TS-2050-Wifi/debug"
)

// GPIO assignments, matching the TS-2050 adapter board wiring. D0..D7 are
// the data bus; the strobes RD, WR and CS are active low, RESET active
// high.
const (
	pinD0    = 0
	pinD7    = 7
	pinCD    = 8
	pinRD    = 9
	pinWR    = 10
	pinCS    = 11
	pinReset = 12
	pinTxRdy = 13
	pinRxRdy = 14
	pinClk   = 15
)

type rpioPinBank struct {
	data    [8]rpio.Pin
	cd      rpio.Pin
	rd      rpio.Pin
	wr      rpio.Pin
	cs      rpio.Pin
	reset   rpio.Pin
	txrdy   rpio.Pin
	rxrdy   rpio.Pin
	driving bool
	log     *debug.Logger
}

func openPinBank(logger *debug.Logger) (pinBank, error) {
	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("gpio: %w", err)
	}
	b := &rpioPinBank{log: logger}
	for i := range b.data {
		b.data[i] = rpio.Pin(pinD0 + i)
		b.data[i].Input()
		b.data[i].PullDown()
	}
	b.cd = rpio.Pin(pinCD)
	b.cd.Input()
	b.cd.PullUp()
	b.rd = rpio.Pin(pinRD)
	b.rd.Input()
	b.rd.PullUp()
	b.wr = rpio.Pin(pinWR)
	b.wr.Input()
	b.wr.PullUp()
	b.cs = rpio.Pin(pinCS)
	b.cs.Input()
	b.cs.PullUp()
	b.reset = rpio.Pin(pinReset)
	b.reset.Input()
	b.reset.PullDown()
	b.txrdy = rpio.Pin(pinTxRdy)
	b.txrdy.Output()
	b.rxrdy = rpio.Pin(pinRxRdy)
	b.rxrdy.Output()
	logger.Printf(debug.GPIO, "pin bank initialized")
	return b, nil
}

func (b *rpioPinBank) DataIn() byte {
	var v byte
	for i := range b.data {
		if b.data[i].Read() == rpio.High {
			v |= 1 << i
		}
	}
	return v
}

func (b *rpioPinBank) DataOut(v byte) {
	if !b.driving {
		for i := range b.data {
			b.data[i].Output()
		}
		b.driving = true
	}
	for i := range b.data {
		if v&(1<<i) != 0 {
			b.data[i].High()
		} else {
			b.data[i].Low()
		}
	}
}

func (b *rpioPinBank) DataRelease() {
	if !b.driving {
		return
	}
	for i := range b.data {
		b.data[i].Input()
		b.data[i].PullDown()
	}
	b.driving = false
}

func (b *rpioPinBank) ControlData() bool { return b.cd.Read() == rpio.High }

// RD, WR and CS are active low.
func (b *rpioPinBank) ChipSelect() bool  { return b.cs.Read() == rpio.Low }
func (b *rpioPinBank) ReadStrobe() bool  { return b.rd.Read() == rpio.Low }
func (b *rpioPinBank) WriteStrobe() bool { return b.wr.Read() == rpio.Low }

func (b *rpioPinBank) ResetLine() bool { return b.reset.Read() == rpio.High }

func (b *rpioPinBank) SetTxRdy(v bool) { writePin(b.txrdy, v) }
func (b *rpioPinBank) SetRxRdy(v bool) { writePin(b.rxrdy, v) }

func writePin(p rpio.Pin, v bool) {
	if v {
		p.High()
	} else {
		p.Low()
	}
}

func (b *rpioPinBank) Close() error {
	b.DataRelease()
	b.txrdy.Low()
	b.rxrdy.Low()
	return rpio.Close()
}

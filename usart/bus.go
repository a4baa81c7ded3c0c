package usart

import (
	"context"
	"time"

	"github.com/timex-sinclair-projects/TS-2050-Wifi/debug"
)

// PinBank is the hardware abstraction the bus engine polls. All strobe and
// select accessors report logical assertion; the implementation handles
// electrical polarity (the real lines are active low).
type PinBank interface {
	// DataIn samples the data bus.
	DataIn() byte
	// DataOut drives a value onto the data bus.
	DataOut(b byte)
	// DataRelease returns the data bus to high impedance.
	DataRelease()
	// ControlData reports the C/D line: true selects the control/status
	// register, false the data register.
	ControlData() bool
	// ChipSelect reports whether the chip is addressed.
	ChipSelect() bool
	// ReadStrobe reports the RD line.
	ReadStrobe() bool
	// WriteStrobe reports the WR line.
	WriteStrobe() bool
	// ResetLine reports the RESET pin.
	ResetLine() bool
	// SetTxRdy drives the TxRDY output pin.
	SetTxRdy(v bool)
	// SetRxRdy drives the RxRDY output pin.
	SetRxRdy(v bool)
}

// BusConfig tunes the bus cycle engine.
type BusConfig struct {
	// AccessDeadline bounds how long a strobe may stay asserted before the
	// cycle is abandoned. Defaults to 5ms.
	AccessDeadline time.Duration
	// PollInterval is the idle polling period. Defaults to 10µs.
	PollInterval time.Duration
	// Logger defaults to the emulator's logger.
	Logger *debug.Logger
}

// Bus runs host bus cycles against an emulator by polling a PinBank. It
// mirrors the strobe protocol of the real chip: a read drives the data bus
// while RD is asserted, a write latches the bus when WR deasserts. A strobe
// held past the access deadline abandons the cycle without touching
// register state.
type Bus struct {
	u        *Usart
	pins     PinBank
	deadline time.Duration
	poll     time.Duration
	log      *debug.Logger
}

// NewBus creates a bus engine and binds the TxRDY/RxRDY output pins to the
// emulator's status register.
func NewBus(u *Usart, pins PinBank, cfg *BusConfig) *Bus {
	if cfg == nil {
		cfg = &BusConfig{}
	}
	if cfg.AccessDeadline <= 0 {
		cfg.AccessDeadline = 5 * time.Millisecond
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Microsecond
	}
	if cfg.Logger == nil {
		cfg.Logger = u.log
	}
	bus := &Bus{
		u:        u,
		pins:     pins,
		deadline: cfg.AccessDeadline,
		poll:     cfg.PollInterval,
		log:      cfg.Logger,
	}
	u.BindStatusOutput(func(txrdy, rxrdy bool) {
		pins.SetTxRdy(txrdy)
		pins.SetRxRdy(rxrdy)
	})
	return bus
}

// Run polls the pin bank until ctx is cancelled. The reset line takes
// priority over everything; while the chip is selected, strobe edges start
// read and write cycles.
func (bus *Bus) Run(ctx context.Context) error {
	inReset := false
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if bus.pins.ResetLine() {
			if !inReset {
				inReset = true
				bus.log.Printf(debug.GPIO, "reset line asserted")
				bus.u.HardwareResetSync()
			}
			time.Sleep(bus.poll)
			continue
		}
		inReset = false
		if !bus.pins.ChipSelect() {
			time.Sleep(bus.poll)
			continue
		}
		switch {
		case bus.pins.ReadStrobe():
			bus.cycleRead(ctx)
		case bus.pins.WriteStrobe():
			bus.cycleWrite(ctx)
		default:
			time.Sleep(bus.poll)
		}
	}
}

func (bus *Bus) addr() int {
	if bus.pins.ControlData() {
		return RegControl
	}
	return RegData
}

// cycleRead serves one read cycle. The byte is only consumed from the RX
// queue once the host releases the strobe; an abandoned cycle leaves it in
// place.
func (bus *Bus) cycleRead(ctx context.Context) {
	addr := bus.addr()
	v := bus.u.PeekDataSync(addr)
	bus.pins.DataOut(v)
	ok := bus.waitDeassert(bus.pins.ReadStrobe)
	bus.pins.DataRelease()
	if !ok {
		bus.timeout("read", addr)
		bus.drainStrobe(ctx, bus.pins.ReadStrobe)
		return
	}
	bus.u.CommitDataSync(addr)
	bus.log.Verbosef(debug.GPIO, "read reg %d -> 0x%02X", addr, v)
}

// cycleWrite serves one write cycle. The data bus is sampled while WR is
// asserted but only committed after a clean deassert.
func (bus *Bus) cycleWrite(ctx context.Context) {
	addr := bus.addr()
	v := bus.pins.DataIn()
	if !bus.waitDeassert(bus.pins.WriteStrobe) {
		bus.timeout("write", addr)
		bus.drainStrobe(ctx, bus.pins.WriteStrobe)
		return
	}
	bus.u.WriteRegisterSync(addr, v)
	bus.log.Verbosef(debug.GPIO, "write reg %d <- 0x%02X", addr, v)
}

// drainStrobe waits out a strobe held past the deadline so its eventual
// release is not mistaken for the start of a fresh cycle.
func (bus *Bus) drainStrobe(ctx context.Context, strobe func() bool) {
	for strobe() {
		select {
		case <-ctx.Done():
			return
		default:
		}
		time.Sleep(bus.poll)
	}
}

func (bus *Bus) waitDeassert(strobe func() bool) bool {
	deadline := time.Now().Add(bus.deadline)
	for strobe() {
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(bus.poll)
	}
	return true
}

func (bus *Bus) timeout(kind string, addr int) {
	bus.u.Lock()
	bus.u.metrics.BusTimeouts++
	bus.u.Unlock()
	bus.log.Printf(debug.GPIO, "%s cycle on reg %d: %v", kind, addr, ErrBusTimeout)
}

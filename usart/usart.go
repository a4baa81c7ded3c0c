// Package usart emulates an Intel 8251 USART front end with a Hayes style
// AT command processor behind it. The host machine sees a two port 8251:
// data transfers and a mode/command/status register pair driven through bus
// strobes. Behind the registers, command mode lines go to the AT processor
// and online mode bytes flow through a TCP bridge, so a vintage terminal
// program can "dial" network hosts.
package usart

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/timex-sinclair-projects/TS-2050-Wifi/debug"
	"github.com/timex-sinclair-projects/TS-2050-Wifi/store"
	"github.com/timex-sinclair-projects/TS-2050-Wifi/wifi"
)

// State is the 8251 initialization state machine position. Register writes to
// the control port advance the machine; data transfers are only honored once
// it reaches StateOperational.
type State int

const (
	// StateReset is the power-on state, before any control write.
	StateReset State = iota
	// StateModeInstruction expects the mode instruction byte.
	StateModeInstruction
	// StateCommandInstruction expects the first command instruction byte.
	StateCommandInstruction
	// StateOperational is fully configured; data transfers are live.
	StateOperational
)

func (s State) String() string {
	switch s {
	case StateReset:
		return "Reset"
	case StateModeInstruction:
		return "ModeInstruction"
	case StateCommandInstruction:
		return "CommandInstruction"
	case StateOperational:
		return "Operational"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Register addresses, selected by the C/D bus line.
const (
	// RegData is the data port (C/D low).
	RegData = 0
	// RegControl is the mode/command/status port (C/D high).
	RegControl = 1
)

// NotReady is driven on the data bus for reads that cannot be served.
const NotReady byte = 0xFF

// 8251 status register bits.
const (
	StatusTxRdy  byte = 0x01
	StatusRxRdy  byte = 0x02
	StatusTxE    byte = 0x04
	StatusPE     byte = 0x08
	StatusOE     byte = 0x10
	StatusFE     byte = 0x20
	StatusSynDet byte = 0x40
	StatusDSR    byte = 0x80
)

// 8251 command instruction bits.
const (
	CmdTxEn  byte = 0x01
	CmdDTR   byte = 0x02
	CmdRxEn  byte = 0x04
	CmdSBrk  byte = 0x08
	CmdErrRe byte = 0x10
	CmdRTS   byte = 0x20
	CmdIR    byte = 0x40
	CmdEHunt byte = 0x80
)

// statusErrorMask covers the sticky error bits cleared by the ER command bit.
const statusErrorMask = StatusPE | StatusOE | StatusFE

// Config is the emulator configuration. Station is required; everything else
// has a usable default.
type Config struct {
	// Station is the WiFi collaborator used for association state and the
	// AT+CW command family.
	Station wifi.Station
	// Credentials persists the saved ssid/password pair. Optional; without
	// it AT+CWSAVE and auto-connect report an error.
	Credentials *store.Credentials
	// Shortcuts is the dial phonebook. Optional; without it AT&Z and ATDS
	// report an error.
	Shortcuts *store.Shortcuts
	// Logger receives categorized debug output. Defaults to a discarding
	// logger.
	Logger *debug.Logger
	// ConnectTimeout bounds outbound dial attempts. Defaults to 10s.
	ConnectTimeout time.Duration
	// EscapeWindow is the maximum gap between the '+' bytes of the online
	// escape sequence. Defaults to 1s.
	EscapeWindow time.Duration
	// QueueSize is the capacity of the RX and TX byte queues. Defaults to
	// 1024.
	QueueSize int
	// Ident is the ATI identification string.
	Ident string
	// PumpInterval is the polling period of the bridge pump. Defaults to
	// 2ms.
	PumpInterval time.Duration
	// DisableAutoConnect skips joining the saved network at startup.
	DisableAutoConnect bool
}

// Usart is an 8251 USART emulator instance.
//
// The embedded mutex guards all register and queue state. Exported methods
// come in pairs: the bare method requires the lock to be held already and the
// Sync variant manages the lock itself.
type Usart struct {
	sync.Mutex
	state   State
	mode    byte
	command byte
	status  byte
	rxq     *fifo
	txq     *fifo

	hayes  *hayes
	bridge *bridge

	log     *debug.Logger
	metrics *Metrics

	statusOutput func(txrdy, rxrdy bool)

	pumpInterval time.Duration
	pumpKick     chan struct{}
	runCtx       context.Context
	runCancel    context.CancelFunc
	closed       bool
}

// New creates an emulator from cfg and starts its background pump. The
// emulator comes up in StateReset with the transmitter idle, the way the
// chip looks after a hardware reset.
func New(cfg *Config) (*Usart, error) {
	if cfg == nil || cfg.Station == nil {
		return nil, ErrConfigRequired
	}
	if cfg.Logger == nil {
		cfg.Logger = debug.NewDiscard()
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.EscapeWindow <= 0 {
		cfg.EscapeWindow = time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.PumpInterval <= 0 {
		cfg.PumpInterval = 2 * time.Millisecond
	}
	if cfg.Ident == "" {
		cfg.Ident = "TS-2050 8251 USART Emulator v1.0"
	}

	u := &Usart{
		state:        StateReset,
		status:       StatusTxE | StatusTxRdy,
		rxq:          newFifo(cfg.QueueSize),
		txq:          newFifo(cfg.QueueSize),
		log:          cfg.Logger,
		metrics:      &Metrics{},
		pumpInterval: cfg.PumpInterval,
		pumpKick:     make(chan struct{}, 1),
	}
	u.runCtx, u.runCancel = context.WithCancel(context.Background())
	u.hayes = newHayes(u, cfg)
	u.bridge = newBridge(u, cfg.ConnectTimeout)

	go u.pumpTask(u.runCtx)
	if !cfg.DisableAutoConnect {
		go u.hayes.autoJoin()
	}
	u.log.Printf(debug.SYSTEM, "usart emulator started, state=%v", u.state)
	return u, nil
}

func (u *Usart) checkLock() {
	if u.TryLock() {
		u.Unlock()
		panic("usart lock not held")
	}
}

// BindStatusOutput registers a callback invoked, with the lock held, whenever
// the TxRDY or RxRDY status bits may have changed. The bus layer uses it to
// drive the corresponding output pins.
func (u *Usart) BindStatusOutput(fn func(txrdy, rxrdy bool)) {
	u.Lock()
	defer u.Unlock()
	u.statusOutput = fn
	u.driveStatusPins()
}

func (u *Usart) driveStatusPins() {
	if u.statusOutput != nil {
		u.statusOutput(u.status&StatusTxRdy != 0, u.status&StatusRxRdy != 0)
	}
}

// recomputeStatus derives the live status bits from queue and bridge state.
// The sticky error bits and SYNDET are preserved; only the ER command bit
// clears them.
func (u *Usart) recomputeStatus() {
	s := u.status & (statusErrorMask | StatusSynDet)
	if u.command&CmdTxEn != 0 {
		if u.txq.free() > 0 {
			s |= StatusTxRdy
		}
		if u.txq.len() == 0 {
			s |= StatusTxE
		}
	}
	if u.rxq.len() > 0 {
		s |= StatusRxRdy
	}
	if u.bridge.isConnected() {
		s |= StatusDSR
	}
	u.status = s
	u.driveStatusPins()
}

// ReadRegister serves a host read cycle from the given register address.
// The emulator lock must be held before calling this method.
// Use ReadRegisterSync for automatic lock management.
func (u *Usart) ReadRegister(addr int) byte {
	u.checkLock()
	u.metrics.RegisterReads++
	u.metrics.LastHostAccessTime = time.Now()
	switch addr {
	case RegData:
		return u.readData()
	case RegControl:
		return u.status
	default:
		u.log.Printf(debug.USART, "read from invalid register %d: %v", addr, ErrInvalidRegisterAccess)
		return NotReady
	}
}

// ReadRegisterSync serves a host read cycle with automatic lock management.
func (u *Usart) ReadRegisterSync(addr int) byte {
	u.Lock()
	defer u.Unlock()
	return u.ReadRegister(addr)
}

func (u *Usart) readData() byte {
	if u.state != StateOperational {
		u.log.Printf(debug.USART, "data read in state %v ignored", u.state)
		return NotReady
	}
	b, ok := u.rxq.pop()
	if !ok {
		return NotReady
	}
	u.recomputeStatus()
	return b
}

// WriteRegister serves a host write cycle to the given register address.
// The emulator lock must be held before calling this method.
// Use WriteRegisterSync for automatic lock management.
func (u *Usart) WriteRegister(addr int, b byte) {
	u.checkLock()
	u.metrics.RegisterWrites++
	u.metrics.LastHostAccessTime = time.Now()
	switch addr {
	case RegData:
		u.writeData(b)
	case RegControl:
		u.writeControl(b)
	default:
		u.log.Printf(debug.USART, "write to invalid register %d: %v", addr, ErrInvalidRegisterAccess)
	}
}

// WriteRegisterSync serves a host write cycle with automatic lock management.
func (u *Usart) WriteRegisterSync(addr int, b byte) {
	u.Lock()
	defer u.Unlock()
	u.WriteRegister(addr, b)
}

func (u *Usart) writeData(b byte) {
	if u.state != StateOperational {
		u.log.Printf(debug.USART, "data write 0x%02X in state %v discarded", b, u.state)
		return
	}
	if u.command&CmdTxEn == 0 {
		u.log.Printf(debug.USART, "data write 0x%02X with transmitter disabled discarded", b)
		return
	}
	if u.hayes.mode == ModemDialing {
		// Any byte from the host aborts a dial in progress.
		u.hayes.abortDial()
		u.recomputeStatus()
		return
	}
	if !u.txq.push(b) {
		u.metrics.QueueDrops++
		u.log.Printf(debug.USART, "tx queue full, byte 0x%02X dropped: %v", b, ErrQueueOverflow)
		return
	}
	u.metrics.BytesFromHost++
	u.recomputeStatus()
	u.kickPump()
}

func (u *Usart) writeControl(b byte) {
	switch u.state {
	case StateReset, StateModeInstruction:
		// A control write here is the mode instruction. Bit 6 is a mode
		// field, not IR; only command instructions carry IR.
		u.mode = b
		u.state = StateCommandInstruction
		u.log.Printf(debug.USART, "mode instruction 0x%02X, state=%v", b, u.state)
	case StateCommandInstruction:
		if b&CmdIR != 0 {
			u.internalReset()
			return
		}
		u.applyCommand(b)
		u.state = StateOperational
		u.log.Printf(debug.USART, "command instruction 0x%02X, state=%v", b, u.state)
	case StateOperational:
		if b&CmdIR != 0 {
			u.internalReset()
			return
		}
		u.applyCommand(b)
	}
}

func (u *Usart) applyCommand(b byte) {
	u.command = b
	if b&CmdErrRe != 0 {
		u.status &^= statusErrorMask
	}
	u.recomputeStatus()
}

// internalReset implements the IR command bit: back to expecting a mode
// instruction, queues flushed, transmitter idle.
func (u *Usart) internalReset() {
	u.command = 0
	u.rxq.reset()
	u.txq.reset()
	u.state = StateModeInstruction
	u.status = StatusTxE | StatusTxRdy
	u.driveStatusPins()
	u.log.Printf(debug.USART, "internal reset, state=%v", u.state)
}

// HardwareReset emulates the RESET pin: like an internal reset, but the
// machine returns all the way to the power-on state.
// The emulator lock must be held before calling this method.
// Use HardwareResetSync for automatic lock management.
func (u *Usart) HardwareReset() {
	u.checkLock()
	u.command = 0
	u.mode = 0
	u.rxq.reset()
	u.txq.reset()
	u.state = StateReset
	u.status = StatusTxE | StatusTxRdy
	u.driveStatusPins()
	u.log.Printf(debug.USART, "hardware reset, state=%v", u.state)
}

// HardwareResetSync emulates the RESET pin with automatic lock management.
func (u *Usart) HardwareResetSync() {
	u.Lock()
	defer u.Unlock()
	u.HardwareReset()
}

// PeekData returns the next data byte without consuming it, for bus cycles
// that may still be abandoned. CommitData consumes it once the cycle
// completes.
// The emulator lock must be held before calling this method.
// Use PeekDataSync for automatic lock management.
func (u *Usart) PeekData(addr int) byte {
	u.checkLock()
	if addr != RegData {
		return u.ReadRegister(addr)
	}
	if u.state != StateOperational {
		return NotReady
	}
	b, ok := u.rxq.peek()
	if !ok {
		return NotReady
	}
	return b
}

// PeekDataSync returns the next data byte without consuming it, with
// automatic lock management.
func (u *Usart) PeekDataSync(addr int) byte {
	u.Lock()
	defer u.Unlock()
	return u.PeekData(addr)
}

// CommitData consumes the byte previously returned by PeekData, completing a
// successful data read cycle.
// The emulator lock must be held before calling this method.
// Use CommitDataSync for automatic lock management.
func (u *Usart) CommitData(addr int) {
	u.checkLock()
	if addr != RegData {
		return
	}
	u.metrics.RegisterReads++
	u.metrics.LastHostAccessTime = time.Now()
	if u.state != StateOperational {
		return
	}
	if _, ok := u.rxq.pop(); ok {
		u.recomputeStatus()
	}
}

// CommitDataSync consumes the byte previously returned by PeekDataSync, with
// automatic lock management.
func (u *Usart) CommitDataSync(addr int) {
	u.Lock()
	defer u.Unlock()
	u.CommitData(addr)
}

// pushResponse queues a modem response line, CRLF terminated, for the host.
func (u *Usart) pushResponse(line string) {
	u.pushToHost([]byte(line + "\r\n"))
}

func (u *Usart) pushToHost(data []byte) {
	overflow := false
	for _, b := range data {
		if !u.rxq.push(b) {
			overflow = true
			u.metrics.QueueDrops++
			continue
		}
		u.metrics.BytesToHost++
	}
	if overflow {
		u.status |= StatusOE
		u.log.Printf(debug.USART, "rx queue full, data dropped: %v", ErrQueueOverflow)
	}
	u.recomputeStatus()
}

func (u *Usart) kickPump() {
	select {
	case u.pumpKick <- struct{}{}:
	default:
	}
}

func (u *Usart) pumpTask(ctx context.Context) {
	ticker := time.NewTicker(u.pumpInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-u.pumpKick:
		}
		u.bridge.pump()
	}
}

// Command feeds one AT command line to the modem, bypassing the data port,
// and returns the response lines. The front-end console uses it. The lock
// may be released and re-acquired while a handler performs blocking I/O.
// The emulator lock must be held before calling this method.
// Use CommandSync for automatic lock management.
func (u *Usart) Command(line string) []string {
	u.checkLock()
	var out []string
	u.hayes.capture = &out
	u.hayes.dispatch(line)
	u.hayes.capture = nil
	return out
}

// CommandSync feeds one AT command line to the modem with automatic lock
// management.
func (u *Usart) CommandSync(line string) []string {
	u.Lock()
	defer u.Unlock()
	return u.Command(line)
}

// Close shuts the emulator down: the pump stops, any connection drops and
// further use returns ErrClosed where applicable.
// The emulator lock must be held before calling this method.
// Use CloseSync for automatic lock management.
func (u *Usart) Close() error {
	u.checkLock()
	if u.closed {
		return ErrClosed
	}
	u.closed = true
	u.runCancel()
	u.hayes.setMode(ModemCommand)
	u.bridge.drop()
	u.log.Printf(debug.SYSTEM, "usart emulator closed")
	return nil
}

// CloseSync shuts the emulator down with automatic lock management.
func (u *Usart) CloseSync() error {
	u.Lock()
	defer u.Unlock()
	return u.Close()
}

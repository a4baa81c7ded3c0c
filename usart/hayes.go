package usart

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/timex-sinclair-projects/TS-2050-Wifi/debug"
	"github.com/timex-sinclair-projects/TS-2050-Wifi/store"
	"github.com/timex-sinclair-projects/TS-2050-Wifi/wifi"
)

// ModemMode is the Hayes modem operating mode. Bytes written to the data
// register are routed by mode: ModemCommand assembles AT command lines,
// ModemOnline forwards to the network connection, ModemDialing aborts the
// dial in progress.
type ModemMode int

const (
	ModemCommand ModemMode = iota
	ModemDialing
	ModemOnline
)

func (m ModemMode) String() string {
	switch m {
	case ModemCommand:
		return "Command"
	case ModemDialing:
		return "Dialing"
	case ModemOnline:
		return "Online"
	default:
		return fmt.Sprintf("ModemMode(%d)", int(m))
	}
}

// maxLineLen bounds AT command line assembly.
const maxLineLen = 256

// hayes is the AT command processor. All methods run under the Usart lock
// unless noted; processDialing and autoJoin take it themselves, and the
// handlers release it around blocking station and store calls so register
// access never waits on network or file I/O.
type hayes struct {
	u         *Usart
	station   wifi.Station
	creds     *store.Credentials
	shortcuts *store.Shortcuts
	ident     string

	mode         ModemMode
	lineBuf      []byte
	escapeWindow time.Duration
	plusCount    int
	lastByte     time.Time

	autoConnect  bool
	lastSSID     string
	lastPassword string

	stCtx       context.Context
	stCtxCancel context.CancelFunc

	// capture, when set, collects response lines instead of queueing them
	// for the host. The console path uses it.
	capture *[]string
}

func newHayes(u *Usart, cfg *Config) *hayes {
	h := &hayes{
		u:            u,
		station:      cfg.Station,
		creds:        cfg.Credentials,
		shortcuts:    cfg.Shortcuts,
		ident:        cfg.Ident,
		mode:         ModemCommand,
		escapeWindow: cfg.EscapeWindow,
		autoConnect:  true,
	}
	h.stCtx, h.stCtxCancel = context.WithCancel(u.runCtx)
	return h
}

// setMode switches the modem mode, cancelling the per-mode context so any
// in-flight dial aborts.
func (h *hayes) setMode(m ModemMode) {
	if m == h.mode {
		return
	}
	h.stCtxCancel()
	h.stCtx, h.stCtxCancel = context.WithCancel(h.u.runCtx)
	h.u.log.Printf(debug.HAYES, "modem mode %v -> %v", h.mode, m)
	h.mode = m
	h.plusCount = 0
	h.lineBuf = h.lineBuf[:0]
}

// unlocked runs a blocking collaborator call with the Usart lock released.
// The console capture slot is restored across the gap so a command that
// interleaved while we were parked cannot redirect our response.
func (h *hayes) unlocked(fn func()) {
	capture := h.capture
	h.u.Unlock()
	fn()
	h.u.Lock()
	h.capture = capture
}

// respond emits one response line to the host RX queue, or to the capture
// slice when the console is driving.
func (h *hayes) respond(line string) {
	if h.capture != nil {
		*h.capture = append(*h.capture, line)
		return
	}
	h.u.log.Printf(debug.HAYES, "response: %q", line)
	h.u.pushResponse(line)
}

// feed assembles command mode bytes into AT lines. CR or LF dispatches a
// non-empty line; backspace and DEL trim; other control bytes are ignored.
func (h *hayes) feed(b byte) {
	switch {
	case b == '\r' || b == '\n':
		if len(h.lineBuf) > 0 {
			line := string(h.lineBuf)
			h.lineBuf = h.lineBuf[:0]
			h.dispatch(line)
		}
	case b == 0x08 || b == 0x7F:
		if len(h.lineBuf) > 0 {
			h.lineBuf = h.lineBuf[:len(h.lineBuf)-1]
		}
	case b >= 0x20 && b < 0x7F:
		if len(h.lineBuf) < maxLineLen {
			h.lineBuf = append(h.lineBuf, b)
		}
	}
}

// feedOnline watches the online byte stream for the +++ escape. Each '+'
// must follow the previous byte within the escape window; three in a row
// switch back to command mode. The bytes themselves still go to the remote.
func (h *hayes) feedOnline(b byte) {
	now := time.Now()
	if b == '+' {
		if now.Sub(h.lastByte) < h.escapeWindow {
			h.plusCount++
		} else {
			h.plusCount = 1
		}
		if h.plusCount >= 3 {
			h.plusCount = 0
			h.u.log.Printf(debug.HAYES, "escape sequence, entering command mode")
			h.setMode(ModemCommand)
			h.respond("OK")
		}
	} else {
		h.plusCount = 0
	}
	h.lastByte = now
}

func (h *hayes) dispatch(line string) {
	h.u.metrics.LastAtCmdTime = time.Now()
	h.u.log.Printf(debug.HAYES, "command: %q", line)
	cmd, err := parseATLine(line)
	if err != nil {
		h.u.log.Printf(debug.HAYES, "%v", err)
		h.respond("ERROR")
		return
	}
	switch cmd.kind {
	case cmdAttention:
		h.respond("OK")
	case cmdIdentify:
		h.respond(h.ident)
	case cmdReset:
		h.hangup()
		h.respond("OK")
	case cmdFactory:
		h.autoConnect = true
		h.respond("OK")
	case cmdHangup:
		h.hangup()
		h.respond("OK")
	case cmdDial:
		h.dial(cmd.host, cmd.port)
	case cmdDialShortcut:
		h.dialShortcut(cmd.index)
	case cmdResume:
		if h.u.bridge.isConnected() {
			h.setMode(ModemOnline)
			h.respond("CONNECT")
		} else {
			h.respond("NO CARRIER")
		}
	case cmdWifiScan:
		h.wifiScan()
	case cmdWifiQuery:
		h.wifiQuery()
	case cmdWifiJoin:
		h.wifiJoin(cmd.ssid, cmd.password)
	case cmdWifiLeave:
		h.wifiLeave()
	case cmdWifiStatus:
		h.wifiStatus()
	case cmdWifiSave:
		h.wifiSave()
	case cmdWifiAuto:
		h.wifiAuto(cmd)
	case cmdWifiForget:
		h.wifiForget()
	case cmdStoreShortcut:
		h.storeShortcut(cmd)
	case cmdListShortcuts:
		h.listShortcuts()
	}
}

// hangup drops any connection or dial in progress and returns to command
// mode. Safe to call from any mode.
func (h *hayes) hangup() {
	h.setMode(ModemCommand)
	h.u.bridge.drop()
}

func (h *hayes) dial(host string, port int) {
	if h.mode != ModemCommand || h.u.bridge.isConnected() {
		h.respond("ERROR")
		return
	}
	if !h.station.Associated() {
		h.u.log.Printf(debug.NETWORK, "dial refused, not associated")
		h.respond("NO CARRIER")
		return
	}
	h.setMode(ModemDialing)
	go h.processDialing(h.stCtx, host, port)
}

// processDialing performs the blocking connect outside the lock, then
// finishes the dial under it. A cancelled context means the dial was aborted
// while we were connecting; the fresh connection is discarded.
func (h *hayes) processDialing(ctx context.Context, host string, port int) {
	conn, err := h.u.bridge.connect(ctx, host, port)
	h.u.Lock()
	defer h.u.Unlock()
	if ctx.Err() != nil {
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		h.u.log.Printf(debug.NETWORK, "dial %s:%d: %v", host, port, err)
		h.setMode(ModemCommand)
		h.respond("NO CARRIER")
		return
	}
	h.u.bridge.adopt(conn, host, port)
	h.setMode(ModemOnline)
	h.respond("CONNECT")
}

// abortDial cancels a dial in progress because the host sent a byte.
func (h *hayes) abortDial() {
	if h.mode != ModemDialing {
		return
	}
	h.u.log.Printf(debug.HAYES, "dial aborted by host")
	h.setMode(ModemCommand)
	h.respond("NO CARRIER")
}

func (h *hayes) dialShortcut(index int) {
	if h.shortcuts == nil {
		h.respond("ERROR: No shortcut storage")
		return
	}
	e, err := h.shortcuts.Get(index)
	if err != nil {
		h.respond(fmt.Sprintf("ERROR: No shortcut at index %d", index))
		return
	}
	host, port, err := parseTarget(e.Host)
	if err != nil {
		h.respond("ERROR")
		return
	}
	h.dial(host, port)
}

func (h *hayes) storeShortcut(cmd *atCommand) {
	if h.shortcuts == nil {
		h.respond("ERROR: No shortcut storage")
		return
	}
	var err error
	h.unlocked(func() {
		if cmd.clear {
			err = h.shortcuts.Delete(cmd.index)
		} else {
			err = h.shortcuts.Set(cmd.index, store.Entry{
				Host: fmt.Sprintf("%s:%d", cmd.host, cmd.port),
				Desc: cmd.desc,
			})
		}
	})
	switch {
	case err == nil:
		h.respond("OK")
	case err == store.ErrBadIndex:
		h.respond("ERROR: Shortcut index out of range")
	default:
		h.u.log.Printf(debug.SYSTEM, "shortcut store: %v: %v", ErrPersistence, err)
		h.respond("ERROR: Failed to save shortcut")
	}
}

func (h *hayes) listShortcuts() {
	if h.shortcuts == nil {
		h.respond("ERROR: No shortcut storage")
		return
	}
	for _, n := range h.shortcuts.List() {
		e, err := h.shortcuts.Get(n)
		if err != nil {
			continue
		}
		if e.Desc != "" {
			h.respond(fmt.Sprintf("&Z%d=%s,%s", n, e.Host, e.Desc))
		} else {
			h.respond(fmt.Sprintf("&Z%d=%s", n, e.Host))
		}
	}
	h.respond("OK")
}

func (h *hayes) wifiScan() {
	var nets []wifi.Network
	var err error
	h.unlocked(func() { nets, err = h.station.Scan() })
	if err != nil {
		h.u.log.Printf(debug.NETWORK, "scan: %v", err)
		h.respond("ERROR: Scan failed")
		return
	}
	if len(nets) == 0 {
		h.respond("No networks found")
		return
	}
	sort.Slice(nets, func(i, j int) bool { return nets[i].RSSI > nets[j].RSSI })
	h.respond(fmt.Sprintf("Found %d networks:", len(nets)))
	for _, n := range nets {
		ssid := n.SSID
		if ssid == "" {
			ssid = "<hidden>"
		}
		h.respond(fmt.Sprintf("+CWLAP:(%d,\"%s\",%d,\"%s\",%d,%s)",
			int(n.Auth), ssid, n.RSSI, n.BSSID.String(), n.Channel, n.Auth))
	}
	h.respond("OK")
}

func (h *hayes) wifiQuery() {
	if !h.station.Associated() {
		h.respond(`+CWJAP:"",""`)
		return
	}
	h.respond(fmt.Sprintf("+CWJAP:\"%s\",\"connected\"", h.station.SSID()))
}

func (h *hayes) wifiJoin(ssid, password string) {
	var err error
	h.unlocked(func() { err = h.station.Join(ssid, password) })
	if err != nil {
		h.u.log.Printf(debug.NETWORK, "join %q: %v: %v", ssid, ErrWifiAssociation, err)
		h.respond("ERROR: Connection failed")
		return
	}
	h.lastSSID, h.lastPassword = ssid, password
	h.respond("OK")
}

func (h *hayes) wifiLeave() {
	if !h.station.Associated() {
		h.respond("ERROR: Not connected to WiFi")
		return
	}
	h.hangup()
	var err error
	h.unlocked(func() { err = h.station.Leave() })
	if err != nil {
		h.u.log.Printf(debug.NETWORK, "leave: %v", err)
		h.respond("ERROR: Disconnect failed")
		return
	}
	h.respond("OK")
}

func (h *hayes) wifiStatus() {
	if !h.station.Associated() {
		h.respond("+CWSTAT:DISCONNECTED")
		h.respond("WiFi interface: ACTIVE")
		h.respond("OK")
		return
	}
	var cfg wifi.IPConfig
	var err error
	h.unlocked(func() { cfg, err = h.station.IPConfig() })
	if err != nil {
		h.respond("ERROR: Status query failed")
		return
	}
	h.respond("+CWSTAT:CONNECTED")
	h.respond("IP: " + cfg.Addr)
	h.respond("Subnet: " + cfg.Subnet)
	h.respond("Gateway: " + cfg.Gateway)
	h.respond("DNS: " + cfg.DNS)
	if ssid := h.station.SSID(); ssid != "" {
		h.respond("SSID: " + ssid)
	}
	h.respond("OK")
}

func (h *hayes) wifiSave() {
	ssid, password := h.lastSSID, h.lastPassword
	if ssid == "" || password == "" {
		h.respond("ERROR: No WiFi connection to save")
		return
	}
	if h.creds == nil {
		h.respond("ERROR: Failed to save config")
		return
	}
	var err error
	h.unlocked(func() { err = h.creds.Save(ssid, password) })
	if err != nil {
		h.u.log.Printf(debug.SYSTEM, "credentials: %v: %v", ErrPersistence, err)
		h.respond("ERROR: Failed to save config")
		return
	}
	h.respond("OK: WiFi config saved")
}

func (h *hayes) wifiAuto(cmd *atCommand) {
	if cmd.query {
		if h.autoConnect {
			h.respond("+CWAUTO:1")
		} else {
			h.respond("+CWAUTO:0")
		}
		return
	}
	h.autoConnect = cmd.enable
	if cmd.enable {
		h.respond("OK: Auto-connect enabled")
	} else {
		h.respond("OK: Auto-connect disabled")
	}
}

func (h *hayes) wifiForget() {
	if h.creds == nil {
		h.respond("ERROR: Failed to clear config")
		return
	}
	var err error
	h.unlocked(func() { err = h.creds.Clear() })
	if err != nil {
		h.u.log.Printf(debug.SYSTEM, "credentials: %v: %v", ErrPersistence, err)
		h.respond("ERROR: Failed to clear config")
		return
	}
	h.lastSSID, h.lastPassword = "", ""
	h.respond("OK: WiFi config cleared")
}

// autoJoin joins the saved network at startup. Runs in its own goroutine;
// every failure path is silent degradation.
func (h *hayes) autoJoin() {
	if h.creds == nil {
		return
	}
	ssid, password, err := h.creds.Load()
	if err != nil {
		return
	}
	h.u.Lock()
	enabled := h.autoConnect
	h.u.Unlock()
	if !enabled {
		return
	}
	if err := h.station.Join(ssid, password); err != nil {
		h.u.log.Printf(debug.NETWORK, "auto-connect to %q: %v", ssid, err)
		return
	}
	h.u.Lock()
	h.lastSSID, h.lastPassword = ssid, password
	h.u.Unlock()
	h.u.log.Printf(debug.NETWORK, "auto-connected to %q", ssid)
}

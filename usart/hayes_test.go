package usart

import (
	"context"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/timex-sinclair-projects/TS-2050-Wifi/store"
	"github.com/timex-sinclair-projects/TS-2050-Wifi/wifi"
)

// startEchoServer runs a single-connection loopback server. Received bytes
// go to the returned channel; bytes sent on the send channel go to the
// client.
func startEchoServer(t *testing.T) (addr string, recv chan byte, send chan []byte, closeConn chan struct{}) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	recv = make(chan byte, 1024)
	send = make(chan []byte, 8)
	closeConn = make(chan struct{})
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		go func() {
			buf := make([]byte, 256)
			for {
				n, err := conn.Read(buf)
				for _, b := range buf[:n] {
					recv <- b
				}
				if err != nil {
					return
				}
			}
		}()
		for {
			select {
			case data := <-send:
				if _, err := conn.Write(data); err != nil {
					return
				}
			case <-closeConn:
				conn.Close()
				return
			}
		}
	}()
	return ln.Addr().String(), recv, send, closeConn
}

func joinTestNet(t *testing.T, u *Usart) {
	t.Helper()
	sendLine(u, `AT+CWJAP="TESTNET","secret"`)
	if got := readLine(t, u); got != "OK" {
		t.Fatalf("join = %q, want OK", got)
	}
}

func dialAndConnect(t *testing.T, u *Usart, addr string) {
	t.Helper()
	joinTestNet(t, u)
	sendLine(u, "ATD"+addr)
	if got := readLine(t, u); got != "CONNECT" {
		t.Fatalf("dial = %q, want CONNECT", got)
	}
}

func TestAttentionAndIdent(t *testing.T) {
	u := newTestUsart(t, nil)
	makeOperational(u)

	sendLine(u, "AT")
	if got := readLine(t, u); got != "OK" {
		t.Fatalf("AT = %q", got)
	}
	sendLine(u, "ATI")
	if got := readLine(t, u); got != "TS-2050 8251 USART Emulator v1.0" {
		t.Fatalf("ATI = %q", got)
	}
	sendLine(u, "ATBOGUS")
	if got := readLine(t, u); got != "ERROR" {
		t.Fatalf("unknown command = %q, want ERROR", got)
	}
}

func TestDialWithoutAssociation(t *testing.T) {
	u := newTestUsart(t, nil)
	makeOperational(u)

	sendLine(u, "ATDbbs.example.com")
	if got := readLine(t, u); got != "NO CARRIER" {
		t.Fatalf("dial without wifi = %q, want NO CARRIER", got)
	}
}

func TestDialConnectAndEcho(t *testing.T) {
	u := newTestUsart(t, nil)
	makeOperational(u)
	addr, recv, send, _ := startEchoServer(t)
	dialAndConnect(t, u, addr)

	if s := u.ReadRegisterSync(RegControl); s&StatusDSR == 0 {
		t.Fatalf("DSR clear while connected, status 0x%02X", s)
	}
	if got := u.MetricsSync().ModemMode; got != ModemOnline {
		t.Fatalf("modem mode = %v, want %v", got, ModemOnline)
	}

	// Host to remote.
	for _, b := range []byte("hello") {
		u.WriteRegisterSync(RegData, b)
	}
	for _, want := range []byte("hello") {
		select {
		case got := <-recv:
			if got != want {
				t.Fatalf("remote received 0x%02X, want 0x%02X", got, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("remote never received host bytes")
		}
	}

	// Remote to host.
	send <- []byte("world\r\n")
	if got := readLine(t, u); got != "world" {
		t.Fatalf("host received %q, want world", got)
	}
}

func TestDialToRefusedPort(t *testing.T) {
	u := newTestUsart(t, nil)
	makeOperational(u)
	joinTestNet(t, u)

	// Grab a port with nothing listening on it.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	sendLine(u, "ATD"+addr)
	if got := readLine(t, u); got != "NO CARRIER" {
		t.Fatalf("refused dial = %q, want NO CARRIER", got)
	}
	if got := u.MetricsSync().ModemMode; got != ModemCommand {
		t.Fatalf("modem mode after failed dial = %v", got)
	}
}

func TestEscapeSequence(t *testing.T) {
	u := newTestUsart(t, func(cfg *Config) { cfg.EscapeWindow = 100 * time.Millisecond })
	makeOperational(u)
	addr, recv, _, _ := startEchoServer(t)
	dialAndConnect(t, u, addr)

	for i := 0; i < 3; i++ {
		u.WriteRegisterSync(RegData, '+')
	}
	if got := readLine(t, u); got != "OK" {
		t.Fatalf("escape response = %q, want OK", got)
	}
	if got := u.MetricsSync().ModemMode; got != ModemCommand {
		t.Fatalf("modem mode after escape = %v, want %v", got, ModemCommand)
	}

	// The escape bytes still reach the remote.
	for i := 0; i < 3; i++ {
		select {
		case b := <-recv:
			if b != '+' {
				t.Fatalf("remote received 0x%02X, want '+'", b)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("escape bytes not forwarded")
		}
	}
}

func TestEscapeCountResetsOnSlowPlus(t *testing.T) {
	u := newTestUsart(t, func(cfg *Config) { cfg.EscapeWindow = 30 * time.Millisecond })
	makeOperational(u)
	addr, _, _, _ := startEchoServer(t)
	dialAndConnect(t, u, addr)

	u.WriteRegisterSync(RegData, '+')
	u.WriteRegisterSync(RegData, '+')
	time.Sleep(80 * time.Millisecond) // exceed the window
	u.WriteRegisterSync(RegData, '+')
	time.Sleep(50 * time.Millisecond)

	if got := u.MetricsSync().ModemMode; got != ModemOnline {
		t.Fatalf("slow plusses escaped anyway, mode %v", got)
	}

	// A fresh burst of three completes the escape.
	u.WriteRegisterSync(RegData, '+')
	u.WriteRegisterSync(RegData, '+')
	u.WriteRegisterSync(RegData, '+')
	if got := readLine(t, u); got != "OK" {
		t.Fatalf("escape after restart = %q, want OK", got)
	}
}

func TestEscapeCountResetOnNonPlus(t *testing.T) {
	u := newTestUsart(t, func(cfg *Config) { cfg.EscapeWindow = 100 * time.Millisecond })
	makeOperational(u)
	addr, recv, _, _ := startEchoServer(t)
	dialAndConnect(t, u, addr)

	for _, b := range []byte("++x+") {
		u.WriteRegisterSync(RegData, b)
	}
	for i := 0; i < 4; i++ {
		select {
		case <-recv:
		case <-time.After(2 * time.Second):
			t.Fatal("bytes not forwarded")
		}
	}
	if got := u.MetricsSync().ModemMode; got != ModemOnline {
		t.Fatalf("non-plus byte did not reset the count, mode %v", got)
	}
}

func TestHangupAndResume(t *testing.T) {
	u := newTestUsart(t, func(cfg *Config) { cfg.EscapeWindow = 100 * time.Millisecond })
	makeOperational(u)
	addr, _, send, _ := startEchoServer(t)
	dialAndConnect(t, u, addr)

	// Escape to command mode, connection stays up.
	for i := 0; i < 3; i++ {
		u.WriteRegisterSync(RegData, '+')
	}
	if got := readLine(t, u); got != "OK" {
		t.Fatalf("escape = %q", got)
	}
	if s := u.ReadRegisterSync(RegControl); s&StatusDSR == 0 {
		t.Fatal("DSR dropped during command mode")
	}

	// ATO resumes the session.
	sendLine(u, "ATO")
	if got := readLine(t, u); got != "CONNECT" {
		t.Fatalf("ATO = %q, want CONNECT", got)
	}
	send <- []byte("still here\r\n")
	if got := readLine(t, u); got != "still here" {
		t.Fatalf("resumed session data = %q", got)
	}

	// Escape again and hang up for real.
	time.Sleep(150 * time.Millisecond)
	for i := 0; i < 3; i++ {
		u.WriteRegisterSync(RegData, '+')
	}
	if got := readLine(t, u); got != "OK" {
		t.Fatalf("second escape = %q", got)
	}
	sendLine(u, "ATH")
	if got := readLine(t, u); got != "OK" {
		t.Fatalf("ATH = %q", got)
	}
	waitStatusClear(t, u, StatusDSR)

	sendLine(u, "ATO")
	if got := readLine(t, u); got != "NO CARRIER" {
		t.Fatalf("ATO after hangup = %q, want NO CARRIER", got)
	}
}

func waitStatusClear(t *testing.T, u *Usart, bit byte) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for u.ReadRegisterSync(RegControl)&bit != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("status bit 0x%02X never cleared", bit)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestShortcutRoundTrip(t *testing.T) {
	dir := t.TempDir()
	shortcuts := store.NewShortcuts(dir)
	if err := shortcuts.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	u := newTestUsart(t, func(cfg *Config) { cfg.Shortcuts = shortcuts })
	makeOperational(u)
	addr, _, _, _ := startEchoServer(t)

	sendLine(u, fmt.Sprintf("AT&Z3=%s,Test BBS", addr))
	if got := readLine(t, u); got != "OK" {
		t.Fatalf("store shortcut = %q", got)
	}

	sendLine(u, "AT&V")
	var lines []string
	for {
		l := readLine(t, u)
		lines = append(lines, l)
		if l == "OK" {
			break
		}
	}
	if len(lines) != 2 || !strings.HasPrefix(lines[0], "&Z3=") || !strings.Contains(lines[0], "Test BBS") {
		t.Fatalf("AT&V = %q", lines)
	}

	joinTestNet(t, u)
	sendLine(u, "ATDS3")
	if got := readLine(t, u); got != "CONNECT" {
		t.Fatalf("ATDS3 = %q, want CONNECT", got)
	}
}

func TestShortcutErrors(t *testing.T) {
	dir := t.TempDir()
	shortcuts := store.NewShortcuts(dir)
	u := newTestUsart(t, func(cfg *Config) { cfg.Shortcuts = shortcuts })
	makeOperational(u)

	sendLine(u, "ATDS9")
	if got := readLine(t, u); got != "ERROR: No shortcut at index 9" {
		t.Fatalf("empty slot dial = %q", got)
	}
	sendLine(u, "AT&Z99=host.example.com")
	if got := readLine(t, u); got != "ERROR: Shortcut index out of range" {
		t.Fatalf("out of range store = %q", got)
	}
}

func TestWifiCommands(t *testing.T) {
	u := newTestUsart(t, nil)
	makeOperational(u)

	sendLine(u, "AT+CWJAP?")
	if got := readLine(t, u); got != `+CWJAP:"",""` {
		t.Fatalf("query while down = %q", got)
	}

	sendLine(u, "AT+CWSTAT")
	if got := readLine(t, u); got != "+CWSTAT:DISCONNECTED" {
		t.Fatalf("status while down = %q", got)
	}
	readLine(t, u) // interface line
	if got := readLine(t, u); got != "OK" {
		t.Fatalf("status terminator = %q", got)
	}

	joinTestNet(t, u)

	sendLine(u, "AT+CWJAP?")
	if got := readLine(t, u); got != `+CWJAP:"TESTNET","connected"` {
		t.Fatalf("query while up = %q", got)
	}

	sendLine(u, "AT+CWSTAT")
	if got := readLine(t, u); got != "+CWSTAT:CONNECTED" {
		t.Fatalf("status while up = %q", got)
	}
	var saw []string
	for {
		l := readLine(t, u)
		saw = append(saw, l)
		if l == "OK" {
			break
		}
	}
	joined := strings.Join(saw, "\n")
	for _, want := range []string{"IP: 192.168.4.2", "Subnet: 255.255.255.0", "SSID: TESTNET"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("status missing %q in %q", want, joined)
		}
	}

	sendLine(u, "AT+CWQAP")
	if got := readLine(t, u); got != "OK" {
		t.Fatalf("leave = %q", got)
	}
	sendLine(u, "AT+CWQAP")
	if got := readLine(t, u); got != "ERROR: Not connected to WiFi" {
		t.Fatalf("double leave = %q", got)
	}
}

func TestWifiJoinBadPassword(t *testing.T) {
	u := newTestUsart(t, nil)
	makeOperational(u)

	sendLine(u, `AT+CWJAP="TESTNET","wrong"`)
	if got := readLine(t, u); got != "ERROR: Connection failed" {
		t.Fatalf("bad password = %q", got)
	}
}

func TestWifiScanFormat(t *testing.T) {
	u := newTestUsart(t, nil)
	makeOperational(u)

	sendLine(u, "AT+CWLAP")
	if got := readLine(t, u); got != "Found 2 networks:" {
		t.Fatalf("scan header = %q", got)
	}
	// Strongest first.
	if got := readLine(t, u); !strings.HasPrefix(got, `+CWLAP:(3,"TESTNET",-40,`) || !strings.HasSuffix(got, ",6,WPA2_PSK)") {
		t.Fatalf("scan line 1 = %q", got)
	}
	if got := readLine(t, u); !strings.HasPrefix(got, `+CWLAP:(0,"OPENNET",-70,`) || !strings.HasSuffix(got, ",11,OPEN)") {
		t.Fatalf("scan line 2 = %q", got)
	}
	if got := readLine(t, u); got != "OK" {
		t.Fatalf("scan terminator = %q", got)
	}
}

func TestWifiAutoAndPersistence(t *testing.T) {
	dir := t.TempDir()
	creds := store.NewCredentials(dir)
	u := newTestUsart(t, func(cfg *Config) { cfg.Credentials = creds })
	makeOperational(u)

	sendLine(u, "AT+CWAUTO?")
	if got := readLine(t, u); got != "+CWAUTO:1" {
		t.Fatalf("auto query = %q", got)
	}
	sendLine(u, "AT+CWAUTO=0")
	if got := readLine(t, u); got != "OK: Auto-connect disabled" {
		t.Fatalf("auto off = %q", got)
	}
	sendLine(u, "AT+CWAUTO?")
	if got := readLine(t, u); got != "+CWAUTO:0" {
		t.Fatalf("auto query after off = %q", got)
	}

	sendLine(u, "AT+CWSAVE")
	if got := readLine(t, u); got != "ERROR: No WiFi connection to save" {
		t.Fatalf("save before join = %q", got)
	}

	joinTestNet(t, u)
	sendLine(u, "AT+CWSAVE")
	if got := readLine(t, u); got != "OK: WiFi config saved" {
		t.Fatalf("save = %q", got)
	}
	ssid, password, err := creds.Load()
	if err != nil || ssid != "TESTNET" || password != "secret" {
		t.Fatalf("persisted creds = %q %q %v", ssid, password, err)
	}

	sendLine(u, "AT+CWFORGET")
	if got := readLine(t, u); got != "OK: WiFi config cleared" {
		t.Fatalf("forget = %q", got)
	}
	if _, _, err := creds.Load(); err != store.ErrNoCredentials {
		t.Fatalf("creds survive forget: %v", err)
	}
}

func TestConsoleCommandCapture(t *testing.T) {
	u := newTestUsart(t, nil)

	lines := u.CommandSync("ATI")
	if len(lines) != 1 || lines[0] != "TS-2050 8251 USART Emulator v1.0" {
		t.Fatalf("captured = %q", lines)
	}
	// Captured responses must not leak into the host queue.
	if s := u.ReadRegisterSync(RegControl); s&StatusRxRdy != 0 {
		t.Fatalf("console response leaked to RX queue, status 0x%02X", s)
	}
}

func TestDataByteAbortsDial(t *testing.T) {
	u := newTestUsart(t, nil)
	makeOperational(u)
	joinTestNet(t, u)

	// A dialer that parks until the dial is cancelled, so the attempt is
	// reliably still in flight when the abort byte arrives.
	dialing := make(chan struct{})
	u.Lock()
	u.bridge.dial = func(ctx context.Context, network, addr string) (net.Conn, error) {
		close(dialing)
		<-ctx.Done()
		return nil, ctx.Err()
	}
	u.Unlock()

	sendLine(u, "ATDbbs.example.com")
	select {
	case <-dialing:
	case <-time.After(2 * time.Second):
		t.Fatal("never entered dialing mode")
	}

	u.WriteRegisterSync(RegData, 'x')
	if got := readLine(t, u); got != "NO CARRIER" {
		t.Fatalf("abort = %q, want NO CARRIER", got)
	}
	if got := u.MetricsSync().ModemMode; got != ModemCommand {
		t.Fatalf("mode after abort = %v", got)
	}
}

// slowJoinStation parks Join until released, so tests can observe register
// traffic while an association is in flight.
type slowJoinStation struct {
	wifi.Station
	entered chan struct{}
	release chan struct{}
}

func (s *slowJoinStation) Join(ssid, password string) error {
	close(s.entered)
	<-s.release
	return s.Station.Join(ssid, password)
}

func TestRegisterAccessDuringWifiJoin(t *testing.T) {
	st := &slowJoinStation{
		Station: wifi.NewSimStation(testNetworks(), map[string]string{"TESTNET": "secret"}),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	u := newTestUsart(t, func(cfg *Config) { cfg.Station = st })
	makeOperational(u)

	done := make(chan []string, 1)
	go func() { done <- u.CommandSync(`AT+CWJAP="TESTNET","secret"`) }()
	<-st.entered

	// The join is blocked; register access must not be.
	start := time.Now()
	if s := u.ReadRegisterSync(RegControl); s&StatusTxRdy == 0 {
		t.Fatalf("status during join = 0x%02X, TxRDY clear", s)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("register read blocked %v behind the join", elapsed)
	}

	close(st.release)
	if lines := <-done; len(lines) != 1 || lines[0] != "OK" {
		t.Fatalf("join response = %q, want OK", lines)
	}
}

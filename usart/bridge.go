package usart

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/timex-sinclair-projects/TS-2050-Wifi/debug"
)

// readPollTimeout bounds the socket read inside one pump step so the pump
// never blocks on a quiet connection.
const readPollTimeout = time.Millisecond

// bridge owns the outbound TCP connection and moves bytes between it and
// the USART queues. Methods run under the Usart lock except connect and
// pump, which manage the lock themselves.
type bridge struct {
	u       *Usart
	dial    func(ctx context.Context, network, addr string) (net.Conn, error)
	conn    net.Conn
	host    string
	port    int
	readBuf []byte
}

func newBridge(u *Usart, connectTimeout time.Duration) *bridge {
	d := &net.Dialer{Timeout: connectTimeout}
	return &bridge{
		u:       u,
		dial:    d.DialContext,
		readBuf: make([]byte, 1024),
	}
}

// connect establishes the TCP session. Runs without the lock; name
// resolution and the handshake are bounded by the connect timeout and the
// context.
func (b *bridge) connect(ctx context.Context, host string, port int) (net.Conn, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	b.u.log.Printf(debug.NETWORK, "connecting to %s", addr)
	conn, err := b.dial(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDial, addr, err)
	}
	return conn, nil
}

// adopt installs an established connection as the live session.
func (b *bridge) adopt(conn net.Conn, host string, port int) {
	b.conn = conn
	b.host = host
	b.port = port
	b.u.metrics.NumConns++
	b.u.metrics.LastConnTime = time.Now()
	b.u.recomputeStatus()
	b.u.log.Printf(debug.NETWORK, "connected to %s:%d", host, port)
}

func (b *bridge) isConnected() bool {
	return b.conn != nil
}

// drop closes the live session and returns the modem to command mode.
// Idempotent.
func (b *bridge) drop() {
	if b.conn == nil {
		return
	}
	b.conn.Close()
	b.conn = nil
	b.u.log.Printf(debug.NETWORK, "disconnected from %s:%d", b.host, b.port)
	b.host, b.port = "", 0
	b.u.hayes.setMode(ModemCommand)
	b.u.recomputeStatus()
}

// pump is one bridge step: drain the TX queue, routing each byte by modem
// mode, then poll the socket for inbound data. Socket I/O happens outside
// the lock; a short read deadline keeps the step non-blocking.
func (b *bridge) pump() {
	b.u.Lock()
	if b.u.closed {
		b.u.Unlock()
		return
	}
	var out []byte
	drained := false
	for {
		v, ok := b.u.txq.pop()
		if !ok {
			break
		}
		drained = true
		switch b.u.hayes.mode {
		case ModemCommand:
			b.u.hayes.feed(v)
		case ModemOnline:
			// Escape scan first; the byte is forwarded regardless.
			b.u.hayes.feedOnline(v)
			out = append(out, v)
		case ModemDialing:
		}
	}
	if drained {
		b.u.recomputeStatus()
	}
	conn := b.conn
	b.u.Unlock()

	if conn == nil {
		return
	}
	if len(out) > 0 {
		if _, err := conn.Write(out); err != nil {
			b.fail(conn, err)
			return
		}
		b.u.Lock()
		b.u.metrics.ConnTxBytes += len(out)
		b.u.Unlock()
	}

	conn.SetReadDeadline(time.Now().Add(readPollTimeout))
	n, err := conn.Read(b.readBuf)
	if n > 0 {
		b.u.Lock()
		b.u.pushToHost(b.readBuf[:n])
		b.u.metrics.ConnRxBytes += n
		b.u.Unlock()
	}
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return
		}
		b.fail(conn, err)
	}
}

// fail tears the session down after an I/O error, unless another path
// already replaced or dropped it.
func (b *bridge) fail(conn net.Conn, err error) {
	b.u.Lock()
	defer b.u.Unlock()
	if b.conn != conn {
		return
	}
	b.u.log.Printf(debug.NETWORK, "%v: %v", ErrNetworkIO, err)
	b.drop()
	b.u.hayes.respond("NO CARRIER")
}

package usart

import "time"

// Metrics contains runtime statistics for an emulator instance. All counters
// are cumulative totals since the emulator was created.
type Metrics struct {
	// State is the current 8251 state machine position.
	State State
	// ModemMode is the current Hayes modem mode.
	ModemMode ModemMode
	// RegisterReads is the total number of register read cycles served.
	RegisterReads int
	// RegisterWrites is the total number of register write cycles served.
	RegisterWrites int
	// BusTimeouts counts abandoned bus cycles.
	BusTimeouts int
	// BytesToHost is the total number of bytes queued for the host (RX side).
	BytesToHost int
	// BytesFromHost is the total number of bytes accepted from the host (TX side).
	BytesFromHost int
	// ConnRxBytes is the total number of bytes received from network connections.
	ConnRxBytes int
	// ConnTxBytes is the total number of bytes sent to network connections.
	ConnTxBytes int
	// NumConns is the total number of outbound connections established.
	NumConns int
	// QueueDrops counts bytes dropped because a queue was full.
	QueueDrops int
	// LastHostAccessTime is the timestamp of the last register access.
	LastHostAccessTime time.Time
	// LastAtCmdTime is the timestamp of the last AT command dispatched.
	LastAtCmdTime time.Time
	// LastConnTime is the timestamp of the last connection establishment.
	LastConnTime time.Time
}

// Metrics returns a copy of the current metrics.
// The emulator lock must be held before calling this method.
// Use MetricsSync for automatic lock management.
func (u *Usart) Metrics() *Metrics {
	u.checkLock()
	m := *u.metrics
	m.State = u.state
	m.ModemMode = u.hayes.mode
	return &m
}

// MetricsSync returns a copy of the current metrics with automatic lock
// management.
func (u *Usart) MetricsSync() *Metrics {
	u.Lock()
	defer u.Unlock()
	return u.Metrics()
}

package usart

import "errors"

var (
	// ErrConfigRequired is returned when a required configuration parameter is missing.
	ErrConfigRequired = errors.New("config required")
	// ErrClosed is returned when an operation is attempted on a closed emulator.
	ErrClosed = errors.New("emulator closed")
	// ErrBusTimeout is reported when the host never releases a strobe line
	// within the access deadline; the cycle is abandoned and register state
	// is left untouched.
	ErrBusTimeout = errors.New("bus cycle timeout")
	// ErrInvalidRegisterAccess is reported for an out-of-range port address.
	ErrInvalidRegisterAccess = errors.New("invalid register access")
	// ErrAtSyntax is returned by the AT parser for an unknown or malformed
	// command line; it surfaces to the host as an ERROR response.
	ErrAtSyntax = errors.New("unparseable AT command")
	// ErrDial is returned when a dial target is malformed or the connect
	// attempt fails; it surfaces to the host as NO CARRIER.
	ErrDial = errors.New("dial failed")
	// ErrNetworkIO is reported for a send/receive failure mid-session; the
	// bridge disconnects and the host sees NO CARRIER.
	ErrNetworkIO = errors.New("network i/o error")
	// ErrWifiAssociation is reported when joining an access point fails.
	ErrWifiAssociation = errors.New("wifi association failed")
	// ErrPersistence is reported when the credential or shortcut store
	// cannot be read or written; never fatal.
	ErrPersistence = errors.New("persistent store error")
	// ErrQueueOverflow is reported when a producer exceeds queue capacity;
	// the new bytes are dropped and the OE status bit is set on the RX side.
	ErrQueueOverflow = errors.New("queue overflow")
)

// Package debug provides category-gated logging for the emulator.
//
// Log lines are grouped into categories (GPIO, USART, NETWORK, ...) that can
// be enabled individually, so bus-cycle noise can be silenced while network
// tracing stays on. Output goes through a standard *log.Logger.
package debug

import (
	"log"
	"os"
	"path"
	"strings"
)

// Category identifies a group of log messages.
type Category int

const (
	// GPIO covers pin state changes and data bus access.
	GPIO Category = iota
	// USART covers register operations and state machine transitions.
	USART
	// NETWORK covers socket and WiFi operations.
	NETWORK
	// HAYES covers AT command processing.
	HAYES
	// INTERFACE covers bus cycle monitoring.
	INTERFACE
	// SYSTEM covers startup, persistence and memory events.
	SYSTEM

	numCategories
)

// String returns the category name as it appears in log output.
func (c Category) String() string {
	switch c {
	case GPIO:
		return "GPIO"
	case USART:
		return "USART"
	case NETWORK:
		return "NETWORK"
	case HAYES:
		return "HAYES"
	case INTERFACE:
		return "INTERFACE"
	case SYSTEM:
		return "SYSTEM"
	default:
		return "UNKNOWN"
	}
}

// CategoryFromString resolves a category name, case-insensitively.
// Returns the category and true, or zero and false for unknown names.
func CategoryFromString(s string) (Category, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "GPIO":
		return GPIO, true
	case "USART":
		return USART, true
	case "NETWORK", "NET":
		return NETWORK, true
	case "HAYES":
		return HAYES, true
	case "INTERFACE":
		return INTERFACE, true
	case "SYSTEM":
		return SYSTEM, true
	default:
		return 0, false
	}
}

// Logger is a category-gated logger. The zero value is not usable; use New
// or NewDiscard.
type Logger struct {
	out     *log.Logger
	enabled [numCategories]bool
	verbose bool
}

// New creates a Logger writing to the given *log.Logger with the default
// category set (USART, NETWORK, HAYES and SYSTEM on; GPIO and INTERFACE off).
// A nil out logger writes to stderr with a program-name prefix.
func New(out *log.Logger) *Logger {
	if out == nil {
		prefix := path.Base(os.Args[0]) + ": "
		out = log.New(os.Stderr, prefix, log.Ldate|log.Ltime|log.Lmicroseconds)
	}
	l := &Logger{out: out}
	l.enabled[USART] = true
	l.enabled[NETWORK] = true
	l.enabled[HAYES] = true
	l.enabled[SYSTEM] = true
	return l
}

// NewDiscard creates a Logger with every category disabled. Handy default
// for library callers that did not configure logging.
func NewDiscard() *Logger {
	return &Logger{out: log.New(discard{}, "", 0)}
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

// Enable turns a category on or off.
func (l *Logger) Enable(c Category, on bool) {
	if c >= 0 && c < numCategories {
		l.enabled[c] = on
	}
}

// Enabled reports whether a category is currently emitted.
func (l *Logger) Enabled(c Category) bool {
	return c >= 0 && c < numCategories && l.enabled[c]
}

// SetVerbose toggles the extra-verbose messages (per-byte bus traffic).
func (l *Logger) SetVerbose(on bool) {
	l.verbose = on
}

// Printf logs a formatted message under the given category if it is enabled.
func (l *Logger) Printf(c Category, format string, args ...interface{}) {
	if !l.Enabled(c) {
		return
	}
	l.out.Printf(c.String()+": "+format, args...)
}

// Verbosef logs a formatted message only when verbose mode is on and the
// category is enabled.
func (l *Logger) Verbosef(c Category, format string, args ...interface{}) {
	if !l.verbose {
		return
	}
	l.Printf(c, format, args...)
}

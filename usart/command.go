package usart

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

type commandKind int

const (
	cmdAttention commandKind = iota
	cmdIdentify
	cmdReset
	cmdFactory
	cmdHangup
	cmdDial
	cmdDialShortcut
	cmdResume
	cmdWifiScan
	cmdWifiQuery
	cmdWifiJoin
	cmdWifiLeave
	cmdWifiStatus
	cmdWifiSave
	cmdWifiAuto
	cmdWifiForget
	cmdStoreShortcut
	cmdListShortcuts
)

// atCommand is one parsed AT command line. kind selects the variant; the
// other fields carry its parameters.
type atCommand struct {
	kind     commandKind
	host     string
	port     int
	index    int
	ssid     string
	password string
	desc     string
	enable   bool
	query    bool
	clear    bool
}

// defaultDialPort is used when a dial target omits the port.
const defaultDialPort = 23

var joinRe = regexp.MustCompile(`^"([^"]*)"(?:,"([^"]*)")?$`)

// parseATLine parses one command line. The AT prefix and keywords are case
// insensitive; parameters keep their case. ErrAtSyntax for anything the
// grammar does not cover.
func parseATLine(line string) (*atCommand, error) {
	line = strings.TrimSpace(line)
	if len(line) < 2 || !strings.EqualFold(line[:2], "AT") {
		return nil, fmt.Errorf("%w: %q", ErrAtSyntax, line)
	}
	rest := line[2:]
	if rest == "" {
		return &atCommand{kind: cmdAttention}, nil
	}

	upper := strings.ToUpper(rest)
	switch upper {
	case "I", "I0":
		return &atCommand{kind: cmdIdentify}, nil
	case "Z":
		return &atCommand{kind: cmdReset}, nil
	case "&F":
		return &atCommand{kind: cmdFactory}, nil
	case "H", "H0":
		return &atCommand{kind: cmdHangup}, nil
	case "O", "O0":
		return &atCommand{kind: cmdResume}, nil
	case "&V":
		return &atCommand{kind: cmdListShortcuts}, nil
	case "+CWLAP", "+CWSCAN":
		return &atCommand{kind: cmdWifiScan}, nil
	case "+CWJAP?":
		return &atCommand{kind: cmdWifiQuery}, nil
	case "+CWQAP":
		return &atCommand{kind: cmdWifiLeave}, nil
	case "+CWSTAT":
		return &atCommand{kind: cmdWifiStatus}, nil
	case "+CWSAVE":
		return &atCommand{kind: cmdWifiSave}, nil
	case "+CWFORGET":
		return &atCommand{kind: cmdWifiForget}, nil
	case "+CWAUTO", "+CWAUTO?":
		return &atCommand{kind: cmdWifiAuto, query: true}, nil
	case "+CWAUTO=0":
		return &atCommand{kind: cmdWifiAuto}, nil
	case "+CWAUTO=1":
		return &atCommand{kind: cmdWifiAuto, enable: true}, nil
	}

	switch {
	case strings.HasPrefix(upper, "+CWJAP="):
		m := joinRe.FindStringSubmatch(rest[len("+CWJAP="):])
		if m == nil {
			return nil, fmt.Errorf("%w: %q", ErrAtSyntax, line)
		}
		return &atCommand{kind: cmdWifiJoin, ssid: m[1], password: m[2]}, nil
	case strings.HasPrefix(upper, "DS"):
		n, err := strconv.Atoi(rest[2:])
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrAtSyntax, line)
		}
		return &atCommand{kind: cmdDialShortcut, index: n}, nil
	case strings.HasPrefix(upper, "D"):
		// The target is a hostname, so no tone/pulse modifier stripping.
		host, port, err := parseTarget(strings.TrimSpace(rest[1:]))
		if err != nil {
			return nil, err
		}
		return &atCommand{kind: cmdDial, host: host, port: port}, nil
	case strings.HasPrefix(upper, "&Z"):
		return parseStoreShortcut(rest[2:], line)
	}
	return nil, fmt.Errorf("%w: %q", ErrAtSyntax, line)
}

// parseTarget splits host[:port], defaulting the port to 23.
func parseTarget(target string) (string, int, error) {
	if target == "" {
		return "", 0, fmt.Errorf("%w: empty dial target", ErrDial)
	}
	host := target
	port := defaultDialPort
	if i := strings.LastIndexByte(target, ':'); i >= 0 {
		host = target[:i]
		p, err := strconv.Atoi(target[i+1:])
		if err != nil || p < 1 || p > 65535 {
			return "", 0, fmt.Errorf("%w: bad port in %q", ErrDial, target)
		}
		port = p
	}
	if host == "" {
		return "", 0, fmt.Errorf("%w: empty host in %q", ErrDial, target)
	}
	return host, port, nil
}

// parseStoreShortcut handles &Z<n>=target[,desc]. An empty target clears the
// slot.
func parseStoreShortcut(rest, line string) (*atCommand, error) {
	eq := strings.IndexByte(rest, '=')
	if eq < 0 {
		return nil, fmt.Errorf("%w: %q", ErrAtSyntax, line)
	}
	n, err := strconv.Atoi(rest[:eq])
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrAtSyntax, line)
	}
	val := rest[eq+1:]
	if val == "" {
		return &atCommand{kind: cmdStoreShortcut, index: n, clear: true}, nil
	}
	target := val
	desc := ""
	if i := strings.IndexByte(val, ','); i >= 0 {
		target = val[:i]
		desc = strings.TrimSpace(val[i+1:])
	}
	host, port, err := parseTarget(strings.TrimSpace(target))
	if err != nil {
		return nil, err
	}
	return &atCommand{kind: cmdStoreShortcut, index: n, host: host, port: port, desc: desc}, nil
}

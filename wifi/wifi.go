// Package wifi defines the WiFi collaborator consumed by the emulator core.
//
// The core never touches the radio itself; it only needs an association
// signal, IP configuration for status reporting, and scan/join/leave
// operations for the AT+CW commands. Two stations ship with the package:
// HostStation, which reflects a host-managed network interface, and
// SimStation, an in-memory station for bench setups and tests.
package wifi

import (
	"errors"
	"fmt"
	"net"
	"sync"
)

var (
	// ErrNotSupported is returned by stations that cannot perform the
	// requested radio operation (the host OS owns the radio).
	ErrNotSupported = errors.New("operation not supported by this station")
	// ErrNotAssociated is returned when IP configuration is requested
	// without an association.
	ErrNotAssociated = errors.New("not associated")
	// ErrJoinFailed is returned when an association attempt fails.
	ErrJoinFailed = errors.New("association failed")
)

// AuthMode identifies the security mode of a scanned network.
type AuthMode int

const (
	AuthOpen AuthMode = iota
	AuthWEP
	AuthWPAPSK
	AuthWPA2PSK
	AuthWPAWPA2PSK
	AuthWPA2Enterprise
)

// String returns the auth mode name used in +CWLAP scan lines.
func (a AuthMode) String() string {
	switch a {
	case AuthOpen:
		return "OPEN"
	case AuthWEP:
		return "WEP"
	case AuthWPAPSK:
		return "WPA_PSK"
	case AuthWPA2PSK:
		return "WPA2_PSK"
	case AuthWPAWPA2PSK:
		return "WPA_WPA2_PSK"
	case AuthWPA2Enterprise:
		return "WPA2_ENTERPRISE"
	default:
		return fmt.Sprintf("AUTH%d", int(a))
	}
}

// Network describes one access point found by a scan.
type Network struct {
	SSID    string
	BSSID   net.HardwareAddr
	Channel int
	RSSI    int
	Auth    AuthMode
	Hidden  bool
}

// IPConfig is the station's current addressing, mirroring what the original
// firmware reports in AT+CWSTAT.
type IPConfig struct {
	Addr    string
	Subnet  string
	Gateway string
	DNS     string
}

// Station is the external WiFi collaborator.
type Station interface {
	// Associated reports whether the station currently has an association.
	Associated() bool
	// SSID returns the SSID of the current association, or "".
	SSID() string
	// IPConfig returns the current addressing. ErrNotAssociated when down.
	IPConfig() (IPConfig, error)
	// Scan lists visible networks, strongest first.
	Scan() ([]Network, error)
	// Join associates with the given network. Blocking, bounded by the
	// station's own timeout.
	Join(ssid, password string) error
	// Leave drops the current association. Idempotent.
	Leave() error
}

// HostStation reports the state of a host-managed network interface. The
// operating system owns association, so Scan, Join and Leave return
// ErrNotSupported; Associated is true while the named interface is up with
// an IPv4 address.
type HostStation struct {
	// Iface is the interface name, e.g. "wlan0".
	Iface string
	// Name is reported as the SSID, since the host OS does not expose it.
	Name string
}

// Associated implements Station.
func (h *HostStation) Associated() bool {
	_, err := h.IPConfig()
	return err == nil
}

// SSID implements Station.
func (h *HostStation) SSID() string {
	if h.Name != "" {
		return h.Name
	}
	return h.Iface
}

// IPConfig implements Station.
func (h *HostStation) IPConfig() (IPConfig, error) {
	ifc, err := net.InterfaceByName(h.Iface)
	if err != nil {
		return IPConfig{}, ErrNotAssociated
	}
	if ifc.Flags&net.FlagUp == 0 {
		return IPConfig{}, ErrNotAssociated
	}
	addrs, err := ifc.Addrs()
	if err != nil {
		return IPConfig{}, ErrNotAssociated
	}
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		ip4 := ipnet.IP.To4()
		if ip4 == nil {
			continue
		}
		return IPConfig{
			Addr:   ip4.String(),
			Subnet: net.IP(ipnet.Mask).String(),
		}, nil
	}
	return IPConfig{}, ErrNotAssociated
}

// Scan implements Station.
func (h *HostStation) Scan() ([]Network, error) { return nil, ErrNotSupported }

// Join implements Station.
func (h *HostStation) Join(ssid, password string) error { return ErrNotSupported }

// Leave implements Station.
func (h *HostStation) Leave() error { return ErrNotSupported }

// SimStation is an in-memory station for bench setups and tests. Join
// succeeds when the SSID matches a configured network and the password
// matches the network's key (empty key accepts any password).
type SimStation struct {
	mu       sync.Mutex
	networks []Network
	keys     map[string]string
	ssid     string
	cfg      IPConfig
}

// NewSimStation creates a simulated station with the given visible networks.
// Keys maps SSID to the expected password; SSIDs absent from keys are open.
func NewSimStation(networks []Network, keys map[string]string) *SimStation {
	if keys == nil {
		keys = make(map[string]string)
	}
	return &SimStation{
		networks: networks,
		keys:     keys,
		cfg: IPConfig{
			Addr:    "192.168.4.2",
			Subnet:  "255.255.255.0",
			Gateway: "192.168.4.1",
			DNS:     "192.168.4.1",
		},
	}
}

// Associated implements Station.
func (s *SimStation) Associated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ssid != ""
}

// SSID implements Station.
func (s *SimStation) SSID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ssid
}

// IPConfig implements Station.
func (s *SimStation) IPConfig() (IPConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ssid == "" {
		return IPConfig{}, ErrNotAssociated
	}
	return s.cfg, nil
}

// Scan implements Station.
func (s *SimStation) Scan() ([]Network, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Network, len(s.networks))
	copy(out, s.networks)
	return out, nil
}

// Join implements Station.
func (s *SimStation) Join(ssid, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.networks {
		if n.SSID != ssid {
			continue
		}
		if key, ok := s.keys[ssid]; ok && key != password {
			return ErrJoinFailed
		}
		s.ssid = ssid
		return nil
	}
	return ErrJoinFailed
}

// Leave implements Station.
func (s *SimStation) Leave() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ssid = ""
	return nil
}

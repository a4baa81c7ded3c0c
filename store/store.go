// Package store persists the emulator's small configuration blobs: WiFi
// credentials and the dial shortcut phonebook. Files are the system of
// record; the in-memory maps are caches loaded at startup. Writes are best
// effort: a failed write is reported to the caller and logged, never fatal.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
)

const (
	credentialsFile = "wifi_config.txt"
	shortcutsFile   = "shortcuts.json"

	// MaxShortcuts is the number of phonebook slots (indices 0..49).
	MaxShortcuts = 50
	// MaxDescLen bounds the free-text description of a shortcut.
	MaxDescLen = 32
)

var (
	// ErrNoCredentials is returned when no credentials have been saved.
	ErrNoCredentials = errors.New("no saved wifi credentials")
	// ErrBadIndex is returned for shortcut indices outside 0..49.
	ErrBadIndex = errors.New("shortcut index out of range")
	// ErrNoEntry is returned when a shortcut slot is empty.
	ErrNoEntry = errors.New("no shortcut at this index")
)

// Credentials persists a single ssid/password pair as two text lines,
// matching the original firmware's wifi_config.txt format.
type Credentials struct {
	mu   sync.Mutex
	path string
}

// NewCredentials creates a credential store rooted at dir.
func NewCredentials(dir string) *Credentials {
	return &Credentials{path: filepath.Join(dir, credentialsFile)}
}

// Load reads the saved ssid and password. ErrNoCredentials when the file
// does not exist or is malformed.
func (c *Credentials) Load() (ssid, password string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, err := os.ReadFile(c.path)
	if err != nil {
		return "", "", ErrNoCredentials
	}
	lines := strings.Split(strings.TrimRight(string(b), "\n"), "\n")
	if len(lines) < 2 {
		return "", "", ErrNoCredentials
	}
	return lines[0], lines[1], nil
}

// Save writes the ssid and password, replacing any previous pair.
func (c *Credentials) Save(ssid, password string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	data := fmt.Sprintf("%s\n%s", ssid, password)
	return os.WriteFile(c.path, []byte(data), 0600)
}

// Clear removes the saved credentials. Clearing an absent file is not an
// error.
func (c *Credentials) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	err := os.Remove(c.path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Entry is one phonebook slot: a dialable target and its description.
type Entry struct {
	Host string `json:"host"`
	Desc string `json:"desc"`
}

// Shortcuts is the dial phonebook, persisted as a JSON object keyed by the
// decimal index string.
type Shortcuts struct {
	mu      sync.Mutex
	path    string
	entries map[int]Entry
}

// NewShortcuts creates a phonebook rooted at dir with an empty cache.
// Call Load to populate it.
func NewShortcuts(dir string) *Shortcuts {
	return &Shortcuts{
		path:    filepath.Join(dir, shortcutsFile),
		entries: make(map[int]Entry),
	}
}

// Load replaces the cache with the persisted phonebook. A missing file
// leaves the cache empty and returns nil; a corrupt file returns the decode
// error with the cache left empty.
func (s *Shortcuts) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[int]Entry)
	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	raw := make(map[string]Entry)
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	for k, v := range raw {
		n, err := strconv.Atoi(k)
		if err != nil || n < 0 || n >= MaxShortcuts {
			continue
		}
		s.entries[n] = v
	}
	return nil
}

func (s *Shortcuts) write() error {
	raw := make(map[string]Entry, len(s.entries))
	for n, e := range s.entries {
		raw[strconv.Itoa(n)] = e
	}
	b, err := json.MarshalIndent(raw, "", "\t")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, b, 0644)
}

// Set stores an entry at the given index and persists the phonebook.
// Descriptions longer than MaxDescLen are truncated.
func (s *Shortcuts) Set(index int, e Entry) error {
	if index < 0 || index >= MaxShortcuts {
		return ErrBadIndex
	}
	if len(e.Desc) > MaxDescLen {
		e.Desc = e.Desc[:MaxDescLen]
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[index] = e
	return s.write()
}

// Delete removes the entry at index and persists. Deleting an empty slot is
// a no-op.
func (s *Shortcuts) Delete(index int) error {
	if index < 0 || index >= MaxShortcuts {
		return ErrBadIndex
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[index]; !ok {
		return nil
	}
	delete(s.entries, index)
	return s.write()
}

// Get returns the entry at index, or ErrNoEntry for an empty slot.
func (s *Shortcuts) Get(index int) (Entry, error) {
	if index < 0 || index >= MaxShortcuts {
		return Entry{}, ErrBadIndex
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[index]
	if !ok {
		return Entry{}, ErrNoEntry
	}
	return e, nil
}

// List returns the occupied slots in index order.
func (s *Shortcuts) List() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := make([]int, 0, len(s.entries))
	for n := range s.entries {
		idx = append(idx, n)
	}
	sort.Ints(idx)
	return idx
}

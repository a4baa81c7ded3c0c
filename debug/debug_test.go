package debug

import (
	"bytes"
	"log"
	"strings"
	"testing"
)

func TestCategoryGating(t *testing.T) {
	var buf bytes.Buffer
	l := New(log.New(&buf, "", 0))

	l.Printf(HAYES, "visible %d", 1)
	l.Printf(GPIO, "hidden")
	out := buf.String()
	if !strings.Contains(out, "HAYES: visible 1") {
		t.Fatalf("enabled category missing: %q", out)
	}
	if strings.Contains(out, "hidden") {
		t.Fatalf("disabled category leaked: %q", out)
	}

	l.Enable(GPIO, true)
	l.Printf(GPIO, "now visible")
	if !strings.Contains(buf.String(), "GPIO: now visible") {
		t.Fatalf("enabled GPIO missing: %q", buf.String())
	}
}

func TestVerboseGating(t *testing.T) {
	var buf bytes.Buffer
	l := New(log.New(&buf, "", 0))

	l.Verbosef(USART, "quiet")
	if buf.Len() != 0 {
		t.Fatalf("verbose line emitted while off: %q", buf.String())
	}
	l.SetVerbose(true)
	l.Verbosef(USART, "loud")
	if !strings.Contains(buf.String(), "USART: loud") {
		t.Fatalf("verbose line missing: %q", buf.String())
	}
}

func TestCategoryFromString(t *testing.T) {
	if c, ok := CategoryFromString("network"); !ok || c != NETWORK {
		t.Fatalf("network = %v %v", c, ok)
	}
	if c, ok := CategoryFromString(" NET "); !ok || c != NETWORK {
		t.Fatalf("net alias = %v %v", c, ok)
	}
	if _, ok := CategoryFromString("bogus"); ok {
		t.Fatal("bogus category resolved")
	}
}

func TestNewDiscard(t *testing.T) {
	l := NewDiscard()
	for c := Category(0); c < numCategories; c++ {
		if l.Enabled(c) {
			t.Fatalf("category %v enabled on discard logger", c)
		}
	}
	// Must not panic.
	l.Printf(SYSTEM, "dropped")
}

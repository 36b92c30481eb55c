package idgen

import (
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	id := New()
	if len(id) != 36 {
		t.Errorf("New() length = %d, want 36", len(id))
	}
	if strings.Count(id, "-") != 4 {
		t.Errorf("New() = %q, want 4 dashes", id)
	}
}

func TestWithPrefix(t *testing.T) {
	id := WithPrefix("app_")
	if !strings.HasPrefix(id, "app_") {
		t.Errorf("WithPrefix = %q, want app_ prefix", id)
	}
	if len(id) != len("app_")+24 {
		t.Errorf("WithPrefix length = %d, want %d", len(id), len("app_")+24)
	}
}

func TestHex(t *testing.T) {
	if got := Hex(16); len(got) != 32 {
		t.Errorf("Hex(16) length = %d, want 32", len(got))
	}
}

func TestUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := WithPrefix("x_")
		if seen[id] {
			t.Fatalf("Duplicate ID generated: %s", id)
		}
		seen[id] = true
	}
}

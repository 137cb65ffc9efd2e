package ids

import (
	"strings"
	"testing"
)

func TestNewIsMonotonic(t *testing.T) {
	prev := New()
	for i := 0; i < 1000; i++ {
		next := New()
		if next <= prev {
			t.Fatalf("expected %q > %q", next, prev)
		}
		prev = next
	}
}

func TestWithPrefix(t *testing.T) {
	id := WithPrefix("act_")
	if !strings.HasPrefix(id, "act_") {
		t.Fatalf("unexpected id %q", id)
	}
	if len(id) != len("act_")+26 {
		t.Fatalf("unexpected length %d", len(id))
	}
	if got := WithPrefix("  "); strings.Contains(got, "_") {
		t.Fatalf("empty prefix should yield bare ulid, got %q", got)
	}
}

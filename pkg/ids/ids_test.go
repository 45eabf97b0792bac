package ids

import (
	"testing"

	"github.com/oklog/ulid/v2"
)

func TestNewIsSortableAndUnique(t *testing.T) {
	prev := ""
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := New()
		if _, err := ulid.Parse(id); err != nil {
			t.Fatalf("Expected valid ULID, got %q: %v", id, err)
		}
		if seen[id] {
			t.Fatalf("Duplicate id %s", id)
		}
		if id <= prev {
			t.Fatalf("Expected %s to sort after %s", id, prev)
		}
		seen[id] = true
		prev = id
	}
}

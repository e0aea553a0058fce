package xid

import "testing"

func TestNewIsUniqueUUID(t *testing.T) {
	seen := make(map[string]bool, 100)
	for i := 0; i < 100; i++ {
		id := New()
		if !Valid(id) {
			t.Fatalf("expected uuid, got %q", id)
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
	if Valid("tx-123") {
		t.Fatalf("expected non-uuid to be invalid")
	}
}

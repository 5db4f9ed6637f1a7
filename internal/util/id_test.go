package util

import (
	"strings"
	"testing"
)

func TestNewIDPrefix(t *testing.T) {
	id := NewID("sess")
	if !strings.HasPrefix(id, "sess_") {
		t.Fatalf("expected sess_ prefix, got %q", id)
	}
	if len(id) != len("sess_")+32 {
		t.Fatalf("expected 32 hex chars after prefix, got %q", id)
	}
	if bare := NewID(""); strings.Contains(bare, "_") {
		t.Fatalf("expected no separator without prefix, got %q", bare)
	}
}

func TestNewIDIsOrderedAndUnique(t *testing.T) {
	seen := make(map[string]struct{})
	previous := ""
	for i := 0; i < 500; i++ {
		id := NewID("form")
		if _, ok := seen[id]; ok {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = struct{}{}
		if previous != "" && id <= previous {
			t.Fatalf("expected %q to sort after %q", id, previous)
		}
		previous = id
	}
}

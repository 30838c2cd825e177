package util

import (
	"strings"
	"testing"
)

func TestNewIDPrefix(t *testing.T) {
	id := NewID("jti")
	if !strings.HasPrefix(id, "jti_") {
		t.Fatalf("NewID() = %q, want jti_ prefix", id)
	}
	if len(strings.TrimPrefix(id, "jti_")) != 32 {
		t.Fatalf("NewID() suffix length = %d, want 32", len(strings.TrimPrefix(id, "jti_")))
	}
	if NewID("jti") == id {
		t.Fatal("expected distinct ids")
	}
}

func TestUUIDRoundTrip(t *testing.T) {
	if !IsUUID(UUID()) {
		t.Fatal("UUID() did not parse")
	}
	if IsUUID("not-a-uuid") {
		t.Fatal("IsUUID accepted garbage")
	}
}

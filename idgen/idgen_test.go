package idgen

import (
	"sort"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestUUIDv7(t *testing.T) {
	gen := UUIDv7()
	id := gen()
	u, err := uuid.Parse(id)
	if err != nil {
		t.Fatalf("not a uuid: %q: %v", id, err)
	}
	if u.Version() != 7 {
		t.Errorf("version = %d, want 7", u.Version())
	}
}

func TestUUIDv7_Sortable(t *testing.T) {
	gen := UUIDv7()
	ids := make([]string, 50)
	for i := range ids {
		ids[i] = gen()
	}
	if !sort.StringsAreSorted(ids) {
		t.Error("UUIDv7 ids should sort in creation order")
	}
}

func TestPrefixed(t *testing.T) {
	id := Prefixed("fetch_", UUIDv7())()
	if !strings.HasPrefix(id, "fetch_") {
		t.Fatalf("missing prefix: %q", id)
	}
	if _, err := uuid.Parse(strings.TrimPrefix(id, "fetch_")); err != nil {
		t.Errorf("suffix not a uuid: %v", err)
	}
}

func TestDefault_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for range 1000 {
		id := Default()
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}

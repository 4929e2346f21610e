package route

import "testing"

func TestParseSeats(t *testing.T) {
	tests := []struct {
		in       string
		occupied int
		total    int
		ok       bool
	}{
		{"3/5", 3, 5, true},
		{" 45 / 45 ", 45, 45, true},
		{"0/40", 0, 40, true},
		{"7/5", 7, 5, true},
		{"", 0, 0, false},
		{"마감", 0, 0, false},
		{"3/", 0, 0, false},
		{"a/5", 0, 0, false},
		{"-1/5", 0, 0, false},
	}
	for _, tt := range tests {
		o, total, ok := ParseSeats(tt.in)
		if o != tt.occupied || total != tt.total || ok != tt.ok {
			t.Errorf("ParseSeats(%q) = %d, %d, %v; want %d, %d, %v",
				tt.in, o, total, ok, tt.occupied, tt.total, tt.ok)
		}
	}
}

func TestFull(t *testing.T) {
	if (Route{Occupied: 3, Total: 5}).Full() {
		t.Error("3/5 should not be full")
	}
	if !(Route{Occupied: 5, Total: 5}).Full() {
		t.Error("5/5 should be full")
	}
	if !(Route{Occupied: 6, Total: 5}).Full() {
		t.Error("over capacity should count as full")
	}
}

func TestLabel(t *testing.T) {
	r := Route{ID: "K1", BusNumber: "101", BusType: "통학", Vehicle: "45인승"}
	if got := r.Label(); got != "101 (통학, 45인승)" {
		t.Errorf("label: got %q", got)
	}
	if got := (Route{ID: "K2"}).Label(); got != "K2" {
		t.Errorf("bare label: got %q", got)
	}
}

func TestNormalizeID(t *testing.T) {
	if got := NormalizeID("  k1 "); got != "K1" {
		t.Errorf("got %q", got)
	}
}

func TestIndex(t *testing.T) {
	idx := Index([]Route{
		{ID: "K1", Occupied: 1, Total: 45},
		{ID: "K2", Occupied: 2, Total: 45},
		{ID: "K1", Occupied: 9, Total: 45},
	})
	if len(idx) != 2 {
		t.Fatalf("len = %d, want 2", len(idx))
	}
	if idx["K1"].Occupied != 9 {
		t.Errorf("later duplicate should win, got %+v", idx["K1"])
	}
	if _, ok := idx["k1"]; ok {
		t.Error("index keys are exact IDs")
	}
}

package monitor

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/hazyhaar/shuttlebot/route"
)

func TestEvaluate(t *testing.T) {
	full := route.Route{ID: "K1", Occupied: 45, Total: 45}
	open := route.Route{ID: "K1", Occupied: 30, Total: 45}

	tests := []struct {
		name  string
		prev  Phase
		fresh route.Route
		found bool
		want  Decision
	}{
		{"baseline full", Unobserved, full, true,
			Decision{ID: "K1", Outcome: NowFull, Keep: true, Next: Full, Route: full}},
		{"baseline open", Unobserved, open, true,
			Decision{ID: "K1", Outcome: NotFullYet, Route: open}},
		{"still full", Full, full, true,
			Decision{ID: "K1", Outcome: StillFull, Keep: true, Next: Full, Route: full}},
		{"opened up", Full, open, true,
			Decision{ID: "K1", Outcome: BecameNotFull, Route: open}},
		{"missing after baseline", Unobserved, route.Route{}, false,
			Decision{ID: "K1", Outcome: NotFound}},
		{"missing while full", Full, route.Route{}, false,
			Decision{ID: "K1", Outcome: NotFound}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Evaluate("K1", tt.prev, tt.fresh, tt.found)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Evaluate mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDecisionNotify(t *testing.T) {
	for _, o := range []Outcome{NowFull, NotFullYet, BecameNotFull, NotFound} {
		d := Decision{ID: "K1", Outcome: o}
		if !d.Notify() {
			t.Errorf("%s should notify", o)
		}
		if d.Message() == "" {
			t.Errorf("%s has no message", o)
		}
	}
	if (Decision{Outcome: StillFull}).Notify() {
		t.Error("still_full must be silent")
	}
}

func TestOutcomeString(t *testing.T) {
	if NotFound.String() != "not_found" {
		t.Errorf("got %q", NotFound.String())
	}
	if Outcome(42).String() != "outcome(42)" {
		t.Errorf("got %q", Outcome(42).String())
	}
}

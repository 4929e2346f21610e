package monitor

import (
	"fmt"

	"github.com/hazyhaar/shuttlebot/route"
)

// Phase is the last thing the engine learned about a watched route.
type Phase int

const (
	// Unobserved marks a watch that has not been through a tick yet.
	Unobserved Phase = iota
	// Full marks a watch whose last observation was a full bus.
	Full
)

// String returns "unobserved" or "full".
func (p Phase) String() string {
	if p == Full {
		return "full"
	}
	return "unobserved"
}

// MarshalText renders the phase by name in JSON.
func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// Outcome is the transition taken for one watched route in one tick.
type Outcome int

const (
	// NowFull is a baseline observation of a full route. The watch is kept.
	NowFull Outcome = iota
	// NotFullYet is a baseline observation of a route with seats left.
	NotFullYet
	// StillFull is a full route seen full again. Nothing is sent.
	StillFull
	// BecameNotFull is a full route that opened up.
	BecameNotFull
	// NotFound is a watched route missing from the fetch result.
	NotFound
)

var outcomeNames = [...]string{
	NowFull:       "now_full",
	NotFullYet:    "not_full_yet",
	StillFull:     "still_full",
	BecameNotFull: "became_not_full",
	NotFound:      "not_found",
}

func (o Outcome) String() string {
	if int(o) < len(outcomeNames) {
		return outcomeNames[o]
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

func (o Outcome) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

// Decision is the result of evaluating one watched route.
type Decision struct {
	ID      string
	Outcome Outcome
	// Keep is false when the watch must be removed after this tick.
	Keep bool
	// Next is the phase stored when Keep is true.
	Next Phase
	// Route is the fresh record; zero when Outcome is NotFound.
	Route route.Route
}

// Notify reports whether the decision produces a chat message.
func (d Decision) Notify() bool {
	return d.Outcome != StillFull
}

// Evaluate applies the transition table to one watched route. found is false
// when the route is absent from the fresh fetch.
//
//	Unobserved + full     -> NowFull, keep (Full)
//	Unobserved + not full -> NotFullYet, drop
//	Full       + full     -> StillFull, keep (Full)
//	Full       + not full -> BecameNotFull, drop
//	any        + missing  -> NotFound, drop
func Evaluate(id string, prev Phase, fresh route.Route, found bool) Decision {
	d := Decision{ID: id, Route: fresh}
	switch {
	case !found:
		d.Outcome = NotFound
		d.Route = route.Route{}
	case fresh.Full() && prev == Full:
		d.Outcome, d.Keep, d.Next = StillFull, true, Full
	case fresh.Full():
		d.Outcome, d.Keep, d.Next = NowFull, true, Full
	case prev == Full:
		d.Outcome = BecameNotFull
	default:
		d.Outcome = NotFullYet
	}
	return d
}

// Message renders the chat line for a decision.
func (d Decision) Message() string {
	switch d.Outcome {
	case NowFull:
		return fmt.Sprintf("🚌 `%s` %s is full (%s). Still watching; you will be told when a seat opens.",
			d.ID, d.Route.Label(), d.Route.Seats())
	case NotFullYet:
		return fmt.Sprintf("🚌 `%s` %s is not full right now (%s). Watch stopped; `!watch %s` again to be told when it fills up.",
			d.ID, d.Route.Label(), d.Route.Seats(), d.ID)
	case BecameNotFull:
		return fmt.Sprintf("✅ `%s` %s is no longer full (%s). Watch stopped.",
			d.ID, d.Route.Label(), d.Route.Seats())
	case NotFound:
		return fmt.Sprintf("⚠️ `%s` was not found in the latest schedule. Watch stopped.", d.ID)
	}
	return ""
}

// Package route defines the shuttle route record scraped from the
// reservation portal and the helpers that parse and display it.
package route

import (
	"fmt"
	"strconv"
	"strings"
)

// Route is one shuttle line as listed in the reservation grid. A fetch
// returns the full ordered list; routes are matched across fetches by ID only.
type Route struct {
	ID        string `json:"id"`
	BusType   string `json:"bus_type"`
	BusNumber string `json:"bus_number"`
	Vehicle   string `json:"bus_vehicle"`
	Region    string `json:"bus_region"`
	Detail    string `json:"bus_route_detail"`
	Occupied  int    `json:"current_seats"`
	Total     int    `json:"total_seats"`
}

// Full reports whether no seat is left. Rows where the portal reports more
// occupied seats than capacity count as full.
func (r Route) Full() bool {
	return r.Occupied >= r.Total
}

// Seats renders "occupied/total".
func (r Route) Seats() string {
	return fmt.Sprintf("%d/%d", r.Occupied, r.Total)
}

// Label is the short human name used in chat replies, e.g. "K1 (통학, 45인승)".
func (r Route) Label() string {
	var parts []string
	if r.BusType != "" {
		parts = append(parts, r.BusType)
	}
	if r.Vehicle != "" {
		parts = append(parts, r.Vehicle)
	}
	name := r.BusNumber
	if name == "" {
		name = r.ID
	}
	if len(parts) == 0 {
		return name
	}
	return name + " (" + strings.Join(parts, ", ") + ")"
}

// ParseSeats parses the portal's "occupied/total" cell. Anything that does
// not split into two integers yields 0/0 and ok=false.
func ParseSeats(s string) (occupied, total int, ok bool) {
	a, b, found := strings.Cut(strings.TrimSpace(s), "/")
	if !found {
		return 0, 0, false
	}
	o, err := strconv.Atoi(strings.TrimSpace(a))
	if err != nil {
		return 0, 0, false
	}
	t, err := strconv.Atoi(strings.TrimSpace(b))
	if err != nil {
		return 0, 0, false
	}
	if o < 0 || t < 0 {
		return 0, 0, false
	}
	return o, t, true
}

// NormalizeID canonicalises a user-supplied route selector.
func NormalizeID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}

// Index returns the routes keyed by ID. Later duplicates win.
func Index(routes []Route) map[string]Route {
	m := make(map[string]Route, len(routes))
	for _, r := range routes {
		m[r.ID] = r
	}
	return m
}

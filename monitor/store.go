package monitor

import (
	"sort"
	"sync"
	"time"

	"github.com/hazyhaar/shuttlebot/route"
)

// Store is the shared state of the monitor: the last fetched route snapshot,
// its fetch time, and the watch map. One mutex guards all of it.
//
// The watch set and the per-route phases are the same map, so a watched ID
// always has a phase and vice versa.
type Store struct {
	mu        sync.Mutex
	routes    []route.Route
	index     map[string]route.Route
	fetchedAt time.Time
	watches   map[string]Phase
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		index:   make(map[string]route.Route),
		watches: make(map[string]Phase),
	}
}

// Replace swaps the snapshot and its fetch time.
func (s *Store) Replace(routes []route.Route, observedAt time.Time) {
	s.mu.Lock()
	s.replaceLocked(routes, observedAt)
	s.mu.Unlock()
}

func (s *Store) replaceLocked(routes []route.Route, observedAt time.Time) {
	cp := make([]route.Route, len(routes))
	copy(cp, routes)
	s.routes = cp
	s.index = route.Index(cp)
	s.fetchedAt = observedAt
}

// Snapshot returns a copy of the last completed snapshot and its fetch time.
// The zero time means nothing was fetched yet.
func (s *Store) Snapshot() ([]route.Route, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]route.Route, len(s.routes))
	copy(cp, s.routes)
	return cp, s.fetchedAt
}

// FindByID looks a route up in the current snapshot.
func (s *Store) FindByID(id string) (route.Route, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findLocked(id)
}

func (s *Store) findLocked(id string) (route.Route, bool) {
	r, ok := s.index[id]
	return r, ok
}

// Watch is one entry of the watch map.
type Watch struct {
	ID    string      `json:"id"`
	Phase Phase       `json:"phase"`
	Route route.Route `json:"route"`
	Known bool        `json:"known"`
}

// Watches returns the watch map sorted by ID, joined with the current
// snapshot for display.
func (s *Store) Watches() []Watch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watchesLocked()
}

func (s *Store) watchesLocked() []Watch {
	out := make([]Watch, 0, len(s.watches))
	for _, id := range s.watchIDsLocked() {
		r, ok := s.findLocked(id)
		out = append(out, Watch{ID: id, Phase: s.watches[id], Route: r, Known: ok})
	}
	return out
}

// Watching reports whether id is in the watch map.
func (s *Store) Watching(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.watches[id]
	return ok
}

// Len returns the number of watched routes.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.watches)
}

func (s *Store) watchIDsLocked() []string {
	ids := make([]string, 0, len(s.watches))
	for id := range s.watches {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// WatchResult reports what AddWatches did with each requested ID.
type WatchResult struct {
	Added   []route.Route
	Already []string
	Unknown []string
	// Armed is true when the watch map went from empty to non-empty.
	Armed bool
}

// addWatchesLocked adds every ID present in the snapshot as Unobserved.
func (s *Store) addWatchesLocked(ids []string) WatchResult {
	var res WatchResult
	wasEmpty := len(s.watches) == 0
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if _, ok := s.watches[id]; ok {
			res.Already = append(res.Already, id)
			continue
		}
		r, ok := s.findLocked(id)
		if !ok {
			res.Unknown = append(res.Unknown, id)
			continue
		}
		s.watches[id] = Unobserved
		res.Added = append(res.Added, r)
	}
	res.Armed = wasEmpty && len(s.watches) > 0
	return res
}

func (s *Store) removeWatchLocked(id string) bool {
	if _, ok := s.watches[id]; !ok {
		return false
	}
	delete(s.watches, id)
	return true
}

func (s *Store) clearWatchesLocked() []string {
	ids := s.watchIDsLocked()
	clear(s.watches)
	return ids
}

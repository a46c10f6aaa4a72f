// Package selection owns the canonical "what is selected" snapshot shared by
// every view of a session: the state value, the interaction events that can
// change it, the resolver that picks one authoritative event per round and
// the transition function that applies it.
package selection

import (
	"fmt"
	"time"

	"github.com/TobiSchelling/threadlens/internal/records"
)

// NoThread marks the absence of an active thread.
const NoThread int64 = 0

// State is the selection snapshot of a session. Month 0 means unset (the
// whole year). States are values; a round replaces the state, never edits it.
type State struct {
	Year   int   `json:"year"`
	Month  int   `json:"month"`
	Thread int64 `json:"thread"`
}

// HasThread reports whether a thread is active.
func (s State) HasThread() bool { return s.Thread != NoThread }

func (s State) String() string {
	if s.HasThread() {
		return fmt.Sprintf("%d/%d thread=%d", s.Year, s.Month, s.Thread)
	}
	return fmt.Sprintf("%d/%d", s.Year, s.Month)
}

// Default is the state a session starts in: the latest year in the store,
// the current calendar month when that year is the present one and January
// otherwise, no thread. An empty store falls back to the present month.
func Default(store *records.Store, now time.Time) State {
	year, ok := store.LatestYear()
	if !ok {
		return State{Year: now.Year(), Month: int(now.Month())}
	}
	return State{Year: year, Month: monthFor(year, now)}
}

// Valid checks the state against the store: the year must be present, and
// an active thread must exist and lie inside the year (and the month when
// one is set). Against an empty store only thread-less states are valid.
func Valid(store *records.Store, s State) bool {
	if s.Month < 0 || s.Month > 12 {
		return false
	}
	if store.Len() == 0 {
		return !s.HasThread()
	}
	if !store.HasYear(s.Year) {
		return false
	}
	if !s.HasThread() {
		return true
	}
	r, ok := store.Lookup(s.Thread)
	if !ok || r.Year != s.Year {
		return false
	}
	return s.Month == 0 || r.Month == s.Month
}

func monthFor(year int, now time.Time) int {
	if year == now.Year() {
		return int(now.Month())
	}
	return 1
}

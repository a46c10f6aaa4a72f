package selection

import (
	"time"

	"github.com/TobiSchelling/threadlens/internal/records"
)

// Apply computes the state that follows prev under ev. It is total: any event
// that would produce an invalid state leaves prev in place.
//
// A thread selection never changes the year; selecting a thread from another
// year is ignored. Only a year change moves the year, and it always clears
// the thread.
func Apply(store *records.Store, prev State, ev Resolved, now time.Time) State {
	var next State
	switch ev.Kind {
	case KindYearChanged:
		if ev.Year == prev.Year || !store.HasYear(ev.Year) {
			return prev
		}
		next = State{Year: ev.Year, Month: monthFor(ev.Year, now)}

	case KindPointSelected, KindBoxSelected:
		r, ok := store.Lookup(ev.Thread)
		if !ok || r.Year != prev.Year {
			return prev
		}
		next = State{Year: r.Year, Month: r.Month, Thread: r.ID}

	case KindPointDeselected:
		next = State{Year: prev.Year, Month: prev.Month}

	default:
		return prev
	}

	if !Valid(store, next) {
		return prev
	}
	return next
}

// Package projection derives the per-view outputs of a round from the
// broadcast snapshot: the time scope, the scatter traces, the bar series and
// the slider position.
package projection

import (
	"github.com/TobiSchelling/threadlens/internal/records"
	"github.com/TobiSchelling/threadlens/internal/selection"
)

// Scope returns the records of the state's year and month, chronological.
// An unset month scopes the whole year.
func Scope(store *records.Store, st selection.State) []records.Record {
	return store.InMonth(st.Year, st.Month)
}

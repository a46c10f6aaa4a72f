package selection

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/TobiSchelling/threadlens/internal/records"
)

// Resolution is the outcome of one round: the authoritative event plus the
// reports that lost and why.
type Resolution struct {
	Event   Resolved `json:"event"`
	Dropped []Drop   `json:"dropped,omitempty"`
}

// Resolver picks one authoritative event per round from the reports of all
// interaction sources. It belongs to a single session and is not safe for
// concurrent use; the session serializes rounds.
//
// Priority is year change > point or box selection > deselection. The
// resolver remembers the highlight every view shows after the last committed
// round, so a view reporting the selection it was told to show is recognised
// as an echo and dropped instead of starting a new round. It also holds each
// source's latest payload: a report flagged unchanged whose payload differs
// from the held one is a missed change and is resolved like a changed report.
type Resolver struct {
	store      *records.Store
	logger     *slog.Logger
	held       map[View]Event
	pushed     map[View]int64
	lastOrigin View
}

type candidate struct {
	report Report
	event  Resolved
}

// NewResolver creates a resolver over store. A nil logger discards output.
func NewResolver(store *records.Store, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Resolver{
		store:      store,
		logger:     logger,
		held:       make(map[View]Event),
		pushed:     make(map[View]int64),
		lastOrigin: ViewDefault,
	}
}

// Resolve selects the round's event given the current state. Unchanged
// reports are skipped; a stale payload is never re-resolved.
func (r *Resolver) Resolve(prev State, reports []Report) Resolution {
	var res Resolution
	var cands []candidate

	for _, rep := range reports {
		if !rep.Origin.Known() {
			if rep.Changed {
				res.Dropped = append(res.Dropped, r.drop(rep, reasonUnknownView, slog.LevelWarn))
			}
			continue
		}
		changed := r.changed(rep)
		r.held[rep.Origin] = cloneEvent(rep.Event)
		if !changed {
			continue
		}

		ev, reason, level := r.interpret(prev, rep)
		if reason != "" {
			res.Dropped = append(res.Dropped, r.drop(rep, reason, level))
			continue
		}
		cands = append(cands, candidate{report: rep, event: ev})
	}

	if len(cands) == 0 {
		res.Event = NoOp
		return res
	}

	best := 0
	for i := 1; i < len(cands); i++ {
		if r.beats(cands[i], cands[best]) {
			best = i
		}
	}
	res.Event = cands[best].event
	for i, c := range cands {
		if i == best {
			continue
		}
		reason := fmt.Sprintf("%s by %s", reasonSuperseded, res.Event.Origin)
		res.Dropped = append(res.Dropped, r.drop(c.report, reason, slog.LevelDebug))
	}
	return res
}

// Settle records what the fan-out of a round pushed to each view. It must be
// called once per round that changed the state. The origin already shows the
// committed thread, so it is recorded alongside the pushed views.
func (r *Resolver) Settle(origin View, st State, views []View) {
	r.lastOrigin = origin
	r.pushed[origin] = st.Thread
	for _, v := range views {
		r.pushed[v] = st.Thread
	}
}

// changed reports whether rep carries a payload the resolver has not acted on.
// A source seen for the first time with Changed unset only sets the baseline.
func (r *Resolver) changed(rep Report) bool {
	if rep.Changed {
		return true
	}
	held, ok := r.held[rep.Origin]
	return ok && !sameEvent(held, rep.Event)
}

// Held returns the latest payload reported by a source.
func (r *Resolver) Held(v View) (Event, bool) {
	ev, ok := r.held[v]
	if !ok {
		return Event{}, false
	}
	return cloneEvent(ev), true
}

// interpret turns a report into a candidate event, or names the reason it
// cannot be one.
func (r *Resolver) interpret(prev State, rep Report) (Resolved, string, slog.Level) {
	ev := rep.Event
	out := Resolved{Origin: rep.Origin, Kind: ev.Kind}

	switch ev.Kind {
	case KindYearChanged:
		if ev.Year == prev.Year {
			return out, reasonSameYear, slog.LevelDebug
		}
		if !r.store.HasYear(ev.Year) {
			return out, reasonUnknownYear, slog.LevelWarn
		}
		out.Year = ev.Year
		return out, "", 0

	case KindPointSelected:
		if len(ev.Threads) == 0 {
			return r.deselect(prev, rep)
		}
		id := ev.Threads[0]
		rec, ok := r.store.Lookup(id)
		if !ok {
			return out, reasonUnknownThread, slog.LevelWarn
		}
		if reason := r.selectable(prev, rep.Origin, rec); reason != "" {
			return out, reason, slog.LevelDebug
		}
		out.Thread = id
		return out, "", 0

	case KindBoxSelected:
		if len(ev.Threads) == 0 {
			return r.deselect(prev, rep)
		}
		unknown := 0
		reason := reasonOtherYear
		for _, id := range ev.Threads {
			rec, ok := r.store.Lookup(id)
			if !ok {
				unknown++
				continue
			}
			if why := r.selectable(prev, rep.Origin, rec); why != "" {
				reason = why
				continue
			}
			if unknown > 0 {
				r.logger.Warn("box selection references unknown threads",
					"origin", rep.Origin, "unknown", unknown)
			}
			out.Thread = id
			return out, "", 0
		}
		if unknown == len(ev.Threads) {
			return out, reasonUnknownThread, slog.LevelWarn
		}
		return out, reason, slog.LevelDebug

	case KindPointDeselected:
		return r.deselect(prev, rep)

	default:
		return out, reasonUnknownKind, slog.LevelWarn
	}
}

func (r *Resolver) deselect(prev State, rep Report) (Resolved, string, slog.Level) {
	out := Resolved{Origin: rep.Origin, Kind: KindPointDeselected}
	if !prev.HasThread() {
		return out, reasonNothingToClear, slog.LevelDebug
	}
	return out, "", 0
}

func (r *Resolver) selectable(prev State, origin View, rec records.Record) string {
	if pushed, ok := r.pushed[origin]; ok && pushed != NoThread && pushed == rec.ID {
		return reasonEcho
	}
	if rec.ID == prev.Thread {
		return reasonAlreadyActive
	}
	if rec.Year != prev.Year {
		return reasonOtherYear
	}
	return ""
}

// beats orders candidates: higher rank first, then a view other than the
// previous round's origin, then the fixed view order.
func (r *Resolver) beats(a, b candidate) bool {
	ra, rb := rank(a.event.Kind), rank(b.event.Kind)
	if ra != rb {
		return ra > rb
	}
	freshA := a.report.Origin != r.lastOrigin
	freshB := b.report.Origin != r.lastOrigin
	if freshA != freshB {
		return freshA
	}
	return viewOrder[a.report.Origin] < viewOrder[b.report.Origin]
}

func (r *Resolver) drop(rep Report, reason string, level slog.Level) Drop {
	r.logger.Log(context.Background(), level, "interaction dropped",
		"origin", rep.Origin, "kind", rep.Event.Kind, "threads", rep.Event.Threads, "reason", reason)
	return Drop{Origin: rep.Origin, Kind: rep.Event.Kind, Reason: reason}
}

func sameEvent(a, b Event) bool {
	return a.Kind == b.Kind && a.Year == b.Year && slices.Equal(a.Threads, b.Threads)
}

func cloneEvent(ev Event) Event {
	ev.Threads = append([]int64(nil), ev.Threads...)
	return ev
}

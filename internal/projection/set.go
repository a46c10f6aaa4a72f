package projection

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/TobiSchelling/threadlens/internal/broadcast"
	"github.com/TobiSchelling/threadlens/internal/records"
	"github.com/TobiSchelling/threadlens/internal/selection"
)

// Set is every view of one round, all derived from the same snapshot.
type Set struct {
	Round   int64           `json:"round"`
	Token   string          `json:"token"`
	Digest  string          `json:"digest"`
	Origin  selection.View  `json:"origin"`
	State   selection.State `json:"state"`
	Slider  SliderView      `json:"slider"`
	Scatter ScatterView     `json:"scatter"`
	Bars    []BarView       `json:"bars"`
}

// Options configures the bar charts of a set.
type Options struct {
	Metrics []Metric
	Limit   int
}

// Bar returns the bar chart reporting as v.
func (s *Set) Bar(v selection.View) (BarView, bool) {
	for _, b := range s.Bars {
		if b.View == v {
			return b, true
		}
	}
	return BarView{}, false
}

// Highlights returns the thread each view shows highlighted, NoThread when
// none. The slider carries no thread.
func (s *Set) Highlights() map[selection.View]int64 {
	out := map[selection.View]int64{selection.ViewScatter: selection.NoThread}
	if h := s.Scatter.Highlight; h != nil {
		out[selection.ViewScatter] = s.Scatter.Traces[h.Trace].Points[h.Index].ID
	}
	for _, b := range s.Bars {
		out[b.View] = selection.NoThread
		if b.Highlight >= 0 {
			out[b.View] = b.Bars[b.Highlight].ID
		}
	}
	return out
}

// Project runs every projector concurrently over snap.
func Project(ctx context.Context, store *records.Store, snap *broadcast.Snapshot, opts Options) (*Set, error) {
	set := &Set{
		Round:  snap.Round,
		Token:  snap.Token,
		Digest: snap.Digest,
		Origin: snap.Origin,
		State:  snap.State,
		Bars:   make([]BarView, len(opts.Metrics)),
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		set.Slider = Slider(store, snap.State.Year)
		set.Scatter = Scatter(store, snap.State.Year, snap.State.Thread)
		return nil
	})
	for i, m := range opts.Metrics {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			set.Bars[i] = Bars(snap, m, opts.Limit)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("projecting round %d: %w", snap.Round, err)
	}
	return set, nil
}

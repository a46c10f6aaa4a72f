package projection

import (
	"fmt"
	"sort"

	"github.com/TobiSchelling/threadlens/internal/broadcast"
	"github.com/TobiSchelling/threadlens/internal/records"
	"github.com/TobiSchelling/threadlens/internal/selection"
)

// Metric is the quantity a bar chart ranks threads by.
type Metric string

const (
	MetricScore       Metric = "score"
	MetricDescendants Metric = "descendants"
)

// ParseMetric validates a configured metric name.
func ParseMetric(s string) (Metric, error) {
	switch m := Metric(s); m {
	case MetricScore, MetricDescendants:
		return m, nil
	}
	return "", fmt.Errorf("unknown bar metric %q", s)
}

// View is the interaction source a bar chart of this metric reports as.
func (m Metric) View() selection.View {
	if m == MetricDescendants {
		return selection.ViewComments
	}
	return selection.ViewVotes
}

// Label is the axis title of the metric.
func (m Metric) Label() string {
	if m == MetricDescendants {
		return "Comments"
	}
	return "Votes"
}

func (m Metric) value(r records.Record) int {
	if m == MetricDescendants {
		return r.Descendants
	}
	return r.Score
}

// Bar is one thread in a bar chart.
type Bar struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
	Value int    `json:"value"`
}

// BarView is a month-scoped bar chart. Highlight is the index of the active
// thread in Bars, or -1.
type BarView struct {
	View      selection.View `json:"view"`
	Metric    Metric         `json:"metric"`
	Title     string         `json:"title"`
	Bars      []Bar          `json:"bars"`
	Highlight int            `json:"highlight"`
	Total     int            `json:"total"`
}

// Bars ranks the snapshot scope by metric, descending with ties by id.
// A positive limit keeps only the top bars. The highlight always comes from
// the snapshot state.
func Bars(snap *broadcast.Snapshot, metric Metric, limit int) BarView {
	scope := append([]records.Record(nil), snap.Scope...)
	sort.SliceStable(scope, func(i, j int) bool {
		vi, vj := metric.value(scope[i]), metric.value(scope[j])
		if vi != vj {
			return vi > vj
		}
		return scope[i].ID < scope[j].ID
	})

	view := BarView{
		View:      metric.View(),
		Metric:    metric,
		Title:     Title(snap.State),
		Highlight: -1,
		Total:     len(scope),
	}
	if limit > 0 && len(scope) > limit {
		scope = scope[:limit]
	}
	view.Bars = make([]Bar, len(scope))
	for i, r := range scope {
		view.Bars[i] = Bar{ID: r.ID, Title: r.Title, Value: metric.value(r)}
		if snap.State.HasThread() && r.ID == snap.State.Thread {
			view.Highlight = i
		}
	}
	return view
}

// Title names the scope of a bar chart.
func Title(st selection.State) string {
	if st.Month == 0 {
		return fmt.Sprintf("Stats for %d", st.Year)
	}
	return fmt.Sprintf("Stats for %d/%d", st.Year, st.Month)
}

package projection

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/TobiSchelling/threadlens/internal/records"
)

// Bubble sizing. SizeRef makes the largest bubble of a trace about
// MaxBubble pixels across in area mode.
const (
	SizeMode  = "area"
	SizeMin   = 5.0
	MaxBubble = 20.0
)

// Point is one thread in the scatter view.
type Point struct {
	ID          int64   `json:"id"`
	Title       string  `json:"title"`
	X           int     `json:"x"`
	Y           int     `json:"y"`
	Size        float64 `json:"size"`
	Clamped     bool    `json:"clamped,omitempty"`
	Highlighted bool    `json:"highlighted,omitempty"`
}

// Trace is the series of one thread type.
type Trace struct {
	Name     string  `json:"name"`
	Points   []Point `json:"points"`
	SizeRef  float64 `json:"size_ref"`
	SizeMode string  `json:"size_mode"`
	SizeMin  float64 `json:"size_min"`
}

// PointRef locates a point inside a ScatterView.
type PointRef struct {
	Trace int `json:"trace"`
	Index int `json:"index"`
}

// ScatterView is the year-scoped bubble chart: comments on X, votes on Y.
type ScatterView struct {
	Year      int       `json:"year"`
	Traces    []Trace   `json:"traces"`
	Highlight *PointRef `json:"highlight,omitempty"`
}

// Scatter groups the records of year by type. The active thread is
// highlighted only when it belongs to year.
func Scatter(store *records.Store, year int, thread int64) ScatterView {
	view := ScatterView{Year: year, Traces: []Trace{}}

	byType := make(map[string][]records.Record)
	for _, r := range store.InYear(year) {
		byType[r.Type] = append(byType[r.Type], r)
	}
	names := make([]string, 0, len(byType))
	for name := range byType {
		names = append(names, name)
	}
	sort.Strings(names)

	for ti, name := range names {
		trace := buildTrace(name, byType[name])
		for pi := range trace.Points {
			if thread != 0 && trace.Points[pi].ID == thread {
				trace.Points[pi].Highlighted = true
				view.Highlight = &PointRef{Trace: ti, Index: pi}
			}
		}
		view.Traces = append(view.Traces, trace)
	}
	return view
}

func buildTrace(name string, recs []records.Record) Trace {
	t := Trace{
		Name:     name,
		Points:   make([]Point, len(recs)),
		SizeMode: SizeMode,
		SizeMin:  SizeMin,
	}
	var sizes []float64
	for i, r := range recs {
		size, clamped := bubbleSize(r.AgeDays, r.Descendants)
		t.Points[i] = Point{
			ID:      r.ID,
			Title:   r.Title,
			X:       r.Descendants,
			Y:       r.Score,
			Size:    size,
			Clamped: clamped,
		}
		if !clamped && size > 0 {
			sizes = append(sizes, size)
		}
	}
	t.SizeRef = 1
	if len(sizes) > 0 {
		t.SizeRef = 2 * floats.Max(sizes) / (MaxBubble * MaxBubble)
	}
	return t
}

// bubbleSize is age in days over ln(comments). Threads with at most one
// comment have no finite positive size and are clamped to zero.
func bubbleSize(ageDays, descendants int) (float64, bool) {
	if descendants <= 1 {
		return 0, true
	}
	size := float64(ageDays) / math.Log(float64(descendants))
	if math.IsNaN(size) || math.IsInf(size, 0) || size < 0 {
		return 0, true
	}
	return size, false
}

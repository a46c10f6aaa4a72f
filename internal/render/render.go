// Package render draws view sets as standalone SVG documents.
package render

import (
	"fmt"
	"io"
	"math"

	svg "github.com/ajstarks/svgo"

	"github.com/TobiSchelling/threadlens/internal/projection"
)

// Bar colours, highlighted and plain.
const (
	BarColor       = "rgb(49,130,189)"
	HighlightColor = "rgba(222,45,38,0.8)"
)

// tracePalette colours scatter traces in order.
var tracePalette = []string{"#1f77b4", "#ff7f0e", "#2ca02c", "#9467bd", "#8c564b", "#e377c2"}

const (
	width     = 800
	height    = 450
	marginL   = 60
	marginR   = 20
	marginT   = 40
	marginB   = 50
	plotW     = width - marginL - marginR
	plotH     = height - marginT - marginB
	axisStyle = `stroke="#888" stroke-width="1"`
	textStyle = `font-family="sans-serif" font-size="12" fill="#333"`
)

// errWriter keeps the first write error so drawing code can stay linear.
type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) Write(p []byte) (int, error) {
	if e.err != nil {
		return 0, e.err
	}
	n, err := e.w.Write(p)
	if err != nil {
		e.err = err
	}
	return n, err
}

// Scatter draws the bubble chart: comments on a log X axis, votes on Y.
func Scatter(w io.Writer, v projection.ScatterView) error {
	ew := &errWriter{w: w}
	canvas := svg.New(ew)
	canvas.Start(width, height, `class="chart scatter"`, fmt.Sprintf(`data-year="%d"`, v.Year))
	canvas.Title(fmt.Sprintf("Threads in %d", v.Year))
	drawAxes(canvas, "Comments", "Votes")

	maxX, maxY := 1.0, 1
	for _, tr := range v.Traces {
		for _, p := range tr.Points {
			maxX = math.Max(maxX, logX(p.X))
			if p.Y > maxY {
				maxY = p.Y
			}
		}
	}

	for ti, tr := range v.Traces {
		color := tracePalette[ti%len(tracePalette)]
		canvas.Group(`class="trace"`, fmt.Sprintf(`data-type="%s"`, attr(tr.Name)), `fill-opacity="0.7"`)
		for _, p := range tr.Points {
			cx := marginL + int(logX(p.X)/maxX*float64(plotW))
			cy := marginT + plotH - int(float64(p.Y)/float64(maxY)*float64(plotH))
			stroke := `stroke="white" stroke-width="0.5"`
			if p.Highlighted {
				stroke = fmt.Sprintf(`stroke="%s" stroke-width="3"`, HighlightColor)
			}
			canvas.Group(`class="point"`, fmt.Sprintf(`data-thread="%d"`, p.ID))
			canvas.Title(p.Title)
			canvas.Circle(cx, cy, radius(p, tr), fmt.Sprintf(`fill="%s"`, color), stroke)
			canvas.Gend()
		}
		canvas.Gend()
	}

	for ti, tr := range v.Traces {
		color := tracePalette[ti%len(tracePalette)]
		y := marginT + 14*ti
		canvas.Rect(marginL+10, y-9, 10, 10, fmt.Sprintf(`fill="%s"`, color))
		canvas.Text(marginL+26, y, tr.Name, textStyle)
	}
	canvas.End()
	return ew.err
}

// Bars draws a bar chart ranked left to right.
func Bars(w io.Writer, v projection.BarView) error {
	ew := &errWriter{w: w}
	canvas := svg.New(ew)
	canvas.Start(width, height, `class="chart bars"`, fmt.Sprintf(`data-view="%s"`, v.View))
	canvas.Title(v.Title)
	canvas.Text(width/2, 24, v.Title, textStyle, `text-anchor="middle"`)
	drawAxes(canvas, "", v.Metric.Label())

	if len(v.Bars) == 0 {
		canvas.Text(width/2, height/2, "No threads in this period", textStyle, `text-anchor="middle"`)
		canvas.End()
		return ew.err
	}

	maxV := 1
	for _, b := range v.Bars {
		if b.Value > maxV {
			maxV = b.Value
		}
	}
	slot := plotW / len(v.Bars)
	if slot < 1 {
		slot = 1
	}
	barW := slot * 4 / 5
	if barW < 1 {
		barW = 1
	}
	for i, b := range v.Bars {
		h := int(float64(b.Value) / float64(maxV) * float64(plotH))
		color := BarColor
		if i == v.Highlight {
			color = HighlightColor
		}
		canvas.Group(`class="bar"`, fmt.Sprintf(`data-thread="%d"`, b.ID))
		canvas.Title(fmt.Sprintf("%s (%d)", b.Title, b.Value))
		canvas.Rect(marginL+i*slot, marginT+plotH-h, barW, h, fmt.Sprintf(`fill="%s"`, color))
		canvas.Gend()
	}
	canvas.End()
	return ew.err
}

func drawAxes(canvas *svg.SVG, xLabel, yLabel string) {
	canvas.Line(marginL, marginT+plotH, marginL+plotW, marginT+plotH, axisStyle)
	canvas.Line(marginL, marginT, marginL, marginT+plotH, axisStyle)
	if xLabel != "" {
		canvas.Text(marginL+plotW/2, height-12, xLabel, textStyle, `text-anchor="middle"`)
	}
	if yLabel != "" {
		canvas.Text(16, marginT+plotH/2, yLabel, textStyle, `text-anchor="middle"`,
			fmt.Sprintf(`transform="rotate(-90 16 %d)"`, marginT+plotH/2))
	}
}

func logX(x int) float64 {
	if x < 0 {
		x = 0
	}
	return math.Log10(float64(x) + 1)
}

// radius converts a bubble size to pixels the way area-mode sizing does:
// the marker diameter is sqrt(size/sizeRef), never below the trace minimum.
func radius(p projection.Point, tr projection.Trace) int {
	d := tr.SizeMin
	if !p.Clamped && tr.SizeRef > 0 {
		d = math.Max(d, math.Sqrt(p.Size/tr.SizeRef))
	}
	return int(math.Round(d / 2))
}

// attr strips characters that would break an attribute value.
func attr(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch r {
		case '"', '<', '>', '&':
			continue
		}
		out = append(out, r)
	}
	return string(out)
}

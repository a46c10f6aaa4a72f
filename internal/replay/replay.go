// Package replay runs scripted interaction rounds through a session, for
// debugging how competing reports resolve.
package replay

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/TobiSchelling/threadlens/internal/projection"
	"github.com/TobiSchelling/threadlens/internal/records"
	"github.com/TobiSchelling/threadlens/internal/selection"
	"github.com/TobiSchelling/threadlens/internal/session"
)

// Script is a sequence of rounds. Now pins the wall clock; when unset the
// current time is used.
type Script struct {
	Now    time.Time `yaml:"now"`
	Rounds []Round   `yaml:"rounds"`
}

// Round is the set of reports that fire together.
type Round struct {
	Name    string             `yaml:"name"`
	Reports []selection.Report `yaml:"reports"`
}

// Step is the outcome of one scripted round.
type Step struct {
	Name       string
	Resolution selection.Resolution
	Views      *projection.Set
}

// Parse decodes a script.
func Parse(data []byte) (*Script, error) {
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing script: %w", err)
	}
	for i, r := range s.Rounds {
		for _, rep := range r.Reports {
			if !rep.Origin.Known() {
				return nil, fmt.Errorf("round %d: unknown origin %q", i+1, rep.Origin)
			}
		}
	}
	return &s, nil
}

// Load reads and parses a script file.
func Load(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading script: %w", err)
	}
	return Parse(data)
}

// Run plays the script against a fresh session over store.
func Run(ctx context.Context, store *records.Store, script *Script, opts ...session.Option) ([]Step, error) {
	if !script.Now.IsZero() {
		now := script.Now
		opts = append(opts, session.WithClock(func() time.Time { return now }))
	}
	s, err := session.New("replay", store, opts...)
	if err != nil {
		return nil, err
	}

	steps := make([]Step, 0, len(script.Rounds))
	for i, round := range script.Rounds {
		set, err := s.Dispatch(ctx, round.Reports)
		if err != nil {
			return steps, fmt.Errorf("round %d: %w", i+1, err)
		}
		name := round.Name
		if name == "" {
			name = fmt.Sprintf("round %d", i+1)
		}
		steps = append(steps, Step{Name: name, Resolution: s.LastResolution(), Views: set})
	}
	return steps, nil
}

// Print writes a readable trace of the steps.
func Print(w io.Writer, steps []Step) error {
	for i, st := range steps {
		set := st.Views
		lines := []string{
			fmt.Sprintf("%d. %s", i+1, st.Name),
			"   event: " + describe(st.Resolution.Event),
			fmt.Sprintf("   state: %s (round %d)", set.State, set.Round),
			"   highlights: " + highlights(set),
		}
		for _, d := range st.Resolution.Dropped {
			lines = append(lines, fmt.Sprintf("   dropped: %s %s (%s)", d.Origin, d.Kind, d.Reason))
		}
		for _, l := range lines {
			if _, err := fmt.Fprintln(w, l); err != nil {
				return err
			}
		}
	}
	return nil
}

func describe(ev selection.Resolved) string {
	switch ev.Kind {
	case selection.KindNone:
		return "no-op"
	case selection.KindYearChanged:
		return fmt.Sprintf("%s from %s (year %d)", ev.Kind, ev.Origin, ev.Year)
	case selection.KindPointDeselected:
		return fmt.Sprintf("%s from %s", ev.Kind, ev.Origin)
	default:
		return fmt.Sprintf("%s from %s (thread %d)", ev.Kind, ev.Origin, ev.Thread)
	}
}

func highlights(set *projection.Set) string {
	h := set.Highlights()
	out := fmt.Sprintf("%s=%d", selection.ViewScatter, h[selection.ViewScatter])
	for _, b := range set.Bars {
		out += fmt.Sprintf(" %s=%d", b.View, h[b.View])
	}
	return out
}

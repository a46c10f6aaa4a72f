// Package session runs the selection engine for one viewer: every round
// resolves the reported interactions, applies the winner, publishes the new
// state and recomputes all views from that one snapshot.
package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/TobiSchelling/threadlens/internal/broadcast"
	"github.com/TobiSchelling/threadlens/internal/projection"
	"github.com/TobiSchelling/threadlens/internal/records"
	"github.com/TobiSchelling/threadlens/internal/selection"
	"github.com/TobiSchelling/threadlens/internal/telemetry"
)

// RoundSpan names the span recorded for every dispatched round.
const RoundSpan = "selection.round"

type settings struct {
	logger *slog.Logger
	tracer trace.Tracer
	now    func() time.Time
	layout projection.Options
}

// Option configures sessions.
type Option func(*settings)

// WithLogger sets the logger. Sessions add their id to it.
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithTracer replaces the global engine tracer.
func WithTracer(t trace.Tracer) Option {
	return func(s *settings) { s.tracer = t }
}

// WithClock sets the wall clock used for default months and idle tracking.
func WithClock(now func() time.Time) Option {
	return func(s *settings) { s.now = now }
}

// WithViews sets the bar charts every round renders.
func WithViews(o projection.Options) Option {
	return func(s *settings) { s.layout = o }
}

func newSettings(opts []Option) settings {
	s := settings{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:    time.Now,
		layout: projection.Options{
			Metrics: []projection.Metric{projection.MetricScore, projection.MetricDescendants},
		},
	}
	for _, o := range opts {
		o(&s)
	}
	if s.tracer == nil {
		s.tracer = telemetry.Tracer()
	}
	return s
}

// Session owns the selection state of one viewer. Dispatch is serialized;
// readers always see the view set of a completed round.
type Session struct {
	id       string
	store    *records.Store
	resolver *selection.Resolver
	channel  *broadcast.Channel
	settings

	mu         sync.Mutex
	state      selection.State
	views      *projection.Set
	last       selection.Resolution
	lastActive time.Time
}

// New creates a session in the default state and renders its first round.
func New(id string, store *records.Store, opts ...Option) (*Session, error) {
	cfg := newSettings(opts)
	cfg.logger = cfg.logger.With("session", id)

	s := &Session{
		id:       id,
		store:    store,
		resolver: selection.NewResolver(store, cfg.logger),
		channel:  broadcast.NewChannel(),
		settings: cfg,
	}
	now := s.now()
	s.state = selection.Default(store, now)
	s.lastActive = now

	snap := s.channel.Publish(s.state, selection.ViewDefault, projection.Scope(store, s.state))
	views, err := projection.Project(context.Background(), store, snap, s.layout)
	if err != nil {
		return nil, fmt.Errorf("initial views: %w", err)
	}
	s.views = views
	s.logger.Debug("session opened", "state", s.state.String(), "records", store.Len())
	return s, nil
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// State returns the committed selection.
func (s *Session) State() selection.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Views returns the view set of the latest committed round.
func (s *Session) Views() *projection.Set {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.views
}

// LastResolution returns how the latest round was resolved.
func (s *Session) LastResolution() selection.Resolution {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// LastActive returns when the session last dispatched a round.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// Snapshot returns the latest broadcast snapshot.
func (s *Session) Snapshot() *broadcast.Snapshot {
	return s.channel.Latest()
}

// Dispatch runs one round over the given reports. A round that leaves the
// state unchanged returns the previous view set as is. When ctx is done
// before the views are computed the state is left untouched.
func (s *Session) Dispatch(ctx context.Context, reports []selection.Report) (*projection.Set, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, span := s.tracer.Start(ctx, RoundSpan,
		trace.WithAttributes(
			attribute.String("session.id", s.id),
			attribute.Int("selection.reports", len(reports)),
		),
	)
	defer span.End()

	now := s.now()
	s.lastActive = now

	res := s.resolver.Resolve(s.state, reports)
	s.last = res
	for _, d := range res.Dropped {
		span.AddEvent("interaction dropped", trace.WithAttributes(
			attribute.String("origin", string(d.Origin)),
			attribute.String("kind", string(d.Kind)),
			attribute.String("reason", d.Reason),
		))
	}

	next := selection.Apply(s.store, s.state, res.Event, now)
	span.SetAttributes(
		attribute.String("selection.origin", string(res.Event.Origin)),
		attribute.String("selection.kind", string(res.Event.Kind)),
		attribute.Int("selection.year", next.Year),
		attribute.Int("selection.month", next.Month),
		attribute.Int64("selection.thread", next.Thread),
	)
	if next == s.state {
		span.SetAttributes(attribute.Bool("selection.noop", true))
		return s.views, nil
	}

	if err := ctx.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "round cancelled")
		return nil, err
	}

	prev := s.channel.Latest()
	snap := s.channel.Publish(next, res.Event.Origin, projection.Scope(s.store, next))
	views, err := projection.Project(ctx, s.store, snap, s.layout)
	if err != nil {
		s.channel.Rollback(snap, prev)
		span.RecordError(err)
		span.SetStatus(codes.Error, "projection failed")
		return nil, err
	}

	s.resolver.Settle(res.Event.Origin, next, effects(views, res.Event.Origin))
	s.state = next
	s.views = views
	span.SetAttributes(attribute.Int64("selection.round", snap.Round))

	s.logger.Debug("round committed",
		"round", snap.Round,
		"origin", res.Event.Origin,
		"kind", res.Event.Kind,
		"state", next.String(),
		"dropped", len(res.Dropped),
	)
	return views, nil
}

// effects lists the views a round pushed its highlight to: every rendered
// view except the one that caused the round.
func effects(set *projection.Set, origin selection.View) []selection.View {
	out := make([]selection.View, 0, len(set.Bars)+1)
	if origin != selection.ViewScatter {
		out = append(out, selection.ViewScatter)
	}
	for _, b := range set.Bars {
		if b.View != origin {
			out = append(out, b.View)
		}
	}
	return out
}

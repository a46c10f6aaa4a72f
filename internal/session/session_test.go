package session

import (
	"bytes"
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/TobiSchelling/threadlens/internal/broadcast"
	"github.com/TobiSchelling/threadlens/internal/database"
	"github.com/TobiSchelling/threadlens/internal/projection"
	"github.com/TobiSchelling/threadlens/internal/records"
	"github.com/TobiSchelling/threadlens/internal/selection"
)

var now = time.Date(2021, time.June, 15, 12, 0, 0, 0, time.UTC)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 12, 0, 0, 0, time.UTC)
}

func fixtureStore() *records.Store {
	return records.Build([]database.Thread{
		{ID: 100, Title: "Old", Type: "story", Score: 30, Descendants: 12, CreatedAt: day(2018, time.May, 2)},
		{ID: 101, Title: "Older still", Type: "story", Score: 60, Descendants: 3, CreatedAt: day(2018, time.May, 9)},
		{ID: 305, Title: "New year", Type: "story", Score: 70, Descendants: 50, CreatedAt: day(2020, time.January, 3)},
		{ID: 300, Title: "Show HN: threadlens", Type: "story", Score: 500, Descendants: 2, CreatedAt: day(2020, time.March, 2)},
		{ID: 301, Title: "Rust in production", Type: "story", Score: 900, Descendants: 3, CreatedAt: day(2020, time.March, 5)},
		{ID: 302, Title: "Why SQLite", Type: "story", Score: 40, Descendants: 200, CreatedAt: day(2020, time.March, 9)},
		{ID: 303, Title: "Ask HN: no comments yet", Type: "story", Score: 120, Descendants: 0, CreatedAt: day(2020, time.March, 20)},
		{ID: 304, Title: "Hiring", Type: "job", Score: 1, Descendants: 1, CreatedAt: day(2020, time.April, 1)},
	}, now)
}

func fixedClock() time.Time { return now }

func newSession(t *testing.T, opts ...Option) *Session {
	t.Helper()
	opts = append([]Option{WithClock(fixedClock)}, opts...)
	s, err := New("s1", fixtureStore(), opts...)
	require.NoError(t, err)
	return s
}

func pick(origin selection.View, ids ...int64) selection.Report {
	return selection.Report{Origin: origin, Event: selection.Event{Kind: selection.KindPointSelected, Threads: ids}, Changed: true}
}

func year(y int) selection.Report {
	return selection.Report{Origin: selection.ViewSlider, Event: selection.Event{Kind: selection.KindYearChanged, Year: y}, Changed: true}
}

func barHighlight(t *testing.T, set *projection.Set, v selection.View) int64 {
	t.Helper()
	b, ok := set.Bar(v)
	require.True(t, ok, "no bar view %s", v)
	if b.Highlight < 0 {
		return selection.NoThread
	}
	return b.Bars[b.Highlight].ID
}

// assertConsistent checks that every view of a set agrees with its state.
func assertConsistent(t *testing.T, store *records.Store, set *projection.Set) {
	t.Helper()
	st := set.State
	require.True(t, selection.Valid(store, st), "invalid state %v", st)
	assert.Equal(t, broadcast.Digest(st, projection.Scope(store, st)), set.Digest)
	for v, id := range set.Highlights() {
		assert.Equal(t, st.Thread, id, "view %s disagrees with state %v", v, st)
	}
}

func TestNewStartsInDefaultState(t *testing.T) {
	s := newSession(t)

	assert.Equal(t, "s1", s.ID())
	assert.Equal(t, selection.State{Year: 2020, Month: 1}, s.State())
	views := s.Views()
	require.NotNil(t, views)
	assert.Equal(t, int64(1), views.Round)
	assert.Equal(t, selection.ViewDefault, views.Origin)
	assert.Len(t, views.Bars, 2)
	assert.Equal(t, now, s.LastActive())
	assertConsistent(t, fixtureStore(), views)
}

func TestDispatchYearChangeClearsThread(t *testing.T) {
	s := newSession(t)
	ctx := context.Background()

	_, err := s.Dispatch(ctx, []selection.Report{pick(selection.ViewScatter, 300)})
	require.NoError(t, err)
	require.Equal(t, int64(300), s.State().Thread)

	set, err := s.Dispatch(ctx, []selection.Report{year(2018)})
	require.NoError(t, err)
	assert.Equal(t, selection.State{Year: 2018, Month: 1}, set.State)
	assert.Equal(t, 2018, set.Slider.Value)
	assert.Nil(t, set.Scatter.Highlight)
	assertConsistent(t, fixtureStore(), set)
}

func TestDispatchScatterSelectionScopesBothBarCharts(t *testing.T) {
	s := newSession(t)

	set, err := s.Dispatch(context.Background(), []selection.Report{pick(selection.ViewScatter, 300)})
	require.NoError(t, err)

	assert.Equal(t, selection.State{Year: 2020, Month: 3, Thread: 300}, set.State)
	votes, _ := set.Bar(selection.ViewVotes)
	comments, _ := set.Bar(selection.ViewComments)
	assert.Equal(t, "Stats for 2020/3", votes.Title)
	assert.Equal(t, 1, votes.Highlight)
	assert.Equal(t, 2, comments.Highlight)
	assertConsistent(t, fixtureStore(), set)
}

func TestDispatchCrossChartSelectionDoesNotBounce(t *testing.T) {
	s := newSession(t)
	ctx := context.Background()

	first, err := s.Dispatch(ctx, []selection.Report{pick(selection.ViewVotes, 301)})
	require.NoError(t, err)
	assert.Equal(t, int64(301), first.State.Thread)

	stale := pick(selection.ViewVotes, 301)
	stale.Changed = false
	second, err := s.Dispatch(ctx, []selection.Report{stale, pick(selection.ViewComments, 302)})
	require.NoError(t, err)
	assert.Equal(t, int64(302), second.State.Thread)
	assert.Equal(t, int64(302), barHighlight(t, second, selection.ViewVotes))
	assert.Equal(t, int64(302), barHighlight(t, second, selection.ViewComments))

	// The votes chart reports the highlight it was just given.
	third, err := s.Dispatch(ctx, []selection.Report{pick(selection.ViewVotes, 302)})
	require.NoError(t, err)
	assert.Same(t, second, third)
	assert.Equal(t, second.Round, s.Snapshot().Round)

	res := s.LastResolution()
	assert.True(t, res.Event.IsNoOp())
	require.Len(t, res.Dropped, 1)
	assert.Equal(t, "echo of pushed highlight", res.Dropped[0].Reason)
}

func TestDispatchEarlierOriginCanReselectItsThread(t *testing.T) {
	s := newSession(t)
	ctx := context.Background()

	_, err := s.Dispatch(ctx, []selection.Report{pick(selection.ViewScatter, 301)})
	require.NoError(t, err)
	_, err = s.Dispatch(ctx, []selection.Report{pick(selection.ViewVotes, 302)})
	require.NoError(t, err)

	set, err := s.Dispatch(ctx, []selection.Report{pick(selection.ViewVotes, 301)})
	require.NoError(t, err)
	assert.Equal(t, selection.State{Year: 2020, Month: 3, Thread: 301}, set.State)
	assert.Empty(t, s.LastResolution().Dropped)
	assert.Equal(t, int64(301), barHighlight(t, set, selection.ViewComments))
	assertConsistent(t, fixtureStore(), set)
}

func TestDispatchDeselectThenReselectFromSameView(t *testing.T) {
	s := newSession(t)
	ctx := context.Background()
	deselect := selection.Report{
		Origin:  selection.ViewComments,
		Event:   selection.Event{Kind: selection.KindPointDeselected},
		Changed: true,
	}

	_, err := s.Dispatch(ctx, []selection.Report{pick(selection.ViewComments, 302)})
	require.NoError(t, err)

	cleared, err := s.Dispatch(ctx, []selection.Report{deselect})
	require.NoError(t, err)
	assert.Equal(t, selection.State{Year: 2020, Month: 3}, cleared.State)

	set, err := s.Dispatch(ctx, []selection.Report{pick(selection.ViewComments, 302)})
	require.NoError(t, err)
	assert.Equal(t, int64(302), set.State.Thread)
	assert.Greater(t, set.Round, cleared.Round)
	assertConsistent(t, fixtureStore(), set)
}

func TestDispatchNoOpReturnsPreviousViews(t *testing.T) {
	s := newSession(t)
	before := s.Views()

	set, err := s.Dispatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Same(t, before, set)

	set, err = s.Dispatch(context.Background(), []selection.Report{year(2020)})
	require.NoError(t, err)
	assert.Same(t, before, set)
}

func TestDispatchUnknownThreadWarns(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	s := newSession(t, WithLogger(logger))
	before := s.State()

	_, err := s.Dispatch(context.Background(), []selection.Report{pick(selection.ViewScatter, 9999)})
	require.NoError(t, err)
	assert.Equal(t, before, s.State())
	assert.Contains(t, buf.String(), "level=WARN")
	assert.Contains(t, buf.String(), "unknown thread")
	assert.Contains(t, buf.String(), "session=s1")
}

func TestDispatchCancelledLeavesStateUntouched(t *testing.T) {
	s := newSession(t)
	before := s.Views()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Dispatch(ctx, []selection.Report{year(2018)})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, selection.State{Year: 2020, Month: 1}, s.State())
	assert.Same(t, before, s.Views())
	assert.Equal(t, int64(1), s.Snapshot().Round)
}

func TestDispatchSingleBarChart(t *testing.T) {
	s := newSession(t, WithViews(projection.Options{Metrics: []projection.Metric{projection.MetricDescendants}, Limit: 2}))

	set, err := s.Dispatch(context.Background(), []selection.Report{pick(selection.ViewScatter, 301)})
	require.NoError(t, err)
	require.Len(t, set.Bars, 1)
	assert.Equal(t, selection.ViewComments, set.Bars[0].View)
	assert.Len(t, set.Bars[0].Bars, 2)
	assert.Equal(t, 1, set.Bars[0].Highlight)
}

func TestDispatchRecordsRoundSpan(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	s := newSession(t, WithTracer(tp.Tracer("test")))

	_, err := s.Dispatch(context.Background(), []selection.Report{
		pick(selection.ViewScatter, 300),
		pick(selection.ViewVotes, 9999),
	})
	require.NoError(t, err)

	spans := sr.Ended()
	require.Len(t, spans, 1)
	span := spans[0]
	assert.Equal(t, RoundSpan, span.Name())

	attrs := make(map[attribute.Key]attribute.Value)
	for _, kv := range span.Attributes() {
		attrs[kv.Key] = kv.Value
	}
	assert.Equal(t, "scatter", attrs["selection.origin"].AsString())
	assert.Equal(t, int64(3), attrs["selection.month"].AsInt64())
	assert.Equal(t, int64(300), attrs["selection.thread"].AsInt64())

	require.Len(t, span.Events(), 1)
	assert.Equal(t, "interaction dropped", span.Events()[0].Name)
}

func TestConcurrentRoundsAreGlitchFree(t *testing.T) {
	store := fixtureStore()
	s, err := New("race", store, WithClock(fixedClock))
	require.NoError(t, err)

	pool := []selection.Report{
		year(2018), year(2020),
		pick(selection.ViewScatter, 300), pick(selection.ViewVotes, 301),
		pick(selection.ViewComments, 302), pick(selection.ViewScatter, 100),
		pick(selection.ViewVotes, 101), pick(selection.ViewComments, 404),
		{Origin: selection.ViewScatter, Event: selection.Event{Kind: selection.KindPointDeselected}, Changed: true},
	}

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < 100; i++ {
				reports := []selection.Report{pool[rng.Intn(len(pool))], pool[rng.Intn(len(pool))]}
				set, err := s.Dispatch(context.Background(), reports)
				if !assert.NoError(t, err) {
					return
				}
				assertConsistent(t, store, set)
			}
		}(int64(w))
	}
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				assertConsistent(t, store, s.Views())
			}
		}()
	}
	wg.Wait()
}

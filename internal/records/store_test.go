package records

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/threadlens/internal/database"
)

var now = time.Date(2021, 6, 15, 12, 0, 0, 0, time.UTC)

func th(id int64, typ string, score, comments int, created time.Time) database.Thread {
	return database.Thread{ID: id, Title: "t", Author: "a", Type: typ, Score: score, Descendants: comments, CreatedAt: created}
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestBuildDerivesCalendarFields(t *testing.T) {
	s := Build([]database.Thread{th(1, "story", 10, 3, date(2021, 6, 5))}, now)

	r, ok := s.Lookup(1)
	require.True(t, ok)
	assert.Equal(t, 2021, r.Year)
	assert.Equal(t, 6, r.Month)
	assert.Equal(t, 10, r.AgeDays)
}

func TestBuildOrdersAndDeduplicates(t *testing.T) {
	s := Build([]database.Thread{
		th(3, "story", 1, 1, date(2020, 2, 1)),
		th(1, "story", 1, 1, date(2019, 1, 1)),
		th(3, "job", 99, 99, date(2018, 1, 1)),
		th(2, "poll", 1, 1, date(2020, 2, 1)),
	}, now)

	require.Equal(t, 3, s.Len())
	r, _ := s.Lookup(3)
	assert.Equal(t, "story", r.Type, "first occurrence wins")

	ids := []int64{}
	for _, rec := range s.InYear(2020) {
		ids = append(ids, rec.ID)
	}
	assert.Equal(t, []int64{2, 3}, ids, "same timestamp orders by id")
	assert.Equal(t, []int{2019, 2020}, s.Years())
	assert.Equal(t, []string{"poll", "story"}, s.Types())
}

func TestBuildClampsNegativeValues(t *testing.T) {
	s := Build([]database.Thread{th(1, "", -5, -2, date(2022, 1, 1))}, now)
	r, _ := s.Lookup(1)
	assert.Equal(t, 0, r.Score)
	assert.Equal(t, 0, r.Descendants)
	assert.Equal(t, 0, r.AgeDays, "future timestamps have no age")
	assert.Equal(t, "story", r.Type)
}

func TestInMonth(t *testing.T) {
	s := Build([]database.Thread{
		th(1, "story", 1, 1, date(2020, 3, 1)),
		th(2, "story", 1, 1, date(2020, 3, 31)),
		th(3, "story", 1, 1, date(2020, 4, 1)),
		th(4, "story", 1, 1, date(2019, 3, 10)),
	}, now)

	assert.Len(t, s.InMonth(2020, 3), 2)
	assert.Len(t, s.InMonth(2020, 0), 3, "month 0 selects the whole year")
	assert.Empty(t, s.InMonth(2020, 12))
	assert.Empty(t, s.InMonth(1999, 1))
}

func TestEmptyStore(t *testing.T) {
	s := Build(nil, now)
	_, ok := s.LatestYear()
	assert.False(t, ok)
	assert.False(t, s.HasYear(2021))
	assert.Empty(t, s.InYear(2021))
	_, found := s.Lookup(1)
	assert.False(t, found)
}

func TestReturnedSlicesAreCopies(t *testing.T) {
	s := Build([]database.Thread{th(1, "story", 1, 1, date(2020, 3, 1))}, now)
	recs := s.InYear(2020)
	recs[0].Score = 1000
	years := s.Years()
	years[0] = 1

	r, _ := s.Lookup(1)
	assert.Equal(t, 1, r.Score)
	assert.Equal(t, []int{2020}, s.Years())
}

type fakeQuerier struct {
	threads []database.Thread
	err     error
	query   string
}

func (f *fakeQuerier) QueryThreads(_ context.Context, query string) ([]database.Thread, error) {
	f.query = query
	return f.threads, f.err
}

func TestLoad(t *testing.T) {
	q := &fakeQuerier{threads: []database.Thread{th(1, "story", 1, 1, date(2020, 3, 1))}}
	s, err := Load(context.Background(), q, "SELECT 1", now)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, "SELECT 1", q.query)
	assert.Equal(t, now, s.Reference())
}

func TestLoadPropagatesError(t *testing.T) {
	q := &fakeQuerier{err: errors.New("warehouse down")}
	_, err := Load(context.Background(), q, "SELECT 1", now)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "warehouse down")
}

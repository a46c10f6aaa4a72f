// Package records holds the immutable in-memory table of thread records that
// every session reads from.
package records

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/TobiSchelling/threadlens/internal/database"
)

// Record is a thread with its derived calendar fields.
type Record struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Author      string    `json:"author"`
	Type        string    `json:"type"`
	Score       int       `json:"score"`
	Descendants int       `json:"descendants"`
	CreatedAt   time.Time `json:"created_at"`
	Year        int       `json:"year"`
	Month       int       `json:"month"`
	AgeDays     int       `json:"age_days"`
}

// Querier is the ingestion boundary: anything that can run the configured
// query and hand back thread rows.
type Querier interface {
	QueryThreads(ctx context.Context, query string) ([]database.Thread, error)
}

// Store is safe for concurrent readers; nothing mutates it after Build.
type Store struct {
	records   []Record
	byID      map[int64]int
	byYear    map[int][]int
	years     []int
	types     []string
	reference time.Time
}

// Load runs the ingestion query and builds a store from its rows.
func Load(ctx context.Context, q Querier, query string, now time.Time) (*Store, error) {
	threads, err := q.QueryThreads(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("loading records: %w", err)
	}
	return Build(threads, now), nil
}

// Build derives year, month and age for every thread. Negative counts are
// clamped to zero and only the first row for a duplicated id is kept.
// Records are ordered by creation time, then id.
func Build(threads []database.Thread, now time.Time) *Store {
	now = now.UTC()
	s := &Store{
		byID:      make(map[int64]int, len(threads)),
		byYear:    make(map[int][]int),
		reference: now,
	}

	seen := make(map[int64]bool, len(threads))
	recs := make([]Record, 0, len(threads))
	for _, t := range threads {
		if seen[t.ID] {
			continue
		}
		seen[t.ID] = true
		recs = append(recs, newRecord(t, now))
	}
	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].ID < recs[j].ID
		}
		return recs[i].CreatedAt.Before(recs[j].CreatedAt)
	})
	s.records = recs

	typeSet := make(map[string]bool)
	for i, r := range recs {
		s.byID[r.ID] = i
		if _, ok := s.byYear[r.Year]; !ok {
			s.years = append(s.years, r.Year)
		}
		s.byYear[r.Year] = append(s.byYear[r.Year], i)
		if !typeSet[r.Type] {
			typeSet[r.Type] = true
			s.types = append(s.types, r.Type)
		}
	}
	sort.Ints(s.years)
	sort.Strings(s.types)
	return s
}

func newRecord(t database.Thread, now time.Time) Record {
	created := t.CreatedAt.UTC()
	age := int(now.Sub(created).Hours() / 24)
	if age < 0 {
		age = 0
	}
	threadType := t.Type
	if threadType == "" {
		threadType = "story"
	}
	return Record{
		ID:          t.ID,
		Title:       t.Title,
		Author:      t.Author,
		Type:        threadType,
		Score:       max(t.Score, 0),
		Descendants: max(t.Descendants, 0),
		CreatedAt:   created,
		Year:        created.Year(),
		Month:       int(created.Month()),
		AgeDays:     age,
	}
}

// Len returns the number of records.
func (s *Store) Len() int { return len(s.records) }

// Reference returns the time ages were computed against.
func (s *Store) Reference() time.Time { return s.reference }

// Lookup returns the record with the given id.
func (s *Store) Lookup(id int64) (Record, bool) {
	i, ok := s.byID[id]
	if !ok {
		return Record{}, false
	}
	return s.records[i], true
}

// Years returns the distinct years present, ascending.
func (s *Store) Years() []int {
	return append([]int(nil), s.years...)
}

// LatestYear returns the most recent year present.
func (s *Store) LatestYear() (int, bool) {
	if len(s.years) == 0 {
		return 0, false
	}
	return s.years[len(s.years)-1], true
}

// HasYear reports whether any record falls in year.
func (s *Store) HasYear(year int) bool {
	_, ok := s.byYear[year]
	return ok
}

// Types returns the distinct record types, sorted.
func (s *Store) Types() []string {
	return append([]string(nil), s.types...)
}

// InYear returns a fresh slice of the year's records in chronological order.
func (s *Store) InYear(year int) []Record {
	idx := s.byYear[year]
	out := make([]Record, len(idx))
	for i, j := range idx {
		out[i] = s.records[j]
	}
	return out
}

// InMonth returns the records of one month of a year. A month of 0 selects
// the whole year.
func (s *Store) InMonth(year, month int) []Record {
	if month == 0 {
		return s.InYear(year)
	}
	var out []Record
	for _, j := range s.byYear[year] {
		if s.records[j].Month == month {
			out = append(out, s.records[j])
		}
	}
	return out
}

package database

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// columnAliases maps accepted result column names onto Thread fields, so that
// warehouse-shaped queries (threadId, timestamp, by) work unchanged.
var columnAliases = map[string]string{
	"id":          "id",
	"threadid":    "id",
	"thread_id":   "id",
	"title":       "title",
	"author":      "author",
	"by":          "author",
	"type":        "type",
	"score":       "score",
	"descendants": "descendants",
	"comments":    "descendants",
	"created_at":  "created_at",
	"timestamp":   "created_at",
	"time":        "created_at",
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05 UTC",
	"2006-01-02",
}

// UpsertThread inserts a thread, or refreshes its title, score and comment
// count when the id already exists.
func (db *DB) UpsertThread(t Thread) (UpsertResult, error) {
	var title string
	var score, descendants int
	err := db.conn.QueryRow(
		"SELECT title, score, descendants FROM threads WHERE id = ?", t.ID,
	).Scan(&title, &score, &descendants)

	if err == sql.ErrNoRows {
		threadType := t.Type
		if threadType == "" {
			threadType = "story"
		}
		_, err := db.conn.Exec(
			`INSERT INTO threads (id, title, author, type, score, descendants, created_at, source)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID, t.Title, t.Author, threadType, t.Score, t.Descendants,
			t.CreatedAt.UTC().Format(time.RFC3339), t.Source,
		)
		if err != nil {
			return Unchanged, fmt.Errorf("inserting thread %d: %w", t.ID, err)
		}
		return Inserted, nil
	}
	if err != nil {
		return Unchanged, fmt.Errorf("looking up thread %d: %w", t.ID, err)
	}

	if title == t.Title && score == t.Score && descendants == t.Descendants {
		return Unchanged, nil
	}
	_, err = db.conn.Exec(
		"UPDATE threads SET title = ?, score = ?, descendants = ? WHERE id = ?",
		t.Title, t.Score, t.Descendants, t.ID,
	)
	if err != nil {
		return Unchanged, fmt.Errorf("updating thread %d: %w", t.ID, err)
	}
	return Updated, nil
}

// GetThread returns a single thread by ID, or nil if it does not exist.
func (db *DB) GetThread(id int64) (*Thread, error) {
	threads, err := db.QueryThreads(context.Background(),
		"SELECT id, title, author, type, score, descendants, created_at FROM threads WHERE id = "+strconv.FormatInt(id, 10))
	if err != nil {
		return nil, err
	}
	if len(threads) == 0 {
		return nil, nil
	}
	return &threads[0], nil
}

// CountThreads returns the number of stored threads.
func (db *DB) CountThreads() (int, error) {
	var n int
	if err := db.conn.QueryRow("SELECT COUNT(*) FROM threads").Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// QueryThreads runs an arbitrary SELECT and maps its columns onto threads by
// name. Unknown columns are ignored; id and a timestamp column are required.
// An empty result is not an error.
func (db *DB) QueryThreads(ctx context.Context, query string) ([]Thread, error) {
	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("running thread query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("reading columns: %w", err)
	}
	m, err := NewColumnMap(cols)
	if err != nil {
		return nil, err
	}

	var threads []Thread
	for rows.Next() {
		values := make([]any, len(cols))
		dest := make([]any, len(cols))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		t, err := m.Thread(values)
		if err != nil {
			return nil, err
		}
		threads = append(threads, t)
	}
	return threads, rows.Err()
}

// ColumnMap resolves named columns, from a query result or a CSV header,
// onto thread fields.
type ColumnMap struct {
	cols   []string
	fields []string
}

// NewColumnMap checks that the columns include an id and a timestamp.
func NewColumnMap(cols []string) (*ColumnMap, error) {
	m := &ColumnMap{cols: cols, fields: make([]string, len(cols))}
	seen := make(map[string]bool)
	for i, c := range cols {
		m.fields[i] = columnAliases[strings.ToLower(strings.TrimSpace(c))]
		seen[m.fields[i]] = true
	}
	for _, required := range []string{"id", "created_at"} {
		if !seen[required] {
			return nil, fmt.Errorf("query result missing column %q", required)
		}
	}
	return m, nil
}

// Thread builds a thread from one row of values in column order.
func (m *ColumnMap) Thread(values []any) (Thread, error) {
	var t Thread
	if len(values) != len(m.cols) {
		return t, fmt.Errorf("row has %d values, want %d", len(values), len(m.cols))
	}
	for i, field := range m.fields {
		if err := assign(&t, field, values[i]); err != nil {
			return t, fmt.Errorf("column %s: %w", m.cols[i], err)
		}
	}
	return t, nil
}

// GetStats returns aggregate statistics over the thread table.
func (db *DB) GetStats() (*Stats, error) {
	s := &Stats{ByType: make(map[string]int)}

	err := db.conn.QueryRow(
		`SELECT COUNT(*), COUNT(DISTINCT author),
		COALESCE(MIN(substr(created_at, 1, 4)), '0'), COALESCE(MAX(substr(created_at, 1, 4)), '0')
		FROM threads`,
	).Scan(&s.TotalThreads, &s.Authors, &s.FirstYear, &s.LastYear)
	if err != nil {
		return nil, fmt.Errorf("reading thread stats: %w", err)
	}

	rows, err := db.conn.Query("SELECT type, COUNT(*) FROM threads GROUP BY type ORDER BY type")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var threadType string
		var n int
		if err := rows.Scan(&threadType, &n); err != nil {
			return nil, err
		}
		s.ByType[threadType] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := db.conn.QueryRow("SELECT COUNT(*) FROM collect_runs").Scan(&s.CollectRuns); err != nil {
		return nil, err
	}
	return s, nil
}

// InsertCollectRun records the outcome of one collection pass.
func (db *DB) InsertCollectRun(source string, found, inserted, updated, skipped int) error {
	_, err := db.conn.Exec(
		"INSERT INTO collect_runs (source, found, inserted, updated, skipped) VALUES (?, ?, ?, ?, ?)",
		source, found, inserted, updated, skipped,
	)
	return err
}

// GetLastCollectRun returns the most recent collection pass, or nil.
func (db *DB) GetLastCollectRun() (*CollectRun, error) {
	var r CollectRun
	err := db.conn.QueryRow(
		"SELECT id, source, found, inserted, updated, skipped, ran_at FROM collect_runs ORDER BY id DESC LIMIT 1",
	).Scan(&r.ID, &r.Source, &r.Found, &r.Inserted, &r.Updated, &r.Skipped, &r.RanAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func assign(t *Thread, field string, v any) error {
	switch field {
	case "id":
		n, err := toInt(v)
		if err != nil {
			return err
		}
		t.ID = int64(n)
	case "title":
		t.Title = toString(v)
	case "author":
		t.Author = toString(v)
	case "type":
		t.Type = toString(v)
	case "score":
		n, err := toInt(v)
		if err != nil {
			return err
		}
		t.Score = n
	case "descendants":
		n, err := toInt(v)
		if err != nil {
			return err
		}
		t.Descendants = n
	case "created_at":
		ts, err := ParseTimestamp(v)
		if err != nil {
			return err
		}
		t.CreatedAt = ts
	}
	return nil
}

func toString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	default:
		return fmt.Sprint(x)
	}
}

func toInt(v any) (int, error) {
	switch x := v.(type) {
	case nil:
		return 0, nil
	case int64:
		return int(x), nil
	case float64:
		return int(x), nil
	case string:
		return strconv.Atoi(strings.TrimSpace(x))
	case []byte:
		return strconv.Atoi(strings.TrimSpace(string(x)))
	default:
		return 0, fmt.Errorf("unsupported integer value %T", v)
	}
}

// ParseTimestamp accepts unix seconds, RFC3339 and the common SQL datetime
// layouts. The result is always UTC.
func ParseTimestamp(v any) (time.Time, error) {
	switch x := v.(type) {
	case time.Time:
		return x.UTC(), nil
	case int64:
		return time.Unix(x, 0).UTC(), nil
	case float64:
		return time.Unix(int64(x), 0).UTC(), nil
	case []byte:
		return ParseTimestamp(string(x))
	case string:
		s := strings.TrimSpace(x)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return time.Unix(n, 0).UTC(), nil
		}
		for _, layout := range timeLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts.UTC(), nil
			}
		}
		return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp value %T", v)
	}
}

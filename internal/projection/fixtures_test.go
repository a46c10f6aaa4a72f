package projection

import (
	"time"

	"github.com/TobiSchelling/threadlens/internal/broadcast"
	"github.com/TobiSchelling/threadlens/internal/database"
	"github.com/TobiSchelling/threadlens/internal/records"
	"github.com/TobiSchelling/threadlens/internal/selection"
)

var now = time.Date(2021, time.June, 15, 12, 0, 0, 0, time.UTC)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 12, 0, 0, 0, time.UTC)
}

func fixtureStore() *records.Store {
	return records.Build([]database.Thread{
		{ID: 200, Title: "Older", Type: "story", Score: 10, Descendants: 4, CreatedAt: day(2019, time.July, 1)},
		{ID: 305, Title: "New year", Type: "story", Score: 70, Descendants: 50, CreatedAt: day(2020, time.January, 3)},
		{ID: 300, Title: "Show HN: threadlens", Type: "story", Score: 500, Descendants: 2, CreatedAt: day(2020, time.March, 2)},
		{ID: 301, Title: "Rust in production", Type: "story", Score: 900, Descendants: 3, CreatedAt: day(2020, time.March, 5)},
		{ID: 302, Title: "Why SQLite", Type: "story", Score: 40, Descendants: 200, CreatedAt: day(2020, time.March, 9)},
		{ID: 303, Title: "Ask HN: no comments yet", Type: "story", Score: 120, Descendants: 0, CreatedAt: day(2020, time.March, 20)},
		{ID: 304, Title: "Hiring", Type: "job", Score: 1, Descendants: 1, CreatedAt: day(2020, time.April, 1)},
	}, now)
}

func publish(store *records.Store, st selection.State) *broadcast.Snapshot {
	return broadcast.NewChannel().Publish(st, selection.ViewScatter, Scope(store, st))
}

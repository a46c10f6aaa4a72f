package selection

import (
	"time"

	"github.com/TobiSchelling/threadlens/internal/database"
	"github.com/TobiSchelling/threadlens/internal/records"
)

// now is deliberately outside every fixture year.
var now = time.Date(2024, time.May, 20, 9, 0, 0, 0, time.UTC)

func at(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 12, 0, 0, 0, time.UTC)
}

// fixtureStore holds two years of threads:
//
//	2018: 10 (Mar), 11 (Mar)
//	2019: 20 (Jan), 21 (Jun), 22 (Jun)
func fixtureStore() *records.Store {
	return records.Build([]database.Thread{
		{ID: 10, Title: "a", Type: "story", Score: 50, Descendants: 10, CreatedAt: at(2018, time.March, 1)},
		{ID: 11, Title: "b", Type: "story", Score: 80, Descendants: 5, CreatedAt: at(2018, time.March, 9)},
		{ID: 20, Title: "c", Type: "story", Score: 5, Descendants: 1, CreatedAt: at(2019, time.January, 2)},
		{ID: 21, Title: "d", Type: "job", Score: 500, Descendants: 40, CreatedAt: at(2019, time.June, 3)},
		{ID: 22, Title: "e", Type: "story", Score: 120, Descendants: 90, CreatedAt: at(2019, time.June, 4)},
	}, now)
}

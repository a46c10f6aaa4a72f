package ingest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/TobiSchelling/threadlens/internal/database"
)

// ImportCSV loads a header-driven CSV export into the thread table. Column
// names follow the same aliases as the ingestion query. Rows that cannot be
// read are skipped and counted.
func ImportCSV(ctx context.Context, db *database.DB, path string, logger *slog.Logger) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	source := "csv:" + filepath.Base(path)
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header of %s: %w", path, err)
	}
	cols, err := database.NewColumnMap(header)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	res := newResult()
	line := 1
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			logger.Warn("skipping unreadable row", "file", path, "line", line, "err", err)
			res.Skipped++
			continue
		}
		res.TotalFound++

		values := make([]any, len(row))
		for i, v := range row {
			values[i] = v
		}
		t, err := cols.Thread(values)
		if err != nil || t.ID == 0 {
			logger.Warn("skipping row", "file", path, "line", line, "err", err)
			res.Skipped++
			continue
		}
		src := source
		t.Source = &src

		outcome, err := db.UpsertThread(t)
		if err != nil {
			return res, err
		}
		res.add(source, outcome)
	}

	if err := db.InsertCollectRun(source, res.TotalFound, res.Inserted, res.Updated, res.Skipped); err != nil {
		return res, fmt.Errorf("recording import: %w", err)
	}
	logger.Info("import complete", "file", path, "found", res.TotalFound,
		"inserted", res.Inserted, "updated", res.Updated, "skipped", res.Skipped)
	return res, nil
}

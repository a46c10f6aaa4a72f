package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/TobiSchelling/threadlens/internal/config"
	"github.com/TobiSchelling/threadlens/internal/database"
	"github.com/TobiSchelling/threadlens/internal/ingest"
	"github.com/TobiSchelling/threadlens/internal/records"
)

// StepResult holds the result of a single pipeline step.
type StepResult struct {
	Name    string
	Summary string
	Err     error
}

// Result holds the results of a full pipeline run.
type Result struct {
	Steps []StepResult
	Store *records.Store
}

// Failed reports whether any step failed.
func (r *Result) Failed() bool {
	for _, s := range r.Steps {
		if s.Err != nil {
			return true
		}
	}
	return false
}

// Pipeline refreshes the thread table and loads it into a record store:
// collect, import, load.
type Pipeline struct {
	cfg    *config.Config
	db     *database.DB
	logger *slog.Logger
	now    func() time.Time
}

// New creates a new pipeline.
func New(cfg *config.Config, db *database.DB, logger *slog.Logger) *Pipeline {
	return &Pipeline{cfg: cfg, db: db, logger: logger, now: time.Now}
}

// Run executes the full pipeline. A failed load ends the run without a store.
func (p *Pipeline) Run(ctx context.Context) *Result {
	r := &Result{}

	// Step 1: Collect
	r.Steps = append(r.Steps, p.runCollect(ctx))

	// Step 2: Import
	r.Steps = append(r.Steps, p.runImport(ctx))

	// Step 3: Load
	store, step := p.runLoad(ctx)
	r.Steps = append(r.Steps, step)
	r.Store = store

	return r
}

// DryRun shows what would be done without executing.
func (p *Pipeline) DryRun(ctx context.Context) *Result {
	r := &Result{}

	count, _ := p.db.CountThreads()
	r.Steps = append(r.Steps, StepResult{
		Name:    "Collect",
		Summary: fmt.Sprintf("[dry-run] %d feeds configured, %d threads already in DB", len(p.cfg.Sources.Feeds), count),
	})

	missing := 0
	for _, f := range p.cfg.Sources.Files {
		if _, err := os.Stat(f); err != nil {
			missing++
		}
	}
	r.Steps = append(r.Steps, StepResult{
		Name:    "Import",
		Summary: fmt.Sprintf("[dry-run] %d files to import, %d missing", len(p.cfg.Sources.Files), missing),
	})

	_, step := p.runLoad(ctx)
	step.Summary = "[dry-run] " + step.Summary
	r.Steps = append(r.Steps, step)
	return r
}

func (p *Pipeline) runCollect(ctx context.Context) StepResult {
	p.logger.Info("step 1/3: collecting threads")
	collector := ingest.NewCollector(p.cfg, p.db, p.logger)
	result, err := collector.Collect(ctx)
	if err != nil {
		return StepResult{Name: "Collect", Err: err}
	}
	return StepResult{
		Name: "Collect",
		Summary: fmt.Sprintf("Found %d threads (%d new, %d updated, %d unchanged)",
			result.TotalFound, result.Inserted, result.Updated, result.Unchanged),
	}
}

func (p *Pipeline) runImport(ctx context.Context) StepResult {
	p.logger.Info("step 2/3: importing files")
	total := &ingest.Result{Sources: make(map[string]int)}
	for _, path := range p.cfg.Sources.Files {
		result, err := ingest.ImportCSV(ctx, p.db, path, p.logger)
		if err != nil {
			return StepResult{Name: "Import", Err: err}
		}
		total.Merge(result)
	}
	return StepResult{
		Name: "Import",
		Summary: fmt.Sprintf("Imported %d new threads from %d files (%d skipped rows)",
			total.Inserted, len(p.cfg.Sources.Files), total.Skipped),
	}
}

func (p *Pipeline) runLoad(ctx context.Context) (*records.Store, StepResult) {
	p.logger.Info("step 3/3: loading record store")
	query, err := p.cfg.GetQuery()
	if err != nil {
		return nil, StepResult{Name: "Load", Err: err}
	}
	store, err := records.Load(ctx, p.db, query, p.now())
	if err != nil {
		return nil, StepResult{Name: "Load", Err: err}
	}
	years := store.Years()
	span := "no years"
	if len(years) > 0 {
		span = fmt.Sprintf("%d-%d", years[0], years[len(years)-1])
	}
	return store, StepResult{
		Name:    "Load",
		Summary: fmt.Sprintf("Loaded %d threads across %d years (%s)", store.Len(), len(years), span),
	}
}

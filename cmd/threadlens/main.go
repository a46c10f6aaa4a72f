package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/TobiSchelling/threadlens/internal/config"
	"github.com/TobiSchelling/threadlens/internal/database"
	"github.com/TobiSchelling/threadlens/internal/ingest"
	"github.com/TobiSchelling/threadlens/internal/pipeline"
	"github.com/TobiSchelling/threadlens/internal/projection"
	"github.com/TobiSchelling/threadlens/internal/records"
	"github.com/TobiSchelling/threadlens/internal/replay"
	"github.com/TobiSchelling/threadlens/internal/server"
	"github.com/TobiSchelling/threadlens/internal/session"
	"github.com/TobiSchelling/threadlens/internal/telemetry"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
	logger     *slog.Logger
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "threadlens",
	Short:   "Linked views over Hacker News threads",
	Long:    "threadlens collects Hacker News threads and serves a scatter chart and bar charts that follow one shared selection.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogger(slog.LevelInfo)

		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return nil
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		setupLogger(cfg.LogLevel())
		return nil
	},
}

func setupLogger(level slog.Level) {
	if verbose {
		level = slog.LevelDebug
	}
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level, AddSource: verbose}))
	slog.SetDefault(logger)
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(collectCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(serveCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("threadlens", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/threadlens/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to configure feeds, CSV exports, and the charts.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show database status",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.GetStats()
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}

		fmt.Printf("Database: %s\n\n", db.Path())
		fmt.Println("Threads:")
		fmt.Printf("  Total: %d\n", stats.TotalThreads)
		fmt.Printf("  Authors: %d\n", stats.Authors)
		if stats.TotalThreads > 0 {
			fmt.Printf("  Years: %d-%d\n", stats.FirstYear, stats.LastYear)
		}
		if len(stats.ByType) > 0 {
			fmt.Println("\nBy type:")
			printCounts(stats.ByType)
		}

		fmt.Println("\nCollection:")
		fmt.Printf("  Runs: %d\n", stats.CollectRuns)
		last, err := db.GetLastCollectRun()
		if err != nil {
			return err
		}
		if last != nil && last.RanAt != nil {
			fmt.Printf("  Last: %s (%s, %d found)\n", *last.RanAt, last.Source, last.Found)
		}
		return nil
	},
}

// --- collect command ---

var refreshLimit int

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Collect threads from configured feeds",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fmt.Println("Collecting threads from sources...")
		collector := ingest.NewCollector(cfg, db, logger)
		result, err := collector.Collect(ctx)
		if err != nil {
			return err
		}
		if refreshLimit > 0 {
			refreshed, err := collector.Refresh(ctx, refreshLimit)
			if err != nil {
				return err
			}
			result.Merge(refreshed)
		}

		printResult("Collection complete", result)
		return nil
	},
}

func init() {
	collectCmd.Flags().IntVar(&refreshLimit, "refresh", 0, "Refresh votes and comments of the N most recent threads from the item API")
}

// --- import command ---

var importCmd = &cobra.Command{
	Use:   "import [file.csv...]",
	Short: "Import threads from CSV exports",
	Long:  "Import threads from CSV exports whose header names id, title, author, type, score, descendants and created_at. Without arguments the files listed under sources.files are imported.",
	RunE: func(cmd *cobra.Command, args []string) error {
		files := args
		if len(files) == 0 {
			files = cfg.Sources.Files
		}
		if len(files) == 0 {
			fmt.Println("No files to import. Pass paths or list them under sources.files.")
			return nil
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		total := &ingest.Result{Sources: make(map[string]int)}
		for _, path := range files {
			result, err := ingest.ImportCSV(cmd.Context(), db, path, logger)
			if err != nil {
				return err
			}
			total.Merge(result)
		}
		printResult("Import complete", total)
		return nil
	},
}

func printResult(title string, r *ingest.Result) {
	fmt.Printf("\n%s:\n", title)
	fmt.Printf("  Total found: %d\n", r.TotalFound)
	fmt.Printf("  New threads: %d\n", r.Inserted)
	fmt.Printf("  Updated: %d\n", r.Updated)
	fmt.Printf("  Unchanged: %d\n", r.Unchanged)
	if r.Skipped > 0 {
		fmt.Printf("  Skipped: %d\n", r.Skipped)
	}
	if len(r.Sources) > 0 {
		fmt.Println("\nThreads by source:")
		printCounts(r.Sources)
	}
}

// printCounts prints counts sorted descending.
func printCounts(counts map[string]int) {
	type kv struct {
		key string
		val int
	}
	var sorted []kv
	for k, v := range counts {
		sorted = append(sorted, kv{k, v})
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].val != sorted[j].val {
			return sorted[i].val > sorted[j].val
		}
		return sorted[i].key < sorted[j].key
	})
	for _, s := range sorted {
		fmt.Printf("  %s: %d\n", s.key, s.val)
	}
}

// --- run command ---

var dryRun bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full pipeline: collect -> import -> load",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		pipe := pipeline.New(cfg, db, logger)
		var result *pipeline.Result
		if dryRun {
			result = pipe.DryRun(ctx)
		} else {
			result = pipe.Run(ctx)
		}

		for i, step := range result.Steps {
			fmt.Printf("\nStep %d/%d: %s\n", i+1, len(result.Steps), step.Name)
			if step.Err != nil {
				fmt.Printf("  Error: %v\n", step.Err)
			} else {
				fmt.Printf("  %s\n", step.Summary)
			}
		}

		if result.Failed() {
			return fmt.Errorf("pipeline failed")
		}
		if !dryRun {
			fmt.Println("\nPipeline complete! Run 'threadlens serve' to explore the threads.")
		}
		return nil
	},
}

func init() {
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would be done without executing")
}

// --- replay command ---

var replayCmd = &cobra.Command{
	Use:   "replay [script.yaml]",
	Short: "Play a scripted interaction sequence and print every round",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		script, err := replay.Load(args[0])
		if err != nil {
			return err
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		store, err := loadStore(cmd.Context(), db)
		if err != nil {
			return err
		}
		opts, err := sessionOptions()
		if err != nil {
			return err
		}

		steps, err := replay.Run(cmd.Context(), store, script, opts...)
		if err != nil {
			return err
		}
		return replay.Print(os.Stdout, steps)
	},
}

// --- serve command ---

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the local web server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		shutdown, err := telemetry.Setup(ctx, cfg.Tracing)
		if err != nil {
			return fmt.Errorf("setting up tracing: %w", err)
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(flushCtx); err != nil {
				logger.Warn("flushing traces", "err", err)
			}
		}()

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		store, err := loadStore(ctx, db)
		if err != nil {
			return err
		}
		opts, err := sessionOptions()
		if err != nil {
			return err
		}
		mgr := session.NewManager(store, opts...)

		srv, err := server.New(mgr, server.Options{
			Title:  cfg.Views.Title,
			Intro:  cfg.Views.Intro,
			Logger: logger,
		})
		if err != nil {
			return err
		}

		port := cfg.Server.Port
		if cmd.Flags().Changed("port") {
			port = servePort
		}
		addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(port))
		idle := time.Duration(cfg.Server.SessionIdleMin) * time.Minute

		fmt.Printf("Serving %d threads at http://%s\n", store.Len(), addr)
		fmt.Println("Press Ctrl+C to stop")
		return server.Serve(ctx, srv, mgr, addr, idle)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 4200, "Port to run server on")
}

func loadStore(ctx context.Context, db *database.DB) (*records.Store, error) {
	query, err := cfg.GetQuery()
	if err != nil {
		return nil, err
	}
	store, err := records.Load(ctx, db, query, time.Now())
	if err != nil {
		return nil, fmt.Errorf("loading threads: %w", err)
	}
	if store.Len() == 0 {
		logger.Warn("no threads loaded; run 'threadlens collect' or 'threadlens import' first")
	}
	return store, nil
}

func sessionOptions() ([]session.Option, error) {
	metrics := make([]projection.Metric, 0, len(cfg.Views.BarMetrics))
	for _, name := range cfg.Views.BarMetrics {
		m, err := projection.ParseMetric(name)
		if err != nil {
			return nil, fmt.Errorf("views.bar_metrics: %w", err)
		}
		metrics = append(metrics, m)
	}
	return []session.Option{
		session.WithLogger(logger),
		session.WithViews(projection.Options{Metrics: metrics, Limit: cfg.Views.MaxBars}),
	}, nil
}

func openDB() (*database.DB, error) {
	dataDir := cfg.GetDataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, "threadlens.db")
	return database.Open(dbPath, database.WithLogger(logger))
}

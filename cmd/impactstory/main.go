package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/TobiSchelling/ImpactStory/internal/agent"
	"github.com/TobiSchelling/ImpactStory/internal/config"
	"github.com/TobiSchelling/ImpactStory/internal/database"
	"github.com/TobiSchelling/ImpactStory/internal/documents"
	"github.com/TobiSchelling/ImpactStory/internal/llm"
	"github.com/TobiSchelling/ImpactStory/internal/logging"
	"github.com/TobiSchelling/ImpactStory/internal/pipeline"
	"github.com/TobiSchelling/ImpactStory/internal/research"
)

var version = "dev"

const dbFile = "impactstory.db"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
	logger     = zap.NewNop()
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	_ = logger.Sync()
	if err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "impactstory",
	Short:   "Fact-checked impact stories for nonprofits",
	Long:    "impactstory drafts short donor-facing impact stories from annual reports and recent news, then fact-checks and rewrites them until they pass.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
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

		level := cfg.Logging.Level
		if verbose {
			level = "debug"
		}
		logger, err = logging.New(level)
		if err != nil {
			return err
		}
		logger.Debug("config loaded", zap.String("path", path))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(documentsCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(tokenCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("impactstory", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/impactstory/",
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
		fmt.Println("Edit it to choose a generation backend, then export the API key it names.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration and document index status",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.GetStats(cmd.Context())
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}

		g := cfg.Generation
		fmt.Println("Generation:")
		fmt.Printf("  Backend: %s\n", g.Backend)
		if g.Backend == config.BackendOpenAI {
			fmt.Printf("  Model: %s\n", g.OpenAIModel)
		} else {
			fmt.Printf("  Model: %s\n", g.Model)
		}
		fmt.Printf("  Research: %s (last %d months)\n", cfg.Research.Mode, cfg.Research.WindowMonths)
		if err := cfg.Validate(); err != nil {
			fmt.Printf("  Config problem: %v\n", err)
		} else {
			fmt.Println("  Config: ok")
		}

		fmt.Println("\nAnnual report index:")
		fmt.Printf("  Database: %s\n", db.Path())
		fmt.Printf("  Organizations: %d\n", stats.Subjects)
		fmt.Printf("  Documents: %d\n", stats.Documents)
		fmt.Printf("  Passages: %d\n", stats.Chunks)
		fmt.Printf("  Words: %d\n", stats.Words)
		if stats.Newest != nil {
			fmt.Printf("  Last ingest: %s\n", stats.Newest.Format(time.DateTime))
		}
		return nil
	},
}

func openDB() (*database.DB, error) {
	return database.Open(filepath.Join(cfg.GetDataDir(), dbFile), logger)
}

// buildRunner wires the generation backend, the annual report index and
// the research tools into a pipeline runner. The returned cleanup closes
// the database.
func buildRunner(ctx context.Context, opts ...pipeline.Option) (*pipeline.Runner, func(), error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}

	gen, err := llm.NewGenerator(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() {}
	var store documents.Searcher
	if db, err := openDB(); err != nil {
		logger.Warn("annual report index unavailable", zap.Error(err))
	} else {
		store = db
		cleanup = func() { db.Close() }
	}
	index := documents.NewIndex(store, cfg.Documents.MaxResults, logger)

	tools := pipeline.Tools{Internal: []agent.Tool{index.Tool()}}
	if cfg.Research.Mode == config.ResearchTools {
		ts := research.Toolset{WindowMonths: cfg.Research.WindowMonths, Logger: logger}
		if cfg.Research.NewsFeedURL != "" {
			ts.Feed = research.NewFeedSearcher(cfg.Research.NewsFeedURL, cfg.Research.MaxItems, cfg.Documents.FetchTimeout, logger)
		}
		if cfg.Research.NewsAPI.Enabled {
			ts.NewsAPI = research.NewNewsAPIClient(cfg.Secrets().NewsAPIKey, "", cfg.Research.MaxItems, logger)
		}
		tools.Research = ts.Tools()
	}

	runner, err := pipeline.NewRunner(cfg, gen, tools, logger, opts...)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return runner, cleanup, nil
}

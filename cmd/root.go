// Package cmd wires the gateway's CLI: the HTTP server, the MCP stdio
// server, and one-shot cache operations.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"redgate/internal/analytics"
	"redgate/internal/cache"
	"redgate/internal/config"
	"redgate/internal/output"
	"redgate/internal/redmine"
	"redgate/internal/tools"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui *output.UI

	verbose bool

	buildVersion = "dev"
	buildCommit  = "none"
	buildDate    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "redgate",
	Short: "Conversational gateway for an issue tracker",
	Long: `redgate answers natural-language questions about an issue tracker by
routing them through an LLM with a filtered tool catalogue. It serves a
chat API backed by an in-memory analytics cache, and exposes the same
tools over MCP for local agents.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initDeps)

	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose
}

// newLogger builds the process logger; verbose switches on debug level.
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// gateway bundles the wired collaborators shared by the serve, mcp, and
// cache commands.
type gateway struct {
	cfg      *config.Config
	logger   *slog.Logger
	tracker  *redmine.Client
	engine   *cache.Engine
	analyzer *analytics.Analyzer
	executor *tools.Executor
}

// buildGateway loads configuration and wires the core components. Missing
// required environment is the only startup-fatal condition.
func buildGateway() (*gateway, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := newLogger()

	tracker := redmine.NewClient(cfg.TrackerBaseURL, cfg.TrackerAPIKey)
	engine := cache.New(tracker, cfg.CacheTTL, cfg.CacheMaxIssues, logger)
	analyzer := analytics.New(cfg)
	executor := tools.NewExecutor(tracker, engine, analyzer, logger)

	return &gateway{
		cfg:      cfg,
		logger:   logger,
		tracker:  tracker,
		engine:   engine,
		analyzer: analyzer,
		executor: executor,
	}, nil
}

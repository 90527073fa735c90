package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"rustmend/cmd/rustmend/ui"
	"rustmend/internal/advisor"
	"rustmend/internal/analyzer"
	"rustmend/internal/config"
	"rustmend/internal/diagnostics"
	"rustmend/internal/fixer"
	"rustmend/internal/knowledge"
	"rustmend/internal/sandbox"
	"rustmend/internal/webctx"
)

// Version is stamped by the build.
var Version = "dev"

var (
	// Global flags
	verbose     bool
	projectDir  string
	configPath  string
	fixWarnings bool
	noCache     bool
	watchMode   bool
	maxAttempts int

	logger *zap.Logger
)

// watchDebounce batches rapid editor save bursts into one run.
const watchDebounce = 500 * time.Millisecond

var rootCmd = &cobra.Command{
	Use:   "rustmend",
	Short: "rustmend - autonomous Rust build repair",
	Long: `rustmend rebuilds a Rust project, picks the first compiler error,
and repairs it: known fixes come from a local knowledge cache, new ones
from an LLM advisor enriched with web and project context. Every
candidate is verified in a sandboxed copy of the project before the
real source tree is touched.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := zap.NewProductionConfig()
		if verbose {
			cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = cfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: runFix,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the rustmend version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("rustmend %s\n", Version)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.Flags().StringVarP(&projectDir, "project", "p", ".", "path to the Rust project root")
	rootCmd.Flags().StringVar(&configPath, "config", "", "config file (default <project>/"+config.DefaultFileName+")")
	rootCmd.Flags().BoolVar(&fixWarnings, "fix-warnings", false, "after errors are gone, repair warnings too")
	rootCmd.Flags().BoolVar(&noCache, "no-cache", false, "disable the knowledge cache for this run")
	rootCmd.Flags().BoolVar(&watchMode, "watch", false, "stay running and repair on every source change")
	rootCmd.Flags().IntVar(&maxAttempts, "max-attempts", 0, "override the per-issue attempt budget")

	rootCmd.AddCommand(versionCmd)
}

func runFix(cmd *cobra.Command, args []string) error {
	root, err := filepath.Abs(projectDir)
	if err != nil {
		return fmt.Errorf("resolve project path: %w", err)
	}
	if _, err := os.Stat(filepath.Join(root, "Cargo.toml")); err != nil {
		return fmt.Errorf("%s does not look like a Rust project: no Cargo.toml", root)
	}

	cfgFile := configPath
	if cfgFile == "" {
		cfgFile = filepath.Join(root, config.DefaultFileName)
	}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if maxAttempts > 0 {
		cfg.Retry.MaxAttempts = maxAttempts
	}
	if noCache {
		cfg.Cache.Disabled = true
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	controller, cleanup, err := buildController(ctx, root, cfg)
	defer cleanup()
	if err != nil {
		return err
	}

	fmt.Println(ui.HeaderStyle.Render("rustmend " + Version))
	fmt.Println(ui.DetailStyle.Render("project: " + root))

	run := func(ctx context.Context) error {
		summary, err := controller.Run(ctx)
		report(summary, err)
		return err
	}

	if watchMode {
		fmt.Println(ui.DetailStyle.Render("watching for changes, ctrl-c to stop"))
		return fixer.Watch(ctx, root, watchDebounce, logger, run)
	}
	return run(ctx)
}

// buildController assembles the full pipeline from configuration. The
// returned cleanup closes whatever was opened regardless of how far
// assembly got before an error.
func buildController(ctx context.Context, root string, cfg *config.Config) (*fixer.Controller, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var cache fixer.SolutionCache
	cacheBase := ""
	if !cfg.Cache.Disabled {
		store, err := knowledge.Open(filepath.Join(root, cfg.Cache.Path), logger)
		if err != nil {
			return nil, cleanup, fmt.Errorf("open knowledge cache: %w", err)
		}
		closers = append(closers, func() { _ = store.Close() })
		cache = store
		cacheBase = filepath.Base(cfg.Cache.Path)
	}

	client, err := advisor.NewClient(ctx, cfg.LLM)
	if err != nil {
		return nil, cleanup, err
	}

	var webProvider fixer.ContextProvider
	if cfg.Web.Enabled {
		var opts []webctx.Option
		if cfg.Web.UseBrowser {
			fetcher, err := webctx.NewBrowserFetcher(logger)
			if err != nil {
				return nil, cleanup, fmt.Errorf("start browser fetcher: %w", err)
			}
			closers = append(closers, func() { _ = fetcher.Close() })
			opts = append(opts, webctx.WithFetcher(fetcher))
		}
		webProvider = webctx.New(cfg.Web.MaxResults, cfg.Web.MinContentLength, logger, opts...)
	}

	var exclude []string
	if cacheBase != "" {
		exclude = append(exclude, cacheBase)
	}

	controller := fixer.New(fixer.Options{
		Root: root,
		Collector: diagnostics.NewCollector(diagnostics.Command{
			Binary: cfg.Build.Tool,
			Args:   []string{"build", "--message-format=json"},
			Dir:    root,
		}, logger),
		Advisor:         advisor.New(client, logger),
		ContextProvider: webProvider,
		Verifier:        sandbox.New(root, cfg.Build.Tool, exclude, logger),
		Cache:           cache,
		Symbols:         analyzer.New(root, logger),
		MaxAttempts:     cfg.Retry.MaxAttempts,
		FixWarnings:     fixWarnings,
		Logger:          logger,
	})
	return controller, cleanup, nil
}

// report prints the human-facing outcome; the structured log carries the
// detail.
func report(summary *fixer.Summary, err error) {
	switch {
	case err == nil:
		line := fmt.Sprintf("build clean, %d issue(s) fixed", summary.IssuesFixed)
		if summary.CacheHits > 0 {
			line += fmt.Sprintf(" (%d from cache)", summary.CacheHits)
		}
		fmt.Println(ui.SuccessStyle.Render(line))
	case errors.Is(err, fixer.ErrMaxAttemptsExceeded):
		fmt.Println(ui.FailureStyle.Render("gave up: attempt budget exhausted"))
		fmt.Println(ui.DetailStyle.Render(err.Error()))
	case errors.Is(err, fixer.ErrAdvisorUnusable):
		fmt.Println(ui.FailureStyle.Render("advisor unavailable"))
		fmt.Println(ui.DetailStyle.Render(err.Error()))
	case errors.Is(err, context.Canceled):
		fmt.Println(ui.WarnStyle.Render("interrupted"))
	default:
		fmt.Println(ui.FailureStyle.Render(err.Error()))
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

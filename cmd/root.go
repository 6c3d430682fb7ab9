package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitetree-crawler/internal/api"
	"github.com/JakeFAU/sitetree-crawler/internal/app"
	"github.com/JakeFAU/sitetree-crawler/internal/config"
	"github.com/JakeFAU/sitetree-crawler/internal/logging"
	"github.com/JakeFAU/sitetree-crawler/internal/progress"
	"github.com/JakeFAU/sitetree-crawler/internal/store"
	"github.com/JakeFAU/sitetree-crawler/internal/traversal"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the services commands use. *app.App implements it; tests
// inject one backed by memory stores.
type App interface {
	Close()
	Config() config.Config
	Logger() *zap.Logger
	Nodes() store.NodeRepository
	Progress() *progress.Store
	TraversalOptions() (traversal.Options, error)
	NewEngine(opts traversal.Options) (*traversal.Engine, error)
	StatusServer() *api.Server
}

// appFactory builds the App once config and logger are ready.
type appFactory func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error)

func defaultAppFactory(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	return app.New(ctx, cfg, logger, app.Overrides{})
}

type rootOptions struct {
	configFile string
	logLevel   string
}

// newRootCmd creates the root command; newApp builds services for every subcommand.
func newRootCmd(newApp appFactory) *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "sitetree-crawler",
		Short: "Incremental multi-site crawler that records each site as a tree of pages.",
		Long: `sitetree-crawler walks a fixed set of websites and stores every page it reaches
as a node whose parent is the page that first linked to it. Crawls checkpoint
their frontier so an interrupted run resumes where it stopped.`,
		SilenceUsage: true,

		// Build and inject the application before any subcommand runs.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if opts.logLevel != "" {
				cfg.Logging.Level = opts.logLevel
			}
			logger, err := logging.New(logging.Options{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
			if err != nil {
				return err
			}
			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				_ = logger.Sync()
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		// Shut services down once the subcommand returns.
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "YAML config file (defaults and CRAWLER_* env vars apply without it)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "minimum log level (debug, info, warn, error)")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newProgressCmd())
	cmd.AddCommand(newDBCmd())
	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point. SIGINT and SIGTERM cancel the command's
// context so a running crawl checkpoints and exits cleanly.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd(defaultAppFactory).ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

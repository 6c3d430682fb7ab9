package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitetree-crawler/internal/traversal"
)

type crawlOptions struct {
	maxDepth        int
	threads         int
	delay           time.Duration
	sites           []string
	strategy        string
	noCheck         bool
	bfsDepth        int
	maxWorkers      int
	maxURLsPerDepth int
	saveInterval    int
	resume          bool
	statusAddr      string
}

// newCrawlCmd creates the 'crawl' subcommand.
func newCrawlCmd() *cobra.Command {
	opts := &crawlOptions{}
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawl the configured sites",
		Long: `Crawls every configured site, or only those named with --site, using the
selected traversal strategy. Interrupting the command (Ctrl-C) stops new
fetches, saves a checkpoint and exits; run again with --resume to continue.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawl(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.IntVar(&opts.maxDepth, "max-depth", 0, "maximum link depth from each start url")
	f.IntVar(&opts.threads, "threads", 0, "sites crawled concurrently")
	f.DurationVar(&opts.delay, "delay", 0, "pause each worker keeps between requests")
	f.StringArrayVar(&opts.sites, "site", nil, "crawl only this site (by name, repeatable)")
	f.StringVar(&opts.strategy, "strategy", "", "traversal strategy: dfs, bfs, hybrid, parallel-hybrid")
	f.BoolVar(&opts.noCheck, "no-check", false, "leave already stored nodes untouched instead of updating them")
	f.IntVar(&opts.bfsDepth, "bfs-depth", 0, "last depth crawled breadth-first by the hybrid strategies")
	f.IntVar(&opts.maxWorkers, "max-workers", 0, "workers per site for parallel-hybrid")
	f.IntVar(&opts.maxURLsPerDepth, "max-urls-per-depth", 0, "cap on urls dispatched per breadth-first level (0 = unlimited)")
	f.IntVar(&opts.saveInterval, "save-interval", 0, "checkpoint after this many processed urls")
	f.BoolVar(&opts.resume, "resume", false, "resume each site from its saved checkpoint")
	f.StringVar(&opts.statusAddr, "status-addr", "", "serve the status api on this address while crawling")
	return cmd
}

// applyFlags overrides traversal options with the flags the user set.
func (o *crawlOptions) applyFlags(cmd *cobra.Command, opts traversal.Options) (traversal.Options, error) {
	f := cmd.Flags()
	if f.Changed("strategy") {
		s, err := traversal.ParseStrategy(o.strategy)
		if err != nil {
			return opts, err
		}
		opts.Strategy = s
	}
	if f.Changed("max-depth") {
		opts.MaxDepth = o.maxDepth
	}
	if f.Changed("threads") {
		opts.MaxThreads = o.threads
	}
	if f.Changed("delay") {
		opts.Delay = o.delay
	}
	if f.Changed("bfs-depth") {
		opts.BFSDepth = o.bfsDepth
	}
	if f.Changed("max-workers") {
		opts.MaxWorkers = o.maxWorkers
	}
	if f.Changed("max-urls-per-depth") {
		opts.MaxURLsPerDepth = o.maxURLsPerDepth
	}
	if f.Changed("save-interval") {
		opts.SaveInterval = o.saveInterval
	}
	if f.Changed("no-check") {
		opts.UpdateExisting = !o.noCheck
	}
	if f.Changed("resume") {
		opts.Resume = o.resume
	}
	return opts, nil
}

func runCrawl(cmd *cobra.Command, o *crawlOptions) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	logger := appInstance.Logger()
	cfg := appInstance.Config()

	sites, err := cfg.SelectSites(o.sites)
	if err != nil {
		return err
	}
	opts, err := appInstance.TraversalOptions()
	if err != nil {
		return err
	}
	if opts, err = o.applyFlags(cmd, opts); err != nil {
		return err
	}
	engine, err := appInstance.NewEngine(opts)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	addr := cfg.Status.Addr
	if cmd.Flags().Changed("status-addr") {
		addr = o.statusAddr
	}
	if addr != "" && (cfg.Status.Enabled || cmd.Flags().Changed("status-addr")) {
		serverCtx, stopServer := context.WithCancel(ctx)
		defer stopServer()
		server := appInstance.StatusServer()
		go func() {
			if err := server.ListenAndServe(serverCtx, addr); err != nil {
				logger.Error("Status server stopped", zap.Error(err))
			}
		}()
	}

	summary, err := engine.Run(ctx, sites)
	if err != nil {
		return fmt.Errorf("run crawler: %w", err)
	}
	if summary.Interrupted {
		logger.Warn("Crawl interrupted; rerun with --resume to continue")
	}
	for _, s := range summary.Sites {
		if s.State == traversal.StateFailed {
			logger.Error("Site failed", zap.String("site", s.Name), zap.String("error", s.Error))
		}
	}
	logger.Info("Crawl command finished",
		zap.Int("sites", len(summary.Sites)),
		zap.Int64("succeeded", summary.Succeeded),
		zap.Int64("failed", summary.Failed),
		zap.Duration("duration", summary.Duration),
	)
	return nil
}

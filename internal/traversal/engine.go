package traversal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/sitetree-crawler/internal/crawler"
	"github.com/JakeFAU/sitetree-crawler/internal/decode"
	"github.com/JakeFAU/sitetree-crawler/internal/progress"
	"github.com/JakeFAU/sitetree-crawler/internal/speed"
	"github.com/JakeFAU/sitetree-crawler/internal/store"
	"github.com/JakeFAU/sitetree-crawler/internal/visited"
)

// ProgressStore persists per-domain checkpoints. *progress.Store implements it.
type ProgressStore interface {
	Load(ctx context.Context, domain string) progress.Entry
	Save(ctx context.Context, domain string, entry progress.Entry) error
}

// Metrics receives engine-level observations on top of per-page samples.
type Metrics interface {
	crawler.Recorder
	ObservePacing(domain string, waited time.Duration)
	IncCheckpoint(domain string)
	AddActiveWorkers(delta int)
}

// Deps are the collaborators shared by every site session. Nodes and
// Sessions are required.
type Deps struct {
	Nodes     store.NodeRepository
	Sessions  crawler.SessionFactory
	Progress  ProgressStore
	Monitor   *speed.Monitor
	Metrics   Metrics
	Publisher crawler.Publisher
	Decoder   *decode.Decoder
	Clock     crawler.Clock
	Logger    *zap.Logger
}

// Engine crawls a set of sites. One Engine owns one visited registry, so
// independent engines never share state.
type Engine struct {
	opts     Options
	deps     Deps
	registry *visited.Registry
	logger   *zap.Logger
}

// New validates opts and deps.
func New(opts Options, deps Deps) (*Engine, error) {
	opts = opts.withDefaults()
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid traversal options: %w", err)
	}
	strategy, _ := ParseStrategy(string(opts.Strategy))
	opts.Strategy = strategy
	if deps.Nodes == nil {
		return nil, errors.New("traversal requires a node repository")
	}
	if deps.Sessions == nil {
		return nil, errors.New("traversal requires a fetch session factory")
	}
	if deps.Decoder == nil {
		deps.Decoder = decode.New(nil)
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		opts:     opts,
		deps:     deps,
		registry: visited.New(),
		logger:   logger.Named("engine"),
	}, nil
}

// Options returns the effective options.
func (e *Engine) Options() Options { return e.opts }

// Registry exposes the engine's visited registry.
func (e *Engine) Registry() *visited.Registry { return e.registry }

// Run crawls sites concurrently, at most MaxThreads at a time, and blocks
// until all finish or ctx is canceled. Per-URL and per-site failures are
// reported in the Summary; only an empty site list is an error.
func (e *Engine) Run(ctx context.Context, sites []crawler.Site) (Summary, error) {
	if len(sites) == 0 {
		return Summary{}, errors.New("no sites to crawl")
	}
	start := time.Now()
	e.logger.Info("Starting crawl",
		zap.String("strategy", string(e.opts.Strategy)),
		zap.Int("sites", len(sites)),
		zap.Int("max_depth", e.opts.MaxDepth),
		zap.Int("max_threads", e.opts.MaxThreads),
		zap.Bool("resume", e.opts.Resume),
	)

	logCtx, stopLog := context.WithCancel(ctx)
	defer stopLog()
	if e.deps.Monitor != nil && e.opts.SpeedLogInterval > 0 {
		go e.deps.Monitor.LogUpdates(logCtx, e.opts.SpeedLogInterval, e.opts.SpeedWindow, e.logger)
	}

	results := make([]SiteSummary, len(sites))
	var g errgroup.Group
	g.SetLimit(e.opts.MaxThreads)
	for i, site := range sites {
		g.Go(func() error {
			results[i] = e.runSite(ctx, site)
			return nil
		})
	}
	_ = g.Wait()

	summary := newSummary(results, time.Since(start), ctx.Err() != nil)
	e.logger.Info("Crawl finished",
		zap.Int64("processed", summary.Processed),
		zap.Int64("succeeded", summary.Succeeded),
		zap.Int64("failed", summary.Failed),
		zap.Int64("skipped", summary.Skipped),
		zap.Int64("stored", summary.Stored),
		zap.Bool("interrupted", summary.Interrupted),
		zap.Duration("duration", summary.Duration),
	)
	return summary, nil
}

func (e *Engine) runSite(ctx context.Context, site crawler.Site) SiteSummary {
	start := time.Now()
	s, err := e.newSiteSession(site)
	if err != nil {
		e.logger.Error("Site setup failed", zap.String("site", site.Name), zap.Error(err))
		return SiteSummary{Name: site.Name, Domain: site.Domain, State: StateFailed, Error: err.Error()}
	}
	s.state = StateRunning
	s.logger.Info("Starting site crawl", zap.String("site", site.Name), zap.String("start_url", site.StartURL))

	runErr := s.run(ctx)
	if runErr != nil {
		s.state = StateFailed
		s.logger.Error("Site crawl failed", zap.Error(runErr))
	} else if ctx.Err() != nil {
		s.state = StateInterrupted
	} else {
		s.state = StateCompleted
	}
	s.checkpoint(ctx, "final")

	sum := s.summary(time.Since(start))
	if runErr != nil {
		sum.Error = runErr.Error()
	}
	s.logger.Info("Site crawl finished",
		zap.String("state", string(sum.State)),
		zap.Int64("processed", sum.Processed),
		zap.Int64("succeeded", sum.Succeeded),
		zap.Int64("failed", sum.Failed),
		zap.Int("pending", sum.Pending),
	)
	return sum
}

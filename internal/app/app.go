// Package app initializes and holds long-lived crawl services, acting as a
// dependency injection container for the CLI commands.
package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitetree-crawler/internal/api"
	"github.com/JakeFAU/sitetree-crawler/internal/clock/system"
	"github.com/JakeFAU/sitetree-crawler/internal/config"
	"github.com/JakeFAU/sitetree-crawler/internal/crawler"
	"github.com/JakeFAU/sitetree-crawler/internal/decode"
	collyfetcher "github.com/JakeFAU/sitetree-crawler/internal/fetcher/colly"
	iduuid "github.com/JakeFAU/sitetree-crawler/internal/id/uuid"
	"github.com/JakeFAU/sitetree-crawler/internal/metrics"
	"github.com/JakeFAU/sitetree-crawler/internal/progress"
	pubsubpublisher "github.com/JakeFAU/sitetree-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/sitetree-crawler/internal/speed"
	"github.com/JakeFAU/sitetree-crawler/internal/storage"
	"github.com/JakeFAU/sitetree-crawler/internal/storage/gcs"
	"github.com/JakeFAU/sitetree-crawler/internal/storage/local"
	"github.com/JakeFAU/sitetree-crawler/internal/storage/memory"
	"github.com/JakeFAU/sitetree-crawler/internal/storage/postgres"
	"github.com/JakeFAU/sitetree-crawler/internal/storage/sqlite"
	"github.com/JakeFAU/sitetree-crawler/internal/store"
	"github.com/JakeFAU/sitetree-crawler/internal/telemetry"
	"github.com/JakeFAU/sitetree-crawler/internal/traversal"
)

// App holds the shared, long-lived services of one command invocation.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	nodes     store.NodeRepository
	progress  *progress.Store
	monitor   *speed.Monitor
	fetcher   *collyfetcher.Fetcher
	publisher crawler.Publisher
	clock     *system.Clock
	closers   []func() error
}

// Overrides replace services New would otherwise build from config. Tests
// use them to avoid network dependencies.
type Overrides struct {
	Nodes     store.NodeRepository
	Snapshot  storage.Provider
	Publisher crawler.Publisher
}

// New builds every service the config asks for. It fails fast when a
// backend cannot be reached and releases anything already opened.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, overrides Overrides) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger, clock: system.New()}
	if err := a.init(ctx, overrides); err != nil {
		a.Close()
		return nil, err
	}
	logger.Info("Application services initialized",
		zap.String("db_driver", cfg.DB.Driver),
		zap.String("progress", a.progress.Location()),
		zap.Bool("publisher", a.publisher != nil),
	)
	return a, nil
}

func (a *App) init(ctx context.Context, overrides Overrides) error {
	if a.cfg.Tracing.Enabled {
		tp, err := telemetry.InitTracerProvider(ctx, telemetry.TracingOptions{
			ServiceName: a.cfg.Tracing.ServiceName,
			SampleRatio: a.cfg.Tracing.SampleRatio,
		})
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		a.closers = append(a.closers, func() error {
			return tp.Shutdown(context.Background())
		})
	}

	nodes := overrides.Nodes
	if nodes == nil {
		var err error
		nodes, err = a.openNodes(ctx)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() error { nodes.Close(); return nil })
	}
	a.nodes = nodes
	if a.cfg.DB.AutoMigrate {
		if err := a.nodes.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("ensure node schema: %w", err)
		}
	}

	snapshot := overrides.Snapshot
	if snapshot == nil {
		var err error
		snapshot, err = a.openSnapshot(ctx)
		if err != nil {
			return err
		}
	}
	a.progress = progress.New(snapshot, a.clock, a.logger.Named("progress"))

	a.publisher = overrides.Publisher
	if a.publisher == nil && a.cfg.PubSub.Topic != "" {
		pub, err := pubsubpublisher.New(ctx, a.cfg.PubSub.ProjectID)
		if err != nil {
			return fmt.Errorf("init publisher: %w", err)
		}
		a.closers = append(a.closers, pub.Close)
		a.publisher = pub
	}

	a.monitor = speed.NewMonitor(a.clock, speed.Config{
		TimestampCapacity:     a.cfg.Speed.TimestampCapacity,
		LatencyCapacity:       a.cfg.Speed.LatencyCapacity,
		DomainLatencyCapacity: a.cfg.Speed.DomainLatencyCapacity,
	})
	a.fetcher = collyfetcher.New(collyfetcher.Config{
		UserAgent:      a.cfg.Crawler.UserAgent,
		Timeout:        a.cfg.Crawler.RequestTimeout,
		MaxRetries:     a.cfg.Crawler.MaxRetries,
		RetryBaseDelay: a.cfg.Crawler.RetryBaseDelay,
		RetryMaxDelay:  a.cfg.Crawler.RetryMaxDelay,
		MaxBodySize:    a.cfg.Crawler.MaxBodyBytes,
	}, a.logger.Named("fetcher"))
	return nil
}

func (a *App) openNodes(ctx context.Context) (store.NodeRepository, error) {
	ids := iduuid.New()
	db := a.cfg.DB
	switch db.Driver {
	case "postgres":
		a.logger.Info("Connecting to PostgreSQL", zap.String("table", db.Table))
		s, err := postgres.NewNodeStore(ctx, postgres.Config{
			DSN:      db.DSN,
			Table:    db.Table,
			MaxConns: db.MaxConns,
			MinConns: db.MinConns,
		}, ids, a.clock)
		if err != nil {
			return nil, fmt.Errorf("init postgres node store: %w", err)
		}
		return s, nil
	case "sqlite":
		a.logger.Info("Opening SQLite node store", zap.String("path", db.DSN))
		s, err := sqlite.Open(ctx, db.DSN, db.Table, ids, a.clock)
		if err != nil {
			return nil, fmt.Errorf("init sqlite node store: %w", err)
		}
		return s, nil
	case "memory":
		a.logger.Warn("Using in-memory node store; nodes are discarded on exit")
		return memory.NewNodeStore(ids, a.clock), nil
	default:
		return nil, fmt.Errorf("unknown db driver: %s", db.Driver)
	}
}

func (a *App) openSnapshot(ctx context.Context) (storage.Provider, error) {
	p := a.cfg.Progress
	switch p.Backend {
	case "file":
		provider, err := local.New(local.Config{Path: p.Path})
		if err != nil {
			return nil, fmt.Errorf("init progress file: %w", err)
		}
		return provider, nil
	case "gcs":
		provider, err := gcs.Dial(ctx, gcs.Config{Bucket: p.GCSBucket, Object: p.GCSObject}, a.logger.Named("gcs"))
		if err != nil {
			return nil, fmt.Errorf("init progress object: %w", err)
		}
		a.closers = append(a.closers, provider.Close)
		return provider, nil
	default:
		return nil, fmt.Errorf("unknown progress backend: %s", p.Backend)
	}
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Nodes returns the node repository.
func (a *App) Nodes() store.NodeRepository { return a.nodes }

// Progress returns the checkpoint store.
func (a *App) Progress() *progress.Store { return a.progress }

// Monitor returns the speed monitor shared by the engine and the status server.
func (a *App) Monitor() *speed.Monitor { return a.monitor }

// TraversalOptions maps the crawler config section onto engine options.
func (a *App) TraversalOptions() (traversal.Options, error) {
	c := a.cfg.Crawler
	strategy, err := traversal.ParseStrategy(c.Strategy)
	if err != nil {
		return traversal.Options{}, err
	}
	return traversal.Options{
		Strategy:         strategy,
		MaxDepth:         c.MaxDepth,
		BFSDepth:         c.BFSDepth,
		MaxThreads:       c.MaxThreads,
		MaxWorkers:       c.MaxWorkers,
		MaxURLsPerDepth:  c.MaxURLsPerDepth,
		BatchSize:        c.BatchSize,
		Delay:            c.Delay,
		SaveInterval:     c.SaveInterval,
		UpdateExisting:   c.UpdateExisting,
		Resume:           c.Resume,
		Topic:            a.cfg.PubSub.Topic,
		SpeedLogInterval: a.cfg.Speed.LogInterval,
		SpeedWindow:      a.cfg.Speed.Window,
	}, nil
}

// NewEngine builds a traversal engine over the app's services.
func (a *App) NewEngine(opts traversal.Options) (*traversal.Engine, error) {
	var pub crawler.Publisher
	if opts.Topic != "" {
		pub = a.publisher
	}
	e, err := traversal.New(opts, traversal.Deps{
		Nodes:     a.nodes,
		Sessions:  a.fetcher,
		Progress:  a.progress,
		Monitor:   a.monitor,
		Metrics:   metrics.NewRecorder(),
		Publisher: pub,
		Decoder:   decode.New(a.cfg.Crawler.FallbackEncodings),
		Clock:     a.clock,
		Logger:    a.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("init traversal engine: %w", err)
	}
	return e, nil
}

// StatusServer builds the read-only status server.
func (a *App) StatusServer() *api.Server {
	return api.NewServer(a.monitor, a.progress, api.Options{APIKey: a.cfg.Status.APIKey}, a.logger.Named("api"))
}

// Close releases services in reverse order of creation and flushes the logger.
func (a *App) Close() {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("Error closing application services", zap.Error(err))
	}
	_ = a.logger.Sync()
}

package traversal

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitetree-crawler/internal/crawler"
	"github.com/JakeFAU/sitetree-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/sitetree-crawler/internal/progress"
	"github.com/JakeFAU/sitetree-crawler/internal/urlcanon"
	"github.com/JakeFAU/sitetree-crawler/internal/worker"
)

// siteSession is the per-site crawl state: frontier bookkeeping, counters
// and the checkpoint cursor. Frontier structures are owned by the strategy
// goroutine; everything here is safe for concurrent workers.
type siteSession struct {
	engine   *Engine
	site     crawler.Site
	domain   string
	pipeline *crawler.Pipeline
	ledger   *ledger
	logger   *zap.Logger
	state    State

	processed, succeeded, failed, stored, skipped, dropped atomic.Int64
	deepest                                                atomic.Int64

	cpMu      sync.Mutex
	sinceSave int
	phase     progress.Phase
	depth     int
}

func (e *Engine) newSiteSession(site crawler.Site) (*siteSession, error) {
	if site.StartURL == "" {
		return nil, fmt.Errorf("site %q has no start url", site.Name)
	}
	if site.Domain == "" {
		site.Domain = urlcanon.Host(site.StartURL)
	}
	pipeline, err := crawler.NewPipeline(crawler.PipelineConfig{
		Site:           site,
		MaxDepth:       e.opts.MaxDepth,
		UpdateExisting: e.opts.UpdateExisting,
		Topic:          e.opts.Topic,
	}, crawler.PipelineDeps{
		Registry:  e.registry,
		Nodes:     e.deps.Nodes,
		Decoder:   e.deps.Decoder,
		Monitor:   e.deps.Monitor,
		Recorder:  e.recorder(),
		Publisher: e.deps.Publisher,
		Clock:     e.deps.Clock,
		Logger:    e.logger,
	})
	if err != nil {
		return nil, err
	}
	return &siteSession{
		engine:   e,
		site:     site,
		domain:   pipeline.Domain(),
		pipeline: pipeline,
		ledger:   newLedger(),
		logger:   e.logger.With(zap.String("domain", pipeline.Domain())),
		state:    StateIdle,
		phase:    progress.PhaseBreadth,
	}, nil
}

func (e *Engine) recorder() crawler.Recorder {
	if e.deps.Metrics == nil {
		return nil
	}
	return e.deps.Metrics
}

func (s *siteSession) newWorker(id int) *worker.Worker {
	var observer ratelimit.DelayObserver
	if m := s.engine.deps.Metrics; m != nil {
		observer = m.ObservePacing
	}
	pacer := ratelimit.New(ratelimit.Config{Delay: s.engine.opts.Delay, Observer: observer})
	return worker.New(id, s.pipeline, s.engine.deps.Sessions, pacer, s.logger)
}

// run restores the frontier and dispatches it to the configured strategy.
func (s *siteSession) run(ctx context.Context) error {
	seeds, err := s.restore(ctx)
	if err != nil {
		return err
	}
	opts := s.engine.opts
	switch opts.Strategy {
	case StrategyDFS:
		s.setPhase(progress.PhaseDepth)
		s.sequential(func(w *worker.Worker) { s.runDFS(ctx, w, seeds) })
	case StrategyBFS:
		s.sequential(func(w *worker.Worker) { s.runBFS(ctx, w, seeds, opts.MaxDepth) })
	case StrategyHybrid:
		s.sequential(func(w *worker.Worker) { s.runHybrid(ctx, w, seeds) })
	case StrategyParallelHybrid:
		s.runParallelHybrid(ctx, seeds)
	default:
		return fmt.Errorf("unsupported strategy %q", opts.Strategy)
	}
	return nil
}

func (s *siteSession) sequential(fn func(w *worker.Worker)) {
	w := s.newWorker(0)
	defer w.Close()
	fn(w)
}

// restore seeds the registry and returns the initial frontier. A resumed run
// restarts from the checkpointed pending items; otherwise the start URL is
// the only seed.
func (s *siteSession) restore(ctx context.Context) ([]crawler.WorkItem, error) {
	start, err := urlcanon.Canonicalize(s.site.StartURL, s.pipeline.Excluded())
	if err != nil {
		return nil, fmt.Errorf("start url: %w", err)
	}
	if !s.engine.opts.Resume {
		return s.admitAll([]crawler.WorkItem{{URL: start}}), nil
	}

	var entry progress.Entry
	if s.engine.deps.Progress != nil {
		entry = s.engine.deps.Progress.Load(ctx, s.domain)
	}
	pending := fromPending(entry.Pending)
	skip := make(map[string]struct{}, len(pending)+1)
	for _, p := range pending {
		skip[p.URL] = struct{}{}
	}
	if len(pending) == 0 {
		// Without a saved frontier the start URL is fetched again so its
		// unvisited links are rediscovered.
		skip[start] = struct{}{}
	}
	seeded := s.seed(entry.VisitedURLs, skip)
	stored, err := s.engine.deps.Nodes.URLsForDomain(ctx, s.domain)
	if err != nil {
		s.logger.Warn("Could not load stored urls", zap.Error(err))
	}
	seeded += s.seed(stored, skip)

	if entry.Phase != "" {
		s.setPhase(entry.Phase)
	}
	s.cpMu.Lock()
	s.depth = entry.CurrentDepth
	s.cpMu.Unlock()

	s.logger.Info("Resuming crawl",
		zap.Int("visited", seeded),
		zap.Int("pending", len(pending)),
		zap.String("phase", string(entry.Phase)),
	)
	if len(pending) == 0 {
		return s.admitAll([]crawler.WorkItem{{URL: start}}), nil
	}
	return s.admitAll(pending), nil
}

func (s *siteSession) seed(urls []string, skip map[string]struct{}) int {
	keep := make([]string, 0, len(urls))
	for _, u := range urls {
		if _, ok := skip[u]; !ok {
			keep = append(keep, u)
		}
	}
	return s.engine.registry.Seed(s.domain, keep)
}

// admit registers a discovered item unless it is already claimed or pending.
func (s *siteSession) admit(item crawler.WorkItem) bool {
	if s.engine.registry.Contains(s.domain, item.URL) {
		return false
	}
	return s.ledger.add(item)
}

func (s *siteSession) admitAll(items []crawler.WorkItem) []crawler.WorkItem {
	out := make([]crawler.WorkItem, 0, len(items))
	for _, item := range items {
		if s.admit(item) {
			out = append(out, item)
		}
	}
	return out
}

// execute runs one item on w and settles it.
func (s *siteSession) execute(ctx context.Context, w *worker.Worker, item crawler.WorkItem) []crawler.WorkItem {
	m := s.engine.deps.Metrics
	if m != nil {
		m.AddActiveWorkers(1)
	}
	out := w.Process(ctx, item)
	if m != nil {
		m.AddActiveWorkers(-1)
	}
	return s.settle(ctx, item, out)
}

// settle clears item from the ledger, updates counters and returns the
// admitted children. Canceled items stay pending for the next run.
func (s *siteSession) settle(ctx context.Context, item crawler.WorkItem, out crawler.Outcome) []crawler.WorkItem {
	if out.Status == crawler.OutcomeCanceled {
		return nil
	}
	s.ledger.done(item.URL)
	s.count(out)

	var children []crawler.WorkItem
	if out.Status == crawler.OutcomeStored && len(out.Links) > 0 {
		parent := out.NodeID
		for _, link := range out.Links {
			child := crawler.WorkItem{URL: link, ParentID: &parent, Depth: item.Depth + 1}
			if s.admit(child) {
				children = append(children, child)
			}
		}
	}
	s.maybeCheckpoint(ctx)
	return children
}

func (s *siteSession) count(out crawler.Outcome) {
	if out.Status == crawler.OutcomeSkipped {
		s.skipped.Add(1)
		if out.Err != nil {
			s.logger.Debug("Skipped url", zap.String("url", out.URL), zap.Int("depth", out.Depth), zap.Error(out.Err))
		}
		return
	}
	s.processed.Add(1)
	if out.Persisted() {
		s.stored.Add(1)
	}
	if out.Status == crawler.OutcomeStored && out.StatusCode >= 200 && out.StatusCode < 300 {
		s.succeeded.Add(1)
	} else {
		s.failed.Add(1)
	}
	for {
		cur := s.deepest.Load()
		if int64(out.Depth) <= cur || s.deepest.CompareAndSwap(cur, int64(out.Depth)) {
			break
		}
	}
}

// capLevel applies MaxURLsPerDepth to one breadth-first level.
func (s *siteSession) capLevel(level []crawler.WorkItem) []crawler.WorkItem {
	limit := s.engine.opts.MaxURLsPerDepth
	if limit <= 0 || len(level) <= limit {
		return level
	}
	for _, item := range level[limit:] {
		s.ledger.done(item.URL)
	}
	s.dropped.Add(int64(len(level) - limit))
	s.logger.Info("Depth limit reached, dropping urls",
		zap.Int("depth", level[0].Depth),
		zap.Int("kept", limit),
		zap.Int("dropped", len(level)-limit),
	)
	return level[:limit]
}

func (s *siteSession) setPhase(p progress.Phase) {
	s.cpMu.Lock()
	s.phase = p
	s.cpMu.Unlock()
}

func (s *siteSession) setDepth(d int) {
	s.cpMu.Lock()
	s.depth = d
	s.cpMu.Unlock()
}

// raiseDepth records d as the checkpoint depth when it is deeper than the
// current one. Depth-first phases report the deepest item dispatched.
func (s *siteSession) raiseDepth(d int) {
	s.cpMu.Lock()
	s.depth = max(s.depth, d)
	s.cpMu.Unlock()
}

func (s *siteSession) maybeCheckpoint(ctx context.Context) {
	interval := s.engine.opts.SaveInterval
	if interval <= 0 {
		return
	}
	s.cpMu.Lock()
	s.sinceSave++
	due := s.sinceSave >= interval
	s.cpMu.Unlock()
	if due {
		s.checkpoint(ctx, "interval")
	}
}

// checkpoint saves visited URLs and the pending frontier. URLs still pending
// are left out of visitedUrls so a resumed run fetches them again.
func (s *siteSession) checkpoint(ctx context.Context, reason string) {
	store := s.engine.deps.Progress
	if store == nil {
		return
	}
	s.cpMu.Lock()
	s.sinceSave = 0
	phase, depth := s.phase, s.depth
	s.cpMu.Unlock()

	pending := s.ledger.snapshot()
	inFlight := make(map[string]struct{}, len(pending))
	for _, p := range pending {
		inFlight[p.URL] = struct{}{}
	}
	all := s.engine.registry.Snapshot(s.domain)
	visited := make([]string, 0, len(all))
	for _, u := range all {
		if _, ok := inFlight[u]; !ok {
			visited = append(visited, u)
		}
	}

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	err := store.Save(saveCtx, s.domain, progress.Entry{
		VisitedURLs:  visited,
		CurrentDepth: depth,
		Phase:        phase,
		Pending:      pending,
	})
	if err != nil {
		s.logger.Error("Checkpoint failed", zap.String("reason", reason), zap.Error(err))
		return
	}
	if m := s.engine.deps.Metrics; m != nil {
		m.IncCheckpoint(s.domain)
	}
	s.logger.Debug("Checkpoint saved",
		zap.String("reason", reason),
		zap.Int("visited", len(visited)),
		zap.Int("pending", len(pending)),
		zap.Int("depth", depth),
	)
}

func (s *siteSession) summary(d time.Duration) SiteSummary {
	return SiteSummary{
		Name:         s.site.Name,
		Domain:       s.domain,
		State:        s.state,
		Processed:    s.processed.Load(),
		Succeeded:    s.succeeded.Load(),
		Failed:       s.failed.Load(),
		Stored:       s.stored.Load(),
		Skipped:      s.skipped.Load(),
		Dropped:      s.dropped.Load(),
		DeepestDepth: int(s.deepest.Load()),
		Pending:      s.ledger.len(),
		Duration:     d,
	}
}

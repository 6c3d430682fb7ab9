package traversal

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitetree-crawler/internal/crawler"
	"github.com/JakeFAU/sitetree-crawler/internal/dispatcher"
	"github.com/JakeFAU/sitetree-crawler/internal/progress"
	"github.com/JakeFAU/sitetree-crawler/internal/worker"
)

// runDFS drains a stack frontier; children are pushed so the first link is
// explored first, matching recursive depth-first order.
func (s *siteSession) runDFS(ctx context.Context, w *worker.Worker, seeds []crawler.WorkItem) {
	frontier := newStack()
	pushAll(frontier, seeds)
	for frontier.Len() > 0 {
		if ctx.Err() != nil {
			return
		}
		item, _ := frontier.Pop()
		s.raiseDepth(item.Depth)
		pushAll(frontier, s.execute(ctx, w, item))
	}
}

// runBFS processes whole levels up to lastDepth. Every item of a level is
// dispatched before any item of the next one. Admitted items deeper than
// lastDepth are returned unprocessed.
func (s *siteSession) runBFS(ctx context.Context, w *worker.Worker, seeds []crawler.WorkItem, lastDepth int) []crawler.WorkItem {
	levels := newLevels(seeds)
	for {
		depth, level, ok := levels.next()
		if !ok {
			return nil
		}
		if depth > lastDepth {
			return append(level, levels.rest()...)
		}
		s.setDepth(depth)
		level = s.capLevel(level)
		frontier := newQueue(level)
		for frontier.Len() > 0 {
			if ctx.Err() != nil {
				return nil
			}
			item, _ := frontier.Pop()
			levels.add(s.execute(ctx, w, item))
		}
		s.checkpoint(ctx, "level")
		s.logger.Info("Finished level", zap.Int("depth", depth), zap.Int("urls", len(level)))
	}
}

// runHybrid crawls breadth-first through BFSDepth and then depth-first from
// every frontier node beyond it.
func (s *siteSession) runHybrid(ctx context.Context, w *worker.Worker, seeds []crawler.WorkItem) {
	deep := seeds
	if s.currentPhase() != progress.PhaseDepth {
		deep = s.runBFS(ctx, w, seeds, s.bfsLimit())
		if ctx.Err() != nil {
			return
		}
		s.switchToDepth(ctx, len(deep))
	}
	s.runDFS(ctx, w, deep)
}

// runParallelHybrid drains each breadth-first level in bounded batches on a
// worker pool. Links found beyond BFSDepth are submitted at once as
// depth-first continuations that run alongside the remaining levels.
func (s *siteSession) runParallelHybrid(ctx context.Context, seeds []crawler.WorkItem) {
	opts := s.engine.opts
	workers := make([]*worker.Worker, 0, opts.MaxWorkers)
	for i := range opts.MaxWorkers {
		workers = append(workers, s.newWorker(i))
	}
	var active dispatcher.ActiveObserver
	if m := s.engine.deps.Metrics; m != nil {
		active = m.AddActiveWorkers
	}
	pool := dispatcher.New(workers, active)
	defer pool.Close()

	deep := pool.NewBatch()
	limit := s.bfsLimit()
	levels := newLevels(seeds)
	if s.currentPhase() == progress.PhaseDepth {
		for _, item := range levels.rest() {
			s.dispatchDeep(ctx, deep, item)
		}
	}

	for ctx.Err() == nil {
		depth, level, ok := levels.next()
		if !ok {
			break
		}
		if depth > limit {
			for _, item := range append(level, levels.rest()...) {
				s.dispatchDeep(ctx, deep, item)
			}
			break
		}
		s.setDepth(depth)
		level = s.capLevel(level)

		var mu sync.Mutex
		var next []crawler.WorkItem
		for start := 0; start < len(level) && ctx.Err() == nil; start += opts.BatchSize {
			end := min(start+opts.BatchSize, len(level))
			batch := pool.NewBatch()
			for _, item := range level[start:end] {
				err := batch.Submit(ctx, item, func(out crawler.Outcome) {
					for _, child := range s.settle(ctx, item, out) {
						if child.Depth <= limit {
							mu.Lock()
							next = append(next, child)
							mu.Unlock()
							continue
						}
						s.dispatchDeep(ctx, deep, child)
					}
				})
				if err != nil {
					s.logger.Warn("Could not dispatch url", zap.String("url", item.URL), zap.Error(err))
				}
			}
			batch.Wait()
		}
		levels.add(next)
		s.checkpoint(ctx, "level")
		s.logger.Info("Finished level", zap.Int("depth", depth), zap.Int("urls", len(level)))
	}

	if ctx.Err() == nil && s.currentPhase() != progress.PhaseDepth {
		s.switchToDepth(ctx, pool.Size())
	}
	deep.Wait()
}

// dispatchDeep submits item to the deep batch; its children follow the same
// path, so each subtree is explored in parallel up to MaxDepth.
func (s *siteSession) dispatchDeep(ctx context.Context, deep *dispatcher.Batch, item crawler.WorkItem) {
	if ctx.Err() != nil {
		return
	}
	s.raiseDepth(item.Depth)
	err := deep.Submit(ctx, item, func(out crawler.Outcome) {
		for _, child := range s.settle(ctx, item, out) {
			s.dispatchDeep(ctx, deep, child)
		}
	})
	if err != nil {
		s.logger.Warn("Could not dispatch url", zap.String("url", item.URL), zap.Error(err))
	}
}

func (s *siteSession) bfsLimit() int {
	return min(s.engine.opts.BFSDepth, s.engine.opts.MaxDepth)
}

func (s *siteSession) currentPhase() progress.Phase {
	s.cpMu.Lock()
	defer s.cpMu.Unlock()
	return s.phase
}

// switchToDepth persists the phase change so a resumed run skips the breadth phase.
func (s *siteSession) switchToDepth(ctx context.Context, frontier int) {
	s.setPhase(progress.PhaseDepth)
	s.checkpoint(ctx, "phase switch")
	s.logger.Info("Switching to depth-first phase", zap.Int("bfs_depth", s.bfsLimit()), zap.Int("frontier", frontier))
}

// levelSet buckets work items by depth.
type levelSet struct {
	buckets map[int][]crawler.WorkItem
}

func newLevels(items []crawler.WorkItem) *levelSet {
	l := &levelSet{buckets: make(map[int][]crawler.WorkItem)}
	l.add(items)
	return l
}

func (l *levelSet) add(items []crawler.WorkItem) {
	for _, item := range items {
		l.buckets[item.Depth] = append(l.buckets[item.Depth], item)
	}
}

func (l *levelSet) depths() []int {
	out := make([]int, 0, len(l.buckets))
	for d := range l.buckets {
		out = append(out, d)
	}
	sort.Ints(out)
	return out
}

// next removes and returns the shallowest level.
func (l *levelSet) next() (int, []crawler.WorkItem, bool) {
	depths := l.depths()
	if len(depths) == 0 {
		return 0, nil, false
	}
	d := depths[0]
	items := l.buckets[d]
	delete(l.buckets, d)
	return d, items, true
}

// rest removes and returns every remaining item, shallowest first.
func (l *levelSet) rest() []crawler.WorkItem {
	var out []crawler.WorkItem
	for _, d := range l.depths() {
		out = append(out, l.buckets[d]...)
		delete(l.buckets, d)
	}
	return out
}

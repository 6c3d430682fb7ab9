// Package worker binds a fetch session and a pacer to one crawl goroutine.
package worker

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitetree-crawler/internal/crawler"
)

// Processor runs the per-URL transition. *crawler.Pipeline implements it.
type Processor interface {
	Process(ctx context.Context, session crawler.FetchSession, pacer crawler.Pacer, item crawler.WorkItem) crawler.Outcome
}

// Worker owns one HTTP session and one pacer for its whole lifetime. A
// Worker is used by a single goroutine at a time.
type Worker struct {
	id        int
	processor Processor
	session   crawler.FetchSession
	pacer     crawler.Pacer
	logger    *zap.Logger
	processed int
}

// New constructs a Worker. The session is created now and closed by Close.
func New(
	id int,
	processor Processor,
	sessions crawler.SessionFactory,
	pacer crawler.Pacer,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		id:        id,
		processor: processor,
		session:   sessions.NewSession(),
		pacer:     pacer,
		logger:    logger.With(zap.Int("worker", id)),
	}
}

// ID returns the worker's index in its pool.
func (w *Worker) ID() int { return w.id }

// Processed returns how many items this worker has handled.
func (w *Worker) Processed() int { return w.processed }

// Process handles one work item with the worker's own session and pacer.
func (w *Worker) Process(ctx context.Context, item crawler.WorkItem) crawler.Outcome {
	out := w.processor.Process(ctx, w.session, w.pacer, item)
	w.processed++
	if out.Err != nil && out.Status != crawler.OutcomeSkipped && out.Status != crawler.OutcomeCanceled {
		w.logger.Debug("work item failed",
			zap.String("url", item.URL),
			zap.Int("depth", item.Depth),
			zap.String("status", string(out.Status)),
			zap.Error(out.Err),
		)
	}
	return out
}

// Close disposes of the worker's session.
func (w *Worker) Close() {
	w.session.Close()
	w.logger.Debug("worker closed", zap.Int("processed", w.processed))
}

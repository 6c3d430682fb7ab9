// Package dispatcher fans work items out to a fixed pool of workers.
package dispatcher

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/sitetree-crawler/internal/crawler"
	"github.com/JakeFAU/sitetree-crawler/internal/worker"
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("dispatcher closed")

// ActiveObserver is told when a worker starts (+1) or finishes (-1) an item.
type ActiveObserver func(delta int)

type job struct {
	ctx  context.Context
	item crawler.WorkItem
	done func(crawler.Outcome)
}

// Pool runs submitted items on a fixed set of workers. Submit never blocks:
// items wait in an unbounded FIFO, so completion callbacks may submit more work.
type Pool struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []job
	closed  bool
	workers []*worker.Worker
	group   errgroup.Group
	active  ActiveObserver
}

// New starts one goroutine per worker. The pool owns the workers and closes
// them in Close.
func New(workers []*worker.Worker, active ActiveObserver) *Pool {
	p := &Pool{workers: workers, active: active}
	p.cond = sync.NewCond(&p.mu)
	for _, w := range workers {
		p.group.Go(func() error {
			p.loop(w)
			return nil
		})
	}
	return p
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Submit queues item; done, if set, receives its outcome on the worker goroutine.
func (p *Pool) Submit(ctx context.Context, item crawler.WorkItem, done func(crawler.Outcome)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	p.queue = append(p.queue, job{ctx: ctx, item: item, done: done})
	p.cond.Signal()
	return nil
}

// Close drains queued items, stops the workers and disposes their sessions.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.cond.Broadcast()
	p.mu.Unlock()

	_ = p.group.Wait()
	for _, w := range p.workers {
		w.Close()
	}
}

func (p *Pool) next() (job, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.queue) == 0 && !p.closed {
		p.cond.Wait()
	}
	if len(p.queue) == 0 {
		return job{}, false
	}
	j := p.queue[0]
	p.queue[0] = job{}
	p.queue = p.queue[1:]
	return j, true
}

func (p *Pool) loop(w *worker.Worker) {
	for {
		j, ok := p.next()
		if !ok {
			return
		}
		if p.active != nil {
			p.active(1)
		}
		out := w.Process(j.ctx, j.item)
		if p.active != nil {
			p.active(-1)
		}
		if j.done != nil {
			j.done(out)
		}
	}
}

// Batch tracks a group of submissions, including any submitted from their
// callbacks, so a caller can wait for all of them.
type Batch struct {
	pool *Pool
	wg   sync.WaitGroup
}

// NewBatch starts an empty batch on p.
func (p *Pool) NewBatch() *Batch {
	return &Batch{pool: p}
}

// Submit queues item as part of the batch.
func (b *Batch) Submit(ctx context.Context, item crawler.WorkItem, done func(crawler.Outcome)) error {
	b.wg.Add(1)
	err := b.pool.Submit(ctx, item, func(out crawler.Outcome) {
		defer b.wg.Done()
		if done != nil {
			done(out)
		}
	})
	if err != nil {
		b.wg.Done()
	}
	return err
}

// Wait blocks until every item in the batch has completed.
func (b *Batch) Wait() {
	b.wg.Wait()
}

package traversal

import "github.com/JakeFAU/sitetree-crawler/internal/crawler"

// Frontier orders work items awaiting processing.
type Frontier interface {
	Push(item crawler.WorkItem)
	Pop() (crawler.WorkItem, bool)
	Len() int
}

// stack is the LIFO frontier behind depth-first traversal.
type stack struct {
	items []crawler.WorkItem
}

func newStack() *stack { return &stack{} }

func (s *stack) Push(item crawler.WorkItem) { s.items = append(s.items, item) }

func (s *stack) Pop() (crawler.WorkItem, bool) {
	n := len(s.items)
	if n == 0 {
		return crawler.WorkItem{}, false
	}
	item := s.items[n-1]
	s.items = s.items[:n-1]
	return item, true
}

func (s *stack) Len() int { return len(s.items) }

// queue is the FIFO frontier behind breadth-first traversal.
type queue struct {
	items []crawler.WorkItem
	head  int
}

func newQueue(items []crawler.WorkItem) *queue {
	return &queue{items: append([]crawler.WorkItem(nil), items...)}
}

func (q *queue) Push(item crawler.WorkItem) { q.items = append(q.items, item) }

func (q *queue) Pop() (crawler.WorkItem, bool) {
	if q.head >= len(q.items) {
		return crawler.WorkItem{}, false
	}
	item := q.items[q.head]
	q.items[q.head] = crawler.WorkItem{}
	q.head++
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	}
	return item, true
}

func (q *queue) Len() int { return len(q.items) - q.head }

// pushAll pushes children so that, for a stack, the first child pops first.
func pushAll(f Frontier, children []crawler.WorkItem) {
	if _, lifo := f.(*stack); lifo {
		for i := len(children) - 1; i >= 0; i-- {
			f.Push(children[i])
		}
		return
	}
	for _, c := range children {
		f.Push(c)
	}
}

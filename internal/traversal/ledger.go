package traversal

import (
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/JakeFAU/sitetree-crawler/internal/crawler"
	"github.com/JakeFAU/sitetree-crawler/internal/progress"
)

// ledger records admitted but unprocessed work items so checkpoints can
// persist the frontier. A URL is pending at most once.
type ledger struct {
	mu    sync.Mutex
	seq   uint64
	items map[string]ledgerEntry
}

type ledgerEntry struct {
	seq  uint64
	item crawler.WorkItem
}

func newLedger() *ledger {
	return &ledger{items: make(map[string]ledgerEntry)}
}

// add registers item and reports whether it was not already pending.
func (l *ledger) add(item crawler.WorkItem) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.items[item.URL]; ok {
		return false
	}
	l.seq++
	l.items[item.URL] = ledgerEntry{seq: l.seq, item: item}
	return true
}

func (l *ledger) done(url string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.items, url)
}

func (l *ledger) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}

// snapshot returns pending items in admission order.
func (l *ledger) snapshot() []progress.PendingItem {
	l.mu.Lock()
	entries := make([]ledgerEntry, 0, len(l.items))
	for _, e := range l.items {
		entries = append(entries, e)
	}
	l.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	out := make([]progress.PendingItem, 0, len(entries))
	for _, e := range entries {
		p := progress.PendingItem{URL: e.item.URL, Depth: e.item.Depth}
		if e.item.ParentID != nil {
			p.ParentID = e.item.ParentID.String()
		}
		out = append(out, p)
	}
	return out
}

// fromPending converts checkpointed items back to work items. Unparseable
// parent ids are dropped rather than failing the resume.
func fromPending(items []progress.PendingItem) []crawler.WorkItem {
	out := make([]crawler.WorkItem, 0, len(items))
	for _, p := range items {
		item := crawler.WorkItem{URL: p.URL, Depth: p.Depth}
		if p.ParentID != "" {
			if id, err := uuid.Parse(p.ParentID); err == nil {
				item.ParentID = &id
			}
		}
		out = append(out, item)
	}
	return out
}

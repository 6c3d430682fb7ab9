package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitetree-crawler/internal/storage"
	"github.com/JakeFAU/sitetree-crawler/internal/store"
)

// Phase records which half of a two-phase traversal a checkpoint belongs to.
type Phase string

// Traversal phases written to checkpoints.
const (
	PhaseBreadth Phase = "breadth"
	PhaseDepth   Phase = "depth"
)

// PendingItem is a frontier entry that had been discovered but not processed.
type PendingItem struct {
	URL      string `json:"url"`
	ParentID string `json:"parentId,omitempty"`
	Depth    int    `json:"depth"`
}

// Entry is one domain's checkpoint.
type Entry struct {
	VisitedURLs  []string `json:"visitedUrls"`
	CurrentDepth int      `json:"currentDepth"`
	// Timestamp is seconds since the Unix epoch, fractional.
	Timestamp float64       `json:"timestamp"`
	Phase     Phase         `json:"phase,omitempty"`
	Pending   []PendingItem `json:"pending,omitempty"`
}

// SavedAt converts Timestamp to a time.Time.
func (e Entry) SavedAt() time.Time {
	if e.Timestamp <= 0 {
		return time.Time{}
	}
	sec := int64(e.Timestamp)
	nsec := int64((e.Timestamp - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec).UTC()
}

// Summary is the operator view of one domain's checkpoint.
type Summary struct {
	Domain       string    `json:"domain"`
	VisitedCount int       `json:"visited_count"`
	CurrentDepth int       `json:"current_depth"`
	PendingCount int       `json:"pending_count"`
	Phase        Phase     `json:"phase,omitempty"`
	SavedAt      time.Time `json:"saved_at"`
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// Store reads and writes checkpoints through a storage.Provider.
type Store struct {
	mu       sync.Mutex
	provider storage.Provider
	clock    Clock
	logger   *zap.Logger
}

// New builds a Store.
func New(provider storage.Provider, clock Clock, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{provider: provider, clock: clock, logger: logger}
}

// Location describes where checkpoints are written.
func (s *Store) Location() string {
	return s.provider.Location()
}

// Load returns the checkpoint for domain. A missing, unreadable or malformed
// snapshot yields an empty Entry; the failure is logged, never returned.
func (s *Store) Load(ctx context.Context, domain string) Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.readLocked(ctx)
	if err != nil {
		s.logger.Warn("Failed to read progress snapshot", zap.String("location", s.provider.Location()), zap.Error(err))
		return Entry{}
	}
	raw, ok := doc[domain]
	if !ok {
		return Entry{}
	}
	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		s.logger.Warn("Ignoring malformed progress entry",
			zap.String("domain", domain), zap.String("location", s.provider.Location()), zap.Error(err))
		return Entry{}
	}
	return entry
}

// Save replaces domain's entry and stamps it with the current time.
func (s *Store) Save(ctx context.Context, domain string, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry.Timestamp = epochSeconds(s.clock.Now())
	if entry.VisitedURLs == nil {
		entry.VisitedURLs = []string{}
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal progress entry: %w", err)
	}
	doc, err := s.readLocked(ctx)
	if err != nil {
		return err
	}
	doc[domain] = raw
	return s.writeLocked(ctx, doc)
}

// Merge adds urls to domain's visited set, keeping its depth and frontier.
// It returns how many URLs were new.
func (s *Store) Merge(ctx context.Context, domain string, urls []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.readLocked(ctx)
	if err != nil {
		return 0, err
	}
	var entry Entry
	if raw, ok := doc[domain]; ok {
		if err := json.Unmarshal(raw, &entry); err != nil {
			return 0, fmt.Errorf("decode progress entry %q: %w", domain, err)
		}
	}
	seen := make(map[string]struct{}, len(entry.VisitedURLs)+len(urls))
	for _, u := range entry.VisitedURLs {
		seen[u] = struct{}{}
	}
	added := 0
	for _, u := range urls {
		if _, ok := seen[u]; ok || u == "" {
			continue
		}
		seen[u] = struct{}{}
		entry.VisitedURLs = append(entry.VisitedURLs, u)
		added++
	}
	entry.Timestamp = epochSeconds(s.clock.Now())
	if entry.VisitedURLs == nil {
		entry.VisitedURLs = []string{}
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return 0, fmt.Errorf("marshal progress entry: %w", err)
	}
	doc[domain] = raw
	if err := s.writeLocked(ctx, doc); err != nil {
		return 0, err
	}
	return added, nil
}

// Clear removes domain's entry, or every entry when domain is empty.
func (s *Store) Clear(ctx context.Context, domain string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if domain == "" {
		return s.writeLocked(ctx, map[string]json.RawMessage{})
	}
	doc, err := s.readLocked(ctx)
	if err != nil {
		return err
	}
	if _, ok := doc[domain]; !ok {
		return nil
	}
	delete(doc, domain)
	return s.writeLocked(ctx, doc)
}

// Summarize lists every readable domain entry ordered by domain.
func (s *Store) Summarize(ctx context.Context) []Summary {
	s.mu.Lock()
	doc, err := s.readLocked(ctx)
	s.mu.Unlock()
	if err != nil {
		s.logger.Warn("Failed to read progress snapshot", zap.String("location", s.provider.Location()), zap.Error(err))
		return []Summary{}
	}

	out := make([]Summary, 0, len(doc))
	for domain, raw := range doc {
		var entry Entry
		if err := json.Unmarshal(raw, &entry); err != nil {
			s.logger.Warn("Skipping malformed progress entry", zap.String("domain", domain), zap.Error(err))
			continue
		}
		out = append(out, Summary{
			Domain:       domain,
			VisitedCount: len(entry.VisitedURLs),
			CurrentDepth: entry.CurrentDepth,
			PendingCount: len(entry.Pending),
			Phase:        entry.Phase,
			SavedAt:      entry.SavedAt(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Domain < out[j].Domain })
	return out
}

// readLocked returns the snapshot document. A missing or empty snapshot is an
// empty document; read failures and malformed documents are errors so writers
// never replace other domains' entries with a partial view.
func (s *Store) readLocked(ctx context.Context) (map[string]json.RawMessage, error) {
	doc := map[string]json.RawMessage{}
	data, err := s.provider.Load(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return doc, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read progress snapshot: %w", err)
	}
	if len(data) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode progress snapshot %s: %w", s.provider.Location(), err)
	}
	if doc == nil {
		doc = map[string]json.RawMessage{}
	}
	return doc, nil
}

func (s *Store) writeLocked(ctx context.Context, doc map[string]json.RawMessage) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal progress snapshot: %w", err)
	}
	if err := s.provider.Save(ctx, data); err != nil {
		return fmt.Errorf("save progress snapshot: %w", err)
	}
	return nil
}

func epochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

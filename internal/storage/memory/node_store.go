// Package memory provides in-memory persistence for dry runs and tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/JakeFAU/sitetree-crawler/internal/store"
)

// NodeStore keeps nodes in a map keyed by canonical URL.
type NodeStore struct {
	mu    sync.RWMutex
	nodes map[string]store.Node
	ids   store.IDGenerator
	clock store.Clock
}

var _ store.NodeRepository = (*NodeStore)(nil)

// NewNodeStore constructs an empty NodeStore.
func NewNodeStore(ids store.IDGenerator, clock store.Clock) *NodeStore {
	return &NodeStore{
		nodes: make(map[string]store.Node),
		ids:   ids,
		clock: clock,
	}
}

// EnsureSchema is a no-op.
func (s *NodeStore) EnsureSchema(context.Context) error { return nil }

// Close is a no-op.
func (s *NodeStore) Close() {}

// UpsertNode implements store.NodeRepository. The map lookup and write
// happen under one lock, so the conflict path of SQL backends cannot occur.
func (s *NodeStore) UpsertNode(_ context.Context, in store.NodeInput, _ bool) (uuid.UUID, error) {
	in, err := store.Normalize(in)
	if err != nil {
		return uuid.Nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	if existing, ok := s.nodes[in.URL]; ok {
		existing.StatusCode = in.StatusCode
		existing.Title = in.Title
		existing.Breadcrumb = in.Breadcrumb
		existing.UpdatedAt = now
		s.nodes[in.URL] = existing
		return existing.ID, nil
	}

	id, err := s.ids.NewNodeID()
	if err != nil {
		return uuid.Nil, err
	}
	node := store.Node{
		ID:         id,
		URL:        in.URL,
		Breadcrumb: in.Breadcrumb,
		Title:      in.Title,
		StatusCode: in.StatusCode,
		CrawledAt:  now,
		UpdatedAt:  now,
	}
	if in.ParentID != nil {
		parent := *in.ParentID
		node.ParentID = &parent
	}
	s.nodes[in.URL] = node
	return id, nil
}

// GetByURL implements store.NodeRepository.
func (s *NodeStore) GetByURL(_ context.Context, url string) (store.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	node, ok := s.nodes[url]
	if !ok {
		return store.Node{}, store.ErrNotFound
	}
	return node, nil
}

// URLsForDomain implements store.NodeRepository.
func (s *NodeStore) URLsForDomain(_ context.Context, domain string) ([]string, error) {
	s.mu.RLock()
	urls := make([]string, 0, len(s.nodes))
	for u := range s.nodes {
		urls = append(urls, u)
	}
	s.mu.RUnlock()
	return store.FilterDomain(urls, domain), nil
}

// DedupeURLs implements store.NodeRepository; URLs are unique by construction.
func (s *NodeStore) DedupeURLs(context.Context) (int, error) { return 0, nil }

// Nodes returns every stored node ordered by URL.
func (s *NodeStore) Nodes() []store.Node {
	s.mu.RLock()
	out := make([]store.Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		out = append(out, n)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out
}

package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/sitetree-crawler/internal/urlcanon"
)

// ErrNotFound signals that the requested node does not exist.
var ErrNotFound = errors.New("node not found")

// NodeInput carries the fields written by an upsert.
type NodeInput struct {
	URL        string
	ParentID   *uuid.UUID
	Breadcrumb string
	Title      string
	StatusCode int
	// Excluded is the site's extension exclusion list; nil means the defaults.
	Excluded []string
}

// Node is one persisted page in the crawl forest.
type Node struct {
	// ID is a UUIDv7 assigned on first insert.
	ID uuid.UUID
	// URL is canonical and unique across the table.
	URL string
	// ParentID is nil for crawl roots and never changes after insert.
	ParentID   *uuid.UUID
	Breadcrumb string
	Title      string
	// StatusCode is the last HTTP status observed; 0 means no response.
	StatusCode int
	CrawledAt  time.Time
	UpdatedAt  time.Time
}

// NodeRepository persists crawl nodes keyed by canonical URL.
type NodeRepository interface {
	// UpsertNode stores in and returns the node id. With updateIfExists an
	// existing row keeps its id and parent while its metadata is refreshed.
	// A uniqueness race on insert is resolved by updating the winner's row.
	UpsertNode(ctx context.Context, in NodeInput, updateIfExists bool) (uuid.UUID, error)
	// GetByURL returns the earliest node for a canonical URL.
	GetByURL(ctx context.Context, url string) (Node, error)
	// URLsForDomain lists stored canonical URLs whose host is domain or a subdomain.
	URLsForDomain(ctx context.Context, domain string) ([]string, error)
	// DedupeURLs collapses duplicate rows per URL onto the earliest one and
	// returns how many rows were removed.
	DedupeURLs(ctx context.Context) (int, error)
	// EnsureSchema creates the node table when missing.
	EnsureSchema(ctx context.Context) error
	Close()
}

// Normalize canonicalizes in.URL with the site's exclusions, rejecting URLs
// the crawler would never store.
func Normalize(in NodeInput) (NodeInput, error) {
	canon, err := urlcanon.Canonicalize(in.URL, in.Excluded)
	if err != nil {
		return NodeInput{}, fmt.Errorf("normalize node url: %w", err)
	}
	in.URL = canon
	return in, nil
}

// FilterDomain keeps the URLs that belong to domain, sorted and de-duplicated.
// Backends pre-filter with a substring match and rely on this for exactness.
func FilterDomain(urls []string, domain string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if !urlcanon.IsValid(u, domain) {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// IDGenerator issues node primary keys.
type IDGenerator interface {
	NewNodeID() (uuid.UUID, error)
}

package crawler

import (
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Site is one crawl target.
type Site struct {
	Name string `json:"name" mapstructure:"name"`
	// Domain is the canonical host; subdomains are in scope.
	Domain   string `json:"domain" mapstructure:"domain"`
	StartURL string `json:"start_url" mapstructure:"start_url"`
	// Excluded lists file extensions that are never fetched. Empty means the defaults.
	Excluded []string `json:"exclude_extensions" mapstructure:"exclude_extensions"`
}

// WorkItem is one frontier entry.
type WorkItem struct {
	URL      string
	ParentID *uuid.UUID
	Depth    int
}

// FetchResult is the raw outcome of one HTTP GET.
type FetchResult struct {
	StatusCode int
	// Body is empty for non-2xx responses.
	Body        []byte
	ContentType string
	Headers     http.Header
	FinalURL    string
	Latency     time.Duration
}

// OK reports whether the status is 2xx.
func (r FetchResult) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// OutcomeStatus classifies what happened to a work item.
type OutcomeStatus string

// Outcome statuses.
const (
	// OutcomeSkipped means the URL was rejected, out of scope or already claimed.
	OutcomeSkipped OutcomeStatus = "skipped"
	// OutcomeCanceled means the run was interrupted before the URL was fetched.
	OutcomeCanceled OutcomeStatus = "canceled"
	// OutcomeFetchFailed means no response was received; the node is stored with status 0.
	OutcomeFetchFailed OutcomeStatus = "fetch_failed"
	// OutcomeParseFailed means the body was empty or unparseable; nothing is stored.
	OutcomeParseFailed OutcomeStatus = "parse_failed"
	// OutcomeStoreFailed means the upsert returned an error.
	OutcomeStoreFailed OutcomeStatus = "store_failed"
	// OutcomeStored means a node was persisted.
	OutcomeStored OutcomeStatus = "stored"
)

// Outcome is the result of processing one work item.
type Outcome struct {
	Status OutcomeStatus
	// URL is the canonical form, empty when canonicalization rejected the input.
	URL        string
	Depth      int
	NodeID     uuid.UUID
	StatusCode int
	Title      string
	// Links are canonical in-scope children, present only for 2xx pages above maxDepth.
	Links []string
	Err   error
}

// Persisted reports whether a node row was written.
func (o Outcome) Persisted() bool {
	return o.NodeID != uuid.Nil
}

// NodeEvent is published after a node is persisted.
type NodeEvent struct {
	NodeID     string    `json:"node_id"`
	URL        string    `json:"url"`
	ParentID   string    `json:"parent_id,omitempty"`
	Domain     string    `json:"domain"`
	StatusCode int       `json:"status_code"`
	Depth      int       `json:"depth"`
	Timestamp  time.Time `json:"timestamp"`
}

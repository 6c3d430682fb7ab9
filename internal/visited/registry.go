// Package visited tracks which canonical URLs a crawl session has claimed, per domain.
package visited

import (
	"sort"
	"sync"
)

// Registry is a set of claimed URLs partitioned by domain. Each domain set has
// its own lock so claims on different sites never contend.
type Registry struct {
	mu      sync.Mutex
	domains map[string]*domainSet
}

type domainSet struct {
	mu   sync.Mutex
	urls map[string]struct{}
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{domains: make(map[string]*domainSet)}
}

func (r *Registry) set(domain string) *domainSet {
	r.mu.Lock()
	defer r.mu.Unlock()
	ds, ok := r.domains[domain]
	if !ok {
		ds = &domainSet{urls: make(map[string]struct{})}
		r.domains[domain] = ds
	}
	return ds
}

// Claim inserts url for domain and reports whether it was absent. Exactly one
// of any number of concurrent callers for the same url observes true.
func (r *Registry) Claim(domain, url string) bool {
	ds := r.set(domain)
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if _, ok := ds.urls[url]; ok {
		return false
	}
	ds.urls[url] = struct{}{}
	return true
}

// Seed adds urls without reporting prior membership and returns how many were new.
func (r *Registry) Seed(domain string, urls []string) int {
	ds := r.set(domain)
	ds.mu.Lock()
	defer ds.mu.Unlock()
	added := 0
	for _, u := range urls {
		if u == "" {
			continue
		}
		if _, ok := ds.urls[u]; !ok {
			ds.urls[u] = struct{}{}
			added++
		}
	}
	return added
}

// Contains reports whether url has been claimed or seeded for domain.
func (r *Registry) Contains(domain, url string) bool {
	ds := r.set(domain)
	ds.mu.Lock()
	defer ds.mu.Unlock()
	_, ok := ds.urls[url]
	return ok
}

// Len returns the number of URLs recorded for domain.
func (r *Registry) Len(domain string) int {
	ds := r.set(domain)
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return len(ds.urls)
}

// Snapshot returns a sorted copy of the URLs recorded for domain.
func (r *Registry) Snapshot(domain string) []string {
	ds := r.set(domain)
	ds.mu.Lock()
	out := make([]string, 0, len(ds.urls))
	for u := range ds.urls {
		out = append(out, u)
	}
	ds.mu.Unlock()
	sort.Strings(out)
	return out
}

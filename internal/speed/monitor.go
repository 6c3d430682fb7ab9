// Package speed tracks crawl throughput, latency and success rate over
// sliding windows and projects completion times.
package speed

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Default ring capacities.
const (
	DefaultTimestampCapacity     = 10000
	DefaultLatencyCapacity       = 1000
	DefaultDomainLatencyCapacity = 100
)

// Sample is one processed URL.
type Sample struct {
	Domain     string
	URL        string
	StatusCode int
	Latency    time.Duration
	Success    bool
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// Config sizes the monitor's ring buffers.
type Config struct {
	TimestampCapacity     int
	LatencyCapacity       int
	DomainLatencyCapacity int
}

type domainStats struct {
	total, successful, failed int64
	latencies                 *ring[time.Duration]
	latencySum                time.Duration
}

// Monitor aggregates samples. Record is O(1); reads copy out under the same lock.
type Monitor struct {
	mu    sync.Mutex
	clock Clock
	cfg   Config
	start time.Time

	total, successful, failed int64
	timestamps                *ring[time.Time]
	latencies                 *ring[time.Duration]
	latencySum                time.Duration
	domains                   map[string]*domainStats
	statusCodes               map[int]int64
}

// NewMonitor creates a Monitor whose elapsed time starts now.
func NewMonitor(clock Clock, cfg Config) *Monitor {
	if cfg.TimestampCapacity <= 0 {
		cfg.TimestampCapacity = DefaultTimestampCapacity
	}
	if cfg.LatencyCapacity <= 0 {
		cfg.LatencyCapacity = DefaultLatencyCapacity
	}
	if cfg.DomainLatencyCapacity <= 0 {
		cfg.DomainLatencyCapacity = DefaultDomainLatencyCapacity
	}
	return &Monitor{
		clock:       clock,
		cfg:         cfg,
		start:       clock.Now(),
		timestamps:  newRing[time.Time](cfg.TimestampCapacity),
		latencies:   newRing[time.Duration](cfg.LatencyCapacity),
		domains:     make(map[string]*domainStats),
		statusCodes: make(map[int]int64),
	}
}

// Record adds one sample.
func (m *Monitor) Record(s Sample) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Read under the lock and never step back, keeping timestamps sorted.
	now := m.clock.Now()
	if n := m.timestamps.len(); n > 0 {
		if last := m.timestamps.at(n - 1); now.Before(last) {
			now = last
		}
	}

	m.total++
	if s.Success {
		m.successful++
	} else {
		m.failed++
	}
	m.timestamps.push(now)
	if old, evicted := m.latencies.push(s.Latency); evicted {
		m.latencySum -= old
	}
	m.latencySum += s.Latency

	ds, ok := m.domains[s.Domain]
	if !ok {
		ds = &domainStats{latencies: newRing[time.Duration](m.cfg.DomainLatencyCapacity)}
		m.domains[s.Domain] = ds
	}
	ds.total++
	if s.Success {
		ds.successful++
	} else {
		ds.failed++
	}
	if old, evicted := ds.latencies.push(s.Latency); evicted {
		ds.latencySum -= old
	}
	ds.latencySum += s.Latency

	m.statusCodes[s.StatusCode]++
}

// DomainReport summarizes one domain.
type DomainReport struct {
	Domain         string        `json:"domain"`
	Total          int64         `json:"total"`
	Successful     int64         `json:"successful"`
	Failed         int64         `json:"failed"`
	SuccessRate    float64       `json:"success_rate"`
	AverageLatency time.Duration `json:"average_latency"`
}

// Report is a point-in-time view of the monitor.
type Report struct {
	Window             time.Duration  `json:"window"`
	Elapsed            time.Duration  `json:"elapsed"`
	Total              int64          `json:"total"`
	Successful         int64          `json:"successful"`
	Failed             int64          `json:"failed"`
	SuccessRate        float64        `json:"success_rate"`
	URLsInWindow       int            `json:"urls_in_window"`
	URLsPerHour        float64        `json:"urls_per_hour"`
	OverallURLsPerHour float64        `json:"overall_urls_per_hour"`
	AverageLatency     time.Duration  `json:"average_latency"`
	Domains            []DomainReport `json:"domains"`
	StatusCodes        map[int]int64  `json:"status_codes"`
}

// Report aggregates counters over window. It has no side effects.
func (m *Monitor) Report(window time.Duration) Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Read under the lock and never step back, keeping timestamps sorted.
	now := m.clock.Now()
	if n := m.timestamps.len(); n > 0 {
		if last := m.timestamps.at(n - 1); now.Before(last) {
			now = last
		}
	}

	r := Report{
		Window:      window,
		Elapsed:     now.Sub(m.start),
		Total:       m.total,
		Successful:  m.successful,
		Failed:      m.failed,
		SuccessRate: rate(m.successful, m.total),
		StatusCodes: make(map[int]int64, len(m.statusCodes)),
	}
	if window > 0 {
		r.URLsInWindow = m.countSinceLocked(now.Add(-window))
		r.URLsPerHour = float64(r.URLsInWindow) / window.Hours()
	}
	if hours := r.Elapsed.Hours(); hours > 0 {
		r.OverallURLsPerHour = float64(m.total) / hours
	}
	if n := m.latencies.len(); n > 0 {
		r.AverageLatency = m.latencySum / time.Duration(n)
	}
	for code, count := range m.statusCodes {
		r.StatusCodes[code] = count
	}
	for domain, ds := range m.domains {
		dr := DomainReport{
			Domain:      domain,
			Total:       ds.total,
			Successful:  ds.successful,
			Failed:      ds.failed,
			SuccessRate: rate(ds.successful, ds.total),
		}
		if n := ds.latencies.len(); n > 0 {
			dr.AverageLatency = ds.latencySum / time.Duration(n)
		}
		r.Domains = append(r.Domains, dr)
	}
	sort.Slice(r.Domains, func(i, j int) bool {
		if r.Domains[i].Total != r.Domains[j].Total {
			return r.Domains[i].Total > r.Domains[j].Total
		}
		return r.Domains[i].Domain < r.Domains[j].Domain
	})
	return r
}

// countSinceLocked counts retained timestamps at or after cutoff. Timestamps
// are appended in clock order, so the ring is sorted.
func (m *Monitor) countSinceLocked(cutoff time.Time) int {
	n := m.timestamps.len()
	first := sort.Search(n, func(i int) bool {
		return !m.timestamps.at(i).Before(cutoff)
	})
	return n - first
}

// ETA projects when target URLs will have been processed.
type ETA struct {
	// Known is false when nothing was processed inside the window.
	Known bool `json:"known"`
	// Completed is true once Total has reached the target.
	Completed     bool          `json:"completed"`
	RemainingURLs int64         `json:"remaining_urls"`
	URLsPerHour   float64       `json:"urls_per_hour"`
	HoursNeeded   float64       `json:"hours_needed"`
	Remaining     time.Duration `json:"remaining"`
	At            time.Time     `json:"at,omitempty"`
}

// ETA estimates completion using the throughput observed over window.
func (m *Monitor) ETA(target int64, window time.Duration) ETA {
	r := m.Report(window)
	if r.URLsPerHour <= 0 {
		return ETA{}
	}
	remaining := target - r.Total
	if remaining <= 0 {
		return ETA{Known: true, Completed: true, URLsPerHour: r.URLsPerHour}
	}
	hours := float64(remaining) / r.URLsPerHour
	d := time.Duration(hours * float64(time.Hour))
	return ETA{
		Known:         true,
		RemainingURLs: remaining,
		URLsPerHour:   r.URLsPerHour,
		HoursNeeded:   hours,
		Remaining:     d,
		At:            m.clock.Now().Add(d),
	}
}

// LogUpdates writes a one-line speed summary every interval until ctx ends.
func (m *Monitor) LogUpdates(ctx context.Context, interval, window time.Duration, logger *zap.Logger) {
	if interval <= 0 || logger == nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r := m.Report(window)
			logger.Info("Speed update",
				zap.Float64("urls_per_hour", r.URLsPerHour),
				zap.Int64("total", r.Total),
				zap.Float64("success_rate", r.SuccessRate),
				zap.Duration("avg_latency", r.AverageLatency),
			)
		}
	}
}

func rate(part, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}

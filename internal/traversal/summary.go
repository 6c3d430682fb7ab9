package traversal

import "time"

// State is a site session's lifecycle position.
type State string

// Session states.
const (
	StateIdle        State = "idle"
	StateRunning     State = "running"
	StateCompleted   State = "completed"
	StateFailed      State = "failed"
	StateInterrupted State = "interrupted"
)

// SiteSummary reports one site's run.
type SiteSummary struct {
	Name   string `json:"name"`
	Domain string `json:"domain"`
	State  State  `json:"state"`
	// Processed counts items that reached the fetch stage.
	Processed int64 `json:"processed"`
	// Succeeded counts 2xx pages stored.
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	// Stored counts node rows written, including failures kept with their status.
	Stored  int64 `json:"stored"`
	Skipped int64 `json:"skipped"`
	// Dropped counts items cut by the per-depth cap.
	Dropped      int64         `json:"dropped"`
	DeepestDepth int           `json:"deepest_depth"`
	Pending      int           `json:"pending"`
	Duration     time.Duration `json:"duration"`
	Error        string        `json:"error,omitempty"`
}

// Summary aggregates a whole run.
type Summary struct {
	Sites       []SiteSummary `json:"sites"`
	Processed   int64         `json:"processed"`
	Succeeded   int64         `json:"succeeded"`
	Failed      int64         `json:"failed"`
	Stored      int64         `json:"stored"`
	Skipped     int64         `json:"skipped"`
	Interrupted bool          `json:"interrupted"`
	Duration    time.Duration `json:"duration"`
}

func newSummary(sites []SiteSummary, d time.Duration, interrupted bool) Summary {
	s := Summary{Sites: sites, Duration: d, Interrupted: interrupted}
	for _, site := range sites {
		s.Processed += site.Processed
		s.Succeeded += site.Succeeded
		s.Failed += site.Failed
		s.Stored += site.Stored
		s.Skipped += site.Skipped
	}
	return s
}

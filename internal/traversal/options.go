package traversal

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Strategy selects the traversal order.
type Strategy string

// Supported strategies.
const (
	StrategyDFS            Strategy = "dfs"
	StrategyBFS            Strategy = "bfs"
	StrategyHybrid         Strategy = "hybrid"
	StrategyParallelHybrid Strategy = "parallel-hybrid"
)

// ParseStrategy accepts the strategy names case-insensitively, with "_" or "-".
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-")) {
	case StrategyDFS:
		return StrategyDFS, nil
	case StrategyBFS:
		return StrategyBFS, nil
	case StrategyHybrid:
		return StrategyHybrid, nil
	case StrategyParallelHybrid, "parallel":
		return StrategyParallelHybrid, nil
	default:
		return "", fmt.Errorf("unknown strategy %q", s)
	}
}

// Options configures an Engine.
type Options struct {
	Strategy Strategy
	// MaxDepth bounds every strategy; depth 0 is the start URL.
	MaxDepth int
	// BFSDepth is the last depth crawled breadth-first by the hybrid strategies.
	BFSDepth int
	// MaxThreads bounds how many sites are crawled at once.
	MaxThreads int
	// MaxWorkers sizes the per-site worker pool of ParallelHybrid.
	MaxWorkers int
	// MaxURLsPerDepth caps the items dispatched per breadth-first level; 0 is unlimited.
	MaxURLsPerDepth int
	// BatchSize bounds how many items of one level are in flight at once in ParallelHybrid.
	BatchSize int
	// Delay is the pause each worker keeps between requests.
	Delay time.Duration
	// SaveInterval checkpoints after this many processed URLs; 0 disables periodic saves.
	SaveInterval   int
	UpdateExisting bool
	Resume         bool
	// Topic receives node events when a publisher is configured.
	Topic string
	// SpeedLogInterval enables periodic speed log lines.
	SpeedLogInterval time.Duration
	SpeedWindow      time.Duration
}

// Defaults used when an option is left at zero.
const (
	DefaultMaxDepth     = 5
	DefaultBFSDepth     = 2
	DefaultMaxThreads   = 5
	DefaultMaxWorkers   = 8
	DefaultBatchSize    = 50
	DefaultSaveInterval = 100
)

func (o Options) withDefaults() Options {
	if o.Strategy == "" {
		o.Strategy = StrategyDFS
	}
	if o.MaxThreads <= 0 {
		o.MaxThreads = DefaultMaxThreads
	}
	if o.MaxWorkers <= 0 {
		o.MaxWorkers = DefaultMaxWorkers
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.SpeedWindow <= 0 {
		o.SpeedWindow = time.Hour
	}
	return o
}

// Validate reports option combinations that cannot run.
func (o Options) Validate() error {
	if _, err := ParseStrategy(string(o.Strategy)); err != nil {
		return err
	}
	var errs []error
	if o.MaxDepth < 0 {
		errs = append(errs, errors.New("max depth must not be negative"))
	}
	if o.BFSDepth < 0 {
		errs = append(errs, errors.New("bfs depth must not be negative"))
	}
	if o.MaxURLsPerDepth < 0 {
		errs = append(errs, errors.New("max urls per depth must not be negative"))
	}
	if o.Delay < 0 {
		errs = append(errs, errors.New("delay must not be negative"))
	}
	if o.SaveInterval < 0 {
		errs = append(errs, errors.New("save interval must not be negative"))
	}
	return errors.Join(errs...)
}

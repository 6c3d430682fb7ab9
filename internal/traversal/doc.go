// Package traversal drives multi-site crawls. Each site runs as an
// independent session with its own frontier, pending ledger and checkpoints;
// the DFS, BFS, Hybrid and Parallel-Hybrid strategies share one per-URL
// pipeline and differ only in how they order and dispatch work items.
package traversal

// Package cmd defines the sitetree-crawler CLI.
//
// Architecture overview:
//   - crawl: loads the configured sites and runs the traversal engine (dfs, bfs,
//     hybrid or parallel-hybrid) against them, at most --threads sites at once.
//     Every page becomes a node row whose parent is the page that first linked to it.
//   - Persistence: nodes go to Postgres (pgx), SQLite or memory; checkpoints go to a
//     JSON snapshot on disk or in GCS, keyed by canonical domain. --resume restarts
//     each site from its saved frontier.
//   - Observability: zap logs every transition; the speed monitor logs throughput
//     periodically; --status-addr serves /healthz, /metrics, /v1/speed and /v1/progress.
//   - Maintenance: progress status|clear|sync and db migrate|dedupe.
//
// Configuration comes from an optional YAML file (--config) and CRAWLER_* environment
// variables; command flags override both.
package cmd

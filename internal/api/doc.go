// Package api hosts the read-only status server that runs alongside a crawl.
// Routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/speed?window=&target= for the live speed report and ETA.
//   - GET /v1/progress for the checkpoint summary of every domain.
package api

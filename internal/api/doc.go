// Package api hosts the read-only status server that runs next to a harvest.
// Routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/progress for the live snapshot of the current run.
//   - GET /v1/progress/failures for the pages the run could not process.
package api

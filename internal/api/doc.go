// Package api hosts the HTTP server, middleware, and REST handlers for
// operator access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/scans and /v1/scans/watchlist for scan submission.
//   - POST /v1/score for stateless bundle scoring.
//   - GET /v1/runs and /v1/runs/{scan_id}/domains for run history via the
//     RunRepository interface.
package api

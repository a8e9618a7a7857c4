// Package main hosts the rivalscan service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, scan management,
//     stateless scoring, and run-history endpoints. Requests are validated,
//     normalized into evidence.ScanParameters, and persisted via the ScanStore
//     before being enqueued for work.
//   - Dispatcher & queue: scans flow through a bounded queue (in-memory by
//     default, Pub/Sub when a jobs topic and subscription are configured) and
//     are fanned out to a fixed worker pool sized by config.Scan.Concurrency.
//     Context cancellation stops workers cleanly on shutdown.
//   - Collection pipeline: each worker builds the fixed-template target list
//     per competitor domain, optionally augments it with Brave search hits,
//     fetches targets through the Colly-based probe fetcher with optional
//     headless Chromedp promotion, classifies every fetched page into the
//     evidence taxonomy, selects a shortlist, and scores the run.
//   - Persistence & fanout: raw HTML snapshots are written to the configured
//     snapshot store (memory/local/GCS). Run history is optionally persisted
//     to Postgres, and a compact Pub/Sub completion event is published when a
//     topic is configured. Progress events are batched through the hub into
//     log, Prometheus, and store sinks.
//   - Configuration & plumbing: Viper populates config from env/files with the
//     RIVALSCAN prefix; zap provides structured logging; Prometheus metrics
//     are exported via the metrics middleware and the /metrics handler.
//
// Run locally: go run ./cmd/rivalscan -config config.yaml (or rely solely on
// env overrides). The process reacts to SIGTERM for graceful drain, with
// in-flight work bounded by per-scan fetch budgets.
package main

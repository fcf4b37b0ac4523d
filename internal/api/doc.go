// Package api hosts the read-only archive HTTP server. Notable routes:
//   - GET /healthz for liveness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/days lists archived days.
//   - GET /v1/days/{day}/snapshot and /manifest return the stored documents.
//   - GET /v1/days/{day}/verify recomputes the snapshot digest.
//   - GET /v1/ledger lists recent write decisions when a ledger is configured.
package api

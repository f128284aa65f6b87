// Package api hosts the operator HTTP surface of a crawl run. Routes:
//   - GET /healthz and /readyz for liveness and readiness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/stats for the live frontier counters.
package api

// Package api hosts the read-only status server that runs beside a crawl.
// Notable routes:
//   - GET /healthz and /readyz for liveness and store readiness.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/crawl for the live engine snapshot.
//   - GET /v1/frontier for frontier accounting.
//   - GET /v1/access-points and /v1/access-points/{bssid} for stored records.
package api

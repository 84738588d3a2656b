// Package api hosts the HTTP server, middleware, and REST handlers for the
// scraper. Notable routes:
//   - POST /api/v1/scrape to submit a job, GET /api/v1/scrape/{job_id} to poll it.
//   - POST /api/v1/scrape/{job_id}/retry to re-scrape failed URLs.
//   - GET /api/v1/jobs and GET /api/v1/health for operators.
//   - GET /healthz for probes and GET /metrics for Prometheus scraping.
package api

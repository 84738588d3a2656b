// Package main hosts the sitescraper entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes submission, polling, retry, deletion and health routes under /api/v1,
//     plus /healthz and /metrics. Handlers stay thin and delegate to the job manager in internal/jobs.
//   - Job lifecycle: internal/jobs validates requests, records jobs in the in-memory job store and enqueues
//     scrape or retry tasks on a bounded queue drained by a fixed worker pool (internal/dispatcher, internal/worker).
//   - Scrape pipeline: a worker builds the sitemap breadth-first (internal/sitemap), scrapes every URL with bounded
//     concurrency (internal/scrape) and extracts metadata, ordered content blocks and images (internal/extract).
//   - Fetching: headless Chrome via chromedp by default; fetcher.mode=static switches to a colly HTTP fetcher for
//     server-rendered sites, and fetcher.mode=auto fetches with colly and renders only pages that look
//     client-side rendered (internal/fetcher/promote, internal/headless/detector).
//   - Persistence: artifacts are written to storage.output_dir (internal/storage/local) and optionally mirrored to
//     GCS. Finished phases are recorded in an optional SQLite or Postgres history table and announced on Pub/Sub
//     when a topic is configured. Completed job directories are reloaded on startup.
//
// Quick checklist:
//   - Configure env vars with the SCRAPER_ prefix, e.g. SCRAPER_SERVER_PORT, SCRAPER_FETCHER_MODE,
//     SCRAPER_STORAGE_OUTPUT_DIR, SCRAPER_HISTORY_DRIVER.
//   - Run locally: go run ./cmd/sitescraper serve --config config.yaml
//   - One-off scrape: go run ./cmd/sitescraper scrape https://example.com --depth 2
package main

// Package crawler holds the domain types of the site scraper (jobs, sitemaps,
// page results, content blocks), the interfaces that connect its subsystems,
// and the URL normalization and filtering rules used during discovery.
package crawler

package cmd

import (
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-scraper/internal/crawler"
	"github.com/JakeFAU/site-scraper/internal/jobs"
	"github.com/JakeFAU/site-scraper/internal/server"
)

type scrapeReport struct {
	JobID             string `json:"job_id"`
	Status            string `json:"status"`
	Message           string `json:"message"`
	OutputDirectory   string `json:"output_directory"`
	TotalURLs         int    `json:"total_urls"`
	TotalPagesScraped int    `json:"total_pages_scraped"`
	FailedURLs        int    `json:"failed_urls"`
	Errors            int    `json:"errors"`
}

func newScrapeCmd() *cobra.Command {
	var (
		depth         int
		includeImages bool
	)
	cmd := &cobra.Command{
		Use:   "scrape <url>",
		Short: "Scrape one website and exit",
		Long: `Builds the sitemap of the given site, scrapes every discovered page and
writes the artifacts to storage.output_dir. Prints a JSON report when done and
exits non-zero if the job failed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := resolveSession(cmd.Context())
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("include-images") {
				includeImages = rt.cfg.Scraper.IncludeImagesDefault
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			app, err := server.Build(ctx, rt.cfg, rt.logger)
			if err != nil {
				return fmt.Errorf("build application: %w", err)
			}
			defer func() {
				if cerr := app.Close(ctx); cerr != nil {
					rt.logger.Warn("close application failed", zap.Error(cerr))
				}
			}()

			job, err := app.ScrapeOnce(ctx, jobs.SubmitRequest{
				URL:           args[0],
				MaxDepth:      depth,
				IncludeImages: includeImages,
			})
			if err != nil {
				return fmt.Errorf("scrape %s: %w", args[0], err)
			}
			if err := writeReport(cmd, job); err != nil {
				return err
			}
			if job.Status == crawler.JobStatusFailed {
				return fmt.Errorf("job %s failed: %s", job.ID, job.Message)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&depth, "depth", 0, "maximum link depth (1-10); defaults to scraper.max_depth_default")
	cmd.Flags().BoolVar(&includeImages, "include-images", true, "keep image blocks and image URLs in page content")
	return cmd
}

func writeReport(cmd *cobra.Command, job crawler.Job) error {
	report := scrapeReport{
		JobID:             job.ID,
		Status:            string(job.Status),
		Message:           job.Message,
		OutputDirectory:   job.OutputDir,
		TotalPagesScraped: job.TotalPagesScraped,
		FailedURLs:        len(job.FailedURLs),
		Errors:            len(job.Errors),
	}
	if job.Sitemap != nil {
		report.TotalURLs = job.Sitemap.TotalURLs
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

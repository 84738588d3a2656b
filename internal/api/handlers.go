package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-scraper/internal/crawler"
	"github.com/JakeFAU/site-scraper/internal/jobs"
)

const (
	messageSubmitted    = "Scraping job started. Use job_id to check status."
	messageUnauthorized = "Invalid authorization token. You must own or have permission to scrape this website."
	messageDeleted      = "Job deleted successfully"
)

type scrapeRequest struct {
	URL                string `json:"url"`
	MaxDepth           *int   `json:"max_depth"`
	IncludeImages      *bool  `json:"include_images"`
	AuthorizationToken string `json:"authorization_token"`
}

type scrapeResponse struct {
	JobID   string            `json:"job_id"`
	Status  crawler.JobStatus `json:"status"`
	Message string            `json:"message"`
}

type retryRequest struct {
	URLs []string `json:"urls"`
}

// jobView is the polling representation of a job.
type jobView struct {
	crawler.Job
	PagesCount      int `json:"pages_count"`
	FailedURLsCount int `json:"failed_urls_count"`
	ErrorsCount     int `json:"errors_count"`
}

type jobSummary struct {
	JobID   string            `json:"job_id"`
	Status  crawler.JobStatus `json:"status"`
	URL     string            `json:"url"`
	Message string            `json:"message"`
}

func newJobView(job crawler.Job) jobView {
	if job.Pages == nil {
		job.Pages = []crawler.PageResult{}
	}
	if job.FailedURLs == nil {
		job.FailedURLs = []crawler.FailedURL{}
	}
	if job.Errors == nil {
		job.Errors = []string{}
	}
	return jobView{
		Job:             job,
		PagesCount:      len(job.Pages),
		FailedURLsCount: len(job.FailedURLs),
		ErrorsCount:     len(job.Errors),
	}
}

func (s *Server) submitScrape(w http.ResponseWriter, r *http.Request) {
	var req scrapeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(strings.TrimSpace(req.AuthorizationToken)) < s.cfg.Auth.MinTokenLength {
		writeError(w, http.StatusUnauthorized, messageUnauthorized)
		return
	}
	depth := s.cfg.Scraper.MaxDepthDefault
	if req.MaxDepth != nil {
		if *req.MaxDepth < jobs.MinDepth {
			writeError(w, http.StatusBadRequest, jobs.ErrInvalidDepth.Error())
			return
		}
		depth = *req.MaxDepth
	}
	includeImages := s.cfg.Scraper.IncludeImagesDefault
	if req.IncludeImages != nil {
		includeImages = *req.IncludeImages
	}

	id, err := s.jobs.Submit(r.Context(), jobs.SubmitRequest{
		URL:           req.URL,
		MaxDepth:      depth,
		IncludeImages: includeImages,
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, scrapeResponse{
		JobID:   id,
		Status:  crawler.JobStatusPending,
		Message: messageSubmitted,
	})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Get(r.Context(), chi.URLParam(r, "job_id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newJobView(job))
}

func (s *Server) retryJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	var req retryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := s.jobs.Retry(r.Context(), jobID, req.URLs); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.logger.Debug("retry accepted via API", zap.String("job_id", jobID), zap.Int("urls", len(req.URLs)))
	writeJSON(w, http.StatusAccepted, scrapeResponse{
		JobID:   jobID,
		Status:  crawler.JobStatusInProgress,
		Message: "Retry started. Use job_id to check status.",
	})
}

func (s *Server) deleteJob(w http.ResponseWriter, r *http.Request) {
	if err := s.jobs.Delete(r.Context(), chi.URLParam(r, "job_id")); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": messageDeleted})
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	all, err := s.jobs.List(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	out := make([]jobSummary, 0, len(all))
	for _, j := range all {
		out = append(out, jobSummary{JobID: j.ID, Status: j.Status, URL: j.URL, Message: j.Message})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total_jobs": len(out),
		"jobs":       out,
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	active, err := s.jobs.ActiveJobs(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "healthy",
		"service":     ServiceName,
		"active_jobs": active,
	})
}

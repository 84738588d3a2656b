package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareLabelsByRoutePattern(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/scrape/{job_id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	r.Delete("/scrape/{job_id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})

	accepted := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "202"))
	conflicts := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodDelete, "409"))

	for _, id := range []string{"a", "b"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/scrape/"+id, nil))
		require.Equal(t, http.StatusAccepted, rec.Code)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/scrape/c", nil))
	require.Equal(t, http.StatusConflict, rec.Code)

	assert.Equal(t, accepted+2, testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "202")))
	assert.Equal(t, conflicts+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodDelete, "409")))
	// Job IDs collapse into the route pattern rather than one series per job.
	assert.Equal(t, 1, testutil.CollectAndCount(httpRequestDurationSeconds.WithLabelValues(http.MethodGet, "/scrape/{job_id}").(prometheus.Collector)))
}

func TestMiddlewareDefaultsToOK(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "200"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, before+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "200")))
}

func TestObservePromotion(t *testing.T) {
	Init()
	before := testutil.ToFloat64(scraperPromotionsTotal)
	ObservePromotion()
	assert.Equal(t, before+1, testutil.ToFloat64(scraperPromotionsTotal))
}

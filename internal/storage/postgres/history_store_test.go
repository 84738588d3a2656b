package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-scraper/internal/crawler"
)

func sampleRecord() crawler.HistoryRecord {
	now := time.Unix(1700000000, 0).UTC()
	return crawler.HistoryRecord{
		JobID:        "job-1",
		URL:          "https://example.com",
		Status:       crawler.JobStatusCompleted,
		Kind:         crawler.TaskScrape,
		PagesScraped: 4,
		FailedCount:  1,
		TotalURLs:    5,
		OutputDir:    "scraped_data/example.com_20231114_221320",
		Message:      "Scraping completed",
		StartedAt:    now.Add(-time.Minute),
		FinishedAt:   now,
	}
}

func TestRecordJobInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewHistoryStoreWithPool(mock, "")
	require.NoError(t, err)

	rec := sampleRecord()
	mock.ExpectExec("INSERT INTO scrape_jobs").
		WithArgs(
			rec.JobID,
			rec.URL,
			"scrape",
			"completed",
			rec.PagesScraped,
			rec.FailedCount,
			rec.TotalURLs,
			rec.OutputDir,
			rec.Message,
			rec.StartedAt,
			rec.FinishedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.RecordJob(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordJobPropagatesErrors(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewHistoryStoreWithPool(mock, "history")
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO history").WillReturnError(errors.New("connection reset"))
	err = store.RecordJob(context.Background(), sampleRecord())
	require.ErrorContains(t, err, "insert history")
	require.NoError(t, mock.ExpectationsWereMet())

	rec := sampleRecord()
	rec.JobID = ""
	require.Error(t, store.RecordJob(context.Background(), rec))
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewHistoryStoreWithPool(mock, "jobs_v2")
	require.NoError(t, err)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS jobs_v2").WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewHistoryStoreValidation(t *testing.T) {
	t.Parallel()

	_, err := NewHistoryStoreWithPool(nil, "x")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewHistoryStoreWithPool(mock, "drop table;")
	require.Error(t, err)

	_, err = NewHistoryStore(context.Background(), HistoryStoreConfig{})
	require.Error(t, err)

	var nilStore *HistoryStore
	require.Error(t, nilStore.RecordJob(context.Background(), sampleRecord()))
	nilStore.Close()
}

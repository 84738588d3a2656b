// Package server builds the scraper's dependency graph and runs it, either as
// a long-lived HTTP service or as a one-shot scrape.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-scraper/internal/api"
	"github.com/JakeFAU/site-scraper/internal/clock/system"
	"github.com/JakeFAU/site-scraper/internal/config"
	"github.com/JakeFAU/site-scraper/internal/crawler"
	"github.com/JakeFAU/site-scraper/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/site-scraper/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/site-scraper/internal/fetcher/headless"
	"github.com/JakeFAU/site-scraper/internal/fetcher/promote"
	"github.com/JakeFAU/site-scraper/internal/headless/detector"
	"github.com/JakeFAU/site-scraper/internal/id/uuid"
	"github.com/JakeFAU/site-scraper/internal/jobs"
	gcppublisher "github.com/JakeFAU/site-scraper/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/site-scraper/internal/queue/memory"
	"github.com/JakeFAU/site-scraper/internal/scrape"
	"github.com/JakeFAU/site-scraper/internal/sitemap"
	gcsstorage "github.com/JakeFAU/site-scraper/internal/storage/gcs"
	localstorage "github.com/JakeFAU/site-scraper/internal/storage/local"
	memoryStorage "github.com/JakeFAU/site-scraper/internal/storage/memory"
	pgstore "github.com/JakeFAU/site-scraper/internal/storage/postgres"
	sqlitestore "github.com/JakeFAU/site-scraper/internal/storage/sqlite"
	"github.com/JakeFAU/site-scraper/internal/worker"
)

const pollInterval = 250 * time.Millisecond

// App contains the application's dependencies.
type App struct {
	cfg           *config.Config
	logger        *zap.Logger
	apiServer     *api.Server
	dispatch      *dispatcher.Dispatcher
	manager       *jobs.Manager
	queue         *queueMemory.Queue
	jobStore      *memoryStorage.JobStore
	artifacts     *localstorage.ArtifactStore
	headless      *headlessfetcher.Fetcher
	pubsubClient  *pubsub.Client
	publisher     *gcppublisher.Publisher
	storage       *storage.Client
	pgHistory     *pgstore.HistoryStore
	sqliteHistory *sqlitestore.HistoryStore

	workersOnce sync.Once
	workersDone chan struct{}
}

// Build creates the application's dependencies. Nothing runs until Run,
// StartWorkers or ScrapeOnce is called.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{cfg: cfg, logger: logger, workersDone: make(chan struct{})}
	app.logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.String("fetcher", cfg.Fetcher.Mode),
		zap.String("output_dir", cfg.Storage.OutputDir),
	)

	clock := system.New()
	app.jobStore = memoryStorage.NewJobStore(clock)
	app.queue = queueMemory.NewQueue(cfg.Jobs.QueueDepth)

	mirror, err := setupMirror(ctx, app)
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}
	app.artifacts, err = localstorage.New(localstorage.Config{
		BaseDir:      cfg.Storage.OutputDir,
		Mirror:       mirror,
		MirrorPrefix: cfg.Storage.Prefix,
	}, logger.Named("artifacts"))
	if err != nil {
		app.closeInfrastructure()
		return nil, fmt.Errorf("artifact store init failed: %w", err)
	}

	history, err := setupHistory(ctx, app)
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}

	publisher, err := setupPublisher(ctx, app)
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}

	fetcher, starter, err := setupFetcher(app)
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}

	app.dispatch = setupDispatcher(app, fetcher, starter, history, publisher, clock)
	app.manager = jobs.NewManager(
		app.jobStore,
		app.dispatch,
		uuid.New(),
		clock,
		app.artifacts,
		jobs.Config{DefaultMaxDepth: cfg.Scraper.MaxDepthDefault},
		logger.Named("jobs"),
	)
	app.apiServer = api.NewServer(app.manager, *cfg, logger.Named("api"))
	return app, nil
}

// Manager exposes the job manager.
func (a *App) Manager() *jobs.Manager {
	return a.manager
}

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// StartWorkers launches the worker pool once. The returned channel closes
// when every worker has stopped.
func (a *App) StartWorkers(ctx context.Context) <-chan struct{} {
	a.workersOnce.Do(func() {
		go func() {
			defer close(a.workersDone)
			a.logger.Info("dispatcher started", zap.Int("workers", a.cfg.Jobs.Workers))
			a.dispatch.Run(ctx)
		}()
	})
	return a.workersDone
}

// Run recovers jobs from disk, starts the workers and serves HTTP until the
// context is canceled or a termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if n, err := a.manager.Recover(ctx); err != nil {
		a.logger.Warn("job recovery failed", zap.Error(err))
	} else {
		a.logger.Info("jobs recovered from disk", zap.Int("count", n))
	}

	workersDone := a.StartWorkers(ctx)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	a.queue.Close()
	select {
	case <-workersDone:
	case <-shutdownCtx.Done():
		a.logger.Warn("workers did not stop before shutdown deadline")
	}

	return a.Close(shutdownCtx)
}

// ScrapeOnce submits a single job, waits for it to finish and returns its
// final state. Workers are started if they are not running yet.
func (a *App) ScrapeOnce(ctx context.Context, req jobs.SubmitRequest) (crawler.Job, error) {
	a.StartWorkers(ctx)
	id, err := a.manager.Submit(ctx, req)
	if err != nil {
		return crawler.Job{}, fmt.Errorf("submit job: %w", err)
	}
	return a.WaitForJob(ctx, id)
}

// WaitForJob polls the job store until the job reaches a terminal status.
func (a *App) WaitForJob(ctx context.Context, id string) (crawler.Job, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		job, err := a.manager.Get(ctx, id)
		if err != nil {
			return crawler.Job{}, err
		}
		if job.Status.Terminal() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return job, fmt.Errorf("wait for job %s: %w", id, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Close gracefully shuts down the application.
func (a *App) Close(_ context.Context) error {
	a.queue.Close()
	a.closeInfrastructure()
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure() {
	if a.headless != nil {
		a.headless.Close()
	}
	if a.publisher != nil {
		a.publisher.Close()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.pgHistory != nil {
		a.pgHistory.Close()
	}
	if a.sqliteHistory != nil {
		if err := a.sqliteHistory.Close(); err != nil {
			a.logger.Warn("sqlite history close failed", zap.Error(err))
		}
	}
}

func setupMirror(ctx context.Context, app *App) (crawler.BlobStore, error) {
	if app.cfg.Storage.GCSBucket == "" {
		app.logger.Info("artifact mirror disabled")
		return nil, nil
	}
	var err error
	app.storage, err = storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcs client init failed: %w", err)
	}
	mirror, err := gcsstorage.New(app.storage, gcsstorage.Config{Bucket: app.cfg.Storage.GCSBucket})
	if err != nil {
		return nil, fmt.Errorf("gcs blob store init failed: %w", err)
	}
	app.logger.Info("mirroring artifacts to GCS",
		zap.String("bucket", app.cfg.Storage.GCSBucket),
		zap.String("prefix", app.cfg.Storage.Prefix),
	)
	return mirror, nil
}

func setupHistory(ctx context.Context, app *App) (crawler.HistoryRecorder, error) {
	var err error
	switch app.cfg.History.Driver {
	case config.HistorySQLite:
		app.sqliteHistory, err = sqlitestore.Open(ctx, app.cfg.History.SQLitePath, app.cfg.History.Table)
		if err != nil {
			return nil, fmt.Errorf("sqlite history init failed: %w", err)
		}
		app.logger.Info("job history stored in sqlite", zap.String("path", app.cfg.History.SQLitePath))
		return app.sqliteHistory, nil
	case config.HistoryPostgres:
		app.pgHistory, err = pgstore.NewHistoryStore(ctx, pgstore.HistoryStoreConfig{
			DSN:      app.cfg.History.DSN,
			Table:    app.cfg.History.Table,
			MaxConns: app.cfg.History.MaxConns,
		})
		if err != nil {
			return nil, fmt.Errorf("postgres history init failed: %w", err)
		}
		app.logger.Info("job history stored in postgres", zap.String("table", app.cfg.History.Table))
		return app.pgHistory, nil
	default:
		app.logger.Info("job history disabled")
		return nil, nil
	}
}

func setupPublisher(ctx context.Context, app *App) (crawler.Publisher, error) {
	if app.cfg.PubSub.TopicName == "" || app.cfg.PubSub.ProjectID == "" {
		app.logger.Info("no Pub/Sub topic configured, job events are not published")
		return nil, nil
	}
	var err error
	app.pubsubClient, err = pubsub.NewClient(ctx, app.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.publisher = gcppublisher.New(app.pubsubClient)
	app.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.TopicName),
	)
	return app.publisher, nil
}

func setupFetcher(app *App) (crawler.Fetcher, crawler.Starter, error) {
	static := collyfetcher.New(collyfetcher.Config{
		UserAgent: app.cfg.Scraper.UserAgent,
		Timeout:   app.cfg.PageTimeout(),
	})
	if app.cfg.Fetcher.Mode == config.FetcherStatic {
		app.logger.Info("using colly fetcher", zap.String("user_agent", app.cfg.Scraper.UserAgent))
		return static, nil, nil
	}
	var err error
	app.headless, err = headlessfetcher.NewChromedp(headlessfetcher.Config{
		MaxParallel:       app.cfg.Headless.MaxParallel,
		UserAgent:         app.cfg.Scraper.UserAgent,
		NavigationTimeout: app.cfg.PageTimeout(),
		IdleGrace:         time.Duration(app.cfg.Headless.NetworkIdleMs) * time.Millisecond,
		DisableSandbox:    app.cfg.Headless.DisableSandbox,
		WindowWidth:       app.cfg.Headless.WindowWidth,
		WindowHeight:      app.cfg.Headless.WindowHeight,
	}, app.logger.Named("headless"))
	if err != nil {
		return nil, nil, fmt.Errorf("headless fetcher init failed: %w", err)
	}
	if app.cfg.Fetcher.Mode == config.FetcherAuto {
		// The browser launches on the first promoted page, not at job start.
		app.logger.Info("using colly fetcher with headless promotion",
			zap.Int("promotion_threshold", app.cfg.Fetcher.PromotionThreshold),
			zap.Int("max_parallel", app.cfg.Headless.MaxParallel),
		)
		heuristic := detector.NewHeuristic(app.cfg.Fetcher.PromotionThreshold)
		return promote.New(static, app.headless, heuristic, app.logger.Named("promote")), nil, nil
	}
	app.logger.Info("using headless fetcher", zap.Int("max_parallel", app.cfg.Headless.MaxParallel))
	return app.headless, app.headless, nil
}

func setupDispatcher(
	app *App,
	fetcher crawler.Fetcher,
	starter crawler.Starter,
	history crawler.HistoryRecorder,
	publisher crawler.Publisher,
	clock crawler.Clock,
) *dispatcher.Dispatcher {
	builder := sitemap.New(fetcher, clock, sitemap.Config{
		PageTimeout: app.cfg.PageTimeout(),
		MaxVisited:  app.cfg.Scraper.MaxVisited,
	}, app.logger.Named("sitemap"))
	orchestrator := scrape.New(fetcher, clock, scrape.Config{
		Concurrency:      app.cfg.Scraper.MaxConcurrentPages,
		PageTimeout:      app.cfg.PageTimeout(),
		MaxImagesPerPage: app.cfg.Scraper.MaxImagesPerPage,
	}, app.logger.Named("scrape"))

	workerCfg := worker.Config{Topic: app.cfg.PubSub.TopicName}
	app.logger.Info("worker config",
		zap.Int("workers", app.cfg.Jobs.Workers),
		zap.Int("queue_depth", app.cfg.Jobs.QueueDepth),
		zap.Int("max_concurrent_pages", app.cfg.Scraper.MaxConcurrentPages),
		zap.Duration("page_timeout", app.cfg.PageTimeout()),
		zap.String("topic", workerCfg.Topic),
	)

	runners := make([]dispatcher.Runner, 0, app.cfg.Jobs.Workers)
	for i := 0; i < app.cfg.Jobs.Workers; i++ {
		runners = append(runners, worker.New(
			app.queue,
			app.jobStore,
			builder,
			orchestrator,
			app.artifacts,
			starter,
			history,
			publisher,
			clock,
			workerCfg,
			app.logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	return dispatcher.New(app.queue, runners)
}

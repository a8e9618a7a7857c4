// Package server builds the application object graph and runs the service.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/evidentlabs/rivalscan/internal/api"
	"github.com/evidentlabs/rivalscan/internal/clock/system"
	"github.com/evidentlabs/rivalscan/internal/config"
	"github.com/evidentlabs/rivalscan/internal/dispatcher"
	"github.com/evidentlabs/rivalscan/internal/evidence"
	"github.com/evidentlabs/rivalscan/internal/extract"
	"github.com/evidentlabs/rivalscan/internal/fetch"
	collyfetch "github.com/evidentlabs/rivalscan/internal/fetch/colly"
	"github.com/evidentlabs/rivalscan/internal/fetch/detector"
	headlessfetch "github.com/evidentlabs/rivalscan/internal/fetch/headless"
	"github.com/evidentlabs/rivalscan/internal/hash/sha256"
	"github.com/evidentlabs/rivalscan/internal/id/uuid"
	"github.com/evidentlabs/rivalscan/internal/logging"
	"github.com/evidentlabs/rivalscan/internal/policy/ratelimit"
	"github.com/evidentlabs/rivalscan/internal/policy/simple"
	"github.com/evidentlabs/rivalscan/internal/progress"
	progresssinks "github.com/evidentlabs/rivalscan/internal/progress/sinks"
	memorypublisher "github.com/evidentlabs/rivalscan/internal/publisher/memory"
	gcppublisher "github.com/evidentlabs/rivalscan/internal/publisher/pubsub"
	queueMemory "github.com/evidentlabs/rivalscan/internal/queue/memory"
	queuePubsub "github.com/evidentlabs/rivalscan/internal/queue/pubsub"
	"github.com/evidentlabs/rivalscan/internal/scoring"
	"github.com/evidentlabs/rivalscan/internal/search/brave"
	gcsstorage "github.com/evidentlabs/rivalscan/internal/storage/gcs"
	localstorage "github.com/evidentlabs/rivalscan/internal/storage/local"
	memoryStorage "github.com/evidentlabs/rivalscan/internal/storage/memory"
	pgstore "github.com/evidentlabs/rivalscan/internal/storage/postgres"
	"github.com/evidentlabs/rivalscan/internal/store"
	"github.com/evidentlabs/rivalscan/internal/worker"
)

// App contains the application's dependencies.
type App struct {
	cfg             *config.Config
	logger          *zap.Logger
	apiServer       *api.Server
	dispatch        *dispatcher.Dispatcher
	progressHub     *progress.Hub
	queue           evidence.Queue
	memQueue        *queueMemory.Queue
	psQueue         *queuePubsub.Queue
	pubsubClient    *pubsub.Client
	pubsubPublisher *gcppublisher.Publisher
	gcsClient       *storage.Client
	runRepo         store.RunRepository
	headless        *headlessfetch.Fetcher
}

// Run starts the application and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		a.logger.Info("dispatcher started")
		a.dispatch.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
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

	return a.Close(shutdownCtx)
}

// Close gracefully shuts down the application.
func (a *App) Close(ctx context.Context) error {
	if a.memQueue != nil {
		a.memQueue.Close()
	}
	if a.psQueue != nil {
		if err := a.psQueue.Close(); err != nil {
			a.logger.Warn("pubsub queue close failed", zap.Error(err))
		}
	}
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if pgRepo, ok := a.runRepo.(*pgstore.RunStore); ok {
		pgRepo.Close()
	}
	if a.headless != nil {
		a.headless.Close()
	}
	if err := a.logger.Sync(); err != nil {
		a.logger.Warn("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return nil
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)

	app := &App{cfg: cfg, logger: logger}
	app.logger.Info("building application dependencies", zap.Int("port", cfg.Server.Port))

	scanStore := memoryStorage.NewScanStore()

	snapshotStore, err := setupSnapshots(ctx, app)
	if err != nil {
		return nil, err
	}

	if err = setupRunRepo(ctx, app); err != nil {
		return nil, err
	}

	if err = setupPubsubClient(ctx, app); err != nil {
		return nil, err
	}

	publisher, err := setupPublisher(app)
	if err != nil {
		return nil, err
	}

	if err = setupProgress(ctx, app); err != nil {
		return nil, err
	}

	if err = setupQueue(ctx, app); err != nil {
		return nil, err
	}

	app.dispatch, err = setupDispatcher(app, scanStore, snapshotStore, publisher)
	if err != nil {
		return nil, err
	}

	app.apiServer = api.NewServer(
		scanStore,
		app.dispatch,
		api.NewRunHandler(app.runRepo, logger.Named("runs")),
		uuid.New(),
		system.New(),
		*cfg,
		logger.Named("api"),
	)

	return app, nil
}

func setupSnapshots(ctx context.Context, app *App) (evidence.SnapshotStore, error) {
	switch app.cfg.Storage.Backend {
	case "gcs":
		app.logger.Info("using GCS snapshot backend", zap.String("bucket", app.cfg.Storage.Bucket))
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		app.gcsClient = client
		snapshots, err := gcsstorage.New(client, gcsstorage.Config{
			Bucket: app.cfg.Storage.Bucket,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs snapshot store init failed: %w", err)
		}
		return snapshots, nil
	case "local":
		app.logger.Info("using local snapshot backend", zap.String("path", app.cfg.Storage.Local.BaseDir))
		snapshots, err := localstorage.New(localstorage.Config{
			BaseDir: app.cfg.Storage.Local.BaseDir,
		})
		if err != nil {
			return nil, fmt.Errorf("local snapshot store init failed: %w", err)
		}
		return snapshots, nil
	default:
		app.logger.Info("using in-memory snapshot backend")
		return memoryStorage.NewSnapshotStore(), nil
	}
}

func setupRunRepo(ctx context.Context, app *App) error {
	if app.cfg.Database.DSN == "" {
		app.logger.Warn("no database DSN configured, run history disabled")
		return nil
	}
	runStore, err := pgstore.NewRunStore(ctx, pgstore.Config{
		DSN:             app.cfg.Database.DSN,
		MaxConns:        int32(app.cfg.Database.MaxConns),
		MinConns:        int32(app.cfg.Database.MinConns),
		MaxConnLifetime: time.Duration(app.cfg.Database.MaxConnLifetimeMin) * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("run store init failed: %w", err)
	}
	app.runRepo = runStore
	app.logger.Info("run history store initialized")
	return nil
}

func setupPubsubClient(ctx context.Context, app *App) error {
	if app.cfg.PubSub.ProjectID == "" {
		return nil
	}
	client, err := pubsub.NewClient(ctx, app.cfg.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.pubsubClient = client
	return nil
}

func setupPublisher(app *App) (evidence.Publisher, error) {
	if app.pubsubClient == nil || app.cfg.PubSub.TopicName == "" {
		app.logger.Warn("no Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	pub, err := gcppublisher.New(app.pubsubClient)
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	app.pubsubPublisher = pub
	app.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.TopicName),
	)
	return pub, nil
}

func setupQueue(ctx context.Context, app *App) error {
	if app.pubsubClient != nil && app.cfg.PubSub.JobsTopic != "" && app.cfg.PubSub.Subscription != "" {
		q, err := queuePubsub.NewWithClient(ctx, app.pubsubClient, queuePubsub.Config{
			ProjectID:      app.cfg.PubSub.ProjectID,
			TopicID:        app.cfg.PubSub.JobsTopic,
			SubscriptionID: app.cfg.PubSub.Subscription,
		}, app.logger.Named("queue"))
		if err != nil {
			return fmt.Errorf("pubsub queue init failed: %w", err)
		}
		app.psQueue = q
		app.queue = q
		app.logger.Info("Pub/Sub scan queue initialized",
			zap.String("topic", app.cfg.PubSub.JobsTopic),
			zap.String("subscription", app.cfg.PubSub.Subscription),
		)
		return nil
	}
	app.memQueue = queueMemory.NewQueue(app.cfg.Scan.QueueDepth)
	app.queue = app.memQueue
	app.logger.Info("in-memory scan queue initialized", zap.Int("depth", app.cfg.Scan.QueueDepth))
	return nil
}

func setupProgress(ctx context.Context, app *App) error {
	if !app.cfg.Progress.Enabled {
		app.logger.Info("progress tracking disabled")
		return nil
	}
	var sinkList []progress.Sink
	if app.runRepo != nil {
		sinkList = append(
			sinkList,
			progresssinks.NewStoreSink(app.runRepo, app.logger.Named("progress_store")),
		)
	}
	if app.cfg.Progress.LogEnabled {
		sinkList = append(
			sinkList,
			progresssinks.NewLogSink(app.logger.Named("progress_log")),
		)
	}
	promSink, err := progresssinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("prometheus sink init failed: %w", err)
	}
	sinkList = append(sinkList, promSink)

	hubCfg := progress.Config{
		BufferSize:     app.cfg.Progress.BufferSize,
		MaxBatchEvents: app.cfg.Progress.Batch.MaxEvents,
		MaxBatchWait:   time.Duration(app.cfg.Progress.Batch.MaxWaitMs) * time.Millisecond,
		SinkTimeout:    time.Duration(app.cfg.Progress.SinkTimeoutMs) * time.Millisecond,
		BaseContext:    ctx,
		Logger:         app.logger.Named("progress_hub"),
	}
	app.progressHub = progress.NewHub(hubCfg, sinkList...)
	app.logger.Info("progress hub initialized",
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("sinks", len(sinkList)),
	)
	return nil
}

func setupDispatcher(
	app *App,
	scanStore evidence.ScanStore,
	snapshotStore evidence.SnapshotStore,
	publisher evidence.Publisher,
) (*dispatcher.Dispatcher, error) {
	cfg := app.cfg
	hasher := sha256.New()
	clock := system.New()
	detect := detector.NewHeuristic(cfg.Headless.ShellThresholdBytes)
	probe := collyfetch.New(collyfetch.Config{
		UserAgent:     cfg.Scan.UserAgent,
		RespectRobots: true,
		Timeout:       cfg.RequestTimeout(),
	})
	app.logger.Info("probe fetcher ready", zap.String("user_agent", cfg.Scan.UserAgent))

	var headless evidence.Fetcher
	if cfg.Headless.Enabled {
		hf, err := headlessfetch.NewChromedp(headlessfetch.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Scan.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutMs) * time.Millisecond,
		})
		if err != nil {
			app.logger.Warn("headless fetcher init failed", zap.Error(err))
		} else {
			app.headless = hf
			headless = hf
			app.logger.Info("headless fetcher ready", zap.Int("max_parallel", cfg.Headless.MaxParallel))
		}
	}

	var searcher evidence.Searcher
	if cfg.Search.Enabled {
		client, err := brave.New(brave.Config{
			APIKey:            cfg.Search.APIKey,
			Endpoint:          cfg.Search.Endpoint,
			RequestsPerSecond: cfg.Search.RequestsPerSecond,
			Timeout:           cfg.RequestTimeout(),
		}, nil, app.logger.Named("search"))
		if err != nil {
			return nil, fmt.Errorf("search client init failed: %w", err)
		}
		searcher = client
		app.logger.Info("search augmentation enabled", zap.Int("max_results", cfg.Search.MaxResults))
	}

	var policy evidence.Policy
	if cfg.RateLimit.Enabled {
		policy = ratelimit.New(ratelimit.Config{
			DefaultRPS:         cfg.RateLimit.DefaultRPS,
			DefaultBurst:       cfg.RateLimit.DefaultBurst,
			MaxHeadlessPerScan: cfg.RateLimit.MaxHeadlessPerScan,
		})
		app.logger.Info("rate limiter enabled",
			zap.Float64("default_rps", cfg.RateLimit.DefaultRPS),
			zap.Int("default_burst", cfg.RateLimit.DefaultBurst),
		)
	} else {
		policy = simple.New()
		app.logger.Info("rate limiter disabled, using simple policy")
	}

	threshold := cfg.Threshold()
	weights := cfg.Scoring.Weights
	buckets := cfg.Scoring.Buckets
	workerCfg := worker.Config{
		SnapshotPrefix: cfg.Storage.Prefix,
		ContentType:    cfg.Storage.ContentType,
		Topic:          cfg.PubSub.TopicName,
		SearchResults:  cfg.Search.MaxResults,
		DenyDomains:    cfg.Scan.DenyDomains,
		Fetch: fetch.Config{
			Budget:         cfg.FetchBudget(),
			RequestTimeout: cfg.RequestTimeout(),
			Concurrency:    cfg.Scan.FetchConcurrency,
			TextCharCap:    cfg.Scan.TextCharCap,
		},
		Extract: extract.Config{
			TextCharCap:       cfg.Scan.TextCharCap,
			RecencyWindowDays: cfg.Scan.RecencyWindowDays,
		},
		Scoring: scoring.Options{
			Threshold: &threshold,
			Weights:   &weights,
			Buckets:   &buckets,
		},
		ShortlistQuota: cfg.Scan.ShortlistQuota,
	}

	var workers []*worker.Worker
	for i := 0; i < cfg.Scan.Concurrency; i++ {
		workers = append(workers, worker.New(
			app.queue,
			scanStore,
			snapshotStore,
			publisher,
			searcher,
			hasher,
			clock,
			probe,
			headless,
			detect,
			policy,
			app.progressHub,
			workerCfg,
			app.logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	return dispatcher.New(app.queue, workers), nil
}

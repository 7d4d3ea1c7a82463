// Package app builds the long-lived services of one crawl run and tears them
// down again: snapshot storage, notice publishing, run statistics, progress
// fan-out, tracing and the optional status server.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	gstorage "cloud.google.com/go/storage"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/pcspec-crawler/internal/api"
	"github.com/JakeFAU/pcspec-crawler/internal/config"
	"github.com/JakeFAU/pcspec-crawler/internal/crawler"
	idgen "github.com/JakeFAU/pcspec-crawler/internal/id/uuid"
	"github.com/JakeFAU/pcspec-crawler/internal/orchestrator"
	"github.com/JakeFAU/pcspec-crawler/internal/progress"
	progresssinks "github.com/JakeFAU/pcspec-crawler/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/pcspec-crawler/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/pcspec-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/pcspec-crawler/internal/sites"
	gcsstorage "github.com/JakeFAU/pcspec-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/pcspec-crawler/internal/storage/local"
	memorystorage "github.com/JakeFAU/pcspec-crawler/internal/storage/memory"
	pgstore "github.com/JakeFAU/pcspec-crawler/internal/storage/postgres"
	"github.com/JakeFAU/pcspec-crawler/internal/store"
	"github.com/JakeFAU/pcspec-crawler/internal/telemetry"
	"github.com/JakeFAU/pcspec-crawler/internal/writer"
)

const (
	serviceName     = "pcspec-crawler"
	shutdownTimeout = 10 * time.Second
)

// Options adjust how Build wires the run. The zero value is production.
type Options struct {
	// Sources restricts the run to the named sources.
	Sources []string
	// Version is reported in trace resources.
	Version string
	// Loaders replaces the colly/chromedp loader factory.
	Loaders orchestrator.LoaderFactory
	// NewStrategy replaces the site registry.
	NewStrategy func(name string, deps sites.Deps) (crawler.Strategy, error)
	// Registerer receives the progress metrics; defaults to the global registry.
	Registerer prometheus.Registerer
}

// App contains the dependencies of one crawl run.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	runID  uuid.UUID

	orch            *orchestrator.Orchestrator
	statusServer    *http.Server
	progressHub     *progress.Hub
	storageClient   *gstorage.Client
	pubsubClient    *pubsub.Client
	pubsubPublisher *gcppublisher.Publisher
	runStore        *pgstore.RunStore
	tracerShutdown  func(context.Context) error
}

// Build creates the application's dependencies. On error everything built so
// far is closed again.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}
	if err := a.build(ctx, opts); err != nil {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		a.Close(closeCtx)
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, opts Options) error {
	sources, err := a.cfg.EnabledSources(opts.Sources...)
	if err != nil {
		return err
	}
	if len(sources) == 0 {
		return errors.New("no enabled sources to crawl")
	}
	a.runID = idgen.NewUUIDGenerator().MustRunID()
	a.logger = a.logger.With(zap.String("run_id", a.runID.String()))
	a.logger.Info("building application dependencies",
		zap.Int("sources", len(sources)),
		zap.String("output", a.cfg.Output.Backend),
		zap.Int("status_port", a.cfg.Server.Port),
	)

	tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{ServiceName: serviceName, ServiceVersion: opts.Version})
	if err != nil {
		return fmt.Errorf("tracer init failed: %w", err)
	}
	a.tracerShutdown = tp.Shutdown

	snapshots, err := a.setupStorage(ctx)
	if err != nil {
		return err
	}
	runs, err := a.setupDatabase(ctx)
	if err != nil {
		return err
	}
	publisher, err := a.setupPublisher(ctx)
	if err != nil {
		return err
	}
	emitter, err := a.setupProgress(ctx, runs, opts.Registerer)
	if err != nil {
		return err
	}

	loaders := opts.Loaders
	if loaders == nil {
		loaders = orchestrator.NewLoaders(a.cfg, a.logger.Named("loader"))
	}
	a.orch, err = orchestrator.New(orchestrator.Config{
		RunID:          a.runID,
		Sources:        sources,
		QueueDepth:     a.cfg.Crawler.QueueDepth,
		FetchTimeout:   a.cfg.FetchTimeout(),
		MaxActionSteps: a.cfg.Crawler.MaxActionSteps,
		Topic:          a.cfg.PubSub.TopicName,
	}, orchestrator.Deps{
		Store:       snapshots,
		Loaders:     loaders,
		Publisher:   publisher,
		Emitter:     emitter,
		NewStrategy: opts.NewStrategy,
	}, a.logger.Named("orchestrator"))
	if err != nil {
		return fmt.Errorf("orchestrator init failed: %w", err)
	}

	if a.cfg.Server.Port > 0 {
		a.statusServer = &http.Server{
			Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
			Handler:           api.NewServer(a.orch, runs, a.logger.Named("api")).Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}
	return nil
}

func (a *App) setupStorage(ctx context.Context) (crawler.SnapshotStore, error) {
	switch a.cfg.Output.Backend {
	case config.BackendGCS:
		a.logger.Info("using GCS snapshot backend", zap.String("bucket", a.cfg.Output.GCSBucket))
		var err error
		a.storageClient, err = gstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		snapshots, err := gcsstorage.New(a.storageClient, gcsstorage.Config{
			Bucket: a.cfg.Output.GCSBucket,
			Prefix: a.cfg.Output.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs snapshot store init failed: %w", err)
		}
		return snapshots, nil
	case config.BackendLocal:
		a.logger.Info("using local snapshot backend", zap.String("dir", a.cfg.Output.Dir))
		snapshots, err := localstorage.New(localstorage.Config{Dir: a.cfg.Output.Dir})
		if err != nil {
			return nil, fmt.Errorf("local snapshot store init failed: %w", err)
		}
		return snapshots, nil
	default:
		a.logger.Warn("unknown output backend, keeping snapshots in memory", zap.String("backend", a.cfg.Output.Backend))
		return memorystorage.NewSnapshotStore(), nil
	}
}

func (a *App) setupDatabase(ctx context.Context) (store.RunRepository, error) {
	if a.cfg.DB.DSN == "" {
		a.logger.Info("no database DSN, keeping run statistics in memory")
		return memorystorage.NewRunStore(), nil
	}
	var err error
	a.runStore, err = pgstore.NewRunStore(ctx, pgstore.Config{DSN: a.cfg.DB.DSN})
	if err != nil {
		return nil, fmt.Errorf("run store init failed: %w", err)
	}
	if err := a.runStore.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("run store schema: %w", err)
	}
	a.logger.Info("postgres run store initialized")
	return a.runStore, nil
}

func (a *App) setupPublisher(ctx context.Context) (writer.Publisher, error) {
	if a.cfg.PubSub.TopicName == "" || a.cfg.PubSub.ProjectID == "" {
		a.logger.Info("no Pub/Sub topic configured, snapshot notices stay in memory")
		return memorypublisher.New(), nil
	}
	var err error
	a.pubsubClient, err = pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.pubsubPublisher, err = gcppublisher.New(a.pubsubClient)
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return a.pubsubPublisher, nil
}

func (a *App) setupProgress(ctx context.Context, runs store.RunRepository, reg prometheus.Registerer) (progress.Emitter, error) {
	promSink, err := progresssinks.NewPrometheusSink(reg)
	if err != nil {
		return nil, fmt.Errorf("progress metrics init failed: %w", err)
	}
	hubCfg := progress.Config{
		BufferSize:     a.cfg.Progress.BufferSize,
		MaxBatchEvents: a.cfg.Progress.MaxBatchEvents,
		MaxBatchWait:   time.Duration(a.cfg.Progress.MaxBatchWaitMs) * time.Millisecond,
		BaseContext:    context.WithoutCancel(ctx),
		Logger:         a.logger.Named("progress_hub"),
	}
	a.progressHub = progress.NewHub(hubCfg,
		progresssinks.NewLogSink(a.logger.Named("progress_log")),
		promSink,
		progresssinks.NewStoreSink(runs, a.logger.Named("progress_store")),
	)
	a.logger.Debug("progress hub initialized",
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
	)
	return a.progressHub, nil
}

// RunID identifies the run built by Build.
func (a *App) RunID() uuid.UUID {
	return a.runID
}

// Status reports the live state of the run.
func (a *App) Status() orchestrator.Status {
	return a.orch.Status()
}

// Run crawls every source, serving status while it does, and shuts the
// application down afterwards. SIGINT and SIGTERM stop the crawl; batches
// already handed to the writer are still persisted.
func (a *App) Run(ctx context.Context) (orchestrator.Summary, error) {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if a.statusServer != nil {
		ln, err := net.Listen("tcp", a.statusServer.Addr)
		if err != nil {
			a.Close(context.Background())
			return orchestrator.Summary{}, fmt.Errorf("status server listen: %w", err)
		}
		go func() {
			a.logger.Info("status server started", zap.String("addr", ln.Addr().String()))
			if err := a.statusServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("status server error", zap.Error(err))
			}
		}()
	}

	summary, runErr := a.orch.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	a.Close(shutdownCtx)
	return summary, runErr
}

// Close releases every resource Build acquired. It is safe to call on a
// partially built App.
func (a *App) Close(ctx context.Context) {
	if a.statusServer != nil {
		if err := a.statusServer.Shutdown(ctx); err != nil {
			a.logger.Warn("status server shutdown failed", zap.Error(err))
		}
	}
	a.closeInfrastructure(ctx)
	a.closeObservability(ctx)
	a.logger.Info("shutdown complete")
}

func (a *App) closeInfrastructure(ctx context.Context) {
	// The hub drains into the run store, so it closes first.
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
		a.progressHub = nil
	}
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Close()
		a.pubsubPublisher = nil
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
		a.pubsubClient = nil
	}
	if a.storageClient != nil {
		if err := a.storageClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
		a.storageClient = nil
	}
	if a.runStore != nil {
		a.runStore.Close()
		a.runStore = nil
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
		a.tracerShutdown = nil
	}
}

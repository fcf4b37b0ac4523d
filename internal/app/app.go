// Package app builds and owns the long-lived services of a monitor process.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/trizel-monitor/internal/api"
	"github.com/JakeFAU/trizel-monitor/internal/archive"
	"github.com/JakeFAU/trizel-monitor/internal/clock/system"
	"github.com/JakeFAU/trizel-monitor/internal/collector"
	"github.com/JakeFAU/trizel-monitor/internal/config"
	collyfetcher "github.com/JakeFAU/trizel-monitor/internal/fetcher/colly"
	"github.com/JakeFAU/trizel-monitor/internal/id/uuid"
	pgledger "github.com/JakeFAU/trizel-monitor/internal/ledger/postgres"
	sqliteledger "github.com/JakeFAU/trizel-monitor/internal/ledger/sqlite"
	"github.com/JakeFAU/trizel-monitor/internal/monitor"
	"github.com/JakeFAU/trizel-monitor/internal/pipeline"
	"github.com/JakeFAU/trizel-monitor/internal/policy/ratelimit"
	gcppublisher "github.com/JakeFAU/trizel-monitor/internal/publisher/pubsub"
	"github.com/JakeFAU/trizel-monitor/internal/registry"
	gcsstorage "github.com/JakeFAU/trizel-monitor/internal/storage/gcs"
	localstorage "github.com/JakeFAU/trizel-monitor/internal/storage/local"
	"github.com/JakeFAU/trizel-monitor/internal/storage/tee"
	"github.com/JakeFAU/trizel-monitor/internal/writepolicy"
)

const shutdownTimeout = 10 * time.Second

// App contains the process dependencies.
type App struct {
	cfg          config.Config
	logger       *zap.Logger
	clock        monitor.Clock
	store        monitor.ObjectStore
	archive      *archive.Archive
	ledger       monitor.Ledger
	publisher    monitor.Publisher
	pubsubClient *pubsub.Client
	pubsubTopic  *pubsub.Topic
	gcsClient    *storage.Client

	pipelineOnce sync.Once
	pipeline     *pipeline.Pipeline
	pipelineErr  error
}

// Build creates the storage, ledger and publisher dependencies. The collection
// pipeline is built on first use so read-only commands do not need a registry.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{
		cfg:    cfg,
		logger: logger,
		clock:  system.New(),
	}
	app.logger.Info("building application dependencies",
		zap.String("root", cfg.Paths.Root),
		zap.String("ledger", cfg.Ledger.Driver),
	)

	if err := setupStorage(ctx, app); err != nil {
		app.Close()
		return nil, err
	}
	if err := setupLedger(ctx, app); err != nil {
		app.Close()
		return nil, err
	}
	if err := setupPublisher(ctx, app); err != nil {
		app.Close()
		return nil, err
	}
	app.archive = archive.New(archive.Config{
		SnapshotPrefix: cfg.Paths.Snapshots,
		ManifestPrefix: cfg.Paths.Manifests,
	}, app.store)
	return app, nil
}

func setupStorage(ctx context.Context, app *App) error {
	local, err := localstorage.New(localstorage.Config{BaseDir: app.cfg.Paths.Root})
	if err != nil {
		return fmt.Errorf("local store init failed: %w", err)
	}
	if app.cfg.Mirror.GCSBucket == "" {
		app.store = local
		return nil
	}
	app.gcsClient, err = storage.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("gcs client init failed: %w", err)
	}
	mirror, err := gcsstorage.New(app.gcsClient, gcsstorage.Config{
		Bucket: app.cfg.Mirror.GCSBucket,
		Prefix: app.cfg.Mirror.Prefix,
	})
	if err != nil {
		return fmt.Errorf("gcs mirror init failed: %w", err)
	}
	app.store, err = tee.New(local, app.logger.Named("mirror"), mirror)
	if err != nil {
		return fmt.Errorf("mirror store init failed: %w", err)
	}
	app.logger.Info("mirroring archive to GCS",
		zap.String("bucket", app.cfg.Mirror.GCSBucket),
		zap.String("prefix", app.cfg.Mirror.Prefix),
	)
	return nil
}

func setupLedger(ctx context.Context, app *App) error {
	var err error
	switch app.cfg.Ledger.Driver {
	case config.LedgerSQLite:
		app.ledger, err = sqliteledger.Open(ctx, sqliteledger.Config{
			Path:  app.cfg.Ledger.DSN,
			Table: app.cfg.Ledger.Table,
		})
	case config.LedgerPostgres:
		app.ledger, err = pgledger.New(ctx, pgledger.Config{
			DSN:   app.cfg.Ledger.DSN,
			Table: app.cfg.Ledger.Table,
		})
	default:
		app.logger.Info("write ledger disabled")
		return nil
	}
	if err != nil {
		app.ledger = nil
		return fmt.Errorf("ledger init failed: %w", err)
	}
	app.logger.Info("write ledger initialized",
		zap.String("driver", app.cfg.Ledger.Driver),
		zap.String("table", app.cfg.Ledger.Table),
	)
	return nil
}

func setupPublisher(ctx context.Context, app *App) error {
	if app.cfg.PubSub.Topic == "" {
		return nil
	}
	var err error
	app.pubsubClient, err = pubsub.NewClient(ctx, app.cfg.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.pubsubTopic = app.pubsubClient.Topic(app.cfg.PubSub.Topic)
	app.publisher = gcppublisher.New(app.pubsubTopic)
	app.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.Topic),
	)
	return nil
}

func (a *App) buildPipeline(ctx context.Context) (*pipeline.Pipeline, error) {
	reg, err := registry.Load(a.cfg.Paths.Registry)
	if err != nil {
		return nil, fmt.Errorf("load registry: %w", err)
	}
	a.logger.Info("registry loaded",
		zap.String("object", reg.Object),
		zap.Int("sources", len(reg.Sources)),
	)

	var fetcher monitor.Fetcher = collyfetcher.New(collyfetcher.Config{
		UserAgent: a.cfg.Fetch.UserAgent,
		Timeout:   a.cfg.FetchTimeout(),
		MaxBytes:  a.cfg.Fetch.MaxBytes,
	}, a.clock, a.logger.Named("fetcher"))
	if a.cfg.Fetch.RequestsPerSecond > 0 {
		limiter := ratelimit.New(ratelimit.Config{
			DefaultRPS:   a.cfg.Fetch.RequestsPerSecond,
			DefaultBurst: a.cfg.Fetch.Burst,
		})
		fetcher = ratelimit.NewFetcher(fetcher, limiter, a.clock)
		a.logger.Info("per-host rate limit enabled",
			zap.Float64("rps", a.cfg.Fetch.RequestsPerSecond),
			zap.Int("burst", a.cfg.Fetch.Burst),
		)
	}

	var rawStore monitor.BlobStore
	if a.cfg.Features.RawEvidence {
		rawStore = a.store
	}
	coll := collector.New(collector.Config{
		DefaultTimeout: a.cfg.FetchTimeout(),
		Resolver:       a.cfg.Features.Resolver,
		RawEvidence:    a.cfg.Features.RawEvidence,
		RawPrefix:      a.cfg.Paths.Raw,
	}, fetcher, rawStore, a.clock, a.logger.Named("collector"))

	writer := writepolicy.NewWriter(writepolicy.Config{
		SnapshotPrefix: a.cfg.Paths.Snapshots,
		ManifestPrefix: a.cfg.Paths.Manifests,
		Overwrite:      a.cfg.Policy.Overwrite,
		OverwriteToday: a.cfg.Policy.OverwriteToday,
	}, a.store, a.clock, a.logger.Named("writer"))

	runContext := a.cfg.RunContext()
	if a.cfg.Snapshot.IncludePlatforms && reg.Platforms != nil {
		runContext["platforms"] = reg.PlatformsJSON()
	}

	return pipeline.New(
		coll,
		writer,
		a.ledger,
		a.publisher,
		a.clock,
		uuid.New(),
		pipeline.Config{
			Object:     reg.Object,
			Sources:    reg.Sources,
			RunContext: runContext,
			Topic:      a.cfg.PubSub.Topic,
			MaxDays:    a.cfg.Backfill.MaxDays,
		},
		a.logger.Named("pipeline"),
	)
}

// GetRunner returns the collection pipeline, building it on first call.
func (a *App) GetRunner(ctx context.Context) (pipeline.Runner, error) {
	a.pipelineOnce.Do(func() {
		a.pipeline, a.pipelineErr = a.buildPipeline(ctx)
	})
	if a.pipelineErr != nil {
		return nil, a.pipelineErr
	}
	return a.pipeline, nil
}

// GetLogger returns the process logger.
func (a *App) GetLogger() *zap.Logger {
	return a.logger
}

// GetConfig returns the effective configuration.
func (a *App) GetConfig() config.Config {
	return a.cfg
}

// GetClock returns the wall clock.
func (a *App) GetClock() monitor.Clock {
	return a.clock
}

// GetArchive returns the read-only archive view.
func (a *App) GetArchive() *archive.Archive {
	return a.archive
}

// Serve runs the archive HTTP API until ctx is canceled.
func (a *App) Serve(ctx context.Context) error {
	apiServer := api.NewServer(a.archive, a.ledger, a.logger.Named("api"))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
	}
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

// Close releases every client the App opened.
func (a *App) Close() {
	if a.pubsubTopic != nil {
		a.pubsubTopic.Stop()
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
	if a.ledger != nil {
		if err := a.ledger.Close(); err != nil {
			a.logger.Warn("ledger close failed", zap.Error(err))
		}
	}
	a.logger.Debug("shutdown complete")
}

// Package app initializes and holds the long-lived services of a crawl run,
// acting as a dependency injection container.
package app

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/avitolab/listings-crawler/internal/config"
	"github.com/avitolab/listings-crawler/internal/crawler"
	"github.com/avitolab/listings-crawler/internal/database"
	"github.com/avitolab/listings-crawler/internal/proxy"
	"github.com/avitolab/listings-crawler/internal/publish"
	"github.com/avitolab/listings-crawler/internal/queue"
	"github.com/avitolab/listings-crawler/internal/storage"
)

// App holds the shared services wired up from configuration. Initialized
// once at startup and torn down via Close.
type App struct {
	Logger    *zap.Logger
	Config    config.Config
	RunID     string
	Queue     *queue.TaskQueue
	Pool      *proxy.Pool
	Store     crawler.RecordStore
	Blobs     crawler.BlobStore
	Publisher crawler.Publisher
	Clock     crawler.Clock

	pubsub *publish.PubSubPublisher
	gcs    *storage.GCSStore
}

// New builds every service the run needs, failing fast when any critical
// dependency cannot be initialized.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	clock := crawler.SystemClock{}
	runID := uuid.NewString()

	taskQueue, err := queue.New(cfg.Runner.MaxAttempts, logger, clock)
	if err != nil {
		return nil, fmt.Errorf("init task queue: %w", err)
	}

	pool, err := proxy.NewPool(cfg.Files.Proxies, cfg.Files.BlockedProxies, logger, clock)
	if err != nil {
		return nil, fmt.Errorf("init proxy pool: %w", err)
	}

	a := &App{
		Logger: logger,
		Config: cfg,
		RunID:  runID,
		Queue:  taskQueue,
		Pool:   pool,
		Clock:  clock,
	}

	if err := a.initStore(ctx); err != nil {
		return nil, err
	}
	if err := a.initBlobs(ctx); err != nil {
		return nil, err
	}
	if err := a.initPublisher(ctx); err != nil {
		return nil, err
	}

	logger.Info("application services initialized",
		zap.String("run_id", runID),
		zap.Int("proxies", pool.Size()))
	return a, nil
}

func (a *App) initStore(ctx context.Context) error {
	if a.Config.DB.DSN == "" {
		a.Logger.Warn("no database configured, listing records will be discarded")
		a.Store = database.NoOpStore{}
		return nil
	}
	store, err := database.NewListingStore(ctx, database.Config{
		DSN:      a.Config.DB.DSN,
		Schema:   a.Config.DB.Schema,
		MaxConns: int32(a.Config.DB.PoolSize),
	})
	if err != nil {
		return fmt.Errorf("init record store: %w", err)
	}
	if err := store.InitSchema(ctx); err != nil {
		store.Close()
		return fmt.Errorf("init listings schema: %w", err)
	}
	a.Store = store
	return nil
}

func (a *App) initBlobs(ctx context.Context) error {
	switch a.Config.Storage.Provider {
	case "gcs":
		gcs, err := storage.NewGCS(ctx, a.Config.Storage.GCSBucket, a.Config.Storage.Prefix)
		if err != nil {
			return fmt.Errorf("init GCS archive: %w", err)
		}
		a.gcs = gcs
		a.Blobs = gcs
		a.Logger.Info("archiving failing pages to GCS",
			zap.String("bucket", a.Config.Storage.GCSBucket))
	case "local":
		local, err := storage.NewLocal(a.Config.Storage.Dir, a.Config.Storage.Prefix)
		if err != nil {
			return fmt.Errorf("init local archive: %w", err)
		}
		a.Blobs = local
		a.Logger.Info("archiving failing pages locally",
			zap.String("dir", a.Config.Storage.Dir))
	default:
		a.Blobs = storage.NewNoOp()
	}
	return nil
}

func (a *App) initPublisher(ctx context.Context) error {
	if a.Config.PubSub.ProjectID == "" || a.Config.PubSub.TopicName == "" {
		a.Logger.Info("pubsub not configured, outcome events disabled")
		return nil
	}
	pub, err := publish.NewPubSub(ctx, a.Config.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("init pubsub publisher: %w", err)
	}
	a.pubsub = pub
	a.Publisher = pub
	a.Logger.Info("publishing outcome events",
		zap.String("topic", a.Config.PubSub.TopicName))
	return nil
}

// Close shuts the container's services down in reverse dependency order.
func (a *App) Close() {
	if a.pubsub != nil {
		if err := a.pubsub.Close(); err != nil {
			a.Logger.Warn("pubsub close failed", zap.Error(err))
		}
	}
	if a.gcs != nil {
		if err := a.gcs.Close(); err != nil {
			a.Logger.Warn("GCS client close failed", zap.Error(err))
		}
	}
	if a.Store != nil {
		a.Store.Close()
	}
	a.Logger.Info("application services shut down")
}

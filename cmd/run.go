package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/avitolab/listings-crawler/internal/api"
	"github.com/avitolab/listings-crawler/internal/app"
	"github.com/avitolab/listings-crawler/internal/browser"
	"github.com/avitolab/listings-crawler/internal/config"
	"github.com/avitolab/listings-crawler/internal/logging"
	"github.com/avitolab/listings-crawler/internal/metrics"
	"github.com/avitolab/listings-crawler/internal/parse"
	"github.com/avitolab/listings-crawler/internal/queue"
	"github.com/avitolab/listings-crawler/internal/source"
	"github.com/avitolab/listings-crawler/internal/supervisor"
	"github.com/avitolab/listings-crawler/internal/worker"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start a crawl over the configured items file",
		Long: `Loads item keys and proxies from the configured files, starts the
worker fleet under the supervisor, and serves the ops HTTP endpoints until
the queue is drained or the process receives SIGINT/SIGTERM.`,
		RunE: runHarvest,
	}
}

func runHarvest(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.Init()

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer application.Close()

	items, stats, err := source.LoadItems(cfg.Files.Items, logger)
	if err != nil {
		return fmt.Errorf("load items: %w", err)
	}
	tasks := make([]queue.Item, len(items))
	for i, id := range items {
		tasks[i] = queue.Item{ItemID: id, URL: cfg.ItemURL(id)}
	}
	added := application.Queue.PutMany(tasks)
	metrics.SetPendingTasks(added)
	logger.Info("tasks enqueued",
		zap.Int("added", added),
		zap.Int("invalid", stats.Invalid),
		zap.Int("duplicates", stats.Duplicates))

	sessions := browser.NewFactory(browser.Config{
		Headless:    cfg.Browser.Headless,
		NavTimeout:  cfg.NavTimeout(),
		DisplayBase: cfg.Browser.DisplayBase,
	})
	detector := browser.NewDetector()
	cardParser := parse.NewCardParser()
	solver := browser.NewChallengeSolver()

	workerCfg := worker.Config{
		AcquireBackoff: cfg.AcquireBackoff(),
		Topic:          cfg.PubSub.TopicName,
	}
	factory := func(id int) supervisor.Runner {
		return worker.New(
			id,
			application.Queue,
			application.Pool,
			sessions,
			detector,
			cardParser,
			solver,
			application.Store,
			application.Publisher,
			application.Blobs,
			application.Clock,
			workerCfg,
			logger,
		)
	}

	fleet, err := supervisor.New(cfg.Runner.WorkerCount, factory, application.Queue, logger)
	if err != nil {
		return err
	}

	opsServer := api.NewServer(application.Queue, application.Pool, application.RunID, logger)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           opsServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("ops server listening", zap.Int("port", cfg.Server.Port))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("ops server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Warn("ops server shutdown failed", zap.Error(err))
			}
		}()
		opsServer.SetReady(true)
		return fleet.Run(gctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run crawl: %w", err)
	}
	logger.Info("crawl finished", zap.String("run_id", application.RunID))
	return nil
}

// Package worker implements the crawl loop: one browser session bound to one
// proxy, driven by the task queue's state machine.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/avitolab/listings-crawler/internal/crawler"
	"github.com/avitolab/listings-crawler/internal/metrics"
	"github.com/avitolab/listings-crawler/internal/proxy"
	"github.com/avitolab/listings-crawler/internal/queue"
)

// Challenge resolution may loop (solve, re-detect, solve again). Bound it so a
// page that keeps re-presenting a challenge falls through to a retry.
const maxChallengeRounds = 3

// Config controls Worker behavior.
type Config struct {
	// AcquireBackoff is the pause between proxy acquisition attempts when the
	// pool has free endpoints but none could be handed out.
	AcquireBackoff time.Duration
	// Topic is the outcome event topic. Empty disables publishing.
	Topic string
}

// Worker consumes tasks and executes the navigate/detect/dispatch pipeline.
type Worker struct {
	id        int
	queue     *queue.TaskQueue
	pool      *proxy.Pool
	sessions  crawler.SessionFactory
	detector  crawler.Detector
	parser    crawler.CardParser
	solver    crawler.ChallengeSolver
	store     crawler.RecordStore
	publisher crawler.Publisher
	blobs     crawler.BlobStore
	clock     crawler.Clock
	cfg       Config
	logger    *zap.Logger

	session crawler.Session
	proxy   *proxy.Endpoint
}

// OutcomeEvent is the payload published for each terminal task outcome.
type OutcomeEvent struct {
	ItemID    int64     `json:"item_id"`
	Status    string    `json:"status"`
	Reason    string    `json:"reason,omitempty"`
	Proxy     string    `json:"proxy,omitempty"`
	Attempt   int       `json:"attempt"`
	Timestamp time.Time `json:"timestamp"`
}

// fatalError marks a failure on the retry/cleanup path itself. It crashes the
// worker instead of being absorbed into another retry.
type fatalError struct{ err error }

func (e fatalError) Error() string { return e.err.Error() }
func (e fatalError) Unwrap() error { return e.err }

// New constructs a Worker. Publisher and blob store may be nil.
func New(
	id int,
	taskQueue *queue.TaskQueue,
	pool *proxy.Pool,
	sessions crawler.SessionFactory,
	detector crawler.Detector,
	parser crawler.CardParser,
	solver crawler.ChallengeSolver,
	store crawler.RecordStore,
	publisher crawler.Publisher,
	blobs crawler.BlobStore,
	clock crawler.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if cfg.AcquireBackoff <= 0 {
		cfg.AcquireBackoff = time.Second
	}
	if clock == nil {
		clock = crawler.SystemClock{}
	}
	return &Worker{
		id:        id,
		queue:     taskQueue,
		pool:      pool,
		sessions:  sessions,
		detector:  detector,
		parser:    parser,
		solver:    solver,
		store:     store,
		publisher: publisher,
		blobs:     blobs,
		clock:     clock,
		cfg:       cfg,
		logger:    logger.With(zap.Int("worker_id", id)),
	}
}

// ID returns the worker's identity assigned by the supervisor.
func (w *Worker) ID() int { return w.id }

// Run drives the worker loop until the queue is drained or the context is
// cancelled. A returned error means the worker faulted outside task
// processing and should be replaced.
func (w *Worker) Run(ctx context.Context) error {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	for {
		if err := w.ensureSession(ctx); err != nil {
			return err
		}

		task, err := w.queue.Get(ctx)
		if err != nil {
			return err
		}
		if task == nil {
			w.logger.Info("queue drained, worker exiting")
			return nil
		}

		metrics.SetPendingTasks(w.queue.PendingCount())
		if err := w.processTask(ctx, task); err != nil {
			return err
		}
	}
}

// Shutdown tears down the session and releases the held proxy. Safe to call
// more than once.
func (w *Worker) Shutdown(ctx context.Context) {
	w.teardownSession(ctx)
}

// processTask absorbs any fault raised while working the task, including
// panics, into a retry. Only failures on the retry/cleanup path propagate.
func (w *Worker) processTask(ctx context.Context, task *crawler.Task) error {
	err := w.runTask(ctx, task)
	if err == nil {
		return nil
	}
	var fatal fatalError
	if errors.As(err, &fatal) {
		return fatal.err
	}
	if ctx.Err() != nil {
		// Cancelled mid-task. The task stays in-progress; the process is
		// exiting anyway.
		return err
	}
	w.logger.Error("task processing fault",
		zap.Int64("item_id", task.ItemID),
		zap.Error(err))
	return w.retryWithLimit(ctx, task, "worker_error", true)
}

func (w *Worker) runTask(ctx context.Context, task *crawler.Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while processing item %d: %v", task.ItemID, r)
		}
	}()

	start := w.clock.Now()
	view, err := w.session.Navigate(ctx, task.URL)
	if err != nil {
		return fmt.Errorf("navigate item %d: %w", task.ItemID, err)
	}
	metrics.ObserveNavigation(w.clock.Now().Sub(start))

	state := w.classify(view, task.ItemID)
	return w.handleState(ctx, task, view, state, 0)
}

func (w *Worker) classify(view crawler.PageView, itemID int64) crawler.PageState {
	state, err := w.detector.Detect(view)
	if err != nil {
		w.logger.Warn("page state not recognized",
			zap.Int64("item_id", itemID),
			zap.Int("status_code", view.StatusCode),
			zap.Error(err))
		return crawler.StateDetectionError
	}
	return state
}

func (w *Worker) handleState(ctx context.Context, task *crawler.Task, view crawler.PageView, state crawler.PageState, round int) error {
	w.logger.Debug("dispatching page state",
		zap.Int64("item_id", task.ItemID),
		zap.String("state", string(state)),
		zap.Int("attempt", task.Attempt))

	switch state {
	case crawler.StateCardFound:
		return w.handleCard(ctx, task, view)

	case crawler.StateRemoved:
		return w.finishTask(ctx, task, crawler.ListingRecord{
			ItemID:      task.ItemID,
			Status:      crawler.StatusUnavailable,
			ProcessedAt: w.clock.Now(),
		}, "")

	case crawler.StateCaptcha, crawler.StateContinueButton, crawler.StateRateLimited:
		return w.handleChallenge(ctx, task, state, round)

	case crawler.StateProxyBlocked, crawler.StateProxyAuth:
		reason := "http_403"
		if state == crawler.StateProxyAuth {
			reason = "http_407"
		}
		if w.proxy != nil {
			if err := w.pool.MarkBlocked(w.proxy.Address, reason); err != nil {
				w.logger.Warn("failed to record proxy block", zap.Error(err))
			}
			metrics.ObserveProxyBlocked(reason)
		}
		return w.retryWithLimit(ctx, task, reason, true)

	case crawler.StateSellerProfile, crawler.StateCatalog, crawler.StateDetectionError:
		// Rotate only when this proxy produced the same wrong page on the
		// immediately preceding attempt. A one-off anomaly is not the
		// proxy's fault.
		rotate := task.LastResult == string(state) && task.LastProxy == w.proxyAddress()
		return w.retryWithLimit(ctx, task, string(state), rotate)

	default:
		return w.retryWithLimit(ctx, task, "unhandled_state", false)
	}
}

func (w *Worker) handleCard(ctx context.Context, task *crawler.Task, view crawler.PageView) error {
	card, err := w.parser.Parse(view.HTML)
	if err != nil {
		w.logger.Warn("card parse failed",
			zap.Int64("item_id", task.ItemID),
			zap.Error(err))
		w.archivePage(ctx, task, view.HTML)
		return w.retryWithLimit(ctx, task, "parse_error", false)
	}

	return w.finishTask(ctx, task, crawler.ListingRecord{
		ItemID:           task.ItemID,
		Status:           crawler.StatusSuccess,
		Title:            card.Title,
		Description:      card.Description,
		Characteristics:  card.Characteristics,
		Price:            card.Price,
		SellerName:       card.SellerName,
		SellerProfileURL: card.SellerProfileURL,
		PublishedAt:      card.PublishedAt,
		LocationAddress:  card.LocationAddress,
		LocationMetro:    card.LocationMetro,
		LocationRegion:   card.LocationRegion,
		ViewsTotal:       card.ViewsTotal,
		ProcessedAt:      w.clock.Now(),
	}, "")
}

func (w *Worker) handleChallenge(ctx context.Context, task *crawler.Task, state crawler.PageState, round int) error {
	if round >= maxChallengeRounds {
		w.logger.Warn("challenge keeps reappearing, giving up on this proxy",
			zap.Int64("item_id", task.ItemID),
			zap.String("state", string(state)))
		return w.retryWithLimit(ctx, task, string(state), true)
	}

	solved, err := w.solver.Resolve(ctx, w.session)
	if err != nil {
		w.logger.Warn("challenge resolution errored",
			zap.Int64("item_id", task.ItemID),
			zap.Error(err))
		solved = false
	}
	if !solved {
		return w.retryWithLimit(ctx, task, string(state), true)
	}

	view, err := w.session.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("snapshot after challenge for item %d: %w", task.ItemID, err)
	}
	return w.handleState(ctx, task, view, w.classify(view, task.ItemID), round+1)
}

// finishTask records a terminal outcome and removes the task from the queue.
// Store failures here count as task-processing faults, not worker crashes.
func (w *Worker) finishTask(ctx context.Context, task *crawler.Task, record crawler.ListingRecord, reason string) error {
	if err := w.store.Upsert(ctx, record); err != nil {
		return fmt.Errorf("upsert item %d: %w", task.ItemID, err)
	}
	w.queue.MarkDone(task.ItemID)
	metrics.ObserveTask(record.Status)
	w.publishOutcome(ctx, task, record.Status, reason)
	w.logger.Info("task finished",
		zap.Int64("item_id", task.ItemID),
		zap.String("status", record.Status))
	return nil
}

// retryWithLimit hands the task back for another attempt or, when the limit
// is exhausted, writes a terminal error record and abandons the key. Errors
// it returns crash the worker.
func (w *Worker) retryWithLimit(ctx context.Context, task *crawler.Task, reason string, rotate bool) error {
	accepted := w.queue.Retry(task.ItemID, w.proxyAddress(), reason)
	if accepted {
		metrics.ObserveRetry(reason)
		w.logger.Info("task returned for retry",
			zap.Int64("item_id", task.ItemID),
			zap.String("reason", reason),
			zap.Bool("rotate", rotate))
	} else {
		w.logger.Warn("attempt limit reached",
			zap.Int64("item_id", task.ItemID),
			zap.String("reason", reason))
		record := crawler.ListingRecord{
			ItemID:        task.ItemID,
			Status:        crawler.StatusError,
			FailureReason: "attempt_limit",
			ProcessedAt:   w.clock.Now(),
		}
		if err := w.store.Upsert(ctx, record); err != nil {
			return fatalError{fmt.Errorf("record attempt-limit outcome for item %d: %w", task.ItemID, err)}
		}
		w.queue.Abandon(task.ItemID)
		metrics.ObserveTask(crawler.StatusError)
		w.publishOutcome(ctx, task, crawler.StatusError, "attempt_limit")
	}
	if rotate {
		// A suspect proxy is dropped even when the task itself is done.
		w.teardownSession(ctx)
	}
	return nil
}

// ensureSession loops until the worker holds a live session bound to an
// acquired proxy. Session construction failures release the proxy and retry
// with a fresh one without touching any task.
func (w *Worker) ensureSession(ctx context.Context) error {
	for {
		if w.session != nil {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		endpoint := w.pool.Acquire()
		if endpoint == nil {
			if w.pool.AllBlocked() {
				if w.queue.Pause("all proxies blocked") {
					w.logger.Warn("every proxy is blocked, pausing dispatch")
				}
				if err := w.pool.WaitForUnblocked(ctx); err != nil {
					return err
				}
				w.queue.Resume("proxy available again")
				continue
			}
			if err := w.backoff(ctx); err != nil {
				return err
			}
			continue
		}

		session, err := w.sessions.New(ctx, endpoint.Address, endpoint.Username, endpoint.Password)
		if err != nil {
			w.logger.Warn("session creation failed, releasing proxy",
				zap.String("proxy", endpoint.Address),
				zap.Error(err))
			w.pool.Release(endpoint.Address)
			if err := w.backoff(ctx); err != nil {
				return err
			}
			continue
		}

		w.session = session
		w.proxy = endpoint
		w.updateProxyGauge()
		w.logger.Info("session established", zap.String("proxy", endpoint.Address))
		return nil
	}
}

func (w *Worker) teardownSession(ctx context.Context) {
	if w.session != nil {
		if err := w.session.Close(ctx); err != nil {
			w.logger.Warn("session close failed", zap.Error(err))
		}
		w.session = nil
	}
	if w.proxy != nil {
		w.pool.Release(w.proxy.Address)
		w.proxy = nil
		w.updateProxyGauge()
	}
}

func (w *Worker) backoff(ctx context.Context) error {
	timer := time.NewTimer(w.cfg.AcquireBackoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (w *Worker) proxyAddress() string {
	if w.proxy == nil {
		return ""
	}
	return w.proxy.Address
}

func (w *Worker) updateProxyGauge() {
	total, blocked, inUse := w.pool.Stats()
	metrics.SetFreeProxies(total - blocked - inUse)
}

func (w *Worker) publishOutcome(ctx context.Context, task *crawler.Task, status, reason string) {
	if w.publisher == nil || w.cfg.Topic == "" {
		return
	}
	event := OutcomeEvent{
		ItemID:    task.ItemID,
		Status:    status,
		Reason:    reason,
		Proxy:     w.proxyAddress(),
		Attempt:   task.Attempt,
		Timestamp: w.clock.Now(),
	}
	if _, err := w.publisher.Publish(ctx, w.cfg.Topic, event); err != nil {
		w.logger.Warn("outcome publish failed",
			zap.Int64("item_id", task.ItemID),
			zap.Error(err))
	}
}

func (w *Worker) archivePage(ctx context.Context, task *crawler.Task, html string) {
	if w.blobs == nil {
		return
	}
	path := fmt.Sprintf("parse-failures/%d/attempt_%d.html", task.ItemID, task.Attempt)
	uri, err := w.blobs.PutObject(ctx, path, "text/html; charset=utf-8", []byte(html))
	if err != nil {
		w.logger.Warn("page archive failed",
			zap.Int64("item_id", task.ItemID),
			zap.Error(err))
		return
	}
	if uri != "" {
		w.logger.Info("archived failing page",
			zap.Int64("item_id", task.ItemID),
			zap.String("uri", uri))
	}
}

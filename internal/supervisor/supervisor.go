// Package supervisor keeps a fixed-size worker fleet alive, replacing
// crashed workers in place until the queue is drained.
package supervisor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/avitolab/listings-crawler/internal/queue"
)

// Workers get this long to close their session after exiting, even when the
// run context is already cancelled.
const shutdownTimeout = 10 * time.Second

// Runner is one supervised worker.
type Runner interface {
	ID() int
	Run(ctx context.Context) error
	Shutdown(ctx context.Context)
}

// Factory builds a runner for the given identity slot. Called once at startup
// per slot and again for every replacement.
type Factory func(id int) Runner

// Supervisor runs a fleet of workers and restarts the ones that fault.
type Supervisor struct {
	count   int
	factory Factory
	queue   *queue.TaskQueue
	logger  *zap.Logger
}

// New constructs a Supervisor for count identity slots.
func New(count int, factory Factory, taskQueue *queue.TaskQueue, logger *zap.Logger) (*Supervisor, error) {
	if count < 1 {
		return nil, fmt.Errorf("worker count must be at least 1, got %d", count)
	}
	if factory == nil {
		return nil, fmt.Errorf("runner factory is required")
	}
	return &Supervisor{
		count:   count,
		factory: factory,
		queue:   taskQueue,
		logger:  logger,
	}, nil
}

type workerExit struct {
	id  int
	err error
}

// Run blocks until every worker has terminated. A worker exiting with an
// error while the context is live is shut down and replaced under the same
// identity. After cancellation workers are only shut down, never replaced.
func (s *Supervisor) Run(ctx context.Context) error {
	exits := make(chan workerExit)
	registry := make(map[int]Runner, s.count)

	start := func(id int) {
		runner := s.factory(id)
		registry[id] = runner
		go func() {
			exits <- workerExit{id: id, err: runGuarded(ctx, runner)}
		}()
	}

	for id := 1; id <= s.count; id++ {
		start(id)
	}
	s.logger.Info("worker fleet started", zap.Int("workers", s.count))

	for len(registry) > 0 {
		exit := <-exits
		runner := registry[exit.id]
		s.shutdownRunner(runner)

		if exit.err != nil && ctx.Err() == nil {
			s.logger.Error("worker faulted, starting replacement",
				zap.Int("worker_id", exit.id),
				zap.Error(exit.err))
			start(exit.id)
			continue
		}

		delete(registry, exit.id)
		if exit.err != nil {
			s.logger.Warn("worker stopped during shutdown",
				zap.Int("worker_id", exit.id),
				zap.Error(exit.err))
		} else {
			s.logger.Info("worker finished", zap.Int("worker_id", exit.id))
		}
	}

	if remaining := s.queue.Len(); remaining > 0 {
		// Tasks a replaced or cancelled worker left in progress are not
		// re-queued in-process. Make the loss visible.
		s.logger.Warn("exiting with unfinished tasks",
			zap.Int("remaining", remaining))
	}
	return ctx.Err()
}

// runGuarded converts a worker panic into an ordinary fault so the
// supervisor can replace the worker instead of crashing the process.
func runGuarded(ctx context.Context, runner Runner) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker panicked: %v", r)
		}
	}()
	return runner.Run(ctx)
}

// shutdownRunner closes the worker's session and releases its proxy. Uses a
// fresh context so teardown still runs after cancellation.
func (s *Supervisor) shutdownRunner(runner Runner) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	runner.Shutdown(ctx)
}

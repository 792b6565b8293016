// Package queue implements the in-memory task queue feeding the worker fleet.
//
// The queue holds at most one task per item key, dispatches in FIFO order,
// tracks attempts against a fixed limit, and can be paused globally when no
// proxy is available. Every operation runs as one critical section; waiters
// block on swapped channels rather than polling.
package queue

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/avitolab/listings-crawler/internal/crawler"
)

// TaskQueue is a unique-key FIFO with attempt tracking and pause/resume.
type TaskQueue struct {
	maxAttempts int
	logger      *zap.Logger
	clock       crawler.Clock

	mu     sync.Mutex
	tasks  map[int64]*crawler.Task
	order  []int64
	paused bool
	// gate is closed while the queue is running and replaced with an open
	// channel on pause. Waiters select on the snapshot they grabbed.
	gate chan struct{}
}

// New constructs a TaskQueue. maxAttempts must be at least 1.
func New(maxAttempts int, logger *zap.Logger, clock crawler.Clock) (*TaskQueue, error) {
	if maxAttempts < 1 {
		return nil, fmt.Errorf("max attempts must be >= 1, got %d", maxAttempts)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = crawler.SystemClock{}
	}
	gate := make(chan struct{})
	close(gate)
	return &TaskQueue{
		maxAttempts: maxAttempts,
		logger:      logger,
		clock:       clock,
		tasks:       make(map[int64]*crawler.Task),
		gate:        gate,
	}, nil
}

// Item is an (itemID, url) pair accepted by PutMany.
type Item struct {
	ItemID int64
	URL    string
}

// PutMany enqueues (itemID, url) pairs, skipping keys already present.
// It returns the number of tasks actually inserted.
func (q *TaskQueue) PutMany(items []Item) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	inserted := 0
	for _, item := range items {
		if _, exists := q.tasks[item.ItemID]; exists {
			continue
		}
		now := q.clock.Now()
		task := &crawler.Task{
			ItemID:     item.ItemID,
			URL:        item.URL,
			Attempt:    1,
			State:      crawler.TaskPending,
			EnqueuedAt: now,
			UpdatedAt:  now,
		}
		q.tasks[item.ItemID] = task
		q.order = append(q.order, item.ItemID)
		inserted++
	}
	return inserted
}

// Get returns the next dispatchable task, already marked in progress, as a
// value copy. It blocks while the queue is paused. A nil task with a nil
// error means no task was eligible at that instant.
func (q *TaskQueue) Get(ctx context.Context) (*crawler.Task, error) {
	for {
		q.mu.Lock()
		gate := q.gate
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-gate:
		}

		q.mu.Lock()
		if q.paused {
			// Paused between the gate check and the lock; go back to waiting.
			q.mu.Unlock()
			continue
		}
		for len(q.order) > 0 {
			itemID := q.order[0]
			q.order = q.order[1:]
			task, ok := q.tasks[itemID]
			if !ok {
				continue
			}
			if task.State != crawler.TaskPending && task.State != crawler.TaskReturned {
				// Already handed to another worker; skip the stale entry.
				continue
			}
			task.State = crawler.TaskInProgress
			task.UpdatedAt = q.clock.Now()
			snapshot := *task
			q.mu.Unlock()
			return &snapshot, nil
		}
		q.mu.Unlock()
		return nil, nil
	}
}

// MarkDone removes the task after successful processing. Unknown keys are a
// no-op.
func (q *TaskQueue) MarkDone(itemID int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.tasks, itemID)
}

// Retry returns the task to the queue with a bumped attempt counter,
// recording the proxy and failure reason of the attempt that just failed.
// It reports false when the attempt limit is exceeded, in which case the
// task has been removed and the caller must treat the failure as terminal.
func (q *TaskQueue) Retry(itemID int64, lastProxy, reason string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	task, ok := q.tasks[itemID]
	if !ok {
		return false
	}
	task.LastProxy = lastProxy
	task.LastResult = reason
	task.Attempt++
	task.UpdatedAt = q.clock.Now()
	if task.Attempt > q.maxAttempts {
		delete(q.tasks, itemID)
		return false
	}
	task.State = crawler.TaskReturned
	q.order = append(q.order, itemID)
	return true
}

// Abandon removes the task without requeueing, for failures that must never
// retry.
func (q *TaskQueue) Abandon(itemID int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.tasks, itemID)
}

// Len returns the total number of tracked tasks, in-progress included.
func (q *TaskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// PendingCount returns the number of tasks awaiting dispatch.
func (q *TaskQueue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pendingLocked()
}

func (q *TaskQueue) pendingLocked() int {
	pending := 0
	for _, task := range q.tasks {
		if task.State == crawler.TaskPending || task.State == crawler.TaskReturned {
			pending++
		}
	}
	return pending
}

// Pause stops all future Get calls until Resume. It reports whether the
// call changed anything; pausing an already paused queue is a no-op.
func (q *TaskQueue) Pause(reason string) bool {
	q.mu.Lock()
	if q.paused {
		q.mu.Unlock()
		return false
	}
	q.paused = true
	q.gate = make(chan struct{})
	pending := q.pendingLocked()
	q.mu.Unlock()

	q.logger.Info("queue paused",
		zap.String("reason", reason),
		zap.Int("pending", pending),
	)
	return true
}

// Resume lifts a pause and wakes all waiters. Resuming a running queue is a
// no-op and returns false.
func (q *TaskQueue) Resume(reason string) bool {
	q.mu.Lock()
	if !q.paused {
		q.mu.Unlock()
		return false
	}
	q.paused = false
	close(q.gate)
	q.mu.Unlock()

	q.logger.Info("queue resumed", zap.String("reason", reason))
	return true
}

// Paused reports whether dispatch is currently paused.
func (q *TaskQueue) Paused() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.paused
}

// WaitUntilResumed blocks while the queue is paused without dequeuing.
func (q *TaskQueue) WaitUntilResumed(ctx context.Context) error {
	q.mu.Lock()
	gate := q.gate
	q.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-gate:
		return nil
	}
}

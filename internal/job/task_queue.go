// Package job runs long session operations off the request path.
package job

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/birdsearch/internal/pkg/timeutil"
)

type TaskStatus string

const (
	TaskQueued    TaskStatus = "queued"
	TaskRunning   TaskStatus = "running"
	TaskSucceeded TaskStatus = "succeeded"
	TaskFailed    TaskStatus = "failed"
	TaskCanceled  TaskStatus = "canceled"
)

var (
	ErrQueueFull   = errors.New("task queue full")
	ErrQueueClosed = errors.New("task queue closed")
)

type Task struct {
	ID        string      `json:"id"`
	Kind      string      `json:"kind"`
	SessionID string      `json:"session_id"`
	Status    TaskStatus  `json:"status"`
	Error     string      `json:"error,omitempty"`
	Result    interface{} `json:"result,omitempty"`
	Ctime     int64       `json:"ctime"`
	Mtime     int64       `json:"mtime"`
}

func (t Task) Finished() bool {
	return t.Status == TaskSucceeded || t.Status == TaskFailed || t.Status == TaskCanceled
}

type TaskFunc func(ctx context.Context) (interface{}, error)

type taskEntry struct {
	task   Task
	fn     TaskFunc
	ctx    context.Context
	cancel context.CancelFunc
	// err keeps the typed failure for callers that need more than the message.
	err error
}

// TaskQueue is a bounded worker pool. Task records live in an expirable LRU
// capped at maxRecordAge; finished tasks are pruned earlier by Prune.
type TaskQueue struct {
	mu      sync.Mutex
	tasks   *expirable.LRU[string, *taskEntry]
	queue   chan *taskEntry
	workers int
	wg      sync.WaitGroup
	closed  bool
}

const (
	maxTaskRecords = 4096
	maxRecordAge   = 24 * time.Hour
)

func NewTaskQueue(workers, queueSize int) *TaskQueue {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	return &TaskQueue{
		tasks:   expirable.NewLRU[string, *taskEntry](maxTaskRecords, nil, maxRecordAge),
		queue:   make(chan *taskEntry, queueSize),
		workers: workers,
	}
}

func (q *TaskQueue) Start() {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.work()
	}
}

// Stop rejects new tasks, cancels queued and running ones and waits for the
// workers to exit.
func (q *TaskQueue) Stop() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	for _, entry := range q.tasks.Values() {
		entry.cancel()
	}
	close(q.queue)
	q.mu.Unlock()
	q.wg.Wait()
}

// Submit enqueues fn. The task context keeps the caller's values but not its
// deadline or cancellation.
func (q *TaskQueue) Submit(ctx context.Context, kind, sessionID string, fn TaskFunc) (Task, error) {
	now := timeutil.NowUnix()
	taskCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	entry := &taskEntry{
		task: Task{
			ID:        uuid.NewString(),
			Kind:      kind,
			SessionID: sessionID,
			Status:    TaskQueued,
			Ctime:     now,
			Mtime:     now,
		},
		fn:     fn,
		ctx:    taskCtx,
		cancel: cancel,
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		cancel()
		return Task{}, ErrQueueClosed
	}
	select {
	case q.queue <- entry:
	default:
		cancel()
		return Task{}, ErrQueueFull
	}
	q.tasks.Add(entry.task.ID, entry)
	return entry.task, nil
}

func (q *TaskQueue) Get(id string) (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	entry, ok := q.tasks.Get(id)
	if !ok {
		return Task{}, false
	}
	return entry.task, true
}

// Err returns the error a failed task finished with.
func (q *TaskQueue) Err(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	entry, ok := q.tasks.Get(id)
	if !ok {
		return nil
	}
	return entry.err
}

// Cancel stops a queued or running task. It reports false for unknown or
// finished tasks.
func (q *TaskQueue) Cancel(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	entry, ok := q.tasks.Get(id)
	if !ok || entry.task.Finished() {
		return false
	}
	entry.cancel()
	return true
}

// Prune drops finished task records last updated before cutoff.
func (q *TaskQueue) Prune(cutoff int64) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	removed := 0
	for _, key := range q.tasks.Keys() {
		entry, ok := q.tasks.Peek(key)
		if !ok || !entry.task.Finished() || entry.task.Mtime >= cutoff {
			continue
		}
		q.tasks.Remove(key)
		removed++
	}
	return removed
}

func (q *TaskQueue) Len() int {
	return q.tasks.Len()
}

func (q *TaskQueue) work() {
	defer q.wg.Done()
	for entry := range q.queue {
		q.run(entry)
	}
}

func (q *TaskQueue) run(entry *taskEntry) {
	logger := logutil.GetLogger(entry.ctx).With(
		zap.String("task_id", entry.task.ID),
		zap.String("kind", entry.task.Kind),
		zap.String("session_id", entry.task.SessionID),
	)
	defer entry.cancel()
	if entry.ctx.Err() != nil {
		q.finish(entry, nil, entry.ctx.Err())
		return
	}
	q.update(entry, func(t *Task) { t.Status = TaskRunning })
	start := time.Now()
	result, err := q.call(entry)
	q.finish(entry, result, err)
	if err != nil {
		logger.Warn("task failed", zap.Error(err), zap.Duration("duration", time.Since(start)))
		return
	}
	logger.Info("task finished", zap.Duration("duration", time.Since(start)))
}

func (q *TaskQueue) call(entry *taskEntry) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panic: %v", r)
		}
	}()
	return entry.fn(entry.ctx)
}

func (q *TaskQueue) finish(entry *taskEntry, result interface{}, err error) {
	q.update(entry, func(t *Task) {
		entry.err = err
		switch {
		case err == nil:
			t.Status = TaskSucceeded
			t.Result = result
		case errors.Is(err, context.Canceled):
			t.Status = TaskCanceled
			t.Error = err.Error()
		default:
			t.Status = TaskFailed
			t.Error = err.Error()
		}
	})
}

func (q *TaskQueue) update(entry *taskEntry, fn func(*Task)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	fn(&entry.task)
	entry.task.Mtime = timeutil.NowUnix()
}

package job

import (
	"context"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

type TaskCleanupJob struct {
	queue     *TaskQueue
	retention time.Duration
}

func NewTaskCleanupJob(queue *TaskQueue, retention time.Duration) *TaskCleanupJob {
	return &TaskCleanupJob{queue: queue, retention: retention}
}

func (j *TaskCleanupJob) Name() string {
	return "task_cleanup"
}

func (j *TaskCleanupJob) Run(ctx context.Context) error {
	if j.queue == nil {
		return nil
	}
	retention := j.retention
	if retention <= 0 {
		retention = time.Hour
	}
	cutoff := time.Now().Add(-retention).Unix()
	removed := j.queue.Prune(cutoff)
	if removed > 0 {
		logutil.GetLogger(ctx).Info("pruned finished tasks", zap.Int("removed", removed), zap.Int("remaining", j.queue.Len()))
	}
	return nil
}

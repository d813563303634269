package schedule

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"docqa/internal/logger"
)

// Cleaner removes stored documents older than a cutoff.
type Cleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// CleanupJob enforces the document retention period.
type CleanupJob struct {
	cleaner   Cleaner
	retention time.Duration
	// removed counts documents deleted over the job's lifetime
	removed atomic.Int64
}

func NewCleanupJob(cleaner Cleaner, retention time.Duration) *CleanupJob {
	return &CleanupJob{cleaner: cleaner, retention: retention}
}

func (j *CleanupJob) Name() string { return "retention_cleanup" }

func (j *CleanupJob) Run(ctx context.Context) error {
	n, err := j.cleaner.Cleanup(ctx, j.retention)
	if err != nil {
		return err
	}
	j.removed.Add(n)
	logger.FromContext(ctx).Info("expired documents removed",
		zap.Int64("removed", n), zap.Duration("retention", j.retention))
	return nil
}

func (j *CleanupJob) Removed() int64 { return j.removed.Load() }

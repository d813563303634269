package schedule

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"docqa/internal/logger"
)

// Backfiller stores summaries for documents that were processed without one.
type Backfiller interface {
	BackfillSummaries(ctx context.Context, limit int) (int, error)
}

// BackfillJob summarizes up to Batch pending documents per run.
type BackfillJob struct {
	backfiller Backfiller
	batch      int
	done       atomic.Int64
}

func NewBackfillJob(b Backfiller, batch int) *BackfillJob {
	return &BackfillJob{backfiller: b, batch: batch}
}

func (j *BackfillJob) Name() string { return "summary_backfill" }

func (j *BackfillJob) Run(ctx context.Context) error {
	n, err := j.backfiller.BackfillSummaries(ctx, j.batch)
	j.done.Add(int64(n))
	if err != nil {
		return err
	}
	logger.FromContext(ctx).Info("summaries backfilled", zap.Int("count", n))
	return nil
}

// Summarized is the number of summaries stored over the job's lifetime.
func (j *BackfillJob) Summarized() int64 { return j.done.Load() }

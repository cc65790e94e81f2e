package schedule

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// EventPruner deletes persisted events older than a cutoff.
type EventPruner interface {
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// RetentionJob prunes developer-console history older than the retention
// window.
type RetentionJob struct {
	pruner    EventPruner
	retention time.Duration
	log       *zap.Logger
	now       func() time.Time
}

func NewRetentionJob(pruner EventPruner, retentionDays int, log *zap.Logger) *RetentionJob {
	if retentionDays <= 0 {
		retentionDays = 7
	}
	return &RetentionJob{
		pruner:    pruner,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		log:       log,
		now:       time.Now,
	}
}

func (j *RetentionJob) Name() string { return "event-retention" }

func (j *RetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().Add(-j.retention)
	n, err := j.pruner.DeleteBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	if n > 0 {
		j.log.Info("pruned event history", zap.Int64("rows", n), zap.Time("cutoff", cutoff))
	}
	return nil
}

package schedule

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Scheduler runs jobs on five-field cron specs. A job that is still running
// when its next tick fires is skipped for that tick.
type Scheduler struct {
	cron *cron.Cron
	log  *zap.Logger
	ctx  context.Context
}

func NewScheduler(log *zap.Logger) *Scheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return &Scheduler{
		cron: cron.New(cron.WithParser(parser)),
		log:  log,
		ctx:  context.Background(),
	}
}

func (s *Scheduler) AddJob(job Job, spec string) error {
	l := s.log.With(zap.String("job", job.Name()), zap.String("spec", spec))
	if _, err := s.cron.AddFunc(spec, s.wrap(job, l)); err != nil {
		l.Error("schedule job failed", zap.Error(err))
		return err
	}
	l.Info("job scheduled")
	return nil
}

func (s *Scheduler) Start(ctx context.Context) {
	s.ctx = ctx
	s.cron.Start()
}

func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) wrap(job Job, l *zap.Logger) func() {
	var running atomic.Bool
	return func() {
		if !running.CompareAndSwap(false, true) {
			l.Info("job skipped: still running")
			return
		}
		defer running.Store(false)

		start := time.Now()
		if err := job.Run(s.ctx); err != nil {
			l.Error("job failed", zap.Error(err), zap.Duration("duration", time.Since(start)))
			return
		}
		l.Debug("job finished", zap.Duration("duration", time.Since(start)))
	}
}

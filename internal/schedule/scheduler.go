package schedule

import (
	"context"
	"fmt"
	stdlog "log"
	"time"

	"github.com/robfig/cron/v3"

	appLog "taskcal/internal/log"
)

// Scheduler runs background jobs on standard 5-field cron specs.
type Scheduler struct {
	cron *cron.Cron
}

func New(loc *time.Location) *Scheduler {
	logger := cron.PrintfLogger(stdlog.New(appLog.Writer(appLog.LevelDebug, "cron"), "", 0))
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
	}
}

// Add registers job under spec. ctx is handed to every run; a job that
// overruns its slot causes the next slot to be skipped.
func (s *Scheduler) Add(ctx context.Context, name, spec string, job func(context.Context) error) (cron.EntryID, error) {
	id, err := s.cron.AddFunc(spec, func() {
		started := time.Now()
		if err := job(ctx); err != nil {
			appLog.Error("scheduled job failed", err, "job", name)
			return
		}
		appLog.Debug("scheduled job done", "job", name, "elapsed", time.Since(started).Round(time.Millisecond))
	})
	if err != nil {
		return 0, fmt.Errorf("schedule %s (%q): %w", name, spec, err)
	}
	return id, nil
}

// Next reports when entry id runs next.
func (s *Scheduler) Next(id cron.EntryID) time.Time {
	return s.cron.Entry(id).Next
}

// Run starts the scheduler and blocks until ctx is done, then waits for
// running jobs to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
	return nil
}

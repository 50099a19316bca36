package schedule

import (
	"context"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Runner runs cron jobs on their schedules.
type Runner struct {
	cron  *cron.Cron
	kicks []cron.Job
}

// NewRunner creates a Runner. Panicking jobs are recovered and logged, and a job that is still running skips its next tick.
func NewRunner(l *zap.SugaredLogger) *Runner {
	cl := cronLogger{l}
	return &Runner{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
	}
}

// Add registers a job.
func (r *Runner) Add(s Schedule, job cron.Job) {
	r.cron.Schedule(s, job)
	if s.NeedKickWhenStart() {
		r.kicks = append(r.kicks, job)
	}
}

// Start starts the scheduler and kicks interval jobs once.
func (r *Runner) Start() {
	r.cron.Start()
	for _, j := range r.kicks {
		go j.Run()
	}
}

// Stop stops the scheduler and waits for running jobs until ctx is done.
func (r *Runner) Stop(ctx context.Context) error {
	select {
	case <-r.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Entries returns the number of registered jobs.
func (r *Runner) Entries() int {
	return len(r.cron.Entries())
}

type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Errorw(msg, append(keysAndValues, "error", err)...)
}

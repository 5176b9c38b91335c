package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"kioku/internal/kioku"
)

// DefaultScanInterval is the period of the mid-session reprioritization scan.
const DefaultScanInterval = 30 * time.Second

type job struct {
	name     string
	schedule cron.Schedule
	fn       func(ctx context.Context) error
}

// Runner runs background jobs on cron schedules. A job that is still
// running when its next tick fires is skipped for that tick, so jobs never
// overlap themselves.
type Runner struct {
	logger kioku.Logger

	mu   sync.Mutex
	jobs []job
}

// NewRunner creates an idle runner. Register jobs, then call Run.
func NewRunner(logger kioku.Logger) *Runner {
	if logger == nil {
		logger = kioku.NewNopLogger()
	}
	return &Runner{logger: logger}
}

// Schedule registers fn under a standard cron spec or descriptor
// ("@every 30s", "@hourly", "*/5 * * * *").
func (r *Runner) Schedule(spec, name string, fn func(ctx context.Context) error) error {
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return fmt.Errorf("invalid schedule %q for %s: %w", spec, name, err)
	}
	r.mu.Lock()
	r.jobs = append(r.jobs, job{name: name, schedule: sched, fn: fn})
	r.mu.Unlock()
	return nil
}

// Every registers fn to run at a fixed period. Periods under a second are
// rounded up to one second.
func (r *Runner) Every(d time.Duration, name string, fn func(ctx context.Context) error) error {
	if d <= 0 {
		return fmt.Errorf("invalid period %v for %s", d, name)
	}
	return r.Schedule("@every "+d.String(), name, fn)
}

// Run starts the registered jobs and blocks until ctx is done, then waits
// for running jobs to return. Jobs receive ctx.
func (r *Runner) Run(ctx context.Context) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{r.logger})))

	r.mu.Lock()
	for _, j := range r.jobs {
		j := j
		c.Schedule(j.schedule, cron.FuncJob(func() {
			if ctx.Err() != nil {
				return
			}
			if err := j.fn(ctx); err != nil {
				r.logger.Warn("scheduled job failed", "job", j.name, "error", err)
			}
		}))
	}
	n := len(r.jobs)
	r.mu.Unlock()

	r.logger.Debug("runner started", "jobs", n)
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	r.logger.Debug("runner stopped")
	return nil
}

// ScanSession registers the periodic reprioritization of s.
func (r *Runner) ScanSession(s *Session, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultScanInterval
	}
	return r.Every(interval, "reprioritize "+s.key.String(), func(ctx context.Context) error {
		_, err := s.Reprioritize(ctx)
		return err
	})
}

// cronLogger adapts kioku.Logger to cron.Logger.
type cronLogger struct {
	logger kioku.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}

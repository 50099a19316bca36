// Package schedule parses tick schedules and runs jobs on them.
package schedule

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule is the tick interval used when a tier does not configure one.
var DefaultSchedule = Schedule(IntervalSchedule{time.Minute})

// MinInterval is the shortest accepted tick interval.
const MinInterval = time.Second

// Schedule is a cron.Schedule that can be printed back.
type Schedule interface {
	cron.Schedule
	fmt.Stringer

	// NeedKickWhenStart reports whether the job should also run right after the scheduler starts.
	NeedKickWhenStart() bool
}

// Parse parses a tick schedule of a tier.
//
// It accepts an interval ("30s", "@every 5m"), a standard five-field cron spec ("*/5 * * * *"),
// or a cron descriptor ("@hourly"). An empty spec means DefaultSchedule.
func Parse(spec string) (Schedule, error) {
	spec = normalize(spec)

	switch {
	case spec == "":
		return DefaultSchedule, nil
	case strings.HasPrefix(spec, "@every "):
		return ParseInterval(strings.TrimPrefix(spec, "@every "))
	case strings.HasPrefix(spec, "@"):
		return ParseCron(spec)
	}

	if _, err := time.ParseDuration(spec); err == nil {
		return ParseInterval(spec)
	}
	return ParseCron(spec)
}

func normalize(spec string) string {
	return strings.Join(strings.Fields(spec), " ")
}

// IntervalSchedule ticks at a fixed interval from the start of the scheduler.
type IntervalSchedule struct {
	Interval time.Duration
}

func ParseInterval(spec string) (IntervalSchedule, error) {
	d, err := time.ParseDuration(spec)
	if err != nil {
		return IntervalSchedule{}, fmt.Errorf("invalid interval %q: %w", spec, err)
	}
	if d < MinInterval {
		return IntervalSchedule{}, fmt.Errorf("interval must be at least %s: %q", MinInterval, spec)
	}
	return IntervalSchedule{d}, nil
}

func (s IntervalSchedule) Next(t time.Time) time.Time {
	return t.Add(s.Interval)
}

func (s IntervalSchedule) String() string {
	return s.Interval.String()
}

// NeedKickWhenStart is true: a tier on an interval is checked as soon as the server starts.
func (s IntervalSchedule) NeedKickWhenStart() bool {
	return true
}

// CronSchedule ticks on wall-clock times.
type CronSchedule struct {
	spec     string
	schedule cron.Schedule
}

func ParseCron(spec string) (CronSchedule, error) {
	spec = normalize(spec)

	s, err := cron.ParseStandard(spec)
	if err != nil {
		return CronSchedule{}, fmt.Errorf("invalid cron spec %q: %w", spec, err)
	}
	return CronSchedule{spec: spec, schedule: s}, nil
}

func (s CronSchedule) Next(t time.Time) time.Time {
	return s.schedule.Next(t)
}

func (s CronSchedule) String() string {
	return s.spec
}

func (s CronSchedule) NeedKickWhenStart() bool {
	return false
}

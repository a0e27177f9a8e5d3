package refresh

import (
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/briangreenhill/acctcache/internal/logging"
)

// Scheduler invokes jobs on a fixed interval. A job that is still running
// when its next tick fires is skipped, and a panicking job is recovered.
type Scheduler struct {
	cron *cron.Cron
	log  zerolog.Logger
}

func NewScheduler(log zerolog.Logger) *Scheduler {
	l := logging.Cron{L: log.With().Str("component", "scheduler").Logger()}
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(l),
			cron.WithChain(cron.SkipIfStillRunning(l), cron.Recover(l)),
		),
		log: log,
	}
}

// Every registers fn to run every interval (rounded to whole seconds, at
// least one second).
func (s *Scheduler) Every(interval time.Duration, name string, fn func()) {
	s.cron.Schedule(cron.Every(interval), cron.FuncJob(fn))
	s.log.Info().Str("job", name).Dur("interval", interval).Msg("scheduled")
}

// EverySweep registers a sweeper.
func (s *Scheduler) EverySweep(interval time.Duration, name string, sweep func() SweepStats) {
	s.Every(interval, name, func() { sweep() })
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for running jobs to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

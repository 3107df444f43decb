package lobby

import (
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rotisserie/eris"
)

// StartSweeper runs Sweep every interval on the registry clock. The caller owns the returned
// scheduler and must shut it down.
func (r *Registry) StartSweeper(interval time.Duration) (gocron.Scheduler, error) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	sched, err := gocron.NewScheduler(gocron.WithClock(r.clock))
	if err != nil {
		return nil, eris.Wrap(err, "failed to create lobby sweep scheduler")
	}
	_, err = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() { r.Sweep(r.clock.Now()) }),
		gocron.WithName("lobby-sweep"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = sched.Shutdown()
		return nil, eris.Wrap(err, "failed to schedule lobby sweep")
	}
	sched.Start()
	return sched, nil
}

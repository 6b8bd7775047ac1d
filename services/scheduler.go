// services/scheduler.go
package services

import (
	"fmt"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// Waker is woken periodically so that due tasks are drained even without a trigger.
type Waker interface {
	Wake()
}

// StartPeriodicJobs registers the stats refresh, the weekly challenge catch-up
// and the periodic worker wake-up. The returned scheduler must be shut down by the caller.
func StartPeriodicJobs(stats *StatsService, weekly *WeeklyService, waker Waker, statsInterval time.Duration) (gocron.Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	// Rolling member stats
	if _, err := sched.NewJob(
		gocron.DurationJob(statsInterval),
		gocron.NewTask(func() {
			log.Println("[Scheduler] Refreshing squad stats")
			stats.RefreshAll()
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		return nil, err
	}

	// Weekly challenges whose window has ended
	if _, err := sched.NewJob(
		gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(4, 5, 0))),
		gocron.NewTask(func() {
			log.Println("[Scheduler] Creating missing weekly challenges")
			weekly.CreateMissingAll()
		}),
		gocron.WithStartAt(gocron.WithStartImmediately()),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		return nil, err
	}

	if waker != nil {
		if _, err := sched.NewJob(
			gocron.DurationJob(30*time.Minute),
			gocron.NewTask(waker.Wake),
		); err != nil {
			return nil, err
		}
	}

	sched.Start()
	return sched, nil
}

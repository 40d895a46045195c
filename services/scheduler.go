// services/scheduler.go
package services

import (
	"context"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// StartStreakScheduler runs the streak expiry sweep shortly after midnight
// UTC, once per day. The sweep is idempotent, so an extra run (e.g. the
// admin route) is harmless.
func (s *StreakService) StartStreakScheduler() (gocron.Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	_, err = sched.NewJob(
		gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(0, 5, 0))),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()

			count, err := s.SweepExpiredStreaks(ctx, time.Now().UTC())
			if err != nil {
				log.Printf("[SCHEDULER] Streak sweep failed: %v", err)
				return
			}
			log.Printf("[SCHEDULER] Streak sweep done, %d streak(s) reset", count)
		}),
	)
	if err != nil {
		return nil, err
	}

	sched.Start()
	return sched, nil
}

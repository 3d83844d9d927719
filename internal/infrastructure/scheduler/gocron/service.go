package timescheduler

import (
	"fmt"
	"time"

	"github.com/arkade-os/escrowd/internal/core/ports"
	"github.com/go-co-op/gocron"
)

type service struct {
	scheduler *gocron.Scheduler
}

func NewScheduler() ports.SchedulerService {
	svc := gocron.NewScheduler(time.UTC)
	return &service{svc}
}

func (s *service) Start() {
	s.scheduler.StartAsync()
}

func (s *service) Stop() {
	s.scheduler.Stop()
}

func (s *service) Unit() ports.TimeUnit {
	return ports.UnixTime
}

// ScheduleEvery runs task every period, starting right away. A run still in progress when the
// next one is due makes the scheduler skip it.
func (s *service) ScheduleEvery(period time.Duration, task func()) error {
	if period <= 0 {
		return fmt.Errorf("invalid period %s", period)
	}
	if _, err := s.scheduler.Every(period).SingletonMode().Do(task); err != nil {
		return fmt.Errorf("failed to schedule task: %s", err)
	}
	return nil
}

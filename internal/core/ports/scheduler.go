package ports

import "time"

type TimeUnit int

const (
	UnixTime TimeUnit = iota
	BlockHeight
)

// SchedulerService runs recurring jobs. The gocron implementation interprets the period as
// wall clock time, the block one converts it to a number of blocks.
type SchedulerService interface {
	Start()
	Stop()
	Unit() TimeUnit
	ScheduleEvery(period time.Duration, task func()) error
}

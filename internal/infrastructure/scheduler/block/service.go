package blockscheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/arkade-os/escrowd/internal/core/ports"
	log "github.com/sirupsen/logrus"
)

// TipFetcher returns the current chain height.
type TipFetcher interface {
	BlockNumber(ctx context.Context) (uint64, error)
}

type Option func(*service)

func WithTickerInterval(interval time.Duration) Option {
	return func(s *service) {
		s.tickerInterval = interval
	}
}

type task struct {
	every   uint64
	lastRun uint64
	ran     bool
	run     func()
	running sync.Mutex
}

type service struct {
	chain          TipFetcher
	blockTime      time.Duration
	lock           sync.Locker
	tasks          []*task
	stopCh         chan struct{}
	stopOnce       sync.Once
	tickerInterval time.Duration
}

// NewScheduler returns a scheduler counting periods in blocks, assuming a new block every
// blockTime.
func NewScheduler(
	chain TipFetcher, blockTime time.Duration, opts ...Option,
) (ports.SchedulerService, error) {
	if chain == nil {
		return nil, fmt.Errorf("chain client is required")
	}
	if blockTime <= 0 {
		return nil, fmt.Errorf("invalid block time %s", blockTime)
	}

	svc := &service{
		chain:          chain,
		blockTime:      blockTime,
		lock:           &sync.Mutex{},
		tasks:          make([]*task, 0),
		stopCh:         make(chan struct{}),
		tickerInterval: time.Second * 10,
	}

	for _, opt := range opts {
		opt(svc)
	}

	return svc, nil
}

func (s *service) Start() {
	go func() {
		ticker := time.NewTicker(s.tickerInterval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopCh:
				return
			case <-ticker.C:
				tasks, err := s.dueTasks()
				if err != nil {
					log.Errorf("error fetching tasks: %s", err)
					continue
				}

				log.Debugf("fetched %d tasks", len(tasks))
				for _, t := range tasks {
					go func(t *task) {
						// skip the run if the previous one is still in progress
						if !t.running.TryLock() {
							return
						}
						defer t.running.Unlock()
						t.run()
					}(t)
				}
			}
		}
	}()
}

func (s *service) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *service) Unit() ports.TimeUnit {
	return ports.BlockHeight
}

// ScheduleEvery converts period into a number of blocks, at least one, and runs task every
// time the tip advanced by that many blocks. The first run happens at the first tick.
func (s *service) ScheduleEvery(period time.Duration, run func()) error {
	if period <= 0 {
		return fmt.Errorf("invalid period %s", period)
	}

	every := uint64((period + s.blockTime - 1) / s.blockTime)
	if every == 0 {
		every = 1
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	s.tasks = append(s.tasks, &task{every: every, run: run})
	return nil
}

func (s *service) dueTasks() ([]*task, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.tickerInterval)
	defer cancel()

	tip, err := s.chain.BlockNumber(ctx)
	if err != nil {
		return nil, err
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	tasks := make([]*task, 0)
	for _, t := range s.tasks {
		if t.ran && tip < t.lastRun+t.every {
			continue
		}
		t.lastRun = tip
		t.ran = true
		tasks = append(tasks, t)
	}

	log.Debugf("tip height %d", tip)

	return tasks, nil
}

package inmemorylivestore

import (
	"context"
	"sync"
	"time"

	"github.com/arkade-os/escrowd/internal/core/domain"
)

const cleanupInterval = time.Minute

type pendingEntry struct {
	op        domain.PendingOperation
	expiresAt time.Time
}

type pendingOperationStore struct {
	lock    *sync.RWMutex
	ops     map[string]pendingEntry
	stopCh  chan struct{}
	stopped sync.Once
}

func newPendingOperationStore() *pendingOperationStore {
	store := &pendingOperationStore{
		lock:   &sync.RWMutex{},
		ops:    make(map[string]pendingEntry),
		stopCh: make(chan struct{}),
	}
	go store.cleanup()
	return store
}

func (s *pendingOperationStore) Set(
	_ context.Context, op domain.PendingOperation, ttl time.Duration,
) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.ops[op.RequesterId] = pendingEntry{op, time.Now().Add(ttl)}
	return nil
}

func (s *pendingOperationStore) Get(
	_ context.Context, requesterId string,
) (*domain.PendingOperation, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	entry, ok := s.ops[requesterId]
	if !ok || !time.Now().Before(entry.expiresAt) {
		return nil, nil
	}
	op := entry.op
	return &op, nil
}

func (s *pendingOperationStore) Delete(_ context.Context, requesterId string) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	delete(s.ops, requesterId)
	return nil
}

// cleanup drops expired entries so abandoned requesters don't accumulate.
func (s *pendingOperationStore) cleanup() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case now := <-ticker.C:
			s.lock.Lock()
			for id, entry := range s.ops {
				if !now.Before(entry.expiresAt) {
					delete(s.ops, id)
				}
			}
			s.lock.Unlock()
		}
	}
}

func (s *pendingOperationStore) close() {
	s.stopped.Do(func() { close(s.stopCh) })
}

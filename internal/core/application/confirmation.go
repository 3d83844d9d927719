package application

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/arkade-os/escrowd/internal/core/domain"
	"github.com/arkade-os/escrowd/internal/core/ports"
	log "github.com/sirupsen/logrus"
)

// keyedMutex serializes callers sharing the same key. Entries are dropped once no caller
// holds or waits for them.
type keyedMutex struct {
	lock  *sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{&sync.Mutex{}, make(map[string]*refMutex)}
}

func (k *keyedMutex) Lock(key string) func() {
	k.lock.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.lock.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.lock.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.lock.Unlock()
	}
}

// confirmationMachine keeps at most one operation per requester awaiting an explicit confirm or
// cancel signal.
type confirmationMachine struct {
	store ports.PendingOperationStore
	ttl   time.Duration
	locks *keyedMutex
	now   func() time.Time
}

func newConfirmationMachine(
	store ports.PendingOperationStore, ttl time.Duration, now func() time.Time,
) *confirmationMachine {
	return &confirmationMachine{store, ttl, newKeyedMutex(), now}
}

func (m *confirmationMachine) propose(ctx context.Context, op domain.PendingOperation) error {
	if err := op.Validate(); err != nil {
		return fmt.Errorf("invalid pending operation: %s", err)
	}

	unlock := m.locks.Lock(op.RequesterId)
	defer unlock()

	if err := m.store.Set(ctx, op, m.ttl); err != nil {
		return fmt.Errorf("failed to store pending operation: %w", err)
	}
	return nil
}

// pending returns the live operation for the requester, discarding it if its ttl elapsed.
func (m *confirmationMachine) pending(
	ctx context.Context, requesterId string,
) (*domain.PendingOperation, error) {
	unlock := m.locks.Lock(requesterId)
	defer unlock()

	return m.get(ctx, requesterId)
}

// take classifies the signal and, on confirm or cancel, removes the pending operation.
// The returned operation is nil when there is nothing to confirm. On confirm the caller owns
// the execution, which happens after the requester lock is released.
func (m *confirmationMachine) take(
	ctx context.Context, requesterId string, signal Signal,
) (*domain.PendingOperation, signalClass, error) {
	unlock := m.locks.Lock(requesterId)
	defer unlock()

	op, err := m.get(ctx, requesterId)
	if err != nil || op == nil {
		return nil, signalUnrecognized, err
	}

	class := classifySignal(signal)
	if class == signalUnrecognized {
		return op, class, nil
	}
	if err := m.store.Delete(ctx, requesterId); err != nil {
		return nil, class, fmt.Errorf("failed to delete pending operation: %w", err)
	}
	return op, class, nil
}

func (m *confirmationMachine) get(
	ctx context.Context, requesterId string,
) (*domain.PendingOperation, error) {
	op, err := m.store.Get(ctx, requesterId)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending operation: %w", err)
	}
	if op == nil {
		return nil, nil
	}
	if op.IsExpired(m.now(), m.ttl) {
		if err := m.store.Delete(ctx, requesterId); err != nil {
			log.WithError(err).Warn("confirmation: failed to drop expired operation")
		}
		return nil, nil
	}
	return op, nil
}

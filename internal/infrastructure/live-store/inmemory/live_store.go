package inmemorylivestore

import "github.com/arkade-os/escrowd/internal/core/ports"

type liveStore struct {
	pendingOps *pendingOperationStore
}

func NewLiveStore() ports.LiveStore {
	return &liveStore{
		pendingOps: newPendingOperationStore(),
	}
}

func (s *liveStore) PendingOperations() ports.PendingOperationStore {
	return s.pendingOps
}

func (s *liveStore) Close() {
	s.pendingOps.close()
}

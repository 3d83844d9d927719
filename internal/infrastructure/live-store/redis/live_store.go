package redislivestore

import (
	"github.com/arkade-os/escrowd/internal/core/ports"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

type liveStore struct {
	rdb        *redis.Client
	pendingOps ports.PendingOperationStore
}

func NewLiveStore(rdb *redis.Client, numOfRetries int) ports.LiveStore {
	return &liveStore{
		rdb:        rdb,
		pendingOps: NewPendingOperationStore(rdb, numOfRetries),
	}
}

func (s *liveStore) PendingOperations() ports.PendingOperationStore {
	return s.pendingOps
}

func (s *liveStore) Close() {
	if err := s.rdb.Close(); err != nil {
		log.WithError(err).Warn("failed to close redis client")
	}
}

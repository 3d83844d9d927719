package redislivestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/arkade-os/escrowd/internal/core/domain"
	"github.com/arkade-os/escrowd/internal/core/ports"
	"github.com/redis/go-redis/v9"
)

const pendingOperationsKeyPrefix = "pendingOperations:"

type pendingOperationStore struct {
	rdb          *redis.Client
	numOfRetries int
	retryDelay   time.Duration
}

func NewPendingOperationStore(rdb *redis.Client, numOfRetries int) ports.PendingOperationStore {
	if numOfRetries <= 0 {
		numOfRetries = 1
	}
	return &pendingOperationStore{
		rdb:          rdb,
		numOfRetries: numOfRetries,
		retryDelay:   10 * time.Millisecond,
	}
}

// Set relies on the key ttl for expiration, the stored operation is dropped by redis itself.
func (s *pendingOperationStore) Set(
	ctx context.Context, op domain.PendingOperation, ttl time.Duration,
) error {
	val, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("failed to marshal pending operation: %v", err)
	}

	key := pendingOperationKey(op.RequesterId)
	for range s.numOfRetries {
		if err = s.rdb.Set(ctx, key, val, ttl).Err(); err == nil {
			return nil
		}
		time.Sleep(s.retryDelay)
	}
	return fmt.Errorf("failed to store pending operation after max number of retries: %v", err)
}

func (s *pendingOperationStore) Get(
	ctx context.Context, requesterId string,
) (*domain.PendingOperation, error) {
	val, err := s.rdb.Get(ctx, pendingOperationKey(requesterId)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get pending operation: %v", err)
	}

	var op domain.PendingOperation
	if err := json.Unmarshal(val, &op); err != nil {
		return nil, fmt.Errorf("malformed pending operation in storage: %v", err)
	}
	return &op, nil
}

func (s *pendingOperationStore) Delete(ctx context.Context, requesterId string) error {
	if err := s.rdb.Del(ctx, pendingOperationKey(requesterId)).Err(); err != nil {
		return fmt.Errorf("failed to delete pending operation: %v", err)
	}
	return nil
}

func pendingOperationKey(requesterId string) string {
	return pendingOperationsKeyPrefix + requesterId
}

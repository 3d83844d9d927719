package ports

import (
	"context"
	"time"

	"github.com/arkade-os/escrowd/internal/core/domain"
)

type LiveStore interface {
	PendingOperations() PendingOperationStore
	Close()
}

// PendingOperationStore keeps at most one pending operation per requester.
type PendingOperationStore interface {
	// Set overwrites any operation stored for the same requester.
	Set(ctx context.Context, op domain.PendingOperation, ttl time.Duration) error
	// Get returns nil if there is no operation or it expired.
	Get(ctx context.Context, requesterId string) (*domain.PendingOperation, error)
	Delete(ctx context.Context, requesterId string) error
}

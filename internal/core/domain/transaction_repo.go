package domain

import "context"

type TransactionRepository interface {
	Add(ctx context.Context, tx TransactionRecord) error
	Get(ctx context.Context, hash string) (*TransactionRecord, error)
	GetPending(ctx context.Context, limit int) ([]TransactionRecord, error)
	GetByClaimId(ctx context.Context, claimId string) ([]TransactionRecord, error)
	// UpdateStatus finalizes a pending record. Records already final are left untouched and
	// false is returned.
	UpdateStatus(ctx context.Context, hash string, status TxStatus, updatedAt int64) (bool, error)
	Close()
}

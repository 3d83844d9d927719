package domain

import "context"

type ClaimRepository interface {
	Add(ctx context.Context, claim Claim) error
	Get(ctx context.Context, id string) (*Claim, error)
	GetByTokenDigest(ctx context.Context, digest string) (*Claim, error)
	GetByRecipientPhone(ctx context.Context, phone string) ([]Claim, error)
	GetBySenderPhone(ctx context.Context, phone string) ([]Claim, error)
	// GetExpiredPending returns at most limit pending claims with ExpiresAt <= now.
	GetExpiredPending(ctx context.Context, now int64, limit int) ([]Claim, error)
	// GetSettlingBefore returns claims left in settling whose last update is older than before.
	GetSettlingBefore(ctx context.Context, before int64) ([]Claim, error)
	// CompareAndSwap overwrites the stored claim with the given one only if the stored status
	// still equals expected. It reports whether the write happened.
	CompareAndSwap(ctx context.Context, expected ClaimStatus, claim Claim) (bool, error)
	Close()
}

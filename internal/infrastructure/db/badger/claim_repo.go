package badgerdb

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/arkade-os/escrowd/internal/core/domain"
	"github.com/dgraph-io/badger/v4"
	"github.com/timshannon/badgerhold/v4"
)

const claimStoreDir = "claims"

type claimRepository struct {
	store *badgerhold.Store
}

func NewClaimRepository(config ...interface{}) (domain.ClaimRepository, error) {
	dir, logger, err := parseConfig(claimStoreDir, config...)
	if err != nil {
		return nil, err
	}
	store, err := createDB(dir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open claim store: %s", err)
	}
	return &claimRepository{store}, nil
}

func (r *claimRepository) Add(ctx context.Context, claim domain.Claim) error {
	err := withConflictRetry(func() error {
		return r.store.Insert(claim.Id, claim)
	})
	if err != nil {
		if errors.Is(err, badgerhold.ErrKeyExists) {
			return fmt.Errorf("claim %s already exists", claim.Id)
		}
		return fmt.Errorf("failed to add claim: %w", err)
	}
	return nil
}

func (r *claimRepository) Get(ctx context.Context, id string) (*domain.Claim, error) {
	var claim domain.Claim
	if err := r.store.Get(id, &claim); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, domain.ErrClaimNotFound
		}
		return nil, fmt.Errorf("failed to get claim: %w", err)
	}
	return &claim, nil
}

func (r *claimRepository) GetByTokenDigest(
	ctx context.Context, digest string,
) (*domain.Claim, error) {
	var claim domain.Claim
	if err := r.store.FindOne(&claim, badgerhold.Where("TokenDigest").Eq(digest)); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, domain.ErrClaimNotFound
		}
		return nil, fmt.Errorf("failed to get claim: %w", err)
	}
	return &claim, nil
}

func (r *claimRepository) GetByRecipientPhone(
	ctx context.Context, phone string,
) ([]domain.Claim, error) {
	return r.find(badgerhold.Where("RecipientPhone").Eq(phone).SortBy("CreatedAt").Reverse())
}

func (r *claimRepository) GetBySenderPhone(
	ctx context.Context, phone string,
) ([]domain.Claim, error) {
	return r.find(badgerhold.Where("SenderPhone").Eq(phone).SortBy("CreatedAt").Reverse())
}

func (r *claimRepository) GetExpiredPending(
	ctx context.Context, now int64, limit int,
) ([]domain.Claim, error) {
	query := badgerhold.Where("Status").Eq(domain.ClaimPending).
		And("ExpiresAt").Le(now).
		SortBy("ExpiresAt")
	if limit > 0 {
		query = query.Limit(limit)
	}
	return r.find(query)
}

func (r *claimRepository) GetSettlingBefore(
	ctx context.Context, before int64,
) ([]domain.Claim, error) {
	claims, err := r.find(
		badgerhold.Where("Status").Eq(domain.ClaimSettling).And("UpdatedAt").Lt(before),
	)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(claims, func(i, j int) bool {
		return claims[i].UpdatedAt < claims[j].UpdatedAt
	})
	return claims, nil
}

// CompareAndSwap reads and writes the claim in the same badger transaction. A concurrent
// writer makes the commit fail with a conflict, in which case the status is read again.
func (r *claimRepository) CompareAndSwap(
	ctx context.Context, expected domain.ClaimStatus, claim domain.Claim,
) (bool, error) {
	var (
		swapped bool
		err     error
	)
	for range maxRetries {
		swapped, err = func() (bool, error) {
			tx := r.store.Badger().NewTransaction(true)
			defer tx.Discard()

			var current domain.Claim
			if err := r.store.TxGet(tx, claim.Id, &current); err != nil {
				if errors.Is(err, badgerhold.ErrNotFound) {
					return false, domain.ErrClaimNotFound
				}
				return false, err
			}
			if current.Status != expected {
				return false, nil
			}
			if err := r.store.TxUpdate(tx, claim.Id, claim); err != nil {
				return false, err
			}
			if err := tx.Commit(); err != nil {
				return false, err
			}
			return true, nil
		}()
		if errors.Is(err, badger.ErrConflict) {
			time.Sleep(10 * time.Millisecond)
			continue
		}
		return swapped, err
	}
	return false, fmt.Errorf("failed to swap claim %s: %w", claim.Id, err)
}

func (r *claimRepository) Close() {
	// nolint:all
	r.store.Close()
}

func (r *claimRepository) find(query *badgerhold.Query) ([]domain.Claim, error) {
	var claims []domain.Claim
	if err := r.store.Find(&claims, query); err != nil {
		return nil, fmt.Errorf("failed to find claims: %w", err)
	}
	return claims, nil
}

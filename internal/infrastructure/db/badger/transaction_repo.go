package badgerdb

import (
	"context"
	"errors"
	"fmt"

	"github.com/arkade-os/escrowd/internal/core/domain"
	"github.com/timshannon/badgerhold/v4"
)

const txStoreDir = "transactions"

type transactionRepository struct {
	store *badgerhold.Store
}

func NewTransactionRepository(config ...interface{}) (domain.TransactionRepository, error) {
	dir, logger, err := parseConfig(txStoreDir, config...)
	if err != nil {
		return nil, err
	}
	store, err := createDB(dir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open transaction store: %s", err)
	}
	return &transactionRepository{store}, nil
}

func (r *transactionRepository) Add(ctx context.Context, tx domain.TransactionRecord) error {
	err := withConflictRetry(func() error {
		return r.store.Insert(tx.Hash, tx)
	})
	if err != nil {
		if errors.Is(err, badgerhold.ErrKeyExists) {
			return fmt.Errorf("transaction %s already recorded", tx.Hash)
		}
		return fmt.Errorf("failed to add transaction: %w", err)
	}
	return nil
}

func (r *transactionRepository) Get(
	ctx context.Context, hash string,
) (*domain.TransactionRecord, error) {
	var tx domain.TransactionRecord
	if err := r.store.Get(hash, &tx); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, domain.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return &tx, nil
}

func (r *transactionRepository) GetPending(
	ctx context.Context, limit int,
) ([]domain.TransactionRecord, error) {
	query := badgerhold.Where("Status").Eq(domain.TxPending).SortBy("CreatedAt")
	if limit > 0 {
		query = query.Limit(limit)
	}
	return r.find(query)
}

func (r *transactionRepository) GetByClaimId(
	ctx context.Context, claimId string,
) ([]domain.TransactionRecord, error) {
	return r.find(badgerhold.Where("ClaimId").Eq(claimId).SortBy("CreatedAt"))
}

func (r *transactionRepository) UpdateStatus(
	ctx context.Context, hash string, status domain.TxStatus, updatedAt int64,
) (bool, error) {
	var updated bool
	err := withConflictRetry(func() error {
		updated = false
		tx := r.store.Badger().NewTransaction(true)
		defer tx.Discard()

		var record domain.TransactionRecord
		if err := r.store.TxGet(tx, hash, &record); err != nil {
			if errors.Is(err, badgerhold.ErrNotFound) {
				return domain.ErrTransactionNotFound
			}
			return err
		}
		if record.IsFinal() {
			return nil
		}

		record.Status = status
		record.UpdatedAt = updatedAt
		if err := r.store.TxUpdate(tx, hash, record); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		updated = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return updated, nil
}

func (r *transactionRepository) Close() {
	// nolint:all
	r.store.Close()
}

func (r *transactionRepository) find(
	query *badgerhold.Query,
) ([]domain.TransactionRecord, error) {
	var txs []domain.TransactionRecord
	if err := r.store.Find(&txs, query); err != nil {
		return nil, fmt.Errorf("failed to find transactions: %w", err)
	}
	return txs, nil
}

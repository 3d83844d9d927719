package badgerdb

import (
	"context"
	"errors"
	"fmt"

	"github.com/arkade-os/escrowd/internal/core/domain"
	"github.com/timshannon/badgerhold/v4"
)

const accountStoreDir = "accounts"

type accountRepository struct {
	store *badgerhold.Store
}

func NewAccountRepository(config ...interface{}) (domain.AccountRepository, error) {
	dir, logger, err := parseConfig(accountStoreDir, config...)
	if err != nil {
		return nil, err
	}
	store, err := createDB(dir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open account store: %s", err)
	}
	return &accountRepository{store}, nil
}

func (r *accountRepository) Add(
	ctx context.Context, account domain.Account,
) (*domain.Account, error) {
	err := withConflictRetry(func() error {
		return r.store.Insert(account.Phone, account)
	})
	if err != nil {
		if errors.Is(err, badgerhold.ErrKeyExists) {
			return r.Get(ctx, account.Phone)
		}
		return nil, fmt.Errorf("failed to add account: %w", err)
	}
	return &account, nil
}

func (r *accountRepository) Get(ctx context.Context, phone string) (*domain.Account, error) {
	var account domain.Account
	if err := r.store.Get(phone, &account); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &account, nil
}

func (r *accountRepository) Close() {
	// nolint:all
	r.store.Close()
}

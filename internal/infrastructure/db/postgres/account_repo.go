package pgdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/arkade-os/escrowd/internal/core/domain"
)

const (
	insertAccount = `INSERT INTO account (phone, wallet_handle, address, created_at)
		VALUES ($1, $2, $3, $4) ON CONFLICT (phone) DO NOTHING`
	selectAccount = `SELECT phone, wallet_handle, address, created_at FROM account WHERE phone = $1`
)

type accountRepository struct {
	db *sql.DB
}

func NewAccountRepository(config ...interface{}) (domain.AccountRepository, error) {
	db, err := configDb(config...)
	if err != nil {
		return nil, fmt.Errorf("cannot open account repository: %s", err)
	}
	return &accountRepository{db}, nil
}

func (r *accountRepository) Add(
	ctx context.Context, account domain.Account,
) (*domain.Account, error) {
	if _, err := r.db.ExecContext(
		ctx, insertAccount, account.Phone, account.WalletHandle, account.Address,
		account.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("failed to add account: %w", err)
	}
	return r.Get(ctx, account.Phone)
}

func (r *accountRepository) Get(ctx context.Context, phone string) (*domain.Account, error) {
	var account domain.Account
	if err := r.db.QueryRowContext(ctx, selectAccount, phone).Scan(
		&account.Phone, &account.WalletHandle, &account.Address, &account.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &account, nil
}

func (r *accountRepository) Close() {
	_ = r.db.Close()
}

package domain

import (
	"context"
	"errors"
)

var ErrAccountNotFound = errors.New("account not found")

// Account binds a registered phone number to its custody wallet.
type Account struct {
	Phone        string
	WalletHandle string
	Address      string
	CreatedAt    int64
}

type AccountRepository interface {
	// Add stores the account unless the phone is already registered, in which case the
	// existing account is returned untouched.
	Add(ctx context.Context, account Account) (*Account, error)
	Get(ctx context.Context, phone string) (*Account, error)
	Close()
}

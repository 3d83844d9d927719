package ports

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrInsufficientFunds is wrapped by custody errors when the source wallet cannot cover the
	// transfer amount plus network fees.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrCustodyUnavailable is wrapped by custody errors caused by the service being unreachable
	// or failing on its side.
	ErrCustodyUnavailable = errors.New("custody service unavailable")
)

type CustodyWallet struct {
	Handle  string
	Address string
}

type TransferRequest struct {
	To     string
	Amount decimal.Decimal
	// FeeHint is the fee estimated by the caller, zero when unknown.
	FeeHint decimal.Decimal
}

// WalletCustody creates wallets and signs and broadcasts transfers given an opaque handle.
// Handles are secrets of the custody service and never leave the process.
type WalletCustody interface {
	CreateWallet(ctx context.Context) (*CustodyWallet, error)
	Broadcast(ctx context.Context, handle string, req TransferRequest) (string, error)
	Close()
}

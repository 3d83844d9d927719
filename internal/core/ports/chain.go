package ports

import (
	"context"

	"github.com/shopspring/decimal"
)

type Receipt struct {
	TxRef         string
	Success       bool
	Confirmations uint64
}

type ChainClient interface {
	EstimateFee(
		ctx context.Context, from, to string, amount decimal.Decimal,
	) (decimal.Decimal, error)
	// GetReceipt returns nil if the transaction is not mined yet.
	GetReceipt(ctx context.Context, txRef string) (*Receipt, error)
	GetBalance(ctx context.Context, address string) (decimal.Decimal, error)
	BlockNumber(ctx context.Context) (uint64, error)
	IsValidAddress(address string) bool
	Close()
}

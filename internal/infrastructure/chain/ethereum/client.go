package ethchain

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/arkade-os/escrowd/internal/core/ports"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

const (
	// TransferGasLimit is the gas used by a plain value transfer.
	TransferGasLimit = uint64(21000)
	weiDecimals      = 18
)

// backend is the subset of ethclient.Client used by the chain client.
type backend interface {
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	Close()
}

type Option func(*chainClient)

// WithMaxGasPrice caps the gas price used for fee estimates, in wei.
func WithMaxGasPrice(maxGasPrice *big.Int) Option {
	return func(c *chainClient) {
		c.maxGasPrice = maxGasPrice
	}
}

type chainClient struct {
	client      backend
	maxGasPrice *big.Int
}

func NewChainClient(rpcURL string, opts ...Option) (ports.ChainClient, error) {
	if len(rpcURL) == 0 {
		return nil, fmt.Errorf("missing rpc url")
	}
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rpc: %w", err)
	}
	return newChainClient(client, opts...), nil
}

func newChainClient(client backend, opts ...Option) *chainClient {
	svc := &chainClient{client: client}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// EstimateFee returns the network fee of a plain transfer at the current gas price.
func (c *chainClient) EstimateFee(
	ctx context.Context, _, _ string, _ decimal.Decimal,
) (decimal.Decimal, error) {
	gasPrice, err := c.client.SuggestGasPrice(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to get gas price: %w", err)
	}
	if c.maxGasPrice != nil && gasPrice.Cmp(c.maxGasPrice) > 0 {
		log.Debugf("chain: capping gas price %s to %s", gasPrice, c.maxGasPrice)
		gasPrice = c.maxGasPrice
	}

	fee := new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(TransferGasLimit))
	return FromWei(fee), nil
}

func (c *chainClient) GetReceipt(ctx context.Context, txRef string) (*ports.Receipt, error) {
	receipt, err := c.client.TransactionReceipt(ctx, common.HexToHash(txRef))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get receipt: %w", err)
	}

	var confirmations uint64
	if receipt.BlockNumber != nil {
		tip, err := c.client.BlockNumber(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get tip height: %w", err)
		}
		if mined := receipt.BlockNumber.Uint64(); tip >= mined {
			confirmations = tip - mined + 1
		}
	}

	return &ports.Receipt{
		TxRef:         txRef,
		Success:       receipt.Status == types.ReceiptStatusSuccessful,
		Confirmations: confirmations,
	}, nil
}

func (c *chainClient) GetBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	if !c.IsValidAddress(address) {
		return decimal.Zero, fmt.Errorf("invalid address")
	}
	balance, err := c.client.BalanceAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to get balance: %w", err)
	}
	return FromWei(balance), nil
}

func (c *chainClient) BlockNumber(ctx context.Context) (uint64, error) {
	return c.client.BlockNumber(ctx)
}

func (c *chainClient) IsValidAddress(address string) bool {
	return common.IsHexAddress(address)
}

func (c *chainClient) Close() {
	c.client.Close()
}

// FromWei converts an amount in wei to ether.
func FromWei(wei *big.Int) decimal.Decimal {
	return decimal.NewFromBigInt(wei, -weiDecimals)
}

// ToWei converts an amount in ether to wei, truncating anything below one wei.
func ToWei(amount decimal.Decimal) *big.Int {
	return amount.Shift(weiDecimals).BigInt()
}

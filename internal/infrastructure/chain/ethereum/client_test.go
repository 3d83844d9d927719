package ethchain

import (
	"context"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	address = "0x3333333333333333333333333333333333333333"
	txHash  = "0x5b1f4c2e6a0d9e8f7a6b5c4d3e2f1a0b9c8d7e6f5a4b3c2d1e0f9a8b7c6d5e4f"
)

type mockBackend struct {
	mock.Mock
}

func (m *mockBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	args := m.Called(ctx)
	var res *big.Int
	if a := args.Get(0); a != nil {
		res = a.(*big.Int)
	}
	return res, args.Error(1)
}

func (m *mockBackend) TransactionReceipt(
	ctx context.Context, txHash common.Hash,
) (*types.Receipt, error) {
	args := m.Called(ctx, txHash)
	var res *types.Receipt
	if a := args.Get(0); a != nil {
		res = a.(*types.Receipt)
	}
	return res, args.Error(1)
}

func (m *mockBackend) BalanceAt(
	ctx context.Context, account common.Address, blockNumber *big.Int,
) (*big.Int, error) {
	args := m.Called(ctx, account, blockNumber)
	var res *big.Int
	if a := args.Get(0); a != nil {
		res = a.(*big.Int)
	}
	return res, args.Error(1)
}

func (m *mockBackend) BlockNumber(ctx context.Context) (uint64, error) {
	args := m.Called(ctx)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *mockBackend) Close() {
	m.Called()
}

func gwei(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000))
}

func TestEstimateFee(t *testing.T) {
	ctx := context.Background()

	t.Run("valid", func(t *testing.T) {
		backend := &mockBackend{}
		backend.On("SuggestGasPrice", mock.Anything).Return(gwei(1), nil)
		client := newChainClient(backend)

		fee, err := client.EstimateFee(ctx, address, address, decimal.NewFromInt(1))
		require.NoError(t, err)
		require.True(t, decimal.RequireFromString("0.000021").Equal(fee), fee.String())
	})

	t.Run("capped gas price", func(t *testing.T) {
		backend := &mockBackend{}
		backend.On("SuggestGasPrice", mock.Anything).Return(gwei(500), nil)
		client := newChainClient(backend, WithMaxGasPrice(gwei(100)))

		fee, err := client.EstimateFee(ctx, address, address, decimal.NewFromInt(1))
		require.NoError(t, err)
		require.True(t, decimal.RequireFromString("0.0021").Equal(fee), fee.String())
	})

	t.Run("invalid", func(t *testing.T) {
		backend := &mockBackend{}
		backend.On("SuggestGasPrice", mock.Anything).Return(nil, fmt.Errorf("503 service unavailable"))
		client := newChainClient(backend)

		_, err := client.EstimateFee(ctx, address, address, decimal.NewFromInt(1))
		require.ErrorContains(t, err, "failed to get gas price")
	})
}

func TestGetReceipt(t *testing.T) {
	ctx := context.Background()
	hash := common.HexToHash(txHash)

	t.Run("not mined", func(t *testing.T) {
		backend := &mockBackend{}
		backend.On("TransactionReceipt", mock.Anything, hash).Return(nil, ethereum.NotFound)
		client := newChainClient(backend)

		receipt, err := client.GetReceipt(ctx, txHash)
		require.NoError(t, err)
		require.Nil(t, receipt)
	})

	t.Run("mined", func(t *testing.T) {
		fixtures := []struct {
			name   string
			status uint64
		}{
			{"success", types.ReceiptStatusSuccessful},
			{"reverted", types.ReceiptStatusFailed},
		}
		for _, f := range fixtures {
			t.Run(f.name, func(t *testing.T) {
				backend := &mockBackend{}
				backend.On("TransactionReceipt", mock.Anything, hash).Return(&types.Receipt{
					Status:      f.status,
					BlockNumber: big.NewInt(100),
				}, nil)
				backend.On("BlockNumber", mock.Anything).Return(uint64(104), nil)
				client := newChainClient(backend)

				receipt, err := client.GetReceipt(ctx, txHash)
				require.NoError(t, err)
				require.NotNil(t, receipt)
				require.Equal(t, txHash, receipt.TxRef)
				require.Equal(t, f.status == types.ReceiptStatusSuccessful, receipt.Success)
				require.Equal(t, uint64(5), receipt.Confirmations)
			})
		}
	})

	t.Run("rpc failure", func(t *testing.T) {
		backend := &mockBackend{}
		backend.On("TransactionReceipt", mock.Anything, hash).
			Return(nil, fmt.Errorf("connection refused"))
		client := newChainClient(backend)

		receipt, err := client.GetReceipt(ctx, txHash)
		require.Error(t, err)
		require.Nil(t, receipt)
	})
}

func TestGetBalance(t *testing.T) {
	ctx := context.Background()
	backend := &mockBackend{}
	wei, ok := new(big.Int).SetString("1500000000000000000", 10)
	require.True(t, ok)
	backend.On("BalanceAt", mock.Anything, common.HexToAddress(address), mock.Anything).
		Return(wei, nil)
	client := newChainClient(backend)

	balance, err := client.GetBalance(ctx, address)
	require.NoError(t, err)
	require.True(t, decimal.RequireFromString("1.5").Equal(balance))

	_, err = client.GetBalance(ctx, "not-an-address")
	require.Error(t, err)
	backend.AssertNumberOfCalls(t, "BalanceAt", 1)
}

func TestUnitConversion(t *testing.T) {
	amount := decimal.RequireFromString("1.999979")
	wei := ToWei(amount)
	require.Equal(t, "1999979000000000000", wei.String())
	require.True(t, amount.Equal(FromWei(wei)))

	// sub-wei precision is dropped
	require.Equal(t, "0", ToWei(decimal.New(1, -19)).String())
}

func TestIsValidAddress(t *testing.T) {
	client := newChainClient(&mockBackend{})
	require.True(t, client.IsValidAddress(address))
	require.False(t, client.IsValidAddress("0x1234"))
	require.False(t, client.IsValidAddress(""))
}

package localcustody

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/arkade-os/escrowd/internal/core/ports"
	ethchain "github.com/arkade-os/escrowd/internal/infrastructure/chain/ethereum"
	"github.com/dgraph-io/badger/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/timshannon/badgerhold/v4"
)

const keyStoreDir = "custody"

type walletRecord struct {
	Handle       string
	Address      string
	EncryptedKey []byte
	CreatedAt    int64
}

type backend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	Close()
}

type Config struct {
	// Datadir is where the encrypted key store lives, empty for an in-memory store.
	Datadir   string
	MasterKey string
	RPCURL    string
	ChainID   int64
	// MaxGasPrice caps the gas price paid by transfers, in wei. Nil means no cap.
	MaxGasPrice *big.Int
	Logger      badger.Logger
}

type service struct {
	store       *badgerhold.Store
	cipher      *keyCipher
	client      backend
	signer      types.Signer
	maxGasPrice *big.Int
	locks       *sync.Map
	timeNow     func() time.Time
}

// NewService returns a custody keeping private keys encrypted in a local badger store and
// signing transfers itself. It's meant for development and testing networks.
func NewService(cfg Config) (ports.WalletCustody, error) {
	if cfg.ChainID <= 0 {
		return nil, fmt.Errorf("invalid chain id %d", cfg.ChainID)
	}
	cipher, err := newKeyCipher(cfg.MasterKey)
	if err != nil {
		return nil, err
	}
	client, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rpc: %w", err)
	}

	dir := ""
	if cfg.Datadir != "" {
		dir = filepath.Join(cfg.Datadir, keyStoreDir)
	}
	store, err := openStore(dir, cfg.Logger)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to open key store: %w", err)
	}

	svc := newService(store, cipher, client, big.NewInt(cfg.ChainID))
	svc.maxGasPrice = cfg.MaxGasPrice
	return svc, nil
}

func newService(
	store *badgerhold.Store, cipher *keyCipher, client backend, chainID *big.Int,
) *service {
	return &service{
		store:   store,
		cipher:  cipher,
		client:  client,
		signer:  types.NewEIP155Signer(chainID),
		locks:   &sync.Map{},
		timeNow: time.Now,
	}
}

func openStore(dir string, logger badger.Logger) (*badgerhold.Store, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = logger
	if dir == "" {
		opts.InMemory = true
	}
	return badgerhold.Open(badgerhold.Options{
		Encoder: badgerhold.DefaultEncode,
		Decoder: badgerhold.DefaultDecode,
		Options: opts,
	})
}

func (s *service) CreateWallet(ctx context.Context) (*ports.CustodyWallet, error) {
	privateKey, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate private key: %w", err)
	}
	encryptedKey, err := s.cipher.encrypt(crypto.FromECDSA(privateKey))
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt private key: %w", err)
	}

	record := walletRecord{
		Handle:       uuid.New().String(),
		Address:      crypto.PubkeyToAddress(privateKey.PublicKey).Hex(),
		EncryptedKey: encryptedKey,
		CreatedAt:    s.timeNow().Unix(),
	}
	if err := s.store.Insert(record.Handle, record); err != nil {
		return nil, fmt.Errorf("failed to store wallet: %w", err)
	}

	log.Debugf("custody: created wallet %s", record.Address)
	return &ports.CustodyWallet{Handle: record.Handle, Address: record.Address}, nil
}

func (s *service) Broadcast(
	ctx context.Context, handle string, req ports.TransferRequest,
) (string, error) {
	if !common.IsHexAddress(req.To) {
		return "", fmt.Errorf("invalid destination address")
	}
	if !req.Amount.IsPositive() {
		return "", fmt.Errorf("invalid amount")
	}

	var record walletRecord
	if err := s.store.Get(handle, &record); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return "", fmt.Errorf("unknown wallet")
		}
		return "", fmt.Errorf("failed to load wallet: %w", err)
	}
	rawKey, err := s.cipher.decrypt(record.EncryptedKey)
	if err != nil {
		return "", fmt.Errorf("failed to unlock wallet: %w", err)
	}
	privateKey, err := crypto.ToECDSA(rawKey)
	if err != nil {
		return "", fmt.Errorf("failed to unlock wallet: invalid key")
	}

	// transfers from the same wallet must not race on the nonce
	lock, _ := s.locks.LoadOrStore(record.Address, &sync.Mutex{})
	lock.(*sync.Mutex).Lock()
	defer lock.(*sync.Mutex).Unlock()

	from := common.HexToAddress(record.Address)
	nonce, err := s.client.PendingNonceAt(ctx, from)
	if err != nil {
		return "", unavailable("failed to get nonce", err)
	}
	gasPrice, err := s.gasPrice(ctx, req.FeeHint)
	if err != nil {
		return "", err
	}
	balance, err := s.client.BalanceAt(ctx, from, nil)
	if err != nil {
		return "", unavailable("failed to get balance", err)
	}

	value := ethchain.ToWei(req.Amount)
	gas := new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(ethchain.TransferGasLimit))
	if required := new(big.Int).Add(value, gas); balance.Cmp(required) < 0 {
		return "", fmt.Errorf(
			"%w: balance %s, required %s", ports.ErrInsufficientFunds,
			ethchain.FromWei(balance), ethchain.FromWei(required),
		)
	}

	tx := types.NewTransaction(
		nonce, common.HexToAddress(req.To), value, ethchain.TransferGasLimit, gasPrice, nil,
	)
	signedTx, err := types.SignTx(tx, s.signer, privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := s.client.SendTransaction(ctx, signedTx); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "insufficient funds") {
			return "", fmt.Errorf("%w: %s", ports.ErrInsufficientFunds, err)
		}
		return "", unavailable("failed to send transaction", err)
	}

	return signedTx.Hash().Hex(), nil
}

// gasPrice returns the price the fee hint was quoted at, so that a transfer of
// amount-minus-fee never costs more than the wallet holds. Without a hint the network's
// suggestion is used. Either way the configured cap applies.
func (s *service) gasPrice(ctx context.Context, feeHint decimal.Decimal) (*big.Int, error) {
	var gasPrice *big.Int
	if feeHint.IsPositive() {
		gasPrice = new(big.Int).Div(
			ethchain.ToWei(feeHint), new(big.Int).SetUint64(ethchain.TransferGasLimit),
		)
	}
	if gasPrice == nil || gasPrice.Sign() <= 0 {
		suggested, err := s.client.SuggestGasPrice(ctx)
		if err != nil {
			return nil, unavailable("failed to get gas price", err)
		}
		gasPrice = suggested
	}

	if s.maxGasPrice != nil && gasPrice.Cmp(s.maxGasPrice) > 0 {
		gasPrice = new(big.Int).Set(s.maxGasPrice)
	}
	return gasPrice, nil
}

func (s *service) Close() {
	s.client.Close()
	if err := s.store.Close(); err != nil {
		log.WithError(err).Warn("custody: failed to close key store")
	}
}

func unavailable(msg string, err error) error {
	return fmt.Errorf("%w: %s: %s", ports.ErrCustodyUnavailable, msg, err)
}

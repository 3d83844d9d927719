package application

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/arkade-os/escrowd/internal/core/domain"
	"github.com/arkade-os/escrowd/internal/core/ports"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	senderPhone    = "+447700900001"
	recipientPhone = "+447700900002"
	senderAddr     = "0x1111111111111111111111111111111111111111"
	custodyAddr    = "0x2222222222222222222222222222222222222222"
	claimerAddr    = "0x3333333333333333333333333333333333333333"
	senderHandle   = "sender-handle"
	custodyHandle  = "custody-handle"
)

type mockCustody struct {
	mock.Mock
}

func (m *mockCustody) CreateWallet(ctx context.Context) (*ports.CustodyWallet, error) {
	args := m.Called(ctx)
	var res *ports.CustodyWallet
	if a := args.Get(0); a != nil {
		res = a.(*ports.CustodyWallet)
	}
	return res, args.Error(1)
}

func (m *mockCustody) Broadcast(
	ctx context.Context, handle string, req ports.TransferRequest,
) (string, error) {
	args := m.Called(ctx, handle, req)
	return args.String(0), args.Error(1)
}

func (m *mockCustody) Close() {}

func (m *mockCustody) broadcasts(handle string) int {
	count := 0
	for _, call := range m.Calls {
		if call.Method == "Broadcast" && call.Arguments.String(1) == handle {
			count++
		}
	}
	return count
}

type mockChain struct {
	mock.Mock
}

func (m *mockChain) EstimateFee(
	ctx context.Context, from, to string, amount decimal.Decimal,
) (decimal.Decimal, error) {
	args := m.Called(ctx, from, to, amount)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *mockChain) GetReceipt(ctx context.Context, txRef string) (*ports.Receipt, error) {
	args := m.Called(ctx, txRef)
	var res *ports.Receipt
	if a := args.Get(0); a != nil {
		res = a.(*ports.Receipt)
	}
	return res, args.Error(1)
}

func (m *mockChain) GetBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	args := m.Called(ctx, address)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *mockChain) BlockNumber(ctx context.Context) (uint64, error) {
	args := m.Called(ctx)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *mockChain) IsValidAddress(address string) bool {
	return strings.HasPrefix(address, "0x") && len(address) == 42
}

func (m *mockChain) Close() {}

// transfer matches a TransferRequest by destination and amount.
func transfer(to string, amount string) interface{} {
	return mock.MatchedBy(func(req ports.TransferRequest) bool {
		return req.To == to && req.Amount.Equal(decimal.RequireFromString(amount))
	})
}

type sentMessage struct {
	requesterId string
	msg         ports.OutboundMessage
}

type fakeMessaging struct {
	lock *sync.Mutex
	sent []sentMessage
}

func newFakeMessaging() *fakeMessaging {
	return &fakeMessaging{lock: &sync.Mutex{}}
}

func (f *fakeMessaging) Send(
	_ context.Context, requesterId string, msg ports.OutboundMessage,
) error {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.sent = append(f.sent, sentMessage{requesterId, msg})
	return nil
}

func (f *fakeMessaging) messagesTo(requesterId string) []string {
	f.lock.Lock()
	defer f.lock.Unlock()
	texts := make([]string, 0)
	for _, m := range f.sent {
		if m.requesterId == requesterId {
			texts = append(texts, m.msg.Text+" "+m.msg.Link)
		}
	}
	return texts
}

type publishedAlert struct {
	topic   ports.Topic
	message interface{}
}

type fakeAlerts struct {
	lock      *sync.Mutex
	published []publishedAlert
}

func newFakeAlerts() *fakeAlerts {
	return &fakeAlerts{lock: &sync.Mutex{}}
}

func (f *fakeAlerts) Publish(_ context.Context, topic ports.Topic, message interface{}) error {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.published = append(f.published, publishedAlert{topic, message})
	return nil
}

func (f *fakeAlerts) topics() []ports.Topic {
	f.lock.Lock()
	defer f.lock.Unlock()
	topics := make([]ports.Topic, 0, len(f.published))
	for _, a := range f.published {
		topics = append(topics, a.topic)
	}
	return topics
}

type fakeScheduler struct {
	lock    *sync.Mutex
	started bool
	tasks   []func()
}

func (f *fakeScheduler) Start() {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.started = true
}

func (f *fakeScheduler) Stop() {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.started = false
}

func (f *fakeScheduler) Unit() ports.TimeUnit { return ports.UnixTime }

func (f *fakeScheduler) ScheduleEvery(_ time.Duration, task func()) error {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.tasks = append(f.tasks, task)
	return nil
}

// fakeClaimRepo serializes every access so that CompareAndSwap is atomic like the real stores.
type fakeClaimRepo struct {
	lock   *sync.Mutex
	claims map[string]domain.Claim
}

func (r *fakeClaimRepo) Add(_ context.Context, claim domain.Claim) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	for _, c := range r.claims {
		if c.TokenDigest == claim.TokenDigest {
			return fmt.Errorf("duplicate token digest")
		}
	}
	r.claims[claim.Id] = claim
	return nil
}

func (r *fakeClaimRepo) Get(_ context.Context, id string) (*domain.Claim, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	c, ok := r.claims[id]
	if !ok {
		return nil, domain.ErrClaimNotFound
	}
	return &c, nil
}

func (r *fakeClaimRepo) GetByTokenDigest(_ context.Context, digest string) (*domain.Claim, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	for _, c := range r.claims {
		if c.TokenDigest == digest {
			return &c, nil
		}
	}
	return nil, domain.ErrClaimNotFound
}

func (r *fakeClaimRepo) GetByRecipientPhone(_ context.Context, phone string) ([]domain.Claim, error) {
	return r.filter(func(c domain.Claim) bool { return c.RecipientPhone == phone }, 0), nil
}

func (r *fakeClaimRepo) GetBySenderPhone(_ context.Context, phone string) ([]domain.Claim, error) {
	return r.filter(func(c domain.Claim) bool { return c.SenderPhone == phone }, 0), nil
}

func (r *fakeClaimRepo) GetExpiredPending(
	_ context.Context, now int64, limit int,
) ([]domain.Claim, error) {
	return r.filter(func(c domain.Claim) bool {
		return c.Status == domain.ClaimPending && c.ExpiresAt <= now
	}, limit), nil
}

func (r *fakeClaimRepo) GetSettlingBefore(
	_ context.Context, before int64,
) ([]domain.Claim, error) {
	return r.filter(func(c domain.Claim) bool {
		return c.Status == domain.ClaimSettling && c.UpdatedAt < before
	}, 0), nil
}

func (r *fakeClaimRepo) CompareAndSwap(
	_ context.Context, expected domain.ClaimStatus, claim domain.Claim,
) (bool, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	current, ok := r.claims[claim.Id]
	if !ok {
		return false, domain.ErrClaimNotFound
	}
	if current.Status != expected {
		return false, nil
	}
	r.claims[claim.Id] = claim
	return true, nil
}

func (r *fakeClaimRepo) Close() {}

func (r *fakeClaimRepo) filter(keep func(domain.Claim) bool, limit int) []domain.Claim {
	r.lock.Lock()
	defer r.lock.Unlock()
	res := make([]domain.Claim, 0)
	for _, c := range r.claims {
		if keep(c) {
			res = append(res, c)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ExpiresAt < res[j].ExpiresAt })
	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}
	return res
}

func (r *fakeClaimRepo) mustGet(t *testing.T, id string) domain.Claim {
	c, err := r.Get(context.Background(), id)
	require.NoError(t, err)
	return *c
}

type fakeTxRepo struct {
	lock *sync.Mutex
	txs  map[string]domain.TransactionRecord
}

func (r *fakeTxRepo) Add(_ context.Context, tx domain.TransactionRecord) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if _, ok := r.txs[tx.Hash]; ok {
		return fmt.Errorf("duplicate hash")
	}
	r.txs[tx.Hash] = tx
	return nil
}

func (r *fakeTxRepo) Get(_ context.Context, hash string) (*domain.TransactionRecord, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	tx, ok := r.txs[hash]
	if !ok {
		return nil, domain.ErrTransactionNotFound
	}
	return &tx, nil
}

func (r *fakeTxRepo) GetPending(_ context.Context, limit int) ([]domain.TransactionRecord, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	res := make([]domain.TransactionRecord, 0)
	for _, tx := range r.txs {
		if tx.Status == domain.TxPending {
			res = append(res, tx)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Hash < res[j].Hash })
	if len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

func (r *fakeTxRepo) GetByClaimId(
	_ context.Context, claimId string,
) ([]domain.TransactionRecord, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	res := make([]domain.TransactionRecord, 0)
	for _, tx := range r.txs {
		if tx.ClaimId == claimId {
			res = append(res, tx)
		}
	}
	return res, nil
}

func (r *fakeTxRepo) UpdateStatus(
	_ context.Context, hash string, status domain.TxStatus, updatedAt int64,
) (bool, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	tx, ok := r.txs[hash]
	if !ok {
		return false, domain.ErrTransactionNotFound
	}
	if tx.Status != domain.TxPending {
		return false, nil
	}
	tx.Status = status
	tx.UpdatedAt = updatedAt
	r.txs[hash] = tx
	return true, nil
}

func (r *fakeTxRepo) Close() {}

func (r *fakeTxRepo) count() int {
	r.lock.Lock()
	defer r.lock.Unlock()
	return len(r.txs)
}

type fakeAccountRepo struct {
	lock     *sync.Mutex
	accounts map[string]domain.Account
}

func (r *fakeAccountRepo) Add(_ context.Context, account domain.Account) (*domain.Account, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	if existing, ok := r.accounts[account.Phone]; ok {
		return &existing, nil
	}
	r.accounts[account.Phone] = account
	return &account, nil
}

func (r *fakeAccountRepo) Get(_ context.Context, phone string) (*domain.Account, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	account, ok := r.accounts[phone]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	return &account, nil
}

func (r *fakeAccountRepo) Close() {}

type fakeRepoManager struct {
	claims   *fakeClaimRepo
	txs      *fakeTxRepo
	accounts *fakeAccountRepo
}

func newFakeRepoManager() *fakeRepoManager {
	return &fakeRepoManager{
		claims:   &fakeClaimRepo{&sync.Mutex{}, make(map[string]domain.Claim)},
		txs:      &fakeTxRepo{&sync.Mutex{}, make(map[string]domain.TransactionRecord)},
		accounts: &fakeAccountRepo{&sync.Mutex{}, make(map[string]domain.Account)},
	}
}

func (m *fakeRepoManager) Claims() domain.ClaimRepository             { return m.claims }
func (m *fakeRepoManager) Transactions() domain.TransactionRepository { return m.txs }
func (m *fakeRepoManager) Accounts() domain.AccountRepository         { return m.accounts }
func (m *fakeRepoManager) Close()                                     {}

type fakePendingStore struct {
	lock *sync.Mutex
	ops  map[string]domain.PendingOperation
}

func (s *fakePendingStore) Set(
	_ context.Context, op domain.PendingOperation, _ time.Duration,
) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.ops[op.RequesterId] = op
	return nil
}

func (s *fakePendingStore) Get(
	_ context.Context, requesterId string,
) (*domain.PendingOperation, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	op, ok := s.ops[requesterId]
	if !ok {
		return nil, nil
	}
	return &op, nil
}

func (s *fakePendingStore) Delete(_ context.Context, requesterId string) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	delete(s.ops, requesterId)
	return nil
}

type fakeLiveStore struct {
	ops *fakePendingStore
}

func (l *fakeLiveStore) PendingOperations() ports.PendingOperationStore { return l.ops }
func (l *fakeLiveStore) Close()                                         {}

type testEnv struct {
	svc       *service
	repo      *fakeRepoManager
	ops       *fakePendingStore
	custody   *mockCustody
	chain     *mockChain
	messaging *fakeMessaging
	alerts    *fakeAlerts
	scheduler *fakeScheduler

	clockLock *sync.Mutex
	clock     time.Time
}

func testConfig() Config {
	return Config{
		HoldWindow:         24 * time.Hour,
		SweepInterval:      time.Minute,
		SweepBatchSize:     10,
		SettlingTimeout:    10 * time.Minute,
		ReconcileInterval:  30 * time.Second,
		ReconcileBatchSize: 10,
		ConfirmationTTL:    5 * time.Minute,
		RPCTimeout:         time.Second,
		MaxEstimateRetries: 3,
		SmallAmountFloor:   decimal.RequireFromString("0.01"),
		ClaimPolicy:        DefaultSettlementPolicy(),
		RefundPolicy:       DefaultSettlementPolicy(),
		BotNumber:          "+15550001111",
	}
}

func newTestEnv(t *testing.T) *testEnv {
	env := &testEnv{
		repo:      newFakeRepoManager(),
		ops:       &fakePendingStore{&sync.Mutex{}, make(map[string]domain.PendingOperation)},
		custody:   &mockCustody{},
		chain:     &mockChain{},
		messaging: newFakeMessaging(),
		alerts:    newFakeAlerts(),
		scheduler: &fakeScheduler{lock: &sync.Mutex{}},
		clockLock: &sync.Mutex{},
		clock:     time.Unix(1_700_000_000, 0),
	}

	svc, err := NewService(
		env.repo, &fakeLiveStore{env.ops}, env.custody, env.chain, env.messaging,
		env.scheduler, env.alerts, testConfig(),
	)
	require.NoError(t, err)

	env.svc = svc.(*service)
	env.svc.now = env.now
	env.svc.retry = testRetryPolicy
	env.svc.sweeper.retry = testRetryPolicy
	env.svc.reconciler.retry = testRetryPolicy
	return env
}

func (e *testEnv) now() time.Time {
	e.clockLock.Lock()
	defer e.clockLock.Unlock()
	return e.clock
}

func (e *testEnv) advance(d time.Duration) {
	e.clockLock.Lock()
	defer e.clockLock.Unlock()
	e.clock = e.clock.Add(d)
}

func (e *testEnv) addAccount(phone, handle, address string) {
	e.repo.accounts.accounts[phone] = domain.Account{
		Phone: phone, WalletHandle: handle, Address: address, CreatedAt: e.now().Unix(),
	}
}

// addClaim stores a pending claim for the given token and returns it.
func (e *testEnv) addClaim(t *testing.T, token, amount string) domain.Claim {
	claim := domain.NewClaim(domain.NewClaimParams{
		SenderPhone:         senderPhone,
		SenderAddress:       senderAddr,
		RecipientPhone:      recipientPhone,
		TokenDigest:         hashToken(token),
		CustodyWalletHandle: custodyHandle,
		CustodyAddress:      custodyAddr,
		Amount:              decimal.RequireFromString(amount),
		HoldTxRef:           "0xhold-" + token,
	}, e.now(), 24*time.Hour)
	require.NoError(t, e.repo.claims.Add(context.Background(), claim))
	return claim
}

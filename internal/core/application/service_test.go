package application

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/arkade-os/escrowd/internal/core/domain"
	"github.com/arkade-os/escrowd/internal/core/ports"
	"github.com/arkade-os/escrowd/pkg/errors"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// createHold drives a claim link send from proposal to confirmed hold.
func (e *testEnv) createHold(t *testing.T, amount string) *HoldResult {
	ctx := context.Background()
	e.chain.On("EstimateFee", mock.Anything, senderAddr, senderAddr, mock.Anything).
		Return(d("0.000021"), nil)
	e.chain.On("GetBalance", mock.Anything, senderAddr).Return(d("10"), nil)
	e.custody.On("CreateWallet", mock.Anything).
		Return(&ports.CustodyWallet{Handle: custodyHandle, Address: custodyAddr}, nil).Once()
	e.custody.On("Broadcast", mock.Anything, senderHandle, transfer(custodyAddr, amount)).
		Return("0xhold", nil).Once()

	proposal, err := e.svc.RequestSend(ctx, SendRequest{
		RequesterPhone: senderPhone,
		RecipientPhone: recipientPhone,
		Amount:         d(amount),
	})
	require.Nil(t, err)
	require.Equal(t, domain.OperationClaimLinkSend, proposal.Kind)
	require.False(t, proposal.Registered)

	res, err := e.svc.Resolve(ctx, senderPhone, Signal{Text: "yes"})
	require.Nil(t, err)
	require.Equal(t, OutcomeExecuted, res.Outcome)
	require.NotNil(t, res.Hold)
	return res.Hold
}

func TestClaimLinkLifecycle(t *testing.T) {
	ctx := context.Background()

	t.Run("claimed", func(t *testing.T) {
		env := newTestEnv(t)
		env.addAccount(senderPhone, senderHandle, senderAddr)
		hold := env.createHold(t, "2.0")

		link, err := url.Parse(hold.ClaimLink)
		require.NoError(t, err)
		require.Equal(t, "CLAIM "+hold.Token, link.Query().Get("text"))

		stored := env.repo.claims.mustGet(t, hold.ClaimId)
		require.Equal(t, domain.ClaimPending, stored.Status)
		require.Equal(t, hashToken(hold.Token), stored.TokenDigest)
		require.NotContains(t, fmt.Sprintf("%+v", stored), hold.Token)
		require.Equal(t, env.now().Add(24*time.Hour).Unix(), stored.ExpiresAt)

		env.custody.On("CreateWallet", mock.Anything).
			Return(&ports.CustodyWallet{Handle: "recipient-handle", Address: claimerAddr}, nil).
			Once()
		env.chain.On("EstimateFee", mock.Anything, custodyAddr, claimerAddr, mock.Anything).
			Return(d("0.000021"), nil)
		env.custody.On(
			"Broadcast", mock.Anything, custodyHandle, transfer(claimerAddr, "1.999979"),
		).Return("0xclaim", nil).Once()

		reply, verr := env.svc.HandleMessage(ctx, ports.InboundMessage{
			RequesterId: recipientPhone,
			Text:        "CLAIM " + hold.Token,
		})
		require.Nil(t, verr)
		require.Contains(t, reply.Text, "1.999979")

		claim := env.repo.claims.mustGet(t, hold.ClaimId)
		require.Equal(t, domain.ClaimClaimed, claim.Status)
		require.Equal(t, domain.SettlementClaim, claim.SettlementKind)
		require.Equal(t, "0xclaim", claim.SettleTxRef)
		require.Equal(t, claimerAddr, claim.ClaimerAddress)
		require.True(t, claim.SettledAmount.Equal(d("1.999979")))
		require.True(t, claim.SettledAmount.Add(claim.GasCost).Equal(claim.Amount))

		txs, err := env.repo.txs.GetByClaimId(ctx, claim.Id)
		require.NoError(t, err)
		require.Len(t, txs, 2)

		require.NotEmpty(t, env.messaging.messagesTo(senderPhone))
		require.Contains(t, strings.Join(env.messaging.messagesTo(senderPhone), "\n"), "claimed")

		_, verr = env.svc.ValidateAndClaim(ctx, ClaimRequest{
			Token: hold.Token, ClaimerPhone: recipientPhone, ClaimerAddress: claimerAddr,
		})
		require.True(t, errors.CLAIM_NOT_ACTIVE.Is(verr))
		require.Equal(t, 1, env.custody.broadcasts(custodyHandle))
	})

	t.Run("refunded", func(t *testing.T) {
		env := newTestEnv(t)
		env.addAccount(senderPhone, senderHandle, senderAddr)
		hold := env.createHold(t, "2.0")

		env.advance(24 * time.Hour)

		_, verr := env.svc.ValidateAndClaim(ctx, ClaimRequest{
			Token: hold.Token, ClaimerPhone: recipientPhone, ClaimerAddress: claimerAddr,
		})
		require.True(t, errors.CLAIM_EXPIRED.Is(verr))

		env.chain.On("EstimateFee", mock.Anything, custodyAddr, senderAddr, mock.Anything).
			Return(d("0.000021"), nil)
		env.custody.On(
			"Broadcast", mock.Anything, custodyHandle, transfer(senderAddr, "1.999979"),
		).Return("0xrefund", nil).Once()

		env.svc.sweeper.sweep(ctx)
		env.svc.sweeper.sweep(ctx)

		claim := env.repo.claims.mustGet(t, hold.ClaimId)
		require.Equal(t, domain.ClaimRefunded, claim.Status)
		require.Equal(t, domain.SettlementRefund, claim.SettlementKind)
		require.Equal(t, "0xrefund", claim.SettleTxRef)
		require.True(t, claim.SettledAmount.Equal(d("1.999979")))
		require.NotZero(t, claim.RefundedAt)
		require.Equal(t, 1, env.custody.broadcasts(custodyHandle))
		require.Contains(t, strings.Join(env.messaging.messagesTo(senderPhone), "\n"), "returned")

		_, verr = env.svc.ValidateAndClaim(ctx, ClaimRequest{
			Token: hold.Token, ClaimerPhone: recipientPhone, ClaimerAddress: claimerAddr,
		})
		require.True(t, errors.CLAIM_NOT_ACTIVE.Is(verr))
	})
}

func TestRequestSend(t *testing.T) {
	ctx := context.Background()

	t.Run("direct send to registered recipient", func(t *testing.T) {
		env := newTestEnv(t)
		env.addAccount(senderPhone, senderHandle, senderAddr)
		env.addAccount(recipientPhone, "recipient-handle", claimerAddr)
		env.chain.On("EstimateFee", mock.Anything, senderAddr, claimerAddr, mock.Anything).
			Return(d("0.001"), nil)
		env.chain.On("GetBalance", mock.Anything, senderAddr).Return(d("5"), nil)

		proposal, err := env.svc.RequestSend(ctx, SendRequest{
			RequesterPhone: senderPhone, RecipientPhone: recipientPhone, Amount: d("1"),
		})
		require.Nil(t, err)
		require.Equal(t, domain.OperationDirectSend, proposal.Kind)
		require.True(t, proposal.Registered)
		require.True(t, proposal.Total.Equal(d("1.001")))
		require.Contains(t, proposal.Prompt, "YES")
	})

	t.Run("small amount asks for a warning first", func(t *testing.T) {
		env := newTestEnv(t)
		env.addAccount(senderPhone, senderHandle, senderAddr)
		env.chain.On("EstimateFee", mock.Anything, senderAddr, senderAddr, mock.Anything).
			Return(d("0.00001"), nil)
		env.chain.On("GetBalance", mock.Anything, senderAddr).Return(d("5"), nil)

		proposal, err := env.svc.RequestSend(ctx, SendRequest{
			RequesterPhone: senderPhone, RecipientPhone: recipientPhone, Amount: d("0.005"),
		})
		require.Nil(t, err)
		require.Equal(t, domain.OperationSmallAmountWarning, proposal.Kind)
	})

	t.Run("insufficient balance", func(t *testing.T) {
		env := newTestEnv(t)
		env.addAccount(senderPhone, senderHandle, senderAddr)
		env.chain.On("EstimateFee", mock.Anything, senderAddr, senderAddr, mock.Anything).
			Return(d("0.001"), nil)
		env.chain.On("GetBalance", mock.Anything, senderAddr).Return(d("0.5"), nil)

		_, err := env.svc.RequestSend(ctx, SendRequest{
			RequesterPhone: senderPhone, RecipientPhone: recipientPhone, Amount: d("1"),
		})
		require.True(t, errors.INSUFFICIENT_BALANCE.Is(err))
		require.Equal(t, "0.501", err.Metadata()["shortfall"])

		op, perr := env.ops.Get(ctx, senderPhone)
		require.NoError(t, perr)
		require.Nil(t, op)
	})

	t.Run("amount too small for the claim fee", func(t *testing.T) {
		env := newTestEnv(t)
		env.addAccount(senderPhone, senderHandle, senderAddr)
		env.chain.On("EstimateFee", mock.Anything, senderAddr, senderAddr, mock.Anything).
			Return(d("0.0009"), nil)

		_, err := env.svc.RequestSend(ctx, SendRequest{
			RequesterPhone: senderPhone, RecipientPhone: recipientPhone, Amount: d("0.001"),
		})
		require.True(t, errors.AMOUNT_TOO_SMALL_FOR_GAS.Is(err))
		env.chain.AssertNotCalled(t, "GetBalance", mock.Anything, mock.Anything)
	})

	t.Run("invalid requests", func(t *testing.T) {
		env := newTestEnv(t)
		env.addAccount(senderPhone, senderHandle, senderAddr)

		_, err := env.svc.RequestSend(ctx, SendRequest{
			RequesterPhone: senderPhone, RecipientPhone: senderPhone, Amount: d("1"),
		})
		require.True(t, errors.INVALID_PHONE.Is(err))

		_, err = env.svc.RequestSend(ctx, SendRequest{
			RequesterPhone: senderPhone, RecipientPhone: "12", Amount: d("1"),
		})
		require.True(t, errors.INVALID_PHONE.Is(err))

		_, err = env.svc.RequestSend(ctx, SendRequest{
			RequesterPhone: senderPhone, RecipientPhone: recipientPhone, Amount: d("-1"),
		})
		require.True(t, errors.INVALID_AMOUNT.Is(err))

		_, err = env.svc.RequestSend(ctx, SendRequest{
			RequesterPhone: "+447700900077", RecipientPhone: recipientPhone, Amount: d("1"),
		})
		require.True(t, errors.ACCOUNT_NOT_FOUND.Is(err))
	})
}

func TestConfirmation(t *testing.T) {
	ctx := context.Background()

	proposeDirect := func(t *testing.T, env *testEnv, amount string) {
		env.chain.On("EstimateFee", mock.Anything, senderAddr, claimerAddr, mock.Anything).
			Return(d("0.001"), nil)
		env.chain.On("GetBalance", mock.Anything, senderAddr).Return(d("5"), nil)
		_, err := env.svc.RequestSend(ctx, SendRequest{
			RequesterPhone: senderPhone, RecipientPhone: recipientPhone, Amount: d(amount),
		})
		require.Nil(t, err)
	}
	newEnv := func(t *testing.T) *testEnv {
		env := newTestEnv(t)
		env.addAccount(senderPhone, senderHandle, senderAddr)
		env.addAccount(recipientPhone, "recipient-handle", claimerAddr)
		return env
	}

	t.Run("cancel moves nothing", func(t *testing.T) {
		env := newEnv(t)
		proposeDirect(t, env, "1")

		res, err := env.svc.Resolve(ctx, senderPhone, Signal{Reaction: "👎🏽"})
		require.Nil(t, err)
		require.Equal(t, OutcomeCancelled, res.Outcome)

		_, err = env.svc.Resolve(ctx, senderPhone, Signal{Text: "yes"})
		require.True(t, errors.NOTHING_TO_CONFIRM.Is(err))
		env.custody.AssertNotCalled(t, "Broadcast", mock.Anything, mock.Anything, mock.Anything)
		require.Zero(t, env.repo.txs.count())
	})

	t.Run("expired proposal cannot be confirmed", func(t *testing.T) {
		env := newEnv(t)
		proposeDirect(t, env, "1")

		env.advance(5 * time.Minute)

		_, err := env.svc.Resolve(ctx, senderPhone, Signal{Text: "yes"})
		require.True(t, errors.NOTHING_TO_CONFIRM.Is(err))
		env.custody.AssertNotCalled(t, "Broadcast", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("unrecognized reply keeps the proposal", func(t *testing.T) {
		env := newEnv(t)
		proposeDirect(t, env, "1")
		env.custody.On("Broadcast", mock.Anything, senderHandle, transfer(claimerAddr, "1")).
			Return("0xdirect", nil).Once()

		res, err := env.svc.Resolve(ctx, senderPhone, Signal{Text: "maybe later"})
		require.Nil(t, err)
		require.Equal(t, OutcomeReprompt, res.Outcome)
		require.Contains(t, res.Message, "YES")

		res, err = env.svc.Resolve(ctx, senderPhone, Signal{Text: "Yes!"})
		require.Nil(t, err)
		require.Equal(t, OutcomeExecuted, res.Outcome)
		require.NotNil(t, res.Transfer)
		require.Equal(t, "0xdirect", res.Transfer.TxRef)

		tx, terr := env.repo.txs.Get(ctx, "0xdirect")
		require.NoError(t, terr)
		require.Equal(t, domain.TxKindDirect, tx.Kind)
		require.Equal(t, domain.TxPending, tx.Status)
		require.NotEmpty(t, env.messaging.messagesTo(recipientPhone))
	})

	t.Run("new proposal replaces the previous one", func(t *testing.T) {
		env := newEnv(t)
		proposeDirect(t, env, "1")
		proposeDirect(t, env, "2")
		env.custody.On("Broadcast", mock.Anything, senderHandle, transfer(claimerAddr, "2")).
			Return("0xdirect", nil).Once()

		res, err := env.svc.Resolve(ctx, senderPhone, Signal{Reaction: "👍"})
		require.Nil(t, err)
		require.True(t, res.Transfer.Amount.Equal(d("2")))
		require.Equal(t, 1, env.custody.broadcasts(senderHandle))
	})

	t.Run("small amount needs two confirmations", func(t *testing.T) {
		env := newTestEnv(t)
		env.addAccount(senderPhone, senderHandle, senderAddr)
		env.chain.On("EstimateFee", mock.Anything, senderAddr, senderAddr, mock.Anything).
			Return(d("0.00001"), nil)
		env.chain.On("GetBalance", mock.Anything, senderAddr).Return(d("5"), nil)
		env.custody.On("CreateWallet", mock.Anything).
			Return(&ports.CustodyWallet{Handle: custodyHandle, Address: custodyAddr}, nil).Once()
		env.custody.On("Broadcast", mock.Anything, senderHandle, transfer(custodyAddr, "0.005")).
			Return("0xhold", nil).Once()

		_, err := env.svc.RequestSend(ctx, SendRequest{
			RequesterPhone: senderPhone, RecipientPhone: recipientPhone, Amount: d("0.005"),
		})
		require.Nil(t, err)

		res, err := env.svc.Resolve(ctx, senderPhone, Signal{Text: "ok"})
		require.Nil(t, err)
		require.Equal(t, OutcomeAwaitingConfirmation, res.Outcome)
		require.NotNil(t, res.Proposal)
		require.Equal(t, domain.OperationClaimLinkSend, res.Proposal.Kind)
		env.custody.AssertNotCalled(t, "CreateWallet", mock.Anything)

		res, err = env.svc.Resolve(ctx, senderPhone, Signal{Text: "ok"})
		require.Nil(t, err)
		require.Equal(t, OutcomeExecuted, res.Outcome)
		require.NotNil(t, res.Hold)
	})

	t.Run("concurrent confirmations execute once", func(t *testing.T) {
		env := newEnv(t)
		proposeDirect(t, env, "1")
		env.custody.On("Broadcast", mock.Anything, senderHandle, mock.Anything).
			Return("0xdirect", nil)

		var (
			wg       sync.WaitGroup
			lock     sync.Mutex
			executed int
			nothing  int
		)
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				res, err := env.svc.Resolve(ctx, senderPhone, Signal{Text: "yes"})
				lock.Lock()
				defer lock.Unlock()
				if err != nil {
					if errors.NOTHING_TO_CONFIRM.Is(err) {
						nothing++
					}
					return
				}
				if res.Outcome == OutcomeExecuted {
					executed++
				}
			}()
		}
		wg.Wait()

		require.Equal(t, 1, executed)
		require.Equal(t, 9, nothing)
		require.Equal(t, 1, env.custody.broadcasts(senderHandle))
	})
}

func TestCreateHoldFailures(t *testing.T) {
	ctx := context.Background()
	validReq := func() HoldRequest {
		return HoldRequest{
			SenderPhone:        senderPhone,
			SenderAddress:      senderAddr,
			SenderWalletHandle: senderHandle,
			RecipientPhone:     recipientPhone,
			Amount:             d("1"),
		}
	}

	t.Run("invalid request", func(t *testing.T) {
		env := newTestEnv(t)

		req := validReq()
		req.SenderAddress = "not-an-address"
		_, err := env.svc.CreateHold(ctx, req)
		require.True(t, errors.INVALID_HOLD_REQUEST.Is(err))
		require.Equal(t, "sender_address", err.Metadata()["field"])

		req = validReq()
		req.Amount = d("0")
		_, err = env.svc.CreateHold(ctx, req)
		require.True(t, errors.INVALID_HOLD_REQUEST.Is(err))

		env.custody.AssertNotCalled(t, "CreateWallet", mock.Anything)
	})

	t.Run("custody unavailable", func(t *testing.T) {
		env := newTestEnv(t)
		env.custody.On("CreateWallet", mock.Anything).
			Return(nil, fmt.Errorf("%w: 503", ports.ErrCustodyUnavailable))

		_, err := env.svc.CreateHold(ctx, validReq())
		require.True(t, errors.SERVICE_UNAVAILABLE.Is(err))
		env.custody.AssertNumberOfCalls(t, "CreateWallet", int(testRetryPolicy.maxRetries)+1)
		require.Empty(t, env.repo.claims.claims)
	})

	t.Run("hold broadcast fails", func(t *testing.T) {
		env := newTestEnv(t)
		env.custody.On("CreateWallet", mock.Anything).
			Return(&ports.CustodyWallet{Handle: custodyHandle, Address: custodyAddr}, nil)
		env.custody.On("Broadcast", mock.Anything, senderHandle, mock.Anything).
			Return("", fmt.Errorf("%w: balance too low", ports.ErrInsufficientFunds)).Once()

		_, err := env.svc.CreateHold(ctx, validReq())
		require.True(t, errors.INSUFFICIENT_BALANCE.Is(err))
		require.Empty(t, env.repo.claims.claims)
		require.Zero(t, env.repo.txs.count())
		env.custody.AssertNumberOfCalls(t, "Broadcast", 1)
	})
}

func TestHandleMessage(t *testing.T) {
	ctx := context.Background()

	t.Run("send command", func(t *testing.T) {
		env := newTestEnv(t)
		env.addAccount(senderPhone, senderHandle, senderAddr)
		env.addAccount(recipientPhone, "recipient-handle", claimerAddr)
		env.chain.On("EstimateFee", mock.Anything, senderAddr, claimerAddr, mock.Anything).
			Return(d("0.001"), nil)
		env.chain.On("GetBalance", mock.Anything, senderAddr).Return(d("5"), nil)
		env.custody.On("Broadcast", mock.Anything, senderHandle, transfer(claimerAddr, "1.5")).
			Return("0xdirect", nil).Once()

		reply, err := env.svc.HandleMessage(ctx, ports.InboundMessage{
			RequesterId: senderPhone, Text: "send 1.5 to " + recipientPhone,
		})
		require.Nil(t, err)
		require.Contains(t, reply.Text, "YES")

		reply, err = env.svc.HandleMessage(ctx, ports.InboundMessage{
			RequesterId: senderPhone, Reaction: "👍",
		})
		require.Nil(t, err)
		require.Contains(t, reply.Text, "Sent 1.5")
		require.Len(t, env.messaging.messagesTo(senderPhone), 2)
	})

	t.Run("help for unknown text", func(t *testing.T) {
		env := newTestEnv(t)
		env.addClaim(t, "help-token-123", "1")

		reply, err := env.svc.HandleMessage(ctx, ports.InboundMessage{
			RequesterId: recipientPhone, Text: "hello",
		})
		require.Nil(t, err)
		require.Contains(t, reply.Text, "1 transfer(s) waiting")
		require.Contains(t, reply.Text, helpText)

		reply, err = env.svc.HandleMessage(ctx, ports.InboundMessage{
			RequesterId: senderPhone, Text: "hello",
		})
		require.Nil(t, err)
		require.Equal(t, helpText, reply.Text)
	})

	t.Run("errors become replies", func(t *testing.T) {
		env := newTestEnv(t)
		env.addAccount(recipientPhone, "recipient-handle", claimerAddr)

		reply, err := env.svc.HandleMessage(ctx, ports.InboundMessage{
			RequesterId: recipientPhone, Text: "CLAIM unknown-token-value",
		})
		require.Nil(t, err)
		require.NotEmpty(t, reply.Text)
		require.NotContains(t, reply.Text, "unknown-token-value")
	})

	t.Run("invalid requester", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.svc.HandleMessage(ctx, ports.InboundMessage{RequesterId: "abc", Text: "hi"})
		require.True(t, errors.INVALID_PHONE.Is(err))
	})
}

func TestQueries(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	first := env.addClaim(t, "first-token-123", "1")
	env.advance(time.Minute)
	second := env.addClaim(t, "second-token-12", "2")

	info, err := env.svc.GetClaim(ctx, first.Id)
	require.Nil(t, err)
	require.Equal(t, first.Id, info.Id)
	require.True(t, info.Amount.Equal(d("1")))

	_, err = env.svc.GetClaim(ctx, "missing")
	require.True(t, errors.CLAIM_NOT_FOUND.Is(err))

	claims, err := env.svc.ListClaims(ctx, recipientPhone)
	require.Nil(t, err)
	require.Len(t, claims, 2)
	require.Equal(t, second.Id, claims[0].Id)
	require.Equal(t, first.Id, claims[1].Id)

	env.custody.On("CreateWallet", mock.Anything).
		Return(&ports.CustodyWallet{Handle: "new-handle", Address: claimerAddr}, nil).Once()

	account, err := env.svc.RegisterAccount(ctx, "44 7700 900050")
	require.Nil(t, err)
	require.Equal(t, "+447700900050", account.Phone)
	require.Equal(t, claimerAddr, account.Address)

	again, err := env.svc.RegisterAccount(ctx, "+447700900050")
	require.Nil(t, err)
	require.Equal(t, account.Address, again.Address)
	env.custody.AssertNumberOfCalls(t, "CreateWallet", 1)
}

func TestStart(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.svc.Start())
	require.True(t, env.scheduler.started)
	require.Len(t, env.scheduler.tasks, 2)
}

func TestNewServiceConfig(t *testing.T) {
	fixtures := []struct {
		name        string
		tweak       func(*Config)
		expectedErr string
	}{
		{
			name:        "no rpc timeout",
			tweak:       func(c *Config) { c.RPCTimeout = 0 },
			expectedErr: "rpc timeout must be positive",
		},
		{
			name: "settling timeout close to rpc timeout",
			tweak: func(c *Config) {
				c.RPCTimeout = 10 * time.Second
				c.SettlingTimeout = 15 * time.Second
			},
			expectedErr: "settling timeout",
		},
		{
			name:        "non positive hold window",
			tweak:       func(c *Config) { c.HoldWindow = 0 },
			expectedErr: "hold window must be positive",
		},
	}
	for _, f := range fixtures {
		t.Run(f.name, func(t *testing.T) {
			cfg := testConfig()
			f.tweak(&cfg)
			svc, err := NewService(
				newFakeRepoManager(), &fakeLiveStore{}, &mockCustody{}, &mockChain{},
				newFakeMessaging(), &fakeScheduler{}, newFakeAlerts(), cfg,
			)
			require.ErrorContains(t, err, f.expectedErr)
			require.Nil(t, svc)
		})
	}

	cfg := testConfig()
	cfg.RPCTimeout = 10 * time.Second
	cfg.SettlingTimeout = 50 * time.Second
	require.NoError(t, validateConfig(cfg))
}

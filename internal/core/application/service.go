package application

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/arkade-os/escrowd/internal/core/domain"
	"github.com/arkade-os/escrowd/internal/core/ports"
	"github.com/arkade-os/escrowd/internal/metrics"
	"github.com/arkade-os/escrowd/pkg/errors"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

type service struct {
	repoManager ports.RepoManager
	liveStore   ports.LiveStore
	custody     ports.WalletCustody
	chain       ports.ChainClient
	scheduler   ports.SchedulerService

	cfg           Config
	retry         retryPolicy
	tokens        tokenService
	notifier      *notifier
	settler       *settler
	confirmations *confirmationMachine
	sweeper       *sweeper
	reconciler    *reconciler

	now func() time.Time
}

func NewService(
	repoManager ports.RepoManager,
	liveStore ports.LiveStore,
	custody ports.WalletCustody,
	chain ports.ChainClient,
	messaging ports.MessagingGateway,
	scheduler ports.SchedulerService,
	alerts ports.Alerts,
	cfg Config,
) (Service, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	svc := &service{
		repoManager: repoManager,
		liveStore:   liveStore,
		custody:     custody,
		chain:       chain,
		scheduler:   scheduler,
		cfg:         cfg,
		retry:       defaultRetryPolicy(cfg.MaxEstimateRetries),
		tokens:      newTokenService(cfg.ClaimLinkPrefix, cfg.BotNumber),
		notifier:    &notifier{messaging, alerts},
		now:         time.Now,
	}
	svc.settler = &settler{
		repoManager: repoManager,
		custody:     custody,
		notifier:    svc.notifier,
		rpcTimeout:  cfg.RPCTimeout,
		now:         svc.currentTime,
	}
	svc.confirmations = newConfirmationMachine(
		liveStore.PendingOperations(), cfg.ConfirmationTTL, svc.currentTime,
	)
	svc.sweeper = &sweeper{
		repoManager:     repoManager,
		chain:           chain,
		scheduler:       scheduler,
		settler:         svc.settler,
		notifier:        svc.notifier,
		policy:          cfg.RefundPolicy,
		interval:        cfg.SweepInterval,
		batchSize:       cfg.SweepBatchSize,
		settlingTimeout: cfg.SettlingTimeout,
		rpcTimeout:      cfg.RPCTimeout,
		retry:           svc.retry,
		now:             svc.currentTime,
		running:         &sync.Mutex{},
	}
	svc.reconciler = &reconciler{
		repoManager: repoManager,
		chain:       chain,
		scheduler:   scheduler,
		interval:    cfg.ReconcileInterval,
		batchSize:   cfg.ReconcileBatchSize,
		rpcTimeout:  cfg.RPCTimeout,
		retry:       svc.retry,
		now:         svc.currentTime,
		running:     &sync.Mutex{},
	}
	return svc, nil
}

func (s *service) Start() error {
	log.Debug("starting sweeper and reconciler...")
	s.scheduler.Start()

	if err := s.sweeper.start(); err != nil {
		return fmt.Errorf("failed to start sweeper: %s", err)
	}
	if err := s.reconciler.start(); err != nil {
		return fmt.Errorf("failed to start reconciler: %s", err)
	}
	log.Info("started sweeper and reconciler")
	return nil
}

func (s *service) Stop() {
	s.scheduler.Stop()
	log.Info("scheduler stopped")

	s.custody.Close()
	log.Info("custody service closed")

	s.chain.Close()
	log.Info("chain client closed")

	s.repoManager.Close()
	log.Info("closed connection to db")

	s.liveStore.Close()
	log.Info("closed live store")
}

func (s *service) RegisterAccount(ctx context.Context, phone string) (*AccountInfo, errors.Error) {
	account, err := s.ensureAccount(ctx, phone)
	if err != nil {
		return nil, err
	}
	return &AccountInfo{
		Phone:     account.Phone,
		Address:   account.Address,
		CreatedAt: account.CreatedAt,
	}, nil
}

func (s *service) RequestSend(ctx context.Context, req SendRequest) (*Proposal, errors.Error) {
	requester, verr := normalizePhone(req.RequesterPhone)
	if verr != nil {
		return nil, verr
	}
	recipientPhone, verr := normalizePhone(req.RecipientPhone)
	if verr != nil {
		return nil, verr
	}
	if requester == recipientPhone {
		return nil, errors.INVALID_PHONE.New("cannot send to yourself").
			WithMetadata(errors.InvalidFieldMetadata{
				Field: "recipient_phone", Value: maskPhone(recipientPhone),
			})
	}
	if !req.Amount.IsPositive() {
		return nil, errors.INVALID_AMOUNT.New("amount must be positive").
			WithMetadata(errors.InvalidFieldMetadata{Field: "amount", Value: req.Amount.String()})
	}

	sender, verr := s.getAccount(ctx, requester)
	if verr != nil {
		return nil, verr
	}
	recipient, err := s.repoManager.Accounts().Get(ctx, recipientPhone)
	if err != nil && !stderrors.Is(err, domain.ErrAccountNotFound) {
		log.WithError(err).Error("failed to look up recipient account")
		return nil, errors.INTERNAL_ERROR.Wrap(fmt.Errorf("failed to look up recipient"))
	}
	registered := err == nil && recipient != nil

	// the custody address of an escrow is unknown until the hold is created, the sender's own
	// address stands in for it in the estimate
	destination := sender.Address
	if registered {
		destination = recipient.Address
	}
	fee, err := s.estimateFee(ctx, sender.Address, destination, req.Amount)
	if err != nil {
		log.WithError(err).Warn("failed to estimate send fee")
		return nil, errors.SERVICE_UNAVAILABLE.Wrap(fmt.Errorf("failed to estimate network fee"))
	}

	if !registered {
		// the recipient pays the claim fee out of the escrowed amount
		if quote := ComputeSettlement(req.Amount, fee, s.cfg.ClaimPolicy); !quote.Ok {
			return nil, quote.Err()
		}
	}

	total := req.Amount.Add(fee)
	balance, err := withRetry(ctx, s.retry, "get balance",
		func(ctx context.Context) (decimal.Decimal, error) {
			ctx, cancel := withTimeout(ctx, s.cfg.RPCTimeout)
			defer cancel()
			return s.chain.GetBalance(ctx, sender.Address)
		},
	)
	if err != nil {
		log.WithError(err).Warn("failed to get sender balance")
		return nil, errors.SERVICE_UNAVAILABLE.Wrap(fmt.Errorf("failed to get balance"))
	}
	if balance.LessThan(total) {
		return nil, errors.INSUFFICIENT_BALANCE.New(
			"balance %s is lower than %s", balance, total,
		).WithMetadata(errors.BalanceMetadata{
			Balance:   balance.String(),
			Required:  total.String(),
			Shortfall: total.Sub(balance).String(),
		})
	}

	now := s.now()
	var op domain.PendingOperation
	switch {
	case registered:
		op = domain.NewDirectSendOperation(requester, domain.DirectSend{
			SenderPhone:        sender.Phone,
			SenderAddress:      sender.Address,
			SenderWalletHandle: sender.WalletHandle,
			RecipientPhone:     recipient.Phone,
			RecipientAddress:   recipient.Address,
			Amount:             req.Amount,
			FeeEstimate:        fee,
			Total:              total,
		}, now)
	default:
		payload := domain.ClaimLinkSend{
			SenderPhone:        sender.Phone,
			SenderAddress:      sender.Address,
			SenderWalletHandle: sender.WalletHandle,
			RecipientPhone:     recipientPhone,
			Amount:             req.Amount,
			FeeEstimate:        fee,
			Total:              total,
		}
		if req.Amount.LessThan(s.cfg.SmallAmountFloor) {
			op = domain.NewSmallAmountWarning(requester, payload, now)
		} else {
			op = domain.NewClaimLinkSendOperation(requester, payload, now)
		}
	}

	return s.propose(ctx, op)
}

func (s *service) Resolve(
	ctx context.Context, requesterId string, signal Signal,
) (*Resolution, errors.Error) {
	requester, verr := normalizePhone(requesterId)
	if verr != nil {
		return nil, verr
	}

	op, class, err := s.confirmations.take(ctx, requester, signal)
	if err != nil {
		log.WithError(err).Error("confirmation: failed to resolve pending operation")
		return nil, errors.INTERNAL_ERROR.Wrap(fmt.Errorf("failed to resolve pending operation"))
	}
	if op == nil {
		metrics.ConfirmationOutcomes.WithLabelValues(string(OutcomeNothingToConfirm)).Inc()
		return nil, errors.NOTHING_TO_CONFIRM.New("nothing to confirm").
			WithMetadata(errors.RequesterMetadata{Requester: maskPhone(requester)})
	}

	switch class {
	case signalCancel:
		metrics.ConfirmationOutcomes.WithLabelValues(string(OutcomeCancelled)).Inc()
		return &Resolution{
			Outcome: OutcomeCancelled,
			Kind:    op.Kind,
			Message: "Cancelled, nothing was sent.",
		}, nil
	case signalUnrecognized:
		metrics.ConfirmationOutcomes.WithLabelValues(string(OutcomeReprompt)).Inc()
		return &Resolution{
			Outcome: OutcomeReprompt,
			Kind:    op.Kind,
			Message: proposalPrompt(*op, s.cfg.ConfirmationTTL),
		}, nil
	}

	switch op.Kind {
	case domain.OperationSmallAmountWarning:
		metrics.ConfirmationOutcomes.WithLabelValues(string(OutcomeAwaitingConfirmation)).Inc()
		proposal, err := s.propose(
			ctx, domain.NewClaimLinkSendOperation(requester, *op.ClaimLinkSend, s.now()),
		)
		if err != nil {
			return nil, err
		}
		return &Resolution{
			Outcome:  OutcomeAwaitingConfirmation,
			Kind:     op.Kind,
			Proposal: proposal,
			Message:  proposal.Prompt,
		}, nil
	case domain.OperationDirectSend:
		metrics.ConfirmationOutcomes.WithLabelValues(string(OutcomeExecuted)).Inc()
		transfer, err := s.executeDirectSend(ctx, *op.DirectSend)
		if err != nil {
			return nil, err
		}
		return &Resolution{
			Outcome:  OutcomeExecuted,
			Kind:     op.Kind,
			Transfer: transfer,
			Message: fmt.Sprintf(
				"Sent %s to %s.", transfer.Amount, maskPhone(transfer.RecipientPhone),
			),
		}, nil
	default:
		metrics.ConfirmationOutcomes.WithLabelValues(string(OutcomeExecuted)).Inc()
		p := op.ClaimLinkSend
		hold, err := s.CreateHold(ctx, HoldRequest{
			SenderPhone:        p.SenderPhone,
			SenderAddress:      p.SenderAddress,
			SenderWalletHandle: p.SenderWalletHandle,
			RecipientPhone:     p.RecipientPhone,
			Amount:             p.Amount,
			FeeHint:            p.FeeEstimate,
		})
		if err != nil {
			return nil, err
		}
		return &Resolution{
			Outcome: OutcomeExecuted,
			Kind:    op.Kind,
			Hold:    hold,
			Message: fmt.Sprintf(
				"%s is held for %s until %s. Share this link with them to claim it.",
				p.Amount, maskPhone(p.RecipientPhone), fancyTime(hold.ExpiresAt),
			),
		}, nil
	}
}

func (s *service) GetClaim(ctx context.Context, id string) (*ClaimInfo, errors.Error) {
	claim, err := s.repoManager.Claims().Get(ctx, id)
	if err != nil {
		if stderrors.Is(err, domain.ErrClaimNotFound) {
			return nil, errors.CLAIM_NOT_FOUND.New("claim not found").
				WithMetadata(errors.ClaimMetadata{ClaimId: shortId(id)})
		}
		log.WithError(err).Error("failed to get claim")
		return nil, errors.INTERNAL_ERROR.Wrap(fmt.Errorf("failed to get claim"))
	}
	info := newClaimInfo(*claim)
	return &info, nil
}

// ListClaims returns the claims sent or received by the phone, most recent first.
func (s *service) ListClaims(ctx context.Context, phone string) ([]ClaimInfo, errors.Error) {
	normalized, verr := normalizePhone(phone)
	if verr != nil {
		return nil, verr
	}

	received, err := s.repoManager.Claims().GetByRecipientPhone(ctx, normalized)
	if err != nil {
		log.WithError(err).Error("failed to list received claims")
		return nil, errors.INTERNAL_ERROR.Wrap(fmt.Errorf("failed to list claims"))
	}
	sent, err := s.repoManager.Claims().GetBySenderPhone(ctx, normalized)
	if err != nil {
		log.WithError(err).Error("failed to list sent claims")
		return nil, errors.INTERNAL_ERROR.Wrap(fmt.Errorf("failed to list claims"))
	}

	seen := make(map[string]struct{})
	infos := make([]ClaimInfo, 0, len(received)+len(sent))
	for _, claim := range append(received, sent...) {
		if _, ok := seen[claim.Id]; ok {
			continue
		}
		seen[claim.Id] = struct{}{}
		infos = append(infos, newClaimInfo(claim))
	}
	sort.SliceStable(infos, func(i, j int) bool {
		return infos[i].CreatedAt > infos[j].CreatedAt
	})
	return infos, nil
}

func (s *service) propose(
	ctx context.Context, op domain.PendingOperation,
) (*Proposal, errors.Error) {
	if err := s.confirmations.propose(ctx, op); err != nil {
		log.WithError(err).Error("failed to propose operation")
		return nil, errors.INTERNAL_ERROR.Wrap(fmt.Errorf("failed to store pending operation"))
	}
	metrics.ProposalsTotal.WithLabelValues(string(op.Kind)).Inc()

	proposal := &Proposal{
		Kind:      op.Kind,
		Amount:    op.Amount(),
		ExpiresAt: op.CreatedAt + int64(s.cfg.ConfirmationTTL.Seconds()),
		Prompt:    proposalPrompt(op, s.cfg.ConfirmationTTL),
	}
	if op.DirectSend != nil {
		proposal.RecipientPhone = op.DirectSend.RecipientPhone
		proposal.Registered = true
		proposal.FeeEstimate = op.DirectSend.FeeEstimate
		proposal.Total = op.DirectSend.Total
	} else {
		proposal.RecipientPhone = op.ClaimLinkSend.RecipientPhone
		proposal.FeeEstimate = op.ClaimLinkSend.FeeEstimate
		proposal.Total = op.ClaimLinkSend.Total
	}
	return proposal, nil
}

func (s *service) executeDirectSend(
	ctx context.Context, op domain.DirectSend,
) (*TransferResult, errors.Error) {
	rpcCtx, cancel := withTimeout(ctx, s.cfg.RPCTimeout)
	defer cancel()

	txRef, err := s.custody.Broadcast(rpcCtx, op.SenderWalletHandle, ports.TransferRequest{
		To:      op.RecipientAddress,
		Amount:  op.Amount,
		FeeHint: op.FeeEstimate,
	})
	if err != nil {
		log.WithError(err).WithFields(log.Fields{
			"sender":    maskPhone(op.SenderPhone),
			"recipient": maskPhone(op.RecipientPhone),
			"amount":    op.Amount.String(),
		}).Warn("direct send failed")
		if stderrors.Is(err, ports.ErrInsufficientFunds) {
			return nil, errors.INSUFFICIENT_BALANCE.New("insufficient balance to send %s", op.Amount).
				WithMetadata(errors.BalanceMetadata{Required: op.Total.String()})
		}
		return nil, errors.SERVICE_UNAVAILABLE.Wrap(fmt.Errorf("failed to broadcast transfer"))
	}

	record := domain.NewTransactionRecord(
		txRef, domain.TxKindDirect, op.SenderAddress, op.RecipientAddress, op.Amount, "", s.now(),
	)
	if err := s.repoManager.Transactions().Add(ctx, record); err != nil {
		log.WithError(err).Warnf("failed to record transaction %s", txRef)
	}

	s.notifier.notify(op.RecipientPhone, ports.OutboundMessage{
		Text: fmt.Sprintf("You received %s from %s.", op.Amount, maskPhone(op.SenderPhone)),
	})

	return &TransferResult{
		TxRef:          txRef,
		RecipientPhone: op.RecipientPhone,
		Amount:         op.Amount,
		FeeEstimate:    op.FeeEstimate,
	}, nil
}

func (s *service) getAccount(ctx context.Context, phone string) (*domain.Account, errors.Error) {
	account, err := s.repoManager.Accounts().Get(ctx, phone)
	if err != nil {
		if stderrors.Is(err, domain.ErrAccountNotFound) {
			return nil, errors.ACCOUNT_NOT_FOUND.New("account not found").
				WithMetadata(errors.RequesterMetadata{Requester: maskPhone(phone)})
		}
		log.WithError(err).Error("failed to get account")
		return nil, errors.INTERNAL_ERROR.Wrap(fmt.Errorf("failed to get account"))
	}
	return account, nil
}

// ensureAccount returns the account bound to the phone, creating a custody wallet for it if
// the phone is not registered yet.
func (s *service) ensureAccount(ctx context.Context, phone string) (*domain.Account, errors.Error) {
	normalized, verr := normalizePhone(phone)
	if verr != nil {
		return nil, verr
	}

	account, verr := s.getAccount(ctx, normalized)
	if verr == nil {
		return account, nil
	}
	if !errors.ACCOUNT_NOT_FOUND.Is(verr) {
		return nil, verr
	}

	wallet, err := s.createWallet(ctx)
	if err != nil {
		log.WithError(err).Warn("failed to create account wallet")
		return nil, errors.SERVICE_UNAVAILABLE.Wrap(fmt.Errorf("failed to create wallet"))
	}
	account, err = s.repoManager.Accounts().Add(ctx, domain.Account{
		Phone:        normalized,
		WalletHandle: wallet.Handle,
		Address:      wallet.Address,
		CreatedAt:    s.now().Unix(),
	})
	if err != nil {
		log.WithError(err).Error("failed to store account")
		return nil, errors.INTERNAL_ERROR.Wrap(fmt.Errorf("failed to store account"))
	}

	log.WithField("phone", maskPhone(normalized)).Info("account registered")
	return account, nil
}

func (s *service) estimateFee(
	ctx context.Context, from, to string, amount decimal.Decimal,
) (decimal.Decimal, error) {
	return estimateFee(ctx, s.chain, s.retry, s.cfg.RPCTimeout, from, to, amount)
}

func (s *service) currentTime() time.Time {
	return s.now()
}

const minSettlingTimeoutFactor = 5

func validateConfig(cfg Config) error {
	if cfg.HoldWindow <= 0 {
		return fmt.Errorf("hold window must be positive")
	}
	if cfg.SweepInterval <= 0 || cfg.ReconcileInterval <= 0 {
		return fmt.Errorf("sweep and reconcile intervals must be positive")
	}
	if cfg.SweepBatchSize <= 0 || cfg.ReconcileBatchSize <= 0 {
		return fmt.Errorf("batch sizes must be positive")
	}
	if cfg.ConfirmationTTL <= 0 {
		return fmt.Errorf("confirmation ttl must be positive")
	}
	// a claim is failed once it sat in settling for the settling timeout, that must never
	// happen while its broadcast is still in flight
	if cfg.RPCTimeout <= 0 {
		return fmt.Errorf("rpc timeout must be positive")
	}
	if cfg.SettlingTimeout < minSettlingTimeoutFactor*cfg.RPCTimeout {
		return fmt.Errorf(
			"settling timeout %s must be at least %d times the rpc timeout %s",
			cfg.SettlingTimeout, minSettlingTimeoutFactor, cfg.RPCTimeout,
		)
	}
	if cfg.SmallAmountFloor.IsNegative() {
		return fmt.Errorf("small amount floor must not be negative")
	}
	if err := cfg.ClaimPolicy.validate(); err != nil {
		return fmt.Errorf("invalid claim policy: %s", err)
	}
	if err := cfg.RefundPolicy.validate(); err != nil {
		return fmt.Errorf("invalid refund policy: %s", err)
	}
	return nil
}

func shortId(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

package application

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/arkade-os/escrowd/internal/core/domain"
	"github.com/arkade-os/escrowd/internal/core/ports"
	"github.com/arkade-os/escrowd/internal/metrics"
	"github.com/arkade-os/escrowd/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// CreateHold escrows the amount in a fresh custody wallet and issues the claim token for it.
// No claim is persisted before the hold transfer is broadcast.
func (s *service) CreateHold(ctx context.Context, req HoldRequest) (*HoldResult, errors.Error) {
	if err := s.validateHoldRequest(&req); err != nil {
		return nil, err
	}

	wallet, err := s.createWallet(ctx)
	if err != nil {
		metrics.HoldErrors.WithLabelValues("wallet").Inc()
		log.WithError(err).Warn("hold: failed to create custody wallet")
		return nil, errors.SERVICE_UNAVAILABLE.Wrap(fmt.Errorf("failed to create custody wallet"))
	}

	holdTxRef, err := s.broadcastHold(ctx, req, wallet.Address)
	if err != nil {
		metrics.HoldErrors.WithLabelValues("broadcast").Inc()
		// nothing moved, the custody wallet is simply never used
		log.WithError(err).WithFields(log.Fields{
			"sender":  maskPhone(req.SenderPhone),
			"amount":  req.Amount.String(),
			"custody": wallet.Address,
		}).Warn("hold: broadcast failed, discarding custody wallet")
		if stderrors.Is(err, ports.ErrInsufficientFunds) {
			return nil, errors.INSUFFICIENT_BALANCE.New(
				"insufficient balance to hold %s", req.Amount,
			).WithMetadata(errors.BalanceMetadata{
				Required: req.Amount.Add(req.FeeHint).String(),
			})
		}
		return nil, errors.SERVICE_UNAVAILABLE.Wrap(fmt.Errorf("failed to broadcast hold transfer"))
	}

	token, digest, err := s.tokens.issueToken()
	if err != nil {
		metrics.HoldErrors.WithLabelValues("token").Inc()
		s.reportUnrecordedHold(req, wallet.Address, holdTxRef, err)
		return nil, errors.INTERNAL_ERROR.Wrap(fmt.Errorf("failed to issue claim token"))
	}

	now := s.now()
	claim := domain.NewClaim(domain.NewClaimParams{
		SenderPhone:         req.SenderPhone,
		SenderAddress:       req.SenderAddress,
		RecipientPhone:      req.RecipientPhone,
		TokenDigest:         digest,
		CustodyWalletHandle: wallet.Handle,
		CustodyAddress:      wallet.Address,
		Amount:              req.Amount,
		HoldTxRef:           holdTxRef,
	}, now, s.cfg.HoldWindow)

	if err := s.repoManager.Claims().Add(ctx, claim); err != nil {
		metrics.HoldErrors.WithLabelValues("persist").Inc()
		s.reportUnrecordedHold(req, wallet.Address, holdTxRef, err)
		return nil, errors.INTERNAL_ERROR.Wrap(fmt.Errorf("failed to persist claim"))
	}

	record := domain.NewTransactionRecord(
		holdTxRef, domain.TxKindHold, req.SenderAddress, wallet.Address, req.Amount, claim.Id, now,
	)
	if err := s.repoManager.Transactions().Add(ctx, record); err != nil {
		log.WithError(err).Warnf("hold: failed to record transaction %s", holdTxRef)
	}

	metrics.HoldsCreated.Inc()
	log.WithFields(log.Fields{
		"claim":     claim.ShortId(),
		"sender":    maskPhone(req.SenderPhone),
		"recipient": maskPhone(req.RecipientPhone),
		"amount":    req.Amount.String(),
		"expires":   fancyTime(claim.ExpiresAt),
	}).Info("hold: created")

	return &HoldResult{
		ClaimId:   claim.Id,
		ClaimLink: s.tokens.buildLink(token),
		Token:     token,
		HoldTxRef: holdTxRef,
		ExpiresAt: claim.ExpiresAt,
	}, nil
}

func (s *service) validateHoldRequest(req *HoldRequest) errors.Error {
	invalid := func(field string) errors.Error {
		return errors.INVALID_HOLD_REQUEST.New("missing or invalid %s", field).
			WithMetadata(errors.InvalidFieldMetadata{Field: field})
	}

	if req.SenderPhone == "" {
		return invalid("sender_phone")
	}
	if req.RecipientPhone == "" {
		return invalid("recipient_phone")
	}
	if req.SenderAddress == "" || !s.chain.IsValidAddress(req.SenderAddress) {
		return invalid("sender_address")
	}
	if req.SenderWalletHandle == "" {
		return invalid("sender_wallet_handle")
	}
	if !req.Amount.IsPositive() {
		return invalid("amount")
	}

	senderPhone, err := normalizePhone(req.SenderPhone)
	if err != nil {
		return invalid("sender_phone")
	}
	recipientPhone, err := normalizePhone(req.RecipientPhone)
	if err != nil {
		return invalid("recipient_phone")
	}
	req.SenderPhone = senderPhone
	req.RecipientPhone = recipientPhone
	return nil
}

func (s *service) createWallet(ctx context.Context) (*ports.CustodyWallet, error) {
	return withRetry(ctx, s.retry, "create wallet",
		func(ctx context.Context) (*ports.CustodyWallet, error) {
			ctx, cancel := withTimeout(ctx, s.cfg.RPCTimeout)
			defer cancel()
			return s.custody.CreateWallet(ctx)
		},
	)
}

func (s *service) broadcastHold(
	ctx context.Context, req HoldRequest, custodyAddress string,
) (string, error) {
	ctx, cancel := withTimeout(ctx, s.cfg.RPCTimeout)
	defer cancel()

	return s.custody.Broadcast(ctx, req.SenderWalletHandle, ports.TransferRequest{
		To:      custodyAddress,
		Amount:  req.Amount,
		FeeHint: req.FeeHint,
	})
}

// reportUnrecordedHold is called when funds reached the custody wallet but no claim could be
// stored for them.
func (s *service) reportUnrecordedHold(
	req HoldRequest, custodyAddress, holdTxRef string, cause error,
) {
	log.WithError(cause).WithFields(log.Fields{
		"sender":  maskPhone(req.SenderPhone),
		"amount":  req.Amount.String(),
		"custody": custodyAddress,
		"tx_ref":  holdTxRef,
	}).Error("hold: funds held but claim not recorded")

	s.notifier.publishAlert(ports.HoldNotRecorded, ports.SettlementFailedAlert{
		Kind:     "hold",
		Amount:   req.Amount.String(),
		Sender:   maskPhone(req.SenderPhone),
		Note:     fmt.Sprintf("custody %s holds funds without claim", custodyAddress),
		TxRef:    holdTxRef,
		FailedAt: s.now().Unix(),
	})
}

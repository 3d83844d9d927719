package application

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/arkade-os/escrowd/internal/core/domain"
	"github.com/arkade-os/escrowd/internal/core/ports"
	"github.com/arkade-os/escrowd/pkg/errors"
	log "github.com/sirupsen/logrus"
)

func (s *service) ValidateAndClaim(
	ctx context.Context, req ClaimRequest,
) (*ClaimResult, errors.Error) {
	token := strings.TrimSpace(req.Token)
	if token == "" {
		return nil, errors.INVALID_OR_EXPIRED_CLAIM.New("missing claim token")
	}
	claimerPhone, verr := normalizePhone(req.ClaimerPhone)
	if verr != nil {
		return nil, verr
	}
	if !s.chain.IsValidAddress(req.ClaimerAddress) {
		return nil, errors.INVALID_ADDRESS.New("invalid claimer address").
			WithMetadata(errors.InvalidFieldMetadata{
				Field: "claimer_address", Value: req.ClaimerAddress,
			})
	}

	claim, err := s.repoManager.Claims().GetByTokenDigest(ctx, hashToken(token))
	if err != nil {
		if stderrors.Is(err, domain.ErrClaimNotFound) {
			return nil, errors.INVALID_OR_EXPIRED_CLAIM.New("no claim matches the given token")
		}
		log.WithError(err).Error("claim: failed to look up claim")
		return nil, errors.INTERNAL_ERROR.Wrap(fmt.Errorf("failed to look up claim"))
	}
	if !verifyToken(token, claim.TokenDigest) {
		return nil, errors.INVALID_OR_EXPIRED_CLAIM.New("no claim matches the given token")
	}

	if claim.Status != domain.ClaimPending {
		return nil, claimNotActiveError(*claim)
	}
	if claim.RecipientPhone != claimerPhone {
		return nil, errors.CLAIM_PHONE_MISMATCH.New(
			"claim %s is restricted to another phone", claim.ShortId(),
		).WithMetadata(errors.ClaimMetadata{
			ClaimId: claim.ShortId(), Phone: maskPhone(claimerPhone),
		})
	}
	if now := s.now(); claim.IsExpired(now) {
		return nil, claimExpiredError(*claim, now)
	}

	gas, err := s.estimateFee(ctx, claim.CustodyAddress, req.ClaimerAddress, claim.Amount)
	if err != nil {
		log.WithError(err).WithField("claim", claim.ShortId()).
			Warn("claim: failed to estimate settlement fee")
		return nil, errors.SERVICE_UNAVAILABLE.Wrap(fmt.Errorf("failed to estimate network fee"))
	}
	quote := ComputeSettlement(claim.Amount, gas, s.cfg.ClaimPolicy)
	if !quote.Ok {
		return nil, quote.Err()
	}

	// the hold may have expired while the fee was being estimated, and from then on it
	// belongs to the refund path
	startedAt := s.now()
	if claim.IsExpired(startedAt) {
		return nil, claimExpiredError(*claim, startedAt)
	}
	settling, won, err := s.settler.begin(
		ctx, *claim, domain.SettlementClaim, claimerPhone, req.ClaimerAddress,
	)
	if err != nil {
		log.WithError(err).WithField("claim", claim.ShortId()).Error("claim: cas failed")
		return nil, errors.INTERNAL_ERROR.Wrap(fmt.Errorf("failed to start settlement"))
	}
	if !won {
		log.Infof("claim: claim %s was settled concurrently", claim.ShortId())
		current, err := s.repoManager.Claims().Get(ctx, claim.Id)
		if err != nil || current == nil {
			current = claim
		}
		return nil, claimNotActiveError(*current)
	}

	txRef, err := s.settler.broadcast(
		ctx, *settling, req.ClaimerAddress, quote.SettleAmount, gas,
	)
	if err != nil {
		note := fmt.Sprintf("claim broadcast failed: %s", err)
		if stderrors.Is(err, ports.ErrInsufficientFunds) {
			note = noteInsufficientFundsForGas
		}
		failed := s.settler.fail(ctx, *settling, note)
		s.notifier.notify(claim.SenderPhone, ports.OutboundMessage{
			Text: fmt.Sprintf(
				"The transfer of %s to %s could not be completed, an operator has been notified.",
				claim.Amount, maskPhone(claim.RecipientPhone),
			),
		})
		return nil, errors.SETTLEMENT_FAILED.New("failed to settle claim %s", claim.ShortId()).
			WithMetadata(errors.SettlementFailedMetadata{
				ClaimId: claim.ShortId(),
				Kind:    string(domain.SettlementClaim),
				Note:    failed.ErrorNote,
			})
	}

	claimed := s.settler.complete(ctx, *settling, txRef, gas, quote.SettleAmount, startedAt)

	log.WithFields(log.Fields{
		"claim":   claim.ShortId(),
		"claimer": maskPhone(claimerPhone),
		"amount":  claim.Amount.String(),
		"gas":     gas.String(),
		"tx_ref":  txRef,
	}).Info("claim: settled")

	s.notifier.notify(claim.SenderPhone, ports.OutboundMessage{
		Text: fmt.Sprintf(
			"Your transfer of %s was claimed by %s.", claim.Amount, maskPhone(claimerPhone),
		),
	})

	return &ClaimResult{
		ClaimId:       claimed.Id,
		TxRef:         txRef,
		GasCost:       gas,
		SettledAmount: quote.SettleAmount,
	}, nil
}

func claimNotActiveError(claim domain.Claim) errors.Error {
	return errors.CLAIM_NOT_ACTIVE.New(
		"claim %s is %s", claim.ShortId(), claim.Status,
	).WithMetadata(errors.ClaimStatusMetadata{
		ClaimId: claim.ShortId(), Status: string(claim.Status),
	})
}

func claimExpiredError(claim domain.Claim, now time.Time) errors.Error {
	return errors.CLAIM_EXPIRED.New("claim %s expired", claim.ShortId()).
		WithMetadata(errors.ClaimExpiredMetadata{
			ClaimId: claim.ShortId(), ExpiresAt: claim.ExpiresAt, Now: now.Unix(),
		})
}

package application

import (
	"context"
	"fmt"
	"time"

	"github.com/arkade-os/escrowd/internal/core/domain"
	"github.com/arkade-os/escrowd/internal/core/ports"
	"github.com/arkade-os/escrowd/internal/metrics"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

const (
	noteInsufficientFundsForGas = "INSUFFICIENT_FUNDS_FOR_GAS"
	noteInterruptedSettlement   = "interrupted settlement"
)

// settler drives a claim out of pending. Every status change goes through the claims
// compare-and-swap so that the claim and refund paths never both settle the same hold.
type settler struct {
	repoManager ports.RepoManager
	custody     ports.WalletCustody
	notifier    *notifier
	rpcTimeout  time.Duration
	now         func() time.Time
}

// begin moves the claim to settling. It returns false if another caller moved it first.
func (s *settler) begin(
	ctx context.Context, claim domain.Claim, kind domain.SettlementKind,
	claimerPhone, claimerAddress string,
) (*domain.Claim, bool, error) {
	settling, err := claim.StartSettlement(kind, claimerPhone, claimerAddress, s.now())
	if err != nil {
		return nil, false, nil
	}

	ok, err := s.repoManager.Claims().CompareAndSwap(ctx, domain.ClaimPending, settling)
	if err != nil {
		return nil, false, fmt.Errorf("failed to start settlement: %w", err)
	}
	if !ok {
		metrics.SettlementRaceLost.WithLabelValues(string(kind)).Inc()
		return nil, false, nil
	}
	return &settling, true, nil
}

// broadcast moves funds out of the claim's custody wallet. It is attempted exactly once.
func (s *settler) broadcast(
	ctx context.Context, claim domain.Claim, to string, amount, fee decimal.Decimal,
) (string, error) {
	ctx, cancel := withTimeout(ctx, s.rpcTimeout)
	defer cancel()

	return s.custody.Broadcast(ctx, claim.CustodyWalletHandle, ports.TransferRequest{
		To:      to,
		Amount:  amount,
		FeeHint: fee,
	})
}

// complete records a successful broadcast. The funds already moved, so a failure here is
// only logged and alerted, never reported as a failed settlement.
func (s *settler) complete(
	ctx context.Context, settling domain.Claim, txRef string, gas, settled decimal.Decimal,
	startedAt time.Time,
) domain.Claim {
	kind := string(settling.SettlementKind)
	defer func() {
		metrics.SettlementLatency.WithLabelValues(kind).Observe(time.Since(startedAt).Seconds())
	}()

	done, err := settling.CompleteSettlement(txRef, gas, settled, s.now())
	if err != nil {
		log.WithError(err).Errorf("settlement: cannot complete claim %s", settling.ShortId())
		return settling
	}

	recorded := done
	ok, err := s.repoManager.Claims().CompareAndSwap(ctx, domain.ClaimSettling, done)
	if err != nil || !ok {
		recorded = s.storedClaim(ctx, settling)
		entry := log.WithFields(log.Fields{
			"claim":   settling.ShortId(),
			"kind":    kind,
			"tx_ref":  txRef,
			"settled": settled.String(),
		})
		if err != nil {
			entry = entry.WithError(err)
		}
		entry.Error("settlement: broadcast succeeded but claim status could not be recorded")
		s.notifier.sendSettlementFailedAlert(done, txRef)
	}

	record := domain.NewTransactionRecord(
		txRef, txKindOf(settling.SettlementKind), settling.CustodyAddress,
		destinationOf(settling), settled, settling.Id, s.now(),
	)
	if err := s.repoManager.Transactions().Add(ctx, record); err != nil {
		log.WithError(err).Warnf(
			"settlement: failed to record transaction %s for claim %s", txRef, settling.ShortId(),
		)
	}

	metrics.SettlementsTotal.WithLabelValues(kind, string(recorded.Status)).Inc()
	return recorded
}

// storedClaim returns the claim as currently persisted, falling back to the given one if it
// can't be read.
func (s *settler) storedClaim(ctx context.Context, claim domain.Claim) domain.Claim {
	stored, err := s.repoManager.Claims().Get(ctx, claim.Id)
	if err != nil || stored == nil {
		log.WithError(err).Warnf("settlement: failed to reload claim %s", claim.ShortId())
		return claim
	}
	return *stored
}

// fail makes the claim terminal with the given note and alerts the operator.
func (s *settler) fail(ctx context.Context, settling domain.Claim, note string) domain.Claim {
	failed, err := settling.Fail(note, s.now())
	if err != nil {
		log.WithError(err).Errorf("settlement: cannot fail claim %s", settling.ShortId())
		return settling
	}

	ok, err := s.repoManager.Claims().CompareAndSwap(ctx, settling.Status, failed)
	if err != nil {
		log.WithError(err).Errorf(
			"settlement: failed to mark claim %s as failed", settling.ShortId(),
		)
	} else if !ok {
		log.Warnf("settlement: claim %s changed status before being marked failed",
			settling.ShortId())
		return settling
	}

	log.WithFields(log.Fields{
		"claim":  settling.ShortId(),
		"kind":   settling.SettlementKind,
		"amount": settling.Amount.String(),
		"sender": maskPhone(settling.SenderPhone),
	}).Warnf("settlement: claim failed: %s", note)

	metrics.SettlementsTotal.WithLabelValues(
		string(settling.SettlementKind), string(domain.ClaimFailed),
	).Inc()
	s.notifier.sendSettlementFailedAlert(failed, "")
	return failed
}

func txKindOf(kind domain.SettlementKind) domain.TxKind {
	if kind == domain.SettlementRefund {
		return domain.TxKindRefund
	}
	return domain.TxKindClaim
}

func destinationOf(claim domain.Claim) string {
	if claim.SettlementKind == domain.SettlementRefund {
		return claim.SenderAddress
	}
	return claim.ClaimerAddress
}

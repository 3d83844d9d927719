package application

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/arkade-os/escrowd/internal/core/domain"
	"github.com/arkade-os/escrowd/internal/core/ports"
	"github.com/arkade-os/escrowd/internal/metrics"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// sweeper is an unexported service running while the main application service is started.
// It refunds the holds that reached their expiration without being claimed and fails the
// settlements left half-way by a crash.
type sweeper struct {
	repoManager ports.RepoManager
	chain       ports.ChainClient
	scheduler   ports.SchedulerService
	settler     *settler
	notifier    *notifier

	policy          SettlementPolicy
	interval        time.Duration
	batchSize       int
	settlingTimeout time.Duration
	rpcTimeout      time.Duration
	retry           retryPolicy
	now             func() time.Time

	// prevents overlapping runs when a sweep takes longer than the interval
	running *sync.Mutex
}

func (s *sweeper) start() error {
	s.recoverSettling(context.Background())

	return s.scheduler.ScheduleEvery(s.interval, func() {
		s.sweep(context.Background())
	})
}

func (s *sweeper) sweep(ctx context.Context) {
	if !s.running.TryLock() {
		log.Debug("sweeper: previous run still in progress, skipping")
		return
	}
	defer s.running.Unlock()

	metrics.SweepTicks.Inc()
	s.recoverSettling(ctx)

	now := s.now()
	claims, err := s.repoManager.Claims().GetExpiredPending(ctx, now.Unix(), s.batchSize)
	if err != nil {
		metrics.SweepErrors.Inc()
		log.WithError(err).Error("sweeper: failed to fetch expired claims")
		return
	}
	if len(claims) <= 0 {
		return
	}

	log.Infof("sweeper: refunding %d expired claims", len(claims))

	refunded := 0
	for _, claim := range claims {
		if s.refund(ctx, claim) {
			refunded++
		}
	}
	log.Infof("sweeper: refunded %d/%d expired claims", refunded, len(claims))
}

// refund returns the escrowed amount minus the network fee to the sender. It reports whether
// the claim ended up refunded.
func (s *sweeper) refund(ctx context.Context, claim domain.Claim) bool {
	gas, err := estimateFee(
		ctx, s.chain, s.retry, s.rpcTimeout, claim.CustodyAddress, claim.SenderAddress,
		claim.Amount,
	)
	if err != nil {
		metrics.SweepErrors.Inc()
		log.WithError(err).WithField("claim", claim.ShortId()).
			Warn("sweeper: failed to estimate refund fee, retrying next run")
		return false
	}

	startedAt := s.now()
	settling, won, err := s.settler.begin(ctx, claim, domain.SettlementRefund, "", "")
	if err != nil {
		metrics.SweepErrors.Inc()
		log.WithError(err).WithField("claim", claim.ShortId()).Error("sweeper: cas failed")
		return false
	}
	if !won {
		log.Debugf("sweeper: claim %s settled concurrently, skipping", claim.ShortId())
		return false
	}

	quote := ComputeSettlement(claim.Amount, gas, s.policy)
	if !quote.Ok {
		s.settler.fail(ctx, *settling, fmt.Sprintf(
			"%s: amount %s, required %s", noteInsufficientFundsForGas, claim.Amount, quote.Required,
		))
		s.notifyRefundFailed(claim)
		return false
	}

	txRef, err := s.settler.broadcast(ctx, *settling, claim.SenderAddress, quote.SettleAmount, gas)
	if err != nil {
		note := fmt.Sprintf("refund broadcast failed: %s", err)
		if stderrors.Is(err, ports.ErrInsufficientFunds) {
			note = noteInsufficientFundsForGas
		}
		s.settler.fail(ctx, *settling, note)
		s.notifyRefundFailed(claim)
		return false
	}

	s.settler.complete(ctx, *settling, txRef, gas, quote.SettleAmount, startedAt)

	log.WithFields(log.Fields{
		"claim":    claim.ShortId(),
		"sender":   maskPhone(claim.SenderPhone),
		"amount":   claim.Amount.String(),
		"refunded": quote.SettleAmount.String(),
		"tx_ref":   txRef,
	}).Info("sweeper: claim refunded")

	s.notifyRefunded(claim, quote.SettleAmount)
	return true
}

// recoverSettling fails the claims that stayed in settling longer than the settling timeout.
// They are never moved back to pending since a broadcast may have happened.
func (s *sweeper) recoverSettling(ctx context.Context) {
	before := s.now().Add(-s.settlingTimeout).Unix()
	stuck, err := s.repoManager.Claims().GetSettlingBefore(ctx, before)
	if err != nil {
		metrics.SweepErrors.Inc()
		log.WithError(err).Error("sweeper: failed to fetch interrupted settlements")
		return
	}

	for _, claim := range stuck {
		log.Warnf("sweeper: claim %s stuck in settling since %s",
			claim.ShortId(), fancyTime(claim.UpdatedAt))
		s.settler.fail(ctx, claim, noteInterruptedSettlement)
	}
}

func (s *sweeper) notifyRefunded(claim domain.Claim, refunded decimal.Decimal) {
	s.notifier.notify(claim.SenderPhone, ports.OutboundMessage{
		Text: fmt.Sprintf(
			"Your transfer of %s to %s was not claimed in time. %s was returned to you.",
			claim.Amount, maskPhone(claim.RecipientPhone), refunded,
		),
	})
}

func (s *sweeper) notifyRefundFailed(claim domain.Claim) {
	s.notifier.notify(claim.SenderPhone, ports.OutboundMessage{
		Text: fmt.Sprintf(
			"Your transfer of %s to %s expired but could not be refunded automatically, "+
				"an operator has been notified.",
			claim.Amount, maskPhone(claim.RecipientPhone),
		),
	})
}

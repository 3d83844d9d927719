package application

import (
	"context"
	"sync"
	"time"

	"github.com/arkade-os/escrowd/internal/core/domain"
	"github.com/arkade-os/escrowd/internal/core/ports"
	"github.com/arkade-os/escrowd/internal/metrics"
	log "github.com/sirupsen/logrus"
)

// reconciler finalizes pending transaction records once the chain reports a receipt.
type reconciler struct {
	repoManager ports.RepoManager
	chain       ports.ChainClient
	scheduler   ports.SchedulerService

	interval   time.Duration
	batchSize  int
	rpcTimeout time.Duration
	retry      retryPolicy
	now        func() time.Time

	running *sync.Mutex
}

func (r *reconciler) start() error {
	return r.scheduler.ScheduleEvery(r.interval, func() {
		r.reconcile(context.Background())
	})
}

func (r *reconciler) reconcile(ctx context.Context) {
	if !r.running.TryLock() {
		return
	}
	defer r.running.Unlock()

	txs, err := r.repoManager.Transactions().GetPending(ctx, r.batchSize)
	if err != nil {
		metrics.ReconcileErrors.Inc()
		log.WithError(err).Error("reconciler: failed to fetch pending transactions")
		return
	}

	updated := 0
	for _, tx := range txs {
		receipt, err := withRetry(ctx, r.retry, "get receipt",
			func(ctx context.Context) (*ports.Receipt, error) {
				ctx, cancel := withTimeout(ctx, r.rpcTimeout)
				defer cancel()
				return r.chain.GetReceipt(ctx, tx.Hash)
			},
		)
		if err != nil {
			metrics.ReconcileErrors.Inc()
			log.WithError(err).Warnf("reconciler: failed to get receipt for %s", tx.Hash)
			continue
		}
		// not mined yet
		if receipt == nil {
			continue
		}

		status := domain.TxFailed
		if receipt.Success {
			status = domain.TxSuccess
		}
		ok, err := r.repoManager.Transactions().UpdateStatus(
			ctx, tx.Hash, status, r.now().Unix(),
		)
		if err != nil {
			metrics.ReconcileErrors.Inc()
			log.WithError(err).Warnf("reconciler: failed to update transaction %s", tx.Hash)
			continue
		}
		if !ok {
			continue
		}

		updated++
		metrics.ReconciledTxs.WithLabelValues(string(status)).Inc()
		if status == domain.TxFailed {
			log.WithFields(log.Fields{
				"tx_ref": tx.Hash,
				"kind":   tx.Kind,
				"amount": tx.Amount.String(),
			}).Warn("reconciler: transaction reverted on chain")
		}
	}

	if updated > 0 {
		log.Debugf("reconciler: finalized %d/%d pending transactions", updated, len(txs))
	}
}

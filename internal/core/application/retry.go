package application

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/arkade-os/escrowd/internal/core/ports"
	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

var transientMessageTokens = []string{
	"timeout",
	"timed out",
	"connection refused",
	"connection reset",
	"too many requests",
	"temporarily unavailable",
	"eof",
}

type retryPolicy struct {
	maxRetries      uint64
	initialInterval time.Duration
	maxInterval     time.Duration
}

func defaultRetryPolicy(maxRetries uint64) retryPolicy {
	return retryPolicy{
		maxRetries:      maxRetries,
		initialInterval: 200 * time.Millisecond,
		maxInterval:     2 * time.Second,
	}
}

// isTransient tells whether err is worth retrying. Anything not positively recognized as a
// temporary infrastructure failure is terminal.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ports.ErrInsufficientFunds) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ports.ErrCustodyUnavailable) {
		return true
	}

	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == http.StatusTooManyRequests ||
			httpErr.StatusCode >= http.StatusInternalServerError
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	lower := strings.ToLower(err.Error())
	for _, token := range transientMessageTokens {
		if strings.Contains(lower, token) {
			return true
		}
	}
	return false
}

// withRetry runs op with bounded exponential backoff, retrying only transient errors.
// It must never wrap a broadcast.
func withRetry[T any](
	ctx context.Context, policy retryPolicy, name string, op func(context.Context) (T, error),
) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = policy.initialInterval
	b.MaxInterval = policy.maxInterval

	attempt := 0
	return backoff.RetryWithData(func() (T, error) {
		attempt++
		res, err := op(ctx)
		if err == nil {
			return res, nil
		}
		if !isTransient(err) {
			return res, backoff.Permanent(err)
		}
		log.WithError(err).Debugf("%s: attempt %d failed, retrying", name, attempt)
		return res, err
	}, backoff.WithContext(backoff.WithMaxRetries(b, policy.maxRetries), ctx))
}

func estimateFee(
	ctx context.Context, chain ports.ChainClient, policy retryPolicy, timeout time.Duration,
	from, to string, amount decimal.Decimal,
) (decimal.Decimal, error) {
	return withRetry(ctx, policy, "estimate fee",
		func(ctx context.Context) (decimal.Decimal, error) {
			ctx, cancel := withTimeout(ctx, timeout)
			defer cancel()
			return chain.EstimateFee(ctx, from, to, amount)
		},
	)
}

package domain_test

import (
	"testing"
	"time"

	"github.com/arkade-os/escrowd/internal/core/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func newTestClaim(now time.Time) domain.Claim {
	return domain.NewClaim(domain.NewClaimParams{
		SenderPhone:         "+447700900001",
		SenderAddress:       "0x1111111111111111111111111111111111111111",
		RecipientPhone:      "+447700900002",
		TokenDigest:         "digest",
		CustodyWalletHandle: "handle",
		CustodyAddress:      "0x2222222222222222222222222222222222222222",
		Amount:              decimal.RequireFromString("2"),
		HoldTxRef:           "0xhold",
	}, now, 24*time.Hour)
}

func TestClaimLifecycle(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	t.Run("claim path", func(t *testing.T) {
		claim := newTestClaim(now)
		require.Equal(t, domain.ClaimPending, claim.Status)
		require.Equal(t, now.Add(24*time.Hour).Unix(), claim.ExpiresAt)
		require.Len(t, claim.ShortId(), 8)

		settling, err := claim.StartSettlement(
			domain.SettlementClaim, "+447700900002", "0x3333333333333333333333333333333333333333",
			now,
		)
		require.NoError(t, err)
		require.Equal(t, domain.ClaimSettling, settling.Status)
		// the original value is untouched
		require.Equal(t, domain.ClaimPending, claim.Status)

		gas := decimal.RequireFromString("0.01")
		claimed, err := settling.CompleteSettlement(
			"0xsettle", gas, claim.Amount.Sub(gas), now.Add(time.Minute),
		)
		require.NoError(t, err)
		require.Equal(t, domain.ClaimClaimed, claimed.Status)
		require.True(t, claimed.SettledAmount.Add(claimed.GasCost).Equal(claimed.Amount))
		require.Equal(t, now.Add(time.Minute).Unix(), claimed.ClaimedAt)

		_, err = claimed.Fail("late failure", now)
		require.ErrorIs(t, err, domain.ErrInvalidClaimTransition)
		_, err = claimed.StartSettlement(domain.SettlementRefund, "", "", now)
		require.ErrorIs(t, err, domain.ErrInvalidClaimTransition)
	})

	t.Run("refund path", func(t *testing.T) {
		claim := newTestClaim(now)
		settling, err := claim.StartSettlement(domain.SettlementRefund, "", "", now)
		require.NoError(t, err)

		refunded, err := settling.CompleteSettlement(
			"0xrefund", decimal.RequireFromString("0.02"), decimal.RequireFromString("1.98"), now,
		)
		require.NoError(t, err)
		require.Equal(t, domain.ClaimRefunded, refunded.Status)
		require.NotZero(t, refunded.RefundedAt)
	})

	t.Run("invalid transitions", func(t *testing.T) {
		claim := newTestClaim(now)

		_, err := claim.CompleteSettlement("0x", decimal.Zero, decimal.Zero, now)
		require.ErrorIs(t, err, domain.ErrInvalidClaimTransition)

		_, err = claim.StartSettlement(domain.SettlementNone, "", "", now)
		require.ErrorIs(t, err, domain.ErrInvalidClaimTransition)

		failed, err := claim.Fail("broadcast failed", now)
		require.NoError(t, err)
		require.True(t, failed.Status.IsTerminal())
		require.Equal(t, "broadcast failed", failed.ErrorNote)
	})

	t.Run("expiry", func(t *testing.T) {
		claim := newTestClaim(now)
		require.False(t, claim.IsExpired(now))
		require.True(t, claim.IsExpired(now.Add(24*time.Hour)))
	})
}

func TestPendingOperation(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	payload := domain.ClaimLinkSend{
		SenderPhone:    "+447700900001",
		RecipientPhone: "+447700900002",
		Amount:         decimal.RequireFromString("0.5"),
	}

	op := domain.NewClaimLinkSendOperation("+447700900001", payload, now)
	require.NoError(t, op.Validate())
	require.True(t, op.Amount().Equal(payload.Amount))
	require.False(t, op.IsExpired(now.Add(4*time.Minute), 5*time.Minute))
	require.True(t, op.IsExpired(now.Add(5*time.Minute), 5*time.Minute))

	warning := domain.NewSmallAmountWarning("+447700900001", payload, now)
	require.NoError(t, warning.Validate())

	broken := op
	broken.DirectSend = &domain.DirectSend{}
	require.Error(t, broken.Validate())

	unknown := op
	unknown.Kind = "teleport"
	require.Error(t, unknown.Validate())
}

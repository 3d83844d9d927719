package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrClaimNotFound          = errors.New("claim not found")
	ErrInvalidClaimTransition = errors.New("invalid claim status transition")
)

type ClaimStatus string

const (
	ClaimPending  ClaimStatus = "pending"
	ClaimSettling ClaimStatus = "settling"
	ClaimClaimed  ClaimStatus = "claimed"
	ClaimRefunded ClaimStatus = "refunded"
	ClaimFailed   ClaimStatus = "failed"
)

func (s ClaimStatus) IsTerminal() bool {
	return s == ClaimClaimed || s == ClaimRefunded || s == ClaimFailed
}

// SettlementKind records which path won the transition out of pending.
type SettlementKind string

const (
	SettlementNone   SettlementKind = ""
	SettlementClaim  SettlementKind = "claim"
	SettlementRefund SettlementKind = "refund"
)

type Claim struct {
	Id                  string
	SenderPhone         string
	SenderAddress       string
	RecipientPhone      string
	TokenDigest         string
	CustodyWalletHandle string
	CustodyAddress      string
	Amount              decimal.Decimal
	Status              ClaimStatus
	SettlementKind      SettlementKind
	ClaimerPhone        string
	ClaimerAddress      string
	HoldTxRef           string
	SettleTxRef         string
	GasCost             decimal.Decimal
	SettledAmount       decimal.Decimal
	ErrorNote           string
	CreatedAt           int64
	ExpiresAt           int64
	UpdatedAt           int64
	ClaimedAt           int64
	RefundedAt          int64
}

type NewClaimParams struct {
	SenderPhone         string
	SenderAddress       string
	RecipientPhone      string
	TokenDigest         string
	CustodyWalletHandle string
	CustodyAddress      string
	Amount              decimal.Decimal
	HoldTxRef           string
}

// NewClaim returns a pending claim expiring holdWindow after now.
func NewClaim(params NewClaimParams, now time.Time, holdWindow time.Duration) Claim {
	return Claim{
		Id:                  uuid.New().String(),
		SenderPhone:         params.SenderPhone,
		SenderAddress:       params.SenderAddress,
		RecipientPhone:      params.RecipientPhone,
		TokenDigest:         params.TokenDigest,
		CustodyWalletHandle: params.CustodyWalletHandle,
		CustodyAddress:      params.CustodyAddress,
		Amount:              params.Amount,
		Status:              ClaimPending,
		HoldTxRef:           params.HoldTxRef,
		GasCost:             decimal.Zero,
		SettledAmount:       decimal.Zero,
		CreatedAt:           now.Unix(),
		ExpiresAt:           now.Add(holdWindow).Unix(),
		UpdatedAt:           now.Unix(),
	}
}

// ShortId is the prefix of the claim id used in logs and user facing messages.
func (c Claim) ShortId() string {
	if len(c.Id) <= 8 {
		return c.Id
	}
	return c.Id[:8]
}

func (c Claim) IsExpired(now time.Time) bool {
	return now.Unix() >= c.ExpiresAt
}

// StartSettlement moves a pending claim to settling on behalf of the given path.
// The returned copy must be persisted with a compare-and-swap on the pending status.
func (c Claim) StartSettlement(
	kind SettlementKind, claimerPhone, claimerAddress string, now time.Time,
) (Claim, error) {
	if c.Status != ClaimPending {
		return c, fmt.Errorf(
			"%w: cannot settle claim in status %s", ErrInvalidClaimTransition, c.Status,
		)
	}
	if kind != SettlementClaim && kind != SettlementRefund {
		return c, fmt.Errorf("%w: unknown settlement kind %q", ErrInvalidClaimTransition, kind)
	}

	c.Status = ClaimSettling
	c.SettlementKind = kind
	c.ClaimerPhone = claimerPhone
	c.ClaimerAddress = claimerAddress
	c.UpdatedAt = now.Unix()
	return c, nil
}

// CompleteSettlement records a successful broadcast and makes the claim terminal.
func (c Claim) CompleteSettlement(
	txRef string, gasCost, settledAmount decimal.Decimal, now time.Time,
) (Claim, error) {
	if c.Status != ClaimSettling {
		return c, fmt.Errorf(
			"%w: cannot complete claim in status %s", ErrInvalidClaimTransition, c.Status,
		)
	}

	c.SettleTxRef = txRef
	c.GasCost = gasCost
	c.SettledAmount = settledAmount
	c.UpdatedAt = now.Unix()
	switch c.SettlementKind {
	case SettlementClaim:
		c.Status = ClaimClaimed
		c.ClaimedAt = now.Unix()
	case SettlementRefund:
		c.Status = ClaimRefunded
		c.RefundedAt = now.Unix()
	default:
		return c, fmt.Errorf("%w: missing settlement kind", ErrInvalidClaimTransition)
	}
	return c, nil
}

// Fail marks the claim as failed. Failed claims are never retried automatically.
func (c Claim) Fail(note string, now time.Time) (Claim, error) {
	if c.Status.IsTerminal() {
		return c, fmt.Errorf(
			"%w: cannot fail claim in status %s", ErrInvalidClaimTransition, c.Status,
		)
	}

	c.Status = ClaimFailed
	c.ErrorNote = note
	c.UpdatedAt = now.Unix()
	return c, nil
}

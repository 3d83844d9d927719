package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type OperationKind string

const (
	OperationDirectSend         OperationKind = "direct_send"
	OperationClaimLinkSend      OperationKind = "claim_link_send"
	OperationSmallAmountWarning OperationKind = "small_amount_warning"
)

// DirectSend moves funds to a recipient that already has a wallet.
type DirectSend struct {
	SenderPhone        string
	SenderAddress      string
	SenderWalletHandle string
	RecipientPhone     string
	RecipientAddress   string
	Amount             decimal.Decimal
	FeeEstimate        decimal.Decimal
	Total              decimal.Decimal
}

// ClaimLinkSend escrows funds for a recipient without a wallet.
type ClaimLinkSend struct {
	SenderPhone        string
	SenderAddress      string
	SenderWalletHandle string
	RecipientPhone     string
	Amount             decimal.Decimal
	FeeEstimate        decimal.Decimal
	Total              decimal.Decimal
}

// PendingOperation is a value-moving intent awaiting confirmation. Exactly one of the payload
// fields is set and it must match Kind: direct sends carry DirectSend, claim link sends and
// small amount warnings carry ClaimLinkSend.
type PendingOperation struct {
	RequesterId   string
	Kind          OperationKind
	DirectSend    *DirectSend
	ClaimLinkSend *ClaimLinkSend
	CreatedAt     int64
}

func NewDirectSendOperation(requesterId string, op DirectSend, now time.Time) PendingOperation {
	return PendingOperation{
		RequesterId: requesterId,
		Kind:        OperationDirectSend,
		DirectSend:  &op,
		CreatedAt:   now.Unix(),
	}
}

func NewClaimLinkSendOperation(
	requesterId string, op ClaimLinkSend, now time.Time,
) PendingOperation {
	return PendingOperation{
		RequesterId:   requesterId,
		Kind:          OperationClaimLinkSend,
		ClaimLinkSend: &op,
		CreatedAt:     now.Unix(),
	}
}

func NewSmallAmountWarning(requesterId string, op ClaimLinkSend, now time.Time) PendingOperation {
	return PendingOperation{
		RequesterId:   requesterId,
		Kind:          OperationSmallAmountWarning,
		ClaimLinkSend: &op,
		CreatedAt:     now.Unix(),
	}
}

func (o PendingOperation) Validate() error {
	if o.RequesterId == "" {
		return fmt.Errorf("missing requester id")
	}
	switch o.Kind {
	case OperationDirectSend:
		if o.DirectSend == nil || o.ClaimLinkSend != nil {
			return fmt.Errorf("direct send operation must carry only a direct send payload")
		}
	case OperationClaimLinkSend, OperationSmallAmountWarning:
		if o.ClaimLinkSend == nil || o.DirectSend != nil {
			return fmt.Errorf("%s operation must carry only a claim link payload", o.Kind)
		}
	default:
		return fmt.Errorf("unknown operation kind %q", o.Kind)
	}
	return nil
}

func (o PendingOperation) IsExpired(now time.Time, ttl time.Duration) bool {
	return now.Sub(time.Unix(o.CreatedAt, 0)) >= ttl
}

// Amount returns the amount moved by the wrapped operation.
func (o PendingOperation) Amount() decimal.Decimal {
	if o.DirectSend != nil {
		return o.DirectSend.Amount
	}
	if o.ClaimLinkSend != nil {
		return o.ClaimLinkSend.Amount
	}
	return decimal.Zero
}

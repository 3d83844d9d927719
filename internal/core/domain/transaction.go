package domain

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var ErrTransactionNotFound = errors.New("transaction not found")

type TxStatus string

const (
	TxPending TxStatus = "pending"
	TxSuccess TxStatus = "success"
	TxFailed  TxStatus = "failed"
)

type TxKind string

const (
	TxKindDirect TxKind = "direct"
	TxKindHold   TxKind = "hold"
	TxKindClaim  TxKind = "claim"
	TxKindRefund TxKind = "refund"
)

// TransactionRecord tracks a broadcast transfer until the chain reports its outcome.
type TransactionRecord struct {
	Hash      string
	Kind      TxKind
	From      string
	To        string
	Amount    decimal.Decimal
	ClaimId   string
	Status    TxStatus
	CreatedAt int64
	UpdatedAt int64
}

func NewTransactionRecord(
	hash string, kind TxKind, from, to string, amount decimal.Decimal, claimId string,
	now time.Time,
) TransactionRecord {
	return TransactionRecord{
		Hash:      hash,
		Kind:      kind,
		From:      from,
		To:        to,
		Amount:    amount,
		ClaimId:   claimId,
		Status:    TxPending,
		CreatedAt: now.Unix(),
		UpdatedAt: now.Unix(),
	}
}

func (t TransactionRecord) IsFinal() bool {
	return t.Status == TxSuccess || t.Status == TxFailed
}

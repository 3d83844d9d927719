package application

import (
	"context"
	"time"

	"github.com/arkade-os/escrowd/internal/core/domain"
	"github.com/arkade-os/escrowd/internal/core/ports"
	"github.com/arkade-os/escrowd/pkg/errors"
	"github.com/shopspring/decimal"
)

type Service interface {
	Start() error
	Stop()
	// HandleMessage routes an inbound chat event and replies through the messaging gateway.
	HandleMessage(ctx context.Context, msg ports.InboundMessage) (*Reply, errors.Error)
	RegisterAccount(ctx context.Context, phone string) (*AccountInfo, errors.Error)
	RequestSend(ctx context.Context, req SendRequest) (*Proposal, errors.Error)
	Resolve(ctx context.Context, requesterId string, signal Signal) (*Resolution, errors.Error)
	CreateHold(ctx context.Context, req HoldRequest) (*HoldResult, errors.Error)
	ValidateAndClaim(ctx context.Context, req ClaimRequest) (*ClaimResult, errors.Error)
	GetClaim(ctx context.Context, id string) (*ClaimInfo, errors.Error)
	ListClaims(ctx context.Context, phone string) ([]ClaimInfo, errors.Error)
}

type Config struct {
	HoldWindow         time.Duration
	SweepInterval      time.Duration
	SweepBatchSize     int
	SettlingTimeout    time.Duration
	ReconcileInterval  time.Duration
	ReconcileBatchSize int
	ConfirmationTTL    time.Duration
	RPCTimeout         time.Duration
	MaxEstimateRetries uint64
	SmallAmountFloor   decimal.Decimal
	ClaimPolicy        SettlementPolicy
	RefundPolicy       SettlementPolicy
	BotNumber          string
	ClaimLinkPrefix    string
}

type SendRequest struct {
	RequesterPhone string
	RecipientPhone string
	Amount         decimal.Decimal
}

// Proposal summarizes the pending operation awaiting the requester's confirmation.
type Proposal struct {
	Kind           domain.OperationKind
	RecipientPhone string
	Registered     bool
	Amount         decimal.Decimal
	FeeEstimate    decimal.Decimal
	Total          decimal.Decimal
	ExpiresAt      int64
	Prompt         string
}

type Signal struct {
	Text     string
	Reaction string
}

type Outcome string

const (
	OutcomeNothingToConfirm     Outcome = "nothing_to_confirm"
	OutcomeExecuted             Outcome = "executed"
	OutcomeCancelled            Outcome = "cancelled"
	OutcomeReprompt             Outcome = "reprompt"
	OutcomeAwaitingConfirmation Outcome = "awaiting_confirmation"
)

type Resolution struct {
	Outcome  Outcome
	Kind     domain.OperationKind
	Transfer *TransferResult
	Hold     *HoldResult
	// Proposal is set when confirming a warning queued the real operation.
	Proposal *Proposal
	Message  string
}

type TransferResult struct {
	TxRef          string
	RecipientPhone string
	Amount         decimal.Decimal
	FeeEstimate    decimal.Decimal
}

type HoldRequest struct {
	SenderPhone        string
	SenderAddress      string
	SenderWalletHandle string
	RecipientPhone     string
	Amount             decimal.Decimal
	FeeHint            decimal.Decimal
}

type HoldResult struct {
	ClaimId   string
	ClaimLink string
	Token     string
	HoldTxRef string
	ExpiresAt int64
}

type ClaimRequest struct {
	Token          string
	ClaimerPhone   string
	ClaimerAddress string
}

type ClaimResult struct {
	ClaimId       string
	TxRef         string
	GasCost       decimal.Decimal
	SettledAmount decimal.Decimal
}

// ClaimInfo is the public view of a claim, without token digest or custody handle.
type ClaimInfo struct {
	Id             string
	SenderPhone    string
	RecipientPhone string
	Amount         decimal.Decimal
	Status         domain.ClaimStatus
	SettlementKind domain.SettlementKind
	HoldTxRef      string
	SettleTxRef    string
	GasCost        decimal.Decimal
	SettledAmount  decimal.Decimal
	ErrorNote      string
	CreatedAt      int64
	ExpiresAt      int64
	UpdatedAt      int64
	ClaimedAt      int64
	RefundedAt     int64
}

type AccountInfo struct {
	Phone     string
	Address   string
	CreatedAt int64
}

type Reply struct {
	Text string
	Link string
}

func newClaimInfo(c domain.Claim) ClaimInfo {
	return ClaimInfo{
		Id:             c.Id,
		SenderPhone:    c.SenderPhone,
		RecipientPhone: c.RecipientPhone,
		Amount:         c.Amount,
		Status:         c.Status,
		SettlementKind: c.SettlementKind,
		HoldTxRef:      c.HoldTxRef,
		SettleTxRef:    c.SettleTxRef,
		GasCost:        c.GasCost,
		SettledAmount:  c.SettledAmount,
		ErrorNote:      c.ErrorNote,
		CreatedAt:      c.CreatedAt,
		ExpiresAt:      c.ExpiresAt,
		UpdatedAt:      c.UpdatedAt,
		ClaimedAt:      c.ClaimedAt,
		RefundedAt:     c.RefundedAt,
	}
}

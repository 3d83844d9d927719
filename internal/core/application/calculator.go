package application

import (
	"fmt"

	"github.com/arkade-os/escrowd/pkg/errors"
	"github.com/shopspring/decimal"
)

type RejectReason string

const (
	ReasonNone                   RejectReason = ""
	ReasonInvalidAmount          RejectReason = "InvalidAmount"
	ReasonAmountTooSmallForGas   RejectReason = "AmountTooSmallForGas"
	ReasonAmountTooSmallAfterGas RejectReason = "AmountTooSmallAfterGas"
)

// SettlementPolicy bounds the safety buffer added on top of the estimated network fee when
// deciding whether a transfer is worth making.
type SettlementPolicy struct {
	MinBuffer              decimal.Decimal
	BufferFraction         decimal.Decimal
	MaxBuffer              decimal.Decimal
	MinSettleable          decimal.Decimal
	MaxGasFractionOfAmount decimal.Decimal
}

func DefaultSettlementPolicy() SettlementPolicy {
	return SettlementPolicy{
		MinBuffer:              decimal.RequireFromString("0.0001"),
		BufferFraction:         decimal.RequireFromString("0.01"),
		MaxBuffer:              decimal.RequireFromString("0.001"),
		MinSettleable:          decimal.RequireFromString("0.0001"),
		MaxGasFractionOfAmount: decimal.RequireFromString("0.9"),
	}
}

func (p SettlementPolicy) validate() error {
	if p.MinBuffer.IsNegative() || p.MinSettleable.IsNegative() {
		return fmt.Errorf("min buffer and min settleable must not be negative")
	}
	if p.MaxBuffer.LessThan(p.MinBuffer) {
		return fmt.Errorf("max buffer %s is lower than min buffer %s", p.MaxBuffer, p.MinBuffer)
	}
	if p.BufferFraction.IsNegative() || p.BufferFraction.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("buffer fraction must be in [0, 1]")
	}
	if !p.MaxGasFractionOfAmount.IsPositive() ||
		p.MaxGasFractionOfAmount.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("max gas fraction must be in (0, 1]")
	}
	return nil
}

type Quote struct {
	Ok           bool
	Reason       RejectReason
	Amount       decimal.Decimal
	GasCost      decimal.Decimal
	Buffer       decimal.Decimal
	Required     decimal.Decimal
	SettleAmount decimal.Decimal
	// Shortfall is how much the amount is missing to be accepted, zero when Ok.
	Shortfall decimal.Decimal
}

// ComputeSettlement decides whether amount can be moved paying gasCost in fees.
// The buffer only gates acceptance: the settled amount is amount minus the actual gas cost.
func ComputeSettlement(amount, gasCost decimal.Decimal, policy SettlementPolicy) Quote {
	quote := Quote{
		Amount:       amount,
		GasCost:      gasCost,
		Buffer:       decimal.Zero,
		Required:     decimal.Zero,
		SettleAmount: decimal.Zero,
		Shortfall:    decimal.Zero,
	}
	if !amount.IsPositive() || gasCost.IsNegative() {
		quote.Reason = ReasonInvalidAmount
		return quote
	}

	buffer := decimal.Max(policy.MinBuffer, amount.Mul(policy.BufferFraction))
	buffer = decimal.Min(decimal.Max(buffer, policy.MinBuffer), policy.MaxBuffer)
	required := gasCost.Add(buffer)
	quote.Buffer = buffer
	quote.Required = required

	if ceiling := amount.Mul(policy.MaxGasFractionOfAmount); required.GreaterThanOrEqual(ceiling) {
		quote.Reason = ReasonAmountTooSmallForGas
		if policy.MaxGasFractionOfAmount.IsPositive() {
			quote.Shortfall = required.Div(policy.MaxGasFractionOfAmount).Sub(amount)
		}
		return quote
	}

	if left := amount.Sub(required); left.LessThan(policy.MinSettleable) {
		quote.Reason = ReasonAmountTooSmallAfterGas
		quote.Shortfall = policy.MinSettleable.Sub(left)
		return quote
	}

	quote.Ok = true
	quote.SettleAmount = amount.Sub(gasCost)
	return quote
}

// Err converts a rejected quote to the typed error reported to callers.
func (q Quote) Err() errors.Error {
	if q.Ok {
		return nil
	}

	metadata := errors.EconomicMetadata{
		Amount:    q.Amount.String(),
		GasCost:   q.GasCost.String(),
		Required:  q.Required.String(),
		Shortfall: q.Shortfall.String(),
	}
	switch q.Reason {
	case ReasonAmountTooSmallForGas:
		return errors.AMOUNT_TOO_SMALL_FOR_GAS.New(
			"amount %s is too small to cover network fees of %s", q.Amount, q.Required,
		).WithMetadata(metadata)
	case ReasonAmountTooSmallAfterGas:
		return errors.AMOUNT_TOO_SMALL_AFTER_GAS.New(
			"amount %s leaves too little after network fees of %s", q.Amount, q.Required,
		).WithMetadata(metadata)
	default:
		return errors.INVALID_AMOUNT.New("invalid amount %s", q.Amount).
			WithMetadata(errors.InvalidFieldMetadata{Field: "amount", Value: q.Amount.String()})
	}
}

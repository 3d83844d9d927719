package errors

import (
	"encoding/json"
	"fmt"

	log "github.com/sirupsen/logrus"
	grpccodes "google.golang.org/grpc/codes"
)

// Code is the type representing a namespace error code.
type Code[MT any] struct {
	Code     uint16
	Name     string
	GrpcCode grpccodes.Code
}

// New creates a new error with the given code and the message
func (c Code[MT]) New(msg string, args ...any) TypedError[MT] {
	return &ErrorImpl[MT]{
		code:  c,
		cause: fmt.Errorf(msg, args...),
	}
}

// Wrap creates a new Error with the given code and the cause error
func (c Code[MT]) Wrap(cause error) TypedError[MT] {
	return &ErrorImpl[MT]{
		code:  c,
		cause: cause,
	}
}

func (c Code[MT]) String() string {
	return fmt.Sprintf("%s (%d)", c.Name, c.Code)
}

// Is reports whether err carries this code.
func (c Code[MT]) Is(err error) bool {
	if err == nil {
		return false
	}
	e, ok := err.(Error)
	if !ok {
		return false
	}
	return e.Code() == c.Code
}

type Error interface {
	error
	Log() *log.Entry
	Code() uint16
	CodeName() string
	GrpcCode() grpccodes.Code
	Metadata() map[string]string
}

type TypedError[MT any] interface {
	Error
	WithMetadata(MT) TypedError[MT]
}

// ErrorImpl is the default concrete implementation of TypedError.
type ErrorImpl[MT any] struct {
	code     Code[MT]
	cause    error
	metadata MT
}

func (e *ErrorImpl[MT]) Log() *log.Entry {
	return log.WithField("name", e.code.Name).
		WithField("code", e.code.Code).
		WithField("metadata", e.metadata)
}

func (e *ErrorImpl[MT]) Metadata() map[string]string {
	// convert any metadata to map[string]string
	metadata := make(map[string]string)
	buf, err := json.Marshal(e.metadata)
	if err == nil {
		var genericMap map[string]any
		if err := json.Unmarshal(buf, &genericMap); err == nil {
			for k, v := range genericMap {
				vStr := ""
				if v != nil {
					vStr = fmt.Sprintf("%v", v)
				}
				metadata[k] = vStr
			}
		}
	}
	return metadata
}

func (e *ErrorImpl[MT]) GrpcCode() grpccodes.Code {
	return e.code.GrpcCode
}

func (e *ErrorImpl[MT]) Code() uint16 {
	return e.code.Code
}

func (e *ErrorImpl[MT]) CodeName() string {
	return e.code.Name
}

// Error() implements the error interface.
func (e *ErrorImpl[MT]) Error() string {
	return fmt.Sprintf("%s: %s", e.code.String(), e.cause.Error())
}

func (e *ErrorImpl[MT]) Unwrap() error {
	return e.cause
}

func (e *ErrorImpl[MT]) WithMetadata(metadata MT) TypedError[MT] {
	e.metadata = metadata
	return e
}

// ClaimMetadata identifies a claim without exposing its token or custody handle.
type ClaimMetadata struct {
	ClaimId string `json:"claim_id"`
	Phone   string `json:"phone,omitempty"`
	Amount  string `json:"amount,omitempty"`
}

type ClaimStatusMetadata struct {
	ClaimId string `json:"claim_id"`
	Status  string `json:"status"`
}

type ClaimExpiredMetadata struct {
	ClaimId   string `json:"claim_id"`
	ExpiresAt int64  `json:"expires_at"`
	Now       int64  `json:"now"`
}

// EconomicMetadata carries the numbers a caller needs to self-correct an amount.
type EconomicMetadata struct {
	Amount    string `json:"amount"`
	GasCost   string `json:"gas_cost"`
	Required  string `json:"required"`
	Shortfall string `json:"shortfall"`
}

type BalanceMetadata struct {
	Balance   string `json:"balance"`
	Required  string `json:"required"`
	Shortfall string `json:"shortfall"`
}

type InvalidFieldMetadata struct {
	Field string `json:"field"`
	Value string `json:"value,omitempty"`
}

type RequesterMetadata struct {
	Requester string `json:"requester"`
}

type SettlementFailedMetadata struct {
	ClaimId string `json:"claim_id"`
	Kind    string `json:"kind"`
	Note    string `json:"note"`
}

var INTERNAL_ERROR = Code[map[string]any]{0, "INTERNAL_ERROR", grpccodes.Internal}

var INVALID_HOLD_REQUEST = Code[InvalidFieldMetadata]{
	1,
	"INVALID_HOLD_REQUEST",
	grpccodes.InvalidArgument,
}
var INVALID_AMOUNT = Code[InvalidFieldMetadata]{2, "INVALID_AMOUNT", grpccodes.InvalidArgument}
var INVALID_ADDRESS = Code[InvalidFieldMetadata]{3, "INVALID_ADDRESS", grpccodes.InvalidArgument}
var INVALID_PHONE = Code[InvalidFieldMetadata]{4, "INVALID_PHONE", grpccodes.InvalidArgument}

var AMOUNT_TOO_SMALL_FOR_GAS = Code[EconomicMetadata]{
	5,
	"AMOUNT_TOO_SMALL_FOR_GAS",
	grpccodes.FailedPrecondition,
}

var AMOUNT_TOO_SMALL_AFTER_GAS = Code[EconomicMetadata]{
	6,
	"AMOUNT_TOO_SMALL_AFTER_GAS",
	grpccodes.FailedPrecondition,
}

var INSUFFICIENT_BALANCE = Code[BalanceMetadata]{
	7,
	"INSUFFICIENT_BALANCE",
	grpccodes.FailedPrecondition,
}

var INSUFFICIENT_FUNDS_FOR_GAS = Code[EconomicMetadata]{
	8,
	"INSUFFICIENT_FUNDS_FOR_GAS",
	grpccodes.FailedPrecondition,
}

var INVALID_OR_EXPIRED_CLAIM = Code[any]{
	9,
	"INVALID_OR_EXPIRED_CLAIM",
	grpccodes.NotFound,
}

var CLAIM_NOT_ACTIVE = Code[ClaimStatusMetadata]{
	10,
	"CLAIM_NOT_ACTIVE",
	grpccodes.FailedPrecondition,
}

var CLAIM_PHONE_MISMATCH = Code[ClaimMetadata]{
	11,
	"CLAIM_PHONE_MISMATCH",
	grpccodes.PermissionDenied,
}

var CLAIM_EXPIRED = Code[ClaimExpiredMetadata]{
	12,
	"CLAIM_EXPIRED",
	grpccodes.FailedPrecondition,
}
var CLAIM_NOT_FOUND = Code[ClaimMetadata]{13, "CLAIM_NOT_FOUND", grpccodes.NotFound}

var NOTHING_TO_CONFIRM = Code[RequesterMetadata]{
	14,
	"NOTHING_TO_CONFIRM",
	grpccodes.FailedPrecondition,
}

var SERVICE_UNAVAILABLE = Code[map[string]any]{
	15,
	"SERVICE_UNAVAILABLE",
	grpccodes.Unavailable,
}

var SETTLEMENT_FAILED = Code[SettlementFailedMetadata]{
	16,
	"SETTLEMENT_FAILED",
	grpccodes.Aborted,
}
var ACCOUNT_NOT_FOUND = Code[RequesterMetadata]{17, "ACCOUNT_NOT_FOUND", grpccodes.NotFound}

var INVALID_REQUEST = Code[InvalidFieldMetadata]{18, "INVALID_REQUEST", grpccodes.InvalidArgument}

var UNAUTHENTICATED_REQUEST = Code[any]{
	19, "UNAUTHENTICATED_REQUEST", grpccodes.Unauthenticated,
}

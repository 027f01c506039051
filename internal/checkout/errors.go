package checkout

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrCheckoutInProgress means the per-user lock could not be taken in time.
var ErrCheckoutInProgress = errors.New("another checkout is in progress for this user")

// Kind classifies the outcome of PlaceOrder for callers that map it to a response.
type Kind int

const (
	KindSuccess Kind = iota
	KindValidation
	KindInsufficientFunds
	KindOrderCreation
	KindPaymentSettlement
	KindPartialFailure
	KindUnknown
)

func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindValidation:
		return "validation_failed"
	case KindInsufficientFunds:
		return "insufficient_funds"
	case KindOrderCreation:
		return "order_creation_failed"
	case KindPaymentSettlement:
		return "payment_settlement_failed"
	case KindPartialFailure:
		return "partially_failed"
	default:
		return "unknown"
	}
}

// KindOf reports which checkout outcome err represents. A nil error is KindSuccess.
func KindOf(err error) Kind {
	if err == nil {
		return KindSuccess
	}

	var (
		validation   *ValidationError
		funds        *InsufficientFundsError
		creation     *OrderCreationError
		settlement   *PaymentSettlementError
		partialError *PartialFailureError
	)
	switch {
	case errors.As(err, &validation):
		return KindValidation
	case errors.As(err, &funds):
		return KindInsufficientFunds
	case errors.As(err, &creation):
		return KindOrderCreation
	case errors.As(err, &settlement):
		return KindPaymentSettlement
	case errors.As(err, &partialError):
		return KindPartialFailure
	default:
		return KindUnknown
	}
}

type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "checkout validation failed: " + e.Reason
}

type InsufficientFundsError struct {
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: required %s, available %s",
		e.Required.StringFixed(2), e.Available.StringFixed(2))
}

// OrderCreationError means nothing was persisted and the checkout can be retried.
type OrderCreationError struct {
	Cause error
}

func (e *OrderCreationError) Error() string {
	return fmt.Sprintf("order creation failed: %v", e.Cause)
}

func (e *OrderCreationError) Unwrap() error {
	return e.Cause
}

// PaymentSettlementError means the order exists but the wallet was not debited.
// It must be reconciled by an operator, never retried automatically.
type PaymentSettlementError struct {
	OrderID int64
	Cause   error
}

func (e *PaymentSettlementError) Error() string {
	return fmt.Sprintf("payment settlement failed for order %d: %v", e.OrderID, e.Cause)
}

func (e *PaymentSettlementError) Unwrap() error {
	return e.Cause
}

// PartialFailureError means the wallet was debited but session cleanup failed.
// Compensated reports whether the debit was credited back.
type PartialFailureError struct {
	OrderID     int64
	Reason      string
	Compensated bool
	Cause       error
}

func (e *PartialFailureError) Error() string {
	state := "compensated"
	if !e.Compensated {
		state = "not compensated"
	}
	return fmt.Sprintf("checkout partially failed for order %d (%s): %s", e.OrderID, state, e.Reason)
}

func (e *PartialFailureError) Unwrap() error {
	return e.Cause
}

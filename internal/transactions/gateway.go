package transactions

import (
	"context"
	"encoding/json"

	"github.com/shopspring/decimal"

	"github.com/homerunhq/homerun-backend/pkg/enums"
)

// Gateway is the external payment processor. Calls are synchronous and
// fallible; retries belong to the caller, never to the coordinator.
type Gateway interface {
	Charge(ctx context.Context, input ChargeInput) (*ChargeResult, error)
	RefundPayment(ctx context.Context, input GatewayRefundInput) (*GatewayRefundResult, error)
}

// ChargeInput describes one charge attempt. SourceToken is the processor's
// opaque payment source (card nonce, wallet token); the coordinator passes it
// through untouched.
type ChargeInput struct {
	Amount         decimal.Decimal
	Currency       enums.Currency
	Method         enums.PaymentMethod
	SourceToken    string
	IdempotencyKey string
}

// ChargeResult is a successful charge.
type ChargeResult struct {
	TransactionID string
	Raw           json.RawMessage
}

// GatewayRefundInput reverses part or all of a prior charge.
type GatewayRefundInput struct {
	TransactionID  string
	Amount         decimal.Decimal
	Currency       enums.Currency
	Reason         string
	IdempotencyKey string
}

// GatewayRefundResult is a successful gateway refund.
type GatewayRefundResult struct {
	RefundID string
	Raw      json.RawMessage
}

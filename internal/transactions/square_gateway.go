package transactions

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/homerunhq/homerun-backend/pkg/square"
)

// SquareGateway adapts the Square client to the coordinator's Gateway
// contract.
type SquareGateway struct {
	client *square.Client
}

// NewSquareGateway wraps a configured Square client.
func NewSquareGateway(client *square.Client) (*SquareGateway, error) {
	if client == nil {
		return nil, errors.New("square client required")
	}
	return &SquareGateway{client: client}, nil
}

func (g *SquareGateway) Charge(ctx context.Context, input ChargeInput) (*ChargeResult, error) {
	outcome, err := g.client.CreatePayment(ctx, square.PaymentParams{
		AmountCents:    toCents(input.Amount),
		Currency:       string(input.Currency),
		SourceID:       input.SourceToken,
		IdempotencyKey: input.IdempotencyKey,
	})
	if err != nil {
		return nil, err
	}
	return &ChargeResult{
		TransactionID: outcome.PaymentID,
		Raw:           outcome.Raw,
	}, nil
}

func (g *SquareGateway) RefundPayment(ctx context.Context, input GatewayRefundInput) (*GatewayRefundResult, error) {
	outcome, err := g.client.RefundPayment(ctx, square.RefundParams{
		PaymentID:      input.TransactionID,
		AmountCents:    toCents(input.Amount),
		Currency:       string(input.Currency),
		Reason:         input.Reason,
		IdempotencyKey: input.IdempotencyKey,
	})
	if err != nil {
		return nil, err
	}
	return &GatewayRefundResult{
		RefundID: outcome.RefundID,
		Raw:      outcome.Raw,
	}, nil
}

func toCents(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

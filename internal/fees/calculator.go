package fees

import (
	"github.com/shopspring/decimal"

	pkgerrors "github.com/homerunhq/homerun-backend/pkg/errors"
)

var (
	platformRate    = decimal.NewFromFloat(0.05)
	processingRate  = decimal.NewFromFloat(0.029)
	processingFixed = decimal.NewFromFloat(0.30)
)

// Breakdown is the fee split for a single gross amount. Each fee is rounded
// to two decimals independently before totals are derived, so the identity
// net = gross - platform - processing holds exactly.
type Breakdown struct {
	PlatformFee   decimal.Decimal `json:"platform_fee"`
	ProcessingFee decimal.Decimal `json:"processing_fee"`
	TotalFees     decimal.Decimal `json:"total_fees"`
	NetAmount     decimal.Decimal `json:"net_amount"`
}

// Calculate splits a gross amount into platform fee, processing fee, and the
// provider's net payout. A non-positive gross is rejected. A negative net is
// legal for very small amounts; surfacing that is a pricing decision, not a
// structural one.
func Calculate(gross decimal.Decimal) (Breakdown, error) {
	if gross.LessThanOrEqual(decimal.Zero) {
		return Breakdown{}, pkgerrors.New(pkgerrors.CodeInvalidAmount, "gross amount must be positive").
			WithDetails(map[string]any{"gross": gross.String()})
	}

	platform := gross.Mul(platformRate).Round(2)
	processing := gross.Mul(processingRate).Add(processingFixed).Round(2)
	total := platform.Add(processing)

	return Breakdown{
		PlatformFee:   platform,
		ProcessingFee: processing,
		TotalFees:     total,
		NetAmount:     gross.Sub(total),
	}, nil
}

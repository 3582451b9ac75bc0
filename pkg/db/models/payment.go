package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/homerunhq/homerun-backend/pkg/enums"
)

// Payment is the ledger entry for one charge attempt against a booking.
// A booking has at most one active non-failed payment; failed attempts are
// retained as history and retries create a new row.
type Payment struct {
	ID            uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	PaymentNumber string    `gorm:"column:payment_number;not null;unique"`
	BookingID     uuid.UUID `gorm:"column:booking_id;type:uuid;not null;index"`
	CustomerID    uuid.UUID `gorm:"column:customer_id;type:uuid;not null;index"`
	ProviderID    uuid.UUID `gorm:"column:provider_id;type:uuid;not null"`

	Gross         decimal.Decimal `gorm:"column:gross;type:numeric(12,2);not null"`
	PlatformFee   decimal.Decimal `gorm:"column:platform_fee;type:numeric(12,2);not null"`
	ProcessingFee decimal.Decimal `gorm:"column:processing_fee;type:numeric(12,2);not null"`
	NetAmount     decimal.Decimal `gorm:"column:net_amount;type:numeric(12,2);not null"`
	Currency      enums.Currency  `gorm:"column:currency;type:text;not null;default:'USD'"`

	Method enums.PaymentMethod `gorm:"column:method;type:payment_method;not null"`
	Status enums.PaymentStatus `gorm:"column:status;type:payment_status;not null;default:'pending'"`

	GatewayTransactionID *string         `gorm:"column:gateway_transaction_id"`
	GatewayResponse      json.RawMessage `gorm:"column:gateway_response;type:jsonb"`

	InitiatedAt time.Time  `gorm:"column:initiated_at;not null"`
	CompletedAt *time.Time `gorm:"column:completed_at"`
	FailedAt    *time.Time `gorm:"column:failed_at"`
	RefundedAt  *time.Time `gorm:"column:refunded_at"`

	RefundedTotal         decimal.Decimal `gorm:"column:refunded_total;type:numeric(12,2);not null;default:0"`
	RefundID              *string         `gorm:"column:refund_id"`
	RefundReason          *string         `gorm:"column:refund_reason"`
	RefundInitiatedBy     *uuid.UUID      `gorm:"column:refund_initiated_by;type:uuid"`
	GatewayRefundID       *string         `gorm:"column:gateway_refund_id"`
	RefundGatewayResponse json.RawMessage `gorm:"column:refund_gateway_response;type:jsonb"`

	Metadata json.RawMessage `gorm:"column:metadata;type:jsonb"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// RemainingBalance is the gross amount not yet refunded.
func (p *Payment) RemainingBalance() decimal.Decimal {
	return p.Gross.Sub(p.RefundedTotal)
}

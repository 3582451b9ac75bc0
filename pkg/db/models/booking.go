package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/homerunhq/homerun-backend/pkg/enums"
	"github.com/homerunhq/homerun-backend/pkg/types"
)

// ServiceSnapshot freezes the catalog entry at booking time. It is copied on
// create and never re-read from the live catalog.
type ServiceSnapshot struct {
	Title       string `gorm:"column:title;not null"`
	Description string `gorm:"column:description;not null;default:''"`
	Category    string `gorm:"column:category;not null"`
}

// PaymentProjection is the booking-side view of the payment aggregate. The
// Payment row is the source of truth; only the transaction coordinator writes
// these columns.
type PaymentProjection struct {
	Method        *enums.PaymentMethod `gorm:"column:method;type:payment_method"`
	Status        enums.PaymentStatus  `gorm:"column:status;type:payment_status;not null;default:'unpaid'"`
	TransactionID *string              `gorm:"column:transaction_id"`
	PaidAt        *time.Time           `gorm:"column:paid_at"`
	RefundedAt    *time.Time           `gorm:"column:refunded_at"`
}

// Booking is a customer's reservation of a provider service slot.
type Booking struct {
	ID              uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	BookingNumber   string              `gorm:"column:booking_number;not null;unique"`
	CustomerID      uuid.UUID           `gorm:"column:customer_id;type:uuid;not null;index"`
	ProviderID      uuid.UUID           `gorm:"column:provider_id;type:uuid;not null;index"`
	ServiceID       uuid.UUID           `gorm:"column:service_id;type:uuid;not null"`
	Service         ServiceSnapshot     `gorm:"embedded;embeddedPrefix:service_"`
	ScheduledAt     time.Time           `gorm:"column:scheduled_at;not null"`
	DurationMinutes int                 `gorm:"column:duration_minutes;not null;default:60"`
	Status          enums.BookingStatus `gorm:"column:status;type:booking_status;not null;default:'pending'"`
	Location        *types.Address      `gorm:"column:location;type:jsonb;serializer:json"`

	EstimatedCost decimal.Decimal  `gorm:"column:estimated_cost;type:numeric(12,2);not null"`
	FinalCost     *decimal.Decimal `gorm:"column:final_cost;type:numeric(12,2)"`
	Discount      decimal.Decimal  `gorm:"column:discount;type:numeric(12,2);not null;default:0"`
	Taxes         decimal.Decimal  `gorm:"column:taxes;type:numeric(12,2);not null;default:0"`
	Currency      enums.Currency   `gorm:"column:currency;type:text;not null;default:'USD'"`

	Payment PaymentProjection `gorm:"embedded;embeddedPrefix:payment_"`

	CancellationReason  *string    `gorm:"column:cancellation_reason"`
	CancelledBy         *uuid.UUID `gorm:"column:cancelled_by;type:uuid"`
	PreviousScheduledAt *time.Time `gorm:"column:previous_scheduled_at"`

	Timeline []BookingTimelineEntry `gorm:"foreignKey:BookingID;constraint:OnDelete:CASCADE"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TotalCost returns (final or estimated) minus discount plus taxes, floored at zero.
func (b *Booking) TotalCost() decimal.Decimal {
	base := b.EstimatedCost
	if b.FinalCost != nil {
		base = *b.FinalCost
	}
	total := base.Sub(b.Discount).Add(b.Taxes)
	if total.IsNegative() {
		return decimal.Zero
	}
	return total
}

// LatestTimelineEntry returns the most recent timeline entry, or nil.
func (b *Booking) LatestTimelineEntry() *BookingTimelineEntry {
	if len(b.Timeline) == 0 {
		return nil
	}
	latest := &b.Timeline[0]
	for i := range b.Timeline {
		if b.Timeline[i].CreatedAt.After(latest.CreatedAt) {
			latest = &b.Timeline[i]
		}
	}
	return latest
}

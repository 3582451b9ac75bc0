package controllers

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/homerunhq/homerun-backend/pkg/db/models"
	"github.com/homerunhq/homerun-backend/pkg/types"
)

type bookingResponse struct {
	ID              uuid.UUID               `json:"id"`
	BookingNumber   string                  `json:"booking_number"`
	CustomerID      uuid.UUID               `json:"customer_id"`
	ProviderID      uuid.UUID               `json:"provider_id"`
	ServiceID       uuid.UUID               `json:"service_id"`
	Service         serviceSnapshotResponse `json:"service"`
	ScheduledAt     time.Time               `json:"scheduled_at"`
	DurationMinutes int                     `json:"duration_minutes"`
	Status          string                  `json:"status"`
	Location        *types.Address          `json:"location,omitempty"`

	EstimatedCost decimal.Decimal  `json:"estimated_cost"`
	FinalCost     *decimal.Decimal `json:"final_cost,omitempty"`
	Discount      decimal.Decimal  `json:"discount"`
	Taxes         decimal.Decimal  `json:"taxes"`
	TotalCost     decimal.Decimal  `json:"total_cost"`
	Currency      string           `json:"currency"`

	Payment paymentProjectionResponse `json:"payment"`

	CancellationReason  *string    `json:"cancellation_reason,omitempty"`
	CancelledBy         *uuid.UUID `json:"cancelled_by,omitempty"`
	PreviousScheduledAt *time.Time `json:"previous_scheduled_at,omitempty"`

	Timeline []timelineEntryResponse `json:"timeline,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type serviceSnapshotResponse struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

type paymentProjectionResponse struct {
	Method        *string    `json:"method,omitempty"`
	Status        string     `json:"status"`
	TransactionID *string    `json:"transaction_id,omitempty"`
	PaidAt        *time.Time `json:"paid_at,omitempty"`
	RefundedAt    *time.Time `json:"refunded_at,omitempty"`
}

type timelineEntryResponse struct {
	ID        uuid.UUID `json:"id"`
	Status    string    `json:"status"`
	Note      string    `json:"note"`
	ActorID   uuid.UUID `json:"actor_id"`
	ActorRole string    `json:"actor_role"`
	CreatedAt time.Time `json:"created_at"`
}

func toBookingResponse(b *models.Booking) bookingResponse {
	resp := bookingResponse{
		ID:            b.ID,
		BookingNumber: b.BookingNumber,
		CustomerID:    b.CustomerID,
		ProviderID:    b.ProviderID,
		ServiceID:     b.ServiceID,
		Service: serviceSnapshotResponse{
			Title:       b.Service.Title,
			Description: b.Service.Description,
			Category:    b.Service.Category,
		},
		ScheduledAt:     b.ScheduledAt,
		DurationMinutes: b.DurationMinutes,
		Status:          b.Status.String(),
		Location:        b.Location,
		EstimatedCost:   b.EstimatedCost,
		FinalCost:       b.FinalCost,
		Discount:        b.Discount,
		Taxes:           b.Taxes,
		TotalCost:       b.TotalCost(),
		Currency:        string(b.Currency),
		Payment: paymentProjectionResponse{
			Status:        b.Payment.Status.String(),
			TransactionID: b.Payment.TransactionID,
			PaidAt:        b.Payment.PaidAt,
			RefundedAt:    b.Payment.RefundedAt,
		},
		CancellationReason:  b.CancellationReason,
		CancelledBy:         b.CancelledBy,
		PreviousScheduledAt: b.PreviousScheduledAt,
		CreatedAt:           b.CreatedAt,
		UpdatedAt:           b.UpdatedAt,
	}
	if b.Payment.Method != nil {
		method := b.Payment.Method.String()
		resp.Payment.Method = &method
	}
	for _, entry := range b.Timeline {
		resp.Timeline = append(resp.Timeline, timelineEntryResponse{
			ID:        entry.ID,
			Status:    entry.Status.String(),
			Note:      entry.Note,
			ActorID:   entry.ActorID,
			ActorRole: entry.ActorRole.String(),
			CreatedAt: entry.CreatedAt,
		})
	}
	return resp
}

func toBookingResponses(bookings []models.Booking) []bookingResponse {
	out := make([]bookingResponse, 0, len(bookings))
	for i := range bookings {
		out = append(out, toBookingResponse(&bookings[i]))
	}
	return out
}

type paymentResponse struct {
	ID            uuid.UUID `json:"id"`
	PaymentNumber string    `json:"payment_number"`
	BookingID     uuid.UUID `json:"booking_id"`
	CustomerID    uuid.UUID `json:"customer_id"`
	ProviderID    uuid.UUID `json:"provider_id"`

	Gross         decimal.Decimal `json:"gross"`
	PlatformFee   decimal.Decimal `json:"platform_fee"`
	ProcessingFee decimal.Decimal `json:"processing_fee"`
	NetAmount     decimal.Decimal `json:"net_amount"`
	Currency      string          `json:"currency"`

	Method string `json:"method"`
	Status string `json:"status"`

	GatewayTransactionID *string `json:"gateway_transaction_id,omitempty"`

	InitiatedAt time.Time  `json:"initiated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	FailedAt    *time.Time `json:"failed_at,omitempty"`
	RefundedAt  *time.Time `json:"refunded_at,omitempty"`

	RefundedTotal     decimal.Decimal `json:"refunded_total"`
	RemainingBalance  decimal.Decimal `json:"remaining_balance"`
	RefundID          *string         `json:"refund_id,omitempty"`
	RefundReason      *string         `json:"refund_reason,omitempty"`
	RefundInitiatedBy *uuid.UUID      `json:"refund_initiated_by,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

func toPaymentResponse(p *models.Payment) paymentResponse {
	return paymentResponse{
		ID:                   p.ID,
		PaymentNumber:        p.PaymentNumber,
		BookingID:            p.BookingID,
		CustomerID:           p.CustomerID,
		ProviderID:           p.ProviderID,
		Gross:                p.Gross,
		PlatformFee:          p.PlatformFee,
		ProcessingFee:        p.ProcessingFee,
		NetAmount:            p.NetAmount,
		Currency:             string(p.Currency),
		Method:               p.Method.String(),
		Status:               p.Status.String(),
		GatewayTransactionID: p.GatewayTransactionID,
		InitiatedAt:          p.InitiatedAt,
		CompletedAt:          p.CompletedAt,
		FailedAt:             p.FailedAt,
		RefundedAt:           p.RefundedAt,
		RefundedTotal:        p.RefundedTotal,
		RemainingBalance:     p.RemainingBalance(),
		RefundID:             p.RefundID,
		RefundReason:         p.RefundReason,
		RefundInitiatedBy:    p.RefundInitiatedBy,
		CreatedAt:            p.CreatedAt,
	}
}

func toPaymentResponses(payments []models.Payment) []paymentResponse {
	out := make([]paymentResponse, 0, len(payments))
	for i := range payments {
		out = append(out, toPaymentResponse(&payments[i]))
	}
	return out
}

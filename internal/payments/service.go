package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/homerunhq/homerun-backend/internal/fees"
	"github.com/homerunhq/homerun-backend/pkg/db"
	"github.com/homerunhq/homerun-backend/pkg/db/models"
	"github.com/homerunhq/homerun-backend/pkg/enums"
	pkgerrors "github.com/homerunhq/homerun-backend/pkg/errors"
	"github.com/homerunhq/homerun-backend/pkg/logger"
)

// Service owns the payment ledger: creating entries, advancing gateway
// status, and refund bookkeeping. Every mutation is a single guarded UPDATE,
// so a lost optimistic race surfaces as CONFLICT instead of a double-apply.
type Service interface {
	WithTx(tx *gorm.DB) Service
	Create(ctx context.Context, input CreateInput) (*models.Payment, error)
	MarkProcessing(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	MarkCompleted(ctx context.Context, id uuid.UUID, gatewayTransactionID string, gatewayResponse json.RawMessage) (*models.Payment, error)
	MarkFailed(ctx context.Context, id uuid.UUID, gatewayTransactionID string, gatewayResponse json.RawMessage) (*models.Payment, error)
	Refund(ctx context.Context, input RefundInput) (*models.Payment, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	ListByBooking(ctx context.Context, bookingID uuid.UUID) ([]models.Payment, error)
}

// CreateInput captures everything a new ledger entry needs. Fees are
// computed here, once, so later stages never re-derive them.
type CreateInput struct {
	BookingID  uuid.UUID
	CustomerID uuid.UUID
	ProviderID uuid.UUID
	Amount     decimal.Decimal
	Currency   enums.Currency
	Method     enums.PaymentMethod
	Metadata   json.RawMessage
}

// RefundInput identifies the refund target and the audit fields. The gateway
// fields link the ledger refund to the processor's refund record.
type RefundInput struct {
	PaymentID       uuid.UUID
	Amount          decimal.Decimal
	Reason          string
	InitiatedBy     uuid.UUID
	GatewayRefundID string
	GatewayResponse json.RawMessage
}

type service struct {
	repo  Repository
	logg  *logger.Logger
	clock func() time.Time
}

// NewService wires a payments service with the provided repository.
func NewService(repo Repository, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("payments repository required")
	}
	return &service{repo: repo, logg: logg, clock: time.Now}, nil
}

func (s *service) WithTx(tx *gorm.DB) Service {
	if tx == nil {
		return s
	}
	return &service{repo: s.repo.WithTx(tx), logg: s.logg, clock: s.clock}
}

func (s *service) Create(ctx context.Context, input CreateInput) (*models.Payment, error) {
	if input.BookingID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "booking id required")
	}
	if input.CustomerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer id required")
	}
	if input.ProviderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "provider id required")
	}
	if !input.Method.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid payment method %q", input.Method))
	}
	currency := input.Currency
	if currency == "" {
		currency = enums.CurrencyUSD
	}
	if !currency.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid currency %q", currency))
	}

	breakdown, err := fees.Calculate(input.Amount)
	if err != nil {
		return nil, err
	}
	if breakdown.NetAmount.IsNegative() && s.logg != nil {
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
			"booking_id": input.BookingID.String(),
			"gross":      input.Amount.String(),
			"net":        breakdown.NetAmount.String(),
		}), "payment nets negative after fees")
	}

	now := s.clock()
	payment := &models.Payment{
		ID:            uuid.New(),
		PaymentNumber: newPaymentNumber(now),
		BookingID:     input.BookingID,
		CustomerID:    input.CustomerID,
		ProviderID:    input.ProviderID,
		Gross:         input.Amount.Round(2),
		PlatformFee:   breakdown.PlatformFee,
		ProcessingFee: breakdown.ProcessingFee,
		NetAmount:     breakdown.NetAmount,
		Currency:      currency,
		Method:        input.Method,
		Status:        enums.PaymentStatusPending,
		RefundedTotal: decimal.Zero,
		InitiatedAt:   now,
		Metadata:      input.Metadata,
	}

	if err := s.repo.Create(ctx, payment); err != nil {
		// The partial unique index backs up the coordinator's already-paid
		// check; losing to it is a conflict, not an outage.
		if db.IsUniqueViolation(err, "idx_payments_booking_active") {
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "booking already has an active payment")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payment")
	}
	return payment, nil
}

func (s *service) MarkProcessing(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	return s.advance(ctx, id, enums.PaymentStatusProcessing, map[string]any{
		"status": enums.PaymentStatusProcessing,
	})
}

func (s *service) MarkCompleted(ctx context.Context, id uuid.UUID, gatewayTransactionID string, gatewayResponse json.RawMessage) (*models.Payment, error) {
	now := s.clock()
	return s.advance(ctx, id, enums.PaymentStatusCompleted, map[string]any{
		"status":                 enums.PaymentStatusCompleted,
		"gateway_transaction_id": gatewayTransactionID,
		"gateway_response":       gatewayResponse,
		"completed_at":           now,
	})
}

// MarkFailed closes the attempt. A non-empty gatewayTransactionID means the
// processor did act before we failed the row, so keep the linkage.
func (s *service) MarkFailed(ctx context.Context, id uuid.UUID, gatewayTransactionID string, gatewayResponse json.RawMessage) (*models.Payment, error) {
	now := s.clock()
	updates := map[string]any{
		"status":           enums.PaymentStatusFailed,
		"gateway_response": gatewayResponse,
		"failed_at":        now,
	}
	if gatewayTransactionID != "" {
		updates["gateway_transaction_id"] = gatewayTransactionID
	}
	return s.advance(ctx, id, enums.PaymentStatusFailed, updates)
}

func (s *service) advance(ctx context.Context, id uuid.UUID, target enums.PaymentStatus, updates map[string]any) (*models.Payment, error) {
	payment, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := GuardTransition(payment.Status, target); err != nil {
		return nil, err
	}

	updated, err := s.repo.UpdateStatusGuarded(ctx, id, payment.Status, updates)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update payment status")
	}
	if !updated {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "payment modified concurrently")
	}
	return s.GetByID(ctx, id)
}

func (s *service) Refund(ctx context.Context, input RefundInput) (*models.Payment, error) {
	if input.InitiatedBy == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund initiator required")
	}
	if strings.TrimSpace(input.Reason) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund reason required")
	}
	if input.Amount.LessThanOrEqual(decimal.Zero) {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidAmount, "refund amount must be positive")
	}

	// Fresh read: the balance bound must be checked against current state,
	// and the guarded update re-asserts it at commit time.
	payment, err := s.GetByID(ctx, input.PaymentID)
	if err != nil {
		return nil, err
	}
	if payment.Status != enums.PaymentStatusCompleted && payment.Status != enums.PaymentStatusPartialRefund {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "payment is not refundable").
			WithDetails(map[string]any{"status": payment.Status.String()})
	}

	amount := input.Amount.Round(2)
	remaining := payment.RemainingBalance()
	if amount.GreaterThan(remaining) {
		return nil, pkgerrors.New(pkgerrors.CodeRefundExceeded, "refund exceeds remaining balance").
			WithDetails(map[string]any{
				"requested": amount.String(),
				"remaining": remaining.String(),
			})
	}

	newTotal := payment.RefundedTotal.Add(amount)
	target := enums.PaymentStatusPartialRefund
	if newTotal.Equal(payment.Gross) {
		target = enums.PaymentStatusRefunded
	}
	if err := GuardTransition(payment.Status, target); err != nil {
		return nil, err
	}

	now := s.clock()
	updates := map[string]any{
		"status":              target,
		"refunded_total":      newTotal,
		"refund_id":           newRefundID(now),
		"refund_reason":       input.Reason,
		"refund_initiated_by": input.InitiatedBy,
		"refunded_at":         now,
	}
	if input.GatewayRefundID != "" {
		updates["gateway_refund_id"] = input.GatewayRefundID
	}
	if len(input.GatewayResponse) > 0 {
		updates["refund_gateway_response"] = input.GatewayResponse
	}

	updated, err := s.repo.ApplyRefundGuarded(ctx, input.PaymentID, payment.Status, payment.RefundedTotal, updates)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "apply refund")
	}
	if !updated {
		// A concurrent refund moved the balance; the caller must re-read and
		// decide, never retry blindly.
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "payment refunded concurrently")
	}
	return s.GetByID(ctx, input.PaymentID)
}

func (s *service) GetByID(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id required")
	}
	payment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}
	return payment, nil
}

func (s *service) ListByBooking(ctx context.Context, bookingID uuid.UUID) ([]models.Payment, error) {
	if bookingID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "booking id required")
	}
	payments, err := s.repo.ListByBookingID(ctx, bookingID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list payments")
	}
	return payments, nil
}

func newPaymentNumber(now time.Time) string {
	return fmt.Sprintf("PAY-%s-%s", now.UTC().Format("20060102"), shortID())
}

func newRefundID(now time.Time) string {
	return fmt.Sprintf("REF-%s-%s", now.UTC().Format("20060102"), shortID())
}

func shortID() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

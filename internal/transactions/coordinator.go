package transactions

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/homerunhq/homerun-backend/internal/bookings"
	"github.com/homerunhq/homerun-backend/internal/payments"
	"github.com/homerunhq/homerun-backend/pkg/db/models"
	"github.com/homerunhq/homerun-backend/pkg/enums"
	pkgerrors "github.com/homerunhq/homerun-backend/pkg/errors"
	"github.com/homerunhq/homerun-backend/pkg/logger"
	"github.com/homerunhq/homerun-backend/pkg/metrics"
)

const defaultGatewayTimeout = 15 * time.Second

// TxRunner executes a function inside one database transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Coordinator orchestrates payment and refund flows across the booking and
// payment aggregates. The gateway call happens outside the database
// transaction; reconciliation of both aggregates happens inside it.
type Coordinator interface {
	ProcessPayment(ctx context.Context, input ProcessPaymentInput) (*PaymentResult, error)
	ProcessRefund(ctx context.Context, input ProcessRefundInput) (*RefundResult, error)
}

// ProcessPaymentInput identifies the booking to charge and who is asking.
// Amount is what the caller expects to pay; the booking total is the source
// of truth and a mismatch is rejected before anything is written.
type ProcessPaymentInput struct {
	BookingID   uuid.UUID
	RequesterID uuid.UUID
	Amount      decimal.Decimal
	Method      enums.PaymentMethod
	SourceToken string
	Metadata    json.RawMessage
}

// PaymentResult carries both aggregates after a successful charge.
type PaymentResult struct {
	Payment *models.Payment
	Booking *models.Booking
}

// ProcessRefundInput identifies the refund target and the audit fields.
type ProcessRefundInput struct {
	PaymentID   uuid.UUID
	RequesterID uuid.UUID
	Amount      decimal.Decimal
	Reason      string
}

// RefundResult reports the refund outcome.
type RefundResult struct {
	Payment       *models.Payment
	RefundID      string
	Amount        decimal.Decimal
	FullyRefunded bool
}

type coordinator struct {
	paymentsSvc payments.Service
	bookingsSvc bookings.Service
	gateway     Gateway
	locker      Locker
	tx          TxRunner
	met         *metrics.TransactionMetrics
	logg        *logger.Logger

	gatewayTimeout time.Duration
	clock          func() time.Time
}

// NewCoordinator wires the transaction coordinator.
func NewCoordinator(
	paymentsSvc payments.Service,
	bookingsSvc bookings.Service,
	gateway Gateway,
	locker Locker,
	tx TxRunner,
	met *metrics.TransactionMetrics,
	logg *logger.Logger,
	gatewayTimeout time.Duration,
) (Coordinator, error) {
	if paymentsSvc == nil {
		return nil, fmt.Errorf("payments service required")
	}
	if bookingsSvc == nil {
		return nil, fmt.Errorf("bookings service required")
	}
	if gateway == nil {
		return nil, fmt.Errorf("gateway required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if gatewayTimeout <= 0 {
		gatewayTimeout = defaultGatewayTimeout
	}
	return &coordinator{
		paymentsSvc:    paymentsSvc,
		bookingsSvc:    bookingsSvc,
		gateway:        gateway,
		locker:         locker,
		tx:             tx,
		met:            met,
		logg:           logg,
		gatewayTimeout: gatewayTimeout,
		clock:          time.Now,
	}, nil
}

func (c *coordinator) ProcessPayment(ctx context.Context, input ProcessPaymentInput) (*PaymentResult, error) {
	release, err := c.lock(ctx, input.BookingID)
	if err != nil {
		return nil, err
	}
	defer release()

	booking, err := c.bookingsSvc.GetByID(ctx, input.BookingID)
	if err != nil {
		return nil, err
	}
	if booking.CustomerID != input.RequesterID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only the booking's customer may pay")
	}
	// The already-paid check must precede the gateway call: a double submit
	// never reaches the processor.
	if booking.Payment.Status == enums.PaymentStatusCompleted {
		c.met.IncPayment("already_completed")
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "payment already completed")
	}
	switch booking.Status {
	case enums.BookingStatusCancelled, enums.BookingStatusNoShow, enums.BookingStatusRescheduled:
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "booking is not payable").
			WithDetails(map[string]any{"status": booking.Status.String()})
	}

	amount := booking.TotalCost()
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidAmount, "booking total is not chargeable")
	}
	if !input.Amount.Round(2).Equal(amount) {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidAmount, "amount does not match booking total").
			WithDetails(map[string]any{
				"requested":     input.Amount.String(),
				"booking_total": amount.String(),
			})
	}

	payment, err := c.paymentsSvc.Create(ctx, payments.CreateInput{
		BookingID:  booking.ID,
		CustomerID: booking.CustomerID,
		ProviderID: booking.ProviderID,
		Amount:     amount,
		Currency:   booking.Currency,
		Method:     input.Method,
		Metadata:   input.Metadata,
	})
	if err != nil {
		return nil, err
	}

	// processing while the gateway call is in flight, so concurrent readers
	// can tell "in flight" from "not yet attempted".
	if payment, err = c.paymentsSvc.MarkProcessing(ctx, payment.ID); err != nil {
		return nil, err
	}

	charge, gatewayErr := c.charge(ctx, ChargeInput{
		Amount:         amount,
		Currency:       booking.Currency,
		Method:         input.Method,
		SourceToken:    input.SourceToken,
		IdempotencyKey: payment.PaymentNumber,
	})
	if gatewayErr != nil {
		c.met.IncPayment("failed")
		if _, failErr := c.paymentsSvc.MarkFailed(ctx, payment.ID, "", rawError(gatewayErr)); failErr != nil && c.logg != nil {
			c.logg.Error(c.logg.WithPaymentID(ctx, payment.ID.String()), "recording gateway failure", failErr)
		}
		return nil, gatewayErr
	}

	paidAt := c.clock()
	var completed *models.Payment
	txErr := c.tx.WithTx(ctx, func(tx *gorm.DB) error {
		bookingsTx := c.bookingsSvc.WithTx(tx)

		// Fresh read immediately before commit: the second of two racing
		// completions must lose here, not double-charge.
		current, err := bookingsTx.GetByID(ctx, booking.ID)
		if err != nil {
			return err
		}
		if current.Payment.Status == enums.PaymentStatusCompleted {
			return pkgerrors.New(pkgerrors.CodeConflict, "payment already completed")
		}

		completed, err = c.paymentsSvc.WithTx(tx).MarkCompleted(ctx, payment.ID, charge.TransactionID, charge.Raw)
		if err != nil {
			return err
		}
		return bookingsTx.RecordPaymentCompleted(ctx, booking.ID, input.Method, charge.TransactionID, paidAt)
	})
	if txErr != nil {
		// The processor charged but our booking write lost. Fail the attempt
		// keeping the charge's transaction id and raw response on the row, so
		// reconciliation can find the money.
		c.met.IncPayment("conflict")
		if _, failErr := c.paymentsSvc.MarkFailed(ctx, payment.ID, charge.TransactionID, rawWithCharge(txErr, charge.Raw)); failErr != nil && c.logg != nil {
			c.logg.Error(c.logg.WithPaymentID(ctx, payment.ID.String()), "recording lost completion race", failErr)
		}
		return nil, txErr
	}

	c.met.IncPayment("completed")
	fresh, err := c.bookingsSvc.GetByID(ctx, booking.ID)
	if err != nil {
		return nil, err
	}
	return &PaymentResult{Payment: completed, Booking: fresh}, nil
}

func (c *coordinator) ProcessRefund(ctx context.Context, input ProcessRefundInput) (*RefundResult, error) {
	payment, err := c.paymentsSvc.GetByID(ctx, input.PaymentID)
	if err != nil {
		return nil, err
	}
	if input.RequesterID != payment.CustomerID && input.RequesterID != payment.ProviderID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "requester is not a party to this payment")
	}

	release, err := c.lock(ctx, payment.BookingID)
	if err != nil {
		return nil, err
	}
	defer release()

	// Cheap rejections before any gateway traffic.
	if payment.Status != enums.PaymentStatusCompleted && payment.Status != enums.PaymentStatusPartialRefund {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "payment is not refundable").
			WithDetails(map[string]any{"status": payment.Status.String()})
	}
	if input.Amount.LessThanOrEqual(decimal.Zero) {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidAmount, "refund amount must be positive")
	}
	amount := input.Amount.Round(2)
	if remaining := payment.RemainingBalance(); amount.GreaterThan(remaining) {
		return nil, pkgerrors.New(pkgerrors.CodeRefundExceeded, "refund exceeds remaining balance").
			WithDetails(map[string]any{
				"requested": amount.String(),
				"remaining": remaining.String(),
			})
	}
	if payment.GatewayTransactionID == nil {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "payment has no gateway transaction to reverse")
	}

	gatewayRefund, gatewayErr := c.refund(ctx, GatewayRefundInput{
		TransactionID:  *payment.GatewayTransactionID,
		Amount:         amount,
		Currency:       payment.Currency,
		Reason:         input.Reason,
		IdempotencyKey: fmt.Sprintf("%s:%s", payment.PaymentNumber, amount),
	})
	if gatewayErr != nil {
		c.met.IncRefund("failed")
		return nil, gatewayErr
	}

	actor := bookings.Actor{ID: input.RequesterID, Role: enums.ActorRoleCustomer}
	if input.RequesterID == payment.ProviderID {
		actor.Role = enums.ActorRoleProvider
	}

	var refunded *models.Payment
	txErr := c.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		refunded, err = c.paymentsSvc.WithTx(tx).Refund(ctx, payments.RefundInput{
			PaymentID:       payment.ID,
			Amount:          amount,
			Reason:          input.Reason,
			InitiatedBy:     input.RequesterID,
			GatewayRefundID: gatewayRefund.RefundID,
			GatewayResponse: gatewayRefund.Raw,
		})
		if err != nil {
			return err
		}
		fully := refunded.Status == enums.PaymentStatusRefunded
		note := strings.TrimSpace(input.Reason)
		return c.bookingsSvc.WithTx(tx).RecordRefund(ctx, payment.BookingID, fully, note, actor)
	})
	if txErr != nil {
		c.met.IncRefund("conflict")
		return nil, txErr
	}

	c.met.IncRefund("completed")
	result := &RefundResult{
		Payment:       refunded,
		Amount:        amount,
		FullyRefunded: refunded.Status == enums.PaymentStatusRefunded,
	}
	if refunded.RefundID != nil {
		result.RefundID = *refunded.RefundID
	}
	return result, nil
}

func (c *coordinator) charge(ctx context.Context, input ChargeInput) (*ChargeResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.gatewayTimeout)
	defer cancel()

	started := c.clock()
	result, err := c.gateway.Charge(callCtx, input)
	c.met.ObserveGateway("charge", time.Since(started))
	if err != nil {
		return nil, gatewayError(err, "charge")
	}
	return result, nil
}

func (c *coordinator) refund(ctx context.Context, input GatewayRefundInput) (*GatewayRefundResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.gatewayTimeout)
	defer cancel()

	started := c.clock()
	result, err := c.gateway.RefundPayment(callCtx, input)
	c.met.ObserveGateway("refund", time.Since(started))
	if err != nil {
		return nil, gatewayError(err, "refund")
	}
	return result, nil
}

func (c *coordinator) lock(ctx context.Context, bookingID uuid.UUID) (func(), error) {
	if c.locker == nil {
		return func() {}, nil
	}
	release, err := c.locker.Acquire(ctx, bookingID)
	if err != nil {
		if err == ErrLockHeld {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "another request holds this booking")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "acquire booking lock")
	}
	return release, nil
}

func gatewayError(err error, operation string) error {
	if pkgerrors.HasCode(err, pkgerrors.CodeGateway) {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeGateway, err, fmt.Sprintf("gateway %s failed", operation))
}

func rawError(err error) json.RawMessage {
	payload, marshalErr := json.Marshal(map[string]string{"error": err.Error()})
	if marshalErr != nil {
		return nil
	}
	return payload
}

// rawWithCharge keeps the processor's own response next to the error that
// sank the attempt on our side.
func rawWithCharge(err error, gatewayRaw json.RawMessage) json.RawMessage {
	body := map[string]any{"error": err.Error()}
	if len(gatewayRaw) > 0 {
		body["gateway_response"] = gatewayRaw
	}
	payload, marshalErr := json.Marshal(body)
	if marshalErr != nil {
		return gatewayRaw
	}
	return payload
}

package transactions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/homerunhq/homerun-backend/internal/bookings"
	"github.com/homerunhq/homerun-backend/internal/payments"
	"github.com/homerunhq/homerun-backend/pkg/config"
	"github.com/homerunhq/homerun-backend/pkg/db/models"
	"github.com/homerunhq/homerun-backend/pkg/enums"
	pkgerrors "github.com/homerunhq/homerun-backend/pkg/errors"
	"github.com/homerunhq/homerun-backend/pkg/metrics"
)

type fakeGateway struct {
	chargeCalls int
	refundCalls int
	chargeErr   error
	refundErr   error
}

func (f *fakeGateway) Charge(ctx context.Context, input ChargeInput) (*ChargeResult, error) {
	f.chargeCalls++
	if f.chargeErr != nil {
		return nil, f.chargeErr
	}
	return &ChargeResult{
		TransactionID: "txn-" + uuid.NewString()[:8],
		Raw:           json.RawMessage(`{"status":"COMPLETED"}`),
	}, nil
}

func (f *fakeGateway) RefundPayment(ctx context.Context, input GatewayRefundInput) (*GatewayRefundResult, error) {
	f.refundCalls++
	if f.refundErr != nil {
		return nil, f.refundErr
	}
	return &GatewayRefundResult{
		RefundID: "gwref-" + uuid.NewString()[:8],
		Raw:      json.RawMessage(`{"status":"COMPLETED"}`),
	}, nil
}

type gormTxRunner struct {
	db *gorm.DB
}

func (r *gormTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

// racingGateway completes the booking behind the coordinator's back while
// the charge is in flight, so the commit-time re-check must lose.
type racingGateway struct {
	bookingsSvc bookings.Service
	bookingID   uuid.UUID
	txnID       string
}

func (g *racingGateway) Charge(ctx context.Context, input ChargeInput) (*ChargeResult, error) {
	if err := g.bookingsSvc.RecordPaymentCompleted(ctx, g.bookingID, enums.PaymentMethodCard, "txn-racer", time.Now()); err != nil {
		return nil, err
	}
	return &ChargeResult{
		TransactionID: g.txnID,
		Raw:           json.RawMessage(fmt.Sprintf(`{"status":"COMPLETED","id":%q}`, g.txnID)),
	}, nil
}

func (g *racingGateway) RefundPayment(ctx context.Context, input GatewayRefundInput) (*GatewayRefundResult, error) {
	return nil, errors.New("refund not expected")
}

type heldLocker struct{}

func (heldLocker) Acquire(ctx context.Context, bookingID uuid.UUID) (func(), error) {
	return nil, ErrLockHeld
}

func setupCoordinatorTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	stmts := []string{`
CREATE TABLE IF NOT EXISTS bookings (
  id TEXT PRIMARY KEY,
  booking_number TEXT NOT NULL UNIQUE,
  customer_id TEXT NOT NULL,
  provider_id TEXT NOT NULL,
  service_id TEXT NOT NULL,
  service_title TEXT NOT NULL,
  service_description TEXT NOT NULL DEFAULT '',
  service_category TEXT NOT NULL,
  scheduled_at DATETIME NOT NULL,
  duration_minutes INTEGER NOT NULL DEFAULT 60,
  status TEXT NOT NULL DEFAULT 'pending',
  location TEXT,
  estimated_cost TEXT NOT NULL,
  final_cost TEXT,
  discount TEXT NOT NULL DEFAULT '0',
  taxes TEXT NOT NULL DEFAULT '0',
  currency TEXT NOT NULL DEFAULT 'USD',
  payment_method TEXT,
  payment_status TEXT NOT NULL DEFAULT 'unpaid',
  payment_transaction_id TEXT,
  payment_paid_at DATETIME,
  payment_refunded_at DATETIME,
  cancellation_reason TEXT,
  cancelled_by TEXT,
  previous_scheduled_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`, `
CREATE TABLE IF NOT EXISTS booking_timeline_entries (
  id TEXT PRIMARY KEY,
  booking_id TEXT NOT NULL,
  status TEXT NOT NULL,
  note TEXT NOT NULL,
  actor_id TEXT NOT NULL,
  actor_role TEXT NOT NULL DEFAULT 'system',
  created_at DATETIME NOT NULL
);`, `
CREATE TABLE IF NOT EXISTS payments (
  id TEXT PRIMARY KEY,
  payment_number TEXT NOT NULL UNIQUE,
  booking_id TEXT NOT NULL,
  customer_id TEXT NOT NULL,
  provider_id TEXT NOT NULL,
  gross TEXT NOT NULL,
  platform_fee TEXT NOT NULL,
  processing_fee TEXT NOT NULL,
  net_amount TEXT NOT NULL,
  currency TEXT NOT NULL DEFAULT 'USD',
  method TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  gateway_transaction_id TEXT,
  gateway_response TEXT,
  initiated_at DATETIME NOT NULL,
  completed_at DATETIME,
  failed_at DATETIME,
  refunded_at DATETIME,
  refunded_total TEXT NOT NULL DEFAULT '0',
  refund_id TEXT,
  refund_reason TEXT,
  refund_initiated_by TEXT,
  gateway_refund_id TEXT,
  refund_gateway_response TEXT,
  metadata TEXT,
  created_at DATETIME,
  updated_at DATETIME
);`}
	for _, stmt := range stmts {
		require.NoError(t, db.Exec(stmt).Error)
	}
	return db
}

type coordinatorFixture struct {
	coord       Coordinator
	gateway     *fakeGateway
	bookingsSvc bookings.Service
	paymentsSvc payments.Service
	db          *gorm.DB
}

func setupCoordinator(t *testing.T, gateway *fakeGateway, locker Locker) *coordinatorFixture {
	t.Helper()

	db := setupCoordinatorTestDB(t)
	paymentsSvc, err := payments.NewService(payments.NewRepository(db), nil)
	require.NoError(t, err)
	bookingsSvc, err := bookings.NewService(bookings.NewRepository(db), &gormTxRunner{db: db}, config.BookingConfig{}, nil)
	require.NoError(t, err)

	coord, err := NewCoordinator(
		paymentsSvc,
		bookingsSvc,
		gateway,
		locker,
		&gormTxRunner{db: db},
		metrics.NewTransactionMetrics(nil),
		nil,
		time.Second,
	)
	require.NoError(t, err)
	return &coordinatorFixture{
		coord:       coord,
		gateway:     gateway,
		bookingsSvc: bookingsSvc,
		paymentsSvc: paymentsSvc,
		db:          db,
	}
}

func newPayableBooking(t *testing.T, fx *coordinatorFixture) *models.Booking {
	t.Helper()

	booking, err := fx.bookingsSvc.Create(context.Background(), bookings.CreateInput{
		CustomerID:    uuid.New(),
		ProviderID:    uuid.New(),
		ServiceID:     uuid.New(),
		Service:       models.ServiceSnapshot{Title: "Drain Repair", Category: "plumbing"},
		ScheduledAt:   time.Now().Add(96 * time.Hour),
		EstimatedCost: decimal.RequireFromString("100.00"),
	})
	require.NoError(t, err)
	return booking
}

func TestProcessPaymentHappyPath(t *testing.T) {
	fx := setupCoordinator(t, &fakeGateway{}, nil)
	booking := newPayableBooking(t, fx)

	result, err := fx.coord.ProcessPayment(context.Background(), ProcessPaymentInput{
		BookingID:   booking.ID,
		RequesterID: booking.CustomerID,
		Amount:      decimal.RequireFromString("100.00"),
		Method:      enums.PaymentMethodCard,
	})
	require.NoError(t, err)

	assert.Equal(t, enums.PaymentStatusCompleted, result.Payment.Status)
	assert.True(t, result.Payment.Gross.Equal(decimal.RequireFromString("100.00")))
	assert.True(t, result.Payment.PlatformFee.Equal(decimal.RequireFromString("5.00")))
	assert.True(t, result.Payment.NetAmount.Equal(decimal.RequireFromString("91.80")))
	require.NotNil(t, result.Payment.GatewayTransactionID)

	assert.Equal(t, enums.PaymentStatusCompleted, result.Booking.Payment.Status)
	require.NotNil(t, result.Booking.Payment.TransactionID)
	assert.Equal(t, *result.Payment.GatewayTransactionID, *result.Booking.Payment.TransactionID)
	require.NotNil(t, result.Booking.Payment.PaidAt)

	latest := result.Booking.LatestTimelineEntry()
	require.NotNil(t, latest)
	assert.Equal(t, enums.TimelineStatusPaymentCompleted, latest.Status)

	assert.Equal(t, 1, fx.gateway.chargeCalls)
}

func TestProcessPaymentAlreadyCompletedSkipsGateway(t *testing.T) {
	fx := setupCoordinator(t, &fakeGateway{}, nil)
	booking := newPayableBooking(t, fx)

	_, err := fx.coord.ProcessPayment(context.Background(), ProcessPaymentInput{
		BookingID:   booking.ID,
		RequesterID: booking.CustomerID,
		Amount:      decimal.RequireFromString("100.00"),
		Method:      enums.PaymentMethodCard,
	})
	require.NoError(t, err)
	require.Equal(t, 1, fx.gateway.chargeCalls)

	_, err = fx.coord.ProcessPayment(context.Background(), ProcessPaymentInput{
		BookingID:   booking.ID,
		RequesterID: booking.CustomerID,
		Amount:      decimal.RequireFromString("100.00"),
		Method:      enums.PaymentMethodCard,
	})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeConflict))
	// The double submit never reaches the processor.
	assert.Equal(t, 1, fx.gateway.chargeCalls)

	// And no second completed payment exists.
	list, err := fx.paymentsSvc.ListByBooking(context.Background(), booking.ID)
	require.NoError(t, err)
	completed := 0
	for _, p := range list {
		if p.Status == enums.PaymentStatusCompleted {
			completed++
		}
	}
	assert.Equal(t, 1, completed)
}

func TestProcessPaymentGatewayFailureLeavesBookingUntouched(t *testing.T) {
	fx := setupCoordinator(t, &fakeGateway{chargeErr: errors.New("card declined")}, nil)
	booking := newPayableBooking(t, fx)

	_, err := fx.coord.ProcessPayment(context.Background(), ProcessPaymentInput{
		BookingID:   booking.ID,
		RequesterID: booking.CustomerID,
		Amount:      decimal.RequireFromString("100.00"),
		Method:      enums.PaymentMethodCard,
	})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeGateway))

	// Failed attempt is retained for audit.
	list, err := fx.paymentsSvc.ListByBooking(context.Background(), booking.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, enums.PaymentStatusFailed, list[0].Status)
	require.NotNil(t, list[0].FailedAt)

	// Booking projection is exactly as before the call.
	fresh, err := fx.bookingsSvc.GetByID(context.Background(), booking.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusUnpaid, fresh.Payment.Status)
	assert.Nil(t, fresh.Payment.TransactionID)
	latest := fresh.LatestTimelineEntry()
	require.NotNil(t, latest)
	assert.Equal(t, enums.TimelineStatusPending, latest.Status)

	// A retry after the failure opens a new attempt and succeeds.
	fx.gateway.chargeErr = nil
	result, err := fx.coord.ProcessPayment(context.Background(), ProcessPaymentInput{
		BookingID:   booking.ID,
		RequesterID: booking.CustomerID,
		Amount:      decimal.RequireFromString("100.00"),
		Method:      enums.PaymentMethodCard,
	})
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusCompleted, result.Payment.Status)
}

func TestProcessPaymentAmountMismatch(t *testing.T) {
	fx := setupCoordinator(t, &fakeGateway{}, nil)
	booking := newPayableBooking(t, fx)

	_, err := fx.coord.ProcessPayment(context.Background(), ProcessPaymentInput{
		BookingID:   booking.ID,
		RequesterID: booking.CustomerID,
		Amount:      decimal.RequireFromString("90.00"),
		Method:      enums.PaymentMethodCard,
	})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInvalidAmount))

	// Nothing reached the processor and no ledger entry was opened.
	assert.Equal(t, 0, fx.gateway.chargeCalls)
	list, err := fx.paymentsSvc.ListByBooking(context.Background(), booking.ID)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestProcessPaymentLostRaceKeepsChargeEvidence(t *testing.T) {
	fx := setupCoordinator(t, &fakeGateway{}, nil)
	booking := newPayableBooking(t, fx)

	racing := &racingGateway{
		bookingsSvc: fx.bookingsSvc,
		bookingID:   booking.ID,
		txnID:       "txn-late-winner",
	}
	coord, err := NewCoordinator(
		fx.paymentsSvc,
		fx.bookingsSvc,
		racing,
		nil,
		&gormTxRunner{db: fx.db},
		metrics.NewTransactionMetrics(nil),
		nil,
		time.Second,
	)
	require.NoError(t, err)

	_, err = coord.ProcessPayment(context.Background(), ProcessPaymentInput{
		BookingID:   booking.ID,
		RequesterID: booking.CustomerID,
		Amount:      decimal.RequireFromString("100.00"),
		Method:      enums.PaymentMethodCard,
	})
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeConflict))

	// The lost attempt still carries the processor's transaction id and raw
	// response so the charged money can be traced.
	list, err := fx.paymentsSvc.ListByBooking(context.Background(), booking.ID)
	require.NoError(t, err)
	var failed *models.Payment
	for i := range list {
		if list[i].Status == enums.PaymentStatusFailed {
			failed = &list[i]
		}
	}
	require.NotNil(t, failed)
	require.NotNil(t, failed.GatewayTransactionID)
	assert.Equal(t, "txn-late-winner", *failed.GatewayTransactionID)
	assert.Contains(t, string(failed.GatewayResponse), "txn-late-winner")
}

func TestProcessPaymentAuthorization(t *testing.T) {
	fx := setupCoordinator(t, &fakeGateway{}, nil)
	booking := newPayableBooking(t, fx)

	_, err := fx.coord.ProcessPayment(context.Background(), ProcessPaymentInput{
		BookingID:   booking.ID,
		RequesterID: uuid.New(),
		Amount:      decimal.RequireFromString("100.00"),
		Method:      enums.PaymentMethodCard,
	})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeForbidden))
	assert.Equal(t, 0, fx.gateway.chargeCalls)
}

func TestProcessPaymentLockHeld(t *testing.T) {
	fx := setupCoordinator(t, &fakeGateway{}, heldLocker{})
	booking := newPayableBooking(t, fx)

	_, err := fx.coord.ProcessPayment(context.Background(), ProcessPaymentInput{
		BookingID:   booking.ID,
		RequesterID: booking.CustomerID,
		Amount:      decimal.RequireFromString("100.00"),
		Method:      enums.PaymentMethodCard,
	})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeConflict))
	assert.Equal(t, 0, fx.gateway.chargeCalls)
}

func TestProcessRefundFlow(t *testing.T) {
	fx := setupCoordinator(t, &fakeGateway{}, nil)
	booking := newPayableBooking(t, fx)

	paid, err := fx.coord.ProcessPayment(context.Background(), ProcessPaymentInput{
		BookingID:   booking.ID,
		RequesterID: booking.CustomerID,
		Amount:      decimal.RequireFromString("100.00"),
		Method:      enums.PaymentMethodCard,
	})
	require.NoError(t, err)

	partial, err := fx.coord.ProcessRefund(context.Background(), ProcessRefundInput{
		PaymentID:   paid.Payment.ID,
		RequesterID: booking.CustomerID,
		Amount:      decimal.RequireFromString("40.00"),
		Reason:      "late arrival credit",
	})
	require.NoError(t, err)
	assert.False(t, partial.FullyRefunded)
	assert.Equal(t, enums.PaymentStatusPartialRefund, partial.Payment.Status)
	assert.NotEmpty(t, partial.RefundID)
	// The processor's refund record stays linked to the ledger entry.
	require.NotNil(t, partial.Payment.GatewayRefundID)
	assert.True(t, strings.HasPrefix(*partial.Payment.GatewayRefundID, "gwref-"))
	assert.NotEmpty(t, partial.Payment.RefundGatewayResponse)

	// Remaining balance is 60; 70 is rejected before the gateway.
	refundCallsBefore := fx.gateway.refundCalls
	_, err = fx.coord.ProcessRefund(context.Background(), ProcessRefundInput{
		PaymentID:   paid.Payment.ID,
		RequesterID: booking.CustomerID,
		Amount:      decimal.RequireFromString("70.00"),
		Reason:      "too much",
	})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeRefundExceeded))
	assert.Equal(t, refundCallsBefore, fx.gateway.refundCalls)

	full, err := fx.coord.ProcessRefund(context.Background(), ProcessRefundInput{
		PaymentID:   paid.Payment.ID,
		RequesterID: booking.ProviderID,
		Amount:      decimal.RequireFromString("60.00"),
		Reason:      "service not delivered",
	})
	require.NoError(t, err)
	assert.True(t, full.FullyRefunded)
	assert.Equal(t, enums.PaymentStatusRefunded, full.Payment.Status)

	fresh, err := fx.bookingsSvc.GetByID(context.Background(), booking.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusRefunded, fresh.Payment.Status)
	latest := fresh.LatestTimelineEntry()
	require.NotNil(t, latest)
	assert.Equal(t, enums.TimelineStatusRefunded, latest.Status)
	assert.Equal(t, enums.ActorRoleProvider, latest.ActorRole)
}

func TestProcessRefundAuthorization(t *testing.T) {
	fx := setupCoordinator(t, &fakeGateway{}, nil)
	booking := newPayableBooking(t, fx)

	paid, err := fx.coord.ProcessPayment(context.Background(), ProcessPaymentInput{
		BookingID:   booking.ID,
		RequesterID: booking.CustomerID,
		Amount:      decimal.RequireFromString("100.00"),
		Method:      enums.PaymentMethodCard,
	})
	require.NoError(t, err)

	_, err = fx.coord.ProcessRefund(context.Background(), ProcessRefundInput{
		PaymentID:   paid.Payment.ID,
		RequesterID: uuid.New(),
		Amount:      decimal.RequireFromString("10.00"),
		Reason:      "not mine",
	})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeForbidden))
	assert.Equal(t, 0, fx.gateway.refundCalls)
}

func TestProcessRefundGatewayFailureLeavesPaymentUntouched(t *testing.T) {
	fx := setupCoordinator(t, &fakeGateway{}, nil)
	booking := newPayableBooking(t, fx)

	paid, err := fx.coord.ProcessPayment(context.Background(), ProcessPaymentInput{
		BookingID:   booking.ID,
		RequesterID: booking.CustomerID,
		Amount:      decimal.RequireFromString("100.00"),
		Method:      enums.PaymentMethodCard,
	})
	require.NoError(t, err)

	fx.gateway.refundErr = errors.New("processor unavailable")
	_, err = fx.coord.ProcessRefund(context.Background(), ProcessRefundInput{
		PaymentID:   paid.Payment.ID,
		RequesterID: booking.CustomerID,
		Amount:      decimal.RequireFromString("25.00"),
		Reason:      "damaged sink",
	})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeGateway))

	fresh, err := fx.paymentsSvc.GetByID(context.Background(), paid.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusCompleted, fresh.Status)
	assert.True(t, fresh.RefundedTotal.IsZero())
}

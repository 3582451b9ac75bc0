package payments

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/homerunhq/homerun-backend/pkg/db/models"
	"github.com/homerunhq/homerun-backend/pkg/enums"
)

func setupPaymentsTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	payments := `
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
);`
	require.NoError(t, db.Exec(payments).Error)
	return db
}

func seedPayment(t *testing.T, db *gorm.DB, status enums.PaymentStatus, created time.Time) *models.Payment {
	t.Helper()

	payment := &models.Payment{
		ID:            uuid.New(),
		PaymentNumber: "PAY-20260115-" + uuid.NewString()[:8],
		BookingID:     uuid.New(),
		CustomerID:    uuid.New(),
		ProviderID:    uuid.New(),
		Gross:         decimal.RequireFromString("100.00"),
		PlatformFee:   decimal.RequireFromString("5.00"),
		ProcessingFee: decimal.RequireFromString("3.20"),
		NetAmount:     decimal.RequireFromString("91.80"),
		Currency:      enums.CurrencyUSD,
		Method:        enums.PaymentMethodCard,
		Status:        status,
		RefundedTotal: decimal.Zero,
		InitiatedAt:   created,
		CreatedAt:     created,
		UpdatedAt:     created,
	}
	require.NoError(t, db.Create(payment).Error)
	return payment
}

func TestRepositoryUpdateStatusGuarded(t *testing.T) {
	db := setupPaymentsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	payment := seedPayment(t, db, enums.PaymentStatusPending, time.Now())

	updated, err := repo.UpdateStatusGuarded(ctx, payment.ID, enums.PaymentStatusPending, map[string]any{
		"status": enums.PaymentStatusProcessing,
	})
	require.NoError(t, err)
	assert.True(t, updated)

	got, err := repo.FindByID(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusProcessing, got.Status)

	// Stale expectation loses the race and touches nothing.
	updated, err = repo.UpdateStatusGuarded(ctx, payment.ID, enums.PaymentStatusPending, map[string]any{
		"status": enums.PaymentStatusFailed,
	})
	require.NoError(t, err)
	assert.False(t, updated)

	got, err = repo.FindByID(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusProcessing, got.Status)
}

func TestRepositoryApplyRefundGuarded(t *testing.T) {
	db := setupPaymentsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	payment := seedPayment(t, db, enums.PaymentStatusCompleted, time.Now())

	updated, err := repo.ApplyRefundGuarded(ctx, payment.ID, enums.PaymentStatusCompleted, decimal.Zero, map[string]any{
		"status":         enums.PaymentStatusPartialRefund,
		"refunded_total": decimal.RequireFromString("40.00"),
	})
	require.NoError(t, err)
	assert.True(t, updated)

	got, err := repo.FindByID(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusPartialRefund, got.Status)
	assert.True(t, got.RefundedTotal.Equal(decimal.RequireFromString("40.00")))

	// A writer holding the old refunded_total must not win.
	updated, err = repo.ApplyRefundGuarded(ctx, payment.ID, enums.PaymentStatusPartialRefund, decimal.Zero, map[string]any{
		"status":         enums.PaymentStatusRefunded,
		"refunded_total": decimal.RequireFromString("100.00"),
	})
	require.NoError(t, err)
	assert.False(t, updated)

	got, err = repo.FindByID(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusPartialRefund, got.Status)
}

func TestRepositoryFindActiveByBookingID(t *testing.T) {
	db := setupPaymentsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	failed := seedPayment(t, db, enums.PaymentStatusFailed, base)
	retry := seedPayment(t, db, enums.PaymentStatusCompleted, base.Add(time.Minute))
	retry.BookingID = failed.BookingID
	require.NoError(t, db.Save(retry).Error)

	got, err := repo.FindActiveByBookingID(ctx, failed.BookingID)
	require.NoError(t, err)
	assert.Equal(t, retry.ID, got.ID)

	// A booking with only a failed attempt has no active payment.
	onlyFailed := seedPayment(t, db, enums.PaymentStatusFailed, base)
	_, err = repo.FindActiveByBookingID(ctx, onlyFailed.BookingID)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	list, err := repo.ListByBookingID(ctx, failed.BookingID)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

package payments

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/homerunhq/homerun-backend/pkg/db/models"
	"github.com/homerunhq/homerun-backend/pkg/enums"
)

// Repository manages persistence for payment ledger entries. The guarded
// mutators compile the expected current state into the UPDATE's WHERE clause;
// a false return means a concurrent writer won the race.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, payment *models.Payment) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	FindActiveByBookingID(ctx context.Context, bookingID uuid.UUID) (*models.Payment, error)
	ListByBookingID(ctx context.Context, bookingID uuid.UUID) ([]models.Payment, error)
	UpdateStatusGuarded(ctx context.Context, id uuid.UUID, from enums.PaymentStatus, updates map[string]any) (bool, error)
	ApplyRefundGuarded(ctx context.Context, id uuid.UUID, from enums.PaymentStatus, expectedRefunded decimal.Decimal, updates map[string]any) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a payments repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, payment *models.Payment) error {
	return r.db.WithContext(ctx).Create(payment).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&payment).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *repository) FindActiveByBookingID(ctx context.Context, bookingID uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.WithContext(ctx).
		Where("booking_id = ? AND status <> ?", bookingID, enums.PaymentStatusFailed).
		Order("created_at DESC").
		First(&payment).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *repository) ListByBookingID(ctx context.Context, bookingID uuid.UUID) ([]models.Payment, error) {
	var payments []models.Payment
	if err := r.db.WithContext(ctx).
		Where("booking_id = ?", bookingID).
		Order("created_at ASC").
		Find(&payments).Error; err != nil {
		return nil, err
	}
	return payments, nil
}

func (r *repository) UpdateStatusGuarded(ctx context.Context, id uuid.UUID, from enums.PaymentStatus, updates map[string]any) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) ApplyRefundGuarded(ctx context.Context, id uuid.UUID, from enums.PaymentStatus, expectedRefunded decimal.Decimal, updates map[string]any) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ? AND status = ? AND refunded_total = ?", id, from, expectedRefunded).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

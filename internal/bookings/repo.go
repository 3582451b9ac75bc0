package bookings

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/homerunhq/homerun-backend/pkg/db/models"
	"github.com/homerunhq/homerun-backend/pkg/enums"
	"github.com/homerunhq/homerun-backend/pkg/pagination"
)

// Repository manages booking persistence. Status writes are guarded on the
// expected current status; a false return means another writer got there
// first and the caller must re-read.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, booking *models.Booking) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Booking, error)
	UpdateGuarded(ctx context.Context, id uuid.UUID, from enums.BookingStatus, updates map[string]any) (bool, error)
	UpdatePaymentProjection(ctx context.Context, id uuid.UUID, updates map[string]any) error
	AppendTimelineEntry(ctx context.Context, entry *models.BookingTimelineEntry) error
	LatestTimelineEntry(ctx context.Context, bookingID uuid.UUID) (*models.BookingTimelineEntry, error)
	ListByCustomer(ctx context.Context, customerID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.Booking, error)
	ListByProvider(ctx context.Context, providerID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.Booking, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a bookings repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, booking *models.Booking) error {
	return r.db.WithContext(ctx).Create(booking).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	var booking models.Booking
	if err := r.db.WithContext(ctx).
		Preload("Timeline", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC")
		}).
		Where("id = ?", id).
		First(&booking).Error; err != nil {
		return nil, err
	}
	return &booking, nil
}

func (r *repository) UpdateGuarded(ctx context.Context, id uuid.UUID, from enums.BookingStatus, updates map[string]any) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Booking{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) UpdatePaymentProjection(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	return r.db.WithContext(ctx).
		Model(&models.Booking{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *repository) AppendTimelineEntry(ctx context.Context, entry *models.BookingTimelineEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repository) LatestTimelineEntry(ctx context.Context, bookingID uuid.UUID) (*models.BookingTimelineEntry, error) {
	var entry models.BookingTimelineEntry
	if err := r.db.WithContext(ctx).
		Where("booking_id = ?", bookingID).
		Order("created_at DESC").
		First(&entry).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *repository) ListByCustomer(ctx context.Context, customerID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.Booking, error) {
	return r.list(ctx, "customer_id = ?", customerID, cursor, limit)
}

func (r *repository) ListByProvider(ctx context.Context, providerID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.Booking, error) {
	return r.list(ctx, "provider_id = ?", providerID, cursor, limit)
}

func (r *repository) list(ctx context.Context, cond string, arg uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.Booking, error) {
	q := r.db.WithContext(ctx).
		Where(cond, arg).
		Order("created_at DESC, id DESC").
		Limit(limit)
	if cursor != nil {
		q = q.Where("(created_at, id) < (?, ?)", cursor.CreatedAt, cursor.ID)
	}

	var bookings []models.Booking
	if err := q.Find(&bookings).Error; err != nil {
		return nil, err
	}
	return bookings, nil
}

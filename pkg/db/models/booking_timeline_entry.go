package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/homerunhq/homerun-backend/pkg/enums"
)

// BookingTimelineEntry is an immutable audit record of a booking event.
// CreatedAt is assigned by the bookings service, not the database, so the
// strict per-booking ordering can be enforced before the row is written.
type BookingTimelineEntry struct {
	ID        uuid.UUID            `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	BookingID uuid.UUID            `gorm:"column:booking_id;type:uuid;not null;index"`
	Status    enums.TimelineStatus `gorm:"column:status;type:timeline_status;not null"`
	Note      string               `gorm:"column:note;not null"`
	ActorID   uuid.UUID            `gorm:"column:actor_id;type:uuid;not null"`
	ActorRole enums.ActorRole      `gorm:"column:actor_role;type:actor_role;not null;default:'system'"`
	CreatedAt time.Time            `gorm:"column:created_at;not null"`
}

package enums

import "fmt"

// TimelineStatus labels a booking timeline entry. Lifecycle values mirror
// BookingStatus; the payment values record money events that do not move the
// booking's own status.
type TimelineStatus string

const (
	TimelineStatusPending          TimelineStatus = "pending"
	TimelineStatusConfirmed        TimelineStatus = "confirmed"
	TimelineStatusInProgress       TimelineStatus = "in_progress"
	TimelineStatusCompleted        TimelineStatus = "completed"
	TimelineStatusCancelled        TimelineStatus = "cancelled"
	TimelineStatusNoShow           TimelineStatus = "no_show"
	TimelineStatusRescheduled      TimelineStatus = "rescheduled"
	TimelineStatusPaymentCompleted TimelineStatus = "payment_completed"
	TimelineStatusRefunded         TimelineStatus = "refunded"
)

var validTimelineStatuses = []TimelineStatus{
	TimelineStatusPending,
	TimelineStatusConfirmed,
	TimelineStatusInProgress,
	TimelineStatusCompleted,
	TimelineStatusCancelled,
	TimelineStatusNoShow,
	TimelineStatusRescheduled,
	TimelineStatusPaymentCompleted,
	TimelineStatusRefunded,
}

// String implements fmt.Stringer.
func (t TimelineStatus) String() string {
	return string(t)
}

// IsValid reports whether the value is a known TimelineStatus.
func (t TimelineStatus) IsValid() bool {
	for _, candidate := range validTimelineStatuses {
		if candidate == t {
			return true
		}
	}
	return false
}

// IsLifecycle reports whether the entry mirrors a booking status change.
func (t TimelineStatus) IsLifecycle() bool {
	switch t {
	case TimelineStatusPaymentCompleted, TimelineStatusRefunded:
		return false
	}
	return t.IsValid()
}

// TimelineStatusFor maps a booking status onto its timeline label.
func TimelineStatusFor(status BookingStatus) TimelineStatus {
	return TimelineStatus(status)
}

// ParseTimelineStatus converts raw input into a TimelineStatus.
func ParseTimelineStatus(value string) (TimelineStatus, error) {
	for _, candidate := range validTimelineStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid timeline status %q", value)
}

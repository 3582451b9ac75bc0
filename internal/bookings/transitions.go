package bookings

import (
	"github.com/homerunhq/homerun-backend/pkg/enums"
	pkgerrors "github.com/homerunhq/homerun-backend/pkg/errors"
)

// transitions is the booking lifecycle graph. completed, cancelled, no_show
// and rescheduled are terminal; a reschedule closes the old booking and opens
// a fresh pending one.
var transitions = map[enums.BookingStatus][]enums.BookingStatus{
	enums.BookingStatusPending: {
		enums.BookingStatusConfirmed,
		enums.BookingStatusCancelled,
	},
	enums.BookingStatusConfirmed: {
		enums.BookingStatusInProgress,
		enums.BookingStatusCancelled,
		enums.BookingStatusRescheduled,
		enums.BookingStatusNoShow,
	},
	enums.BookingStatusInProgress: {
		enums.BookingStatusCompleted,
	},
}

// CanTransition reports whether the booking lifecycle permits from → to.
func CanTransition(from, to enums.BookingStatus) bool {
	for _, candidate := range transitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// GuardTransition returns a typed error when from → to is illegal.
func GuardTransition(from, to enums.BookingStatus) error {
	if CanTransition(from, to) {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeStateConflict, "illegal booking transition").
		WithDetails(map[string]any{"from": from.String(), "to": to.String()})
}

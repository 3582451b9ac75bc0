package payments

import (
	"github.com/homerunhq/homerun-backend/pkg/enums"
	pkgerrors "github.com/homerunhq/homerun-backend/pkg/errors"
)

// transitions is the payment lifecycle graph. pending may jump straight to
// completed (synchronous gateway success) or failed (immediate rejection).
// partial_refund loops on itself so a payment can absorb several partial
// refunds before the balance is exhausted.
var transitions = map[enums.PaymentStatus][]enums.PaymentStatus{
	enums.PaymentStatusPending: {
		enums.PaymentStatusProcessing,
		enums.PaymentStatusCompleted,
		enums.PaymentStatusFailed,
	},
	enums.PaymentStatusProcessing: {
		enums.PaymentStatusCompleted,
		enums.PaymentStatusFailed,
	},
	enums.PaymentStatusCompleted: {
		enums.PaymentStatusPartialRefund,
		enums.PaymentStatusRefunded,
	},
	enums.PaymentStatusPartialRefund: {
		enums.PaymentStatusPartialRefund,
		enums.PaymentStatusRefunded,
	},
}

// CanTransition reports whether the payment lifecycle permits from → to.
func CanTransition(from, to enums.PaymentStatus) bool {
	for _, candidate := range transitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// GuardTransition returns a typed error when from → to is illegal.
func GuardTransition(from, to enums.PaymentStatus) error {
	if CanTransition(from, to) {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeStateConflict, "illegal payment transition").
		WithDetails(map[string]any{"from": from.String(), "to": to.String()})
}

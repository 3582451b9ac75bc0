package db

import "strings"

// IsUniqueViolation reports whether err reads like a Postgres unique
// constraint violation. Passing a constraint name narrows the check to that
// constraint, which lets callers tell the payment-number collision apart
// from the one-active-payment-per-booking index.
func IsUniqueViolation(err error, constraint string) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	if constraint != "" {
		return strings.Contains(msg, constraint)
	}
	return strings.Contains(msg, "duplicate key value")
}

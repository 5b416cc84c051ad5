package push

import "errors"

// ErrInvalidCredential is reported by the transport when the delivery
// token is permanently unusable. The session it belongs to must be
// retired, not retried.
var ErrInvalidCredential = errors.New("push: credential permanently invalid")

// Result classifies the outcome of a dispatch attempt sequence.
type Result int

const (
	// Delivered means the transport accepted the payload.
	Delivered Result = iota
	// RetriesExhausted means every bounded attempt failed transiently.
	// The last pushed view is left untouched so the delta re-qualifies
	// next cycle.
	RetriesExhausted
	// PermanentlyInvalid means the credential is dead and the session
	// should be retired immediately.
	PermanentlyInvalid
)

// String returns the result label used in logs and metrics.
func (r Result) String() string {
	switch r {
	case Delivered:
		return "delivered"
	case RetriesExhausted:
		return "retries_exhausted"
	case PermanentlyInvalid:
		return "permanently_invalid"
	default:
		return "unknown"
	}
}

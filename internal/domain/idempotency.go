// Package domain defines the core models shared across the repository and
// service layers.
package domain

import "time"

// Idempotency remembers which payment a client-supplied Idempotency-Key
// produced, so a retried POST /pay lands on the same token instead of minting
// a second record.
type Idempotency struct {
	Key       string
	PaymentID string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the entry is no longer replayable at now.
func (i Idempotency) Expired(now time.Time) bool {
	return !now.Before(i.ExpiresAt)
}

// Package domain defines the payment record, the only entity the service
// persists, together with the small value types shared by the repository,
// service, and HTTP layers.
package domain

import "time"

// PaymentRecord is created once per "pay" action and tracked by its token.
//
// Fields:
//   - ID: 64-char hex token disclosed to the payer; unique for the store lifetime.
//   - Timestamp: creation time in Unix milliseconds.
//   - Valid: always true at creation. Nothing reads or changes it; it is kept
//     so existing backing files round-trip unchanged.
//   - FirstVisit: true until the record's detail page is viewed once.
//
// The JSON field names are the on-disk and on-the-wire format.
type PaymentRecord struct {
	ID         string `json:"id"`
	Timestamp  int64  `json:"timestamp"`
	Valid      bool   `json:"valid"`
	FirstVisit bool   `json:"firstVisit"`
}

// NewPaymentRecord returns a fresh record for id created at now.
func NewPaymentRecord(id string, now time.Time) PaymentRecord {
	return PaymentRecord{
		ID:         id,
		Timestamp:  now.UnixMilli(),
		Valid:      true,
		FirstVisit: true,
	}
}

// CreatedAt returns Timestamp as a UTC time.
func (r PaymentRecord) CreatedAt() time.Time {
	return time.UnixMilli(r.Timestamp).UTC()
}

// Package handlers defines HTTP-layer error codes used across all endpoints.
//
// This file centralizes symbolic error code constants that are mapped to HTTP
// responses (via the `fail()` helper in this package). These codes give API
// clients a stable, machine-readable error taxonomy that supplements
// human-readable messages.
//
// Two responses are deliberately not JSON: an unknown payment token (404
// "Invalid link.") and a rejected API password (401). Both are plain text so
// browsers following a shared link see a readable message.
//
// Middleware that aborts early (recovery, rate limiting, idempotency key
// validation) uses the codes in middleware/errors.go.
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "pay_failed",
//	  "message": "could not record payment"
//	}
package handlers

const (
	ErrCodeNotFound         = "not_found"
	ErrCodeMethodNotAllowed = "method_not_allowed"

	// Domain-specific:
	ErrCodePayFailed   = "pay_failed"
	ErrCodeViewFailed  = "view_failed"
	ErrCodeListFailed  = "list_failed"
	ErrCodeCountFailed = "count_failed"
)

// Plain-text bodies.
const (
	msgInvalidLink = "Invalid link."
)

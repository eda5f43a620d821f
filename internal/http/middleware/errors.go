package middleware

// Error codes written by middleware that aborts with the JSON envelope
// ({request_id, code, message}) used across the HTTP layer.
const (
	CodeInternal          = "internal_error"
	CodeTooManyRequests   = "too_many_requests"
	CodeBadIdempotencyKey = "bad_idempotency_key"
)

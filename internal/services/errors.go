// Package services defines the business logic for payments and their
// one-time reveal. This file centralizes service-level error values so that
// they can be returned by service methods and checked by callers.
//
// Translation into user-facing messages or HTTP status codes is performed at
// the handler layer.
package services

import "errors"

var (
	// ErrPaymentNotFound indicates that no payment carries the requested token.
	ErrPaymentNotFound = errors.New("payment not found")

	// ErrTokenGeneration is returned when the random source fails while
	// minting a payment token.
	ErrTokenGeneration = errors.New("token generation failed")
)

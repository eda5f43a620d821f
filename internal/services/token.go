package services

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// tokenBytes is the amount of randomness behind every payment token (256 bits).
const tokenBytes = 32

// randRead is the random source; tests swap it.
var randRead = rand.Read

// NewToken mints a payment token: 32 random bytes are hex-encoded, and the
// SHA-256 of that hex text is returned, hex-encoded (64 lowercase chars).
//
// The hash adds no entropy over the random bytes. It is kept so tokens have
// the same shape and derivation as those already in existing backing files.
func NewToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := randRead(buf); err != nil {
		return "", fmt.Errorf("%w: %v", ErrTokenGeneration, err)
	}
	sum := sha256.Sum256([]byte(hex.EncodeToString(buf)))
	return hex.EncodeToString(sum[:]), nil
}

// Package repo implements the persistence layer. This file provides the
// in-process idempotency table used to make POST /pay safe to retry.
package repo

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/tbourn/go-paywall-counter/internal/domain"
)

// ErrDuplicate indicates that a live idempotency record already exists for
// the given key, or that RedisStore already indexes a payment id.
var ErrDuplicate = errors.New("duplicate")

// IdempotencyStore maps Idempotency-Key values to the payment they created.
// Entries expire after their TTL and are garbage collected opportunistically.
//
// This type is safe for concurrent use.
type IdempotencyStore struct {
	mu      sync.Mutex
	entries map[string]domain.Idempotency
	writes  uint64
}

// NewIdempotencyStore returns an empty store.
func NewIdempotencyStore() *IdempotencyStore {
	return &IdempotencyStore{entries: make(map[string]domain.Idempotency)}
}

// GetIdempotency returns a non-expired record or ErrNotFound.
func (s *IdempotencyStore) GetIdempotency(key string, now time.Time) (*domain.Idempotency, error) {
	if strings.TrimSpace(key) == "" {
		return nil, ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.entries[key]
	if !ok || rec.Expired(now) {
		return nil, ErrNotFound
	}
	return &rec, nil
}

// CreateIdempotency stores key -> paymentID for ttl starting at now and
// returns ErrDuplicate when a record for key is still live at now.
func (s *IdempotencyStore) CreateIdempotency(key, paymentID string, now time.Time, ttl time.Duration) (*domain.Idempotency, error) {
	now = now.UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.writes++
	if s.writes%1000 == 0 {
		for k, e := range s.entries {
			if e.Expired(now) {
				delete(s.entries, k)
			}
		}
	}

	if cur, ok := s.entries[key]; ok && !cur.Expired(now) {
		return nil, ErrDuplicate
	}
	rec := domain.Idempotency{
		Key:       key,
		PaymentID: paymentID,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	s.entries[key] = rec
	return &rec, nil
}

// Len returns the number of entries currently held, expired ones included.
func (s *IdempotencyStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Package services – PaymentService
//
// This file implements the PaymentService, which owns the payment lifecycle:
// minting a token and appending its record (Pay), serving the one-time reveal
// of the contributor count and shareable URL (Reveal), and the read-only views
// used by the password-protected API (List, Count).
//
// The reveal is driven by Store.MarkVisited, which reports whether this call
// performed the firstVisit flip. Only the caller that wins the flip sees the
// count, so concurrent first views of the same token reveal at most once.
//
// Observability: public methods are OpenTelemetry-instrumented and update the
// Prometheus counters declared in metrics.go. Tokens are never recorded as
// span attributes.
package services

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-paywall-counter/internal/domain"
	"github.com/tbourn/go-paywall-counter/internal/repo"
)

// IdempotencyRepo is the subset of repo.IdempotencyStore used by Pay.
type IdempotencyRepo interface {
	GetIdempotency(key string, now time.Time) (*domain.Idempotency, error)
	CreateIdempotency(key, paymentID string, now time.Time, ttl time.Duration) (*domain.Idempotency, error)
}

// PaymentService coordinates token minting and record-store access.
type PaymentService struct {
	// Store holds the payment records.
	Store repo.Store
	// BaseURL prefixes shareable URLs, e.g. "http://localhost:3000".
	BaseURL string

	// Idem is optional; when nil, Idempotency-Key values are ignored.
	Idem IdempotencyRepo
	// IdemTTL is how long a key replays its payment.
	IdemTTL time.Duration

	// NewToken and Now are seams for tests.
	NewToken func() (string, error)
	Now      func() time.Time

	idemMu sync.Mutex
}

// Reveal is the outcome of viewing a payment's detail page.
type Reveal struct {
	Record domain.PaymentRecord
	// Revealed is true only for the view that consumed the first visit.
	Revealed bool
	// Count and ShareURL are set only when Revealed.
	Count    int
	ShareURL string
}

// NewPaymentService constructs a PaymentService with the default token
// generator and clock. Trailing slashes on baseURL are dropped.
func NewPaymentService(store repo.Store, baseURL string) *PaymentService {
	return &PaymentService{
		Store:    store,
		BaseURL:  strings.TrimRight(baseURL, "/"),
		IdemTTL:  24 * time.Hour,
		NewToken: NewToken,
		Now:      time.Now,
	}
}

// WithIdempotency enables Idempotency-Key replay on Pay.
func (s *PaymentService) WithIdempotency(idem IdempotencyRepo, ttl time.Duration) *PaymentService {
	s.Idem = idem
	if ttl > 0 {
		s.IdemTTL = ttl
	}
	return s
}

// Pay creates a new payment record and returns it. When key is non-empty and
// an idempotency table is configured, a live key returns the payment it first
// created and replayed is true; no new record is appended in that case.
func (s *PaymentService) Pay(ctx context.Context, key string) (rec domain.PaymentRecord, replayed bool, err error) {
	tr := otel.Tracer("services/PaymentService")
	ctx, span := tr.Start(ctx, "Pay",
		trace.WithAttributes(attribute.Bool("idempotency.key_present", key != "")),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.Bool("payment.replayed", replayed))
		span.End()
	}()

	key = strings.TrimSpace(key)
	if key == "" || s.Idem == nil {
		rec, err = s.create(ctx)
		return rec, false, err
	}

	s.idemMu.Lock()
	defer s.idemMu.Unlock()

	if prev, gerr := s.Idem.GetIdempotency(key, s.now()); gerr == nil {
		found, ferr := s.Store.Find(ctx, prev.PaymentID)
		if ferr == nil {
			paymentReplays.Inc()
			return found, true, nil
		}
		if !errors.Is(ferr, repo.ErrNotFound) {
			return domain.PaymentRecord{}, false, ferr
		}
	}

	rec, err = s.create(ctx)
	if err != nil {
		return domain.PaymentRecord{}, false, err
	}
	if _, cerr := s.Idem.CreateIdempotency(key, rec.ID, s.now(), s.IdemTTL); cerr != nil && !errors.Is(cerr, repo.ErrDuplicate) {
		return rec, false, cerr
	}
	return rec, false, nil
}

func (s *PaymentService) create(ctx context.Context) (domain.PaymentRecord, error) {
	gen := s.NewToken
	if gen == nil {
		gen = NewToken
	}
	id, err := gen()
	if err != nil {
		return domain.PaymentRecord{}, err
	}
	rec := domain.NewPaymentRecord(id, s.now())
	if err := s.Store.Append(ctx, rec); err != nil {
		return domain.PaymentRecord{}, err
	}
	paymentsCreated.Inc()
	log.Debug().Str("payment", idPrefix(id)).Msg("payment created")
	return rec, nil
}

// Reveal loads the payment for id and consumes its first visit if still
// available. It returns ErrPaymentNotFound for unknown tokens.
func (s *PaymentService) Reveal(ctx context.Context, id string) (Reveal, error) {
	tr := otel.Tracer("services/PaymentService")
	ctx, span := tr.Start(ctx, "Reveal")
	defer span.End()

	rec, err := s.Store.Find(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		paymentViews.WithLabelValues(outcomeNotFound).Inc()
		return Reveal{}, ErrPaymentNotFound
	}
	if err != nil {
		span.RecordError(err)
		return Reveal{}, err
	}
	if !rec.FirstVisit {
		paymentViews.WithLabelValues(outcomePlaceholder).Inc()
		return Reveal{Record: rec}, nil
	}

	flipped, err := s.Store.MarkVisited(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		paymentViews.WithLabelValues(outcomeNotFound).Inc()
		return Reveal{}, ErrPaymentNotFound
	}
	if err != nil {
		span.RecordError(err)
		return Reveal{}, err
	}
	rec.FirstVisit = false
	if !flipped {
		// Another request consumed the first visit between Find and MarkVisited.
		paymentViews.WithLabelValues(outcomePlaceholder).Inc()
		return Reveal{Record: rec}, nil
	}

	n, err := s.Store.Count(ctx)
	if err != nil {
		span.RecordError(err)
		return Reveal{}, err
	}
	span.SetAttributes(attribute.Int("payments.count", n))
	paymentViews.WithLabelValues(outcomeRevealed).Inc()
	log.Debug().Str("payment", idPrefix(id)).Int("count", n).Msg("payment revealed")
	return Reveal{
		Record:   rec,
		Revealed: true,
		Count:    n,
		ShareURL: s.ShareURL(id),
	}, nil
}

// ShareURL returns the absolute detail-page URL for id.
func (s *PaymentService) ShareURL(id string) string {
	return s.BaseURL + "/thankyou/" + url.PathEscape(id)
}

// List returns every record in insertion order.
func (s *PaymentService) List(ctx context.Context) ([]domain.PaymentRecord, error) {
	tr := otel.Tracer("services/PaymentService")
	ctx, span := tr.Start(ctx, "List")
	defer span.End()
	return s.Store.All(ctx)
}

// Count returns the number of records.
func (s *PaymentService) Count(ctx context.Context) (int, error) {
	tr := otel.Tracer("services/PaymentService")
	ctx, span := tr.Start(ctx, "Count")
	defer span.End()
	return s.Store.Count(ctx)
}

// idPrefix shortens a token for logs; the full value is a bearer secret.
func idPrefix(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func (s *PaymentService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

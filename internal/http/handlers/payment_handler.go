// Payment HTTP handlers.
//
// This file exposes the browser-facing pages:
//   - GET  /                (home page with the pay form)
//   - POST /pay             (create a payment, 302 to its detail page)
//   - GET  /thankyou/{id}   (one-time reveal, placeholder afterwards)
//
// Handlers are transport-thin: they call the payment service and translate
// results into HTML pages, redirects, or error responses.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"golang.org/x/text/language"

	"github.com/tbourn/go-paywall-counter/internal/domain"
	"github.com/tbourn/go-paywall-counter/internal/http/middleware"
	"github.com/tbourn/go-paywall-counter/internal/services"
)

//
// Service contract (context-aware)
//

// PaymentService defines the payment operations consumed by HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type PaymentService interface {
	// Pay creates a payment, or replays the one created earlier with key.
	Pay(ctx context.Context, key string) (domain.PaymentRecord, bool, error)
	// Reveal consumes the first visit of id if still available.
	Reveal(ctx context.Context, id string) (services.Reveal, error)
	// List returns every payment in insertion order.
	List(ctx context.Context) ([]domain.PaymentRecord, error)
	// Count returns the number of payments.
	Count(ctx context.Context) (int, error)
}

//
// Handler wiring
//

// Handlers groups the page and API endpoints.
type Handlers struct {
	svc  PaymentService
	lang string
}

// New constructs Handlers bound to svc. lang is rendered as the pages' html
// lang attribute; language.Und falls back to English.
func New(svc PaymentService, lang language.Tag) *Handlers {
	if lang == language.Und {
		lang = language.English
	}
	return &Handlers{svc: svc, lang: lang.String()}
}

// page builds the template data shared by every page.
func (h *Handlers) page(title string) gin.H {
	return gin.H{"Lang": h.lang, "Title": title}
}

//
// Handlers
//

// Home renders the landing page with the pay form.
func (h *Handlers) Home(c *gin.Context) {
	c.HTML(http.StatusOK, tmplHome, h.page("Pay $1"))
}

// Pay godoc
// @ID          pay
// @Summary     Make a payment
// @Description Records a new payment and redirects to its one-time detail page.
// @Description An Idempotency-Key replays the payment created earlier with the same key.
// @Tags        Payments
// @Accept      x-www-form-urlencoded
// @Produce     html
//
// @Param       Idempotency-Key  header  string  false  "Retry-safe key"  example(pay-7f3c)
//
// @Success     302  {string}  string  "Redirect to /thankyou/{id}"
// @Header      302  {string}  Location  "/thankyou/{id}"
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid Idempotency-Key"
// @Failure     429  {object}  handlers.ErrorResponse  "Rate limited"
// @Failure     500  {object}  handlers.ErrorResponse  "Persistence failure"
// @Router      /pay [post]
func (h *Handlers) Pay(c *gin.Context) {
	key, _ := middleware.GetIdempotencyKey(c)

	rec, replayed, err := h.svc.Pay(c.Request.Context(), key)
	if err != nil {
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, ErrCodePayFailed, "could not record payment")
		return
	}
	if replayed {
		c.Header("Idempotent-Replay", "true")
	}
	c.Redirect(http.StatusFound, "/thankyou/"+url.PathEscape(rec.ID))
}

// ThankYou godoc
// @ID          thankYou
// @Summary     View a payment
// @Description The first view shows the contributor count and the shareable URL.
// @Description Every later view shows a placeholder.
// @Tags        Payments
// @Produce     html
//
// @Param       id  path  string  true  "Payment token (64 hex chars)"
//
// @Success     200  {string}  string  "HTML page"
// @Failure     404  {string}  string  "Invalid link."
// @Failure     500  {object}  handlers.ErrorResponse  "Persistence failure"
// @Router      /thankyou/{id} [get]
func (h *Handlers) ThankYou(c *gin.Context) {
	rv, err := h.svc.Reveal(c.Request.Context(), c.Param("id"))
	switch {
	case errors.Is(err, services.ErrPaymentNotFound):
		text(c, http.StatusNotFound, msgInvalidLink)
		return
	case err != nil:
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, ErrCodeViewFailed, "could not load payment")
		return
	}

	// The page differs between the first and later views.
	c.Header("Cache-Control", "no-store")

	if !rv.Revealed {
		c.HTML(http.StatusOK, tmplInfo, h.page("Information"))
		return
	}
	data := h.page("Thank you")
	data["Count"] = rv.Count
	data["ShareURL"] = rv.ShareURL
	c.HTML(http.StatusOK, tmplThankYou, data)
}

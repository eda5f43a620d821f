// API HTTP handlers.
//
// This file exposes the password-protected, read-only JSON endpoints:
//   - GET /api/urls   (every payment record, insertion order)
//   - GET /api/count  (number of payment records)
//
// Authentication happens in middleware.RequirePassword before these run.
package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-paywall-counter/internal/domain"
)

// CountResponse is the body of GET /api/count.
type CountResponse struct {
	Count int `json:"count" example:"42"`
}

// ListURLs godoc
// @ID          listURLs
// @Summary     List payment records
// @Description Returns every payment record in insertion order. Supports weak ETag via If-None-Match and may return 304.
// @Tags        API
// @Produce     json
//
// @Param       password       query   string  true   "Shared API password"
// @Param       If-None-Match  header  string  false  "Return 304 if ETag matches"  example(W/\"payments:3:1\")
//
// @Success     200  {array}   domain.PaymentRecord
// @Header      200  {string}  ETag  "Weak ETag for current result"
// @Success     304  {string}  string  "Not Modified"
// @Failure     401  {string}  string  "Unauthorized: Incorrect or missing password."
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /api/urls [get]
func (h *Handlers) ListURLs(c *gin.Context) {
	items, err := h.svc.List(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, "could not read records")
		return
	}
	if items == nil {
		items = []domain.PaymentRecord{}
	}

	etag := listETag(items)
	c.Header("ETag", etag)
	if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
		c.Status(http.StatusNotModified)
		return
	}
	ok(c, http.StatusOK, items)
}

// Count godoc
// @ID          countURLs
// @Summary     Count payment records
// @Tags        API
// @Produce     json
//
// @Param       password  query  string  true  "Shared API password"
//
// @Success     200  {object}  handlers.CountResponse
// @Failure     401  {string}  string  "Unauthorized: Incorrect or missing password."
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /api/count [get]
func (h *Handlers) Count(c *gin.Context) {
	n, err := h.svc.Count(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, ErrCodeCountFailed, "could not count records")
		return
	}
	ok(c, http.StatusOK, CountResponse{Count: n})
}

// listETag changes whenever a record is appended or a first visit is
// consumed; the store allows no other mutation.
func listETag(items []domain.PaymentRecord) string {
	visited := 0
	for _, r := range items {
		if !r.FirstVisit {
			visited++
		}
	}
	return fmt.Sprintf(`W/"payments:%d:%d"`, len(items), visited)
}

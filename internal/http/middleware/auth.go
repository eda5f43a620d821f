// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements RequirePassword, the guard in front of the read-only
// /api endpoints. Callers pass the shared secret as the `password` query
// parameter; anything but an exact match is rejected with 401 and a short
// plain-text body.
//
// This is demonstration-grade access control: the secret travels in the URL
// and is compared as-is. RedactingLogger keeps it out of the access log.
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// PasswordParam is the query parameter carrying the API secret.
const PasswordParam = "password"

// UnauthorizedMessage is the body written for rejected requests.
const UnauthorizedMessage = "Unauthorized: Incorrect or missing password."

// RequirePassword returns a middleware that lets a request through only when
// its `password` query parameter equals secret exactly. An empty secret
// rejects every request.
func RequirePassword(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got, ok := c.GetQuery(PasswordParam)
		if !ok || secret == "" || got != secret {
			LoggerFrom(c).Warn().Msg("api password rejected")
			c.Abort()
			c.String(http.StatusUnauthorized, UnauthorizedMessage)
			return
		}
		c.Next()
	}
}

// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements RedactingLogger, the structured access logger. It
// scrubs the two secrets this service handles before anything is emitted:
//
//   - the shared API password, passed as the `password` query parameter
//   - payment tokens (64 hex chars), which are bearer links to a record and
//     appear in /thankyou/<token> paths, Referer headers, and Location headers
//
// Request and response bodies are never logged. Sensitive headers
// (Authorization, Cookie, Set-Cookie, plus custom ones) are fully masked.
//
// Usage:
//
//	r := gin.New()
//	r.Use(middleware.RequestID())
//	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
//	    MaskHeaders: []string{"X-Api-Key"},
//	}))
//
// The middleware also attaches a request-scoped zerolog.Logger (see
// LoggerFrom) carrying the request ID, method, and route.
package middleware

import (
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const (
	redactedToken    = "[REDACTED:token]"
	redactedPassword = "[REDACTED]"
)

var tokenRE = regexp.MustCompile(`(?i)\b[0-9a-f]{64}\b`)

// RedactOptions configures additional scrub behavior for RedactingLogger.
//
// MaskHeaders specifies extra HTTP header names whose values will be fully
// replaced with "[REDACTED]". Matching is case-insensitive and merged with
// built-in sensitive headers ("Authorization", "Cookie", "Set-Cookie").
//
// MaskParams names extra query parameters whose values are masked in addition
// to "password".
type RedactOptions struct {
	MaskHeaders []string
	MaskParams  []string
}

// RedactToken replaces every payment token in s.
func RedactToken(s string) string {
	if s == "" {
		return s
	}
	return tokenRE.ReplaceAllString(s, redactedToken)
}

// redactQuery masks the values of the named parameters and any token left in
// the remaining values. Unparseable queries are token-scrubbed as raw text and
// every key=value pair for the named params is masked textually.
func redactQuery(raw string, params map[string]struct{}) string {
	if raw == "" {
		return raw
	}
	vals, err := url.ParseQuery(raw)
	if err != nil {
		parts := strings.Split(raw, "&")
		for i, p := range parts {
			k, _, found := strings.Cut(p, "=")
			if _, ok := params[strings.ToLower(k)]; ok && found {
				parts[i] = k + "=" + redactedPassword
			}
		}
		return RedactToken(strings.Join(parts, "&"))
	}
	for k, vv := range vals {
		if _, ok := params[strings.ToLower(k)]; ok {
			for i := range vv {
				vv[i] = redactedPassword
			}
		}
	}
	// Encode escapes the brackets; decode back for readable logs.
	enc := vals.Encode()
	if dec, err := url.QueryUnescape(enc); err == nil {
		enc = dec
	}
	return RedactToken(enc)
}

// RedactingLogger returns a Gin middleware that logs HTTP requests and
// responses with secrets scrubbed.
//
// Behavior:
//   - Logs method, route path, query string, status, response size, latency,
//     remote IP, and request headers (with scrubbing applied).
//   - Unmatched routes log the raw path with tokens replaced.
//   - Stores a request-scoped logger under the "logger" context key.
//   - Logs at INFO by default, WARN for 4xx, and ERROR for 5xx responses or
//     when handlers attached errors to the Gin context.
func RedactingLogger(opts RedactOptions) gin.HandlerFunc {
	maskHeaders := map[string]struct{}{
		"authorization": {},
		"cookie":        {},
		"set-cookie":    {},
	}
	for _, h := range opts.MaskHeaders {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			maskHeaders[h] = struct{}{}
		}
	}
	maskParams := map[string]struct{}{"password": {}}
	for _, p := range opts.MaskParams {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			maskParams[p] = struct{}{}
		}
	}

	return func(c *gin.Context) {
		start := time.Now()

		path := c.FullPath()
		if path == "" {
			path = RedactToken(c.Request.URL.Path)
		}
		safeQuery := truncate(redactQuery(c.Request.URL.RawQuery, maskParams), maxQueryLogLength)

		safeHeaders := make(map[string]string, len(c.Request.Header))
		for k, vv := range c.Request.Header {
			if _, ok := maskHeaders[strings.ToLower(k)]; ok {
				safeHeaders[k] = "[REDACTED]"
				continue
			}
			safeHeaders[k] = RedactToken(strings.Join(vv, ", "))
		}

		l := log.With().
			Str("request_id", requestID(c)).
			Str("method", c.Request.Method).
			Str("path", path).
			Logger()
		c.Set(loggerKey, &l)

		c.Next()

		status := c.Writer.Status()
		ev := l.Info()
		switch {
		case len(c.Errors) > 0 || status >= 500:
			ev = l.Error()
			if len(c.Errors) > 0 {
				ev = ev.Str("errors", RedactToken(c.Errors.String()))
			}
		case status >= 400:
			ev = l.Warn()
		}

		ev.
			Str("query", safeQuery).
			Str("remote_ip", c.ClientIP()).
			Int("status", status).
			Int("bytes", c.Writer.Size()).
			Dur("latency", time.Since(start)).
			Str("location", RedactToken(c.Writer.Header().Get("Location"))).
			Interface("headers", safeHeaders).
			Msg("http_request")
	}
}

// requestID prefers the ID set by RequestID(), then any X-Request-ID already on
// the response or request.
func requestID(c *gin.Context) string {
	if v, ok := c.Get(requestIDKey); ok {
		if s := asString(v); s != "" {
			return s
		}
	}
	if rid := c.Writer.Header().Get(requestIDHeader); rid != "" {
		return rid
	}
	return c.GetHeader(requestIDHeader)
}

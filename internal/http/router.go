// Package httpapi wires the HTTP transport (Gin) to the payment service,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, compression,
// metrics, CORS, security headers, idempotency, rate limiting, and the shared
// password guard on the API.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/text/language"

	_ "github.com/tbourn/go-paywall-counter/docs"
	"github.com/tbourn/go-paywall-counter/internal/config"
	"github.com/tbourn/go-paywall-counter/internal/http/handlers"
	"github.com/tbourn/go-paywall-counter/internal/http/middleware"
	"github.com/tbourn/go-paywall-counter/internal/repo"
	"github.com/tbourn/go-paywall-counter/internal/services"
)

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. It configures observability (tracing, metrics), compression, CORS
// and security headers, health and metrics endpoints, and then mounts the
// pages and the password-protected API.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with password/token scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Gzip (skips /metrics, which promhttp compresses itself)
//  7. Metrics
//  8. CORS and Security headers
//
// POST /pay additionally runs the idempotency validator and then, when
// cfg.RateRPS > 0, the per-IP rate limiter, so replays bypass limiting.
// /api runs RequirePassword.
func RegisterRoutes(r *gin.Engine, store repo.Store, cfg config.Config) {
	r.HandleMethodNotAllowed = true
	r.SetHTMLTemplate(handlers.Templates())

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{"X-API-Key"},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (64 KiB; the pay form has no fields)
	r.Use(limitBody(64 << 10))

	// 6) Compression
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))

	// 7) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 8) CORS posture (safe defaults: allow all if none configured)
	corsMethods := []string{"GET", "POST", "OPTIONS"}
	corsHeaders := []string{"Origin", "Content-Type", "Accept", middleware.HeaderIdempotencyKey}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header.
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     corsMethods,
			AllowHeaders:     corsHeaders,
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length", "ETag"},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		// Echo ACAO with the request Origin when it is in the allowlist.
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     corsMethods,
			AllowHeaders:     corsHeaders,
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length", "ETag"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// API docs
	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Dependency injection: service ← store + idempotency table
	idem := repo.NewIdempotencyStore()
	svc := services.NewPaymentService(store, cfg.PublicBaseURL).
		WithIdempotency(idem, cfg.IdempotencyTTL)
	h := handlers.New(svc, pageLang(cfg.PageLang))

	// Pages
	pages := r.Group("", middleware.SecurityHeaders(middleware.SecurityOptions{
		ContentSecurityPolicy: middleware.PageCSP,
	}))
	{
		pay := []gin.HandlerFunc{
			middleware.IdempotencyValidator(
				middleware.IdempotencyOptions{MaxLen: 200},
				func(_ context.Context, key string, now time.Time) (bool, error) {
					rec, err := idem.GetIdempotency(key, now)
					if err != nil || rec == nil {
						return false, nil
					}
					return true, nil
				},
			),
		}
		// RATE_RPS=0 leaves /pay unlimited.
		if cfg.RateRPS > 0 {
			rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByIP())
			pay = append(pay, rl.Handler())
		}
		pay = append(pay, h.Pay)

		pages.GET("/", h.Home)
		pages.POST("/pay", pay...)
		pages.GET("/thankyou/:id", h.ThankYou)
	}

	// Password-protected API
	api := r.Group("/api",
		middleware.SecurityHeaders(middleware.SecurityOptions{NoStore: true}),
		middleware.RequirePassword(cfg.APIPassword),
	)
	{
		api.GET("/urls", h.ListURLs)
		api.GET("/count", h.Count)
	}
}

// pageLang parses the configured BCP 47 tag, falling back to English.
func pageLang(tag string) language.Tag {
	t, err := language.Parse(tag)
	if err != nil {
		return language.English
	}
	return t
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-paywall-counter/internal/config"
	"github.com/tbourn/go-paywall-counter/internal/domain"
	"github.com/tbourn/go-paywall-counter/internal/http/middleware"
	"github.com/tbourn/go-paywall-counter/internal/repo"
)

const secret = "123456789"

// --- test store helper (JSON file under t.TempDir) ---
func newTestStore(t *testing.T) *repo.JSONFileStore {
	t.Helper()
	s, err := repo.OpenJSONFile(filepath.Join(t.TempDir(), "data", "urls.json"))
	if err != nil {
		t.Fatalf("OpenJSONFile: %v", err)
	}
	return s
}

func testConfig() config.Config {
	return config.Config{
		PublicBaseURL:  "http://localhost:3000",
		APIPassword:    secret,
		PageLang:       "en",
		RateRPS:        100,
		RateBurst:      100,
		CORS:           config.CORSConfig{AllowedOrigins: nil}, // triggers AllowAllOrigins branch
		Security:       config.SecurityConfig{EnableHSTS: false, HSTSMaxAge: 0},
		IdempotencyTTL: time.Hour,
		OTEL:           config.OTELConfig{ServiceName: "test-svc"},
	}
}

func newTestRouter(t *testing.T, cfg config.Config) (*gin.Engine, *repo.JSONFileStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	st := newTestStore(t)
	RegisterRoutes(r, st, cfg)
	return r, st
}

func serve(r http.Handler, method, target string, hdr map[string]string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, target, nil)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	r.ServeHTTP(w, req)
	return w
}

var thankYouRE = regexp.MustCompile(`^/thankyou/([0-9a-f]{64})$`)

// pay posts the form and returns the token from the redirect.
func pay(t *testing.T, r http.Handler, hdr map[string]string) string {
	t.Helper()
	w := serve(r, http.MethodPost, "/pay", hdr)
	if w.Code != http.StatusFound {
		t.Fatalf("POST /pay = %d; want 302 (%s)", w.Code, w.Body.String())
	}
	m := thankYouRE.FindStringSubmatch(w.Header().Get("Location"))
	if m == nil {
		t.Fatalf("unexpected Location %q", w.Header().Get("Location"))
	}
	return m[1]
}

func TestRegisterRoutes_CORSAllowAll_Health_Metrics_Fallbacks(t *testing.T) {
	r, _ := newTestRouter(t, testConfig())

	// /health works
	w := serve(r, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	// CORS (AllowAllOrigins) → header "*"
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("AllowAllOrigins expected '*', got %q", got)
	}

	// /metrics is wired and exposes the payment counters
	w = serve(r, http.MethodGet, "/metrics", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "payments_created_total") {
		t.Fatalf("GET /metrics bad: code=%d len=%d", w.Code, w.Body.Len())
	}

	// NoRoute → 404 JSON envelope
	w = serve(r, http.MethodGet, "/nope", nil)
	if w.Code != http.StatusNotFound || !strings.Contains(w.Body.String(), `"code":"not_found"`) {
		t.Fatalf("GET /nope = %d %s", w.Code, w.Body.String())
	}

	// NoMethod → 405 (GET /pay)
	w = serve(r, http.MethodGet, "/pay", nil)
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET /pay expected 405, got %d", w.Code)
	}

	// Swagger disabled by default
	if w = serve(r, http.MethodGet, "/swagger/index.html", nil); w.Code != http.StatusNotFound {
		t.Fatalf("swagger should be off, got %d", w.Code)
	}
}

func TestRegisterRoutes_CORSWithOrigins_HeaderEcho(t *testing.T) {
	cfg := testConfig()
	cfg.CORS = config.CORSConfig{AllowedOrigins: []string{"http://example.com"}}
	r, _ := newTestRouter(t, cfg)

	w := serve(r, http.MethodGet, "/api/count?password="+secret, map[string]string{"Origin": "http://example.com"})
	if w.Code != http.StatusOK {
		t.Fatalf("GET /api/count = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://example.com" {
		t.Fatalf("expected ACAO echo, got %q", got)
	}
}

func TestRegisterRoutes_SwaggerWhenEnabled(t *testing.T) {
	cfg := testConfig()
	cfg.SwaggerEnabled = true
	r, _ := newTestRouter(t, cfg)

	if w := serve(r, http.MethodGet, "/swagger/index.html", nil); w.Code != http.StatusOK {
		t.Fatalf("GET /swagger/index.html = %d", w.Code)
	}
	w := serve(r, http.MethodGet, "/swagger/doc.json", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "/api/count") {
		t.Fatalf("GET /swagger/doc.json = %d %s", w.Code, w.Body.String())
	}
}

func Test_limitBody_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	// tiny cap to trigger MaxBytesReader
	r.Use(limitBody(10))
	r.POST("/echo", func(c *gin.Context) {
		_, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.String(http.StatusRequestEntityTooLarge, "too big")
			return
		}
		c.String(http.StatusOK, "ok")
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/echo", bytes.NewBufferString("0123456789AB")) // 12 bytes
	r.ServeHTTP(w, req)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 from limitBody, got %d", w.Code)
	}
}

func Test_pageLang(t *testing.T) {
	if got := pageLang("fr").String(); got != "fr" {
		t.Fatalf("pageLang(fr) = %q", got)
	}
	if got := pageLang("not a tag!").String(); got != "en" {
		t.Fatalf("invalid tag should fall back to en, got %q", got)
	}
}

// The full payment flow: two payments, one-time reveal, protected API.
func TestPaymentFlow_EndToEnd(t *testing.T) {
	r, st := newTestRouter(t, testConfig())

	home := serve(r, http.MethodGet, "/", nil)
	if home.Code != http.StatusOK || !strings.Contains(home.Body.String(), "Pay $1 to find out how many people have paid.") {
		t.Fatalf("GET / = %d", home.Code)
	}

	t1 := pay(t, r, nil)

	first := serve(r, http.MethodGet, "/thankyou/"+t1, nil)
	if first.Code != http.StatusOK {
		t.Fatalf("first view = %d", first.Code)
	}
	body := first.Body.String()
	if !strings.Contains(body, "Number of contributors: 1") ||
		!strings.Contains(body, "http://localhost:3000/thankyou/"+t1) {
		t.Fatalf("first view missing count or URL:\n%s", body)
	}

	again := serve(r, http.MethodGet, "/thankyou/"+t1, nil)
	if !strings.Contains(again.Body.String(), "Soon, this URL will be worth one dollar and will be transferable.") ||
		strings.Contains(again.Body.String(), "Number of contributors") {
		t.Fatalf("second view should be the placeholder:\n%s", again.Body.String())
	}

	t2 := pay(t, r, nil)
	if t2 == t1 {
		t.Fatalf("tokens must be distinct")
	}
	second := serve(r, http.MethodGet, "/thankyou/"+t2, nil)
	if !strings.Contains(second.Body.String(), "Number of contributors: 2") {
		t.Fatalf("second payment should see 2 contributors:\n%s", second.Body.String())
	}

	// Unknown token
	if w := serve(r, http.MethodGet, "/thankyou/deadbeef", nil); w.Code != http.StatusNotFound || w.Body.String() != "Invalid link." {
		t.Fatalf("unknown token = %d %q", w.Code, w.Body.String())
	}

	// Protected API agrees with the store.
	w := serve(r, http.MethodGet, "/api/count?password="+secret, nil)
	var cnt struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &cnt); err != nil || cnt.Count != 2 {
		t.Fatalf("GET /api/count = %d %s", w.Code, w.Body.String())
	}

	w = serve(r, http.MethodGet, "/api/urls?password="+secret, nil)
	var list []domain.PaymentRecord
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("GET /api/urls json: %v (%s)", err, w.Body.String())
	}
	if len(list) != cnt.Count || list[0].ID != t1 || list[1].ID != t2 {
		t.Fatalf("list = %+v", list)
	}
	if list[0].FirstVisit || list[1].FirstVisit || !list[0].Valid {
		t.Fatalf("first visits should be consumed: %+v", list)
	}

	// Persisted state matches the API.
	all, _ := st.All(context.Background())
	if len(all) != 2 {
		t.Fatalf("store holds %d records", len(all))
	}
}

func TestAPI_RejectsWrongPassword(t *testing.T) {
	r, _ := newTestRouter(t, testConfig())

	for _, target := range []string{
		"/api/urls",
		"/api/urls?password=wrong",
		"/api/count",
		"/api/count?password=",
		"/api/count?password=" + secret + "0",
	} {
		w := serve(r, http.MethodGet, target, nil)
		if w.Code != http.StatusUnauthorized || w.Body.String() != middleware.UnauthorizedMessage {
			t.Fatalf("%s = %d %q; want 401", target, w.Code, w.Body.String())
		}
	}
}

func TestPay_IdempotencyReplayAndRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateRPS = 0.001
	cfg.RateBurst = 1
	r, st := newTestRouter(t, cfg)

	key := map[string]string{middleware.HeaderIdempotencyKey: "order-42"}

	t1 := pay(t, r, key)

	// Replay: same token, flagged, not rate limited, nothing appended.
	w := serve(r, http.MethodPost, "/pay", key)
	if w.Code != http.StatusFound || w.Header().Get("Location") != "/thankyou/"+t1 {
		t.Fatalf("replay = %d %q", w.Code, w.Header().Get("Location"))
	}
	if w.Header().Get("Idempotent-Replay") != "true" {
		t.Fatalf("replay not flagged")
	}
	if n, _ := st.Count(context.Background()); n != 1 {
		t.Fatalf("replay appended a record: count=%d", n)
	}

	// A fresh payment from the same IP is over the limit.
	w = serve(r, http.MethodPost, "/pay", nil)
	if w.Code != http.StatusTooManyRequests || envelopeCode(t, w) != middleware.CodeTooManyRequests {
		t.Fatalf("expected 429 %s, got %d %s", middleware.CodeTooManyRequests, w.Code, w.Body.String())
	}

	// Invalid keys are rejected before the limiter.
	w = serve(r, http.MethodPost, "/pay", map[string]string{middleware.HeaderIdempotencyKey: "bad key"})
	if w.Code != http.StatusBadRequest || envelopeCode(t, w) != middleware.CodeBadIdempotencyKey {
		t.Fatalf("invalid key = %d %s; want 400 %s", w.Code, w.Body.String(), middleware.CodeBadIdempotencyKey)
	}
}

// envelopeCode decodes the JSON error envelope and returns its code.
func envelopeCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		RequestID string `json:"request_id"`
		Code      string `json:"code"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode envelope: %v (%s)", err, w.Body.String())
	}
	if body.RequestID == "" {
		t.Fatalf("envelope without request_id: %s", w.Body.String())
	}
	return body.Code
}

func TestPay_RateLimitDisabledByDefault(t *testing.T) {
	cfg := testConfig()
	cfg.RateRPS = 0
	cfg.RateBurst = 10
	r, st := newTestRouter(t, cfg)

	const n = 25
	seen := make(map[string]bool, n)
	for i := 0; i < n; i++ {
		seen[pay(t, r, nil)] = true
	}
	if len(seen) != n {
		t.Fatalf("expected %d distinct tokens, got %d", n, len(seen))
	}
	if got, _ := st.Count(context.Background()); got != n {
		t.Fatalf("count = %d after %d creates; want %d", got, n, n)
	}

	w := serve(r, http.MethodGet, "/api/count?password="+secret, nil)
	if !strings.Contains(w.Body.String(), `"count":25`) {
		t.Fatalf("GET /api/count = %s", w.Body.String())
	}
}

func TestSecurityHeaders_PagesAndAPI(t *testing.T) {
	r, _ := newTestRouter(t, testConfig())

	home := serve(r, http.MethodGet, "/", nil)
	if home.Header().Get("Content-Security-Policy") != middleware.PageCSP {
		t.Fatalf("pages must carry the CSP, got %q", home.Header().Get("Content-Security-Policy"))
	}
	if home.Header().Get("Referrer-Policy") != "no-referrer" {
		t.Fatalf("pages must not leak token URLs via Referer")
	}

	api := serve(r, http.MethodGet, "/api/count?password="+secret, nil)
	if api.Header().Get("Cache-Control") != "no-store" {
		t.Fatalf("API responses must not be cached, got %q", api.Header().Get("Cache-Control"))
	}
	if rid := api.Header().Get("X-Request-ID"); rid == "" {
		t.Fatalf("expected X-Request-ID header to be set")
	}
}

func TestGzip_CompressesPages(t *testing.T) {
	r, _ := newTestRouter(t, testConfig())

	w := serve(r, http.MethodGet, "/", map[string]string{"Accept-Encoding": "gzip"})
	if w.Header().Get("Content-Encoding") != "gzip" {
		t.Fatalf("expected gzip encoding, got %q", w.Header().Get("Content-Encoding"))
	}
}

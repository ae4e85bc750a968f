package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func TestRequestIDGeneratesUUID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())

	var seen string
	r.GET("/", func(c *gin.Context) {
		v, _ := c.Get(requestIDKey)
		seen = asString(v)
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	echoed := w.Header().Get(requestIDHeader)
	if echoed == "" || echoed != seen {
		t.Fatalf("header %q, context %q", echoed, seen)
	}
	if _, err := uuid.Parse(echoed); err != nil {
		t.Fatalf("generated id %q is not a UUID", echoed)
	}
}

func TestRequestIDPropagatesIncoming(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, "client-id-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if got := w.Header().Get(requestIDHeader); got != "client-id-1" {
		t.Fatalf("request id = %q, want client-id-1", got)
	}
}

func TestLoggerStoresRequestScopedLogger(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID(), Logger())

	var hadLogger bool
	r.GET("/", func(c *gin.Context) {
		_, hadLogger = c.Get("logger")
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if !hadLogger {
		t.Fatal("request-scoped logger not set")
	}
}

func TestLoggerFromFallback(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	if LoggerFrom(c) == nil {
		t.Fatal("LoggerFrom returned nil without middleware")
	}
}

func TestRecoveryReturnsJSON500(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID(), Recovery())
	r.GET("/boom", func(c *gin.Context) { panic("kaboom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type = %q", ct)
	}
	if w.Header().Get(requestIDHeader) == "" {
		t.Fatal("request id missing from panic response")
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("abcdef", 3); got != "abc…" {
		t.Fatalf("truncate = %q", got)
	}
	if got := truncate("abc", 0); got != "abc" {
		t.Fatalf("truncate disabled = %q", got)
	}
	if got := truncate("ab", 5); got != "ab" {
		t.Fatalf("truncate short = %q", got)
	}
}

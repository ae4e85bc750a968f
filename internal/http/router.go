// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging, panic recovery, metrics, CORS,
// security headers, compression, and rate limiting.
//
// Design goals:
//   - Observability first (OTel + Prometheus)
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
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/pstavrou/go-llm-chat-backend/internal/cancel"
	"github.com/pstavrou/go-llm-chat-backend/internal/config"
	"github.com/pstavrou/go-llm-chat-backend/internal/domain"
	"github.com/pstavrou/go-llm-chat-backend/internal/http/handlers"
	"github.com/pstavrou/go-llm-chat-backend/internal/http/middleware"
	"github.com/pstavrou/go-llm-chat-backend/internal/inference"
	"github.com/pstavrou/go-llm-chat-backend/internal/repo"
	"github.com/pstavrou/go-llm-chat-backend/internal/services"
)

// turnRepoShim adapts the repository free functions to the services.TurnRepo
// interface expected by ChatService. This keeps services decoupled from the
// concrete repo package while reusing its functions.
type turnRepoShim struct{}

// AppendTurn proxies repo.AppendTurn.
func (turnRepoShim) AppendTurn(ctx context.Context, db *gorm.DB, userID, sender, text, imageBase64 string) (*domain.ChatTurn, error) {
	return repo.AppendTurn(ctx, db, userID, sender, text, imageBase64)
}

// ListTurns proxies repo.ListTurns.
func (turnRepoShim) ListTurns(ctx context.Context, db *gorm.DB, userID string) ([]domain.ChatTurn, error) {
	return repo.ListTurns(ctx, db, userID)
}

// ListRecentTurns proxies repo.ListRecentTurns.
func (turnRepoShim) ListRecentTurns(ctx context.Context, db *gorm.DB, userID string, limit int) ([]domain.ChatTurn, error) {
	return repo.ListRecentTurns(ctx, db, userID, limit)
}

// CountTurns proxies repo.CountTurns.
func (turnRepoShim) CountTurns(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	return repo.CountTurns(ctx, db, userID)
}

// ListTurnsPage proxies repo.ListTurnsPage.
func (turnRepoShim) ListTurnsPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.ChatTurn, error) {
	return repo.ListTurnsPage(ctx, db, userID, offset, limit)
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine, then mounts the public API under the configured base path.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. Logger: structured access logs
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. Rate limiter (per user/IP) in front of the expensive LLM path
//  8. Compression, CORS, and security headers
func RegisterRoutes(r *gin.Engine, db *gorm.DB, llm inference.Client, reg *cancel.Registry, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging
	r.Use(middleware.Logger())

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (8 MiB; base64 image payloads are bulky)
	r.Use(limitBody(8 << 20))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) Rate limiting per user/IP
	if cfg.RateRPS > 0 {
		rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())
		r.Use(rl.Handler())
	}

	// 8) Compression, CORS, security headers
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	if len(cfg.CORS.AllowedOrigins) == 0 {
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-User-ID"},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-User-ID"},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

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

	// Dependency injection: service ← repo/db/llm/registry
	chatSvc := services.NewChatService(db, turnRepoShim{}, llm, reg)
	chatSvc.HistoryLimit = cfg.HistoryLimit
	chatSvc.MaxPromptRunes = cfg.MaxPromptRunes

	h := handlers.New(chatSvc)
	if cfg.MaxPromptRunes > 0 {
		h.MaxPromptRunes = cfg.MaxPromptRunes
	}

	// Public API
	api := groupWithPrefix(r, cfg.APIBasePath)
	{
		api.POST("/chat/send", h.SendMessage)
		api.POST("/chat/stop", h.StopMessage)
		api.GET("/chat/history", h.GetHistory)
	}
}

// limitBody caps the request body size for all endpoints using
// http.MaxBytesReader; oversized bodies error on read downstream.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}

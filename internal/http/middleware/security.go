// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file provides SecurityHeaders, a hardening middleware that attaches a
// conservative set of HTTP security headers suitable for a JSON API behind a
// reverse proxy. HSTS is opt-in and only emitted when the request is actually
// HTTPS; there is no CSP because the API never serves HTML.
package middleware

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
)

// SecurityOptions configures the headers emitted by SecurityHeaders.
type SecurityOptions struct {
	// EnableHSTS emits Strict-Transport-Security for HTTPS requests. Only
	// enable when traffic is HTTPS end-to-end, proxy hop included.
	EnableHSTS bool
	// HSTSMaxAge is the HSTS lifetime; defaults to 180 days when unset.
	HSTSMaxAge time.Duration
	// NoStore adds Cache-Control: no-store for sensitive responses.
	NoStore bool
	// EnablePolicy includes Permissions-Policy and related browser policies.
	EnablePolicy bool
}

// SecurityHeaders returns a Gin middleware adding conservative security
// headers to every response.
func SecurityHeaders(opts SecurityOptions) gin.HandlerFunc {
	maxAge := opts.HSTSMaxAge
	if maxAge <= 0 {
		maxAge = 180 * 24 * time.Hour
	}
	hsts := fmt.Sprintf("max-age=%d; includeSubDomains", int64(maxAge.Seconds()))

	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")

		if opts.EnablePolicy {
			h.Set("Permissions-Policy", "geolocation=(), microphone=(), camera=(), payment=()")
			h.Set("X-Permitted-Cross-Domain-Policies", "none")
		}
		if opts.NoStore {
			h.Set("Cache-Control", "no-store")
			h.Set("Pragma", "no-cache")
			h.Set("Expires", "0")
		}
		if opts.EnableHSTS && c.Request.TLS != nil {
			h.Set("Strict-Transport-Security", hsts)
		}

		c.Next()
	}
}

// Package handlers provides HTTP handler implementations for the public API.
//
// This file defines the standard response utilities used across all
// endpoints: a structured error envelope, consistent JSON serialization, and
// helpers for common patterns. Every error response carries a stable `code`
// plus the request correlation ID, so client-side failures can be matched to
// server logs.
//
// Example error response:
//
//	HTTP/1.1 400 Bad Request
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "bad_request",
//	  "message": "message required"
//	}
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pstavrou/go-llm-chat-backend/internal/http/middleware"
)

// ErrorResponse is the standard error envelope returned by all endpoints.
type ErrorResponse struct {
	// RequestID correlates server logs and client errors.
	RequestID string `json:"request_id,omitempty"`
	// Code is a stable, machine-readable string (see errors.go constants).
	Code string `json:"code"`
	// Message is human-readable and safe to show to users.
	Message string `json:"message"`
}

// fail aborts the request with a structured error. Server errors (>=500) are
// logged with the request-scoped logger before the response is written.
func fail(c *gin.Context, status int, code, msg string) {
	resp := ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      code,
		Message:   msg,
	}

	if status >= http.StatusInternalServerError {
		lg := middleware.LoggerFrom(c)
		lg.Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}

	c.AbortWithStatusJSON(status, resp)
}

// Fail is the exported variant of fail(), for use by router setup code.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// ok writes a success JSON response.
func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

// Chat HTTP handlers.
//
// This file exposes the REST endpoints of the chat API:
//   - POST /chat/send     (submit a message, block until the bot reply)
//   - POST /chat/stop     (request cancellation of an in-flight submit)
//   - GET  /chat/history  (list the caller's transcript, paginated)
//
// Handlers are transport-thin: they validate and normalize inputs, delegate
// to the ChatService, and translate outcomes into HTTP responses. Identity is
// taken from upstream middleware (or the X-User-ID header as a demo seam);
// real authentication is an external collaborator.
package handlers

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"

	"github.com/pstavrou/go-llm-chat-backend/internal/domain"
	"github.com/pstavrou/go-llm-chat-backend/internal/services"
	"github.com/pstavrou/go-llm-chat-backend/internal/utils"
)

//
// Service contract (context-aware)
//

// ChatService defines the orchestration operations consumed by HTTP handlers.
// Implementations must be safe for concurrent use and honor the provided
// context for cancellation and timeouts.
type ChatService interface {
	// Submit processes one user message and blocks until a terminal outcome.
	Submit(ctx context.Context, userID, requestID, text, imageBase64 string) (*services.Reply, error)
	// Cancel marks requestID for cancellation and returns immediately.
	Cancel(requestID string)
	// HistoryPage returns a page of the user's transcript and the total count.
	HistoryPage(ctx context.Context, userID string, page, pageSize int) ([]domain.ChatTurn, int64, error)
}

//
// Handler wiring
//

// Handlers groups the chat HTTP endpoints. It depends on the abstract service
// interface to keep transport concerns separate from orchestration logic.
type Handlers struct {
	chatSvc ChatService

	// MaxPromptRunes is the edge-level cap applied before the service's own
	// guard; zero disables it.
	MaxPromptRunes int
}

// New constructs a Handlers instance bound to the given service.
func New(chatSvc ChatService) *Handlers {
	return &Handlers{chatSvc: chatSvc, MaxPromptRunes: 4000}
}

// userID extracts the authenticated user id from the Gin context (set by
// upstream middleware). If absent, it falls back to the "X-User-ID" header
// (tests use it), and finally to "demo-user".
func userID(c *gin.Context) string {
	if v, ok := c.Get("userID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if c != nil && c.Request != nil {
		if h := strings.TrimSpace(c.GetHeader("X-User-ID")); h != "" {
			return h
		}
	}
	return "demo-user"
}

//
// DTOs
//

// SendMessageRequest is the JSON payload for submitting a chat message.
type SendMessageRequest struct {
	// Message is the user prompt. May be empty when an image is attached.
	Message string `json:"message"`
	// RequestID is the caller-supplied token correlating a later stop call.
	// Must be unique per logical request.
	RequestID string `json:"request_id" binding:"required,min=1"`
	// Image is an optional base64-encoded image payload.
	Image string `json:"image,omitempty"`
}

// SendMessageResponse is the JSON envelope for a completed submit.
type SendMessageResponse struct {
	// Reply is the persisted bot turn (model reply, error reply, or
	// cancellation marker).
	Reply *domain.ChatTurn `json:"reply"`
	// Cancelled reports whether the request was stopped by the user.
	Cancelled bool `json:"cancelled"`
}

// StopRequest is the JSON payload for requesting cancellation.
type StopRequest struct {
	RequestID string `json:"request_id" binding:"required,min=1"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// HistoryResponse contains a page of transcript turns and pagination metadata.
type HistoryResponse struct {
	Turns      []domain.ChatTurn `json:"turns"`
	Pagination Pagination        `json:"pagination"`
}

//
// Helpers
//

// nlCollapseRE collapses runs of 3+ newlines to two, preserving paragraphs.
var nlCollapseRE = regexp.MustCompile(`\n{3,}`)

// sanitizeMessage normalizes user text for consistent downstream behavior:
// CRLF/CR to LF, runs of 3+ LFs collapsed to two, surrounding space trimmed.
func sanitizeMessage(raw string) string {
	s := strings.ReplaceAll(raw, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = nlCollapseRE.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// clampHistoryPagination parses page/page_size from query parameters,
// applying defaults and caps.
func clampHistoryPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 50
		maxPageSize     = 200
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}

//
// Handlers
//

// SendMessage handles POST /chat/send. It blocks for the duration of the
// inference call (bounded by the inference client's timeout) and returns the
// persisted bot turn, which may be the cancellation marker when a concurrent
// stop won the race.
func (h *Handlers) SendMessage(c *gin.Context) {
	ctx := c.Request.Context()

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "request_id required")
		return
	}

	message := sanitizeMessage(req.Message)
	if h.MaxPromptRunes > 0 && utf8.RuneCountInString(message) > h.MaxPromptRunes {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, fmt.Sprintf("message too long: max %d runes", h.MaxPromptRunes))
		return
	}
	if message == "" && req.Image == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "message or image required")
		return
	}
	if req.Image != "" {
		if _, err := base64.StdEncoding.DecodeString(req.Image); err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "image must be base64-encoded")
			return
		}
	}

	reply, err := h.chatSvc.Submit(ctx, userID(c), strings.TrimSpace(req.RequestID), message, req.Image)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrEmptyPrompt):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "message or image required")
		case errors.Is(err, services.ErrTooLong):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, fmt.Sprintf("message too long: max %d runes", h.MaxPromptRunes))
		case errors.Is(err, services.ErrMissingRequestID):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "request_id required")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeSendFailed, err.Error())
		}
		return
	}

	ok(c, http.StatusOK, SendMessageResponse{Reply: reply.Turn, Cancelled: reply.Cancelled})
}

// StopMessage handles POST /chat/stop. Cancellation is advisory: the call
// acknowledges immediately with 202 regardless of whether a matching submit
// is in flight. A stale mark expires on its own.
func (h *Handlers) StopMessage(c *gin.Context) {
	var req StopRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "request_id required")
		return
	}

	h.chatSvc.Cancel(strings.TrimSpace(req.RequestID))
	ok(c, http.StatusAccepted, gin.H{"status": "cancellation requested"})
}

// GetHistory handles GET /chat/history. Turns come back oldest-first; read in
// order they reproduce the conversation exactly, including cancellation
// markers in place of stopped bot replies.
func (h *Handlers) GetHistory(c *gin.Context) {
	ctx := c.Request.Context()
	page, pageSize := clampHistoryPagination(c)

	items, total, err := h.chatSvc.HistoryPage(ctx, userID(c), page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeHistoryFailed, err.Error())
		return
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	ok(c, http.StatusOK, HistoryResponse{
		Turns: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}

// Package inference holds the client for the external LLM completion service.
//
// The service exposes a single JSON endpoint: POST {base}/predict with
// {"message": ..., "image": ..., "history": [{"role","content"}, ...]} and
// answers {"response": ...}. One request is issued per chat turn; the client
// performs no retries and owns the only timeout applied to the call. Failures
// are reported as typed errors so the orchestrator can map them to fixed
// user-visible replies instead of propagating them.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Typed failures surfaced by Complete.
var (
	// ErrUnreachable indicates a transport-level failure: the service could
	// not be reached or did not answer within the client timeout.
	ErrUnreachable = errors.New("inference service unreachable")

	// ErrEmptyResponse indicates the service answered successfully but the
	// reply contained no usable text.
	ErrEmptyResponse = errors.New("inference service returned an empty response")
)

// Turn is one entry of the conversational context forwarded with a request.
// Role is "user" or "assistant" on the wire.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is the payload for one completion call.
type Request struct {
	Message string `json:"message"`
	Image   string `json:"image,omitempty"`
	History []Turn `json:"history,omitempty"`
}

type response struct {
	Response string `json:"response"`
}

// Client is the contract the orchestrator depends on. Implementations must be
// safe for concurrent use; Complete blocks until the service answers, the
// context is done, or the client's own timeout fires.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// HTTPClient talks to the completion service over HTTP.
type HTTPClient struct {
	// BaseURL is the service root, e.g. "http://llm:5000".
	BaseURL string
	// HC is the underlying HTTP client. Its Timeout bounds the whole call.
	HC *http.Client
}

// DefaultTimeout bounds a completion call when no timeout is configured.
// Vision-model inference is slow; this is deliberately generous.
const DefaultTimeout = 120 * time.Second

// NewHTTPClient constructs an HTTPClient for baseURL with the given timeout.
// A timeout <= 0 falls back to DefaultTimeout.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HC:      &http.Client{Timeout: timeout},
	}
}

// Complete sends one completion request and returns the reply text.
//
// Error mapping:
//   - transport errors (connection refused, DNS, client timeout) → ErrUnreachable
//   - 2xx with a blank "response" field → ErrEmptyResponse
//   - non-2xx status or undecodable body → wrapped generic error
func (c *HTTPClient) Complete(ctx context.Context, req Request) (string, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("inference: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/predict", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("inference: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.HC.Do(httpReq)
	if err != nil {
		log.Warn().Err(err).Str("url", c.BaseURL).Msg("inference call failed")
		return "", fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("inference: read response: %w", err)
	}

	log.Debug().
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("inference call completed")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("inference: unexpected status %d", resp.StatusCode)
	}

	var out response
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("inference: decode response: %w", err)
	}
	if strings.TrimSpace(out.Response) == "" {
		return "", ErrEmptyResponse
	}
	return out.Response, nil
}

// Package services – ChatService
//
// This file implements ChatService, the request orchestrator at the heart of
// the backend. It turns one submitted user message into a durable pair of
// transcript turns and a bot reply, while tolerating a concurrently issued
// stop request for the same logical request.
//
// The orchestrator owns no long-lived state of its own: every Submit is
// independent except for its reads/writes against the injected cancellation
// registry and the transcript store. The registry is checked twice: once
// before the blocking inference call (fast-fail, skips the expensive call)
// and once after it (the computed reply is discarded). Both checks use an
// atomic test-and-clear, so a mark is observed and removed in one step. A
// stop that lands between the late check and the final write is not honored;
// that window is a known property of the protocol, not something Submit
// papers over.
//
// Observability: public methods are OpenTelemetry-instrumented, and the
// orchestrator exports Prometheus counters for submits, cancellations, and
// inference failures plus a latency histogram for the inference call.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/pstavrou/go-llm-chat-backend/internal/cancel"
	"github.com/pstavrou/go-llm-chat-backend/internal/domain"
	"github.com/pstavrou/go-llm-chat-backend/internal/inference"
)

// Fixed user-visible replies. These exact strings are persisted as bot turns,
// so changing them changes stored transcripts.
const (
	// CancelledReply marks a turn that was stopped at the user's request.
	CancelledReply = "Request Stopped by you"

	// unreachableReply is returned when the inference service cannot be reached.
	unreachableReply = "Error: the AI service is unreachable. Please try again later."

	// emptyReply is returned when the inference service answers with no usable text.
	emptyReply = "Error: the AI service returned an empty reply."

	// failedReply covers every other inference failure.
	failedReply = "Error processing your request."
)

// roleAssistant is the wire-level role for stored bot turns in the
// history forwarded to the inference service.
const roleAssistant = "assistant"

var (
	submitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_submits_total",
			Help: "Total chat submissions by terminal outcome (reply, cancelled, error).",
		},
		[]string{"outcome"},
	)

	inferenceFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_inference_failures_total",
			Help: "Inference call failures by kind (unreachable, empty, other).",
		},
		[]string{"kind"},
	)

	inferenceLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name: "chat_inference_duration_seconds",
			Help: "Wall-clock duration of inference calls in seconds.",
			// Vision-model inference routinely takes tens of seconds.
			Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 20, 30, 60, 120},
		},
	)
)

func init() {
	prometheus.MustRegister(submitsTotal, inferenceFailures, inferenceLatency)
}

// TurnRepo defines the transcript store contract required by ChatService.
// Implementations are responsible for durable, append-only persistence of
// turns, ordered by creation time within a user partition.
type TurnRepo interface {
	// AppendTurn durably writes one turn for the given user.
	AppendTurn(ctx context.Context, db *gorm.DB, userID, sender, text, imageBase64 string) (*domain.ChatTurn, error)

	// ListTurns returns all turns of a user in chronological order.
	ListTurns(ctx context.Context, db *gorm.DB, userID string) ([]domain.ChatTurn, error)

	// ListRecentTurns returns the newest `limit` turns in chronological order.
	ListRecentTurns(ctx context.Context, db *gorm.DB, userID string, limit int) ([]domain.ChatTurn, error)

	// CountTurns returns the total number of turns for pagination.
	CountTurns(ctx context.Context, db *gorm.DB, userID string) (int64, error)

	// ListTurnsPage returns a page of turns in chronological order.
	ListTurnsPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.ChatTurn, error)
}

// Reply is the terminal outcome of Submit.
type Reply struct {
	// Turn is the persisted bot turn: the model's reply, a fixed error
	// reply, or the cancellation marker.
	Turn *domain.ChatTurn
	// Cancelled reports whether the request was stopped by the user.
	Cancelled bool
}

// ChatService orchestrates one chat turn end to end: persist the user's
// message, check for cancellation, call the inference service, re-check, and
// persist the final bot turn. It also serves transcript reads.
type ChatService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the transcript repository used by this service.
	Repo TurnRepo
	// LLM issues the blocking completion call. Its timeout policy is its own.
	LLM inference.Client
	// Cancels is the injected cancellation registry shared with Cancel.
	Cancels *cancel.Registry

	// HistoryLimit is the number of recent turns forwarded as context to the
	// inference service. Zero disables history attachment entirely.
	HistoryLimit int
	// MaxPromptRunes caps submitted text by rune length. Zero disables the cap.
	MaxPromptRunes int
}

// NewChatService constructs a ChatService with the given collaborators.
func NewChatService(db *gorm.DB, repo TurnRepo, llm inference.Client, reg *cancel.Registry) *ChatService {
	return &ChatService{
		DB:           db,
		Repo:         repo,
		LLM:          llm,
		Cancels:      reg,
		HistoryLimit: 10,
	}
}

// Submit processes one user message identified by requestID and returns the
// terminal outcome. The user's turn is persisted unconditionally before
// anything else, so it survives even if the request is later cancelled.
// Inference failures never propagate: they become fixed reply strings that
// are persisted like any other bot turn. Only transcript store failures
// abort the call, wrapped in ErrPersistence.
//
// No lock is held across the inference call; a concurrent Cancel for the
// same requestID proceeds immediately and takes effect at the next checkpoint.
func (s *ChatService) Submit(ctx context.Context, userID, requestID, text, imageBase64 string) (*Reply, error) {
	tr := otel.Tracer("services/ChatService")
	ctx, span := tr.Start(ctx, "Submit",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("request.id", requestID),
		),
	)
	defer span.End()

	text = strings.TrimSpace(text)
	if text == "" && imageBase64 == "" {
		return nil, ErrEmptyPrompt
	}
	if s.MaxPromptRunes > 0 && utf8.RuneCountInString(text) > s.MaxPromptRunes {
		return nil, ErrTooLong
	}
	if strings.TrimSpace(requestID) == "" {
		return nil, ErrMissingRequestID
	}

	// 1) The user's input is never lost, even if the request is cancelled.
	if _, err := s.Repo.AppendTurn(ctx, s.DB, userID, domain.SenderUser, text, imageBase64); err != nil {
		submitsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: user turn: %v", ErrPersistence, err)
	}

	// 2) Early check: a stop that already arrived skips the expensive call.
	if s.Cancels.Consume(requestID) {
		return s.finishCancelled(ctx, userID, requestID)
	}

	// 3) Blocking inference call. Timeout policy belongs to the client.
	reply := s.askLLM(ctx, userID, text, imageBase64)

	// 4) Late check: a stop that arrived mid-flight discards the reply.
	if s.Cancels.Consume(requestID) {
		return s.finishCancelled(ctx, userID, requestID)
	}

	// 5) Persist and return the reply.
	turn, err := s.Repo.AppendTurn(ctx, s.DB, userID, domain.SenderBot, reply, "")
	if err != nil {
		submitsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: bot turn: %v", ErrPersistence, err)
	}
	submitsTotal.WithLabelValues("reply").Inc()
	return &Reply{Turn: turn}, nil
}

// Cancel marks requestID for cancellation and returns immediately. It is
// advisory: an in-flight inference call is not interrupted, and a mark with
// no matching submit expires on its own.
func (s *ChatService) Cancel(requestID string) {
	s.Cancels.Mark(requestID)
	log.Debug().Str("request_id", requestID).Msg("cancellation requested")
}

// History returns the full transcript of userID in chronological order.
func (s *ChatService) History(ctx context.Context, userID string) ([]domain.ChatTurn, error) {
	tr := otel.Tracer("services/ChatService")
	ctx, span := tr.Start(ctx, "History",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	return s.Repo.ListTurns(ctx, s.DB, userID)
}

// HistoryPage returns a page of the transcript in chronological order along
// with the total turn count. Invalid page/pageSize values get defaults.
func (s *ChatService) HistoryPage(ctx context.Context, userID string, page, pageSize int) ([]domain.ChatTurn, int64, error) {
	tr := otel.Tracer("services/ChatService")
	ctx, span := tr.Start(ctx, "HistoryPage",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	total, err := s.Repo.CountTurns(ctx, s.DB, userID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.ChatTurn{}, 0, nil
	}

	items, err := s.Repo.ListTurnsPage(ctx, s.DB, userID, offset, pageSize)
	return items, total, err
}

// finishCancelled persists the cancellation marker in place of a bot reply
// and reports the cancelled outcome.
func (s *ChatService) finishCancelled(ctx context.Context, userID, requestID string) (*Reply, error) {
	turn, err := s.Repo.AppendTurn(ctx, s.DB, userID, domain.SenderBot, CancelledReply, "")
	if err != nil {
		submitsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: cancellation turn: %v", ErrPersistence, err)
	}
	submitsTotal.WithLabelValues("cancelled").Inc()
	log.Info().Str("user_id", userID).Str("request_id", requestID).Msg("request stopped by user")
	return &Reply{Turn: turn, Cancelled: true}, nil
}

// askLLM performs the single inference call for this submit and maps every
// failure to a fixed reply string. It never returns an error: whatever comes
// back is what gets persisted as the bot turn.
func (s *ChatService) askLLM(ctx context.Context, userID, text, imageBase64 string) string {
	req := inference.Request{Message: text, Image: imageBase64}

	// Read-side enrichment only; a history fetch failure downgrades the call
	// to context-free rather than failing the whole submit.
	if s.HistoryLimit > 0 {
		if recent, err := s.Repo.ListRecentTurns(ctx, s.DB, userID, s.HistoryLimit); err == nil {
			req.History = toWireHistory(recent)
		} else {
			log.Warn().Err(err).Str("user_id", userID).Msg("history fetch failed; sending without context")
		}
	}

	start := time.Now()
	answer, err := s.LLM.Complete(ctx, req)
	inferenceLatency.Observe(time.Since(start).Seconds())
	if err == nil {
		return answer
	}

	switch {
	case errors.Is(err, inference.ErrUnreachable):
		inferenceFailures.WithLabelValues("unreachable").Inc()
		log.Error().Err(err).Str("user_id", userID).Msg("inference service unreachable")
		return unreachableReply
	case errors.Is(err, inference.ErrEmptyResponse):
		inferenceFailures.WithLabelValues("empty").Inc()
		log.Warn().Str("user_id", userID).Msg("inference service returned empty reply")
		return emptyReply
	default:
		inferenceFailures.WithLabelValues("other").Inc()
		log.Error().Err(err).Str("user_id", userID).Msg("inference call failed")
		return failedReply
	}
}

// toWireHistory maps stored turns to the role/content pairs the inference
// service expects: "user" stays "user", "bot" becomes "assistant".
func toWireHistory(turns []domain.ChatTurn) []inference.Turn {
	out := make([]inference.Turn, 0, len(turns))
	for _, t := range turns {
		role := t.Sender
		if role == domain.SenderBot {
			role = roleAssistant
		}
		out = append(out, inference.Turn{Role: role, Content: t.Text})
	}
	return out
}

// Package assistant narrates search outcomes over the assistant WebSocket
// channel. Every message is generated by the LLM and validated against a
// strict schema before it reaches the wire; the service never produces
// deterministic user-facing text. When generation fails, clients receive an
// assistant_error event and fall back to their own copy.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dineseek/dineseek/pkg/config"
	"github.com/dineseek/dineseek/pkg/llm"
	"github.com/dineseek/dineseek/pkg/models"
)

// Client-visible error codes carried by assistant_error events.
const (
	ErrorCodeTimeout       = "LLM_TIMEOUT"
	ErrorCodeFailed        = "LLM_FAILED"
	ErrorCodeSchemaInvalid = "SCHEMA_INVALID"
)

// errSchemaInvalid marks responses that parsed but violated the narration
// schema.
var errSchemaInvalid = errors.New("assistant response rejected")

// Context carries the facts the narrator may use. Type selects the
// narration; the other fields are read depending on it.
type Context struct {
	Type models.AssistantType

	// Language is the resolved uiLanguage (he, en or other). Anything
	// but Hebrew is narrated in English.
	Language string

	// Query is the original user query.
	Query string

	// ResultCount and TopNames feed the SUMMARY narration.
	ResultCount int
	TopNames    []string

	// FailureCode is the classified error kind for SEARCH_FAILED.
	FailureCode string

	// Reason is the gate or clarify reason code.
	Reason string
}

// Publisher is the slice of the WebSocket publisher the narrator needs.
type Publisher interface {
	PublishAssistant(requestID string, msg models.AssistantMessage) int
	PublishAssistantError(requestID, errorCode string) int
}

// Service generates and publishes assistant narrations. Stateless apart
// from the shared LLM client.
type Service struct {
	llm       llm.Client
	publisher Publisher
	cfg       *config.Config
}

// NewService builds the narrator on top of a shared LLM client.
func NewService(client llm.Client, publisher Publisher, cfg *config.Config) *Service {
	return &Service{llm: client, publisher: publisher, cfg: cfg}
}

// GenerateAndPublish produces the narration for actx, publishes it on the
// assistant channel and returns its message for optional HTTP echo. On any
// failure it publishes an assistant_error event instead and returns
// httpFallback.
func (s *Service) GenerateAndPublish(ctx context.Context, requestID string, actx Context, httpFallback string) string {
	msg, err := s.generate(ctx, actx)
	if err != nil {
		code := classifyError(err)
		slog.Warn("assistant_generation_failed",
			"request_id", requestID,
			"context_type", string(actx.Type),
			"error_code", code,
			"error", err)
		s.publisher.PublishAssistantError(requestID, code)
		return httpFallback
	}

	s.publisher.PublishAssistant(requestID, msg)
	return msg.Message
}

// generate runs one LLM call bounded by the assistant purpose timeout and
// validates the response.
func (s *Service) generate(ctx context.Context, actx Context) (models.AssistantMessage, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.LLM.Timeout(config.PurposeAssistant))
	defer cancel()

	resp, err := s.llm.Complete(callCtx, llm.Request{
		Purpose:     string(config.PurposeAssistant),
		Model:       s.cfg.LLM.Model(config.PurposeAssistant, s.cfg.OpenAIModelDefault),
		System:      assistantSystemPrompt,
		User:        buildUserPrompt(actx),
		MaxTokens:   300,
		Temperature: 0.7,
		ForceJSON:   true,
	})
	if err != nil {
		return models.AssistantMessage{}, err
	}

	doc, err := llm.DecodeStrict[assistantDoc](resp.Text)
	if err != nil {
		return models.AssistantMessage{}, fmt.Errorf("%w: %v", errSchemaInvalid, err)
	}
	return doc.validate(actx.Type)
}

// assistantDoc is the raw LLM response shape before validation.
type assistantDoc struct {
	Type         string  `json:"type"`
	Message      string  `json:"message"`
	Question     *string `json:"question"`
	BlocksSearch bool    `json:"blocksSearch"`
}

// validate checks the narration against the schema and normalizes it.
// CLARIFY always blocks search and must carry a question.
func (d assistantDoc) validate(requested models.AssistantType) (models.AssistantMessage, error) {
	if strings.TrimSpace(d.Message) == "" {
		return models.AssistantMessage{}, fmt.Errorf("%w: empty message", errSchemaInvalid)
	}
	if d.Type != string(requested) {
		return models.AssistantMessage{}, fmt.Errorf("%w: type %q does not match requested %q",
			errSchemaInvalid, d.Type, requested)
	}

	msg := models.AssistantMessage{
		Type:         requested,
		Message:      d.Message,
		Question:     d.Question,
		BlocksSearch: d.BlocksSearch,
	}
	if requested == models.AssistantClarify {
		if d.Question == nil || strings.TrimSpace(*d.Question) == "" {
			return models.AssistantMessage{}, fmt.Errorf("%w: clarify without question", errSchemaInvalid)
		}
		msg.BlocksSearch = true
	}
	return msg, nil
}

// classifyError maps a generation failure onto the client-visible code.
func classifyError(err error) string {
	switch {
	case errors.Is(err, llm.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return ErrorCodeTimeout
	case errors.Is(err, errSchemaInvalid):
		return ErrorCodeSchemaInvalid
	default:
		return ErrorCodeFailed
	}
}

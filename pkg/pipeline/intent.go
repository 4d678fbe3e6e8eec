package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dineseek/dineseek/pkg/config"
	"github.com/dineseek/dineseek/pkg/llm"
	"github.com/dineseek/dineseek/pkg/metrics"
	"github.com/dineseek/dineseek/pkg/models"
)

// Fallback reasons recorded on the intent when the LLM could not be used.
const (
	intentFallbackTimeout = "fallback_timeout"
	intentFallbackError   = "fallback_error"
	intentFallbackSchema  = "fallback_schema_invalid"
)

// runIntent extracts the route and anchors. It never fails: any error
// degrades to a TEXTSEARCH intent with a fallback reason, so a flaky intent
// model cannot take the pipeline down.
func (o *Route2Orchestrator) runIntent(ctx context.Context, rctx Context, query string) models.Intent {
	started := time.Now()
	defer func() { metrics.ObserveStage(StageIntent, time.Since(started)) }()

	intent, err := o.intentCall(ctx, query)
	if err == nil {
		return intent
	}

	reason := intentFallbackReason(err)
	slog.Warn("intent_fallback",
		"request_id", rctx.RequestID,
		"error_kind", string(KindIntentLLMError),
		"fallback_reason", reason,
		"error", err)
	return models.Intent{Route: models.RouteTextSearch, Language: "other", Reason: reason}
}

func (o *Route2Orchestrator) intentCall(ctx context.Context, query string) (models.Intent, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.cfg.LLM.Timeout(config.PurposeIntent))
	defer cancel()

	resp, err := o.llm.Complete(callCtx, llm.Request{
		Purpose:   string(config.PurposeIntent),
		Model:     o.cfg.LLM.Model(config.PurposeIntent, o.cfg.OpenAIModelDefault),
		System:    intentSystemPrompt,
		User:      fmt.Sprintf(intentUserTemplate, query),
		MaxTokens: 250,
		ForceJSON: true,
	})
	if err != nil {
		return models.Intent{}, err
	}

	intent, err := llm.DecodeStrict[models.Intent](resp.Text)
	if err != nil {
		return models.Intent{}, err
	}

	intent.Route = models.RouteKind(strings.ToUpper(strings.TrimSpace(string(intent.Route))))
	switch intent.Route {
	case models.RouteTextSearch, models.RouteNearby, models.RouteLandmarkPlan,
		models.RouteStop, models.RouteClarify:
	default:
		return models.Intent{}, fmt.Errorf("%w: intent route %q", ErrSchemaInvalid, intent.Route)
	}

	if lang := normalizeUILanguage(intent.Language); lang != "" {
		intent.Language = lang
	} else {
		intent.Language = "other"
	}
	if intent.ExplicitDistanceMeters < 0 {
		intent.ExplicitDistanceMeters = 0
	}
	return intent, nil
}

// intentFallbackReason names why the deterministic fallback was used.
func intentFallbackReason(err error) string {
	switch {
	case errors.Is(err, llm.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return intentFallbackTimeout
	case errors.Is(err, llm.ErrNotJSON), errors.Is(err, ErrSchemaInvalid):
		return intentFallbackSchema
	default:
		return intentFallbackError
	}
}

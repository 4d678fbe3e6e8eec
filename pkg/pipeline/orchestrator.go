// Package pipeline executes one restaurant search: gate, intent and filter
// extraction, route mapping, the provider call and response assembly. Stages
// with deterministic fallbacks degrade in place; every other failure is
// classified into a closed taxonomy and surfaced exactly once as an error
// frame plus a SEARCH_FAILED narration.
package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/dineseek/dineseek/pkg/assistant"
	"github.com/dineseek/dineseek/pkg/config"
	"github.com/dineseek/dineseek/pkg/llm"
	"github.com/dineseek/dineseek/pkg/metrics"
	"github.com/dineseek/dineseek/pkg/models"
	"github.com/dineseek/dineseek/pkg/places"
	"github.com/dineseek/dineseek/pkg/version"
)

// Response meta sources.
const (
	sourceRoute2      = "route2"
	sourceGateStop    = "route2_gate_stop"
	sourceGateClarify = "route2_gate_clarify"
	sourceIntentStop  = "route2_intent_stop"
	sourceClarify     = "route2_clarify"
)

// EventPublisher is the slice of the WebSocket fan-out the pipeline needs.
// The orchestrator never holds socket state.
type EventPublisher interface {
	PublishProgress(requestID, stage, status string, progress *int, message string) int
	PublishError(requestID, stage, code, message string) int
}

// Narrator produces the assistant-channel narration.
type Narrator interface {
	GenerateAndPublish(ctx context.Context, requestID string, actx assistant.Context, httpFallback string) string
}

// Context identifies one search through the stages. The runner creates it;
// it never outlives the request.
type Context struct {
	RequestID string
	SessionID string
	TraceID   string
}

// Route2Orchestrator runs the staged search pipeline.
type Route2Orchestrator struct {
	llm       llm.Client
	places    places.Client
	narrator  Narrator
	publisher EventPublisher
	cfg       *config.Config
}

// NewRoute2Orchestrator wires the pipeline onto its providers.
func NewRoute2Orchestrator(llmClient llm.Client, placesClient places.Client, narrator Narrator, publisher EventPublisher, cfg *config.Config) *Route2Orchestrator {
	return &Route2Orchestrator{
		llm:       llmClient,
		places:    placesClient,
		narrator:  narrator,
		publisher: publisher,
		cfg:       cfg,
	}
}

// Search runs the pipeline for one request. ctx carries the global deadline.
// Guard outcomes (gate stop, clarify, near-me without location) return a
// successful empty response; stage-fatal failures return a classified
// *Error after the error frame and SEARCH_FAILED narration were published.
func (o *Route2Orchestrator) Search(ctx context.Context, req models.SearchRequest, rctx Context) (models.SearchResponse, error) {
	query := strings.TrimSpace(req.Query)
	lang := localeLanguage(req.Locale)
	if lang == "" {
		lang = "other"
	}

	// Step 1: validate the request and the keys the stages will need.
	if query == "" {
		return models.SearchResponse{}, o.handlePipelineError(ctx, rctx, lang, query, StagePipeline, ErrEmptyQuery)
	}
	if o.cfg.OpenAIKey == "" {
		return models.SearchResponse{}, o.handlePipelineError(ctx, rctx, lang, query, StageGate, ErrOpenAIKeyMissing)
	}
	if o.cfg.GoogleKey == "" {
		return models.SearchResponse{}, o.handlePipelineError(ctx, rctx, lang, query, StageGoogle, ErrGoogleKeyMissing)
	}

	loc := req.UserLocation
	locationInvalid := false
	if loc != nil && !validLatLng(*loc) {
		slog.Warn("invalid_user_location", "request_id", rctx.RequestID, "lat", loc.Lat, "lng", loc.Lng)
		loc = nil
		locationInvalid = true
	}

	// Step 2: best-effort region from the user location.
	userRegion := o.resolveUserRegion(ctx, rctx, loc)

	// Step 3: gate.
	gate, err := o.runGate(ctx, query)
	if err != nil {
		return models.SearchResponse{}, o.handlePipelineError(ctx, rctx, lang, query, StageGate, err)
	}
	o.progress(rctx, StageGate, "completed")

	switch gate.Decision {
	case gateStop:
		slog.Info("gate_stopped", "request_id", rctx.RequestID, "reason", gate.Reason)
		return o.guardResponse(ctx, rctx, guardOutcome{
			assistantType: models.AssistantGateFail,
			language:      lang,
			query:         query,
			reason:        gate.Reason,
			failureReason: models.FailureLowConfidence,
			source:        sourceGateStop,
		}), nil
	case gateClarify:
		slog.Info("gate_clarify", "request_id", rctx.RequestID, "reason", gate.Reason)
		return o.guardResponse(ctx, rctx, guardOutcome{
			assistantType: models.AssistantClarify,
			language:      lang,
			query:         query,
			reason:        gate.Reason,
			failureReason: models.FailureLowConfidence,
			source:        sourceGateClarify,
		}), nil
	}

	// Step 4: fire the parallel extractions. Whatever is still pending when
	// the pipeline returns is drained so no call finishes unobserved.
	baseTask := newTask(ctx, StageBaseFilters, func(c context.Context) (baseFiltersDoc, error) {
		return o.runBaseFilters(c, rctx, query), nil
	})
	hintsTask := newTask(ctx, StageConstraints, func(c context.Context) (models.PostConstraints, error) {
		return o.runPostConstraints(c, rctx, query), nil
	})
	defer func() {
		baseTask.drain(rctx.RequestID)
		hintsTask.drain(rctx.RequestID)
	}()

	// Step 5: intent. Never fatal; falls back to TEXTSEARCH.
	intent := o.runIntent(ctx, rctx, query)
	o.progress(rctx, StageIntent, "completed")
	if intent.Language != "" {
		lang = intent.Language
	}

	// Step 6: deterministic near-me handling over the original query.
	nm := detectNearMe(query, o.cfg.Tuning)
	if nm.Triggered {
		if loc == nil {
			if locationInvalid {
				return models.SearchResponse{}, o.handlePipelineError(ctx, rctx, lang, query, StageRegion, ErrInvalidLocation)
			}
			slog.Info("nearme_without_location", "request_id", rctx.RequestID)
			return o.guardResponse(ctx, rctx, guardOutcome{
				assistantType: models.AssistantClarify,
				language:      lang,
				query:         query,
				reason:        "location_required",
				failureReason: models.FailureLocationRequired,
				source:        sourceClarify,
			}), nil
		}
		intent.Route = models.RouteNearby
		intent.NearMe = true
		if nm.DistanceMeters > 0 {
			intent.ExplicitDistanceMeters = nm.DistanceMeters
		}
	}

	// Step 7: route guards that need no further model calls.
	switch intent.Route {
	case models.RouteStop:
		return o.guardResponse(ctx, rctx, guardOutcome{
			assistantType: models.AssistantGateFail,
			language:      lang,
			query:         query,
			reason:        intent.Reason,
			failureReason: models.FailureLowConfidence,
			source:        sourceIntentStop,
		}), nil
	case models.RouteClarify:
		return o.guardResponse(ctx, rctx, guardOutcome{
			assistantType: models.AssistantClarify,
			language:      lang,
			query:         query,
			reason:        intent.Reason,
			failureReason: models.FailureLowConfidence,
			source:        sourceClarify,
		}), nil
	case models.RouteNearby:
		if loc == nil {
			return o.guardResponse(ctx, rctx, guardOutcome{
				assistantType: models.AssistantClarify,
				language:      lang,
				query:         query,
				reason:        "location_required",
				failureReason: models.FailureLocationRequired,
				source:        sourceClarify,
			}), nil
		}
	}

	// Step 8: route mapper.
	plan, err := o.runMapper(ctx, query, intent)
	if err != nil {
		return models.SearchResponse{}, o.handlePipelineError(ctx, rctx, lang, query, StageRouteMapper, err)
	}

	// Step 9: filters resolve. The extraction degrades internally, so an
	// Await failure only means the pipeline budget is spent.
	base, err := baseTask.Await(ctx)
	if err != nil {
		slog.Warn("base_filters_unsettled", "request_id", rctx.RequestID, "error", err)
		base = baseFiltersDoc{}
	}
	filters := resolveSharedFilters(base, intent, userRegion, req, o.cfg.Tuning)
	lang = filters.UILanguage
	o.progress(rctx, StageBaseFilters, "completed")

	// Step 10: provider call.
	o.progress(rctx, StageGoogle, "running")
	provider, err := o.runProvider(ctx, rctx, plan, filters, loc, intent.ExplicitDistanceMeters)
	if err != nil {
		return models.SearchResponse{}, o.handlePipelineError(ctx, rctx, lang, query, StageGoogle, err)
	}
	o.progress(rctx, StageGoogle, "completed")

	// Step 11: post-filter hints.
	hints, err := hintsTask.Await(ctx)
	if err != nil {
		slog.Warn("post_constraints_unsettled", "request_id", rctx.RequestID, "error", err)
		hints = models.PostConstraints{}
	}
	o.progress(rctx, StagePostFilter, "completed")

	// Step 12: respond.
	resp := o.buildResponse(responseInput{
		rctx:     rctx,
		filters:  filters,
		hints:    hints,
		provider: provider,
	})
	slog.Info("search_completed",
		"request_id", rctx.RequestID,
		"session_id", rctx.SessionID,
		"trace_id", rctx.TraceID,
		"route", string(intent.Route),
		"region_code", filters.RegionCode,
		"result_count", resp.Meta.ResultCount)
	return resp, nil
}

// resolveUserRegion reverse-geocodes the user location to a region code.
// Best effort: failures log and return empty, never fail the search.
func (o *Route2Orchestrator) resolveUserRegion(ctx context.Context, rctx Context, loc *models.LatLng) string {
	if loc == nil {
		return ""
	}
	started := time.Now()
	defer func() { metrics.ObserveStage(StageRegion, time.Since(started)) }()

	callCtx, cancel := context.WithTimeout(ctx, o.cfg.Pipeline.GeocodeTimeout)
	defer cancel()

	region, err := o.places.ReverseRegion(callCtx, *loc)
	if err != nil {
		slog.Debug("reverse_region_failed", "request_id", rctx.RequestID, "error", err)
		return ""
	}
	return region
}

// guardOutcome describes an early exit that is still a successful search.
type guardOutcome struct {
	assistantType models.AssistantType
	language      string
	query         string
	reason        string
	failureReason string
	source        string
}

// guardResponse publishes the guard's narration and builds the empty
// response the job finishes with.
func (o *Route2Orchestrator) guardResponse(ctx context.Context, rctx Context, g guardOutcome) models.SearchResponse {
	msg := o.narrator.GenerateAndPublish(ctx, rctx.RequestID, assistant.Context{
		Type:     g.assistantType,
		Language: g.language,
		Query:    g.query,
		Reason:   g.reason,
	}, "")

	return models.SearchResponse{
		Results: []models.RestaurantResult{},
		Assist:  models.AssistEcho{Message: msg},
		Meta: models.ResponseMeta{
			Source:           g.source,
			FailureReason:    g.failureReason,
			UILanguage:       g.language,
			TraceID:          rctx.TraceID,
			ContractsVersion: version.ContractsVersion,
		},
	}
}

// handlePipelineError classifies err, logs it, publishes the error frame on
// the search channel and fires the SEARCH_FAILED narration. The classified
// error is returned for the runner's terminal update.
func (o *Route2Orchestrator) handlePipelineError(ctx context.Context, rctx Context, language, query, stage string, err error) error {
	perr := Classify(err, stage)
	slog.Error("pipeline_failed",
		"request_id", rctx.RequestID,
		"session_id", rctx.SessionID,
		"trace_id", rctx.TraceID,
		"error_kind", string(perr.Kind),
		"error_stage", perr.Stage,
		"error", err)

	o.publisher.PublishError(rctx.RequestID, perr.Stage, string(perr.Kind), perr.Msg)

	// The narration runs on a detached context: the pipeline budget that
	// killed the stage may already be spent.
	o.narrator.GenerateAndPublish(context.WithoutCancel(ctx), rctx.RequestID, assistant.Context{
		Type:        models.AssistantSearchFailed,
		Language:    language,
		Query:       query,
		FailureCode: string(perr.Kind),
	}, "")

	return perr
}

func (o *Route2Orchestrator) progress(rctx Context, stage, status string) {
	o.publisher.PublishProgress(rctx.RequestID, stage, status, nil, "")
}

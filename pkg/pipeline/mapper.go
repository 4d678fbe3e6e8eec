package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/dineseek/dineseek/pkg/config"
	"github.com/dineseek/dineseek/pkg/llm"
	"github.com/dineseek/dineseek/pkg/metrics"
	"github.com/dineseek/dineseek/pkg/models"
)

// providerPlan is the concrete provider request the route mapper produced.
type providerPlan struct {
	Route models.RouteKind

	// TextQuery drives TEXTSEARCH and the search phase of LANDMARK_PLAN.
	TextQuery string

	// RadiusMeters bounds NEARBY searches; zero means the tuned default.
	RadiusMeters int

	// Landmark is the geocodable anchor for LANDMARK_PLAN.
	Landmark string
}

type textMapperDoc struct {
	TextQuery string `json:"textQuery"`
}

type nearbyMapperDoc struct {
	RadiusMeters int `json:"radiusMeters"`
}

type landmarkMapperDoc struct {
	Landmark  string `json:"landmark"`
	TextQuery string `json:"textQuery"`
}

// runMapper turns the intent into a provider plan. Parse failures and
// timeouts get exactly one retry; everything else fails the stage.
func (o *Route2Orchestrator) runMapper(ctx context.Context, query string, intent models.Intent) (providerPlan, error) {
	started := time.Now()
	defer func() { metrics.ObserveStage(StageRouteMapper, time.Since(started)) }()

	var plan providerPlan
	operation := func() error {
		p, err := o.mapperCall(ctx, query, intent)
		if err != nil {
			if errors.Is(err, llm.ErrTimeout) || errors.Is(err, llm.ErrNotJSON) {
				return err
			}
			return backoff.Permanent(err)
		}
		plan = p
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 1), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return providerPlan{}, err
	}
	return plan, nil
}

// mapperCall runs the route-specific prompt and validates its plan.
func (o *Route2Orchestrator) mapperCall(ctx context.Context, query string, intent models.Intent) (providerPlan, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.cfg.LLM.Timeout(config.PurposeRouteMapper))
	defer cancel()

	var system, user string
	switch intent.Route {
	case models.RouteNearby:
		system = nearbyMapperSystemPrompt
		user = fmt.Sprintf(nearbyMapperUserTemplate, query, intent.FoodAnchor)
	case models.RouteLandmarkPlan:
		system = landmarkMapperSystemPrompt
		user = fmt.Sprintf(landmarkMapperUserTemplate, query, intent.LocationAnchor)
	default:
		system = textMapperSystemPrompt
		user = fmt.Sprintf(textMapperUserTemplate, query)
	}

	resp, err := o.llm.Complete(callCtx, llm.Request{
		Purpose:   string(config.PurposeRouteMapper),
		Model:     o.cfg.LLM.Model(config.PurposeRouteMapper, o.cfg.OpenAIModelDefault),
		System:    system,
		User:      user,
		MaxTokens: 200,
		ForceJSON: true,
	})
	if err != nil {
		return providerPlan{}, err
	}

	switch intent.Route {
	case models.RouteNearby:
		doc, err := llm.DecodeStrict[nearbyMapperDoc](resp.Text)
		if err != nil {
			return providerPlan{}, err
		}
		return providerPlan{Route: models.RouteNearby, RadiusMeters: doc.RadiusMeters}, nil

	case models.RouteLandmarkPlan:
		doc, err := llm.DecodeStrict[landmarkMapperDoc](resp.Text)
		if err != nil {
			return providerPlan{}, err
		}
		landmark := strings.TrimSpace(doc.Landmark)
		if landmark == "" {
			return providerPlan{}, fmt.Errorf("%w: landmark plan without landmark", ErrSchemaInvalid)
		}
		textQuery := strings.TrimSpace(doc.TextQuery)
		if textQuery == "" {
			textQuery = query
		}
		return providerPlan{Route: models.RouteLandmarkPlan, Landmark: landmark, TextQuery: textQuery}, nil

	default:
		doc, err := llm.DecodeStrict[textMapperDoc](resp.Text)
		if err != nil {
			return providerPlan{}, err
		}
		textQuery := strings.TrimSpace(doc.TextQuery)
		if textQuery == "" {
			return providerPlan{}, fmt.Errorf("%w: text plan without textQuery", ErrSchemaInvalid)
		}
		return providerPlan{Route: models.RouteTextSearch, TextQuery: textQuery}, nil
	}
}

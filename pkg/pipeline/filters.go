package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dineseek/dineseek/pkg/config"
	"github.com/dineseek/dineseek/pkg/llm"
	"github.com/dineseek/dineseek/pkg/metrics"
	"github.com/dineseek/dineseek/pkg/models"
)

// baseFiltersDoc is the raw base-filters extraction.
type baseFiltersDoc struct {
	UILanguage   string   `json:"uiLanguage"`
	OpenNow      *bool    `json:"openNow"`
	PriceLevel   *int     `json:"priceLevel"`
	IsKosher     *bool    `json:"isKosher"`
	IsGlutenFree *bool    `json:"isGlutenFree"`
	Requirements []string `json:"requirements"`
}

// runBaseFilters extracts the explicit filters. The stage degrades to an
// empty extraction on any error; the pipeline always gets a usable value.
func (o *Route2Orchestrator) runBaseFilters(ctx context.Context, rctx Context, query string) baseFiltersDoc {
	started := time.Now()
	defer func() { metrics.ObserveStage(StageBaseFilters, time.Since(started)) }()

	callCtx, cancel := context.WithTimeout(ctx, o.cfg.LLM.Timeout(config.PurposeBaseFilters))
	defer cancel()

	resp, err := o.llm.Complete(callCtx, llm.Request{
		Purpose:   string(config.PurposeBaseFilters),
		Model:     o.cfg.LLM.Model(config.PurposeBaseFilters, o.cfg.OpenAIModelDefault),
		System:    baseFiltersSystemPrompt,
		User:      fmt.Sprintf(baseFiltersUserTemplate, query),
		MaxTokens: 250,
		ForceJSON: true,
	})
	if err != nil {
		slog.Warn("base_filters_fallback", "request_id", rctx.RequestID, "error", err)
		return baseFiltersDoc{}
	}

	doc, err := llm.DecodeStrict[baseFiltersDoc](resp.Text)
	if err != nil {
		slog.Warn("base_filters_fallback", "request_id", rctx.RequestID, "error", err)
		return baseFiltersDoc{}
	}

	doc.OpenNow = dropFalse(doc.OpenNow)
	doc.IsKosher = dropFalse(doc.IsKosher)
	doc.IsGlutenFree = dropFalse(doc.IsGlutenFree)
	doc.PriceLevel = clampPriceLevel(doc.PriceLevel)
	return doc
}

// runPostConstraints extracts the soft hints. Same degradation contract as
// runBaseFilters: errors yield an empty hint set.
func (o *Route2Orchestrator) runPostConstraints(ctx context.Context, rctx Context, query string) models.PostConstraints {
	started := time.Now()
	defer func() { metrics.ObserveStage(StageConstraints, time.Since(started)) }()

	callCtx, cancel := context.WithTimeout(ctx, o.cfg.LLM.Timeout(config.PurposePostConstraints))
	defer cancel()

	resp, err := o.llm.Complete(callCtx, llm.Request{
		Purpose:   string(config.PurposePostConstraints),
		Model:     o.cfg.LLM.Model(config.PurposePostConstraints, o.cfg.OpenAIModelDefault),
		System:    postConstraintsSystemPrompt,
		User:      fmt.Sprintf(postConstraintsUserTemplate, query),
		MaxTokens: 200,
		ForceJSON: true,
	})
	if err != nil {
		slog.Warn("post_constraints_fallback", "request_id", rctx.RequestID, "error", err)
		return models.PostConstraints{}
	}

	hints, err := llm.DecodeStrict[models.PostConstraints](resp.Text)
	if err != nil {
		slog.Warn("post_constraints_fallback", "request_id", rctx.RequestID, "error", err)
		return models.PostConstraints{}
	}

	// Soft hints are tri-state: false is never set.
	hints.IsKosher = dropFalse(hints.IsKosher)
	hints.IsGlutenFree = dropFalse(hints.IsGlutenFree)
	hints.PriceLevel = clampPriceLevel(hints.PriceLevel)
	return hints
}

// resolveSharedFilters builds the canonical filter set every downstream
// stage reads. Region priority: reverse-geocoded user region, then the
// intent's advisory candidate, then the configured fallback. Explicit client
// filters override the extracted ones.
func resolveSharedFilters(base baseFiltersDoc, intent models.Intent, userRegion string, req models.SearchRequest, tuning *config.Tuning) models.SharedFilters {
	region := normalizeRegion(userRegion)
	if region == "" {
		region = normalizeRegion(intent.RegionCandidate)
	}
	if region == "" {
		region = normalizeRegion(tuning.RegionFallback)
	}

	lang := normalizeUILanguage(base.UILanguage)
	if lang == "" {
		lang = normalizeUILanguage(intent.Language)
	}
	if lang == "" {
		lang = localeLanguage(req.Locale)
	}
	if lang == "" {
		lang = "other"
	}

	final := models.SharedFilters{
		RegionCode:       region,
		UILanguage:       lang,
		ProviderLanguage: providerLanguage(lang),
		PriceLevel:       base.PriceLevel,
		IsKosher:         base.IsKosher,
		IsGlutenFree:     base.IsGlutenFree,
		Requirements:     append([]string(nil), base.Requirements...),
	}
	if base.OpenNow != nil && *base.OpenNow {
		open := models.OpenNow
		final.OpenState = &open
	}

	if req.Filters != nil {
		if req.Filters.OpenNow != nil && *req.Filters.OpenNow {
			open := models.OpenNow
			final.OpenState = &open
		}
		if req.Filters.PriceLevel != nil {
			final.PriceLevel = clampPriceLevel(req.Filters.PriceLevel)
		}
		for _, d := range req.Filters.Dietary {
			switch strings.ToLower(strings.TrimSpace(d)) {
			case "kosher":
				yes := true
				final.IsKosher = &yes
			case "gluten_free", "gluten-free", "glutenfree":
				yes := true
				final.IsGlutenFree = &yes
			}
		}
		for _, m := range req.Filters.MustHave {
			if m = strings.TrimSpace(m); m != "" {
				final.Requirements = append(final.Requirements, m)
			}
		}
	}

	return final
}

// normalizeRegion accepts only a two-letter alpha code, lowercased.
func normalizeRegion(candidate string) string {
	c := strings.ToLower(strings.TrimSpace(candidate))
	if len(c) != 2 {
		return ""
	}
	for _, r := range c {
		if r < 'a' || r > 'z' {
			return ""
		}
	}
	return c
}

// normalizeUILanguage accepts only the three contract values.
func normalizeUILanguage(lang string) string {
	switch strings.ToLower(strings.TrimSpace(lang)) {
	case "he":
		return "he"
	case "en":
		return "en"
	case "other":
		return "other"
	}
	return ""
}

// localeLanguage reads the language subtag of a BCP 47 locale like "he-IL".
func localeLanguage(locale string) string {
	tag := strings.ToLower(strings.TrimSpace(locale))
	if idx := strings.IndexAny(tag, "-_"); idx > 0 {
		tag = tag[:idx]
	}
	switch tag {
	case "he":
		return "he"
	case "en":
		return "en"
	}
	return ""
}

// providerLanguage picks the languageCode sent to the provider.
func providerLanguage(uiLanguage string) string {
	if uiLanguage == "he" {
		return "he"
	}
	return "en"
}

func dropFalse(v *bool) *bool {
	if v != nil && !*v {
		return nil
	}
	return v
}

func clampPriceLevel(v *int) *int {
	if v == nil {
		return nil
	}
	if *v < 1 || *v > 4 {
		return nil
	}
	return v
}

package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dineseek/dineseek/pkg/config"
	"github.com/dineseek/dineseek/pkg/llm"
	"github.com/dineseek/dineseek/pkg/metrics"
)

// Gate decisions.
const (
	gateContinue = "CONTINUE"
	gateStop     = "STOP"
	gateClarify  = "CLARIFY"
)

// gateDecision is the raw gate response.
type gateDecision struct {
	Decision string `json:"decision"`
	Reason   string `json:"reason"`
}

// runGate classifies the query as CONTINUE, STOP or CLARIFY. The gate has no
// fallback: an error here fails the search.
func (o *Route2Orchestrator) runGate(ctx context.Context, query string) (gateDecision, error) {
	started := time.Now()
	defer func() { metrics.ObserveStage(StageGate, time.Since(started)) }()

	callCtx, cancel := context.WithTimeout(ctx, o.cfg.LLM.Timeout(config.PurposeGate))
	defer cancel()

	resp, err := o.llm.Complete(callCtx, llm.Request{
		Purpose:   string(config.PurposeGate),
		Model:     o.cfg.LLM.Model(config.PurposeGate, o.cfg.OpenAIModelDefault),
		System:    gateSystemPrompt,
		User:      fmt.Sprintf(gateUserTemplate, query),
		MaxTokens: 120,
		ForceJSON: true,
	})
	if err != nil {
		return gateDecision{}, err
	}

	doc, err := llm.DecodeStrict[gateDecision](resp.Text)
	if err != nil {
		return gateDecision{}, err
	}

	doc.Decision = strings.ToUpper(strings.TrimSpace(doc.Decision))
	switch doc.Decision {
	case gateContinue, gateStop, gateClarify:
		return doc, nil
	}
	return gateDecision{}, fmt.Errorf("%w: gate decision %q", ErrSchemaInvalid, doc.Decision)
}

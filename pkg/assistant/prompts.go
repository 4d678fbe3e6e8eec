package assistant

import (
	"fmt"
	"strings"

	"github.com/dineseek/dineseek/pkg/models"
)

// assistantSystemPrompt pins the output contract for every narration.
const assistantSystemPrompt = `You are the voice of a restaurant search service. You write one short message telling the user the outcome of their search.

Respond with a single JSON object and nothing else:
{"type": "<echo the requested narration type>", "message": "<one or two sentences for the user>", "question": "<follow-up question, or null>", "blocksSearch": <true or false>}

Rules:
- "message" is never empty and contains no markdown.
- "question" is null unless you are asking the user to clarify.
- Never mention internal stages, providers or error codes.
- Never invent restaurants or facts that are not in the input.`

// gateFailUserTemplate narrates a query the gate rejected.
// %s = response language, %q = query, %s = gate reason code.
const gateFailUserTemplate = `Narration type: GATE_FAIL. Respond in %s.

The query below was rejected because it is not a restaurant search. Briefly tell the user what this service can help with instead. Set "type" to "GATE_FAIL", "question" to null and "blocksSearch" to true.

Query: %q
Reason code: %s`

// clarifyUserTemplate asks the user for the missing detail.
// %s = response language, %q = query, %s = clarify reason code.
const clarifyUserTemplate = `Narration type: CLARIFY. Respond in %s.

The query below is too ambiguous to search. Ask one short follow-up question that would let the search proceed, and put it in "question". Set "type" to "CLARIFY" and "blocksSearch" to true.

Query: %q
Reason code: %s`

// summaryUserTemplate narrates a completed search.
// %s = response language, %q = query, %d = result count, %s = top names.
const summaryUserTemplate = `Narration type: SUMMARY. Respond in %s.

The search finished. Summarize the outcome for the user in one friendly sentence. Set "type" to "SUMMARY", "question" to null and "blocksSearch" to false.

Query: %q
Results found: %d
Top places: %s`

// searchFailedUserTemplate narrates a failed search.
// %s = response language, %q = query, %s = failure code.
const searchFailedUserTemplate = `Narration type: SEARCH_FAILED. Respond in %s.

The search failed before producing results. Apologize briefly and suggest trying again or rephrasing. Do not repeat the failure code to the user. Set "type" to "SEARCH_FAILED", "question" to null and "blocksSearch" to false.

Query: %q
Failure code: %s`

// buildUserPrompt renders the user message for the requested narration.
func buildUserPrompt(actx Context) string {
	lang := promptLanguage(actx.Language)
	switch actx.Type {
	case models.AssistantGateFail:
		return fmt.Sprintf(gateFailUserTemplate, lang, actx.Query, actx.Reason)
	case models.AssistantClarify:
		return fmt.Sprintf(clarifyUserTemplate, lang, actx.Query, actx.Reason)
	case models.AssistantSummary:
		return fmt.Sprintf(summaryUserTemplate, lang, actx.Query, actx.ResultCount, topNamesLine(actx.TopNames))
	default:
		return fmt.Sprintf(searchFailedUserTemplate, lang, actx.Query, actx.FailureCode)
	}
}

// promptLanguage maps the resolved uiLanguage onto the language the model
// should answer in. Everything except Hebrew falls back to English.
func promptLanguage(lang string) string {
	if lang == "he" {
		return "Hebrew"
	}
	return "English"
}

// topNamesLine renders the top result names for the SUMMARY prompt.
func topNamesLine(names []string) string {
	if len(names) == 0 {
		return "(none)"
	}
	return strings.Join(names, ", ")
}

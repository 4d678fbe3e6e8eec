package models

// AssistantType names the four narration contexts.
type AssistantType string

const (
	AssistantGateFail     AssistantType = "GATE_FAIL"
	AssistantClarify      AssistantType = "CLARIFY"
	AssistantSummary      AssistantType = "SUMMARY"
	AssistantSearchFailed AssistantType = "SEARCH_FAILED"
)

// AssistantMessage is the validated LLM narration published on the
// assistant channel. For Type CLARIFY, BlocksSearch is forced to true
// regardless of what the model produced.
type AssistantMessage struct {
	Type         AssistantType `json:"type"`
	Message      string        `json:"message"`
	Question     *string       `json:"question"`
	BlocksSearch bool          `json:"blocksSearch"`
}

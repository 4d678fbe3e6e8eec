package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"

	"github.com/dineseek/dineseek/pkg/llm"
	"github.com/dineseek/dineseek/pkg/places"
)

// ErrorKind is the closed failure taxonomy. Every error leaving the pipeline
// carries exactly one kind; it is the only failure identity surfaced to logs
// and WebSocket error frames.
type ErrorKind string

const (
	KindGateLLMTimeout        ErrorKind = "GATE_LLM_TIMEOUT"
	KindIntentLLMError        ErrorKind = "INTENT_LLM_ERROR"
	KindGoogleTimeout         ErrorKind = "GOOGLE_TIMEOUT"
	KindGoogleQuotaExceeded   ErrorKind = "GOOGLE_QUOTA_EXCEEDED"
	KindDNSFail               ErrorKind = "DNS_FAIL"
	KindNearMeNoLocation      ErrorKind = "NEARME_NO_LOCATION"
	KindNearMeInvalidLocation ErrorKind = "NEARME_INVALID_LOCATION"
	KindPipelineTimeout       ErrorKind = "PIPELINE_TIMEOUT"
	KindOpenAIKeyMissing      ErrorKind = "OPENAI_API_KEY_MISSING"
	KindGoogleKeyMissing      ErrorKind = "GOOGLE_API_KEY_MISSING"
	KindInternal              ErrorKind = "INTERNAL_ERROR"
	KindParse                 ErrorKind = "PARSE_ERROR"
	KindValidation            ErrorKind = "VALIDATION_ERROR"
	KindProvider              ErrorKind = "PROVIDER_ERROR"
	KindNetwork               ErrorKind = "NETWORK_ERROR"
	KindLLMTimeout            ErrorKind = "LLM_TIMEOUT"
	KindLLMFailed             ErrorKind = "LLM_FAILED"
	KindSchemaInvalid         ErrorKind = "SCHEMA_INVALID"
)

// Stage names used in progress frames, error frames and logs.
const (
	StageAccepted    = "accepted"
	StageRegion      = "region"
	StageGate        = "gate"
	StageIntent      = "intent"
	StageBaseFilters = "base_filters"
	StageConstraints = "post_constraints"
	StageRouteMapper = "route_mapper"
	StageGoogle      = "google"
	StagePostFilter  = "post_filter"
	StageRespond     = "respond"
	StagePipeline    = "pipeline"
)

// Sentinels for failures the pipeline detects itself.
var (
	// ErrEmptyQuery rejects requests whose query is blank after trimming.
	ErrEmptyQuery = errors.New("query is empty")

	// ErrOpenAIKeyMissing means an LLM stage ran without a configured key.
	ErrOpenAIKeyMissing = errors.New("openai api key not configured")

	// ErrGoogleKeyMissing means the provider stage ran without a key.
	ErrGoogleKeyMissing = errors.New("google maps api key not configured")

	// ErrNoLocation means a location-bound route reached the provider
	// without a user location.
	ErrNoLocation = errors.New("route requires a user location")

	// ErrInvalidLocation means the supplied coordinates are out of range.
	ErrInvalidLocation = errors.New("user location is out of range")

	// ErrSchemaInvalid marks LLM output that parsed but violated the
	// stage schema.
	ErrSchemaInvalid = errors.New("llm response violates stage schema")
)

// Error is a classified pipeline failure.
type Error struct {
	Kind  ErrorKind
	Stage string
	Msg   string
	Err   error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s at %s: %v", e.Kind, e.Stage, e.Err)
	}
	return fmt.Sprintf("%s at %s: %s", e.Kind, e.Stage, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Classify maps any error surfaced by a stage onto the closed taxonomy. The
// mapping is deterministic: sentinel and typed checks run in a fixed order,
// and everything unrecognized is INTERNAL_ERROR.
func Classify(err error, stage string) *Error {
	var perr *Error
	if errors.As(err, &perr) {
		return perr
	}

	kind := classifyKind(err, stage)
	return &Error{Kind: kind, Stage: stage, Msg: err.Error(), Err: err}
}

func classifyKind(err error, stage string) ErrorKind {
	switch {
	case errors.Is(err, ErrEmptyQuery):
		return KindValidation
	case errors.Is(err, ErrOpenAIKeyMissing):
		return KindOpenAIKeyMissing
	case errors.Is(err, ErrGoogleKeyMissing):
		return KindGoogleKeyMissing
	case errors.Is(err, ErrNoLocation):
		return KindNearMeNoLocation
	case errors.Is(err, ErrInvalidLocation):
		return KindNearMeInvalidLocation
	case errors.Is(err, ErrSchemaInvalid):
		return KindSchemaInvalid

	case errors.Is(err, llm.ErrTimeout):
		if stage == StageGate {
			return KindGateLLMTimeout
		}
		return KindLLMTimeout
	case errors.Is(err, llm.ErrNotJSON):
		return KindParse
	case errors.Is(err, llm.ErrAuth), errors.Is(err, llm.ErrRateLimited), errors.Is(err, llm.ErrProvider):
		if stage == StageIntent {
			return KindIntentLLMError
		}
		return KindLLMFailed

	case errors.Is(err, places.ErrTimeout):
		return KindGoogleTimeout
	case errors.Is(err, places.ErrQuota):
		return KindGoogleQuotaExceeded
	case errors.Is(err, places.ErrDNS):
		return KindDNSFail
	case errors.Is(err, places.ErrNotFound), errors.Is(err, places.ErrProvider):
		return KindProvider

	// Raw context errors reaching classification mean the pipeline budget
	// itself expired or the job was cancelled; both finalize the same way.
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return KindPipelineTimeout
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return KindParse
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return KindDNSFail
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindNetwork
	}

	return KindInternal
}

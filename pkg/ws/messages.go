// Package ws implements the WebSocket fan-out layer: authenticated
// connections, canonical subscription keys, per-subscription backlog for
// late subscribers, pending subscriptions for jobs that don't exist yet and
// rate-limited subscribe handling.
//
// Event flow patterns:
//
//  1. Publish with live subscribers: marshal once, snapshot the subscriber
//     set, write to each socket with a per-write timeout.
//  2. Publish with no subscribers: enqueue into the backlog keyed by the
//     canonical subscription key; a later subscribe drains it in order.
//  3. Subscribe before the job exists: parked as a pending subscription and
//     promoted (or rejected) when the job is created.
//
// The canonical subscription key for both channels is "<channel>:<requestId>".
// sessionId is used for authorization and audit, never for keying.
package ws

import (
	"encoding/json"

	"github.com/dineseek/dineseek/pkg/models"
)

// Channel names. These are the only two channels the fan-out layer routes.
const (
	ChannelSearch    = "search"
	ChannelAssistant = "assistant"
)

// SubscriptionKey computes the canonical routing key. Subscribe and publish
// must both use this helper so the keys are bit-identical.
func SubscriptionKey(channel, requestID string) string {
	return channel + ":" + requestID
}

// Client message types.
const (
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypeEvent       = "event"
)

// Server frame types.
const (
	TypeSubAck         = "sub_ack"
	TypeSubNack        = "sub_nack"
	TypeProgress       = "progress"
	TypeReady          = "ready"
	TypeError          = "error"
	TypeAssistant      = "assistant"
	TypeAssistantError = "assistant_error"
	TypeResultPatch    = "RESULT_PATCH"
)

// Sub_nack reasons.
const (
	NackSessionMismatch   = "session_mismatch"
	NackRateLimitExceeded = "rate_limit_exceeded"
	NackInvalid           = "invalid"
)

// legacyCarrier is the shape older clients used to wrap the request id.
type legacyCarrier struct {
	RequestID string `json:"requestId"`
}

// ClientMessage is the client→server envelope. Legacy clients put the
// request id under payload.requestId, data.requestId or reqId; normalization
// happens once here so no downstream code knows the legacy layouts.
type ClientMessage struct {
	V         int             `json:"v,omitempty"`
	Type      string          `json:"type"`
	Channel   string          `json:"channel,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
	ReqID     string          `json:"reqId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// NormalizedRequestID resolves the request id across current and legacy
// envelope shapes, in priority order.
func (m *ClientMessage) NormalizedRequestID() string {
	if m.RequestID != "" {
		return m.RequestID
	}
	for _, raw := range []json.RawMessage{m.Payload, m.Data} {
		if len(raw) == 0 {
			continue
		}
		var carrier legacyCarrier
		if err := json.Unmarshal(raw, &carrier); err == nil && carrier.RequestID != "" {
			return carrier.RequestID
		}
	}
	return m.ReqID
}

// SubAckFrame confirms a subscribe. Pending is true when the job does not
// exist yet and the subscription was parked.
type SubAckFrame struct {
	Type      string `json:"type"`
	Channel   string `json:"channel"`
	RequestID string `json:"requestId"`
	Pending   bool   `json:"pending"`
}

// NewSubAck builds a sub_ack frame.
func NewSubAck(channel, requestID string, pending bool) SubAckFrame {
	return SubAckFrame{Type: TypeSubAck, Channel: channel, RequestID: requestID, Pending: pending}
}

// SubNackFrame rejects a subscribe.
type SubNackFrame struct {
	Type      string `json:"type"`
	Channel   string `json:"channel"`
	RequestID string `json:"requestId"`
	Reason    string `json:"reason"`
}

// NewSubNack builds a sub_nack frame.
func NewSubNack(channel, requestID, reason string) SubNackFrame {
	return SubNackFrame{Type: TypeSubNack, Channel: channel, RequestID: requestID, Reason: reason}
}

// ProgressFrame reports pipeline progress on the search channel.
type ProgressFrame struct {
	Type      string `json:"type"`
	Channel   string `json:"channel"`
	RequestID string `json:"requestId"`
	Stage     string `json:"stage"`
	Status    string `json:"status"`
	Progress  *int   `json:"progress,omitempty"`
	Message   string `json:"message,omitempty"`
}

// NewProgress builds a progress frame.
func NewProgress(requestID, stage, status string, progress *int, message string) ProgressFrame {
	return ProgressFrame{
		Type:      TypeProgress,
		Channel:   ChannelSearch,
		RequestID: requestID,
		Stage:     stage,
		Status:    status,
		Progress:  progress,
		Message:   message,
	}
}

// ReadyFrame is the terminal success frame on the search channel.
type ReadyFrame struct {
	Type        string `json:"type"`
	Channel     string `json:"channel"`
	RequestID   string `json:"requestId"`
	Stage       string `json:"stage"`
	ResultURL   string `json:"resultUrl"`
	ResultCount int    `json:"resultCount"`
}

// NewReady builds a ready frame.
func NewReady(requestID, resultURL string, resultCount int) ReadyFrame {
	return ReadyFrame{
		Type:        TypeReady,
		Channel:     ChannelSearch,
		RequestID:   requestID,
		Stage:       "done",
		ResultURL:   resultURL,
		ResultCount: resultCount,
	}
}

// ErrorFrame is the terminal failure frame on the search channel. Code is
// drawn from the closed pipeline error taxonomy.
type ErrorFrame struct {
	Type      string `json:"type"`
	Channel   string `json:"channel"`
	RequestID string `json:"requestId"`
	Stage     string `json:"stage"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// NewErrorFrame builds an error frame.
func NewErrorFrame(requestID, stage, code, message string) ErrorFrame {
	return ErrorFrame{
		Type:      TypeError,
		Channel:   ChannelSearch,
		RequestID: requestID,
		Stage:     stage,
		Code:      code,
		Message:   message,
	}
}

// AssistantFrame carries a validated assistant message.
type AssistantFrame struct {
	Type      string                  `json:"type"`
	Channel   string                  `json:"channel"`
	RequestID string                  `json:"requestId"`
	Payload   models.AssistantMessage `json:"payload"`
}

// NewAssistant builds an assistant frame.
func NewAssistant(requestID string, msg models.AssistantMessage) AssistantFrame {
	return AssistantFrame{
		Type:      TypeAssistant,
		Channel:   ChannelAssistant,
		RequestID: requestID,
		Payload:   msg,
	}
}

// AssistantErrorPayload carries the narrator failure code.
type AssistantErrorPayload struct {
	ErrorCode string `json:"errorCode"`
}

// AssistantErrorFrame reports that the narrator itself failed. The wire never
// carries deterministic fallback text instead.
type AssistantErrorFrame struct {
	Type      string                `json:"type"`
	Channel   string                `json:"channel"`
	RequestID string                `json:"requestId"`
	Payload   AssistantErrorPayload `json:"payload"`
}

// NewAssistantError builds an assistant_error frame.
func NewAssistantError(requestID, errorCode string) AssistantErrorFrame {
	return AssistantErrorFrame{
		Type:      TypeAssistantError,
		Channel:   ChannelAssistant,
		RequestID: requestID,
		Payload:   AssistantErrorPayload{ErrorCode: errorCode},
	}
}

// ResultPatchFrame pushes a provider enrichment for a single place.
type ResultPatchFrame struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId"`
	PlaceID   string `json:"placeId"`
	Patch     any    `json:"patch"`
}

// NewResultPatch builds a result_patch frame.
func NewResultPatch(requestID, placeID string, patch any) ResultPatchFrame {
	return ResultPatchFrame{
		Type:      TypeResultPatch,
		RequestID: requestID,
		PlaceID:   placeID,
		Patch:     patch,
	}
}

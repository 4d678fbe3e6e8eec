package ws

import (
	"encoding/json"
	"log/slog"

	"github.com/dineseek/dineseek/pkg/metrics"
	"github.com/dineseek/dineseek/pkg/models"
)

// Publisher fans frames out to live subscribers, falling back to the backlog
// when nobody is subscribed yet. Frames are marshalled once per publish.
type Publisher struct {
	registry *SubscriptionRegistry
	backlog  *BacklogManager
}

// NewPublisher wires a publisher over the shared registry and backlog.
func NewPublisher(registry *SubscriptionRegistry, backlog *BacklogManager) *Publisher {
	return &Publisher{registry: registry, backlog: backlog}
}

// Publish sends a frame to every live subscriber of channel:requestId and
// returns the live delivery count. With no subscribers the frame is
// backlogged for catch-up on the next subscribe.
func (p *Publisher) Publish(channel, requestID string, frame any) int {
	payload, err := json.Marshal(frame)
	if err != nil {
		slog.Error("Failed to marshal websocket frame",
			"channel", channel, "request_id", requestID, "error", err)
		return 0
	}

	key := SubscriptionKey(channel, requestID)
	conns := p.registry.Snapshot(key)
	if len(conns) == 0 {
		p.backlog.Enqueue(key, channel, requestID, payload)
		metrics.WSPublished(channel, "backlogged")
		slog.Info("websocket_published",
			"subscription_key", key,
			"client_count", 0,
			"payload_bytes", len(payload),
			"delivery", "backlogged")
		return 0
	}

	delivered := 0
	for _, conn := range conns {
		if err := conn.send(payload); err != nil {
			slog.Warn("Dropping websocket client after failed send",
				"connection_id", conn.ID, "subscription_key", key, "error", err)
			// Cancelling the conn context unblocks its read loop, which
			// unregisters the connection on the way out.
			conn.cancel()
			continue
		}
		delivered++
	}

	metrics.WSPublished(channel, "live")
	slog.Info("websocket_published",
		"subscription_key", key,
		"client_count", delivered,
		"payload_bytes", len(payload),
		"delivery", "live")
	return delivered
}

// PublishProgress emits a pipeline stage transition on the search channel.
func (p *Publisher) PublishProgress(requestID, stage, status string, progress *int, message string) int {
	return p.Publish(ChannelSearch, requestID, NewProgress(requestID, stage, status, progress, message))
}

// PublishReady emits the terminal ready frame on the search channel.
func (p *Publisher) PublishReady(requestID, resultURL string, resultCount int) int {
	return p.Publish(ChannelSearch, requestID, NewReady(requestID, resultURL, resultCount))
}

// PublishError emits the terminal error frame on the search channel.
func (p *Publisher) PublishError(requestID, stage, code, message string) int {
	return p.Publish(ChannelSearch, requestID, NewErrorFrame(requestID, stage, code, message))
}

// PublishAssistant emits an assistant message on the assistant channel.
func (p *Publisher) PublishAssistant(requestID string, msg models.AssistantMessage) int {
	return p.Publish(ChannelAssistant, requestID, NewAssistant(requestID, msg))
}

// PublishAssistantError emits a structured assistant failure.
func (p *Publisher) PublishAssistantError(requestID, errorCode string) int {
	return p.Publish(ChannelAssistant, requestID, NewAssistantError(requestID, errorCode))
}

// PublishResultPatch emits an incremental result update on the search channel.
func (p *Publisher) PublishResultPatch(requestID, placeID string, patch any) int {
	return p.Publish(ChannelSearch, requestID, NewResultPatch(requestID, placeID, patch))
}

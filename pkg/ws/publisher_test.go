package ws

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dineseek/dineseek/pkg/models"
)

func newTestPublisher() (*Publisher, *BacklogManager) {
	backlog := NewBacklogManager(50, 10000, 120*time.Second)
	return NewPublisher(NewSubscriptionRegistry(), backlog), backlog
}

func TestPublisher_BacklogsWithoutSubscribers(t *testing.T) {
	p, backlog := newTestPublisher()

	sent := p.PublishProgress("req-1", "gate", "running", nil, "")
	assert.Equal(t, 0, sent)
	require.Equal(t, 1, backlog.KeyLen("search:req-1"))

	entries := backlog.Drain("search:req-1")
	require.Len(t, entries, 1)
	assert.Equal(t, ChannelSearch, entries[0].Channel)
	assert.Equal(t, "req-1", entries[0].RequestID)
	assert.Equal(t, TypeProgress, frameType(entries[0].Message))
}

func TestPublisher_ChannelsBacklogIndependently(t *testing.T) {
	p, backlog := newTestPublisher()

	p.PublishProgress("req-1", "gate", "running", nil, "")
	p.PublishAssistantError("req-1", "LLM_TIMEOUT")

	assert.Equal(t, 1, backlog.KeyLen("search:req-1"))
	assert.Equal(t, 1, backlog.KeyLen("assistant:req-1"))
}

func TestPublisher_ReadyFrameShape(t *testing.T) {
	p, backlog := newTestPublisher()

	p.PublishReady("req-1", models.ResultPath("req-1"), 7)

	entries := backlog.Drain("search:req-1")
	require.Len(t, entries, 1)

	var frame map[string]any
	require.NoError(t, json.Unmarshal(entries[0].Message, &frame))
	assert.Equal(t, TypeReady, frame["type"])
	assert.Equal(t, ChannelSearch, frame["channel"])
	assert.Equal(t, "req-1", frame["requestId"])
	assert.Equal(t, "done", frame["stage"])
	assert.Equal(t, "/api/v1/search/req-1/result", frame["resultUrl"])
	assert.Equal(t, float64(7), frame["resultCount"])
}

func TestPublisher_ErrorFrameShape(t *testing.T) {
	p, backlog := newTestPublisher()

	p.PublishError("req-1", "google_maps", "GOOGLE_TIMEOUT", "provider deadline exceeded")

	entries := backlog.Drain("search:req-1")
	require.Len(t, entries, 1)

	var frame map[string]any
	require.NoError(t, json.Unmarshal(entries[0].Message, &frame))
	assert.Equal(t, TypeError, frame["type"])
	assert.Equal(t, "google_maps", frame["stage"])
	assert.Equal(t, "GOOGLE_TIMEOUT", frame["code"])
	assert.Equal(t, "provider deadline exceeded", frame["message"])
}

func TestPublisher_AssistantErrorPayload(t *testing.T) {
	p, backlog := newTestPublisher()

	p.PublishAssistantError("req-1", "SCHEMA_INVALID")

	entries := backlog.Drain("assistant:req-1")
	require.Len(t, entries, 1)

	var frame struct {
		Type    string                `json:"type"`
		Payload AssistantErrorPayload `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(entries[0].Message, &frame))
	assert.Equal(t, TypeAssistantError, frame.Type)
	assert.Equal(t, "SCHEMA_INVALID", frame.Payload.ErrorCode)
}

func TestPublisher_AssistantFramePayload(t *testing.T) {
	p, backlog := newTestPublisher()

	question := "Which neighborhood?"
	p.PublishAssistant("req-1", models.AssistantMessage{
		Type:         models.AssistantClarify,
		Message:      "I need a bit more detail.",
		Question:     &question,
		BlocksSearch: true,
	})

	entries := backlog.Drain("assistant:req-1")
	require.Len(t, entries, 1)

	var frame AssistantFrame
	require.NoError(t, json.Unmarshal(entries[0].Message, &frame))
	assert.Equal(t, models.AssistantClarify, frame.Payload.Type)
	assert.True(t, frame.Payload.BlocksSearch)
	require.NotNil(t, frame.Payload.Question)
	assert.Equal(t, question, *frame.Payload.Question)
}

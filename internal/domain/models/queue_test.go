package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindowLabelAt(t *testing.T) {
	cases := []struct {
		at   time.Time
		want string
	}{
		{time.Date(2025, 6, 1, 14, 0, 0, 0, time.UTC), "14-15"},
		{time.Date(2025, 6, 1, 14, 59, 59, 0, time.UTC), "14-15"},
		{time.Date(2025, 6, 1, 23, 30, 0, 0, time.UTC), "23-0"},
		{time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), "0-1"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, WindowLabelAt(c.at))
	}
}

func TestWindowLabelAtNormalizesToUTC(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*3600)
	local := time.Date(2025, 6, 1, 16, 30, 0, 0, loc) // 13:30 UTC
	assert.Equal(t, "13-14", WindowLabelAt(local))
}

func TestActionTypeValid(t *testing.T) {
	assert.True(t, ActionTypeReply.Valid())
	assert.True(t, ActionTypeDirectMessage.Valid())
	assert.False(t, ActionType("retweet").Valid())
	assert.False(t, ActionType("").Valid())
}

func TestDecodePayload(t *testing.T) {
	reply, err := DecodePayload(ActionTypeReply, json.RawMessage(`{"comment_id":"c1","text":"hi"}`))
	require.NoError(t, err)
	assert.Equal(t, &ReplyPayload{CommentID: "c1", Text: "hi"}, reply)

	dm, err := DecodePayload(ActionTypeDirectMessage, json.RawMessage(`{"recipient_id":"u1","text":"yo"}`))
	require.NoError(t, err)
	assert.Equal(t, &DirectMessagePayload{RecipientID: "u1", Text: "yo"}, dm)

	_, err = DecodePayload(ActionType("retweet"), json.RawMessage(`{}`))
	require.Error(t, err)
}

func TestQueueStatusTerminal(t *testing.T) {
	assert.False(t, QueueStatusQueued.Terminal())
	assert.False(t, QueueStatusProcessing.Terminal())
	assert.True(t, QueueStatusCompleted.Terminal())
	assert.True(t, QueueStatusFailed.Terminal())
}

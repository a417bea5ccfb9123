package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubjectForSanitizesMatchID(t *testing.T) {
	subject := subjectFor("match.events", Event{Type: EventSessionCompleted, MatchID: "a.b c*>"})
	assert.Equal(t, "match.events.a_b_c__.session_completed", subject)
}

func TestBuildMessage(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	msg, err := buildMessage("match.events", Event{
		Type:    EventMoveApplied,
		MatchID: "m1",
		At:      at,
		Payload: map[string]string{"move": "e2e4"},
	})
	require.NoError(t, err)

	assert.Equal(t, "match.events.m1.move_applied", msg.Subject)
	assert.Equal(t, "MOVE_APPLIED", msg.Header.Get("Event-Type"))
	assert.Equal(t, "m1", msg.Header.Get("Match-ID"))

	var env map[string]interface{}
	require.NoError(t, json.Unmarshal(msg.Data, &env))
	assert.Equal(t, "m1", env["match_id"])
	assert.Equal(t, msg.Header.Get("Event-ID"), env["event_id"])
	assert.Equal(t, map[string]interface{}{"move": "e2e4"}, env["payload"])
}

func TestBuildMessageRejectsUnencodablePayload(t *testing.T) {
	_, err := buildMessage("p", Event{Type: EventMoveApplied, Payload: make(chan int)})
	assert.Error(t, err)
}

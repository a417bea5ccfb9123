package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPublisherDeliversInOrder(t *testing.T) {
	p := NewPublisher()

	var got []string
	p.Subscribe(EventMoveApplied, func(e Event) { got = append(got, "typed:"+e.MatchID) })
	p.SubscribeAll(func(e Event) { got = append(got, "all:"+string(e.Type)) })

	p.Publish(Event{Type: EventMoveApplied, MatchID: "m1"})
	p.Publish(Event{Type: EventDrawOffered, MatchID: "m1"})

	assert.Equal(t, []string{
		"typed:m1",
		"all:MOVE_APPLIED",
		"all:DRAW_OFFERED",
	}, got)
}

func TestPublisherWithoutSubscribers(t *testing.T) {
	assert.NotPanics(t, func() {
		NewPublisher().Publish(Event{Type: EventSessionCompleted})
	})
}

package stream_test

import (
	"context"
	"testing"

	"ganapp/src-server/stream"

	"github.com/stretchr/testify/assert"
)

func TestNewWithoutBrokers(t *testing.T) {
	p := stream.New(nil, "ganapp.events")
	_, ok := p.(stream.NopPublisher)
	assert.True(t, ok)
	assert.NoError(t, p.Publish(context.Background(), stream.NewEvent(stream.EventPublished, "e1", "", nil)))
	assert.NoError(t, p.Close())
}

func TestNewWithBrokers(t *testing.T) {
	p := stream.New([]string{"localhost:9092"}, "ganapp.events")
	_, ok := p.(*stream.KafkaPublisher)
	assert.True(t, ok)
	assert.NoError(t, p.Close())
}

func TestNewEvent(t *testing.T) {
	event := stream.NewEvent(stream.RegistrationCreated, "e1", "u1", map[string]any{"seats_left": 3})
	assert.NotEmpty(t, event.ID)
	assert.Equal(t, stream.RegistrationCreated, event.Type)
	assert.NotZero(t, event.OccurredAt)

	// nil publisher is fine
	stream.Emit(context.Background(), nil, event)
}

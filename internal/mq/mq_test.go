package mq

import (
	"context"
	"testing"

	"github.com/bookloan/apiserver/config"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	published []Message
	closed    bool
}

func (f *fakeBackend) Publish(_ context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	f.published = append(f.published, Message{ID: channel, Data: data, Attributes: attrs})
	return "id-1", nil
}

func (f *fakeBackend) Subscribe(ctx context.Context, _ string, handler Handler) error {
	for _, msg := range f.published {
		if err := handler(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeBackend) Close() error {
	f.closed = true
	return nil
}

func TestMQDelegates(t *testing.T) {
	backend := &fakeBackend{}
	q := New(backend)

	id, err := q.Publish(context.Background(), "bookloan.transactions", []byte(`{}`), map[string]string{"type": "t"})
	require.NoError(t, err)
	assert.Equal(t, "id-1", id)
	assert.True(t, q.Enabled())

	var seen []string
	require.NoError(t, q.Subscribe(context.Background(), "bookloan.transactions", func(_ context.Context, msg Message) error {
		seen = append(seen, msg.Attributes["type"])
		return nil
	}))
	assert.Equal(t, []string{"t"}, seen)

	require.NoError(t, q.Close())
	assert.True(t, backend.closed)
}

func TestOpenNone(t *testing.T) {
	q, err := Open(context.Background(), config.MQConfig{Backend: BackendNone})
	require.NoError(t, err)
	assert.False(t, q.Enabled())

	id, err := q.Publish(context.Background(), "c", nil, nil)
	assert.NoError(t, err)
	assert.Empty(t, id)
	assert.ErrorIs(t, q.Subscribe(context.Background(), "c", nil), ErrNoBackend)
}

func TestOpenValidation(t *testing.T) {
	_, err := Open(context.Background(), config.MQConfig{Backend: "kafka"})
	assert.ErrorContains(t, err, "unsupported mq backend")

	_, err = Open(context.Background(), config.MQConfig{Backend: BackendRabbitMQ})
	assert.ErrorContains(t, err, "rabbitmq url is required")

	_, err = Open(context.Background(), config.MQConfig{Backend: BackendPubSub})
	assert.ErrorContains(t, err, "pubsub project id is required")
}

func TestHeadersToAttributes(t *testing.T) {
	assert.Nil(t, headersToAttributes(nil))
	attrs := headersToAttributes(map[string]any{"type": "x", "raw": []byte("y"), "n": int32(3)})
	assert.Equal(t, map[string]string{"type": "x", "raw": "y", "n": "3"}, attrs)
}

func TestRabbitPublishingCarriesEventType(t *testing.T) {
	msg := publishing([]byte(`{}`), map[string]string{"type": "transaction.approved"}, 2)
	assert.Equal(t, "transaction.approved", msg.Type)
	assert.Equal(t, "application/json", msg.ContentType)
	assert.NotEmpty(t, msg.MessageId)
	assert.Equal(t, "transaction.approved", msg.Headers["type"])

	msg.Headers = nil
	got := deliveryMessage(amqp.Delivery{MessageId: msg.MessageId, Type: msg.Type, Body: msg.Body})
	assert.Equal(t, msg.MessageId, got.ID)
	assert.Equal(t, map[string]string{"type": "transaction.approved"}, got.Attributes)
}

package rabbitmq

import (
	"errors"
	"testing"

	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChannel struct {
	published []amqp.Publishing
	keys      []string
	err       error
}

func (f *fakeChannel) Publish(exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if f.err != nil {
		return f.err
	}
	if exchange != Exchange {
		return errors.New("unexpected exchange " + exchange)
	}
	f.keys = append(f.keys, key)
	f.published = append(f.published, msg)
	return nil
}

func TestPublisher_Publish(t *testing.T) {
	ch := &fakeChannel{}
	p := NewPublisher(ch)

	err := p.Publish(RouteUpdates, map[string]int{"user_id": 42})
	require.NoError(t, err)

	require.Len(t, ch.published, 1)
	assert.Equal(t, RouteUpdates, ch.keys[0])
	assert.Equal(t, "application/json", ch.published[0].ContentType)
	assert.Equal(t, amqp.Persistent, ch.published[0].DeliveryMode)
	assert.JSONEq(t, `{"user_id":42}`, string(ch.published[0].Body))
}

func TestPublisher_MarshalError(t *testing.T) {
	p := NewPublisher(&fakeChannel{})

	err := p.Publish(RouteUpdates, struct{ Ch chan int }{Ch: make(chan int)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rabbitmq.Publish")
}

func TestPublisher_ChannelError(t *testing.T) {
	p := NewPublisher(&fakeChannel{err: amqp.ErrClosed})

	err := p.Publish(RouteUpdates, "x")
	assert.ErrorIs(t, err, amqp.ErrClosed)
}

func TestRelayQueues_Unique(t *testing.T) {
	seen := map[string]bool{}
	for _, q := range RelayQueues() {
		assert.Falsef(t, seen[q.QueueName], "duplicate queue name: %s", q.QueueName)
		seen[q.QueueName] = true
	}
	assert.Len(t, seen, 2)
}

package rabbitmq

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type ackRecorder struct {
	mu     sync.Mutex
	acked  []uint64
	nacked map[uint64]bool // tag -> requeue
}

func (a *ackRecorder) Ack(tag uint64, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acked = append(a.acked, tag)
	return nil
}

func (a *ackRecorder) Nack(tag uint64, _ bool, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.nacked == nil {
		a.nacked = map[uint64]bool{}
	}
	a.nacked[tag] = requeue
	return nil
}

func (a *ackRecorder) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

type fakeConsumer struct {
	deliveries chan amqp.Delivery
	err        error
}

func (f *fakeConsumer) Consume(string, string, bool, bool, bool, bool, amqp.Table) (<-chan amqp.Delivery, error) {
	return f.deliveries, f.err
}

func TestConsume_AckAndNack(t *testing.T) {
	acks := &ackRecorder{}
	fc := &fakeConsumer{deliveries: make(chan amqp.Delivery, 3)}
	fc.deliveries <- amqp.Delivery{Acknowledger: acks, DeliveryTag: 1, Body: []byte("ok")}
	fc.deliveries <- amqp.Delivery{Acknowledger: acks, DeliveryTag: 2, Body: []byte("bad")}
	close(fc.deliveries)

	err := Consume(context.Background(), fc, ConsumerConfig{Queue: QueueUpdates, Concurrency: 2, Requeue: false},
		func(_ context.Context, body []byte) error {
			if string(body) == "bad" {
				return errors.New("malformed")
			}
			return nil
		}, discardLogger())
	require.NoError(t, err)

	assert.Equal(t, []uint64{1}, acks.acked)
	requeue, ok := acks.nacked[2]
	require.True(t, ok)
	assert.False(t, requeue)
}

func TestConsume_RespectsConcurrency(t *testing.T) {
	acks := &ackRecorder{}
	fc := &fakeConsumer{deliveries: make(chan amqp.Delivery, 10)}
	for i := range 10 {
		fc.deliveries <- amqp.Delivery{Acknowledger: acks, DeliveryTag: uint64(i + 1)}
	}
	close(fc.deliveries)

	var inFlight, peak atomic.Int32
	err := Consume(context.Background(), fc, ConsumerConfig{Queue: QueueUpdates, Concurrency: 3},
		func(context.Context, []byte) error {
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			inFlight.Add(-1)
			return nil
		}, discardLogger())
	require.NoError(t, err)

	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.Len(t, acks.acked, 10)
}

func TestConsume_StopsOnContextCancel(t *testing.T) {
	fc := &fakeConsumer{deliveries: make(chan amqp.Delivery)}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- Consume(ctx, fc, ConsumerConfig{Queue: QueueUpdates}, func(context.Context, []byte) error { return nil }, discardLogger())
	}()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop")
	}
}

func TestConsume_ConsumeError(t *testing.T) {
	fc := &fakeConsumer{err: amqp.ErrClosed}
	err := Consume(context.Background(), fc, ConsumerConfig{Queue: QueueUpdates}, nil, discardLogger())
	assert.ErrorIs(t, err, amqp.ErrClosed)
}

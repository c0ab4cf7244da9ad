package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/telekom/email-dispatcher/pkg/config"
)

type ackRecord struct {
	acked    []uint64
	nacked   []uint64
	rejected []uint64
	requeue  map[uint64]bool
}

type fakeAcknowledger struct {
	mu  sync.Mutex
	rec ackRecord
}

func newFakeAcknowledger() *fakeAcknowledger {
	return &fakeAcknowledger{rec: ackRecord{requeue: map[uint64]bool{}}}
}

func (f *fakeAcknowledger) Ack(tag uint64, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rec.acked = append(f.rec.acked, tag)
	return nil
}

func (f *fakeAcknowledger) Nack(tag uint64, _ bool, requeue bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rec.nacked = append(f.rec.nacked, tag)
	f.rec.requeue[tag] = requeue
	return nil
}

func (f *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rec.rejected = append(f.rec.rejected, tag)
	f.rec.requeue[tag] = requeue
	return nil
}

func (f *fakeAcknowledger) snapshot() ackRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rec
}

type fakeChannel struct {
	mu         sync.Mutex
	exchanges  map[string]string
	queues     []string
	bindings   []string
	prefetch   int
	deliveries chan amqp.Delivery
	published  []amqp.Publishing
	declareErr error
	closed     bool
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{exchanges: map[string]string{}, deliveries: make(chan amqp.Delivery, 16)}
}

func (f *fakeChannel) ExchangeDeclare(name, kind string, durable, _, _, _ bool, _ amqp.Table) error {
	if f.declareErr != nil {
		return f.declareErr
	}
	if !durable {
		return errors.New("exchange must be durable")
	}
	f.exchanges[name] = kind
	return nil
}

func (f *fakeChannel) QueueDeclare(name string, durable, _, _, _ bool, _ amqp.Table) (amqp.Queue, error) {
	if !durable {
		return amqp.Queue{}, errors.New("queue must be durable")
	}
	f.queues = append(f.queues, name)
	return amqp.Queue{Name: name}, nil
}

func (f *fakeChannel) QueueBind(name, _, exchange string, _ bool, _ amqp.Table) error {
	f.bindings = append(f.bindings, exchange+"->"+name)
	return nil
}

func (f *fakeChannel) Qos(prefetchCount, _ int, _ bool) error {
	f.prefetch = prefetchCount
	return nil
}

func (f *fakeChannel) Consume(string, string, bool, bool, bool, bool, amqp.Table) (<-chan amqp.Delivery, error) {
	return f.deliveries, nil
}

func (f *fakeChannel) PublishWithContext(_ context.Context, _, _ string, _, _ bool, msg amqp.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, msg)
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func TestRabbitConsumerSetupDeclaresTopology(t *testing.T) {
	ch := newFakeChannel()
	c := NewRabbitConsumer(ch, config.RabbitMQ{}, nil, zap.NewNop().Sugar())

	require.NoError(t, c.Setup())
	assert.Equal(t, amqp.ExchangeFanout, ch.exchanges[config.DefaultExchange])
	assert.Equal(t, []string{config.DefaultQueueName}, ch.queues)
	assert.Equal(t, []string{config.DefaultExchange + "->" + config.DefaultQueueName}, ch.bindings)
	assert.Equal(t, 10, ch.prefetch)
}

func TestRabbitConsumerSetupError(t *testing.T) {
	ch := newFakeChannel()
	ch.declareErr = errors.New("access refused")
	c := NewRabbitConsumer(ch, config.RabbitMQ{}, nil, zap.NewNop().Sugar())

	err := c.Setup()
	require.ErrorIs(t, err, ch.declareErr)
}

func TestRabbitConsumerAcksNacksAndRejects(t *testing.T) {
	ch := newFakeChannel()
	ack := newFakeAcknowledger()

	ch.deliveries <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 1, Body: []byte(`{"recipient":"ok@x.org"}`)}
	ch.deliveries <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 2, Body: []byte(`{"recipient":"fail@x.org"}`)}
	ch.deliveries <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 3, Body: []byte(`not json`)}

	handler := func(_ context.Context, msg EmailMessage) error {
		if msg.Recipient == "fail@x.org" {
			return errors.New("store unavailable")
		}
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := NewRabbitConsumer(ch, config.RabbitMQ{Concurrency: 2}, handler, zap.NewNop().Sugar())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool {
		rec := ack.snapshot()
		return len(rec.acked)+len(rec.nacked)+len(rec.rejected) == 3
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	rec := ack.snapshot()
	assert.Equal(t, []uint64{1}, rec.acked)
	assert.Equal(t, []uint64{2}, rec.nacked)
	assert.True(t, rec.requeue[2], "handler failures are requeued")
	assert.Equal(t, []uint64{3}, rec.rejected)
	assert.False(t, rec.requeue[3], "malformed messages are not requeued")
}

func TestRabbitConsumerStopsWhenDeliveriesClose(t *testing.T) {
	ch := newFakeChannel()
	close(ch.deliveries)
	c := NewRabbitConsumer(ch, config.RabbitMQ{}, func(context.Context, EmailMessage) error { return nil }, zap.NewNop().Sugar())

	err := c.Run(context.Background())
	require.Error(t, err)

	require.NoError(t, c.Close())
	assert.True(t, ch.closed)
}

func TestRabbitPublisher(t *testing.T) {
	ch := newFakeChannel()
	p, err := NewRabbitPublisher(ch, config.RabbitMQ{Exchange: "ex", Queue: "q"})
	require.NoError(t, err)
	assert.Equal(t, []string{"ex->q"}, ch.bindings)

	require.NoError(t, p.Publish(context.Background(), EmailMessage{Recipient: "a@x.org", Subject: "s", Body: "b"}))
	require.Len(t, ch.published, 1)

	pub := ch.published[0]
	assert.Equal(t, amqp.Persistent, pub.DeliveryMode)
	assert.Equal(t, "application/json", pub.ContentType)
	assert.NotEmpty(t, pub.MessageId)

	msg, err := Decode(pub.Body)
	require.NoError(t, err)
	assert.Equal(t, "a@x.org", msg.Recipient)

	require.ErrorIs(t, p.Publish(context.Background(), EmailMessage{}), ErrMalformedMessage)
}

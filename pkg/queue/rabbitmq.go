// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/telekom/email-dispatcher/pkg/config"
	"github.com/telekom/email-dispatcher/pkg/metrics"
	"github.com/telekom/email-dispatcher/pkg/utils"
)

const backendRabbitMQ = "rabbitmq"

// AMQPChannel is the subset of *amqp.Channel used here.
type AMQPChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// RabbitConnection owns an AMQP connection and the channel opened on it.
type RabbitConnection struct {
	conn    *amqp.Connection
	Channel AMQPChannel
}

// DialRabbit connects to url, retrying with backoff while the broker is not
// reachable yet.
func DialRabbit(ctx context.Context, url string, log *zap.SugaredLogger) (*RabbitConnection, error) {
	var rc *RabbitConnection
	err := utils.RetryWithBackoff(ctx, utils.DefaultRetryConfig(), log, "connect to RabbitMQ", func(context.Context) error {
		conn, err := amqp.Dial(url)
		if err != nil {
			return err
		}
		ch, err := conn.Channel()
		if err != nil {
			_ = conn.Close()
			return err
		}
		rc = &RabbitConnection{conn: conn, Channel: ch}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rc, nil
}

func (rc *RabbitConnection) Close() error {
	var errs []error
	if rc.Channel != nil {
		if err := rc.Channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err)
		}
	}
	if rc.conn != nil {
		if err := rc.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// declareTopology creates the durable fanout exchange, the durable queue and
// the binding between them. All declarations are idempotent.
func declareTopology(ch AMQPChannel, exchange, queue string) error {
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declaring exchange %s: %w", exchange, err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declaring queue %s: %w", queue, err)
	}
	if err := ch.QueueBind(queue, "", exchange, false, nil); err != nil {
		return fmt.Errorf("binding queue %s to %s: %w", queue, exchange, err)
	}
	return nil
}

// RabbitConsumer consumes the notification queue with manual acknowledgements.
type RabbitConsumer struct {
	ch      AMQPChannel
	cfg     config.RabbitMQ
	handler Handler
	log     *zap.SugaredLogger
}

func NewRabbitConsumer(ch AMQPChannel, cfg config.RabbitMQ, handler Handler, log *zap.SugaredLogger) *RabbitConsumer {
	if cfg.Exchange == "" {
		cfg.Exchange = config.DefaultExchange
	}
	if cfg.Queue == "" {
		cfg.Queue = config.DefaultQueueName
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 10
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &RabbitConsumer{ch: ch, cfg: cfg, handler: handler, log: log.Named("rabbitmq-consumer")}
}

// Setup declares the topology and applies the prefetch limit.
func (c *RabbitConsumer) Setup() error {
	if err := declareTopology(c.ch, c.cfg.Exchange, c.cfg.Queue); err != nil {
		return err
	}
	if err := c.ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		return fmt.Errorf("setting prefetch: %w", err)
	}
	return nil
}

// Run starts the configured number of workers and blocks until ctx is
// cancelled or the broker closes the delivery channel.
func (c *RabbitConsumer) Run(ctx context.Context) error {
	if err := c.Setup(); err != nil {
		return err
	}
	deliveries, err := c.ch.Consume(c.cfg.Queue, "email-dispatcher-"+uuid.NewString()[:8], false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("starting consumer on %s: %w", c.cfg.Queue, err)
	}
	c.log.Infow("Consuming email notifications",
		"exchange", c.cfg.Exchange,
		"queue", c.cfg.Queue,
		"prefetch", c.cfg.Prefetch,
		"workers", c.cfg.Concurrency)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < c.cfg.Concurrency; i++ {
		g.Go(func() error {
			return c.work(gctx, deliveries)
		})
	}
	return g.Wait()
}

func (c *RabbitConsumer) work(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("RabbitMQ delivery channel closed")
			}
			c.deliver(ctx, d)
		}
	}
}

func (c *RabbitConsumer) deliver(ctx context.Context, d amqp.Delivery) {
	log := c.log.With("deliveryTag", d.DeliveryTag, "messageID", d.MessageId)

	msg, err := Decode(d.Body)
	if err != nil {
		log.Warnw("Rejecting malformed message", "error", err)
		metrics.QueueMessages.WithLabelValues(backendRabbitMQ, "malformed").Inc()
		if rerr := d.Reject(false); rerr != nil {
			log.Errorw("Failed to reject message", "error", rerr)
		}
		return
	}

	if err := c.handler(ctx, msg); err != nil {
		log.Errorw("Handler failed, requeueing message", "error", err)
		metrics.QueueMessages.WithLabelValues(backendRabbitMQ, "failed").Inc()
		if nerr := d.Nack(false, true); nerr != nil {
			log.Errorw("Failed to nack message", "error", nerr)
		}
		return
	}

	metrics.QueueMessages.WithLabelValues(backendRabbitMQ, "handled").Inc()
	if aerr := d.Ack(false); aerr != nil {
		log.Errorw("Failed to ack message", "error", aerr)
	}
}

func (c *RabbitConsumer) Close() error {
	return c.ch.Close()
}

// RabbitPublisher publishes persistent JSON messages to the fanout exchange.
type RabbitPublisher struct {
	ch       AMQPChannel
	exchange string
	queue    string
}

// NewRabbitPublisher declares the topology so that messages published before
// the first consumer starts are not dropped by the exchange.
func NewRabbitPublisher(ch AMQPChannel, cfg config.RabbitMQ) (*RabbitPublisher, error) {
	p := &RabbitPublisher{ch: ch, exchange: cfg.Exchange, queue: cfg.Queue}
	if p.exchange == "" {
		p.exchange = config.DefaultExchange
	}
	if p.queue == "" {
		p.queue = config.DefaultQueueName
	}
	if err := declareTopology(ch, p.exchange, p.queue); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *RabbitPublisher) Publish(ctx context.Context, msg EmailMessage) error {
	b, err := encode(msg)
	if err != nil {
		return err
	}
	err = p.ch.PublishWithContext(ctx, p.exchange, "", false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		Body:         b,
	})
	if err != nil {
		return fmt.Errorf("publishing to %s: %w", p.exchange, err)
	}
	return nil
}

func (p *RabbitPublisher) Close() error {
	return p.ch.Close()
}

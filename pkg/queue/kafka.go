// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/segmentio/kafka-go/sasl/scram"
	"go.uber.org/zap"

	"github.com/telekom/email-dispatcher/pkg/config"
	"github.com/telekom/email-dispatcher/pkg/metrics"
)

const (
	backendKafka = "kafka"

	commitTimeout = 3 * time.Second
)

// KafkaReader is the subset of *kafka.Reader used by KafkaConsumer.
type KafkaReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaWriter is the subset of *kafka.Writer used by KafkaPublisher.
type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConsumer reads a consumer group and commits each message only after
// the handler accepted it. Messages of one partition are handled in order.
type KafkaConsumer struct {
	reader     KafkaReader
	handler    Handler
	retryPause time.Duration
	log        *zap.SugaredLogger
}

func NewKafkaConsumer(reader KafkaReader, handler Handler, retryPause time.Duration, log *zap.SugaredLogger) *KafkaConsumer {
	if retryPause <= 0 {
		retryPause = 5 * time.Second
	}
	return &KafkaConsumer{
		reader:     reader,
		handler:    handler,
		retryPause: retryPause,
		log:        log.Named("kafka-consumer"),
	}
}

// DialKafkaConsumer builds a group reader for cfg.
func DialKafkaConsumer(cfg config.Kafka, handler Handler, log *zap.SugaredLogger) (*KafkaConsumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one Kafka broker is required")
	}
	dialer := &kafka.Dialer{Timeout: 10 * time.Second, DualStack: true}
	mechanism, tlsConfig, err := kafkaSecurity(cfg)
	if err != nil {
		return nil, err
	}
	dialer.SASLMechanism = mechanism
	dialer.TLS = tlsConfig

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commits
		Dialer:         dialer,
	})
	log.Infow("Kafka consumer created",
		"brokers", cfg.Brokers,
		"topic", cfg.Topic,
		"groupID", cfg.GroupID,
		"tlsEnabled", tlsConfig != nil,
		"saslEnabled", mechanism != nil)
	return NewKafkaConsumer(reader, handler, cfg.GetRetryPause(), log), nil
}

// Run blocks until ctx is cancelled. Malformed payloads are committed and
// skipped. A handler error keeps the offset uncommitted and the same message
// is handed to the handler again after the retry pause.
func (c *KafkaConsumer) Run(ctx context.Context) error {
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Warnw("Failed to fetch Kafka message", "error", err)
			if !sleepCtx(ctx, c.retryPause) {
				return nil
			}
			continue
		}

		msg, err := Decode(m.Value)
		if err != nil {
			c.log.Warnw("Skipping malformed Kafka message",
				"partition", m.Partition,
				"offset", m.Offset,
				"error", err)
			metrics.QueueMessages.WithLabelValues(backendKafka, "malformed").Inc()
			c.commit(ctx, m)
			continue
		}

		if !c.handleUntilAccepted(ctx, m, msg) {
			return nil
		}
		metrics.QueueMessages.WithLabelValues(backendKafka, "handled").Inc()
		c.commit(ctx, m)
	}
}

func (c *KafkaConsumer) handleUntilAccepted(ctx context.Context, m kafka.Message, msg EmailMessage) bool {
	for {
		err := c.handler(ctx, msg)
		if err == nil {
			return true
		}
		metrics.QueueMessages.WithLabelValues(backendKafka, "failed").Inc()
		c.log.Errorw("Handler failed, message will be retried",
			"partition", m.Partition,
			"offset", m.Offset,
			"retryPause", c.retryPause.String(),
			"error", err)
		if !sleepCtx(ctx, c.retryPause) {
			return false
		}
	}
}

func (c *KafkaConsumer) commit(ctx context.Context, m kafka.Message) {
	cctx, cancel := context.WithTimeout(ctx, commitTimeout)
	defer cancel()
	if err := c.reader.CommitMessages(cctx, m); err != nil {
		// The message will be redelivered; duplicates create new history records.
		c.log.Warnw("Failed to commit Kafka offset", "partition", m.Partition, "offset", m.Offset, "error", err)
	}
}

func (c *KafkaConsumer) Close() error {
	return c.reader.Close()
}

// KafkaPublisher writes messages keyed by recipient.
type KafkaPublisher struct {
	writer  KafkaWriter
	timeout time.Duration
}

func NewKafkaPublisher(writer KafkaWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: writer, timeout: 10 * time.Second}
}

// DialKafkaPublisher builds a writer for cfg with TLS and SASL as configured.
func DialKafkaPublisher(cfg config.Kafka, log *zap.SugaredLogger) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one Kafka broker is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("Kafka topic is required")
	}
	mechanism, tlsConfig, err := kafkaSecurity(cfg)
	if err != nil {
		return nil, err
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireAll,
		Transport:    &kafka.Transport{SASL: mechanism, TLS: tlsConfig},
	}
	log.Infow("Kafka publisher created", "brokers", cfg.Brokers, "topic", cfg.Topic)
	return NewKafkaPublisher(writer), nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, msg EmailMessage) error {
	b, err := encode(msg)
	if err != nil {
		return err
	}
	cctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.writer.WriteMessages(cctx, kafka.Message{
		Key:   []byte(msg.Recipient),
		Value: b,
		Time:  time.Now(),
	}); err != nil {
		return fmt.Errorf("writing Kafka message: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func kafkaSecurity(cfg config.Kafka) (sasl.Mechanism, *tls.Config, error) {
	var tlsConfig *tls.Config
	if cfg.TLSEnabled {
		tlsConfig = &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: cfg.TLSInsecure, // #nosec G402 -- explicit opt-in via config
		}
	}
	if cfg.SASLMechanism == "" {
		return nil, tlsConfig, nil
	}
	mechanism, err := buildSASLMechanism(cfg.SASLMechanism, cfg.SASLUsername, cfg.SASLPassword)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build SASL mechanism: %w", err)
	}
	return mechanism, tlsConfig, nil
}

// buildSASLMechanism creates a SASL mechanism by name.
func buildSASLMechanism(name, username, password string) (sasl.Mechanism, error) {
	switch name {
	case "PLAIN":
		return plain.Mechanism{
			Username: username,
			Password: password,
		}, nil
	case "SCRAM-SHA-256":
		mechanism, err := scram.Mechanism(scram.SHA256, username, password)
		if err != nil {
			return nil, fmt.Errorf("failed to create SCRAM-SHA-256 mechanism: %w", err)
		}
		return mechanism, nil
	case "SCRAM-SHA-512":
		mechanism, err := scram.Mechanism(scram.SHA512, username, password)
		if err != nil {
			return nil, fmt.Errorf("failed to create SCRAM-SHA-512 mechanism: %w", err)
		}
		return mechanism, nil
	default:
		return nil, fmt.Errorf("unsupported SASL mechanism: %s", name)
	}
}

// sleepCtx waits for d and reports false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

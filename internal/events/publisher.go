// Package events publishes guidance outcome events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"github.com/sudarshan922/insta-first-aid/internal/observability/metrics"
)

// Default topic names.
const (
	DefaultTopicOutcome = "firstaid.guidance.outcome"
	DefaultTopicFailure = "firstaid.guidance.failure"
)

// Publisher publishes guidance events to separate outcome and failure topics.
type Publisher struct {
	writerOutcome *kafka.Writer
	writerFailure *kafka.Writer
	principal     string
	topicOutcome  string
	topicFailure  string
	enabled       bool
	metrics       *metrics.Metrics
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers      []string
	TopicOutcome string
	TopicFailure string
	Principal    string
	Enabled      bool
}

// New creates a Kafka event publisher. With a nil config, Kafka disabled or
// no brokers it runs in log-only mode.
func New(cfg *Config) *Publisher {
	m := metrics.DefaultMetrics

	if cfg == nil {
		log.Info().Msg("Kafka disabled (nil config), using log-only mode")
		return &Publisher{
			topicOutcome: DefaultTopicOutcome,
			topicFailure: DefaultTopicFailure,
			metrics:      m,
		}
	}

	topicOutcome, topicFailure := cfg.TopicOutcome, cfg.TopicFailure
	if topicOutcome == "" {
		topicOutcome = DefaultTopicOutcome
	}
	if topicFailure == "" {
		topicFailure = DefaultTopicFailure
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Msg("Kafka disabled, using log-only mode")
		return &Publisher{
			principal:    cfg.Principal,
			topicOutcome: topicOutcome,
			topicFailure: topicFailure,
			metrics:      m,
		}
	}

	// Longer dial timeout for DNS resolution in Kubernetes
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	transport := &kafka.Transport{
		Dial: dialer.DialFunc,
	}

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicOutcome", topicOutcome).
		Str("topicFailure", topicFailure).
		Str("principal", cfg.Principal).
		Msg("Kafka publisher initialized")

	return &Publisher{
		writerOutcome: newWriter(cfg.Brokers, topicOutcome, transport),
		writerFailure: newWriter(cfg.Brokers, topicFailure, transport),
		principal:     cfg.Principal,
		topicOutcome:  topicOutcome,
		topicFailure:  topicFailure,
		enabled:       true,
		metrics:       m,
	}
}

func newWriter(brokers []string, topic string, transport *kafka.Transport) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    transport,
	}
}

// TopicOutcome returns the outcome topic name.
func (p *Publisher) TopicOutcome() string { return p.topicOutcome }

// TopicFailure returns the failure topic name.
func (p *Publisher) TopicFailure() string { return p.topicFailure }

// PublishOutcome publishes a completed or not-emergency event.
func (p *Publisher) PublishOutcome(ctx context.Context, key, eventType string, event any) error {
	return p.publish(ctx, p.writerOutcome, p.topicOutcome, eventType, key, event)
}

// PublishFailure publishes a failed-invocation event.
func (p *Publisher) PublishFailure(ctx context.Context, key, eventType string, event any) error {
	return p.publish(ctx, p.writerFailure, p.topicFailure, eventType, key, event)
}

func (p *Publisher) publish(ctx context.Context, writer *kafka.Writer, topic, eventType, key string, event any) error {
	start := time.Now()

	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("Failed to marshal event")
		return err
	}

	log.Debug().
		Str("principal", p.principal).
		Str("topic", topic).
		Str("key", key).
		RawJSON("payload", payload).
		Msg("Publishing event")

	if !p.enabled || writer == nil {
		p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(eventType)},
			{Key: "principal", Value: []byte(p.principal)},
		},
	}

	if err := writer.WriteMessages(ctx, msg); err != nil {
		log.Error().
			Err(err).
			Str("topic", topic).
			Str("key", key).
			Msg("Failed to write to Kafka")
		p.metrics.RecordKafkaPublish(topic, eventType, err, time.Since(start).Seconds())
		return err
	}

	p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
	return nil
}

// Close closes both Kafka writers.
func (p *Publisher) Close() error {
	var err error
	if p.writerOutcome != nil {
		if e := p.writerOutcome.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing outcome writer")
			err = e
		}
	}
	if p.writerFailure != nil {
		if e := p.writerFailure.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing failure writer")
			err = e
		}
	}
	return err
}

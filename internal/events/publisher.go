// Package events publishes transcript events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"ai-speech-stream-service/internal/models"
	"ai-speech-stream-service/internal/observability/metrics"
	"ai-speech-stream-service/internal/schema"
)

// EventTypeCompleted is the event type of a completed transcript hand-off.
const EventTypeCompleted = "stream.transcript.completed"

// Publisher publishes transcript events to separate Kafka topics: one each
// for partial and final update mirrors and one for completed transcripts.
type Publisher struct {
	writerPartial   *kafka.Writer
	writerFinal     *kafka.Writer
	writerCompleted *kafka.Writer
	principal       string
	topicPartial    string
	topicFinal      string
	topicCompleted  string
	enabled         bool
	validator       *schema.Validator
	metrics         *metrics.Metrics
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers        []string
	TopicPartial   string
	TopicFinal     string
	TopicCompleted string
	Principal      string
	Enabled        bool
}

// New creates a Kafka publisher. A nil or disabled config yields a
// log-only publisher.
func New(cfg *Config) *Publisher {
	m := metrics.DefaultMetrics
	v := schema.New()

	if cfg == nil {
		log.Info().Msg("Kafka disabled (nil config), using log-only mode")
		return &Publisher{validator: v, metrics: m}
	}

	p := &Publisher{
		principal:      cfg.Principal,
		topicPartial:   cfg.TopicPartial,
		topicFinal:     cfg.TopicFinal,
		topicCompleted: cfg.TopicCompleted,
		validator:      v,
		metrics:        m,
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Msg("Kafka disabled, using log-only mode")
		return p
	}

	// Longer dial timeout for DNS resolution inside Kubernetes.
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	transport := &kafka.Transport{
		Dial: dialer.DialFunc,
	}

	p.writerPartial = newWriter(cfg.Brokers, cfg.TopicPartial, transport)
	p.writerFinal = newWriter(cfg.Brokers, cfg.TopicFinal, transport)
	p.writerCompleted = newWriter(cfg.Brokers, cfg.TopicCompleted, transport)
	p.enabled = true

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicPartial", cfg.TopicPartial).
		Str("topicFinal", cfg.TopicFinal).
		Str("topicCompleted", cfg.TopicCompleted).
		Str("principal", cfg.Principal).
		Msg("Kafka publisher initialized")

	return p
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

// PublishPartial publishes an event to the partial topic.
func (p *Publisher) PublishPartial(ctx context.Context, key string, event any) error {
	return p.publish(ctx, p.writerPartial, p.topicPartial, "partial", key, event)
}

// PublishFinal publishes an event to the final topic.
func (p *Publisher) PublishFinal(ctx context.Context, key string, event any) error {
	return p.publish(ctx, p.writerFinal, p.topicFinal, "final", key, event)
}

// PublishUpdate mirrors one transcript update onto the partial or final topic,
// keyed by session so a session's updates stay ordered within a partition.
func (p *Publisher) PublishUpdate(ctx context.Context, sessionID, engine string, u models.TranscriptUpdate) error {
	ev := models.NewTranscriptEvent(sessionID, engine, u)
	if err := p.validator.Validate(ev); err != nil {
		return err
	}
	if u.IsFinal() {
		return p.PublishFinal(ctx, sessionID, ev)
	}
	return p.PublishPartial(ctx, sessionID, ev)
}

// PublishCompleted hands a completed transcript to the downstream pipeline.
func (p *Publisher) PublishCompleted(ctx context.Context, ev models.TranscriptCompleted) error {
	if ev.EventType == "" {
		ev.EventType = EventTypeCompleted
	}
	if err := p.validator.Validate(ev); err != nil {
		return fmt.Errorf("completed transcript for %s: %w", ev.SessionID, err)
	}
	return p.publish(ctx, p.writerCompleted, p.topicCompleted, "completed", ev.SessionID, ev)
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

// Close closes all Kafka writers.
func (p *Publisher) Close() error {
	var err error
	for name, w := range map[string]*kafka.Writer{
		"partial":   p.writerPartial,
		"final":     p.writerFinal,
		"completed": p.writerCompleted,
	} {
		if w == nil {
			continue
		}
		if e := w.Close(); e != nil {
			log.Error().Err(e).Str("writer", name).Msg("Error closing Kafka writer")
			err = e
		}
	}
	return err
}

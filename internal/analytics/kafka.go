package analytics

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"call-analysis-console/internal/models"
)

// KafkaConfig holds Kafka sink configuration.
type KafkaConfig struct {
	Brokers   []string
	Topic     string
	Principal string
}

// KafkaSink publishes analytics events to a Kafka topic. The writer runs in
// async mode so Track returns once the message is queued; delivery errors are
// reported through the completion callback.
type KafkaSink struct {
	writer    *kafka.Writer
	topic     string
	principal string
	enabled   bool
}

// NewKafkaSink creates a Kafka analytics sink. Without brokers it degrades to
// log-only mode.
func NewKafkaSink(cfg *KafkaConfig) *KafkaSink {
	if cfg == nil {
		log.Info().Msg("Kafka analytics disabled (nil config), using log-only mode")
		return &KafkaSink{}
	}

	if len(cfg.Brokers) == 0 {
		log.Info().Msg("Kafka analytics disabled, using log-only mode")
		return &KafkaSink{
			topic:     cfg.Topic,
			principal: cfg.Principal,
		}
	}

	// Longer dial timeout for DNS resolution inside clusters.
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}

	transport := &kafka.Transport{
		Dial: dialer.DialFunc,
	}

	topic := cfg.Topic
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		Transport:    transport,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				log.Error().
					Err(err).
					Str("topic", topic).
					Int("messages", len(messages)).
					Msg("Failed to write analytics to Kafka")
			}
		},
	}

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topic", cfg.Topic).
		Str("principal", cfg.Principal).
		Msg("Kafka analytics sink initialized")

	return &KafkaSink{
		writer:    writer,
		topic:     cfg.Topic,
		principal: cfg.Principal,
		enabled:   true,
	}
}

// Track queues one event keyed by user id, so a session's events stay ordered
// within a partition.
func (k *KafkaSink) Track(ctx context.Context, userID, event string, properties map[string]any) error {
	payload, err := json.Marshal(models.AnalyticsEvent{
		EventType:  event,
		UserID:     userID,
		Timestamp:  time.Now().UnixMilli(),
		Properties: properties,
	})
	if err != nil {
		return err
	}

	log.Debug().
		Str("principal", k.principal).
		Str("topic", k.topic).
		Str("key", userID).
		RawJSON("payload", payload).
		Msg("Publishing analytics event")

	if !k.enabled || k.writer == nil {
		return nil
	}

	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(userID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(event)},
			{Key: "principal", Value: []byte(k.principal)},
		},
	})
}

// Close flushes and closes the writer.
func (k *KafkaSink) Close() error {
	if k.writer == nil {
		return nil
	}
	if err := k.writer.Close(); err != nil {
		log.Error().Err(err).Msg("Error closing analytics writer")
		return err
	}
	return nil
}

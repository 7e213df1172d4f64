package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"call-analysis-console/internal/models"
)

// TailConfig selects the analytics topic to follow.
type TailConfig struct {
	Brokers []string
	Topic   string
	// Since replays events newer than now minus Since.
	Since time.Duration
}

// DecodeEvent parses one analytics message written by KafkaSink.
func DecodeEvent(value []byte) (models.AnalyticsEvent, error) {
	var ev models.AnalyticsEvent
	if err := json.Unmarshal(value, &ev); err != nil {
		return ev, fmt.Errorf("decode analytics event: %w", err)
	}
	if ev.EventType == "" {
		return ev, errors.New("decode analytics event: missing eventType")
	}
	return ev, nil
}

// Tail reads the analytics topic from partition 0 and calls fn for each
// decodable event until ctx is done. Undecodable messages are logged and skipped.
func Tail(ctx context.Context, cfg TailConfig, fn func(models.AnalyticsEvent)) error {
	if len(cfg.Brokers) == 0 {
		return errors.New("no Kafka brokers configured")
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   cfg.Brokers,
		Topic:     cfg.Topic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  10e6,
	})
	defer reader.Close()

	if cfg.Since > 0 {
		if err := reader.SetOffsetAt(ctx, time.Now().Add(-cfg.Since)); err != nil {
			return fmt.Errorf("seek analytics topic: %w", err)
		}
	}

	log.Info().Strs("brokers", cfg.Brokers).Str("topic", cfg.Topic).Msg("Tailing analytics topic")

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Warn().Err(err).Str("topic", cfg.Topic).Msg("Kafka read error")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		ev, err := DecodeEvent(msg.Value)
		if err != nil {
			log.Warn().Err(err).Int64("offset", msg.Offset).Msg("Skipping analytics message")
			continue
		}
		fn(ev)
	}
}

// Package analytics is the fire-and-forget analytics side channel. Sinks
// deliver events; Safe wraps a sink so that delivery problems never reach
// the caller.
package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"call-analysis-console/internal/config"
	"call-analysis-console/internal/observability/logging"
	"call-analysis-console/internal/observability/metrics"
)

// PropUserID is the property carrying the session id on every event.
const PropUserID = "user_id"

// Tracker delivers one analytics event.
type Tracker interface {
	Track(ctx context.Context, userID, event string, properties map[string]any) error
	Close() error
}

// Emitter is what the orchestrator calls. Emit never fails.
type Emitter interface {
	Emit(ctx context.Context, userID, event string, properties map[string]any)
}

// Nop discards every event. Used when analytics is disabled.
type Nop struct{}

func (Nop) Track(context.Context, string, string, map[string]any) error { return nil }
func (Nop) Close() error                                               { return nil }

// LogSink writes events to the structured log only.
type LogSink struct {
	log zerolog.Logger
}

func NewLogSink() *LogSink {
	return &LogSink{log: logging.WithComponent("analytics")}
}

func (s *LogSink) Track(_ context.Context, userID, event string, properties map[string]any) error {
	s.log.Info().
		Str("userId", userID).
		Str("event", event).
		Fields(properties).
		Msg("Analytics event")
	return nil
}

func (s *LogSink) Close() error { return nil }

// Safe adapts a Tracker into an Emitter: it stamps the user id into the
// properties, recovers panics, and logs and drops errors.
type Safe struct {
	sink    Tracker
	name    string
	metrics *metrics.Metrics
	log     zerolog.Logger
}

// NewSafe wraps sink. name labels metrics.
func NewSafe(sink Tracker, name string, m *metrics.Metrics) *Safe {
	if sink == nil {
		sink = Nop{}
	}
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &Safe{
		sink:    sink,
		name:    name,
		metrics: m,
		log:     logging.WithComponent("analytics"),
	}
}

// Emit delivers event on a best-effort basis.
func (s *Safe) Emit(ctx context.Context, userID, event string, properties map[string]any) {
	start := time.Now()
	props := make(map[string]any, len(properties)+1)
	for k, v := range properties {
		props[k] = v
	}
	if userID != "" {
		props[PropUserID] = userID
	}

	err := s.track(ctx, userID, event, props)
	s.metrics.RecordAnalyticsPublish(s.name, event, err, time.Since(start).Seconds())
	if err != nil {
		s.log.Warn().
			Err(err).
			Str("sink", s.name).
			Str("event", event).
			Msg("Analytics tracking failed")
	}
}

func (s *Safe) track(ctx context.Context, userID, event string, props map[string]any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("analytics sink panicked: %v", r)
		}
	}()
	return s.sink.Track(ctx, userID, event, props)
}

// Close closes the underlying sink.
func (s *Safe) Close() error {
	return s.sink.Close()
}

// FromConfig builds the configured sink. An unusable sink falls back to the
// log sink so the console still starts.
func FromConfig(cfg *config.Configuration) (Tracker, string) {
	log := logging.WithComponent("analytics")
	if !cfg.Analytics.Enabled {
		log.Info().Msg("Analytics disabled")
		return Nop{}, "nop"
	}

	switch cfg.Analytics.Sink {
	case config.SinkKafka:
		return NewKafkaSink(&KafkaConfig{
			Brokers:   cfg.Kafka.Brokers,
			Topic:     cfg.Kafka.Topic,
			Principal: cfg.Kafka.Principal,
		}), config.SinkKafka
	case config.SinkSegment:
		sink, err := NewSegmentSink(cfg.Analytics.WriteKey, cfg.Analytics.Endpoint)
		if err != nil {
			log.Error().Err(err).Msg("Segment sink unavailable, falling back to log-only mode")
			return NewLogSink(), config.SinkLog
		}
		return sink, config.SinkSegment
	default:
		return NewLogSink(), config.SinkLog
	}
}

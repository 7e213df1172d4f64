package analytics

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	segment "github.com/segmentio/analytics-go/v3"

	"call-analysis-console/internal/observability/logging"
)

// SegmentSink sends events to Segment's tracking API. The client batches in
// the background; Track only enqueues.
type SegmentSink struct {
	client segment.Client
}

// NewSegmentSink creates a Segment sink. endpoint may be empty for the default.
func NewSegmentSink(writeKey, endpoint string) (*SegmentSink, error) {
	l := logging.WithComponent("analytics.segment")
	client, err := segment.NewWithConfig(writeKey, segment.Config{
		Endpoint: endpoint,
		Logger:   segmentLogger{log: l},
		Callback: segmentCallback{log: l},
	})
	if err != nil {
		return nil, fmt.Errorf("segment client: %w", err)
	}
	return &SegmentSink{client: client}, nil
}

func (s *SegmentSink) Track(_ context.Context, userID, event string, properties map[string]any) error {
	return s.client.Enqueue(segment.Track{
		UserId:     userID,
		Event:      event,
		Properties: segment.Properties(properties),
	})
}

// Close flushes pending events.
func (s *SegmentSink) Close() error {
	return s.client.Close()
}

type segmentLogger struct {
	log zerolog.Logger
}

func (l segmentLogger) Logf(format string, args ...interface{}) {
	l.log.Debug().Msgf(format, args...)
}

func (l segmentLogger) Errorf(format string, args ...interface{}) {
	l.log.Error().Msgf(format, args...)
}

type segmentCallback struct {
	log zerolog.Logger
}

func (c segmentCallback) Success(segment.Message) {}

func (c segmentCallback) Failure(_ segment.Message, err error) {
	c.log.Warn().Err(err).Msg("Segment delivery failed")
}

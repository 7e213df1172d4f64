// Command eventtail follows the console's Kafka analytics topic and prints
// each event, for checking the analytics side channel end to end.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"call-analysis-console/internal/analytics"
	"call-analysis-console/internal/models"
	"call-analysis-console/internal/observability/logging"
)

func main() {
	brokers := flag.String("brokers", "localhost:9092", "Kafka brokers (comma-separated)")
	topic := flag.String("topic", "call-console.analytics", "analytics topic")
	since := flag.Duration("since", time.Hour, "replay events newer than this")
	flag.Parse()

	cfg := logging.DefaultConfig()
	cfg.Format = "console"
	logging.Init(cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err := analytics.Tail(ctx, analytics.TailConfig{
		Brokers: strings.Split(*brokers, ","),
		Topic:   *topic,
		Since:   *since,
	}, func(ev models.AnalyticsEvent) {
		log.Info().
			Str("event", ev.EventType).
			Str("userId", ev.UserID).
			Time("at", time.UnixMilli(ev.Timestamp)).
			Fields(ev.Properties).
			Msg("analytics")
	})
	if err != nil {
		log.Fatal().Err(err).Msg("tail failed")
	}
}

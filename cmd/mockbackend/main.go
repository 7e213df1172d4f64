// Command mockbackend serves a fake analysis backend for local development.
package main

import (
	"flag"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"call-analysis-console/internal/backend/mock"
	"call-analysis-console/internal/observability/logging"
)

func main() {
	addr := flag.String("addr", ":8000", "listen address")
	apiKey := flag.String("api-key", "", "reject requests without this API-Key")
	userID := flag.String("assign-user-id", "", "user_id returned from /transcribe")
	flag.Parse()

	cfg := logging.DefaultConfig()
	cfg.Format = "console"
	cfg.Level = "debug"
	logging.Init(cfg)

	fake := mock.New(mock.Options{
		RequiredAPIKey: *apiKey,
		AssignUserID:   *userID,
	})

	srv := &http.Server{
		Addr:              *addr,
		Handler:           fake.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info().Str("addr", *addr).Msg("Mock backend listening")
	if err := srv.ListenAndServe(); err != nil {
		log.Fatal().Err(err).Msg("mock backend stopped")
	}
}

package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"call-analysis-console/internal/app"
	"call-analysis-console/internal/config"
	consolehttp "call-analysis-console/internal/http"
	"call-analysis-console/internal/observability"
)

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	application := app.New(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Metrics and probes on their own port
	obs := observability.NewServer(":"+cfg.Service.MetricsPort, application.Ready)
	obs.Start()

	// gRPC health for orchestrators that probe over gRPC
	lis, err := net.Listen("tcp", ":"+cfg.Service.GRPCPort)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to listen")
	}
	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(observability.UnaryServerInterceptor()))
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)

	go func() {
		log.Info().Str("port", cfg.Service.GRPCPort).Msg("gRPC health server started")
		if err := grpcServer.Serve(lis); err != nil {
			log.Error().Err(err).Msg("grpc serve failed")
		}
	}()

	httpServer := &http.Server{
		Addr:              ":" + cfg.Service.HTTPPort,
		Handler:           consolehttp.NewRouter(application),
		ReadHeaderTimeout: 10 * time.Second,
		// Writes wait on the backend, so allow the slowest call plus slack.
		WriteTimeout: cfg.Backend.TranscribeTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	if err := application.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("application start failed")
	}
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)

	go func() {
		log.Info().Str("port", cfg.Service.HTTPPort).Msg("Call analysis console started")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http serve failed")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info().Msg("shutting down")
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	application.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown failed")
	}
	if err := obs.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("observability shutdown failed")
	}
	grpcServer.GracefulStop()
	cancel()
}

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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	grpcapi "ai-speech-stream-service/internal/api/grpc"
	"ai-speech-stream-service/internal/app"
	"ai-speech-stream-service/internal/config"
	httpapi "ai-speech-stream-service/internal/http"
	"ai-speech-stream-service/internal/observability"
)

func main() {
	cfg := config.Load()

	application, err := app.New(context.Background(), cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	obs := observability.NewServer(":"+cfg.Observability.MetricsPort, prometheus.DefaultGatherer)
	obs.Start()

	grpcServer := grpcapi.New(application.Metrics)
	lis, err := net.Listen("tcp", ":"+cfg.Service.GRPCPort)
	if err != nil {
		log.Fatal().Err(err).Str("port", cfg.Service.GRPCPort).Msg("failed to listen")
	}
	go func() {
		if err := grpcServer.Serve(lis); err != nil {
			log.Error().Err(err).Msg("grpc serve failed")
		}
	}()

	httpServer := &http.Server{
		Addr:              ":" + cfg.Service.HTTPPort,
		Handler:           httpapi.NewRouter(application),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("Speech stream service listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http serve failed")
		}
	}()

	if err := application.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
	grpcServer.SetServing(true)
	obs.SetReady(true)

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	obs.SetReady(false)
	grpcServer.SetServing(false)
	// Sessions are closed first so that clients get their final updates and
	// metrics before the listener goes away.
	if err := application.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("application shutdown incomplete")
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
	grpcServer.GracefulStop()
	_ = obs.Shutdown(shutdownCtx)
}

package app

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"ai-speech-stream-service/internal/config"
	"ai-speech-stream-service/internal/events"
	"ai-speech-stream-service/internal/observability/logging"
	"ai-speech-stream-service/internal/observability/metrics"
	"ai-speech-stream-service/internal/service/engine"
	"ai-speech-stream-service/internal/service/monitor"
	"ai-speech-stream-service/internal/service/session"
	"ai-speech-stream-service/internal/service/stt/google"
	"ai-speech-stream-service/internal/service/stt/mock"
	"ai-speech-stream-service/internal/service/stt/windowed"
	"ai-speech-stream-service/internal/service/workerpool"
)

// mockLatency simulates batch inference time for the mock windowed backend.
const mockLatency = 150 * time.Millisecond

// Application holds process-wide state for the service.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Config

	Metrics   *metrics.Metrics
	Publisher *events.Publisher
	Pool      *workerpool.Pool
	Factory   *engine.Factory
	Sessions  *session.Manager
	Monitor   *monitor.Monitor

	backends engine.Backends
	cancel   context.CancelFunc
	ready    atomic.Bool
}

// New wires the streaming pipeline from cfg.
func New(ctx context.Context, cfg *config.Config) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logging.Init(logging.Config{
		Level:      cfg.Observability.LogLevel,
		Format:     cfg.Observability.LogFormat,
		TimeFormat: time.RFC3339,
		Service:    "ai-speech-stream-service",
	})

	a := &Application{
		Cfg:     cfg,
		Logger:  logging.WithComponent("application"),
		Metrics: metrics.DefaultMetrics,
	}

	appLogger := a.Logger.With().Str("method", "New").Logger()

	a.backends = a.newBackends(ctx)
	a.Pool = workerpool.New(cfg.Engines.InferenceWorkers, a.Metrics)
	a.Factory = engine.NewFactory(a.backends, a.Pool, engine.Options{
		WordThreshold: cfg.Engines.WordConfidenceThreshold,
		Window: windowed.Config{
			SampleRate:  cfg.Stream.SampleRateHz,
			Interval:    cfg.Engines.WindowInterval,
			Window:      cfg.Engines.WindowDuration,
			MaxSegments: cfg.Engines.MaxSegments,
			StatusSlice: cfg.Stream.StatusSlice,
		},
	}, a.Metrics)

	a.Publisher = events.New(&events.Config{
		Enabled:        cfg.Kafka.Enabled,
		Brokers:        cfg.Kafka.Brokers,
		TopicPartial:   cfg.Kafka.TopicPartial,
		TopicFinal:     cfg.Kafka.TopicFinal,
		TopicCompleted: cfg.Kafka.TopicCompleted,
		Principal:      cfg.Kafka.Principal,
	})

	managerCfg := session.ManagerConfig{
		Defaults: session.Options{
			SampleRate:    cfg.Stream.SampleRateHz,
			QueueCapacity: cfg.Stream.QueueCapacity,
			UpdateBuffer:  cfg.Stream.UpdateBuffer,
			IdleTimeout:   cfg.Stream.IdleTimeout,
			TickInterval:  cfg.Stream.TickInterval,
			FlushTimeout:  cfg.Stream.FlushTimeout,
		},
		MaxSessions: cfg.Stream.MaxSessions,
		Handoff:     a.Publisher,
		Metrics:     a.Metrics,
	}
	if cfg.Kafka.MirrorUpdates {
		managerCfg.Mirror = a.Publisher
	}
	a.Sessions = session.NewManager(a.Factory, managerCfg)

	if cfg.Monitor.Enabled {
		var sampler monitor.ProcessSampler
		if ps, err := monitor.NewProcSampler(); err != nil {
			appLogger.Warn().Err(err).Msg("Process sampling unavailable")
		} else {
			sampler = ps
		}
		a.Monitor = monitor.New(monitor.Config{
			Interval:          cfg.Monitor.Interval,
			Grace:             cfg.Monitor.GracePeriod,
			MaxBusyRatio:      cfg.Monitor.MaxBusyRatio,
			MaxBufferedBytes:  cfg.Monitor.MaxBufferedBytes,
			MaxRealtimeFactor: cfg.Monitor.MaxRealtimeFactor,
		}, a.Sessions, sampler, a.Metrics)
	}

	appLogger.Info().
		Str("backend", cfg.Engines.Backend).
		Bool("kafka", cfg.Kafka.Enabled).
		Bool("monitor", cfg.Monitor.Enabled).
		Msg("AI Speech Stream service application created")
	return a, nil
}

func (a *Application) newBackends(ctx context.Context) engine.Backends {
	cfg := a.Cfg
	if cfg.Engines.Backend != "live" {
		return mock.NewBackends(mockLatency)
	}
	return engine.NewLiveBackends(ctx, engine.LiveConfig{
		SampleRate:      cfg.Stream.SampleRateHz,
		VoskURL:         cfg.Engines.VoskURL,
		WhisperURL:      cfg.Engines.WhisperURL,
		WhisperLanguage: cfg.Engines.WhisperLanguage,
		Google: google.Config{
			LanguageCode:   cfg.Engines.CloudLanguageCode,
			SampleRateHz:   cfg.Stream.SampleRateHz,
			InterimResults: cfg.Engines.CloudInterim,
			AudioEncoding:  cfg.Engines.CloudEncoding,
			WordConfidence: true,
		},
	})
}

// Start performs any startup work required before serving traffic.
func (a *Application) Start(ctx context.Context) error {
	startLogger := a.Logger.With().
		Str("method", "Start").
		Logger()

	ctx, a.cancel = context.WithCancel(ctx)
	if a.Monitor != nil {
		go a.Monitor.Run(ctx)
	}

	a.StartupTime = time.Now().UTC()
	a.ready.Store(true)
	startLogger.Info().
		Time("startupTime", a.StartupTime).
		Msg("AI Speech Stream service starting")

	return nil
}

// Ready reports whether the application accepts new streams.
func (a *Application) Ready() bool {
	return a.ready.Load()
}

// Shutdown closes every session, waits for in-flight inference and releases
// the backends and publisher.
func (a *Application) Shutdown(ctx context.Context) error {
	shutdownLogger := a.Logger.With().
		Str("method", "Shutdown").
		Logger()

	shutdownLogger.Info().Int("sessions", a.Sessions.Count()).Msg("AI Speech Stream service shutting down")

	a.ready.Store(false)
	if a.cancel != nil {
		a.cancel()
	}
	var errs []error
	if err := a.Sessions.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := a.Pool.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := a.Publisher.Close(); err != nil {
		errs = append(errs, err)
	}
	if c, ok := a.backends.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Package engine resolves an engine kind to a fresh adapter through a static
// constructor table.
package engine

import (
	"context"
	"errors"
	"fmt"

	"ai-speech-stream-service/internal/models"
	"ai-speech-stream-service/internal/observability/metrics"
	"ai-speech-stream-service/internal/service/stt"
	"ai-speech-stream-service/internal/service/stt/cloud"
	"ai-speech-stream-service/internal/service/stt/incremental"
	"ai-speech-stream-service/internal/service/stt/windowed"
)

// ConfigurationError reports an unknown engine or one whose backend cannot
// be used. Sessions are never created for it.
type ConfigurationError struct {
	Engine string
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("engine %q: %s: %v", e.Engine, e.Reason, e.Err)
	}
	return fmt.Sprintf("engine %q: %s", e.Engine, e.Reason)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// IsConfigurationError reports whether err carries a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// Backends supplies the model-loading collaborators behind each engine.
type Backends interface {
	// Recognizer returns a recognizer dedicated to one session.
	Recognizer(ctx context.Context) (incremental.Recognizer, error)
	// Transcriber returns the shared batch transcriber.
	Transcriber() (windowed.Transcriber, error)
	// Dialer returns the shared cloud stream dialer.
	Dialer() (cloud.Dialer, error)
}

// Options hold per-adapter settings.
type Options struct {
	WordThreshold float64
	Window        windowed.Config
	Clock         stt.Clock
}

type constructor func(ctx context.Context, f *Factory) (stt.Adapter, error)

var constructors = map[models.EngineKind]constructor{
	models.EngineWordIncremental: newIncremental,
	models.EngineWindowedContext: newWindowed,
	models.EngineCloudStreaming:  newCloud,
}

// Factory builds adapters.
type Factory struct {
	backends Backends
	pool     windowed.Executor
	opts     Options
	metrics  *metrics.Metrics
}

// NewFactory creates a factory. pool runs windowed inference.
func NewFactory(b Backends, pool windowed.Executor, opts Options, m *metrics.Metrics) *Factory {
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &Factory{backends: b, pool: pool, opts: opts, metrics: m}
}

// Resolve parses an engine name or alias.
func (f *Factory) Resolve(name string) (models.EngineKind, error) {
	kind, ok := models.ParseEngineKind(name)
	if !ok {
		return models.EngineUnknown, &ConfigurationError{Engine: name, Reason: "unknown engine"}
	}
	return kind, nil
}

// Available checks that kind can be constructed without building an adapter.
// Per-session recognizers are only checked when New dials them.
func (f *Factory) Available(kind models.EngineKind) error {
	if _, ok := constructors[kind]; !ok {
		return &ConfigurationError{Engine: kind.String(), Reason: "unknown engine"}
	}
	var err error
	switch kind {
	case models.EngineWindowedContext:
		_, err = f.backends.Transcriber()
	case models.EngineCloudStreaming:
		_, err = f.backends.Dialer()
	}
	if err != nil {
		return f.unavailable(kind, err)
	}
	return nil
}

// New returns a fresh adapter for kind.
func (f *Factory) New(ctx context.Context, kind models.EngineKind) (stt.Adapter, error) {
	build, ok := constructors[kind]
	if !ok {
		return nil, &ConfigurationError{Engine: kind.String(), Reason: "unknown engine"}
	}
	return build(ctx, f)
}

func (f *Factory) unavailable(kind models.EngineKind, err error) error {
	if IsConfigurationError(err) {
		return err
	}
	return &ConfigurationError{Engine: kind.String(), Reason: "backend unavailable", Err: err}
}

func newIncremental(ctx context.Context, f *Factory) (stt.Adapter, error) {
	rec, err := f.backends.Recognizer(ctx)
	if err != nil {
		return nil, f.unavailable(models.EngineWordIncremental, err)
	}
	return incremental.New(rec, incremental.Config{
		ConfidenceThreshold: f.opts.WordThreshold,
		Clock:               f.opts.Clock,
	}), nil
}

func newWindowed(ctx context.Context, f *Factory) (stt.Adapter, error) {
	t, err := f.backends.Transcriber()
	if err != nil {
		return nil, f.unavailable(models.EngineWindowedContext, err)
	}
	cfg := f.opts.Window
	if f.opts.Clock != nil {
		cfg.Clock = f.opts.Clock
	}
	return windowed.New(t, f.pool, cfg), nil
}

func newCloud(ctx context.Context, f *Factory) (stt.Adapter, error) {
	d, err := f.backends.Dialer()
	if err != nil {
		return nil, f.unavailable(models.EngineCloudStreaming, err)
	}
	return cloud.New(d, cloud.Config{
		Clock:       f.opts.Clock,
		OnReconnect: f.metrics.RecordCloudReconnect,
	}), nil
}

package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"ai-speech-stream-service/internal/models"
	"ai-speech-stream-service/internal/observability/metrics"
	"ai-speech-stream-service/internal/service/stt/cloud"
	"ai-speech-stream-service/internal/service/stt/incremental"
	"ai-speech-stream-service/internal/service/stt/mock"
	"ai-speech-stream-service/internal/service/stt/windowed"
	"ai-speech-stream-service/internal/service/workerpool"
)

func newTestFactory(b Backends) *Factory {
	m := metrics.NewMetrics(prometheus.NewRegistry())
	return NewFactory(b, workerpool.New(1, m), Options{}, m)
}

func TestFactory_NewEveryKind(t *testing.T) {
	f := newTestFactory(mock.NewBackends(0))

	for _, kind := range models.EngineKinds() {
		t.Run(kind.String(), func(t *testing.T) {
			if err := f.Available(kind); err != nil {
				t.Fatalf("Available: %v", err)
			}
			a, err := f.New(context.Background(), kind)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if a.Kind() != kind {
				t.Errorf("expected %v adapter, got %v", kind, a.Kind())
			}
		})
	}
}

func TestFactory_FreshAdapterPerCall(t *testing.T) {
	f := newTestFactory(mock.NewBackends(0))
	a1, _ := f.New(context.Background(), models.EngineWordIncremental)
	a2, _ := f.New(context.Background(), models.EngineWordIncremental)
	if a1 == a2 {
		t.Error("expected distinct adapters")
	}
}

func TestFactory_Resolve(t *testing.T) {
	f := newTestFactory(mock.NewBackends(0))

	tests := []struct {
		name    string
		want    models.EngineKind
		wantErr bool
	}{
		{"word_incremental", models.EngineWordIncremental, false},
		{"whisper", models.EngineWindowedContext, false},
		{"azure_speech", models.EngineCloudStreaming, false},
		{"dragon", models.EngineUnknown, true},
		{"", models.EngineUnknown, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.Resolve(tt.name)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Resolve(%q) error = %v", tt.name, err)
			}
			if tt.wantErr && !IsConfigurationError(err) {
				t.Errorf("expected ConfigurationError, got %T", err)
			}
			if got != tt.want {
				t.Errorf("Resolve(%q) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestFactory_UnknownKind(t *testing.T) {
	f := newTestFactory(mock.NewBackends(0))
	if _, err := f.New(context.Background(), models.EngineUnknown); !IsConfigurationError(err) {
		t.Errorf("expected ConfigurationError, got %v", err)
	}
	if err := f.Available(models.EngineKind(42)); !IsConfigurationError(err) {
		t.Errorf("expected ConfigurationError, got %v", err)
	}
}

type brokenBackends struct{ err error }

func (b brokenBackends) Recognizer(ctx context.Context) (incremental.Recognizer, error) {
	return nil, b.err
}
func (b brokenBackends) Transcriber() (windowed.Transcriber, error) { return nil, b.err }
func (b brokenBackends) Dialer() (cloud.Dialer, error) { return nil, b.err }

func TestFactory_BackendUnavailable(t *testing.T) {
	cause := errors.New("model file missing")
	f := newTestFactory(brokenBackends{err: cause})

	for _, kind := range models.EngineKinds() {
		_, err := f.New(context.Background(), kind)
		if !IsConfigurationError(err) || !errors.Is(err, cause) {
			t.Errorf("%v: expected ConfigurationError wrapping cause, got %v", kind, err)
		}
	}
	if err := f.Available(models.EngineWindowedContext); !IsConfigurationError(err) {
		t.Errorf("expected windowed engine to be unavailable, got %v", err)
	}
	if err := f.Available(models.EngineWordIncremental); err != nil {
		t.Errorf("word engine is only checked on New, got %v", err)
	}
}

func TestLiveBackends_MissingURLs(t *testing.T) {
	b := &LiveBackends{}
	if _, err := b.Recognizer(context.Background()); !IsConfigurationError(err) {
		t.Errorf("expected ConfigurationError without vosk URL, got %v", err)
	}
	if _, err := b.Transcriber(); !IsConfigurationError(err) {
		t.Errorf("expected ConfigurationError without whisper URL, got %v", err)
	}
	b.dialerErr = errors.New("no credentials")
	if _, err := b.Dialer(); !IsConfigurationError(err) {
		t.Errorf("expected ConfigurationError without credentials, got %v", err)
	}
}

package mock

import (
	"context"
	"time"

	"ai-speech-stream-service/internal/service/stt/cloud"
	"ai-speech-stream-service/internal/service/stt/incremental"
	"ai-speech-stream-service/internal/service/stt/windowed"
)

// Backends supplies scripted collaborators for every engine.
type Backends struct {
	transcriber *Transcriber
	dialer      *Dialer
}

// NewBackends creates mock backends. latency simulates batch inference time.
func NewBackends(latency time.Duration) *Backends {
	return &Backends{
		transcriber: NewTranscriber(latency),
		dialer:      NewDialer(),
	}
}

// Recognizer returns a fresh recognizer for one session.
func (b *Backends) Recognizer(ctx context.Context) (incremental.Recognizer, error) {
	return NewRecognizer(), nil
}

// Transcriber returns the shared transcriber.
func (b *Backends) Transcriber() (windowed.Transcriber, error) {
	return b.transcriber, nil
}

// Dialer returns the shared dialer.
func (b *Backends) Dialer() (cloud.Dialer, error) {
	return b.dialer, nil
}

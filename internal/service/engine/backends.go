package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"ai-speech-stream-service/internal/service/stt/cloud"
	"ai-speech-stream-service/internal/service/stt/google"
	"ai-speech-stream-service/internal/service/stt/incremental"
	"ai-speech-stream-service/internal/service/stt/vosk"
	"ai-speech-stream-service/internal/service/stt/whisper"
	"ai-speech-stream-service/internal/service/stt/windowed"
)

// LiveConfig points the live backends at their services.
type LiveConfig struct {
	SampleRate      int
	VoskURL         string
	WhisperURL      string
	WhisperLanguage string
	Google          google.Config
}

// LiveBackends connects engines to vosk-server, a whisper web service and
// Google Cloud Speech. A backend that cannot be set up makes only its own
// engine unavailable.
type LiveBackends struct {
	cfg         LiveConfig
	transcriber *whisper.Client
	dialer      *google.Dialer
	dialerErr   error
}

// NewLiveBackends prepares the shared clients.
func NewLiveBackends(ctx context.Context, cfg LiveConfig) *LiveBackends {
	b := &LiveBackends{cfg: cfg}
	if cfg.WhisperURL != "" {
		b.transcriber = whisper.New(whisper.Config{BaseURL: cfg.WhisperURL, Language: cfg.WhisperLanguage})
	}
	b.dialer, b.dialerErr = google.New(ctx, cfg.Google)
	if b.dialerErr != nil {
		log.Warn().Err(b.dialerErr).Msg("Cloud speech client unavailable, cloud_streaming disabled")
	}
	return b
}

// Recognizer dials a vosk-server connection for one session.
func (b *LiveBackends) Recognizer(ctx context.Context) (incremental.Recognizer, error) {
	if b.cfg.VoskURL == "" {
		return nil, &ConfigurationError{Engine: "word_incremental", Reason: "no vosk server configured"}
	}
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	rec, err := vosk.Dial(dialCtx, vosk.Config{URL: b.cfg.VoskURL, SampleRate: b.cfg.SampleRate})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Transcriber returns the whisper client.
func (b *LiveBackends) Transcriber() (windowed.Transcriber, error) {
	if b.transcriber == nil {
		return nil, &ConfigurationError{Engine: "windowed_context", Reason: "no whisper service configured"}
	}
	return b.transcriber, nil
}

// Dialer returns the Google dialer.
func (b *LiveBackends) Dialer() (cloud.Dialer, error) {
	if b.dialerErr != nil {
		return nil, &ConfigurationError{Engine: "cloud_streaming", Reason: "speech client unavailable", Err: b.dialerErr}
	}
	return b.dialer, nil
}

// Close releases the cloud client.
func (b *LiveBackends) Close() error {
	if b.dialer != nil {
		return b.dialer.Close()
	}
	return nil
}

package mock

import (
	"context"
	"sync"
	"time"

	"ai-speech-stream-service/internal/models"
	"ai-speech-stream-service/internal/service/stt/windowed"
)

// Transcriber is a scripted windowed.Transcriber. Each inference over a
// window containing speech returns the next scripted final transcript.
type Transcriber struct {
	mu      sync.Mutex
	script  []Utterance
	next    int
	latency time.Duration
	err     error
}

var _ windowed.Transcriber = (*Transcriber)(nil)

// NewTranscriber walks script, or the default utterances when empty.
func NewTranscriber(latency time.Duration, script ...Utterance) *Transcriber {
	s, start := defaultScript(script)
	return &Transcriber{script: s, next: start, latency: latency}
}

// FailWith makes every later inference return err.
func (t *Transcriber) FailWith(err error) *Transcriber {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.err = err
	return t
}

// Transcribe implements windowed.Transcriber.
func (t *Transcriber) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error) {
	if t.latency > 0 {
		timer := time.NewTimer(t.latency)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return "", t.err
	}
	if models.Amplitude(pcm) < SilenceThreshold {
		return "", nil
	}
	u := t.script[t.next%len(t.script)]
	t.next++
	return u.Final, nil
}

// Package incremental implements the word-incremental engine: every chunk is
// fed to a recognizer that reports either an updated partial hypothesis or a
// completed utterance with word confidences.
package incremental

import (
	"context"
	"strings"
	"time"

	"ai-speech-stream-service/internal/models"
	"ai-speech-stream-service/internal/service/stt"
)

// DefaultConfidenceThreshold is the word confidence below which a word is
// reported as low-confidence.
const DefaultConfidenceThreshold = 0.8

// Result is a completed utterance.
type Result struct {
	Text  string
	Words []models.Word
}

// Recognizer is an incremental recognizer bound to one session. A completed
// utterance is retrieved with Result, after which the recognizer starts a new
// utterance.
type Recognizer interface {
	// AcceptWaveform feeds PCM and reports whether an utterance completed.
	AcceptWaveform(ctx context.Context, pcm []byte) (bool, error)
	Result(ctx context.Context) (Result, error)
	PartialResult(ctx context.Context) (string, error)
	// FinalResult flushes whatever audio the recognizer still holds.
	FinalResult(ctx context.Context) (Result, error)
	Close() error
}

// Config tunes the adapter.
type Config struct {
	ConfidenceThreshold float64
	Clock               stt.Clock
}

// Adapter implements stt.Adapter over a Recognizer.
type Adapter struct {
	rec       Recognizer
	threshold float64
	clock     stt.Clock
	start     time.Time

	lastFinal string
	lowConf   map[string]struct{}
	lowOrder  []string
	closed    bool
}

// New wraps rec. Zero config values take defaults.
func New(rec Recognizer, cfg Config) *Adapter {
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = DefaultConfidenceThreshold
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Adapter{
		rec:       rec,
		threshold: cfg.ConfidenceThreshold,
		clock:     cfg.Clock,
		start:     cfg.Clock(),
		lowConf:   make(map[string]struct{}),
	}
}

// Kind implements stt.Adapter.
func (a *Adapter) Kind() models.EngineKind {
	return models.EngineWordIncremental
}

// Consume implements stt.Adapter.
func (a *Adapter) Consume(ctx context.Context, frame models.AudioFrame) ([]models.TranscriptUpdate, error) {
	if a.closed {
		return nil, a.fail("consume", stt.ErrAdapterClosed)
	}

	complete, err := a.rec.AcceptWaveform(ctx, frame.PCM)
	if err != nil {
		return nil, a.fail("consume", err)
	}

	if complete {
		res, err := a.rec.Result(ctx)
		if err != nil {
			return nil, a.fail("consume", err)
		}
		return a.final(res), nil
	}

	partial, err := a.rec.PartialResult(ctx)
	if err != nil {
		return nil, a.fail("consume", err)
	}
	partial = strings.TrimSpace(partial)
	if partial == "" {
		return nil, nil
	}
	return []models.TranscriptUpdate{a.stamp(stt.Partial(partial))}, nil
}

// Tick implements stt.Adapter. The recognizer is synchronous so there is
// never anything waiting.
func (a *Adapter) Tick(ctx context.Context) ([]models.TranscriptUpdate, error) {
	return nil, nil
}

// Close implements stt.Adapter.
func (a *Adapter) Close(ctx context.Context) ([]models.TranscriptUpdate, error) {
	if a.closed {
		return nil, nil
	}
	a.closed = true

	res, err := a.rec.FinalResult(ctx)
	closeErr := a.rec.Close()
	if err != nil {
		return nil, a.fail("close", err)
	}
	if closeErr != nil {
		return a.final(res), a.fail("close", closeErr)
	}
	return a.final(res), nil
}

// LowConfidence returns the session-wide set of low-confidence words in the
// order they were first seen.
func (a *Adapter) LowConfidence() []string {
	out := make([]string, len(a.lowOrder))
	copy(out, a.lowOrder)
	return out
}

func (a *Adapter) final(res Result) []models.TranscriptUpdate {
	text := strings.TrimSpace(res.Text)
	if text == "" || text == a.lastFinal {
		return nil
	}
	a.lastFinal = text

	for _, w := range res.Words {
		if w.Confidence >= a.threshold {
			continue
		}
		if _, seen := a.lowConf[w.Text]; !seen {
			a.lowConf[w.Text] = struct{}{}
			a.lowOrder = append(a.lowOrder, w.Text)
		}
	}

	u := stt.Final(text, res.Words)
	u.LowConfidence = a.LowConfidence()
	return []models.TranscriptUpdate{a.stamp(u)}
}

func (a *Adapter) stamp(u models.TranscriptUpdate) models.TranscriptUpdate {
	return stt.Stamp(u, a.clock(), a.start)
}

func (a *Adapter) fail(op string, err error) error {
	return stt.NewAdapterError(models.EngineWordIncremental, op, err)
}

// Package stt defines the contract shared by the streaming speech-to-text engines.
package stt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ai-speech-stream-service/internal/models"
)

// Adapter converts raw PCM chunks into transcript updates for one session.
//
// Adapters are stateful and owned by exactly one session. They are not safe
// for concurrent use: the session's worker is the only caller.
type Adapter interface {
	// Kind reports the engine family implemented by the adapter.
	Kind() models.EngineKind

	// Consume feeds one chunk and returns zero or more updates. It must return
	// within the configured status slice.
	Consume(ctx context.Context, frame models.AudioFrame) ([]models.TranscriptUpdate, error)

	// Tick is invoked periodically without new audio so that asynchronous
	// results can be delivered.
	Tick(ctx context.Context) ([]models.TranscriptUpdate, error)

	// Close flushes trailing audio as a best-effort Final and releases resources.
	Close(ctx context.Context) ([]models.TranscriptUpdate, error)
}

// BufferReporter is implemented by adapters that hold audio internally.
type BufferReporter interface {
	BufferedBytes() int
}

// WaitReporter is implemented by adapters that block on work running off the
// session goroutine. WaitTime is cumulative and is not counted as busy time.
type WaitReporter interface {
	WaitTime() time.Duration
}

// ErrAdapterClosed is returned when an adapter is used after Close.
var ErrAdapterClosed = errors.New("adapter is closed")

// AdapterError is a model or runtime failure raised while consuming or closing.
type AdapterError struct {
	Engine models.EngineKind
	Op     string
	Err    error
}

// NewAdapterError wraps err for the given engine and operation.
func NewAdapterError(engine models.EngineKind, op string, err error) *AdapterError {
	return &AdapterError{Engine: engine, Op: op, Err: err}
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("%s adapter %s: %v", e.Engine, e.Op, e.Err)
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}

// IsAdapterError reports whether err carries an AdapterError.
func IsAdapterError(err error) bool {
	var ae *AdapterError
	return errors.As(err, &ae)
}

// Clock returns the current time; adapters accept one so tests can drive time.
type Clock func() time.Time

// Stamp fills in the timestamp and elapsed fields relative to start.
func Stamp(u models.TranscriptUpdate, now, start time.Time) models.TranscriptUpdate {
	u.Timestamp = now
	u.Elapsed = models.FormatElapsed(now.Sub(start))
	return u
}

// Partial builds a Partial update carrying recognized text.
func Partial(text string) models.TranscriptUpdate {
	return models.TranscriptUpdate{Kind: models.UpdatePartial, Text: text}
}

// Status builds a Partial update carrying a progress message.
func Status(text string) models.TranscriptUpdate {
	return models.TranscriptUpdate{Kind: models.UpdatePartial, Text: text, Status: true}
}

// Final builds a Final update.
func Final(text string, words []models.Word) models.TranscriptUpdate {
	return models.TranscriptUpdate{Kind: models.UpdateFinal, Text: text, Words: words}
}

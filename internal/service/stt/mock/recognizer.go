package mock

import (
	"context"
	"sync"

	"ai-speech-stream-service/internal/service/stt/incremental"
)

// Recognizer is a scripted incremental.Recognizer.
type Recognizer struct {
	mu      sync.Mutex
	cur     *cursor
	partial string
	pending *Utterance
	failAt  int
	calls   int
	closed  bool
}

var _ incremental.Recognizer = (*Recognizer)(nil)

// NewRecognizer walks script, or the default utterances when empty.
func NewRecognizer(script ...Utterance) *Recognizer {
	return &Recognizer{cur: newCursor(script)}
}

// FailOn makes the nth AcceptWaveform call (1-based) return ErrInjected.
func (r *Recognizer) FailOn(n int) *Recognizer {
	r.failAt = n
	return r
}

// AcceptWaveform implements incremental.Recognizer.
func (r *Recognizer) AcceptWaveform(ctx context.Context, pcm []byte) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls++
	if r.closed || (r.failAt > 0 && r.calls == r.failAt) {
		return false, ErrInjected
	}

	partial, done := r.cur.step(pcm)
	if done != nil {
		r.pending = done
		r.partial = ""
		return true, nil
	}
	if partial != "" {
		r.partial = partial
	}
	return false, nil
}

// Result implements incremental.Recognizer.
func (r *Recognizer) Result(ctx context.Context) (incremental.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.take(), nil
}

// PartialResult implements incremental.Recognizer.
func (r *Recognizer) PartialResult(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.partial, nil
}

// FinalResult implements incremental.Recognizer.
func (r *Recognizer) FinalResult(ctx context.Context) (incremental.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending == nil {
		r.pending = r.cur.flush()
	}
	r.partial = ""
	return r.take(), nil
}

// Close implements incremental.Recognizer.
func (r *Recognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *Recognizer) take() incremental.Result {
	if r.pending == nil {
		return incremental.Result{}
	}
	u := r.pending
	r.pending = nil
	return incremental.Result{Text: u.Final, Words: u.WordList()}
}

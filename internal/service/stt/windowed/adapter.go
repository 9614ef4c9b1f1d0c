// Package windowed implements the windowed-context engine: a sliding window
// of recent audio is periodically re-transcribed by a batch model and each
// result is appended to a bounded list of confirmed segments.
package windowed

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/smallnest/ringbuffer"

	"ai-speech-stream-service/internal/models"
	"ai-speech-stream-service/internal/service/stt"
)

// Defaults for the window geometry.
const (
	DefaultInterval    = 1500 * time.Millisecond
	DefaultWindow      = 6 * time.Second
	DefaultMaxSegments = 8
	DefaultStatusSlice = 1500 * time.Millisecond
)

// Transcriber runs batch inference over a PCM buffer. Implementations are
// shared across sessions and must be safe for concurrent use.
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error)
}

// Executor runs inference jobs off the session goroutine. fn must be called
// exactly once even when ctx is already done.
type Executor interface {
	Go(ctx context.Context, fn func(ctx context.Context)) error
}

// Config tunes the adapter. Zero values take the defaults.
type Config struct {
	SampleRate  int
	Interval    time.Duration
	Window      time.Duration
	MaxSegments int
	// StatusSlice bounds how long Consume waits for an inference before
	// returning a status partial instead.
	StatusSlice time.Duration
	Clock       stt.Clock
}

type inference struct {
	text string
	err  error
}

// Adapter implements stt.Adapter over a Transcriber.
type Adapter struct {
	transcriber Transcriber
	pool        Executor
	cfg         Config
	clock       stt.Clock
	start       time.Time

	window        *ringbuffer.RingBuffer
	intervalBytes int
	pendingBytes  int
	lastRun       time.Time
	inflight      chan inference
	waited        time.Duration

	segments []string

	// jobs outlive the session context so that a terminated session can
	// still flush its last window.
	jobCtx    context.Context
	jobCancel context.CancelFunc
	closed    bool
}

// New creates an adapter submitting inference to pool.
func New(t Transcriber, pool Executor, cfg Config) *Adapter {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.Window < cfg.Interval {
		cfg.Window = cfg.Interval
	}
	if cfg.MaxSegments <= 0 {
		cfg.MaxSegments = DefaultMaxSegments
	}
	if cfg.StatusSlice <= 0 {
		cfg.StatusSlice = DefaultStatusSlice
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	jobCtx, cancel := context.WithCancel(context.Background())
	now := cfg.Clock()
	return &Adapter{
		transcriber:   t,
		pool:          pool,
		cfg:           cfg,
		clock:         cfg.Clock,
		start:         now,
		window:        ringbuffer.New(models.PCMBytes(cfg.Window, cfg.SampleRate)).SetBlocking(false),
		intervalBytes: models.PCMBytes(cfg.Interval, cfg.SampleRate),
		lastRun:       now,
		jobCtx:        jobCtx,
		jobCancel:     cancel,
	}
}

// Kind implements stt.Adapter.
func (a *Adapter) Kind() models.EngineKind {
	return models.EngineWindowedContext
}

// BufferedBytes reports how much audio the window currently holds.
func (a *Adapter) BufferedBytes() int {
	return a.window.Length()
}

// WaitTime reports how long Consume and Close spent waiting on inference.
func (a *Adapter) WaitTime() time.Duration {
	return a.waited
}

// Segments returns the retained confirmed segments, oldest first.
func (a *Adapter) Segments() []string {
	out := make([]string, len(a.segments))
	copy(out, a.segments)
	return out
}

// Consume implements stt.Adapter.
func (a *Adapter) Consume(ctx context.Context, frame models.AudioFrame) ([]models.TranscriptUpdate, error) {
	if a.closed {
		return nil, a.fail("consume", stt.ErrAdapterClosed)
	}
	a.appendAudio(frame.PCM)

	updates, err := a.collect(ctx, 0)
	if err != nil {
		return nil, err
	}

	if a.inflight == nil && a.due() {
		if err := a.launch(); err != nil {
			return updates, err
		}
		more, err := a.collect(ctx, a.cfg.StatusSlice)
		if err != nil {
			return updates, err
		}
		updates = append(updates, more...)
	}

	if len(updates) == 0 {
		updates = append(updates, a.stamp(stt.Status(a.statusText())))
	}
	return updates, nil
}

// Tick implements stt.Adapter. It delivers finished inferences and starts a
// new one when the interval elapsed with unprocessed audio.
func (a *Adapter) Tick(ctx context.Context) ([]models.TranscriptUpdate, error) {
	if a.closed {
		return nil, nil
	}
	updates, err := a.collect(ctx, 0)
	if err != nil {
		return nil, err
	}
	if a.inflight == nil && a.due() {
		if err := a.launch(); err != nil {
			return updates, err
		}
	}
	return updates, nil
}

// Close implements stt.Adapter. It waits for a running inference and runs a
// last one over unprocessed audio, both bounded by ctx.
func (a *Adapter) Close(ctx context.Context) ([]models.TranscriptUpdate, error) {
	if a.closed {
		return nil, nil
	}
	a.closed = true
	defer a.jobCancel()

	var updates []models.TranscriptUpdate
	if a.inflight != nil {
		u, err := a.await(ctx)
		if err != nil {
			return nil, err
		}
		updates = append(updates, u...)
	}

	if a.pendingBytes > 0 {
		if err := a.launch(); err != nil {
			return updates, err
		}
		u, err := a.await(ctx)
		if err != nil {
			return updates, err
		}
		updates = append(updates, u...)
	}
	return updates, nil
}

func (a *Adapter) appendAudio(pcm []byte) {
	capacity := a.window.Capacity()
	if len(pcm) >= capacity {
		a.window.Reset()
		a.pendingBytes += len(pcm)
		pcm = pcm[len(pcm)-capacity:]
		_, _ = a.window.Write(pcm)
		return
	}
	if free := a.window.Free(); free < len(pcm) {
		drop := make([]byte, len(pcm)-free)
		_, _ = a.window.Read(drop)
	}
	_, _ = a.window.Write(pcm)
	a.pendingBytes += len(pcm)
}

func (a *Adapter) due() bool {
	if a.pendingBytes == 0 {
		return false
	}
	return a.pendingBytes >= a.intervalBytes || a.clock().Sub(a.lastRun) >= a.cfg.Interval
}

func (a *Adapter) launch() error {
	pcm := a.window.Bytes(nil)
	a.pendingBytes = 0
	a.lastRun = a.clock()

	result := make(chan inference, 1)
	err := a.pool.Go(a.jobCtx, func(ctx context.Context) {
		defer func() {
			if r := recover(); r != nil {
				result <- inference{err: fmt.Errorf("transcriber panic: %v", r)}
			}
		}()
		if err := ctx.Err(); err != nil {
			result <- inference{err: err}
			return
		}
		text, err := a.transcriber.Transcribe(ctx, pcm, a.cfg.SampleRate)
		result <- inference{text: text, err: err}
	})
	if err != nil {
		return a.fail("infer", err)
	}
	a.inflight = result
	return nil
}

// collect picks up a finished inference, waiting at most wait.
func (a *Adapter) collect(ctx context.Context, wait time.Duration) ([]models.TranscriptUpdate, error) {
	if a.inflight == nil {
		return nil, nil
	}

	var res inference
	if wait <= 0 {
		select {
		case res = <-a.inflight:
		default:
			return nil, nil
		}
	} else {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		defer a.trackWait(time.Now())
		select {
		case res = <-a.inflight:
		case <-timer.C:
			return nil, nil
		case <-ctx.Done():
			return nil, nil
		}
	}

	a.inflight = nil
	return a.apply(res, "infer")
}

func (a *Adapter) await(ctx context.Context) ([]models.TranscriptUpdate, error) {
	defer a.trackWait(time.Now())
	select {
	case res := <-a.inflight:
		a.inflight = nil
		return a.apply(res, "close")
	case <-ctx.Done():
		a.inflight = nil
		return nil, a.fail("close", ctx.Err())
	}
}

func (a *Adapter) trackWait(since time.Time) {
	a.waited += time.Since(since)
}

func (a *Adapter) apply(res inference, op string) ([]models.TranscriptUpdate, error) {
	if res.err != nil {
		return nil, a.fail(op, res.err)
	}
	text := strings.TrimSpace(res.text)
	if text == "" {
		return nil, nil
	}

	a.segments = append(a.segments, text)
	if over := len(a.segments) - a.cfg.MaxSegments; over > 0 {
		a.segments = append([]string(nil), a.segments[over:]...)
	}

	u := stt.Final(models.JoinSegments(a.segments), nil)
	u.Segments = len(a.segments)
	return []models.TranscriptUpdate{a.stamp(u)}, nil
}

func (a *Adapter) statusText() string {
	buffered := models.PCMDuration(a.window.Length(), a.cfg.SampleRate)
	if buffered > time.Second {
		return fmt.Sprintf("processing %.1fs of audio", buffered.Seconds())
	}
	return "..."
}

func (a *Adapter) stamp(u models.TranscriptUpdate) models.TranscriptUpdate {
	return stt.Stamp(u, a.clock(), a.start)
}

func (a *Adapter) fail(op string, err error) error {
	return stt.NewAdapterError(models.EngineWindowedContext, op, err)
}

// Package cloud implements the cloud-streaming engine: audio is relayed over
// a long-lived bidirectional stream to a remote recognizer whose interim and
// final results are received asynchronously.
package cloud

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"ai-speech-stream-service/internal/models"
	"ai-speech-stream-service/internal/observability/logging"
	"ai-speech-stream-service/internal/service/stt"
)

// resultBuffer bounds how many results the receiver may queue before it
// blocks on the session.
const resultBuffer = 64

// Result is one recognition result from the remote service.
type Result struct {
	Text       string
	IsFinal    bool
	Confidence float64
	Words      []models.Word
}

// Stream is an open bidirectional recognition stream.
type Stream interface {
	Send(pcm []byte) error
	// Recv blocks for the next result and returns io.EOF once the remote side
	// has finished.
	Recv() (Result, error)
	CloseSend() error
}

// Dialer opens recognition streams. It is shared across sessions.
type Dialer interface {
	Dial(ctx context.Context) (Stream, error)
}

// Config tunes the adapter.
type Config struct {
	Clock stt.Clock
	// OnReconnect is called before each reconnect attempt.
	OnReconnect func()
}

type event struct {
	res Result
	err error
}

type conn struct {
	stream Stream
	cancel context.CancelFunc
	events chan event
}

// Adapter implements stt.Adapter over a Dialer.
type Adapter struct {
	dialer Dialer
	cfg    Config
	clock  stt.Clock
	start  time.Time
	log    zerolog.Logger

	conn *conn
	// reconnected is set after a reconnect and cleared once the new stream
	// delivers a result; a failure while set is fatal.
	reconnected bool
	lastPartial string
	closed      bool
}

// New creates an adapter. The stream is dialled on the first frame.
func New(d Dialer, cfg Config) *Adapter {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Adapter{
		dialer: d,
		cfg:    cfg,
		clock:  cfg.Clock,
		start:  cfg.Clock(),
		log:    logging.WithComponent("cloud-adapter"),
	}
}

// Kind implements stt.Adapter.
func (a *Adapter) Kind() models.EngineKind {
	return models.EngineCloudStreaming
}

// Consume implements stt.Adapter.
func (a *Adapter) Consume(ctx context.Context, frame models.AudioFrame) ([]models.TranscriptUpdate, error) {
	if a.closed {
		return nil, a.fail("consume", stt.ErrAdapterClosed)
	}
	if a.conn == nil {
		if err := a.dial(ctx); err != nil {
			return nil, a.fail("dial", err)
		}
	}

	if err := a.conn.stream.Send(frame.PCM); err != nil {
		if rerr := a.reconnect(ctx, err); rerr != nil {
			return nil, rerr
		}
		if err := a.conn.stream.Send(frame.PCM); err != nil {
			return nil, a.fail("send", err)
		}
	}
	return a.drain(ctx)
}

// Tick implements stt.Adapter.
func (a *Adapter) Tick(ctx context.Context) ([]models.TranscriptUpdate, error) {
	if a.closed || a.conn == nil {
		return nil, nil
	}
	return a.drain(ctx)
}

// Close implements stt.Adapter. Results still in flight are collected until
// the remote side finishes or ctx ends.
func (a *Adapter) Close(ctx context.Context) ([]models.TranscriptUpdate, error) {
	if a.closed {
		return nil, nil
	}
	a.closed = true

	var updates []models.TranscriptUpdate
	if c := a.conn; c != nil {
		a.conn = nil
		if err := c.stream.CloseSend(); err != nil {
			a.log.Debug().Err(err).Msg("close send failed")
		}
	wait:
		for {
			select {
			case ev, ok := <-c.events:
				if !ok {
					break wait
				}
				if ev.err != nil {
					a.log.Debug().Err(ev.err).Msg("stream error while closing")
					break wait
				}
				updates = append(updates, a.translate(ev.res)...)
			case <-ctx.Done():
				break wait
			}
		}
		c.cancel()
	}

	if a.lastPartial != "" {
		updates = append(updates, a.stamp(stt.Final(a.lastPartial, nil)))
		a.lastPartial = ""
	}
	return updates, nil
}

func (a *Adapter) dial(ctx context.Context) error {
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stream, err := a.dialer.Dial(streamCtx)
	if err != nil {
		cancel()
		return err
	}
	c := &conn{stream: stream, cancel: cancel, events: make(chan event, resultBuffer)}
	go receive(streamCtx, c)
	a.conn = c
	return nil
}

func receive(ctx context.Context, c *conn) {
	defer close(c.events)
	for {
		res, err := c.stream.Recv()
		if errors.Is(err, io.EOF) {
			return
		}
		select {
		case c.events <- event{res: res, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

// drain translates every result already received without blocking.
func (a *Adapter) drain(ctx context.Context) ([]models.TranscriptUpdate, error) {
	var updates []models.TranscriptUpdate
	for a.conn != nil {
		select {
		case ev, ok := <-a.conn.events:
			if !ok {
				// Remote side ended the stream; dial again on the next frame.
				a.conn.cancel()
				a.conn = nil
				return updates, nil
			}
			if ev.err != nil {
				if err := a.reconnect(ctx, ev.err); err != nil {
					return updates, err
				}
				continue
			}
			a.reconnected = false
			updates = append(updates, a.translate(ev.res)...)
		default:
			return updates, nil
		}
	}
	return updates, nil
}

// reconnect replaces a failed stream once. Audio sent to the failed stream
// is not replayed.
func (a *Adapter) reconnect(ctx context.Context, cause error) error {
	if a.reconnected {
		return a.fail("stream", cause)
	}
	a.reconnected = true
	a.log.Warn().Err(cause).Msg("cloud stream dropped, reconnecting")
	if a.cfg.OnReconnect != nil {
		a.cfg.OnReconnect()
	}

	if c := a.conn; c != nil {
		a.conn = nil
		_ = c.stream.CloseSend()
		c.cancel()
	}
	if err := a.dial(ctx); err != nil {
		return a.fail("reconnect", err)
	}
	return nil
}

func (a *Adapter) translate(res Result) []models.TranscriptUpdate {
	text := strings.TrimSpace(res.Text)
	if res.IsFinal {
		a.lastPartial = ""
		if text == "" {
			return nil
		}
		return []models.TranscriptUpdate{a.stamp(stt.Final(text, res.Words))}
	}
	if text == "" || text == a.lastPartial {
		return nil
	}
	a.lastPartial = text
	return []models.TranscriptUpdate{a.stamp(stt.Partial(text))}
}

func (a *Adapter) stamp(u models.TranscriptUpdate) models.TranscriptUpdate {
	return stt.Stamp(u, a.clock(), a.start)
}

func (a *Adapter) fail(op string, err error) error {
	return stt.NewAdapterError(models.EngineCloudStreaming, op, err)
}

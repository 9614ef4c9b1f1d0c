package mock

import (
	"context"
	"errors"
	"io"
	"sync"

	"ai-speech-stream-service/internal/service/stt/cloud"
)

// Dialer is a scripted cloud.Dialer. Its streams answer each speech chunk
// with the next partial and emit a final when the utterance completes.
type Dialer struct {
	mu     sync.Mutex
	script []Utterance
	dials  int
	failAt int
}

var _ cloud.Dialer = (*Dialer)(nil)

// NewDialer walks script, or the default utterances when empty.
func NewDialer(script ...Utterance) *Dialer {
	return &Dialer{script: script}
}

// FailOn makes the nth Dial call (1-based) fail.
func (d *Dialer) FailOn(n int) *Dialer {
	d.failAt = n
	return d
}

// Dials reports how many streams have been opened.
func (d *Dialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// Dial implements cloud.Dialer.
func (d *Dialer) Dial(ctx context.Context) (cloud.Stream, error) {
	d.mu.Lock()
	d.dials++
	fail := d.failAt > 0 && d.dials == d.failAt
	d.mu.Unlock()
	if fail {
		return nil, ErrInjected
	}
	return &stream{
		ctx:     ctx,
		cur:     newCursor(d.script),
		results: make(chan cloud.Result, 256),
		done:    make(chan struct{}),
	}, nil
}

var errStreamClosed = errors.New("mock: stream closed")

type stream struct {
	ctx     context.Context
	mu      sync.Mutex
	cur     *cursor
	results chan cloud.Result
	done    chan struct{}
	closed  bool
}

func (s *stream) Send(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errStreamClosed
	}
	partial, u := s.cur.step(pcm)
	switch {
	case u != nil:
		s.emit(final(u))
	case partial != "":
		s.emit(cloud.Result{Text: partial})
	}
	return nil
}

func (s *stream) Recv() (cloud.Result, error) {
	select {
	case r := <-s.results:
		return r, nil
	case <-s.ctx.Done():
		return cloud.Result{}, s.ctx.Err()
	case <-s.done:
		select {
		case r := <-s.results:
			return r, nil
		default:
			return cloud.Result{}, io.EOF
		}
	}
}

func (s *stream) CloseSend() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if u := s.cur.flush(); u != nil {
		s.emit(final(u))
	}
	close(s.done)
	return nil
}

// emit drops results when the reader has fallen far behind.
func (s *stream) emit(r cloud.Result) {
	select {
	case s.results <- r:
	default:
	}
}

func final(u *Utterance) cloud.Result {
	return cloud.Result{Text: u.Final, IsFinal: true, Confidence: u.Confidence, Words: u.WordList()}
}

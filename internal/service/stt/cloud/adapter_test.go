package cloud

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"ai-speech-stream-service/internal/models"
	"ai-speech-stream-service/internal/service/stt"
)

type recvItem struct {
	res Result
	err error
}

type fakeStream struct {
	mu      sync.Mutex
	sent    int
	sendErr error
	results chan recvItem
	done    chan struct{}
	once    sync.Once
}

func newFakeStream() *fakeStream {
	return &fakeStream{results: make(chan recvItem, 16), done: make(chan struct{})}
}

func (s *fakeStream) Send(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	s.sent++
	return nil
}

func (s *fakeStream) Recv() (Result, error) {
	select {
	case it := <-s.results:
		return it.res, it.err
	case <-s.done:
		select {
		case it := <-s.results:
			return it.res, it.err
		default:
			return Result{}, io.EOF
		}
	}
}

func (s *fakeStream) CloseSend() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

func (s *fakeStream) push(res Result) { s.results <- recvItem{res: res} }
func (s *fakeStream) fail(err error) { s.results <- recvItem{err: err} }
func (s *fakeStream) sentCount() int { s.mu.Lock(); defer s.mu.Unlock(); return s.sent }

type fakeDialer struct {
	mu      sync.Mutex
	streams []*fakeStream
	dials   int
	err     error
}

func (d *fakeDialer) Dial(ctx context.Context) (Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	if d.dials >= len(d.streams) {
		return nil, errors.New("no more streams")
	}
	s := d.streams[d.dials]
	d.dials++
	return s, nil
}

func (d *fakeDialer) count() int { d.mu.Lock(); defer d.mu.Unlock(); return d.dials }

func frame() models.AudioFrame {
	return models.AudioFrame{PCM: make([]byte, 320)}
}

// waitUpdates ticks until at least one update or an error arrives.
func waitUpdates(t *testing.T, a *Adapter) ([]models.TranscriptUpdate, error) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		u, err := a.Tick(context.Background())
		if err != nil || len(u) > 0 {
			return u, err
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("timed out waiting for updates")
	return nil, nil
}

func TestAdapter_LazyDialAndTranslate(t *testing.T) {
	s := newFakeStream()
	d := &fakeDialer{streams: []*fakeStream{s}}
	a := New(d, Config{})

	if d.count() != 0 {
		t.Fatal("expected no dial before first frame")
	}
	if _, err := a.Consume(context.Background(), frame()); err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if d.count() != 1 || s.sentCount() != 1 {
		t.Fatalf("expected one dial and one send, got %d/%d", d.count(), s.sentCount())
	}

	s.push(Result{Text: "hello"})
	u, err := waitUpdates(t, a)
	if err != nil || len(u) != 1 || u[0].IsFinal() || u[0].Text != "hello" {
		t.Fatalf("expected partial hello, got %+v %v", u, err)
	}

	s.push(Result{Text: "hello world", IsFinal: true, Words: []models.Word{{Text: "hello", Confidence: 0.9}}})
	u, err = waitUpdates(t, a)
	if err != nil || len(u) != 1 || !u[0].IsFinal() || u[0].Text != "hello world" {
		t.Fatalf("expected final, got %+v %v", u, err)
	}
	if len(u[0].Words) != 1 {
		t.Errorf("expected words carried through, got %+v", u[0].Words)
	}
}

func TestAdapter_ReconnectOnceThenFail(t *testing.T) {
	s1, s2 := newFakeStream(), newFakeStream()
	reconnects := 0
	d := &fakeDialer{streams: []*fakeStream{s1, s2}}
	a := New(d, Config{OnReconnect: func() { reconnects++ }})

	if _, err := a.Consume(context.Background(), frame()); err != nil {
		t.Fatalf("Consume: %v", err)
	}

	s1.fail(errors.New("connection reset"))
	deadline := time.Now().Add(time.Second)
	for d.count() < 2 && time.Now().Before(deadline) {
		if _, err := a.Tick(context.Background()); err != nil {
			t.Fatalf("first drop should be absorbed, got %v", err)
		}
		time.Sleep(time.Millisecond)
	}
	if d.count() != 2 || reconnects != 1 {
		t.Fatalf("expected one reconnect, got dials=%d reconnects=%d", d.count(), reconnects)
	}

	s2.fail(errors.New("connection reset again"))
	_, err := waitUpdates(t, a)
	if !stt.IsAdapterError(err) {
		t.Fatalf("expected AdapterError on second consecutive drop, got %v", err)
	}
}

func TestAdapter_ReconnectBudgetResetsAfterResult(t *testing.T) {
	s1, s2, s3 := newFakeStream(), newFakeStream(), newFakeStream()
	d := &fakeDialer{streams: []*fakeStream{s1, s2, s3}}
	a := New(d, Config{})

	if _, err := a.Consume(context.Background(), frame()); err != nil {
		t.Fatalf("Consume: %v", err)
	}
	s1.fail(errors.New("drop 1"))
	s2.push(Result{Text: "back", IsFinal: true})
	if u, err := waitUpdates(t, a); err != nil || len(u) == 0 {
		t.Fatalf("expected result after reconnect, got %+v %v", u, err)
	}

	s2.fail(errors.New("drop 2"))
	deadline := time.Now().Add(time.Second)
	for d.count() < 3 && time.Now().Before(deadline) {
		if _, err := a.Tick(context.Background()); err != nil {
			t.Fatalf("drop after a good result should reconnect, got %v", err)
		}
		time.Sleep(time.Millisecond)
	}
	if d.count() != 3 {
		t.Errorf("expected third dial, got %d", d.count())
	}
}

func TestAdapter_SendFailureReconnects(t *testing.T) {
	s1, s2 := newFakeStream(), newFakeStream()
	d := &fakeDialer{streams: []*fakeStream{s1, s2}}
	a := New(d, Config{})

	if _, err := a.Consume(context.Background(), frame()); err != nil {
		t.Fatalf("Consume: %v", err)
	}
	s1.mu.Lock()
	s1.sendErr = errors.New("broken pipe")
	s1.mu.Unlock()

	if _, err := a.Consume(context.Background(), frame()); err != nil {
		t.Fatalf("expected send failure to reconnect, got %v", err)
	}
	if s2.sentCount() != 1 {
		t.Errorf("expected chunk to go to the new stream, got %d", s2.sentCount())
	}
}

func TestAdapter_DialFailure(t *testing.T) {
	a := New(&fakeDialer{err: errors.New("no credentials")}, Config{})
	_, err := a.Consume(context.Background(), frame())
	var ae *stt.AdapterError
	if !errors.As(err, &ae) || ae.Op != "dial" {
		t.Fatalf("expected dial AdapterError, got %v", err)
	}
}

func TestAdapter_ClosePromotesTrailingPartial(t *testing.T) {
	s := newFakeStream()
	a := New(&fakeDialer{streams: []*fakeStream{s}}, Config{})

	if _, err := a.Consume(context.Background(), frame()); err != nil {
		t.Fatalf("Consume: %v", err)
	}
	s.push(Result{Text: "half a sent"})
	if _, err := waitUpdates(t, a); err != nil {
		t.Fatal(err)
	}
	s.push(Result{Text: "half a sentence"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	u, err := a.Close(ctx)
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if len(u) == 0 {
		t.Fatal("expected updates on close")
	}
	last := u[len(u)-1]
	if !last.IsFinal() || last.Text != "half a sentence" {
		t.Errorf("expected promoted final, got %+v", last)
	}
}

func TestAdapter_CloseWithoutStream(t *testing.T) {
	a := New(&fakeDialer{}, Config{})
	u, err := a.Close(context.Background())
	if err != nil || len(u) != 0 {
		t.Errorf("expected empty close, got %+v %v", u, err)
	}
	if _, err := a.Consume(context.Background(), frame()); !errors.Is(err, stt.ErrAdapterClosed) {
		t.Errorf("expected ErrAdapterClosed, got %v", err)
	}
}

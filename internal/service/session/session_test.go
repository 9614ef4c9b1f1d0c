package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"ai-speech-stream-service/internal/models"
	"ai-speech-stream-service/internal/observability/metrics"
	"ai-speech-stream-service/internal/service/stt"
)

// fakeAdapter returns a partial for odd frames and a final for even ones.
type fakeAdapter struct {
	kind models.EngineKind

	mu        sync.Mutex
	seqs      []uint64
	closes    int
	started   chan struct{}
	block     chan struct{}
	failOn    uint64
	closeText string
	closeErr  error
	stall     time.Duration
	waited    time.Duration
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{kind: models.EngineWordIncremental, started: make(chan struct{}, 16)}
}

func (a *fakeAdapter) Kind() models.EngineKind { return a.kind }

func (a *fakeAdapter) Consume(ctx context.Context, f models.AudioFrame) ([]models.TranscriptUpdate, error) {
	select {
	case a.started <- struct{}{}:
	default:
	}
	if a.block != nil {
		<-a.block
	}
	if a.stall > 0 {
		start := time.Now()
		time.Sleep(a.stall)
		a.mu.Lock()
		a.waited += time.Since(start)
		a.mu.Unlock()
	}
	a.mu.Lock()
	a.seqs = append(a.seqs, f.Seq)
	a.mu.Unlock()

	if a.failOn != 0 && f.Seq == a.failOn {
		return nil, stt.NewAdapterError(a.kind, "consume", errors.New("model crashed"))
	}
	if f.Seq%2 == 1 {
		return []models.TranscriptUpdate{stt.Partial(fmt.Sprintf("p%d", f.Seq))}, nil
	}
	return []models.TranscriptUpdate{stt.Final(fmt.Sprintf("f%d", f.Seq), nil)}, nil
}

func (a *fakeAdapter) Tick(ctx context.Context) ([]models.TranscriptUpdate, error) {
	return nil, nil
}

func (a *fakeAdapter) Close(ctx context.Context) ([]models.TranscriptUpdate, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closes++
	if a.closeText == "" {
		return nil, a.closeErr
	}
	return []models.TranscriptUpdate{stt.Final(a.closeText, nil)}, a.closeErr
}

func (a *fakeAdapter) WaitTime() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.waited
}

func (a *fakeAdapter) consumed() []uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]uint64(nil), a.seqs...)
}

func startSession(t *testing.T, a stt.Adapter, opts Options) *Session {
	t.Helper()
	s := newSession("s-test", a, opts.withDefaults(), metrics.NewMetrics(prometheus.NewRegistry()))
	go s.run()
	return s
}

// collect reads updates until the channel closes.
func collect(t *testing.T, s *Session) []models.TranscriptUpdate {
	t.Helper()
	var out []models.TranscriptUpdate
	timeout := time.After(3 * time.Second)
	for {
		select {
		case u, ok := <-s.Updates():
			if !ok {
				return out
			}
			out = append(out, u)
		case <-timeout:
			t.Fatal("session did not close")
		}
	}
}

func pcm(samples int) []byte {
	return make([]byte, samples*models.BytesPerSample)
}

func TestSession_ProcessesInOrder(t *testing.T) {
	a := newFakeAdapter()
	a.closeText = "tail"
	s := startSession(t, a, Options{})

	for i := 0; i < 4; i++ {
		if err := s.Enqueue(pcm(160)); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	s.Stop()
	updates := collect(t, s)

	if got := a.consumed(); fmt.Sprint(got) != "[1 2 3 4]" {
		t.Errorf("expected frames in order, got %v", got)
	}
	var kinds []string
	for _, u := range updates {
		kinds = append(kinds, u.Kind.String()+":"+u.Text)
	}
	want := "[partial:p1 final:f2 partial:p3 final:f4 final:tail]"
	if fmt.Sprint(kinds) != want {
		t.Errorf("expected %s, got %v", want, kinds)
	}
	if got := s.Transcript(); fmt.Sprint(got) != "[f2 f4 tail]" {
		t.Errorf("unexpected transcript %v", got)
	}
	if s.PendingPartial() != "" {
		t.Errorf("expected empty pending partial after final, got %q", s.PendingPartial())
	}
	if s.State() != StateClosed {
		t.Errorf("expected closed, got %s", s.State())
	}
	if s.Reason() != ReasonClientStop {
		t.Errorf("expected reason %s, got %s", ReasonClientStop, s.Reason())
	}
	if err := s.Enqueue(pcm(160)); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("expected ErrSessionClosed after stop, got %v", err)
	}
}

func TestSession_PendingPartial(t *testing.T) {
	a := newFakeAdapter()
	s := startSession(t, a, Options{})
	defer s.Terminate(ReasonShutdown)

	if err := s.Enqueue(pcm(160)); err != nil {
		t.Fatal(err)
	}
	u := <-s.Updates()
	if u.IsFinal() || u.Text != "p1" {
		t.Fatalf("expected partial p1, got %+v", u)
	}
	if s.PendingPartial() != "p1" {
		t.Errorf("expected pending p1, got %q", s.PendingPartial())
	}
	if len(s.Transcript()) != 0 {
		t.Errorf("partials must not reach the transcript: %v", s.Transcript())
	}
}

func TestSession_Backpressure(t *testing.T) {
	a := newFakeAdapter()
	a.block = make(chan struct{})
	s := startSession(t, a, Options{QueueCapacity: 2})

	if err := s.Enqueue(pcm(160)); err != nil {
		t.Fatal(err)
	}
	select {
	case <-a.started:
	case <-time.After(time.Second):
		t.Fatal("worker never picked up the first frame")
	}

	for i := 0; i < 2; i++ {
		if err := s.Enqueue(pcm(160)); err != nil {
			t.Fatalf("Enqueue %d: %v", i, err)
		}
	}
	if err := s.Enqueue(pcm(160)); !errors.Is(err, ErrBackpressure) {
		t.Errorf("expected ErrBackpressure, got %v", err)
	}
	if got := s.Summary().QueueDepth; got != 2 {
		t.Errorf("expected queue depth 2, got %d", got)
	}

	s.Terminate(ReasonClientDisconnect)
	close(a.block)
	collect(t, s)
	if s.Reason() != ReasonClientDisconnect {
		t.Errorf("expected %s, got %s", ReasonClientDisconnect, s.Reason())
	}
}

func TestSession_RejectsOddFrames(t *testing.T) {
	s := startSession(t, newFakeAdapter(), Options{})
	defer s.Terminate(ReasonShutdown)

	if err := s.Enqueue([]byte{1, 2, 3}); !errors.Is(err, ErrInvalidFrame) {
		t.Errorf("expected ErrInvalidFrame, got %v", err)
	}
	if s.State() != StateCreated {
		t.Errorf("rejected frame should not activate the session, got %s", s.State())
	}
}

func TestSession_TerminateIsIdempotent(t *testing.T) {
	a := newFakeAdapter()
	s := startSession(t, a, Options{})

	if !s.Terminate(ReasonClientDisconnect) {
		t.Error("first Terminate should initiate")
	}
	if s.Terminate(ReasonResourceLimit) {
		t.Error("second Terminate should be a no-op")
	}
	<-s.Done()

	if s.Reason() != ReasonClientDisconnect {
		t.Errorf("expected first reason to win, got %s", s.Reason())
	}
	if s.Terminate(ReasonShutdown) {
		t.Error("Terminate after close should be a no-op")
	}
	a.mu.Lock()
	closes := a.closes
	a.mu.Unlock()
	if closes != 1 {
		t.Errorf("expected adapter closed once, got %d", closes)
	}
}

func TestSession_AdapterErrorEmitsTerminalFinal(t *testing.T) {
	a := newFakeAdapter()
	a.failOn = 2
	a.closeText = "discarded"
	s := startSession(t, a, Options{})

	_ = s.Enqueue(pcm(160))
	_ = s.Enqueue(pcm(160))
	updates := collect(t, s)

	if len(updates) != 2 {
		t.Fatalf("expected partial plus terminal final, got %+v", updates)
	}
	last := updates[1]
	if !last.IsFinal() || last.Error == "" {
		t.Errorf("expected terminal final with error, got %+v", last)
	}
	if s.Reason() != ReasonAdapterError {
		t.Errorf("expected %s, got %s", ReasonAdapterError, s.Reason())
	}
	if len(s.Transcript()) != 0 {
		t.Errorf("flush output after a failure must be discarded, got %v", s.Transcript())
	}
}

func TestSession_CloseFailureEmitsTerminalFinal(t *testing.T) {
	a := newFakeAdapter()
	a.closeErr = stt.NewAdapterError(a.kind, "close", errors.New("recognizer lost"))
	s := startSession(t, a, Options{})

	if err := s.Enqueue(pcm(160)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	s.Stop()
	updates := collect(t, s)

	if len(updates) != 2 || updates[0].Text != "p1" {
		t.Fatalf("expected partial then terminal final, got %+v", updates)
	}
	last := updates[1]
	if !last.IsFinal() || !strings.Contains(last.Error, "recognizer lost") {
		t.Errorf("expected final carrying the close error, got %+v", last)
	}
	if s.Reason() != ReasonAdapterError {
		t.Errorf("expected %s, got %s", ReasonAdapterError, s.Reason())
	}
}

func TestSession_CancelledFlushAfterTerminateIsQuiet(t *testing.T) {
	a := newFakeAdapter()
	a.closeErr = stt.NewAdapterError(a.kind, "close", context.Canceled)
	s := startSession(t, a, Options{})

	s.Terminate(ReasonClientDisconnect)
	updates := collect(t, s)

	if len(updates) != 0 {
		t.Errorf("expected no error final for a cancelled flush, got %+v", updates)
	}
	if s.Reason() != ReasonClientDisconnect {
		t.Errorf("expected %s, got %s", ReasonClientDisconnect, s.Reason())
	}
}

func TestSession_StopKeepsAcceptedFrames(t *testing.T) {
	for i := 0; i < 50; i++ {
		a := newFakeAdapter()
		s := startSession(t, a, Options{QueueCapacity: 1024})

		accepted := make(chan int, 1)
		go func() {
			n := 0
			for {
				err := s.Enqueue(pcm(2))
				switch {
				case err == nil:
					n++
				case errors.Is(err, ErrSessionClosed):
					accepted <- n
					return
				}
			}
		}()

		time.Sleep(time.Duration(i%5) * 100 * time.Microsecond)
		s.Stop()
		n := <-accepted
		collect(t, s)

		if got := len(a.consumed()); got != n {
			t.Fatalf("iteration %d: %d frames accepted but %d processed", i, n, got)
		}
	}
}

func TestSession_BusyTimeExcludesAdapterWait(t *testing.T) {
	a := newFakeAdapter()
	a.stall = 30 * time.Millisecond
	s := startSession(t, a, Options{})

	for i := 0; i < 3; i++ {
		if err := s.Enqueue(pcm(160)); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	s.Stop()
	collect(t, s)

	if busy := s.BusyTime(); busy >= a.stall {
		t.Errorf("expected adapter wait excluded from busy time, got %v", busy)
	}
}

func TestSession_IdleTimeout(t *testing.T) {
	s := startSession(t, newFakeAdapter(), Options{
		IdleTimeout:  50 * time.Millisecond,
		TickInterval: 10 * time.Millisecond,
	})

	collect(t, s)
	m := s.Metrics()
	if !m.Expired || m.Reason != ReasonIdleTimeout {
		t.Errorf("expected expired idle close, got %+v", m)
	}
}

func TestSession_Metrics(t *testing.T) {
	s := startSession(t, newFakeAdapter(), Options{SampleRate: 16000})

	loud := make([]byte, 320)
	for i := 0; i < len(loud); i += 2 {
		loud[i+1] = 0x40 // 16384
	}
	_ = s.Enqueue(loud)
	_ = s.Enqueue(pcm(160))
	s.RecordResourceSample(10, 100)
	s.RecordResourceSample(30, 200)
	s.Stop()
	collect(t, s)

	m := s.Metrics()
	if m.Chunks != 2 {
		t.Errorf("expected 2 chunks, got %d", m.Chunks)
	}
	if m.AudioSeconds != 0.02 {
		t.Errorf("expected 0.02s of audio, got %v", m.AudioSeconds)
	}
	if m.PeakAmplitude != 0.5 || m.AvgAmplitude != 0.25 {
		t.Errorf("unexpected amplitude avg=%v peak=%v", m.AvgAmplitude, m.PeakAmplitude)
	}
	if m.CPUAvg != 20 || m.MemoryAvgMB != 150 || m.PeakMemoryMB != 200 {
		t.Errorf("unexpected resource summary %+v", m)
	}
}

package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"ai-speech-stream-service/internal/models"
	"ai-speech-stream-service/internal/observability/logging"
	"ai-speech-stream-service/internal/observability/metrics"
	"ai-speech-stream-service/internal/service/stt"
)

// Options tunes a single session. Zero values fall back to the defaults below.
type Options struct {
	SampleRate    int
	QueueCapacity int
	UpdateBuffer  int
	IdleTimeout   time.Duration
	TickInterval  time.Duration
	FlushTimeout  time.Duration
}

const (
	DefaultQueueCapacity = 64
	DefaultUpdateBuffer  = 64
	DefaultIdleTimeout   = 60 * time.Second
	DefaultTickInterval  = 250 * time.Millisecond
	DefaultFlushTimeout  = 5 * time.Second
	DefaultSampleRate    = 16000
)

func (o Options) withDefaults() Options {
	if o.SampleRate <= 0 {
		o.SampleRate = DefaultSampleRate
	}
	if o.QueueCapacity <= 0 {
		o.QueueCapacity = DefaultQueueCapacity
	}
	if o.UpdateBuffer <= 0 {
		o.UpdateBuffer = DefaultUpdateBuffer
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = DefaultIdleTimeout
	}
	if o.TickInterval <= 0 {
		o.TickInterval = DefaultTickInterval
	}
	if o.FlushTimeout <= 0 {
		o.FlushTimeout = DefaultFlushTimeout
	}
	return o
}

// merge fills zero fields of o from base.
func (o Options) merge(base Options) Options {
	if o.SampleRate <= 0 {
		o.SampleRate = base.SampleRate
	}
	if o.QueueCapacity <= 0 {
		o.QueueCapacity = base.QueueCapacity
	}
	if o.UpdateBuffer <= 0 {
		o.UpdateBuffer = base.UpdateBuffer
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = base.IdleTimeout
	}
	if o.TickInterval <= 0 {
		o.TickInterval = base.TickInterval
	}
	if o.FlushTimeout <= 0 {
		o.FlushTimeout = base.FlushTimeout
	}
	return o.withDefaults()
}

// Summary is a point-in-time view of a session for listings and the monitor.
type Summary struct {
	ID             string        `json:"id"`
	Engine         string        `json:"engine"`
	State          State         `json:"state"`
	StartedAt      time.Time     `json:"startedAt"`
	LastActivityAt time.Time     `json:"lastActivityAt"`
	AudioSeconds   float64       `json:"audioSeconds"`
	Chunks         uint64        `json:"chunks"`
	QueueDepth     int           `json:"queueDepth"`
	BufferedBytes  int           `json:"bufferedBytes"`
	BusyTime       time.Duration `json:"busyTimeNs"`
	Segments       int           `json:"segments"`
}

// Session is one client stream bound to one adapter.
//
// Audio is enqueued by the transport and drained in order by a single worker
// goroutine; the worker is the only caller of the adapter and the only writer
// of the transcript.
type Session struct {
	id        string
	engine    models.EngineKind
	adapter   stt.Adapter
	opts      Options
	lifecycle *Lifecycle
	metrics   *metrics.Metrics
	log       zerolog.Logger
	onUpdate  func(*Session, models.TranscriptUpdate)
	onClose   func(*Session)

	ctx      context.Context
	cancel   context.CancelFunc
	queue    chan models.AudioFrame
	updates  chan models.TranscriptUpdate
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	// gate makes the accept check and the queue send atomic against Stop.
	gate sync.RWMutex

	// lastWait is the adapter wait time already excluded from busy.
	lastWait time.Duration

	seq          atomic.Uint64
	terminated   atomic.Bool
	stopping     atomic.Bool
	lastActivity atomic.Int64
	busy         atomic.Int64
	buffered     atomic.Int64

	mu         sync.RWMutex
	reason     string
	expired    bool
	failed     bool
	startedAt  time.Time
	endedAt    time.Time
	transcript []string
	pending    string
	lastFinal  models.TranscriptUpdate
	lowConf    []string
	audioBytes int64
	chunks     uint64
	ampSum     float64
	ampPeak    float64
	cpuSum     float64
	memSum     float64
	memPeak    float64
	samples    int
}

func newSession(id string, adapter stt.Adapter, opts Options, m *metrics.Metrics) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now()
	s := &Session{
		id:        id,
		engine:    adapter.Kind(),
		adapter:   adapter,
		opts:      opts,
		lifecycle: NewLifecycle(),
		metrics:   m,
		log:       logging.WithSession(id, adapter.Kind().String()),
		ctx:       ctx,
		cancel:    cancel,
		queue:     make(chan models.AudioFrame, opts.QueueCapacity),
		updates:   make(chan models.TranscriptUpdate, opts.UpdateBuffer),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
		startedAt: now,
	}
	s.lastActivity.Store(now.UnixNano())
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Engine returns the engine kind bound at creation.
func (s *Session) Engine() models.EngineKind { return s.engine }

// State returns the lifecycle state.
func (s *Session) State() State { return s.lifecycle.State() }

// Updates streams transcript updates in emission order. The channel is closed
// once the session reaches the closed state.
func (s *Session) Updates() <-chan models.TranscriptUpdate { return s.updates }

// Done is closed after the session reached the closed state.
func (s *Session) Done() <-chan struct{} { return s.done }

// Enqueue hands one chunk of 16-bit PCM to the worker without blocking.
func (s *Session) Enqueue(pcm []byte) error {
	s.gate.RLock()
	defer s.gate.RUnlock()
	if s.stopping.Load() || s.ctx.Err() != nil || !s.lifecycle.Accepting() {
		return ErrSessionClosed
	}
	if len(pcm)%models.BytesPerSample != 0 {
		return ErrInvalidFrame
	}
	now := time.Now()
	frame := models.AudioFrame{
		SessionID:  s.id,
		Seq:        s.seq.Add(1),
		PCM:        pcm,
		ReceivedAt: now,
	}
	select {
	case s.queue <- frame:
	default:
		s.metrics.RecordBackpressure(s.engine.String())
		return ErrBackpressure
	}
	s.lastActivity.Store(now.UnixNano())
	s.metrics.RecordAudioReceived(len(pcm))
	if err := s.lifecycle.Activate(); err != nil {
		s.log.Debug().Err(err).Msg("Activate after drain")
	}
	return nil
}

// Stop stops accepting audio, processes what is already queued and then
// flushes the adapter.
func (s *Session) Stop() {
	s.gate.Lock()
	s.stopping.Store(true)
	s.gate.Unlock()
	s.setReason(ReasonClientStop, false)
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// Terminate cancels the session with reason. Queued audio is discarded and the
// adapter gets a best-effort flush. It reports whether this call initiated
// termination; later calls are no-ops.
func (s *Session) Terminate(reason string) bool {
	if s.lifecycle.IsClosed() || !s.terminated.CompareAndSwap(false, true) {
		return false
	}
	s.setReason(reason, false)
	s.cancel()
	return true
}

// setReason records the first close reason and reports whether it won.
func (s *Session) setReason(reason string, expired bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reason != "" {
		return false
	}
	s.reason = reason
	s.expired = expired
	return true
}

// Reason returns the close reason, empty while open.
func (s *Session) Reason() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reason
}

// Transcript returns a copy of the confirmed segments.
func (s *Session) Transcript() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.transcript...)
}

// PendingPartial returns the latest unconfirmed text.
func (s *Session) PendingPartial() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pending
}

// BusyTime is the cumulative time the worker spent inside the adapter.
func (s *Session) BusyTime() time.Duration {
	return time.Duration(s.busy.Load())
}

// BufferedBytes is the audio held inside the adapter after its last call.
func (s *Session) BufferedBytes() int {
	return int(s.buffered.Load())
}

// AudioDuration is the total duration of audio enqueued and processed.
func (s *Session) AudioDuration() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return models.PCMDuration(int(s.audioBytes), s.opts.SampleRate)
}

// Summary returns a snapshot for listings.
func (s *Session) Summary() Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Summary{
		ID:             s.id,
		Engine:         s.engine.String(),
		State:          s.lifecycle.State(),
		StartedAt:      s.startedAt,
		LastActivityAt: time.Unix(0, s.lastActivity.Load()),
		AudioSeconds:   models.PCMDuration(int(s.audioBytes), s.opts.SampleRate).Seconds(),
		Chunks:         s.chunks,
		QueueDepth:     len(s.queue),
		BufferedBytes:  int(s.buffered.Load()),
		BusyTime:       time.Duration(s.busy.Load()),
		Segments:       len(s.transcript),
	}
}

// RecordResourceSample attributes a process resource sample to the session.
func (s *Session) RecordResourceSample(cpuPercent, rssMB float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cpuSum += cpuPercent
	s.memSum += rssMB
	if rssMB > s.memPeak {
		s.memPeak = rssMB
	}
	s.samples++
}

// Metrics summarises the session. Complete once Done is closed.
func (s *Session) Metrics() models.SessionMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m := models.SessionMetrics{
		AudioSeconds:  models.PCMDuration(int(s.audioBytes), s.opts.SampleRate).Seconds(),
		Chunks:        s.chunks,
		PeakAmplitude: s.ampPeak,
		PeakMemoryMB:  s.memPeak,
		Expired:       s.expired,
		Reason:        s.reason,
	}
	if s.chunks > 0 {
		m.AvgAmplitude = s.ampSum / float64(s.chunks)
	}
	if s.samples > 0 {
		m.CPUAvg = s.cpuSum / float64(s.samples)
		m.MemoryAvgMB = s.memSum / float64(s.samples)
	}
	return m
}

// Completed builds the hand-off record, or false when nothing was confirmed.
//
// Windowed Finals are cumulative over the retained segments, so only the
// latest one is handed off; other engines hand off every confirmed segment.
func (s *Session) Completed() (models.TranscriptCompleted, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var segments []string
	if s.engine == models.EngineWindowedContext {
		if s.lastFinal.Text != "" {
			segments = []string{s.lastFinal.Text}
		}
	} else {
		segments = append(segments, s.transcript...)
	}
	text := models.JoinSegments(segments)
	if text == "" {
		return models.TranscriptCompleted{}, false
	}
	return models.TranscriptCompleted{
		SessionID:     s.id,
		Engine:        s.engine.String(),
		Text:          text,
		Segments:      segments,
		LowConfidence: append([]string(nil), s.lowConf...),
		CloseReason:   s.reason,
		StartedAt:     s.startedAt,
		EndedAt:       s.endedAt,
		AudioSeconds:  models.PCMDuration(int(s.audioBytes), s.opts.SampleRate).Seconds(),
	}, true
}

// run is the worker loop. It is the only goroutine that touches the adapter.
func (s *Session) run() {
	defer s.finish()

	ticker := time.NewTicker(s.opts.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			s.setReason(ReasonShutdown, false)
			return
		case <-s.stopCh:
			if err := s.lifecycle.Drain(); err != nil {
				s.log.Debug().Err(err).Msg("Drain on stop")
			}
			s.drainQueue()
			return
		case frame := <-s.queue:
			if !s.process(frame) {
				return
			}
		case <-ticker.C:
			if s.idle() {
				s.log.Info().Dur("idleTimeout", s.opts.IdleTimeout).Msg("Session idle, closing")
				s.setReason(ReasonIdleTimeout, true)
				return
			}
			if !s.tick() {
				return
			}
		}
	}
}

func (s *Session) idle() bool {
	last := time.Unix(0, s.lastActivity.Load())
	return time.Since(last) >= s.opts.IdleTimeout
}

// drainQueue processes audio that was queued before the stop.
func (s *Session) drainQueue() {
	for {
		select {
		case frame := <-s.queue:
			if !s.process(frame) {
				return
			}
		default:
			return
		}
	}
}

// process feeds one frame and reports whether the loop should continue.
func (s *Session) process(frame models.AudioFrame) bool {
	if s.ctx.Err() != nil {
		return false
	}

	amp := models.Amplitude(frame.PCM)
	s.mu.Lock()
	s.audioBytes += int64(len(frame.PCM))
	s.chunks++
	s.ampSum += amp
	if amp > s.ampPeak {
		s.ampPeak = amp
	}
	s.mu.Unlock()

	start := time.Now()
	updates, err := s.adapter.Consume(s.ctx, frame)
	s.account("consume", start, err)
	s.apply(updates)
	if err != nil {
		s.fail(err)
		return false
	}
	return s.ctx.Err() == nil
}

func (s *Session) tick() bool {
	start := time.Now()
	updates, err := s.adapter.Tick(s.ctx)
	s.account("tick", start, err)
	s.apply(updates)
	if err != nil {
		s.fail(err)
		return false
	}
	return s.ctx.Err() == nil
}

func (s *Session) account(op string, start time.Time, err error) {
	elapsed := time.Since(start)
	busy := elapsed
	if r, ok := s.adapter.(stt.WaitReporter); ok {
		total := r.WaitTime()
		busy -= total - s.lastWait
		s.lastWait = total
		if busy < 0 {
			busy = 0
		}
	}
	s.busy.Add(int64(busy))
	if r, ok := s.adapter.(stt.BufferReporter); ok {
		s.buffered.Store(int64(r.BufferedBytes()))
	}
	s.metrics.RecordAdapterCall(s.engine.String(), op, elapsed.Seconds(), err)
}

// fail converts an adapter failure into a terminal Final.
func (s *Session) fail(err error) {
	if errors.Is(err, context.Canceled) && s.ctx.Err() != nil {
		return
	}
	s.log.Error().Err(err).Msg("Adapter failed, closing session")
	s.mu.Lock()
	s.failed = true
	if s.reason == "" || s.reason == ReasonClientStop {
		s.reason = ReasonAdapterError
		s.expired = false
	}
	s.mu.Unlock()
	s.apply([]models.TranscriptUpdate{stt.Stamp(models.TranscriptUpdate{
		Kind:  models.UpdateFinal,
		Error: err.Error(),
	}, time.Now(), s.startedAt)})
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// apply folds updates into the transcript state and forwards them.
func (s *Session) apply(updates []models.TranscriptUpdate) {
	for _, u := range updates {
		s.mu.Lock()
		switch {
		case u.IsFinal():
			if u.Text != "" {
				s.transcript = append(s.transcript, u.Text)
				s.lastFinal = u
			}
			if len(u.LowConfidence) > 0 {
				s.lowConf = append([]string(nil), u.LowConfidence...)
			}
			s.pending = ""
		case !u.Status:
			s.pending = u.Text
		}
		s.mu.Unlock()

		s.metrics.RecordUpdate(s.engine.String(), u.Kind.String())
		if s.onUpdate != nil {
			s.onUpdate(s, u)
		}
		s.emit(u)
	}
}

// emit blocks while the session is live so that a slow reader applies
// backpressure to the worker. Once cancelled, delivery is best effort.
func (s *Session) emit(u models.TranscriptUpdate) {
	select {
	case s.updates <- u:
		return
	case <-s.ctx.Done():
	}
	select {
	case s.updates <- u:
	default:
		s.log.Debug().Str("kind", u.Kind.String()).Msg("Dropped update after termination")
	}
}

// finish drains the adapter and moves the session to closed.
func (s *Session) finish() {
	if err := s.lifecycle.Drain(); err != nil {
		s.log.Debug().Err(err).Msg("Drain")
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.FlushTimeout)
	start := time.Now()
	updates, err := s.adapter.Close(ctx)
	cancel()
	s.account("close", start, err)

	s.mu.RLock()
	failed := s.failed
	s.mu.RUnlock()
	if !failed {
		s.apply(updates)
		switch {
		case err == nil:
		case s.terminated.Load() && isCancellation(err):
			s.log.Warn().Err(err).Msg("Adapter flush cut short by termination")
		default:
			s.fail(err)
		}
	}

	s.setReason(ReasonShutdown, false)
	s.mu.Lock()
	s.endedAt = time.Now()
	s.mu.Unlock()

	if err := s.lifecycle.Close(); err != nil {
		s.log.Warn().Err(err).Msg("Close")
	}
	s.cancel()
	close(s.updates)

	s.log.Info().
		Str("reason", s.Reason()).
		Int("segments", len(s.Transcript())).
		Dur("busy", s.BusyTime()).
		Msg("Session closed")

	if s.onClose != nil {
		s.onClose(s)
	}
	close(s.done)
}

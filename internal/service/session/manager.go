package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ai-speech-stream-service/internal/models"
	"ai-speech-stream-service/internal/observability/logging"
	"ai-speech-stream-service/internal/observability/metrics"
	"ai-speech-stream-service/internal/service/stt"
)

// AdapterFactory builds one adapter per session.
type AdapterFactory interface {
	Available(kind models.EngineKind) error
	New(ctx context.Context, kind models.EngineKind) (stt.Adapter, error)
}

// Handoff receives the transcript of every session that closes with text.
type Handoff interface {
	PublishCompleted(ctx context.Context, event models.TranscriptCompleted) error
}

// UpdateMirror receives every update as it is emitted.
type UpdateMirror interface {
	PublishUpdate(ctx context.Context, sessionID, engine string, u models.TranscriptUpdate) error
}

// ManagerConfig wires optional collaborators into a Manager.
type ManagerConfig struct {
	Defaults       Options
	MaxSessions    int
	Handoff        Handoff
	Mirror         UpdateMirror
	HandoffTimeout time.Duration
	Metrics        *metrics.Metrics

	// NewID overrides session id generation.
	NewID func() string
}

// Manager is the registry of live sessions.
type Manager struct {
	factory AdapterFactory
	cfg     ManagerConfig
	metrics *metrics.Metrics
	log     zerolog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool
	wg       sync.WaitGroup
}

// NewManager creates a manager that builds adapters with factory.
func NewManager(factory AdapterFactory, cfg ManagerConfig) *Manager {
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.DefaultMetrics
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	if cfg.HandoffTimeout <= 0 {
		cfg.HandoffTimeout = 10 * time.Second
	}
	cfg.Defaults = cfg.Defaults.withDefaults()
	return &Manager{
		factory:  factory,
		cfg:      cfg,
		metrics:  cfg.Metrics,
		log:      logging.WithComponent("session-manager"),
		sessions: make(map[string]*Session),
	}
}

// Create builds an adapter for kind and starts a session worker. Zero fields
// in opts take the manager defaults.
func (m *Manager) Create(ctx context.Context, kind models.EngineKind, opts Options) (*Session, error) {
	m.mu.RLock()
	closed, count := m.closed, len(m.sessions)
	m.mu.RUnlock()
	if closed {
		m.metrics.RecordSessionRejected("shutdown")
		return nil, ErrManagerClosed
	}
	if m.cfg.MaxSessions > 0 && count >= m.cfg.MaxSessions {
		m.metrics.RecordSessionRejected("capacity")
		return nil, ErrTooManySessions
	}
	if err := m.factory.Available(kind); err != nil {
		m.metrics.RecordSessionRejected("engine_unavailable")
		return nil, err
	}

	adapter, err := m.factory.New(ctx, kind)
	if err != nil {
		m.metrics.RecordSessionRejected("adapter_init")
		return nil, err
	}

	s := newSession(m.cfg.NewID(), adapter, opts.merge(m.cfg.Defaults), m.metrics)
	s.onClose = m.sessionClosed
	if m.cfg.Mirror != nil {
		s.onUpdate = m.mirror
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_, _ = adapter.Close(ctx)
		return nil, ErrManagerClosed
	}
	m.sessions[s.id] = s
	m.wg.Add(1)
	m.mu.Unlock()

	m.metrics.RecordSessionStart(kind.String())
	s.log.Info().Msg("Session created")
	go s.run()
	return s, nil
}

// Get returns a registered session.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Summary returns the summary of a registered session or ErrNotFound.
func (m *Manager) Summary(id string) (Summary, error) {
	s, ok := m.Get(id)
	if !ok {
		return Summary{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s.Summary(), nil
}

// Terminate cancels the session with reason. It reports false when the id is
// unknown or the session was already terminating.
func (m *Manager) Terminate(id, reason string) bool {
	s, ok := m.Get(id)
	if !ok {
		return false
	}
	return s.Terminate(reason)
}

// Sessions returns the registered sessions.
func (m *Manager) Sessions() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// ListActive returns summaries ordered by start time.
func (m *Manager) ListActive() []Summary {
	sessions := m.Sessions()
	out := make([]Summary, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Summary())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// Count returns the number of registered sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// RecordResourceSample attributes a process sample to every live session.
func (m *Manager) RecordResourceSample(cpuPercent, rssMB float64) {
	for _, s := range m.Sessions() {
		s.RecordResourceSample(cpuPercent, rssMB)
	}
}

// Shutdown refuses new sessions, terminates the live ones and waits for them
// to close or for ctx to expire.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	for _, s := range m.Sessions() {
		s.Terminate(ReasonShutdown)
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		m.log.Info().Msg("All sessions closed")
		return nil
	case <-ctx.Done():
		m.log.Warn().Int("remaining", m.Count()).Msg("Shutdown timed out with sessions open")
		return ctx.Err()
	}
}

func (m *Manager) mirror(s *Session, u models.TranscriptUpdate) {
	if u.Status {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.HandoffTimeout)
	defer cancel()
	if err := m.cfg.Mirror.PublishUpdate(ctx, s.id, s.engine.String(), u); err != nil {
		s.log.Warn().Err(err).Str("kind", u.Kind.String()).Msg("Failed to mirror update")
	}
}

// sessionClosed runs on the session worker once the session reached closed.
func (m *Manager) sessionClosed(s *Session) {
	defer m.wg.Done()

	m.mu.Lock()
	delete(m.sessions, s.id)
	m.mu.Unlock()

	s.mu.RLock()
	duration := s.endedAt.Sub(s.startedAt)
	s.mu.RUnlock()
	m.metrics.RecordSessionEnd(s.engine.String(), s.Reason(), duration.Seconds())

	if m.cfg.Handoff == nil {
		return
	}
	event, ok := s.Completed()
	if !ok {
		s.log.Debug().Msg("Empty transcript, nothing to hand off")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.HandoffTimeout)
	defer cancel()
	if err := m.cfg.Handoff.PublishCompleted(ctx, event); err != nil {
		s.log.Error().Err(err).Msg("Failed to hand off transcript")
		return
	}
	s.log.Info().Int("segments", len(event.Segments)).Msg("Transcript handed off")
}

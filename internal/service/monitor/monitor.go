// Package monitor is the advisory safety net that terminates sessions whose
// resource usage stays above a ceiling for longer than a grace period.
package monitor

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"ai-speech-stream-service/internal/observability/logging"
	"ai-speech-stream-service/internal/observability/metrics"
	"ai-speech-stream-service/internal/service/session"
)

// Limit names, also used as metric labels.
const (
	LimitBusyRatio     = "busy_ratio"
	LimitBufferedBytes = "buffered_bytes"
	LimitRealtime      = "realtime_factor"
)

// Config holds the ceilings. A zero ceiling disables that check.
type Config struct {
	Interval          time.Duration
	Grace             time.Duration
	MaxBusyRatio      float64
	MaxBufferedBytes  int
	MaxRealtimeFactor float64
}

// Registry is the view of the session manager the monitor needs.
type Registry interface {
	ListActive() []session.Summary
	Terminate(id, reason string) bool
	RecordResourceSample(cpuPercent, rssMB float64)
}

type previous struct {
	at           time.Time
	busy         time.Duration
	audioSeconds float64
	violations   map[string]time.Time
}

// Monitor samples the registry on an interval.
type Monitor struct {
	cfg      Config
	registry Registry
	sampler  ProcessSampler
	metrics  *metrics.Metrics
	log      zerolog.Logger
	now      func() time.Time

	prev map[string]*previous
}

// New creates a monitor. sampler may be nil when /proc is unavailable.
func New(cfg Config, registry Registry, sampler ProcessSampler, m *metrics.Metrics) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &Monitor{
		cfg:      cfg,
		registry: registry,
		sampler:  sampler,
		metrics:  m,
		log:      logging.WithComponent("monitor"),
		now:      time.Now,
		prev:     make(map[string]*previous),
	}
}

// Run samples until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.log.Info().
		Dur("interval", m.cfg.Interval).
		Dur("grace", m.cfg.Grace).
		Msg("Resource monitor started")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check()
		}
	}
}

// Check takes one sample and terminates sessions past their grace period.
func (m *Monitor) Check() {
	m.sampleProcess()

	now := m.now()
	seen := make(map[string]bool)
	for _, s := range m.registry.ListActive() {
		seen[s.ID] = true
		p, ok := m.prev[s.ID]
		if !ok {
			m.prev[s.ID] = &previous{at: now, busy: s.BusyTime, audioSeconds: s.AudioSeconds, violations: map[string]time.Time{}}
			continue
		}

		wall := now.Sub(p.at).Seconds()
		if wall <= 0 {
			continue
		}
		busyRatio := (s.BusyTime - p.busy).Seconds() / wall
		realtime := (s.AudioSeconds - p.audioSeconds) / wall
		p.at, p.busy, p.audioSeconds = now, s.BusyTime, s.AudioSeconds

		m.track(p, LimitBusyRatio, m.cfg.MaxBusyRatio > 0 && busyRatio > m.cfg.MaxBusyRatio, now)
		m.track(p, LimitBufferedBytes, m.cfg.MaxBufferedBytes > 0 && s.BufferedBytes > m.cfg.MaxBufferedBytes, now)
		m.track(p, LimitRealtime, m.cfg.MaxRealtimeFactor > 0 && realtime > m.cfg.MaxRealtimeFactor, now)

		for limit, since := range p.violations {
			if now.Sub(since) < m.cfg.Grace {
				continue
			}
			if m.registry.Terminate(s.ID, session.ReasonResourceLimit) {
				m.metrics.RecordMonitorTermination(limit)
				m.log.Warn().
					Str("sessionId", s.ID).
					Str("engine", s.Engine).
					Str("limit", limit).
					Float64("busyRatio", busyRatio).
					Int("bufferedBytes", s.BufferedBytes).
					Float64("realtimeFactor", realtime).
					Msg("Session exceeded resource limit, terminating")
			}
			break
		}
	}

	for id := range m.prev {
		if !seen[id] {
			delete(m.prev, id)
		}
	}
}

func (m *Monitor) track(p *previous, limit string, over bool, now time.Time) {
	if !over {
		delete(p.violations, limit)
		return
	}
	if _, ok := p.violations[limit]; !ok {
		p.violations[limit] = now
	}
}

func (m *Monitor) sampleProcess() {
	if m.sampler == nil {
		return
	}
	cpu, rss, err := m.sampler.Sample()
	if err != nil {
		m.log.Debug().Err(err).Msg("Process sample failed")
		return
	}
	m.metrics.RecordProcessSample(cpu, rss)
	m.registry.RecordResourceSample(cpu, float64(rss)/(1<<20))
}

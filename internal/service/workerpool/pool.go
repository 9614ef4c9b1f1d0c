// Package workerpool bounds how many heavy inference jobs run at once across
// all sessions.
package workerpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"ai-speech-stream-service/internal/observability/logging"
	"ai-speech-stream-service/internal/observability/metrics"
)

// ErrPoolClosed is returned by Go after Close has been called.
var ErrPoolClosed = errors.New("worker pool is closed")

// Pool runs submitted jobs on their own goroutines, at most size at a time.
type Pool struct {
	sem      *semaphore.Weighted
	size     int
	wg       sync.WaitGroup
	mu       sync.RWMutex
	closed   bool
	inFlight atomic.Int64
	metrics  *metrics.Metrics
	log      zerolog.Logger
}

// New creates a pool with size slots. A nil metrics uses the defaults.
func New(size int, m *metrics.Metrics) *Pool {
	if size < 1 {
		size = 1
	}
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &Pool{
		sem:     semaphore.NewWeighted(int64(size)),
		size:    size,
		metrics: m,
		log:     logging.WithComponent("workerpool"),
	}
}

// Go schedules fn and returns without waiting for a slot.
//
// fn is always called exactly once. When ctx ends before a slot frees up, fn
// still runs, with the already-cancelled ctx, so callers waiting on its
// result are released.
func (p *Pool) Go(ctx context.Context, fn func(ctx context.Context)) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return ErrPoolClosed
	}
	p.wg.Add(1)
	p.mu.RUnlock()

	go func() {
		defer p.wg.Done()

		queued := time.Now()
		if err := p.sem.Acquire(ctx, 1); err != nil {
			p.log.Debug().Err(err).Msg("job abandoned before a slot was free")
			p.run(ctx, fn)
			return
		}
		defer p.sem.Release(1)
		p.metrics.InferenceWait.Observe(time.Since(queued).Seconds())

		p.inFlight.Add(1)
		p.metrics.InferenceInFlight.Inc()
		defer func() {
			p.inFlight.Add(-1)
			p.metrics.InferenceInFlight.Dec()
		}()

		p.run(ctx, fn)
	}()
	return nil
}

func (p *Pool) run(ctx context.Context, fn func(ctx context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error().Interface("panic", r).Msg("job panicked")
		}
	}()
	fn(ctx)
}

// InFlight reports how many jobs currently hold a slot.
func (p *Pool) InFlight() int {
	return int(p.inFlight.Load())
}

// Size reports the number of slots.
func (p *Pool) Size() int {
	return p.size
}

// Close rejects new jobs and waits for running ones until ctx ends.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

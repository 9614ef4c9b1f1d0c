package monitor

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/procfs"
)

// ProcessSampler reports process-wide CPU and resident memory.
type ProcessSampler interface {
	Sample() (cpuPercent float64, rssBytes uint64, err error)
}

// ProcSampler reads /proc/self through procfs. CPU is the share of one core
// used since the previous sample.
type ProcSampler struct {
	proc procfs.Proc

	mu      sync.Mutex
	lastCPU float64
	lastAt  time.Time
}

// NewProcSampler opens /proc/self.
func NewProcSampler() (*ProcSampler, error) {
	p, err := procfs.Self()
	if err != nil {
		return nil, fmt.Errorf("open /proc/self: %w", err)
	}
	return &ProcSampler{proc: p}, nil
}

func (s *ProcSampler) Sample() (float64, uint64, error) {
	stat, err := s.proc.Stat()
	if err != nil {
		return 0, 0, fmt.Errorf("read process stat: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	cpu := stat.CPUTime()
	var percent float64
	if !s.lastAt.IsZero() {
		if wall := now.Sub(s.lastAt).Seconds(); wall > 0 {
			percent = (cpu - s.lastCPU) / wall * 100
		}
	}
	s.lastCPU, s.lastAt = cpu, now
	return percent, uint64(stat.ResidentMemory()), nil
}

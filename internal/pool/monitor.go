package pool

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Monitor periodically reclaims assigned handles that have gone quiet.
// A sweep runs synchronously on the monitor goroutine, so it can never
// overlap its own previous run.
type Monitor struct {
	pool     *Pool
	interval time.Duration
	timeout  time.Duration
	started  atomic.Bool
	stop     chan struct{}
	stopped  chan struct{}
}

// NewMonitor creates an inactivity monitor for a pool.
func NewMonitor(p *Pool, interval, timeout time.Duration) *Monitor {
	return &Monitor{
		pool:     p,
		interval: interval,
		timeout:  timeout,
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// Start begins sweeping until Stop is called or ctx is cancelled.
func (m *Monitor) Start(ctx context.Context) {
	slog.Info("bot inactivity monitor started", "interval", m.interval, "timeout", m.timeout)
	m.started.Store(true)

	go func() {
		defer close(m.stopped)

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stop:
				return
			case <-ticker.C:
				released := m.pool.SweepInactive(ctx, m.timeout)
				if len(released) > 0 {
					slog.Info("inactivity sweep reclaimed bots", "phones", released)
				}
			}
		}
	}()
}

// Stop halts the monitor and waits for an in-flight sweep to finish.
// A no-op if Start was never called.
func (m *Monitor) Stop() {
	if !m.started.Load() {
		return
	}
	select {
	case <-m.stop:
	default:
		close(m.stop)
	}
	<-m.stopped
}

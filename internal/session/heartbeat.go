package session

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/cliffcho242/hiremebahamas-realtime/internal/metrics"
)

// dropper force-disconnects a session through the normal teardown path.
// Implemented by Hub.
type dropper interface {
	DropSession(sessionID, reason string) bool
}

// HeartbeatMonitor scans the registry on a fixed schedule and reaps sessions
// whose liveness signal is older than the configured timeout. Reaping runs
// the same path as a real disconnect, which bounds memory growth from
// half-open and leaked connections. The scan runs on its own goroutine and
// never blocks delivery.
type HeartbeatMonitor struct {
	interval time.Duration
	timeout  time.Duration
	reg      *Registry
	hub      dropper
	log      zerolog.Logger
}

// NewHeartbeatMonitor builds a monitor that scans every interval and reaps
// sessions silent for longer than timeout (missed-beats * interval).
func NewHeartbeatMonitor(interval, timeout time.Duration, reg *Registry, hub dropper, log zerolog.Logger) *HeartbeatMonitor {
	return &HeartbeatMonitor{
		interval: interval,
		timeout:  timeout,
		reg:      reg,
		hub:      hub,
		log:      log.With().Str("component", "heartbeat").Logger(),
	}
}

// Run blocks until ctx is cancelled.
func (m *HeartbeatMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Sweep reaps every session whose last heartbeat predates the timeout.
func (m *HeartbeatMonitor) Sweep() {
	cutoff := time.Now().Add(-m.timeout)
	for _, id := range m.reg.Stale(cutoff) {
		if s, ok := m.reg.Get(id); ok {
			s.MarkStale()
		}
		if m.hub.DropSession(id, "heartbeat_timeout") {
			metrics.HeartbeatReaped.Inc()
			m.log.Debug().
				Str("session_id", id).
				Dur("timeout", m.timeout).
				Msg("reaped stale session")
		}
	}
}

package registry

import (
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// HeartbeatMonitor periodically probes every registered connection and evicts
// unresponsive ones. It is the only path that removes a connection without an
// explicit client message; eviction funnels through the registry's own
// unregister handling, never the underlying maps.
type HeartbeatMonitor struct {
	registry   *Registry
	clock      clockwork.Clock
	interval   time.Duration
	staleAfter time.Duration
	done       chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
}

// NewHeartbeatMonitor creates a monitor sweeping every interval. A connection
// with no pong or inbound message within staleAfter is treated as dead.
func NewHeartbeatMonitor(registry *Registry, clock clockwork.Clock, interval, staleAfter time.Duration) *HeartbeatMonitor {
	return &HeartbeatMonitor{
		registry:   registry,
		clock:      clock,
		interval:   interval,
		staleAfter: staleAfter,
		done:       make(chan struct{}),
	}
}

// Start launches the sweep loop. Call Stop to terminate it.
func (m *HeartbeatMonitor) Start() {
	m.wg.Add(1)
	go m.run()
}

// Stop terminates the sweep loop and waits for it to exit.
func (m *HeartbeatMonitor) Stop() {
	m.stopOnce.Do(func() { close(m.done) })
	m.wg.Wait()
}

func (m *HeartbeatMonitor) run() {
	defer m.wg.Done()

	ticker := m.clock.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			result := m.registry.Sweep(m.staleAfter)
			if result.Evicted > 0 {
				slog.Info("Heartbeat sweep evicted connections", "probed", result.Probed, "evicted", result.Evicted)
			}
		case <-m.done:
			return
		}
	}
}

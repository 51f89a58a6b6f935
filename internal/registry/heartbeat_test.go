package registry

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeartbeatMonitor_EvictsSilentConnection(t *testing.T) {
	fc := clockwork.NewFakeClock()
	reg := NewRegistry(fc, 0)
	defer reg.Stop()

	client, conn := newTestClient(t, fc)
	require.NoError(t, reg.Register(1, client))

	monitor := NewHeartbeatMonitor(reg, fc, 30*time.Second, 75*time.Second)
	monitor.Start()
	defer monitor.Stop()

	// Wait for the sweep ticker, then push the connection past staleAfter.
	fc.BlockUntil(1)
	fc.Advance(90 * time.Second)

	waitFor(t, func() bool { return reg.CountFor(1) == 0 })
	assert.True(t, conn.Closed())
}

func TestHeartbeatMonitor_ActiveConnectionSurvives(t *testing.T) {
	fc := clockwork.NewFakeClock()
	reg := NewRegistry(fc, 0)
	defer reg.Stop()

	client, conn := newTestClient(t, fc)
	require.NoError(t, reg.Register(1, client))

	monitor := NewHeartbeatMonitor(reg, fc, 30*time.Second, 75*time.Second)
	monitor.Start()
	defer monitor.Stop()

	fc.BlockUntil(1)
	fc.Advance(30 * time.Second)
	client.MarkActivity()
	fc.BlockUntil(1)
	fc.Advance(30 * time.Second)

	// Give the sweep a moment, then confirm the connection is untouched.
	waitFor(t, func() bool { return conn.Pings() >= 1 })
	assert.Equal(t, 1, reg.CountFor(1))
	assert.False(t, conn.Closed())
}

func TestHeartbeatMonitor_StopTerminatesLoop(t *testing.T) {
	fc := clockwork.NewFakeClock()
	reg := NewRegistry(fc, 0)
	defer reg.Stop()

	monitor := NewHeartbeatMonitor(reg, fc, 30*time.Second, 75*time.Second)
	monitor.Start()
	monitor.Stop()
	// Idempotent.
	monitor.Stop()
}

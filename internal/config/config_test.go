package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, time.Minute, cfg.RateLimitWindow)
	assert.Equal(t, 30*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 75*time.Second, cfg.HeartbeatTimeout)
	assert.Equal(t, TierLimits{Free: 60, Pro: 300, Enterprise: 1000}, cfg.TierDefaults)
	assert.Equal(t, 8, cfg.MaxConnsPerUser)
	assert.Equal(t, int64(10000), cfg.MaxConnsTotal)

	// The shipped override table tightens the sensitive endpoints.
	assert.Equal(t, TierLimits{Free: 5, Pro: 10, Enterprise: 20}, cfg.EndpointOverrides["auth.login"])
	assert.Equal(t, TierLimits{Free: 2, Pro: 10, Enterprise: 50}, cfg.EndpointOverrides["reports.export"])
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("RATE_LIMIT_WINDOW", "30s")
	t.Setenv("RATE_LIMIT_DEFAULTS", "10,50,100")
	t.Setenv("RATE_LIMIT_OVERRIDES", "auth.login:1,2,3")
	t.Setenv("MAX_CONNS_PER_USER", "4")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9999", cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.RateLimitWindow)
	assert.Equal(t, TierLimits{Free: 10, Pro: 50, Enterprise: 100}, cfg.TierDefaults)
	assert.Equal(t, map[string]TierLimits{"auth.login": {Free: 1, Pro: 2, Enterprise: 3}}, cfg.EndpointOverrides)
	assert.Equal(t, 4, cfg.MaxConnsPerUser)
}

func TestLoad_HeartbeatTimeoutMustExceedInterval(t *testing.T) {
	t.Setenv("HEARTBEAT_INTERVAL", "60s")
	t.Setenv("HEARTBEAT_TIMEOUT", "45s")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_InvalidValues(t *testing.T) {
	t.Run("bad duration", func(t *testing.T) {
		t.Setenv("RATE_LIMIT_WINDOW", "often")
		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("bad int", func(t *testing.T) {
		t.Setenv("MAX_CONNS_PER_USER", "many")
		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("bad rate", func(t *testing.T) {
		t.Setenv("CONNECT_RATE", "fast")
		_, err := Load()
		assert.Error(t, err)
	})
}

func TestParseOverrides(t *testing.T) {
	out, err := parseOverrides("auth.login:5,10,20;reports.export:2,10,50")
	require.NoError(t, err)
	assert.Len(t, out, 2)
	assert.Equal(t, TierLimits{Free: 5, Pro: 10, Enterprise: 20}, out["auth.login"])

	out, err = parseOverrides("")
	require.NoError(t, err)
	assert.Empty(t, out)

	for _, s := range []string{
		"auth.login",          // no limits
		"auth.login:5,10",     // too few
		"auth.login:5,10,x",   // not a number
		"auth.login:5,10,-20", // negative
	} {
		_, err := parseOverrides(s)
		assert.Error(t, err, "input %q", s)
	}
}

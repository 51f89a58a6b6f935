package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// TierLimits holds one request-per-window limit per subscription tier.
type TierLimits struct {
	Free       int
	Pro        int
	Enterprise int
}

type Config struct {
	AppEnv    string
	Port      string
	LogLevel  string
	LogFormat string

	// Optional backends. Empty DatabaseURL selects the static tier resolver
	// and drops usage auditing; empty RedisURL selects the in-memory
	// rate-limit store.
	DatabaseURL string
	RedisURL    string

	RateLimitWindow time.Duration
	TierDefaults    TierLimits
	// EndpointOverrides maps endpoint name to per-tier limits for sensitive
	// endpoints. Overrides must not exceed the tier default.
	EndpointOverrides map[string]TierLimits

	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	MaxConnsPerUser int
	MaxConnsTotal   int64
	MaxConnsPerIP   int
	ConnectRate     float64
	ConnectBurst    int
	UsageBufferSize int
}

func Load() (*Config, error) {
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "8080"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFormat:   getEnv("LOG_FORMAT", "text"),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisURL:    getEnv("REDIS_URL", ""),
	}

	var err error
	if cfg.RateLimitWindow, err = getEnvDuration("RATE_LIMIT_WINDOW", time.Minute); err != nil {
		return nil, err
	}
	if cfg.HeartbeatInterval, err = getEnvDuration("HEARTBEAT_INTERVAL", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.HeartbeatTimeout, err = getEnvDuration("HEARTBEAT_TIMEOUT", 75*time.Second); err != nil {
		return nil, err
	}
	if cfg.HeartbeatInterval <= 0 || cfg.HeartbeatTimeout <= cfg.HeartbeatInterval {
		return nil, fmt.Errorf("HEARTBEAT_TIMEOUT (%v) must exceed HEARTBEAT_INTERVAL (%v)", cfg.HeartbeatTimeout, cfg.HeartbeatInterval)
	}

	if cfg.TierDefaults, err = getEnvTierLimits("RATE_LIMIT_DEFAULTS", TierLimits{Free: 60, Pro: 300, Enterprise: 1000}); err != nil {
		return nil, err
	}

	overrides := getEnv("RATE_LIMIT_OVERRIDES", "auth.login:5,10,20;reports.export:2,10,50")
	if cfg.EndpointOverrides, err = parseOverrides(overrides); err != nil {
		return nil, err
	}

	if cfg.MaxConnsPerUser, err = getEnvInt("MAX_CONNS_PER_USER", 8); err != nil {
		return nil, err
	}
	maxTotal, err := getEnvInt("MAX_CONNS_TOTAL", 10000)
	if err != nil {
		return nil, err
	}
	cfg.MaxConnsTotal = int64(maxTotal)
	if cfg.MaxConnsPerIP, err = getEnvInt("MAX_CONNS_PER_IP", 32); err != nil {
		return nil, err
	}
	if cfg.ConnectBurst, err = getEnvInt("CONNECT_BURST", 10); err != nil {
		return nil, err
	}
	rate := getEnv("CONNECT_RATE", "5")
	if cfg.ConnectRate, err = strconv.ParseFloat(rate, 64); err != nil {
		return nil, fmt.Errorf("CONNECT_RATE must be a number: %w", err)
	}
	if cfg.UsageBufferSize, err = getEnvInt("USAGE_BUFFER_SIZE", 1024); err != nil {
		return nil, err
	}

	if cfg.RateLimitWindow <= 0 {
		return nil, fmt.Errorf("RATE_LIMIT_WINDOW must be positive")
	}

	return cfg, nil
}

// parseOverrides parses "endpoint:free,pro,enterprise;endpoint2:..." into a map.
func parseOverrides(s string) (map[string]TierLimits, error) {
	out := make(map[string]TierLimits)
	if strings.TrimSpace(s) == "" {
		return out, nil
	}
	for _, entry := range strings.Split(s, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, limits, ok := strings.Cut(entry, ":")
		if !ok {
			return nil, fmt.Errorf("RATE_LIMIT_OVERRIDES entry %q must be endpoint:free,pro,enterprise", entry)
		}
		parts := strings.Split(limits, ",")
		if len(parts) != 3 {
			return nil, fmt.Errorf("RATE_LIMIT_OVERRIDES entry %q must list exactly three limits", entry)
		}
		var values [3]int
		for i, p := range parts {
			v, err := strconv.Atoi(strings.TrimSpace(p))
			if err != nil || v <= 0 {
				return nil, fmt.Errorf("RATE_LIMIT_OVERRIDES entry %q has invalid limit %q", entry, p)
			}
			values[i] = v
		}
		out[strings.TrimSpace(name)] = TierLimits{Free: values[0], Pro: values[1], Enterprise: values[2]}
	}
	return out, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration: %w", key, err)
	}
	return d, nil
}

func getEnvTierLimits(key string, defaultValue TierLimits) (TierLimits, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parts := strings.Split(value, ",")
	if len(parts) != 3 {
		return TierLimits{}, fmt.Errorf("%s must be free,pro,enterprise", key)
	}
	var values [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n <= 0 {
			return TierLimits{}, fmt.Errorf("%s has invalid limit %q", key, p)
		}
		values[i] = n
	}
	return TierLimits{Free: values[0], Pro: values[1], Enterprise: values[2]}, nil
}

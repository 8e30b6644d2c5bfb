package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

type Config struct {
	// Addr serves /metrics and /healthz.
	Addr string

	// UpstreamURL is the websocket endpoint of the AI interpretation backend.
	UpstreamURL string

	// DatabaseURL enables the postgres persistence store when non-empty.
	DatabaseURL string

	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration

	// ResponseGrace is the short window allowed for late transcript events
	// after the backend signals output finished.
	ResponseGrace time.Duration

	// ResponseCeiling bounds how long a translation unit may stay open after
	// response_begin, regardless of which transcript events arrive.
	ResponseCeiling time.Duration

	PersistTimeout      time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:        envOr("INTERP_ADDR", ":9090"),
		UpstreamURL: envOr("INTERP_UPSTREAM_URL", ""),
		DatabaseURL: envOr("INTERP_DATABASE_URL", ""),
	}

	durations := []struct {
		key string
		def time.Duration
		dst *time.Duration
	}{
		{"INTERP_HANDSHAKE_TIMEOUT", 5 * time.Second, &cfg.HandshakeTimeout},
		{"INTERP_WS_WRITE_TIMEOUT", 5 * time.Second, &cfg.WriteTimeout},
		{"INTERP_WS_PING_INTERVAL", 20 * time.Second, &cfg.PingInterval},
		{"INTERP_RESPONSE_GRACE", 1200 * time.Millisecond, &cfg.ResponseGrace},
		{"INTERP_RESPONSE_CEILING", 4 * time.Second, &cfg.ResponseCeiling},
		{"INTERP_PERSIST_TIMEOUT", 10 * time.Second, &cfg.PersistTimeout},
		{"INTERP_SHUTDOWN_GRACE_PERIOD", 15 * time.Second, &cfg.ShutdownGracePeriod},
	}
	for _, d := range durations {
		v, err := envDurationOr(d.key, d.def)
		if err != nil {
			return Config{}, err
		}
		*d.dst = v
	}

	if strings.TrimSpace(cfg.UpstreamURL) == "" {
		return Config{}, fmt.Errorf("INTERP_UPSTREAM_URL must be set")
	}
	if !strings.HasPrefix(cfg.UpstreamURL, "ws://") && !strings.HasPrefix(cfg.UpstreamURL, "wss://") {
		return Config{}, fmt.Errorf("INTERP_UPSTREAM_URL must be a ws:// or wss:// URL")
	}
	if cfg.HandshakeTimeout <= 0 {
		return Config{}, fmt.Errorf("INTERP_HANDSHAKE_TIMEOUT must be > 0")
	}
	if cfg.WriteTimeout <= 0 {
		return Config{}, fmt.Errorf("INTERP_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.PingInterval <= 0 {
		return Config{}, fmt.Errorf("INTERP_WS_PING_INTERVAL must be > 0")
	}
	if cfg.ResponseGrace <= 0 {
		return Config{}, fmt.Errorf("INTERP_RESPONSE_GRACE must be > 0")
	}
	if cfg.ResponseCeiling <= 0 {
		return Config{}, fmt.Errorf("INTERP_RESPONSE_CEILING must be > 0")
	}
	if cfg.ResponseGrace >= cfg.ResponseCeiling {
		return Config{}, fmt.Errorf("INTERP_RESPONSE_GRACE must be < INTERP_RESPONSE_CEILING")
	}
	if cfg.PersistTimeout <= 0 {
		return Config{}, fmt.Errorf("INTERP_PERSIST_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("INTERP_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envDurationOr(key string, def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q", key, raw)
	}
	return d, nil
}

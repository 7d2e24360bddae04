// Package config loads stammerd's environment-variable configuration.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the server's runtime configuration.
type Config struct {
	BindAddr       string
	SessionTimeout time.Duration
}

// FromEnv reads STAMMER_BIND_ADDR and STAMMER_SESSION_TIMEOUT_SECS, applying
// defaults of "localhost:8792" and 30 seconds respectively.
func FromEnv() Config {
	cfg := Config{
		BindAddr:       "localhost:8792",
		SessionTimeout: 30 * time.Second,
	}
	if v, ok := os.LookupEnv("STAMMER_BIND_ADDR"); ok && v != "" {
		cfg.BindAddr = v
	}
	if v, ok := os.LookupEnv("STAMMER_SESSION_TIMEOUT_SECS"); ok && v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.SessionTimeout = time.Duration(secs) * time.Second
		}
	}
	return cfg
}

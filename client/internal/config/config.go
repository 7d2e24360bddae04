// Package config loads stutterd's environment-variable configuration.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the client's runtime configuration.
type Config struct {
	ServerAddr     string
	SessionTimeout time.Duration
}

// FromEnv reads STUTTER_ADDR and STUTTER_SESSION_TIMEOUT_SECS, applying
// defaults of "localhost:8792" and 30 seconds respectively.
func FromEnv() Config {
	cfg := Config{
		ServerAddr:     "localhost:8792",
		SessionTimeout: 30 * time.Second,
	}
	if v, ok := os.LookupEnv("STUTTER_ADDR"); ok && v != "" {
		cfg.ServerAddr = v
	}
	if v, ok := os.LookupEnv("STUTTER_SESSION_TIMEOUT_SECS"); ok && v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.SessionTimeout = time.Duration(secs) * time.Second
		}
	}
	return cfg
}

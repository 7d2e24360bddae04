package config

import (
	"testing"
	"time"
)

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("STUTTER_ADDR", "")
	t.Setenv("STUTTER_SESSION_TIMEOUT_SECS", "")

	cfg := FromEnv()
	if cfg.ServerAddr != "localhost:8792" {
		t.Fatalf("expected default server addr, got %q", cfg.ServerAddr)
	}
	if cfg.SessionTimeout != 30*time.Second {
		t.Fatalf("expected default timeout of 30s, got %v", cfg.SessionTimeout)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("STUTTER_ADDR", "voice.example.com:64738")
	t.Setenv("STUTTER_SESSION_TIMEOUT_SECS", "45")

	cfg := FromEnv()
	if cfg.ServerAddr != "voice.example.com:64738" {
		t.Fatalf("expected overridden server addr, got %q", cfg.ServerAddr)
	}
	if cfg.SessionTimeout != 45*time.Second {
		t.Fatalf("expected overridden timeout of 45s, got %v", cfg.SessionTimeout)
	}
}

func TestFromEnvIgnoresInvalidTimeout(t *testing.T) {
	t.Setenv("STUTTER_SESSION_TIMEOUT_SECS", "not-a-number")
	cfg := FromEnv()
	if cfg.SessionTimeout != 30*time.Second {
		t.Fatalf("expected fallback to default on invalid value, got %v", cfg.SessionTimeout)
	}
}

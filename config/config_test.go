package config

import (
	"os"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, env := range []string{"NODE_NAME", "BROKER_URL", "REQUEST_TIMEOUT", "PREFETCH", "DEAD_LETTER_DSN", "LOG_LEVEL"} {
		os.Unsetenv(env)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("config_test - unexpected error: %v", err)
	}
	if cfg.NodeName != "messagecore-node" {
		t.Errorf("config_test - NodeName = %q, want default", cfg.NodeName)
	}
	if cfg.BrokerURL != "nats://127.0.0.1:4222" {
		t.Errorf("config_test - BrokerURL = %q, want default", cfg.BrokerURL)
	}
	if cfg.RequestTimeout != 25*time.Second {
		t.Errorf("config_test - RequestTimeout = %v, want 25s", cfg.RequestTimeout)
	}
	if cfg.Prefetch != 16 {
		t.Errorf("config_test - Prefetch = %d, want 16", cfg.Prefetch)
	}
	if cfg.DeadLetterDSN != "" {
		t.Errorf("config_test - DeadLetterDSN = %q, want empty", cfg.DeadLetterDSN)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("config_test - LogLevel = %q, want info", cfg.LogLevel)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("config_test - defaults should validate: %v", err)
	}
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	clearEnv(t)
	overrides := map[string]string{
		"NODE_NAME":       "worker-1",
		"BROKER_URL":      "nats://broker:4222",
		"REQUEST_TIMEOUT": "5s",
		"PREFETCH":        "4",
		"DEAD_LETTER_DSN": "postgres://user@localhost/db",
		"LOG_LEVEL":       "debug",
	}
	for k, v := range overrides {
		os.Setenv(k, v)
	}
	defer clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("config_test - unexpected error: %v", err)
	}
	if cfg.NodeName != "worker-1" {
		t.Errorf("config_test - NodeName = %q, want worker-1", cfg.NodeName)
	}
	if cfg.RequestTimeout != 5*time.Second {
		t.Errorf("config_test - RequestTimeout = %v, want 5s", cfg.RequestTimeout)
	}
	if cfg.Prefetch != 4 {
		t.Errorf("config_test - Prefetch = %d, want 4", cfg.Prefetch)
	}
	if cfg.DeadLetterDSN != "postgres://user@localhost/db" {
		t.Errorf("config_test - DeadLetterDSN = %q, unexpected", cfg.DeadLetterDSN)
	}
}

func TestConfig_ValidateRejectsBadValues(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("config_test - unexpected error: %v", err)
	}

	cfg.NodeName = ""
	if err := cfg.Validate(); err == nil {
		t.Error("config_test - expected empty NodeName to fail validation")
	}
	cfg.NodeName = "n"

	cfg.RequestTimeout = 0
	if err := cfg.Validate(); err == nil {
		t.Error("config_test - expected zero RequestTimeout to fail validation")
	}
	cfg.RequestTimeout = time.Second

	cfg.Prefetch = 0
	if err := cfg.Validate(); err == nil {
		t.Error("config_test - expected zero Prefetch to fail validation")
	}
}

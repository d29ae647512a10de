package config

import (
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("LINGO_AUTH_SECRET", "test-secret")
	t.Setenv("LINGO_ENGINE_API_KEY", "ek_test")
	t.Setenv("LINGO_DATABASE_URL", "postgres://localhost/lingopod_test")
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error: %v", err)
	}
	if cfg.Addr != ":8080" {
		t.Fatalf("Addr=%q, want :8080", cfg.Addr)
	}
	if cfg.QueueCapacity != 64 || cfg.QueueWorkers != 4 {
		t.Fatalf("queue=%d/%d, want 64/4", cfg.QueueCapacity, cfg.QueueWorkers)
	}
	if cfg.DefaultTurnsRequired != 7 {
		t.Fatalf("DefaultTurnsRequired=%d, want 7", cfg.DefaultTurnsRequired)
	}
	if cfg.EngineConnectTimeout != 10*time.Second {
		t.Fatalf("EngineConnectTimeout=%v, want 10s", cfg.EngineConnectTimeout)
	}
	if len(cfg.AllowedOrigins) != 0 {
		t.Fatalf("AllowedOrigins=%v, want empty", cfg.AllowedOrigins)
	}
}

func TestLoadFromEnv_MissingSecretRejected(t *testing.T) {
	t.Setenv("LINGO_AUTH_SECRET", "")
	t.Setenv("LINGO_ENGINE_API_KEY", "ek_test")
	t.Setenv("LINGO_DATABASE_URL", "postgres://localhost/lingopod_test")

	if _, err := LoadFromEnv(); err == nil {
		t.Fatalf("expected error when LINGO_AUTH_SECRET is unset")
	}
}

func TestLoadFromEnv_AuthDisabledSkipsSecret(t *testing.T) {
	t.Setenv("LINGO_AUTH_SECRET", "")
	t.Setenv("LINGO_AUTH_DISABLED", "true")
	t.Setenv("LINGO_ENGINE_API_KEY", "ek_test")
	t.Setenv("LINGO_DATABASE_URL", "postgres://localhost/lingopod_test")

	if _, err := LoadFromEnv(); err != nil {
		t.Fatalf("LoadFromEnv() error: %v", err)
	}
}

func TestLoadFromEnv_OriginsCSV(t *testing.T) {
	setRequired(t)
	t.Setenv("LINGO_ALLOWED_ORIGINS", "https://app.example.com, https://staging.example.com ,")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error: %v", err)
	}
	if len(cfg.AllowedOrigins) != 2 {
		t.Fatalf("AllowedOrigins=%v, want 2 entries", cfg.AllowedOrigins)
	}
	if _, ok := cfg.AllowedOrigins["https://app.example.com"]; !ok {
		t.Fatalf("missing app origin: %v", cfg.AllowedOrigins)
	}
}

func TestLoadFromEnv_InvalidNumbersFallBack(t *testing.T) {
	setRequired(t)
	t.Setenv("LINGO_QUEUE_CAPACITY", "not-a-number")
	t.Setenv("LINGO_JOB_TIMEOUT", "bogus")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error: %v", err)
	}
	if cfg.QueueCapacity != 64 {
		t.Fatalf("QueueCapacity=%d, want default 64", cfg.QueueCapacity)
	}
	if cfg.JobTimeout != 30*time.Second {
		t.Fatalf("JobTimeout=%v, want default 30s", cfg.JobTimeout)
	}
}

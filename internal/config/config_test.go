package config

import (
	"testing"
	"time"
)

var envKeys = []string{
	"APP_ENV", "STORE_BACKEND", "DATABASE_URL", "REDIS_URL", "JWT_SECRET", "ADMIN_API_KEY",
	"TOKEN_TTL", "IDEMPOTENCY_TTL", "IDEMPOTENCY_TTL_SECONDS", "SHUTDOWN_TIMEOUT",
	"SHUTDOWN_TIMEOUT_SECONDS", "TRIGGER_WORKERS", "TRIGGER_QUEUE", "LOGIN_RATE_PER_MIN",
	"S3_BUCKET", "S3_ACCESS_KEY", "S3_SECRET_KEY", "PORT",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StoreBackend != BackendMemory {
		t.Fatalf("expected memory backend, got %q", cfg.StoreBackend)
	}
	if cfg.IdempotencyTTL != 24*time.Hour || cfg.TokenTTL != time.Hour {
		t.Fatalf("unexpected ttls: %v %v", cfg.IdempotencyTTL, cfg.TokenTTL)
	}
	if cfg.TriggerWorkers != defaultTriggerWorkers || cfg.LoginRate != defaultLoginRatePerMin {
		t.Fatalf("unexpected worker/rate defaults: %d %d", cfg.TriggerWorkers, cfg.LoginRate)
	}
	if cfg.Address() != ":8080" {
		t.Fatalf("unexpected address %q", cfg.Address())
	}
}

func TestLoadParsesDurations(t *testing.T) {
	clearEnv(t)
	t.Setenv("IDEMPOTENCY_TTL_SECONDS", "90")
	t.Setenv("IDEMPOTENCY_TTL", "1h")
	t.Setenv("SHUTDOWN_TIMEOUT", "3s")
	t.Setenv("PORT", ":9000")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.IdempotencyTTL != 90*time.Second {
		t.Fatalf("seconds variable should win, got %v", cfg.IdempotencyTTL)
	}
	if cfg.ShutdownPeriod != 3*time.Second {
		t.Fatalf("expected 3s shutdown, got %v", cfg.ShutdownPeriod)
	}
	if cfg.Address() != ":9000" {
		t.Fatalf("unexpected address %q", cfg.Address())
	}
}

func TestLoadValidation(t *testing.T) {
	cases := map[string]map[string]string{
		"redis without url":    {"STORE_BACKEND": "redis"},
		"postgres without url": {"STORE_BACKEND": "postgres"},
		"unknown backend":      {"STORE_BACKEND": "etcd"},
		"bad duration":         {"TOKEN_TTL": "soon"},
		"zero workers":         {"TRIGGER_WORKERS": "0"},
		"production secret":    {"APP_ENV": "production"},
		"production admin key": {"APP_ENV": "production", "JWT_SECRET": "s3cret"},
		"production redis":     {"APP_ENV": "production", "JWT_SECRET": "s3cret", "ADMIN_API_KEY": "admin"},
		"half s3 credentials":  {"S3_BUCKET": "photos", "S3_ACCESS_KEY": "key"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatalf("expected an error")
			}
		})
	}
}

func TestLoadPostgresBackend(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORE_BACKEND", "Postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/timebank")
	t.Setenv("APP_ENV", "production")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("ADMIN_API_KEY", "admin")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StoreBackend != BackendPostgres || cfg.IsDev() {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

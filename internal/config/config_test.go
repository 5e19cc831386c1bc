package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

var allKeys = []string{
	"CONFIG_FILE",
	"HTTP_ADDR", "HTTP_READ_TIMEOUT_SEC", "HTTP_WRITE_TIMEOUT_SEC", "HTTP_SHUTDOWN_TIMEOUT_SEC",
	"API_BASE_URL", "API_TIMEOUT_SEC", "API_RATE_LIMIT_RPS", "API_RATE_BURST",
	"STATE_FILE", "DATABASE_URL", "REDIS_ADDR", "CREDENTIAL_KEY", "SESSION_KEY",
	"PAYMENT_COUNTDOWN", "PAYMENT_TICK_MS", "PAYMENT_MIDPOINT", "PAYMENT_PROCESSING_DELAY_MS",
	"CHECKOUT_COMMIT_TIMEOUT_SEC", "CHECKOUT_RETENTION_SEC",
	"KAFKA_BROKERS", "KAFKA_TOPIC", "KAFKA_BUFFER",
	"AUDIT_LOG_FILE", "LOG_LEVEL",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range allKeys {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.HTTP.Addr != ":8080" {
		t.Fatalf("expected default HTTP addr :8080, got %q", cfg.HTTP.Addr)
	}
	if cfg.HTTP.ReadTimeout != 10*time.Second {
		t.Fatalf("expected default read timeout 10s, got %v", cfg.HTTP.ReadTimeout)
	}
	if cfg.HTTP.WriteTimeout <= cfg.Payment.CommitTimeout {
		t.Fatalf("expected write timeout %v above commit timeout %v", cfg.HTTP.WriteTimeout, cfg.Payment.CommitTimeout)
	}
	if cfg.Payment.Retention != time.Minute {
		t.Fatalf("expected 1m checkout retention, got %v", cfg.Payment.Retention)
	}
	if cfg.HTTP.ShutdownTimeout != 20*time.Second {
		t.Fatalf("expected default shutdown timeout 20s, got %v", cfg.HTTP.ShutdownTimeout)
	}
	if cfg.Backend.BaseURL != "http://localhost:8000/api" {
		t.Fatalf("expected default api base url, got %q", cfg.Backend.BaseURL)
	}
	if cfg.Backend.RateLimit != 0 {
		t.Fatalf("expected rate limiting off by default, got %v", cfg.Backend.RateLimit)
	}
	if cfg.Storage.StateFile != "./data/client_state.json" {
		t.Fatalf("expected default state file, got %q", cfg.Storage.StateFile)
	}
	if cfg.Storage.CredentialKey != "token" || cfg.Storage.SessionKey != "user" {
		t.Fatalf("expected slot keys token/user, got %q/%q", cfg.Storage.CredentialKey, cfg.Storage.SessionKey)
	}
	if cfg.Payment.Countdown != 20 || cfg.Payment.Midpoint != 10 {
		t.Fatalf("expected countdown 20 midpoint 10, got %d/%d", cfg.Payment.Countdown, cfg.Payment.Midpoint)
	}
	if cfg.Payment.TickInterval != time.Second {
		t.Fatalf("expected 1s tick, got %v", cfg.Payment.TickInterval)
	}
	if cfg.Payment.ProcessingDelay != 1500*time.Millisecond {
		t.Fatalf("expected 1.5s processing delay, got %v", cfg.Payment.ProcessingDelay)
	}
	if cfg.Kafka.Enabled() {
		t.Fatalf("expected kafka disabled by default")
	}
	if cfg.AuditLogFile != "./data/audit.log" {
		t.Fatalf("expected default audit log file ./data/audit.log, got %q", cfg.AuditLogFile)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("expected default log level info, got %q", cfg.LogLevel)
	}
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("API_BASE_URL", "https://shop.example.com/api/")
	t.Setenv("API_RATE_LIMIT_RPS", "20")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("PAYMENT_COUNTDOWN", "6")
	t.Setenv("PAYMENT_MIDPOINT", "3")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.HTTP.Addr != ":9090" {
		t.Fatalf("expected :9090, got %q", cfg.HTTP.Addr)
	}
	if cfg.Backend.BaseURL != "https://shop.example.com/api" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.Backend.BaseURL)
	}
	if cfg.Backend.RateLimit != 20 {
		t.Fatalf("expected rate limit 20, got %v", cfg.Backend.RateLimit)
	}
	if cfg.Storage.RedisAddr != "localhost:6379" {
		t.Fatalf("expected redis addr, got %q", cfg.Storage.RedisAddr)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "k2:9092" {
		t.Fatalf("unexpected brokers %v", cfg.Kafka.Brokers)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := map[string]map[string]string{
		"relative base url":             {"API_BASE_URL": "localhost:8000"},
		"midpoint too late":             {"PAYMENT_COUNTDOWN": "5", "PAYMENT_MIDPOINT": "5"},
		"same slot keys":                {"CREDENTIAL_KEY": "state", "SESSION_KEY": "state"},
		"commit outlasts write timeout": {"HTTP_WRITE_TIMEOUT_SEC": "15", "CHECKOUT_COMMIT_TIMEOUT_SEC": "15"},
		"negative retention":            {"CHECKOUT_RETENTION_SEC": "-1"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestLoadYAMLFileUnderEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "shopclient.yaml")
	body := "api_base_url: http://backend:8000/api\npayment_countdown: 30\npayment_midpoint: 15\nkafka_brokers:\n  - k1:9092\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PAYMENT_COUNTDOWN", "40")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.Backend.BaseURL != "http://backend:8000/api" {
		t.Fatalf("expected base url from file, got %q", cfg.Backend.BaseURL)
	}
	if cfg.Payment.Countdown != 40 {
		t.Fatalf("expected env to win over file, got %d", cfg.Payment.Countdown)
	}
	if cfg.Payment.Midpoint != 15 {
		t.Fatalf("expected midpoint from file, got %d", cfg.Payment.Midpoint)
	}
	if len(cfg.Kafka.Brokers) != 1 {
		t.Fatalf("expected brokers from file, got %v", cfg.Kafka.Brokers)
	}
}

func TestLoadMissingYAMLFileIsIgnored(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "absent.yaml"))
	if _, err := Load(); err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
}

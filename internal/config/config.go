package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTP         HTTPConfig
	Backend      BackendConfig
	Storage      StorageConfig
	Payment      PaymentConfig
	Kafka        KafkaConfig
	AuditLogFile string
	LogLevel     string
}

type HTTPConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type BackendConfig struct {
	BaseURL   string
	Timeout   time.Duration
	RateLimit float64
	RateBurst int
}

// StorageConfig selects where the credential and session slots live:
// Postgres when DatabaseURL is set, else Redis when RedisAddr is set, else
// the JSON StateFile.
type StorageConfig struct {
	StateFile     string
	DatabaseURL   string
	RedisAddr     string
	CredentialKey string
	SessionKey    string
}

type PaymentConfig struct {
	Countdown       int
	TickInterval    time.Duration
	Midpoint        int
	ProcessingDelay time.Duration
	CommitTimeout   time.Duration
	Retention       time.Duration
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
	Buffer  int
}

func (k KafkaConfig) Enabled() bool { return len(k.Brokers) > 0 }

// Load reads the environment. Keys missing from the environment fall back to
// the YAML file named by CONFIG_FILE, then to built-in defaults.
func Load() (Config, error) {
	src, err := newSource(os.Getenv("CONFIG_FILE"))
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		HTTP: HTTPConfig{
			Addr:            src.getEnv("HTTP_ADDR", ":8080"),
			ReadTimeout:     time.Duration(src.getEnvInt("HTTP_READ_TIMEOUT_SEC", 10)) * time.Second,
			WriteTimeout:    time.Duration(src.getEnvInt("HTTP_WRITE_TIMEOUT_SEC", 30)) * time.Second,
			ShutdownTimeout: time.Duration(src.getEnvInt("HTTP_SHUTDOWN_TIMEOUT_SEC", 20)) * time.Second,
		},
		Backend: BackendConfig{
			BaseURL:   strings.TrimRight(src.getEnv("API_BASE_URL", "http://localhost:8000/api"), "/"),
			Timeout:   time.Duration(src.getEnvInt("API_TIMEOUT_SEC", 10)) * time.Second,
			RateLimit: float64(src.getEnvInt("API_RATE_LIMIT_RPS", 0)),
			RateBurst: src.getEnvInt("API_RATE_BURST", 5),
		},
		Storage: StorageConfig{
			StateFile:     src.getEnv("STATE_FILE", "./data/client_state.json"),
			DatabaseURL:   src.getEnv("DATABASE_URL", ""),
			RedisAddr:     src.getEnv("REDIS_ADDR", ""),
			CredentialKey: src.getEnv("CREDENTIAL_KEY", "token"),
			SessionKey:    src.getEnv("SESSION_KEY", "user"),
		},
		Payment: PaymentConfig{
			Countdown:       src.getEnvInt("PAYMENT_COUNTDOWN", 20),
			TickInterval:    time.Duration(src.getEnvInt("PAYMENT_TICK_MS", 1000)) * time.Millisecond,
			Midpoint:        src.getEnvInt("PAYMENT_MIDPOINT", 10),
			ProcessingDelay: time.Duration(src.getEnvInt("PAYMENT_PROCESSING_DELAY_MS", 1500)) * time.Millisecond,
			CommitTimeout:   time.Duration(src.getEnvInt("CHECKOUT_COMMIT_TIMEOUT_SEC", 15)) * time.Second,
			Retention:       time.Duration(src.getEnvInt("CHECKOUT_RETENTION_SEC", 60)) * time.Second,
		},
		Kafka: KafkaConfig{
			Brokers: src.getEnvList("KAFKA_BROKERS"),
			Topic:   src.getEnv("KAFKA_TOPIC", "shopclient.checkout"),
			Buffer:  src.getEnvInt("KAFKA_BUFFER", 256),
		},
		AuditLogFile: src.getEnv("AUDIT_LOG_FILE", "./data/audit.log"),
		LogLevel:     src.getEnv("LOG_LEVEL", "info"),
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg Config) validate() error {
	if cfg.HTTP.Addr == "" {
		return fmt.Errorf("HTTP_ADDR must not be empty")
	}
	u, err := url.Parse(cfg.Backend.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("API_BASE_URL must be an absolute http(s) url, got %q", cfg.Backend.BaseURL)
	}
	if cfg.Backend.Timeout <= 0 {
		return fmt.Errorf("API_TIMEOUT_SEC must be > 0")
	}
	if cfg.Backend.RateLimit < 0 {
		return fmt.Errorf("API_RATE_LIMIT_RPS must be >= 0")
	}
	if cfg.Backend.RateLimit > 0 && cfg.Backend.RateBurst <= 0 {
		return fmt.Errorf("API_RATE_BURST must be > 0 when rate limiting is enabled")
	}
	if cfg.Storage.DatabaseURL == "" && cfg.Storage.RedisAddr == "" && cfg.Storage.StateFile == "" {
		return fmt.Errorf("STATE_FILE must not be empty without DATABASE_URL or REDIS_ADDR")
	}
	if cfg.Storage.CredentialKey == "" {
		return fmt.Errorf("CREDENTIAL_KEY must not be empty")
	}
	if cfg.Storage.SessionKey == "" {
		return fmt.Errorf("SESSION_KEY must not be empty")
	}
	if cfg.Storage.CredentialKey == cfg.Storage.SessionKey {
		return fmt.Errorf("CREDENTIAL_KEY and SESSION_KEY must differ")
	}
	if cfg.Payment.Countdown <= 0 {
		return fmt.Errorf("PAYMENT_COUNTDOWN must be > 0")
	}
	if cfg.Payment.TickInterval <= 0 {
		return fmt.Errorf("PAYMENT_TICK_MS must be > 0")
	}
	if cfg.Payment.Midpoint < 0 || cfg.Payment.Midpoint >= cfg.Payment.Countdown {
		return fmt.Errorf("PAYMENT_MIDPOINT must be in [0, PAYMENT_COUNTDOWN)")
	}
	if cfg.Payment.ProcessingDelay < 0 {
		return fmt.Errorf("PAYMENT_PROCESSING_DELAY_MS must be >= 0")
	}
	if cfg.Payment.CommitTimeout <= 0 {
		return fmt.Errorf("CHECKOUT_COMMIT_TIMEOUT_SEC must be > 0")
	}
	// A manual check after expiry commits inside the request.
	if cfg.HTTP.WriteTimeout <= cfg.Payment.CommitTimeout {
		return fmt.Errorf("HTTP_WRITE_TIMEOUT_SEC must exceed CHECKOUT_COMMIT_TIMEOUT_SEC")
	}
	if cfg.Payment.Retention < 0 {
		return fmt.Errorf("CHECKOUT_RETENTION_SEC must be >= 0")
	}
	if cfg.Kafka.Enabled() && cfg.Kafka.Topic == "" {
		return fmt.Errorf("KAFKA_TOPIC must not be empty when KAFKA_BROKERS is set")
	}
	return nil
}

// source resolves keys from the environment first, then from the optional
// YAML file.
type source struct {
	file map[string]string
}

func newSource(path string) (source, error) {
	src := source{file: map[string]string{}}
	if path == "" {
		return src, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return src, nil
		}
		return src, fmt.Errorf("read CONFIG_FILE: %w", err)
	}
	var values map[string]any
	if err := yaml.Unmarshal(raw, &values); err != nil {
		return src, fmt.Errorf("parse CONFIG_FILE %s: %w", path, err)
	}
	for k, v := range values {
		switch tv := v.(type) {
		case nil:
		case []any:
			parts := make([]string, 0, len(tv))
			for _, p := range tv {
				parts = append(parts, fmt.Sprint(p))
			}
			src.file[strings.ToUpper(k)] = strings.Join(parts, ",")
		default:
			src.file[strings.ToUpper(k)] = fmt.Sprint(tv)
		}
	}
	return src, nil
}

func (s source) lookup(key string) (string, bool) {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val, true
	}
	val, ok := s.file[key]
	return val, ok && val != ""
}

func (s source) getEnv(key, fallback string) string {
	val, ok := s.lookup(key)
	if !ok {
		return fallback
	}
	return val
}

func (s source) getEnvInt(key string, fallback int) int {
	val, ok := s.lookup(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return n
}

func (s source) getEnvList(key string) []string {
	val, ok := s.lookup(key)
	if !ok {
		return nil
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

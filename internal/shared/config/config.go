package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	API          APIConfig
	Storage      StorageConfig
	Database     DatabaseConfig
	Sync         SyncConfig
	Reachability ReachabilityConfig
	Session      SessionConfig
	Classifier   ClassifierConfig
	Status       StatusConfig
	Log          LogConfig
	Telemetry    TelemetryConfig
}

type APIConfig struct {
	BaseURL string
	Timeout time.Duration
}

type StorageConfig struct {
	Backend  string
	Path     string
	RedisURL string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type SyncConfig struct {
	MaxRetries   int
	BaseDelay    time.Duration
	Interval     time.Duration
	RunOnStartup bool
	// ReplayRate caps replays per second; 0 disables pacing.
	ReplayRate float64
}

type ReachabilityConfig struct {
	ProbeURL  string
	ProbeAddr string
	Interval  time.Duration
	Timeout   time.Duration
}

type SessionConfig struct {
	Key string
}

type ClassifierConfig struct {
	URL     string
	Timeout time.Duration
}

type StatusConfig struct {
	Addr           string
	AllowedHosts   []string
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

type TelemetryConfig struct {
	Enabled      bool
	ServiceName  string
	Environment  string
	OTLPEndpoint string
	MetricsPort  string
}

// Storage backends accepted by STORAGE_BACKEND.
const (
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

func Load() (*Config, error) {
	dbPort, err := strconv.Atoi(getEnv("DB_PORT", "5432"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_PORT: %w", err)
	}

	apiTimeout, err := getDurationEnv("API_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}

	maxRetries, err := strconv.Atoi(getEnv("SYNC_MAX_RETRIES", "3"))
	if err != nil {
		return nil, fmt.Errorf("invalid SYNC_MAX_RETRIES: %w", err)
	}
	baseDelay, err := getDurationEnv("SYNC_BASE_DELAY", time.Second)
	if err != nil {
		return nil, err
	}
	syncInterval, err := getDurationEnv("SYNC_INTERVAL", 30*time.Second)
	if err != nil {
		return nil, err
	}
	replayRate, err := strconv.ParseFloat(getEnv("SYNC_REPLAY_RATE", "0"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid SYNC_REPLAY_RATE: %w", err)
	}

	probeInterval, err := getDurationEnv("REACHABILITY_INTERVAL", 10*time.Second)
	if err != nil {
		return nil, err
	}
	probeTimeout, err := getDurationEnv("REACHABILITY_TIMEOUT", 2*time.Second)
	if err != nil {
		return nil, err
	}

	classifierTimeout, err := getDurationEnv("CLASSIFIER_TIMEOUT", 3*time.Second)
	if err != nil {
		return nil, err
	}

	baseURL := strings.TrimRight(getEnv("API_URL", ""), "/")

	cfg := &Config{
		API: APIConfig{
			BaseURL: baseURL,
			Timeout: apiTimeout,
		},
		Storage: StorageConfig{
			Backend:  strings.ToLower(getEnv("STORAGE_BACKEND", BackendFile)),
			Path:     getEnv("STORAGE_PATH", "./data"),
			RedisURL: getEnv("REDIS_URL", "redis://localhost:6379/0"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     dbPort,
			User:     getEnv("DB_USER", "expensync"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "expensync"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Sync: SyncConfig{
			MaxRetries:   maxRetries,
			BaseDelay:    baseDelay,
			Interval:     syncInterval,
			RunOnStartup: getBoolEnv("SYNC_RUN_ON_STARTUP", true),
			ReplayRate:   replayRate,
		},
		Reachability: ReachabilityConfig{
			ProbeURL:  getEnv("REACHABILITY_PROBE_URL", defaultProbeURL(baseURL)),
			ProbeAddr: getEnv("REACHABILITY_PROBE_ADDR", ""),
			Interval:  probeInterval,
			Timeout:   probeTimeout,
		},
		Session: SessionConfig{
			Key: getEnv("SESSION_KEY", ""),
		},
		Classifier: ClassifierConfig{
			URL:     strings.TrimRight(getEnv("CLASSIFIER_URL", ""), "/"),
			Timeout: classifierTimeout,
		},
		Status: StatusConfig{
			Addr:           getEnv("STATUS_ADDR", "127.0.0.1:8787"),
			AllowedHosts:   getListEnv("STATUS_ALLOWED_HOSTS", "localhost,127.0.0.1,::1"),
			AllowedOrigins: getListEnv("STATUS_ALLOWED_ORIGINS", ""),
		},
		Log: LogConfig{
			Level:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
			Format: strings.ToLower(getEnv("LOG_FORMAT", "text")),
		},
		Telemetry: TelemetryConfig{
			Enabled:      getBoolEnv("OTEL_ENABLED", false),
			ServiceName:  getEnv("OTEL_SERVICE_NAME", "expensync"),
			Environment:  getEnv("ENVIRONMENT", "development"),
			OTLPEndpoint: getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4317"),
			MetricsPort:  getEnv("METRICS_PORT", "9464"),
		},
	}

	if cfg.API.BaseURL == "" {
		return nil, fmt.Errorf("API_URL is required")
	}
	if _, err := url.ParseRequestURI(cfg.API.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid API_URL: %w", err)
	}
	if cfg.Sync.MaxRetries < 1 {
		return nil, fmt.Errorf("SYNC_MAX_RETRIES must be at least 1")
	}
	if cfg.Sync.BaseDelay <= 0 {
		return nil, fmt.Errorf("SYNC_BASE_DELAY must be positive")
	}
	if cfg.Sync.ReplayRate < 0 {
		return nil, fmt.Errorf("SYNC_REPLAY_RATE must not be negative")
	}
	if cfg.Session.Key != "" && len(cfg.Session.Key) != 32 {
		return nil, fmt.Errorf("SESSION_KEY must be exactly 32 bytes")
	}

	switch cfg.Storage.Backend {
	case BackendFile, BackendSQLite, BackendRedis, BackendPostgres, BackendMemory:
	default:
		return nil, fmt.Errorf("unknown STORAGE_BACKEND %q", cfg.Storage.Backend)
	}

	return cfg, nil
}

func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

func defaultProbeURL(baseURL string) string {
	if baseURL == "" {
		return ""
	}
	return baseURL + "/health"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	// Accept: true, false, 1, 0, yes, no (case-insensitive)
	switch strings.ToLower(value) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return defaultValue
	}
}

// getListEnv splits a comma-separated value, dropping empty items.
func getListEnv(key, defaultValue string) []string {
	var out []string
	for _, item := range strings.Split(getEnv(key, defaultValue), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port           string
	FrontendURL    string
	DBPath         string
	NotesDir       string
	TranscriptFile string
	CatalogFile    string // optional YAML override for the embedded question catalog
	GRPCAddr       string // empty disables the gRPC health service

	QCLI            QCLIConfig
	Sessions        SessionConfig
	RateLimit       RateLimitConfig
	ConversationLog ConversationLogConfig

	MaxRequestBodySize int64
}

// QCLIConfig controls how the external Q CLI is invoked.
type QCLIConfig struct {
	Binary       string
	WorkDir      string
	Backend      string // "exec" or "docker"
	Container    string // container name when Backend is "docker"
	Timeout      time.Duration
	ProbeTimeout time.Duration
	ProbeCache   time.Duration
}

// SessionConfig controls assessment session lifecycle.
type SessionConfig struct {
	TTL           time.Duration
	ProcessTTL    time.Duration
	SweepSchedule string
}

// RateLimitConfig controls per-client chat throttling.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	notesDir := getEnv("NOTES_DIR", "./个人记忆")

	cfg := &Config{
		Port:           getEnv("PORT", "3001"),
		FrontendURL:    getEnv("FRONTEND_URL", ""),
		DBPath:         getEnv("DB_PATH", "./data/qmind.db"),
		NotesDir:       notesDir,
		TranscriptFile: getEnv("TRANSCRIPT_FILE", "老祖评测记录.md"),
		CatalogFile:    getEnv("CATALOG_FILE", ""),
		GRPCAddr:       getEnv("GRPC_ADDR", ""),
		QCLI: QCLIConfig{
			Binary:       getEnv("Q_BINARY", "q"),
			WorkDir:      getEnv("Q_WORKDIR", "."),
			Backend:      strings.ToLower(getEnv("Q_BACKEND", "exec")),
			Container:    getEnv("Q_CONTAINER", ""),
			Timeout:      getEnvDuration("Q_TIMEOUT", 60*time.Second),
			ProbeTimeout: getEnvDuration("Q_PROBE_TIMEOUT", 5*time.Second),
			ProbeCache:   getEnvDuration("Q_PROBE_CACHE", 15*time.Second),
		},
		Sessions: SessionConfig{
			TTL:           getEnvDuration("ASSESSMENT_SESSION_TTL", 24*time.Hour),
			ProcessTTL:    getEnvDuration("PROCESS_TTL", 10*time.Minute),
			SweepSchedule: getEnv("SWEEP_SCHEDULE", "@every 1m"),
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("RATE_LIMIT_REQUESTS", 20),
			WindowDuration:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		ConversationLog: ConversationLogConfig{
			Enabled:       getEnvBool("CONVERSATION_LOG_ENABLED", true),
			Dir:           getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			GlobalEnabled: getEnvBool("CONVERSATION_LOG_GLOBAL_ENABLED", true),
			GlobalPath:    getEnv("CONVERSATION_LOG_GLOBAL_PATH", "./data/logs/conversations/all.ndjson"),
			QueueSize:     queueSize,
		},
		MaxRequestBodySize: int64(getEnvInt("MAX_REQUEST_BODY", 10<<20)),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.NotesDir == "" {
		return fmt.Errorf("NOTES_DIR cannot be empty")
	}
	if c.QCLI.Binary == "" {
		return fmt.Errorf("Q_BINARY cannot be empty")
	}
	switch c.QCLI.Backend {
	case "exec":
	case "docker":
		if c.QCLI.Container == "" {
			return fmt.Errorf("Q_CONTAINER is required when Q_BACKEND=docker")
		}
	default:
		return fmt.Errorf("Q_BACKEND must be exec or docker, got %q", c.QCLI.Backend)
	}
	if c.QCLI.Timeout <= 0 || c.QCLI.ProbeTimeout <= 0 {
		return fmt.Errorf("Q_TIMEOUT and Q_PROBE_TIMEOUT must be > 0")
	}
	if c.Sessions.TTL <= 0 || c.Sessions.ProcessTTL <= 0 {
		return fmt.Errorf("ASSESSMENT_SESSION_TTL and PROCESS_TTL must be > 0")
	}
	if c.Sessions.SweepSchedule == "" {
		return fmt.Errorf("SWEEP_SCHEDULE cannot be empty")
	}
	if c.RateLimit.RequestsPerWindow <= 0 || c.RateLimit.WindowDuration <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be > 0")
	}
	if c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.GlobalPath == "" {
		return fmt.Errorf("CONVERSATION_LOG_GLOBAL_PATH cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return fmt.Errorf("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	if c.MaxRequestBodySize <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY must be > 0")
	}
	return nil
}

// TranscriptPath returns the absolute-or-relative path of the assessment transcript file.
func (c *Config) TranscriptPath() string {
	if filepath.IsAbs(c.TranscriptFile) {
		return c.TranscriptFile
	}
	return filepath.Join(c.NotesDir, c.TranscriptFile)
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

// getEnvDuration accepts Go duration strings ("90s") or bare milliseconds ("60000").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return fallback
}

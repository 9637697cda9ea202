// Package config loads chatdf settings from the environment and an optional YAML file.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration values.
type Config struct {
	// WebSocket address override. When set it is used verbatim.
	WSURL string `yaml:"ws_url"`

	// Origin of the page the client acts on behalf of. Scheme and host
	// are used to derive the socket address when WSURL is empty.
	PageURL string `yaml:"page_url"`

	// REST API base
	APIURL string `yaml:"api_url"`

	// Credential appended as ?token= and sent as bearer to the REST API
	Token string `yaml:"token"`

	// Reconnect backoff
	BackoffFloor     time.Duration `yaml:"backoff_floor"`
	BackoffCeiling   time.Duration `yaml:"backoff_ceiling"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`

	// Logging
	LogFile  string     `yaml:"log_file"`
	LogLevel slog.Level `yaml:"-"`
}

// fileConfig mirrors the YAML layout; durations and levels are strings there.
type fileConfig struct {
	WSURL            string `yaml:"ws_url"`
	PageURL          string `yaml:"page_url"`
	APIURL           string `yaml:"api_url"`
	Token            string `yaml:"token"`
	BackoffFloor     string `yaml:"backoff_floor"`
	BackoffCeiling   string `yaml:"backoff_ceiling"`
	HandshakeTimeout string `yaml:"handshake_timeout"`
	LogFile          string `yaml:"log_file"`
	LogLevel         string `yaml:"log_level"`
}

// Defaults
const (
	DefaultPageURL          = "http://localhost:8000"
	DefaultBackoffFloor     = time.Second
	DefaultBackoffCeiling   = 30 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultLogFile          = "/tmp/chatdf.log"
)

// Load reads configuration from environment variables.
func Load() Config {
	cfg, _ := LoadFile("")
	return cfg
}

// LoadFile reads the YAML file at path (if non-empty), then applies
// environment variables on top. A missing path falls back to CHATDF_CONFIG.
func LoadFile(path string) (Config, error) {
	if path == "" {
		path = os.Getenv("CHATDF_CONFIG")
	}

	var fc fileConfig
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return fromFile(fc), fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return fromFile(fileConfig{}), fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	return fromFile(fc), nil
}

func fromFile(fc fileConfig) Config {
	pageURL := getEnv("CHATDF_PAGE_URL", or(fc.PageURL, DefaultPageURL))

	cfg := Config{
		WSURL:   getEnv("CHATDF_WS_URL", fc.WSURL),
		PageURL: pageURL,
		APIURL:  getEnv("CHATDF_API_URL", or(fc.APIURL, strings.TrimSuffix(pageURL, "/")+"/api")),
		Token:   getEnv("CHATDF_TOKEN", fc.Token),

		BackoffFloor:     parseDuration(getEnv("CHATDF_BACKOFF_FLOOR", fc.BackoffFloor), DefaultBackoffFloor),
		BackoffCeiling:   parseDuration(getEnv("CHATDF_BACKOFF_CEILING", fc.BackoffCeiling), DefaultBackoffCeiling),
		HandshakeTimeout: parseDuration(getEnv("CHATDF_HANDSHAKE_TIMEOUT", fc.HandshakeTimeout), DefaultHandshakeTimeout),

		LogFile:  getEnv("CHATDF_LOG_FILE", or(fc.LogFile, DefaultLogFile)),
		LogLevel: parseLogLevel(getEnv("CHATDF_LOG_LEVEL", or(fc.LogLevel, "INFO"))),
	}

	if cfg.BackoffCeiling < cfg.BackoffFloor {
		cfg.BackoffCeiling = cfg.BackoffFloor
	}
	return cfg
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func or(val, defaultVal string) string {
	if val != "" {
		return val
	}
	return defaultVal
}

func parseDuration(s string, defaultVal time.Duration) time.Duration {
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

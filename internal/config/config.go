package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds process configuration for the tabpanel controller.
type Config struct {
	// CDP connection settings
	CDPAddress string
	CDPPort    int

	// Control API
	BindAddr         string
	PortCandidates   []string
	PortAutoFallback bool
	EvalTimeoutMS    int
	VerifyDelayMS    int
	ModalSettleMS    int
	BackendURL       string
	BackendTimeoutMS int
	SettingsFile     string

	// Storage
	DBPath         string
	CanvasDir      string
	JournalDir     string
	JournalEnabled bool

	// Logging
	LogLevel string
	LogFile  string

	// Optional browser launch
	LaunchBrowser bool
	ProfileDir    string
	StartURL      string
}

// Load reads configuration from environment variables and an optional .env file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	cfg := &Config{
		CDPAddress:       getEnvOrDefault("CHROMIUM_CDP_ADDRESS", "127.0.0.1"),
		CDPPort:          getEnvIntOrDefault("CHROMIUM_CDP_PORT", 9220),
		BindAddr:         getEnvOrDefault("TABPANEL_BIND_ADDR", "127.0.0.1:8190"),
		PortCandidates:   splitList(getEnvOrDefault("TABPANEL_PORT_CANDIDATES", "127.0.0.1:8191,127.0.0.1:8192,127.0.0.1:8193")),
		PortAutoFallback: getEnvBoolOrDefault("TABPANEL_PORT_AUTO_FALLBACK", true),
		EvalTimeoutMS:    getEnvIntOrDefault("TABPANEL_EVAL_TIMEOUT_MS", 5000),
		VerifyDelayMS:    getEnvIntOrDefault("TABPANEL_VERIFY_DELAY_MS", 500),
		ModalSettleMS:    getEnvIntOrDefault("TABPANEL_MODAL_SETTLE_MS", 150),
		BackendURL:       getEnvOrDefault("TABPANEL_BACKEND_URL", DefaultBackendURL),
		BackendTimeoutMS: getEnvIntOrDefault("TABPANEL_BACKEND_TIMEOUT_MS", 30000),
		SettingsFile:     getEnvOrDefault("TABPANEL_SETTINGS_FILE", "./config/settings.yaml"),
		DBPath:           getEnvOrDefault("TABPANEL_DB_PATH", "./data/tabpanel.db"),
		CanvasDir:        getEnvOrDefault("TABPANEL_CANVAS_DIR", "./data/canvas"),
		JournalDir:       getEnvOrDefault("TABPANEL_JOURNAL_DIR", "./data/journal"),
		JournalEnabled:   getEnvBoolOrDefault("TABPANEL_JOURNAL_ENABLED", true),
		LogLevel:         strings.ToLower(getEnvOrDefault("TABPANEL_LOG_LEVEL", "info")),
		LogFile:          getEnvOrDefault("TABPANEL_LOG_FILE", "logs/tabpanel.log"),
		LaunchBrowser:    getEnvBoolOrDefault("TABPANEL_LAUNCH_BROWSER", false),
		ProfileDir:       getEnvOrDefault("TABPANEL_PROFILE_DIR", ""),
		StartURL:         getEnvOrDefault("TABPANEL_START_URL", "about:blank"),
	}
	if cfg.EvalTimeoutMS < 1000 {
		cfg.EvalTimeoutMS = 1000
	}
	if cfg.VerifyDelayMS < 0 {
		cfg.VerifyDelayMS = 0
	}
	if cfg.ModalSettleMS < 0 {
		cfg.ModalSettleMS = 0
	}
	if cfg.BackendTimeoutMS < 1000 {
		cfg.BackendTimeoutMS = 1000
	}
	if cfg.CDPPort <= 0 || cfg.CDPPort > 65535 {
		return nil, fmt.Errorf("CHROMIUM_CDP_PORT out of range: %d", cfg.CDPPort)
	}
	return cfg, nil
}

// CDPURL returns the DevTools HTTP endpoint, e.g. http://127.0.0.1:9220.
func (c *Config) CDPURL() string {
	return "http://" + c.CDPAddress + ":" + strconv.Itoa(c.CDPPort)
}

func (c *Config) EvalTimeout() time.Duration {
	return time.Duration(c.EvalTimeoutMS) * time.Millisecond
}

func (c *Config) VerifyDelay() time.Duration {
	return time.Duration(c.VerifyDelayMS) * time.Millisecond
}

func (c *Config) ModalSettle() time.Duration {
	return time.Duration(c.ModalSettleMS) * time.Millisecond
}

func (c *Config) BackendTimeout() time.Duration {
	return time.Duration(c.BackendTimeoutMS) * time.Millisecond
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

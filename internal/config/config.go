package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/dgnsrekt/idlocator/internal/netutil"
)

const minEvalTimeoutMS = 1000

// Config holds all configuration for the locator service.
type Config struct {
	// CDP connection settings
	CDPAddress string
	CDPPort    int

	// Control API
	BindAddr         string
	PortCandidates   []string
	PortAutoFallback bool

	// Page attachment
	TabURLFilter  string
	EvalTimeoutMS int

	// Resolution service
	ResolverURL       string
	ResolverTimeoutMS int

	// Overlay
	LabelTallPX int

	// Files
	SettingsFile     string
	HistoryDir       string
	HistoryMaxSizeMB int

	// Logging
	LogLevel string
	LogFile  string

	// Browser launch
	LaunchBrowser bool
	StartURL      string
	ProfileDir    string
}

// Load reads configuration from environment variables and optional .env file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	cfg := &Config{
		CDPAddress:        getEnvOrDefault("CHROMIUM_CDP_ADDRESS", "127.0.0.1"),
		CDPPort:           getEnvIntOrDefault("CHROMIUM_CDP_PORT", 9220),
		BindAddr:          getEnvOrDefault("LOCATOR_BIND_ADDR", "127.0.0.1:8190"),
		PortCandidates:    netutil.ParseAddrList(getEnvOrDefault("LOCATOR_PORT_CANDIDATES", "127.0.0.1:8191,127.0.0.1:8192")),
		PortAutoFallback:  getEnvBoolOrDefault("LOCATOR_PORT_AUTO_FALLBACK", true),
		TabURLFilter:      getEnvOrDefault("LOCATOR_TAB_URL_FILTER", ""),
		EvalTimeoutMS:     getEnvIntOrDefault("LOCATOR_EVAL_TIMEOUT_MS", 5000),
		ResolverURL:       getEnvOrDefault("LOCATOR_RESOLVER_URL", "http://localhost:12800"),
		ResolverTimeoutMS: getEnvIntOrDefault("LOCATOR_RESOLVER_TIMEOUT_MS", 30000),
		SettingsFile:      getEnvOrDefault("LOCATOR_SETTINGS_FILE", "./config/settings.yaml"),
		HistoryDir:        getEnvOrDefault("LOCATOR_HISTORY_DIR", "./history"),
		HistoryMaxSizeMB:  getEnvIntOrDefault("LOCATOR_HISTORY_MAX_SIZE_MB", 50),
		LabelTallPX:       getEnvIntOrDefault("LOCATOR_LABEL_TALL_PX", 200),
		LogLevel:          strings.ToLower(getEnvOrDefault("LOCATOR_LOG_LEVEL", "info")),
		LogFile:           getEnvOrDefault("LOCATOR_LOG_FILE", "logs/idlocator.log"),
		LaunchBrowser:     getEnvBoolOrDefault("LOCATOR_LAUNCH_BROWSER", false),
		StartURL:          getEnvOrDefault("LOCATOR_START_URL", "about:blank"),
		ProfileDir:        getEnvOrDefault("LOCATOR_PROFILE_DIR", "./browser_profile"),
	}
	if cfg.EvalTimeoutMS < minEvalTimeoutMS {
		cfg.EvalTimeoutMS = minEvalTimeoutMS
	}
	if cfg.ResolverTimeoutMS <= 0 {
		return nil, fmt.Errorf("LOCATOR_RESOLVER_TIMEOUT_MS must be positive, got %d", cfg.ResolverTimeoutMS)
	}
	if cfg.LabelTallPX <= 0 {
		return nil, fmt.Errorf("LOCATOR_LABEL_TALL_PX must be positive, got %d", cfg.LabelTallPX)
	}
	if cfg.CDPPort <= 0 || cfg.CDPPort > 65535 {
		return nil, fmt.Errorf("CHROMIUM_CDP_PORT out of range: %d", cfg.CDPPort)
	}

	return cfg, nil
}

// GetCDPURL returns the CDP HTTP endpoint.
func (c *Config) GetCDPURL() string {
	return fmt.Sprintf("http://%s:%d", c.CDPAddress, c.CDPPort)
}

func (c *Config) EvalTimeout() time.Duration {
	return time.Duration(c.EvalTimeoutMS) * time.Millisecond
}

func (c *Config) ResolverTimeout() time.Duration {
	return time.Duration(c.ResolverTimeoutMS) * time.Millisecond
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

package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	SettingsPathEnvVar = "ERUDAITE_SETTINGS"
	DefaultBaseURL     = "http://127.0.0.1:8787"

	DefaultTranslateHotkey = "Ctrl+Alt+T"
	DefaultOCRHotkey       = "Ctrl+Alt+S"
)

// ClipboardMode controls what happens with the final translation text.
type ClipboardMode string

const (
	ClipboardDisplayOnly    ClipboardMode = "displayOnly"
	ClipboardDisplayAndCopy ClipboardMode = "displayAndCopy"
	ClipboardCopyOnly       ClipboardMode = "copyOnly"
)

// RoutingStrategy selects how the speculative translation target is chosen.
type RoutingStrategy string

const (
	StrategyFixed        RoutingStrategy = "fixed"
	StrategyLastUsed     RoutingStrategy = "lastUsed"
	StrategyDefaultBased RoutingStrategy = "defaultBased"
)

// Config carries the environment-level knobs resolved at startup. User-facing
// settings live in Settings and are persisted separately (see store.go).
type Config struct {
	BaseURL           string
	EnableFileLogging bool
	CaptureTimeoutMs  int
	SettingsPath      string
}

// Load resolves environment configuration. A .env next to the executable is
// applied first; ERUDAITE_SETTINGS may point the settings store elsewhere.
func Load() (*Config, error) {
	if envPath := resolveEnvPath(); envPath != "" {
		_ = godotenv.Load(envPath)
	}

	captureTimeoutMs := 1600
	if v := os.Getenv("CAPTURE_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			captureTimeoutMs = n
		}
	}

	cfg := &Config{
		BaseURL:           getEnvWithDefault("BASE_URL", DefaultBaseURL),
		EnableFileLogging: strings.ToLower(os.Getenv("ENABLE_FILE_LOGGING")) == "true",
		CaptureTimeoutMs:  captureTimeoutMs,
		SettingsPath:      os.Getenv(SettingsPathEnvVar),
	}

	return cfg, nil
}

func resolveEnvPath() string {
	execPath, err := os.Executable()
	if err != nil {
		return ""
	}

	exeEnv := filepath.Join(filepath.Dir(execPath), ".env")
	if _, err := os.Stat(exeEnv); err == nil {
		return exeEnv
	}

	if alt := os.Getenv("ERUDAITE_ENV"); alt != "" {
		if _, err := os.Stat(alt); err == nil {
			return alt
		}
	}

	return ""
}

func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// ParseClipboardMode maps a stored string onto a known mode, defaulting to
// display-and-copy for anything unrecognized.
func ParseClipboardMode(value string) ClipboardMode {
	switch ClipboardMode(strings.TrimSpace(value)) {
	case ClipboardDisplayOnly:
		return ClipboardDisplayOnly
	case ClipboardCopyOnly:
		return ClipboardCopyOnly
	default:
		return ClipboardDisplayAndCopy
	}
}

// ParseRoutingStrategy maps a stored string onto a known strategy, defaulting
// to defaultBased.
func ParseRoutingStrategy(value string) RoutingStrategy {
	switch RoutingStrategy(strings.TrimSpace(value)) {
	case StrategyFixed:
		return StrategyFixed
	case StrategyLastUsed:
		return StrategyLastUsed
	default:
		return StrategyDefaultBased
	}
}

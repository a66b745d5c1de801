// Package config provides application configuration.
//
// Values come from, in increasing precedence: built-in defaults, an optional
// TOML file, and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds all application configuration.
type Config struct {
	Port           string
	GRPCAddr       string
	DBPath         string
	AllowedOrigins []string
	Browser        BrowserConfig
	Capture        CaptureConfig
	SSE            SSEConfig
}

// BrowserConfig controls how the meeting tab is reached.
type BrowserConfig struct {
	MeetingURL   string
	DebuggerURL  string // attach to a running Chrome instead of launching one
	Bin          string
	Headless     bool
	PollInterval time.Duration
}

// CaptureConfig tunes the capture pipeline.
type CaptureConfig struct {
	Debounce         time.Duration
	MaxPending       int
	RetryInterval    time.Duration
	MaxAttempts      int
	MaxMessages      int
	FuzzyWindow      time.Duration
	SelfLabel        string
	ParticipantLabel string
}

// SSEConfig controls the event stream.
type SSEConfig struct {
	RetryDelay        time.Duration
	KeepaliveInterval time.Duration
}

type fileConfig struct {
	Port           string `toml:"port"`
	GRPCAddr       string `toml:"grpc_addr"`
	DBPath         string `toml:"db_path"`
	AllowedOrigins string `toml:"allowed_origins"`

	Browser struct {
		MeetingURL   string `toml:"meeting_url"`
		DebuggerURL  string `toml:"debugger_url"`
		Bin          string `toml:"bin"`
		Headless     *bool  `toml:"headless"`
		PollInterval string `toml:"poll_interval"`
	} `toml:"browser"`

	Capture struct {
		Debounce         string `toml:"debounce"`
		MaxPending       int    `toml:"max_pending"`
		RetryInterval    string `toml:"retry_interval"`
		MaxAttempts      int    `toml:"max_attempts"`
		MaxMessages      int    `toml:"max_messages"`
		FuzzyWindow      string `toml:"fuzzy_window"`
		SelfLabel        string `toml:"self_label"`
		ParticipantLabel string `toml:"participant_label"`
	} `toml:"capture"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Port:           "8080",
		GRPCAddr:       ":9090",
		DBPath:         "./data/meetlog.db",
		AllowedOrigins: []string{"*"},
		Browser: BrowserConfig{
			Headless:     true,
			PollInterval: 100 * time.Millisecond,
		},
		Capture: CaptureConfig{
			Debounce:         100 * time.Millisecond,
			MaxPending:       500,
			RetryInterval:    2 * time.Second,
			MaxAttempts:      30,
			MaxMessages:      10000,
			FuzzyWindow:      30 * time.Second,
			SelfLabel:        "You",
			ParticipantLabel: "Participant",
		},
		SSE: SSEConfig{
			RetryDelay:        5 * time.Second,
			KeepaliveInterval: 10 * time.Second,
		},
	}
}

// Load reads the optional config file and environment variables.
func Load() (*Config, error) {
	cfg := Default()

	if path := configFilePath(); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	var fc fileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	setString(&c.Port, fc.Port)
	setString(&c.GRPCAddr, fc.GRPCAddr)
	setString(&c.DBPath, expandTilde(fc.DBPath))
	if fc.AllowedOrigins != "" {
		c.AllowedOrigins = splitList(fc.AllowedOrigins)
	}

	setString(&c.Browser.MeetingURL, fc.Browser.MeetingURL)
	setString(&c.Browser.DebuggerURL, fc.Browser.DebuggerURL)
	setString(&c.Browser.Bin, expandTilde(fc.Browser.Bin))
	if fc.Browser.Headless != nil {
		c.Browser.Headless = *fc.Browser.Headless
	}

	setInt(&c.Capture.MaxPending, fc.Capture.MaxPending)
	setInt(&c.Capture.MaxAttempts, fc.Capture.MaxAttempts)
	setInt(&c.Capture.MaxMessages, fc.Capture.MaxMessages)
	setString(&c.Capture.SelfLabel, fc.Capture.SelfLabel)
	setString(&c.Capture.ParticipantLabel, fc.Capture.ParticipantLabel)

	var errs []error
	for _, d := range []struct {
		dst *time.Duration
		val string
		key string
	}{
		{&c.Browser.PollInterval, fc.Browser.PollInterval, "browser.poll_interval"},
		{&c.Capture.Debounce, fc.Capture.Debounce, "capture.debounce"},
		{&c.Capture.RetryInterval, fc.Capture.RetryInterval, "capture.retry_interval"},
		{&c.Capture.FuzzyWindow, fc.Capture.FuzzyWindow, "capture.fuzzy_window"},
	} {
		if d.val == "" {
			continue
		}
		v, err := time.ParseDuration(d.val)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", d.key, err))
			continue
		}
		*d.dst = v
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Port = getEnv("PORT", c.Port)
	c.GRPCAddr = getEnv("GRPC_ADDR", c.GRPCAddr)
	c.DBPath = getEnv("DB_PATH", c.DBPath)
	if v, ok := os.LookupEnv("ALLOWED_ORIGINS"); ok {
		c.AllowedOrigins = splitList(v)
	}

	c.Browser.MeetingURL = getEnv("MEETING_URL", c.Browser.MeetingURL)
	c.Browser.DebuggerURL = getEnv("CHROME_DEBUGGER_URL", c.Browser.DebuggerURL)
	c.Browser.Bin = getEnv("CHROME_BIN", c.Browser.Bin)
	c.Browser.Headless = getEnvBool("CHROME_HEADLESS", c.Browser.Headless)
	c.Browser.PollInterval = getEnvDuration("BROWSER_POLL_INTERVAL", c.Browser.PollInterval)

	c.Capture.Debounce = getEnvDuration("CAPTURE_DEBOUNCE", c.Capture.Debounce)
	c.Capture.MaxPending = getEnvInt("CAPTURE_MAX_PENDING", c.Capture.MaxPending)
	c.Capture.RetryInterval = getEnvDuration("LOCATOR_RETRY_INTERVAL", c.Capture.RetryInterval)
	c.Capture.MaxAttempts = getEnvInt("LOCATOR_MAX_ATTEMPTS", c.Capture.MaxAttempts)
	c.Capture.MaxMessages = getEnvInt("STORE_MAX_MESSAGES", c.Capture.MaxMessages)
	c.Capture.FuzzyWindow = getEnvDuration("STORE_FUZZY_WINDOW", c.Capture.FuzzyWindow)
	c.Capture.SelfLabel = getEnv("SELF_LABEL", c.Capture.SelfLabel)
	c.Capture.ParticipantLabel = getEnv("PARTICIPANT_LABEL", c.Capture.ParticipantLabel)

	c.SSE.RetryDelay = getEnvDuration("SSE_RETRY_DELAY", c.SSE.RetryDelay)
	c.SSE.KeepaliveInterval = getEnvDuration("SSE_KEEPALIVE_INTERVAL", c.SSE.KeepaliveInterval)
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.Capture.Debounce <= 0 {
		return fmt.Errorf("CAPTURE_DEBOUNCE must be > 0")
	}
	if c.Capture.MaxPending <= 0 {
		return fmt.Errorf("CAPTURE_MAX_PENDING must be > 0")
	}
	if c.Capture.RetryInterval <= 0 {
		return fmt.Errorf("LOCATOR_RETRY_INTERVAL must be > 0")
	}
	if c.Capture.MaxAttempts <= 0 {
		return fmt.Errorf("LOCATOR_MAX_ATTEMPTS must be > 0")
	}
	if c.Capture.MaxMessages <= 0 {
		return fmt.Errorf("STORE_MAX_MESSAGES must be > 0")
	}
	if c.Capture.FuzzyWindow < 0 {
		return fmt.Errorf("STORE_FUZZY_WINDOW cannot be negative")
	}
	if c.Browser.PollInterval <= 0 {
		return fmt.Errorf("BROWSER_POLL_INTERVAL must be > 0")
	}
	if c.SSE.KeepaliveInterval <= 0 {
		return fmt.Errorf("SSE_KEEPALIVE_INTERVAL must be > 0")
	}
	return nil
}

// configFilePath returns $MEETLOG_CONFIG, or the XDG config file when it exists.
func configFilePath() string {
	if p := os.Getenv("MEETLOG_CONFIG"); p != "" {
		return expandTilde(p)
	}

	var configDir string
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		configDir = filepath.Join(xdg, "meetlog")
	} else if home, err := os.UserHomeDir(); err == nil {
		configDir = filepath.Join(home, ".config", "meetlog")
	} else {
		return ""
	}

	path := filepath.Join(configDir, "config.toml")
	if _, err := os.Stat(path); err == nil {
		return path
	}
	return ""
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

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
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

func expandTilde(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

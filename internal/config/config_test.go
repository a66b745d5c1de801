package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func isolate(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"PORT", "GRPC_ADDR", "DB_PATH", "ALLOWED_ORIGINS", "MEETING_URL",
		"CHROME_DEBUGGER_URL", "CHROME_BIN", "CHROME_HEADLESS", "BROWSER_POLL_INTERVAL",
		"CAPTURE_DEBOUNCE", "CAPTURE_MAX_PENDING", "LOCATOR_RETRY_INTERVAL",
		"LOCATOR_MAX_ATTEMPTS", "STORE_MAX_MESSAGES", "STORE_FUZZY_WINDOW",
		"SELF_LABEL", "PARTICIPANT_LABEL", "SSE_RETRY_DELAY", "SSE_KEEPALIVE_INTERVAL",
	} {
		if v, ok := os.LookupEnv(k); ok {
			t.Setenv(k, v)
			os.Unsetenv(k)
		}
	}
	t.Setenv("MEETLOG_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != "8080" || cfg.GRPCAddr != ":9090" {
		t.Errorf("Unexpected listen addresses %s %s", cfg.Port, cfg.GRPCAddr)
	}
	if cfg.Capture.Debounce != 100*time.Millisecond {
		t.Errorf("Expected 100ms debounce, got %v", cfg.Capture.Debounce)
	}
	if cfg.Capture.MaxAttempts != 30 || cfg.Capture.MaxMessages != 10000 {
		t.Errorf("Unexpected capture limits %+v", cfg.Capture)
	}
	if cfg.Capture.FuzzyWindow != 30*time.Second {
		t.Errorf("Expected 30s fuzzy window, got %v", cfg.Capture.FuzzyWindow)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "*" {
		t.Errorf("Expected wildcard origin, got %v", cfg.AllowedOrigins)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
port = "9000"
allowed_origins = "http://a.test, http://b.test"

[browser]
meeting_url = "https://meet.google.com/abc-defg-hij"
headless = false
poll_interval = "250ms"

[capture]
debounce = "50ms"
max_attempts = 5
self_label = "Me"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MEETLOG_CONFIG", path)
	t.Setenv("PORT", "9100")
	t.Setenv("LOCATOR_MAX_ATTEMPTS", "7")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != "9100" {
		t.Errorf("Expected env to override file port, got %s", cfg.Port)
	}
	if cfg.Capture.MaxAttempts != 7 {
		t.Errorf("Expected env max attempts 7, got %d", cfg.Capture.MaxAttempts)
	}
	if cfg.Capture.Debounce != 50*time.Millisecond {
		t.Errorf("Expected file debounce 50ms, got %v", cfg.Capture.Debounce)
	}
	if cfg.Browser.Headless {
		t.Error("Expected headless disabled by file")
	}
	if cfg.Browser.PollInterval != 250*time.Millisecond {
		t.Errorf("Expected 250ms poll interval, got %v", cfg.Browser.PollInterval)
	}
	if cfg.Capture.SelfLabel != "Me" {
		t.Errorf("Expected self label Me, got %s", cfg.Capture.SelfLabel)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "http://b.test" {
		t.Errorf("Unexpected origins %v", cfg.AllowedOrigins)
	}
}

func TestLoadRejectsBadFile(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[capture]\ndebounce = \"soon\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MEETLOG_CONFIG", path)

	if _, err := Load(); err == nil {
		t.Error("Expected error for invalid duration")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty port", func(c *Config) { c.Port = "" }},
		{"empty db path", func(c *Config) { c.DBPath = "" }},
		{"zero debounce", func(c *Config) { c.Capture.Debounce = 0 }},
		{"zero attempts", func(c *Config) { c.Capture.MaxAttempts = 0 }},
		{"zero capacity", func(c *Config) { c.Capture.MaxMessages = 0 }},
		{"negative window", func(c *Config) { c.Capture.FuzzyWindow = -time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
	if err := Default().Validate(); err != nil {
		t.Errorf("Default() should be valid, got %v", err)
	}
}

package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("LLM_PROVIDER", "gemini")
	t.Setenv("GEMINI_API_KEY", "test-key")
	t.Setenv("GEMINI_MODEL", "gemini-2.0-flash")
	t.Setenv("SESSION_TTL_SECONDS", "3600")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.LLM.Model != "gemini-2.0-flash" {
		t.Errorf("model = %q, want gemini-2.0-flash", cfg.LLM.Model)
	}
	if cfg.SessionTTL != time.Hour {
		t.Errorf("session ttl = %v, want 1h", cfg.SessionTTL)
	}
	if cfg.LLM.ChatTemperature != 0.9 {
		t.Errorf("chat temperature = %v, want 0.9", cfg.LLM.ChatTemperature)
	}
}

func TestLoadRequiresGeminiKey(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("LLM_PROVIDER", "gemini")
	t.Setenv("GEMINI_API_KEY", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when GEMINI_API_KEY is empty")
	}
}

func TestLoadYAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dex.yaml")
	content := `
port: "9090"
session_ttl: 30m
llm:
  provider: ollama
  model: mistral
  chat_temperature: 0.5
rate_limit:
  requests_per_window: 3
  window: 10s
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PORT", "7070")
	os.Unsetenv("SESSION_TTL_SECONDS")
	os.Unsetenv("LLM_PROVIDER")
	os.Unsetenv("LLM_MODEL")
	os.Unsetenv("CHAT_TEMPERATURE")
	os.Unsetenv("RATE_LIMIT_REQUESTS")
	os.Unsetenv("RATE_LIMIT_WINDOW")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != "7070" {
		t.Errorf("port = %q, env should win over file", cfg.Port)
	}
	if cfg.SessionTTL != 30*time.Minute {
		t.Errorf("session ttl = %v, want 30m", cfg.SessionTTL)
	}
	if cfg.LLM.Provider != ProviderOllama || cfg.LLM.Model != "mistral" {
		t.Errorf("llm = %+v", cfg.LLM)
	}
	if cfg.LLM.ChatTemperature != 0.5 {
		t.Errorf("chat temperature = %v, want 0.5", cfg.LLM.ChatTemperature)
	}
	if cfg.RateLimit.RequestsPerWindow != 3 || cfg.RateLimit.WindowDuration != 10*time.Second {
		t.Errorf("rate limit = %+v", cfg.RateLimit)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty port", func(c *Config) { c.Port = "" }},
		{"zero ttl", func(c *Config) { c.SessionTTL = 0 }},
		{"hot temperature", func(c *Config) { c.LLM.ChatTemperature = 2.5 }},
		{"unknown provider", func(c *Config) { c.LLM.Provider = "bard" }},
		{"openai without key", func(c *Config) { c.LLM.Provider = ProviderOpenAI }},
		{"no rate", func(c *Config) { c.RateLimit.RequestsPerWindow = 0 }},
		{"no open log files", func(c *Config) { c.ConversationLog.MaxOpenFiles = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.LLM.GeminiAPIKey = "k"
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("expected validation error")
			}
		})
	}

	cfg := Default()
	cfg.LLM.Provider = ProviderOllama
	if err := cfg.Validate(); err != nil {
		t.Errorf("ollama needs no key, got %v", err)
	}
}

func TestParseLogLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"ERROR":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLogLevel(in); got != want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestSetupLoggerWithWritersFansOut(t *testing.T) {
	var a, b bytes.Buffer
	logger := SetupLoggerWithWriters(&a, &b, slog.LevelInfo)
	logger.Info("session created", "session_id", "abc")
	logger.Debug("hidden")

	for name, buf := range map[string]*bytes.Buffer{"primary": &a, "secondary": &b} {
		out := buf.String()
		if !strings.Contains(out, `"session_id":"abc"`) {
			t.Errorf("%s sink missing record: %s", name, out)
		}
		if strings.Contains(out, "hidden") {
			t.Errorf("%s sink should drop debug records", name)
		}
	}
}

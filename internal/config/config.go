// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Supported model providers.
const (
	ProviderGemini = "gemini"
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

// Config holds all application configuration.
type Config struct {
	Port               string                `yaml:"port"`
	DBPath             string                `yaml:"db_path"`
	SessionDir         string                `yaml:"session_dir"`
	SessionTTL         time.Duration         `yaml:"session_ttl"`
	SessionGCInterval  time.Duration         `yaml:"session_gc_interval"`
	AllowedOrigins     []string              `yaml:"allowed_origins"`
	MaxRequestBodySize int64                 `yaml:"max_request_body_size"`
	GRPCHealthAddr     string                `yaml:"grpc_health_addr"`
	LogLevel           slog.Level            `yaml:"-"`
	LogFile            string                `yaml:"log_file"`
	LLM                LLMConfig             `yaml:"llm"`
	RateLimit          RateLimitConfig       `yaml:"rate_limit"`
	ConversationLog    ConversationLogConfig `yaml:"conversation_log"`
}

// LLMConfig selects and tunes the model provider.
type LLMConfig struct {
	Provider          string        `yaml:"provider"`
	Model             string        `yaml:"model"`
	GeminiAPIKey      string        `yaml:"-"`
	OpenAIAPIKey      string        `yaml:"-"`
	OllamaHost        string        `yaml:"ollama_host"`
	ChatTemperature   float64       `yaml:"chat_temperature"`
	ReviewTemperature float64       `yaml:"review_temperature"`
	Timeout           time.Duration `yaml:"timeout"`
}

// RateLimitConfig bounds chat requests per client.
type RateLimitConfig struct {
	RequestsPerWindow int           `yaml:"requests_per_window"`
	WindowDuration    time.Duration `yaml:"window"`
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Dir           string `yaml:"dir"`
	GlobalEnabled bool   `yaml:"global_enabled"`
	GlobalPath    string `yaml:"global_path"`
	QueueSize     int    `yaml:"queue_size"`
	MaxOpenFiles  int    `yaml:"max_open_files"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Port:               "8080",
		DBPath:             "./data/dex.db",
		SessionDir:         "./data/sessions",
		SessionTTL:         time.Hour,
		SessionGCInterval:  10 * time.Minute,
		AllowedOrigins:     []string{"*"},
		MaxRequestBodySize: 1 << 20,
		LogLevel:           slog.LevelInfo,
		LLM: LLMConfig{
			Provider:          ProviderGemini,
			OllamaHost:        "http://localhost:11434",
			ChatTemperature:   0.9,
			ReviewTemperature: 0.7,
			Timeout:           60 * time.Second,
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: 20,
			WindowDuration:    time.Minute,
		},
		ConversationLog: ConversationLogConfig{
			Enabled:      true,
			Dir:          "./data/logs/conversations",
			GlobalPath:   "./data/logs/conversations/all.ndjson",
			QueueSize:    1000,
			MaxOpenFiles: 64,
		},
	}
}

// Load reads configuration from an optional YAML file (CONFIG_FILE) and then
// environment variables, which take precedence.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Port = getEnv("PORT", c.Port)
	c.DBPath = getEnv("DB_PATH", c.DBPath)
	c.SessionDir = getEnv("SESSION_DIR", c.SessionDir)
	c.SessionTTL = time.Duration(getEnvInt("SESSION_TTL_SECONDS", int(c.SessionTTL.Seconds()))) * time.Second
	c.SessionGCInterval = getEnvDuration("SESSION_GC_INTERVAL", c.SessionGCInterval)
	if origins := getEnv("ALLOWED_ORIGINS", ""); origins != "" {
		c.AllowedOrigins = splitList(origins)
	}
	c.MaxRequestBodySize = int64(getEnvInt("MAX_REQUEST_BODY_BYTES", int(c.MaxRequestBodySize)))
	c.GRPCHealthAddr = getEnv("GRPC_HEALTH_ADDR", c.GRPCHealthAddr)
	c.LogLevel = ParseLogLevel(getEnv("LOG_LEVEL", c.LogLevel.String()))
	c.LogFile = getEnv("LOG_FILE", c.LogFile)

	c.LLM.Provider = strings.ToLower(getEnv("LLM_PROVIDER", c.LLM.Provider))
	c.LLM.GeminiAPIKey = getEnv("GEMINI_API_KEY", c.LLM.GeminiAPIKey)
	c.LLM.OpenAIAPIKey = getEnv("OPENAI_API_KEY", c.LLM.OpenAIAPIKey)
	c.LLM.OllamaHost = getEnv("OLLAMA_HOST", c.LLM.OllamaHost)
	c.LLM.Model = getEnv("LLM_MODEL", c.LLM.Model)
	if c.LLM.Provider == ProviderGemini {
		c.LLM.Model = getEnv("GEMINI_MODEL", c.LLM.Model)
	}
	if c.LLM.Model == "" {
		c.LLM.Model = defaultModel(c.LLM.Provider)
	}
	c.LLM.ChatTemperature = getEnvFloat("CHAT_TEMPERATURE", c.LLM.ChatTemperature)
	c.LLM.ReviewTemperature = getEnvFloat("REVIEW_TEMPERATURE", c.LLM.ReviewTemperature)
	c.LLM.Timeout = getEnvDuration("MODEL_TIMEOUT", c.LLM.Timeout)

	c.RateLimit.RequestsPerWindow = getEnvInt("RATE_LIMIT_REQUESTS", c.RateLimit.RequestsPerWindow)
	c.RateLimit.WindowDuration = getEnvDuration("RATE_LIMIT_WINDOW", c.RateLimit.WindowDuration)

	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", c.ConversationLog.QueueSize)
	if queueSize <= 0 {
		queueSize = 1000
	}
	c.ConversationLog.Enabled = getEnvBool("CONVERSATION_LOG_ENABLED", c.ConversationLog.Enabled)
	c.ConversationLog.Dir = getEnv("CONVERSATION_LOG_DIR", c.ConversationLog.Dir)
	c.ConversationLog.GlobalEnabled = getEnvBool("CONVERSATION_LOG_GLOBAL_ENABLED", c.ConversationLog.GlobalEnabled)
	c.ConversationLog.GlobalPath = getEnv("CONVERSATION_LOG_GLOBAL_PATH", c.ConversationLog.GlobalPath)
	c.ConversationLog.QueueSize = queueSize
	c.ConversationLog.MaxOpenFiles = getEnvInt("CONVERSATION_LOG_MAX_OPEN_FILES", c.ConversationLog.MaxOpenFiles)
}

func defaultModel(provider string) string {
	switch provider {
	case ProviderOllama:
		return "llama3.1"
	case ProviderOpenAI:
		return "gpt-4o-mini"
	default:
		return "gemini-2.0-flash"
	}
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.SessionDir == "" {
		return fmt.Errorf("SESSION_DIR cannot be empty")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL_SECONDS must be > 0")
	}
	switch c.LLM.Provider {
	case ProviderGemini:
		if c.LLM.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required for the gemini provider")
		}
	case ProviderOpenAI:
		if c.LLM.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required for the openai provider")
		}
	case ProviderOllama:
	default:
		return fmt.Errorf("unsupported LLM_PROVIDER %q", c.LLM.Provider)
	}
	for name, t := range map[string]float64{
		"CHAT_TEMPERATURE":   c.LLM.ChatTemperature,
		"REVIEW_TEMPERATURE": c.LLM.ReviewTemperature,
	} {
		if t < 0 || t > 2 {
			return fmt.Errorf("%s must be within [0, 2]", name)
		}
	}
	if c.LLM.Timeout <= 0 {
		return fmt.Errorf("MODEL_TIMEOUT must be > 0")
	}
	if c.RateLimit.RequestsPerWindow <= 0 || c.RateLimit.WindowDuration <= 0 {
		return fmt.Errorf("rate limit must allow at least one request per positive window")
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
	if c.ConversationLog.MaxOpenFiles <= 0 {
		return fmt.Errorf("CONVERSATION_LOG_MAX_OPEN_FILES must be > 0")
	}
	return nil
}

// IsDevelopment returns true when any origin is accepted.
func (c *Config) IsDevelopment() bool {
	for _, o := range c.AllowedOrigins {
		if o == "*" || strings.Contains(o, "localhost") || strings.Contains(o, "127.0.0.1") {
			return true
		}
	}
	return false
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

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
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

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

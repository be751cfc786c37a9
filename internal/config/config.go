// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Provider names accepted by PROVIDER.
const (
	ProviderCohere = "cohere"
	ProviderGemini = "gemini"
)

// Transport names accepted by CHAT_TRANSPORT.
const (
	TransportHTTP = "http"
	TransportWS   = "ws"
)

// Persist policies accepted by CHAT_PERSIST_POLICY.
const (
	PersistChunk      = "chunk"
	PersistCompletion = "completion"
)

// Server holds the proxy configuration.
type Server struct {
	Port            string
	Provider        string
	CohereAPIKey    string
	CohereURL       string
	GeminiAPIKey    string
	Model           string
	MaxPromptChars  int
	RateLimit       RateLimitConfig
	AllowedOrigins  []string
	Locale          string
	LogLevel        slog.Level
	GRPCHealthPort  string
	UpstreamTimeout time.Duration
}

// RateLimitConfig controls the per-client fixed window.
type RateLimitConfig struct {
	RequestsPerWindow int
	Window            time.Duration
}

// Client holds the terminal chat client configuration.
type Client struct {
	APIURL         string
	Transport      string
	DBPath         string
	PersistPolicy  string
	MaxPromptChars int
	Locale         string
	LogLevel       slog.Level
}

// LoadServer reads the proxy configuration from environment variables.
func LoadServer() (*Server, error) {
	cfg := &Server{
		Port:           getEnv("PORT", "8080"),
		Provider:       strings.ToLower(getEnv("PROVIDER", ProviderCohere)),
		CohereAPIKey:   getEnv("COHERE_API_KEY", ""),
		CohereURL:      getEnv("COHERE_URL", ""),
		GeminiAPIKey:   getEnv("GEMINI_API_KEY", ""),
		Model:          getEnv("MODEL", ""),
		MaxPromptChars: getEnvInt("MAX_PROMPT_CHARS", 2000),
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("RATE_LIMIT_MAX", 10),
			Window:            getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		AllowedOrigins:  getEnvList("ALLOWED_ORIGINS", []string{"*"}),
		Locale:          getEnv("LOCALE", "es"),
		LogLevel:        getEnvLevel("LOG_LEVEL", slog.LevelInfo),
		GRPCHealthPort:  getEnv("GRPC_HEALTH_PORT", ""),
		UpstreamTimeout: getEnvDuration("UPSTREAM_TIMEOUT", 2*time.Minute),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that all required configuration fields are set.
// Missing API keys are allowed; requests then fail with 500.
func (c *Server) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.Provider != ProviderCohere && c.Provider != ProviderGemini {
		return fmt.Errorf("PROVIDER must be %q or %q, got %q", ProviderCohere, ProviderGemini, c.Provider)
	}
	if c.MaxPromptChars <= 0 {
		return fmt.Errorf("MAX_PROMPT_CHARS must be > 0")
	}
	if c.RateLimit.RequestsPerWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_MAX must be > 0")
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be > 0")
	}
	if len(c.AllowedOrigins) == 0 {
		return fmt.Errorf("ALLOWED_ORIGINS cannot be empty")
	}
	if c.UpstreamTimeout <= 0 {
		return fmt.Errorf("UPSTREAM_TIMEOUT must be > 0")
	}
	return nil
}

// APIKey returns the key for the selected provider.
func (c *Server) APIKey() string {
	if c.Provider == ProviderGemini {
		return c.GeminiAPIKey
	}
	return c.CohereAPIKey
}

// LoadClient reads the chat client configuration from environment variables.
func LoadClient() (*Client, error) {
	cfg := &Client{
		APIURL:         getEnv("CHAT_API_URL", "http://localhost:8080"),
		Transport:      strings.ToLower(getEnv("CHAT_TRANSPORT", TransportHTTP)),
		DBPath:         getEnv("CHAT_DB_PATH", "./data/chat.db"),
		PersistPolicy:  strings.ToLower(getEnv("CHAT_PERSIST_POLICY", PersistChunk)),
		MaxPromptChars: getEnvInt("MAX_PROMPT_CHARS", 2000),
		Locale:         getEnv("LOCALE", "es"),
		LogLevel:       getEnvLevel("LOG_LEVEL", slog.LevelWarn),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Client) Validate() error {
	if c.APIURL == "" {
		return fmt.Errorf("CHAT_API_URL cannot be empty")
	}
	if !strings.HasPrefix(c.APIURL, "http://") && !strings.HasPrefix(c.APIURL, "https://") {
		return fmt.Errorf("CHAT_API_URL must start with http:// or https://")
	}
	if c.Transport != TransportHTTP && c.Transport != TransportWS {
		return fmt.Errorf("CHAT_TRANSPORT must be %q or %q", TransportHTTP, TransportWS)
	}
	if c.DBPath == "" {
		return fmt.Errorf("CHAT_DB_PATH cannot be empty")
	}
	if c.PersistPolicy != PersistChunk && c.PersistPolicy != PersistCompletion {
		return fmt.Errorf("CHAT_PERSIST_POLICY must be %q or %q", PersistChunk, PersistCompletion)
	}
	if c.MaxPromptChars <= 0 {
		return fmt.Errorf("MAX_PROMPT_CHARS must be > 0")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
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

// getEnvDuration accepts Go durations ("90s") or a bare number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getEnvLevel(key string, fallback slog.Level) slog.Level {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(value))); err != nil {
		return fallback
	}
	return level
}

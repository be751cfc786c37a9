package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadServerDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "PROVIDER", "MAX_PROMPT_CHARS", "RATE_LIMIT_MAX", "RATE_LIMIT_WINDOW", "ALLOWED_ORIGINS", "LOCALE", "LOG_LEVEL", "UPSTREAM_TIMEOUT", "GRPC_HEALTH_PORT"} {
		t.Setenv(key, "")
	}
	// Empty numeric values fall back to defaults; string values do not.
	t.Setenv("PORT", "8080")
	t.Setenv("PROVIDER", "cohere")
	t.Setenv("ALLOWED_ORIGINS", "*")

	cfg, err := LoadServer()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, ProviderCohere, cfg.Provider)
	assert.Equal(t, 2000, cfg.MaxPromptChars)
	assert.Equal(t, 10, cfg.RateLimit.RequestsPerWindow)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Equal(t, 2*time.Minute, cfg.UpstreamTimeout)
	assert.Empty(t, cfg.GRPCHealthPort)
}

func TestLoadServerOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("PROVIDER", "Gemini")
	t.Setenv("GEMINI_API_KEY", "g-key")
	t.Setenv("COHERE_API_KEY", "c-key")
	t.Setenv("RATE_LIMIT_MAX", "5")
	t.Setenv("RATE_LIMIT_WINDOW", "30")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com,")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("UPSTREAM_TIMEOUT", "45s")

	cfg, err := LoadServer()
	require.NoError(t, err)
	assert.Equal(t, ProviderGemini, cfg.Provider)
	assert.Equal(t, "g-key", cfg.APIKey())
	assert.Equal(t, 5, cfg.RateLimit.RequestsPerWindow)
	assert.Equal(t, 30*time.Second, cfg.RateLimit.Window)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.AllowedOrigins)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, 45*time.Second, cfg.UpstreamTimeout)
}

func TestServerValidate(t *testing.T) {
	valid := func() *Server {
		return &Server{
			Port:            "8080",
			Provider:        ProviderCohere,
			MaxPromptChars:  2000,
			RateLimit:       RateLimitConfig{RequestsPerWindow: 10, Window: time.Minute},
			AllowedOrigins:  []string{"*"},
			UpstreamTimeout: time.Minute,
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Server)
	}{
		{name: "empty port", mutate: func(c *Server) { c.Port = "" }},
		{name: "unknown provider", mutate: func(c *Server) { c.Provider = "openai" }},
		{name: "zero prompt chars", mutate: func(c *Server) { c.MaxPromptChars = 0 }},
		{name: "zero rate limit", mutate: func(c *Server) { c.RateLimit.RequestsPerWindow = 0 }},
		{name: "zero window", mutate: func(c *Server) { c.RateLimit.Window = 0 }},
		{name: "no origins", mutate: func(c *Server) { c.AllowedOrigins = nil }},
		{name: "zero timeout", mutate: func(c *Server) { c.UpstreamTimeout = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadClient(t *testing.T) {
	t.Setenv("CHAT_API_URL", "https://chat.example.com")
	t.Setenv("CHAT_TRANSPORT", "WS")
	t.Setenv("CHAT_DB_PATH", "/tmp/chat.db")
	t.Setenv("CHAT_PERSIST_POLICY", "completion")
	t.Setenv("MAX_PROMPT_CHARS", "500")
	t.Setenv("LOG_LEVEL", "not-a-level")

	cfg, err := LoadClient()
	require.NoError(t, err)
	assert.Equal(t, TransportWS, cfg.Transport)
	assert.Equal(t, PersistCompletion, cfg.PersistPolicy)
	assert.Equal(t, 500, cfg.MaxPromptChars)
	assert.Equal(t, slog.LevelWarn, cfg.LogLevel)
}

func TestLoadClientRejectsBadValues(t *testing.T) {
	tests := map[string]string{
		"CHAT_API_URL":        "localhost:8080",
		"CHAT_TRANSPORT":      "grpc",
		"CHAT_PERSIST_POLICY": "never",
	}
	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			t.Setenv("CHAT_API_URL", "http://localhost:8080")
			t.Setenv("CHAT_TRANSPORT", "http")
			t.Setenv("CHAT_PERSIST_POLICY", "chunk")
			t.Setenv(key, value)

			_, err := LoadClient()
			assert.ErrorContains(t, err, key)
		})
	}
}

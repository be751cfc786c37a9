// Package api provides HTTP handlers for the chat proxy.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/ashureev/cohe-chat/internal/i18n"
	"github.com/ashureev/cohe-chat/internal/provider"
)

// defaultMaxRequestBodySize is the maximum accepted request body size (1MB).
const defaultMaxRequestBodySize = 1 << 20

// DefaultMaxPromptChars caps the trimmed prompt length, counted in runes.
const DefaultMaxPromptChars = 2000

// Handler serves the completion proxy endpoints.
type Handler struct {
	provider       provider.Provider
	translator     *i18n.Translator
	maxPromptChars int
	wsOrigins      []string
	logger         *slog.Logger
}

// Options configures a Handler.
type Options struct {
	MaxPromptChars int
	// AllowedOrigins are the origin patterns accepted on the WebSocket
	// endpoint. "*" disables the origin check.
	AllowedOrigins []string
	Logger         *slog.Logger
}

// NewHandler creates a handler streaming from p with messages from t.
func NewHandler(p provider.Provider, t *i18n.Translator, opts Options) *Handler {
	if opts.MaxPromptChars <= 0 {
		opts.MaxPromptChars = DefaultMaxPromptChars
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Handler{
		provider:       p,
		translator:     t,
		maxPromptChars: opts.MaxPromptChars,
		wsOrigins:      opts.AllowedOrigins,
		logger:         opts.Logger,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// validatePrompt trims prompt and checks it against the length rules. On
// failure it returns the localized reason.
func (h *Handler) validatePrompt(prompt string) (string, string, bool) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", h.translator.Format("errors.empty", nil), false
	}
	if utf8.RuneCountInString(prompt) > h.maxPromptChars {
		return "", h.translator.Format("errors.tooLong", map[string]any{"max": h.maxPromptChars}), false
	}
	return prompt, "", true
}

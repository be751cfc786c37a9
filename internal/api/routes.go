package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/cohe-chat/internal/completion"
)

// Health returns the status of the proxy and whether the provider has
// credentials.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	checks := map[string]string{"api": "ok", "provider": "ok"}
	status := map[string]any{
		"status":   "healthy",
		"provider": h.provider.Name(),
		"checks":   checks,
		"time":     time.Now().UTC().Format(time.RFC3339),
	}
	statusCode := http.StatusOK

	if !h.provider.Configured() {
		status["status"] = "degraded"
		checks["provider"] = "missing credentials"
		statusCode = http.StatusServiceUnavailable
	}
	JSON(w, statusCode, status)
}

// RegisterHealth registers the health check route.
func (h *Handler) RegisterHealth(r chi.Router) {
	r.Get("/health", h.Health)
}

// RegisterRoutes registers the chat endpoints. limit wraps them with the
// per-client rate limiter; pass nil to leave them unthrottled.
func (h *Handler) RegisterRoutes(r chi.Router, limit func(http.Handler) http.Handler) {
	r.Group(func(r chi.Router) {
		if limit != nil {
			r.Use(limit)
		}
		r.Post(completion.ChatPath, h.Chat)
		r.Get(completion.WSPath, h.ChatWS)
	})
}

package middleware

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ashureev/cohe-chat/internal/i18n"
	"github.com/ashureev/cohe-chat/internal/ratelimit"
)

// RateLimitBody is the JSON payload of a 429 response.
type RateLimitBody struct {
	Error      string `json:"error"`
	RetryAfter int    `json:"retryAfter"`
}

// RateLimit rejects clients that exceeded limiter with 429. key picks the
// client identity for a request and tr localizes the rejection message.
// Every response carries X-RateLimit-Limit and X-RateLimit-Remaining.
func RateLimit(limiter ratelimit.Limiter, key func(*http.Request) string, tr *i18n.Translator, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := key(r)
			d := limiter.Allow(client)
			resetSecs := int(d.ResetIn.Seconds())

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))

			if !d.Allowed {
				logger.Warn("Rate limit exceeded", "client", client, "reset_in", resetSecs)
				h.Set("X-RateLimit-Reset", strconv.Itoa(resetSecs))
				h.Set("Retry-After", strconv.Itoa(resetSecs))
				h.Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				if err := json.NewEncoder(w).Encode(RateLimitBody{
					Error:      rateLimitMessage(tr, resetSecs),
					RetryAfter: resetSecs,
				}); err != nil {
					logger.Debug("failed to write rate limit response", "error", err)
				}
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func rateLimitMessage(tr *i18n.Translator, seconds int) string {
	if tr == nil {
		return fmt.Sprintf("Too many requests. Try again in %d seconds.", seconds)
	}
	return tr.Format("errors.rateLimited", map[string]any{"seconds": seconds})
}

package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/cohe-chat/internal/i18n"
	"github.com/ashureev/cohe-chat/internal/identity"
	"github.com/ashureev/cohe-chat/internal/ratelimit"
)

type stubLimiter struct {
	decision ratelimit.Decision
	keys     []string
}

func (s *stubLimiter) Allow(key string) ratelimit.Decision {
	s.keys = append(s.keys, key)
	return s.decision
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestRateLimitAllows(t *testing.T) {
	lim := &stubLimiter{decision: ratelimit.Decision{Allowed: true, Limit: 10, Remaining: 7, ResetIn: 30 * time.Second}}
	h := RateLimit(lim, identity.ClientIP, nil, nil)(okHandler)

	r := httptest.NewRequest(http.MethodPost, "/api/chat", nil)
	r.Header.Set("X-Forwarded-For", "203.0.113.7")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "10", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "7", w.Header().Get("X-RateLimit-Remaining"))
	assert.Empty(t, w.Header().Get("Retry-After"))
	assert.Equal(t, []string{"203.0.113.7"}, lim.keys)
}

func TestRateLimitRejects(t *testing.T) {
	lim := &stubLimiter{decision: ratelimit.Decision{Allowed: false, Limit: 10, Remaining: 0, ResetIn: 42 * time.Second}}
	called := false
	h := RateLimit(lim, identity.ClientIP, nil, nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		called = true
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/chat", nil))

	assert.False(t, called)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "42", w.Header().Get("Retry-After"))
	assert.Equal(t, "42", w.Header().Get("X-RateLimit-Reset"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body RateLimitBody
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, 42, body.RetryAfter)
	assert.Equal(t, "Too many requests. Try again in 42 seconds.", body.Error)
}

func TestRateLimitLocalizesMessage(t *testing.T) {
	tr, err := i18n.New("es")
	require.NoError(t, err)
	lim := &stubLimiter{decision: ratelimit.Decision{Allowed: false, Limit: 10, ResetIn: 15 * time.Second}}
	h := RateLimit(lim, identity.ClientIP, tr, nil)(okHandler)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/chat", nil))

	var body RateLimitBody
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "Demasiadas solicitudes. Intenta de nuevo en 15 segundos.", body.Error)
	assert.Equal(t, 15, body.RetryAfter)
}

func TestRateLimitWithMemoryLimiter(t *testing.T) {
	h := RateLimit(ratelimit.NewMemoryLimiter(2, time.Minute), identity.ClientIP, nil, nil)(okHandler)

	codes := make([]int, 0, 3)
	for range 3 {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/chat", nil))
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{200, 200, 429}, codes)
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"https://chat.example.com"})(okHandler)

	r := httptest.NewRequest(http.MethodOptions, "/api/chat", nil)
	r.Header.Set("Origin", "https://chat.example.com")
	r.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	assert.Equal(t, "https://chat.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))

	r = httptest.NewRequest(http.MethodPost, "/api/chat", nil)
	r.Header.Set("Origin", "https://evil.example.com")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"iter"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/cohe-chat/internal/completion"
	"github.com/ashureev/cohe-chat/internal/i18n"
	"github.com/ashureev/cohe-chat/internal/identity"
	"github.com/ashureev/cohe-chat/internal/middleware"
	"github.com/ashureev/cohe-chat/internal/provider"
	"github.com/ashureev/cohe-chat/internal/ratelimit"
	"github.com/ashureev/cohe-chat/internal/shared"
)

// fakeProvider yields chunks, then err if set.
type fakeProvider struct {
	chunks     []string
	err        error
	configured bool
	prompts    chan string
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Configured() bool { return f.configured }

func (f *fakeProvider) Stream(_ context.Context, prompt string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if f.prompts != nil {
			f.prompts <- prompt
		}
		for _, c := range f.chunks {
			if !yield(c, nil) {
				return
			}
		}
		if f.err != nil {
			yield("", f.err)
		}
	}
}

func newTestServer(t *testing.T, p provider.Provider, limit func(http.Handler) http.Handler) *httptest.Server {
	t.Helper()
	tr, err := i18n.New("en")
	require.NoError(t, err)

	h := NewHandler(p, tr, Options{MaxPromptChars: 10})
	r := chi.NewRouter()
	r.Use(chiMiddleware.Recoverer)
	r.Use(identity.Middleware)
	h.RegisterHealth(r)
	h.RegisterRoutes(r, limit)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func readAll(t *testing.T, s completion.Stream) (string, error) {
	t.Helper()
	defer func() { _ = s.Close() }()
	var sb strings.Builder
	for {
		chunk, err := s.Recv(context.Background())
		if errors.Is(err, io.EOF) {
			return sb.String(), nil
		}
		if err != nil {
			return sb.String(), err
		}
		sb.WriteString(chunk)
	}
}

func transports(url string) map[string]completion.Transport {
	return map[string]completion.Transport{
		"http": completion.NewHTTPTransport(url, nil, nil),
		"ws":   completion.NewWSTransport(url, nil, nil),
	}
}

func TestChatStreamsCompletion(t *testing.T) {
	p := &fakeProvider{chunks: []string{"Hi", "", " there", "!"}, configured: true, prompts: make(chan string, 2)}
	srv := newTestServer(t, p, nil)

	for name, tr := range transports(srv.URL) {
		t.Run(name, func(t *testing.T) {
			s, err := tr.Open(context.Background(), "  Hello ")
			require.NoError(t, err)
			text, err := readAll(t, s)
			require.NoError(t, err)
			assert.Equal(t, "Hi there!", text)
			assert.Equal(t, "Hello", <-p.prompts)
		})
	}
}

func TestChatRejectsInvalidPrompts(t *testing.T) {
	srv := newTestServer(t, &fakeProvider{configured: true}, nil)

	tests := []struct {
		name   string
		prompt string
		want   string
	}{
		{name: "empty", prompt: "   ", want: "Message cannot be empty."},
		{name: "too long", prompt: "0123456789a", want: "Message cannot exceed 10 characters"},
	}
	for _, tt := range tests {
		for name, tr := range transports(srv.URL) {
			t.Run(tt.name+"/"+name, func(t *testing.T) {
				_, err := tr.Open(context.Background(), tt.prompt)
				var serverErr *shared.ServerError
				require.ErrorAs(t, err, &serverErr)
				assert.Equal(t, http.StatusBadRequest, serverErr.Status)
				assert.Equal(t, tt.want, serverErr.Message)
			})
		}
	}
}

func TestChatRejectsMalformedJSON(t *testing.T) {
	srv := newTestServer(t, &fakeProvider{configured: true}, nil)

	resp, err := http.Post(srv.URL+completion.ChatPath, "application/json", strings.NewReader("{nope"))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var body completion.ErrorBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "The request body is not valid JSON.", body.Error)
}

func TestChatUpstreamFailuresBeforeContent(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{name: "missing key", err: provider.ErrMissingCredentials, wantStatus: http.StatusInternalServerError},
		{name: "unauthorized", err: &provider.UpstreamError{Status: 401, Body: "invalid api token"}, wantStatus: http.StatusUnauthorized},
		{name: "forbidden", err: &provider.UpstreamError{Status: 403}, wantStatus: http.StatusUnauthorized},
		{name: "rate limited", err: &provider.UpstreamError{Status: 429, Body: "slow down"}, wantStatus: http.StatusTooManyRequests},
		{name: "bad request", err: &provider.UpstreamError{Status: 400, Body: "prompt too long"}, wantStatus: http.StatusBadRequest},
		{name: "transport", err: errors.New("dial tcp: connection refused"), wantStatus: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		srv := newTestServer(t, &fakeProvider{err: tt.err}, nil)
		for name, tr := range transports(srv.URL) {
			t.Run(tt.name+"/"+name, func(t *testing.T) {
				_, err := tr.Open(context.Background(), "Hello")
				var serverErr *shared.ServerError
				require.ErrorAs(t, err, &serverErr)
				assert.Equal(t, tt.wantStatus, serverErr.Status)
				assert.NotEmpty(t, serverErr.Message)
			})
		}
	}
}

func TestChatUpstreamFailureMidStream(t *testing.T) {
	p := &fakeProvider{chunks: []string{"Hi"}, err: errors.New("upstream reset"), configured: true}
	srv := newTestServer(t, p, nil)

	for name, tr := range transports(srv.URL) {
		t.Run(name, func(t *testing.T) {
			s, err := tr.Open(context.Background(), "Hello")
			require.NoError(t, err)
			text, err := readAll(t, s)
			assert.Equal(t, "Hi", text)
			var streamErr *shared.StreamError
			assert.ErrorAs(t, err, &streamErr)
		})
	}
}

func TestChatEmptyCompletion(t *testing.T) {
	srv := newTestServer(t, &fakeProvider{configured: true}, nil)

	for name, tr := range transports(srv.URL) {
		t.Run(name, func(t *testing.T) {
			s, err := tr.Open(context.Background(), "Hello")
			require.NoError(t, err)
			text, err := readAll(t, s)
			require.NoError(t, err)
			assert.Empty(t, text)
		})
	}
}

func TestChatRateLimited(t *testing.T) {
	limiter := ratelimit.NewMemoryLimiter(1, time.Minute)
	srv := newTestServer(t, &fakeProvider{chunks: []string{"ok"}, configured: true},
		middleware.RateLimit(limiter, identity.ClientIP, nil, nil))
	tr := completion.NewHTTPTransport(srv.URL, nil, nil)

	s, err := tr.Open(context.Background(), "Hello")
	require.NoError(t, err)
	_, err = readAll(t, s)
	require.NoError(t, err)

	_, err = tr.Open(context.Background(), "Hello")
	var serverErr *shared.ServerError
	require.ErrorAs(t, err, &serverErr)
	assert.Equal(t, http.StatusTooManyRequests, serverErr.Status)
	assert.Greater(t, serverErr.RetryAfter, time.Duration(0))

	_, err = completion.NewWSTransport(srv.URL, nil, nil).Open(context.Background(), "Hello")
	require.ErrorAs(t, err, &serverErr)
	assert.Equal(t, http.StatusTooManyRequests, serverErr.Status)
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		configured bool
		wantStatus int
		want       string
	}{
		{name: "configured", configured: true, wantStatus: http.StatusOK, want: "healthy"},
		{name: "missing key", configured: false, wantStatus: http.StatusServiceUnavailable, want: "degraded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, &fakeProvider{configured: tt.configured}, nil)

			resp, err := http.Get(srv.URL + "/health")
			require.NoError(t, err)
			defer func() { _ = resp.Body.Close() }()

			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			var body map[string]any
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, tt.want, body["status"])
			assert.Equal(t, "fake", body["provider"])
		})
	}
}

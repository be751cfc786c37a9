package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"iter"
	"net/http"

	"github.com/ashureev/cohe-chat/internal/completion"
	"github.com/ashureev/cohe-chat/internal/identity"
	"github.com/ashureev/cohe-chat/internal/provider"
)

// upstream is a started provider stream whose first item has already been
// pulled, so the response status can be chosen before anything is written.
type upstream struct {
	next  func() (string, error, bool)
	stop  func()
	chunk string
	err   error
	ok    bool
}

func (h *Handler) startUpstream(ctx context.Context, prompt string) *upstream {
	next, stop := iter.Pull2(h.provider.Stream(ctx, prompt))
	u := &upstream{next: next, stop: stop}
	u.chunk, u.err, u.ok = next()
	return u
}

// advance pulls the next item.
func (u *upstream) advance() {
	u.chunk, u.err, u.ok = u.next()
}

// upstreamStatus maps a failure that happened before any content was sent to
// the status and message returned to the client.
func (h *Handler) upstreamStatus(err error) (int, string) {
	var upErr *provider.UpstreamError
	switch {
	case errors.Is(err, provider.ErrMissingCredentials):
		return http.StatusInternalServerError, h.translator.Format("errors.missingKey", nil)
	case errors.As(err, &upErr):
		switch upErr.Status {
		case http.StatusUnauthorized, http.StatusForbidden:
			return http.StatusUnauthorized, h.translator.Format("errors.unauthorized", nil)
		case http.StatusTooManyRequests:
			return http.StatusTooManyRequests, upErr.Body
		}
		if upErr.Status >= 400 && upErr.Status < 600 {
			msg := upErr.Body
			if msg == "" {
				msg = http.StatusText(upErr.Status)
			}
			return upErr.Status, msg
		}
	}
	return http.StatusInternalServerError, h.translator.Format("errors.server", nil)
}

// Chat proxies a prompt to the provider and streams the completion back as a
// chunked plain-text body.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, defaultMaxRequestBodySize)

	var req completion.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, h.translator.Format("errors.invalidJSON", nil))
		return
	}
	prompt, reason, ok := h.validatePrompt(req.Prompt)
	if !ok {
		Error(w, http.StatusBadRequest, reason)
		return
	}

	client := identity.ClientIPFromContext(r.Context())
	up := h.startUpstream(r.Context(), prompt)
	defer up.stop()

	if up.ok && up.err != nil {
		status, msg := h.upstreamStatus(up.err)
		h.logger.Warn("Upstream rejected chat request",
			"provider", h.provider.Name(), "client", client, "status", status, "error", up.err)
		Error(w, status, msg)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	chunks := 0
	for ; up.ok; up.advance() {
		if up.err != nil {
			h.logger.Error("Upstream stream failed",
				"provider", h.provider.Name(), "client", client, "chunks", chunks, "error", up.err)
			// Abort the connection so the client sees a truncated body rather
			// than a clean end of stream.
			panic(http.ErrAbortHandler)
		}
		if up.chunk == "" {
			continue
		}
		if _, err := io.WriteString(w, up.chunk); err != nil {
			h.logger.Debug("Client went away mid-stream", "client", client, "error", err)
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
		chunks++
	}
	h.logger.Debug("Chat stream completed", "provider", h.provider.Name(), "client", client, "chunks", chunks)
}

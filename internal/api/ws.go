package api

import (
	"net/http"
	"slices"
	"unicode/utf8"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/ashureev/cohe-chat/internal/completion"
	"github.com/ashureev/cohe-chat/internal/identity"
)

// maxCloseReason is the largest close reason a control frame can carry.
const maxCloseReason = 123

// ChatWS serves the WebSocket variant of Chat. The client sends one JSON
// request frame; each chunk is sent as a text frame and a normal closure
// ends the stream. Failures before the first chunk close with
// completion.CloseCodeHTTPBase plus the HTTP status.
func (h *Handler) ChatWS(w http.ResponseWriter, r *http.Request) {
	opts := &websocket.AcceptOptions{}
	if len(h.wsOrigins) == 0 || slices.Contains(h.wsOrigins, "*") {
		opts.InsecureSkipVerify = true
	} else {
		opts.OriginPatterns = h.wsOrigins
	}
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		h.logger.Warn("WebSocket accept failed", "error", err)
		return
	}
	defer func() { _ = conn.CloseNow() }()
	conn.SetReadLimit(defaultMaxRequestBodySize)

	ctx := r.Context()
	client := identity.ClientIPFromContext(ctx)

	var req completion.Request
	if err := wsjson.Read(ctx, conn, &req); err != nil {
		h.closeWithStatus(conn, http.StatusBadRequest, h.translator.Format("errors.invalidJSON", nil))
		return
	}
	prompt, reason, ok := h.validatePrompt(req.Prompt)
	if !ok {
		h.closeWithStatus(conn, http.StatusBadRequest, reason)
		return
	}

	up := h.startUpstream(ctx, prompt)
	defer up.stop()

	if up.ok && up.err != nil {
		status, msg := h.upstreamStatus(up.err)
		h.logger.Warn("Upstream rejected chat request",
			"provider", h.provider.Name(), "client", client, "status", status, "error", up.err)
		h.closeWithStatus(conn, status, msg)
		return
	}

	chunks := 0
	for ; up.ok; up.advance() {
		if up.err != nil {
			h.logger.Error("Upstream stream failed",
				"provider", h.provider.Name(), "client", client, "chunks", chunks, "error", up.err)
			_ = conn.Close(websocket.StatusInternalError, truncateReason(h.translator.Format("errors.stream", nil)))
			return
		}
		if up.chunk == "" {
			continue
		}
		if err := conn.Write(ctx, websocket.MessageText, []byte(up.chunk)); err != nil {
			h.logger.Debug("Client went away mid-stream", "client", client, "error", err)
			return
		}
		chunks++
	}

	if err := conn.Close(websocket.StatusNormalClosure, ""); err != nil && ctx.Err() == nil {
		h.logger.Debug("WebSocket close failed", "client", client, "error", err)
	}
	h.logger.Debug("Chat stream completed", "provider", h.provider.Name(), "client", client, "chunks", chunks)
}

func (h *Handler) closeWithStatus(conn *websocket.Conn, status int, msg string) {
	code := websocket.StatusCode(completion.CloseCodeHTTPBase + status)
	if err := conn.Close(code, truncateReason(msg)); err != nil {
		h.logger.Debug("WebSocket close failed", "code", code, "error", err)
	}
}

// truncateReason cuts s to fit a close frame without splitting a character.
func truncateReason(s string) string {
	if len(s) <= maxCloseReason {
		return s
	}
	cut := maxCloseReason
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

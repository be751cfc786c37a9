package completion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/ashureev/cohe-chat/internal/shared"
)

const (
	// WSPath is the WebSocket variant of the chat endpoint.
	WSPath = "/ws/chat"

	// CloseCodeHTTPBase is added to an HTTP status to form the close code the
	// server uses for failures that happen before streaming starts.
	CloseCodeHTTPBase = 4000
)

// WSTransport streams completions over a WebSocket. Each text frame is one
// chunk; a normal closure ends the stream.
type WSTransport struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// NewWSTransport creates a transport for the proxy at baseURL (http or https).
func NewWSTransport(baseURL string, client *http.Client, logger *slog.Logger) *WSTransport {
	if logger == nil {
		logger = slog.Default()
	}
	u := strings.TrimRight(baseURL, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return &WSTransport{url: u + WSPath, client: client, logger: logger}
}

// Open dials the proxy, sends the prompt and waits for the first frame so
// that rejections surface as *shared.ServerError rather than stream errors.
func (t *WSTransport) Open(ctx context.Context, prompt string) (Stream, error) {
	conn, resp, err := websocket.Dial(ctx, t.url, &websocket.DialOptions{HTTPClient: t.client})
	if err != nil {
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
			serverErr := serverErrorFromResponse(resp)
			t.logger.Warn("WebSocket chat rejected", "status", serverErr.Status, "error", serverErr.Message)
			return nil, serverErr
		}
		return nil, &shared.NetworkError{Err: err}
	}

	if err := wsjson.Write(ctx, conn, Request{Prompt: prompt}); err != nil {
		_ = conn.CloseNow()
		return nil, &shared.NetworkError{Err: fmt.Errorf("send prompt: %w", err)}
	}

	s := &wsStream{conn: conn}
	first, err := s.read(ctx)
	if err != nil {
		if errors.Is(err, io.EOF) {
			s.done = true
			return s, nil
		}
		_ = conn.CloseNow()
		if code := websocket.CloseStatus(err); code >= CloseCodeHTTPBase && code < CloseCodeHTTPBase+1000 {
			var ce websocket.CloseError
			errors.As(err, &ce)
			return nil, &shared.ServerError{Status: int(code) - CloseCodeHTTPBase, Message: ce.Reason}
		}
		return nil, err
	}
	s.first = &first
	return s, nil
}

type wsStream struct {
	conn  *websocket.Conn
	first *string
	done  bool
}

func (s *wsStream) read(ctx context.Context) (string, error) {
	for {
		typ, data, err := s.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return "", io.EOF
			}
			return "", &shared.StreamError{Err: err}
		}
		if typ != websocket.MessageText {
			continue
		}
		return string(data), nil
	}
}

func (s *wsStream) Recv(ctx context.Context) (string, error) {
	if s.first != nil {
		chunk := *s.first
		s.first = nil
		return chunk, nil
	}
	if s.done {
		return "", io.EOF
	}
	chunk, err := s.read(ctx)
	if err != nil {
		s.done = true
		return "", err
	}
	return chunk, nil
}

func (s *wsStream) Close() error {
	return s.conn.CloseNow()
}

package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/ashureev/cohe-chat/internal/shared"
)

const (
	// ChatPath is the proxy endpoint for streamed completions.
	ChatPath = "/api/chat"

	readBufferSize = 4096
)

// HTTPTransport posts prompts to the proxy and reads the chunked text body.
type HTTPTransport struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewHTTPTransport creates a transport for the proxy at baseURL. A nil client
// uses a client without an overall timeout, since the body is a long stream.
func NewHTTPTransport(baseURL string, client *http.Client, logger *slog.Logger) *HTTPTransport {
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPTransport{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		logger:  logger,
	}
}

// Open sends the prompt and returns the response body as a Stream.
func (t *HTTPTransport) Open(ctx context.Context, prompt string) (Stream, error) {
	payload, err := json.Marshal(Request{Prompt: prompt})
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+ChatPath, bytes.NewReader(payload))
	if err != nil {
		return nil, &shared.NetworkError{Err: fmt.Errorf("create chat request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/plain")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, &shared.NetworkError{Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer func() {
			if closeErr := resp.Body.Close(); closeErr != nil {
				t.logger.Debug("failed to close error response body", "error", closeErr)
			}
		}()
		serverErr := serverErrorFromResponse(resp)
		t.logger.Warn("Chat request rejected", "status", serverErr.Status, "error", serverErr.Message)
		return nil, serverErr
	}

	return &httpStream{body: resp.Body, buf: make([]byte, readBufferSize)}, nil
}

// httpStream yields body reads as chunks. A multi-byte character split
// across two reads is held back until it is complete.
type httpStream struct {
	body    io.ReadCloser
	buf     []byte
	pending []byte
	err     error
}

func (s *httpStream) Recv(ctx context.Context) (string, error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", &shared.StreamError{Err: err}
		}
		if s.err != nil {
			if len(s.pending) > 0 {
				out := string(s.pending)
				s.pending = nil
				return out, nil
			}
			return "", s.err
		}

		n, err := s.body.Read(s.buf)
		data := append(s.pending, s.buf[:n]...)
		s.pending = nil
		switch {
		case errors.Is(err, io.EOF):
			s.err = io.EOF
		case err != nil:
			s.err = &shared.StreamError{Err: err}
		}

		cut := completeUTF8Prefix(data)
		if cut < len(data) {
			s.pending = append([]byte(nil), data[cut:]...)
		}
		if cut > 0 {
			return string(data[:cut]), nil
		}
	}
}

func (s *httpStream) Close() error {
	return s.body.Close()
}

// completeUTF8Prefix returns the length of the longest prefix of b that does
// not end inside a multi-byte character.
func completeUTF8Prefix(b []byte) int {
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if utf8.RuneStart(b[i]) {
			if utf8.FullRune(b[i:]) {
				return len(b)
			}
			return i
		}
	}
	return len(b)
}

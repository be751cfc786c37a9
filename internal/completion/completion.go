// Package completion opens streaming completion requests against the chat proxy.
package completion

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/cohe-chat/internal/shared"
)

// Stream is one in-flight completion. Recv returns the next chunk of text in
// arrival order and io.EOF once the server closed the stream normally.
type Stream interface {
	Recv(ctx context.Context) (string, error)
	Close() error
}

// Transport opens completion streams. Open fails with *shared.NetworkError
// when no response arrived and *shared.ServerError on a non-2xx status.
type Transport interface {
	Open(ctx context.Context, prompt string) (Stream, error)
}

// Request is the JSON body sent to the proxy.
type Request struct {
	Prompt string `json:"prompt"`
}

// ErrorBody is the JSON error payload returned by the proxy.
type ErrorBody struct {
	Error      string `json:"error"`
	RetryAfter int    `json:"retryAfter,omitempty"`
}

// serverErrorFromResponse decodes a non-2xx response into a ServerError.
func serverErrorFromResponse(resp *http.Response) *shared.ServerError {
	const maxErrorBody = 64 * 1024
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	serverErr := &shared.ServerError{Status: resp.StatusCode}
	var payload ErrorBody
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		serverErr.Message = payload.Error
		if payload.RetryAfter > 0 {
			serverErr.RetryAfter = time.Duration(payload.RetryAfter) * time.Second
		}
	} else {
		serverErr.Message = strings.TrimSpace(string(body))
		if serverErr.Message == "" {
			serverErr.Message = http.StatusText(resp.StatusCode)
		}
	}
	if serverErr.RetryAfter == 0 {
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
			serverErr.RetryAfter = time.Duration(secs) * time.Second
		}
	}
	return serverErr
}

// Package provider streams completions from hosted LLM vendors.
package provider

import (
	"context"
	"errors"
	"fmt"
	"iter"
)

// ErrMissingCredentials is returned when the vendor API key is not configured.
var ErrMissingCredentials = errors.New("provider API key is not configured")

// Provider streams the completion for a single prompt. The sequence yields
// text deltas in order; an error ends it.
type Provider interface {
	Name() string
	// Configured reports whether credentials are present.
	Configured() bool
	Stream(ctx context.Context, prompt string) iter.Seq2[string, error]
}

// UpstreamError is a non-2xx answer from the vendor API.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("upstream returned status %d", e.Status)
	}
	return fmt.Sprintf("upstream returned status %d: %s", e.Status, e.Body)
}

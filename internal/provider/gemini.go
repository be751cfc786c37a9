package provider

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"

	"google.golang.org/genai"
)

// DefaultGeminiModel is used when no model is configured.
const DefaultGeminiModel = "gemini-2.5-flash"

// Gemini streams completions from the Gemini API.
type Gemini struct {
	client *genai.Client
	model  string
	config *genai.GenerateContentConfig
	logger *slog.Logger
}

// NewGemini creates a Gemini provider. Without an API key no client is
// created and every stream fails with ErrMissingCredentials.
func NewGemini(ctx context.Context, apiKey, model string, logger *slog.Logger) (*Gemini, error) {
	if model == "" {
		model = DefaultGeminiModel
	}
	if logger == nil {
		logger = slog.Default()
	}
	temperature := float32(cohereTemperature)
	g := &Gemini{
		model:  model,
		logger: logger,
		config: &genai.GenerateContentConfig{
			Temperature:     &temperature,
			MaxOutputTokens: cohereMaxTokens,
		},
	}
	if apiKey == "" {
		return g, nil
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	g.client = client
	return g, nil
}

// Name implements Provider.
func (g *Gemini) Name() string { return "gemini" }

// Configured implements Provider.
func (g *Gemini) Configured() bool { return g.client != nil }

// Stream implements Provider.
func (g *Gemini) Stream(ctx context.Context, prompt string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if g.client == nil {
			yield("", ErrMissingCredentials)
			return
		}
		for resp, err := range g.client.Models.GenerateContentStream(ctx, g.model, genai.Text(prompt), g.config) {
			if err != nil {
				yield("", geminiError(err))
				return
			}
			text := resp.Text()
			if text == "" {
				continue
			}
			if !yield(text, nil) {
				return
			}
		}
	}
}

func geminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) && apiErr.Code != 0 {
		return &UpstreamError{Status: apiErr.Code, Body: apiErr.Message}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr.Code != 0 {
		return &UpstreamError{Status: apiErrPtr.Code, Body: apiErrPtr.Message}
	}
	return fmt.Errorf("gemini stream: %w", err)
}

package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"strings"
)

const (
	// DefaultCohereURL is the streaming generate endpoint.
	DefaultCohereURL = "https://api.cohere.ai/v1/generate"
	// DefaultCohereModel is used when no model is configured.
	DefaultCohereModel = "command-nightly"

	cohereMaxTokens   = 1000
	cohereTemperature = 1.2

	// maxCohereLine bounds one NDJSON event; the final event repeats the full
	// generation.
	maxCohereLine = 1 << 20
)

// CohereConfig holds the Cohere connection settings.
type CohereConfig struct {
	APIKey string
	URL    string
	Model  string
	Client *http.Client
}

// Cohere streams completions from the Cohere generate API.
type Cohere struct {
	apiKey string
	url    string
	model  string
	client *http.Client
	logger *slog.Logger
}

// NewCohere creates a Cohere provider. Empty fields take their defaults.
func NewCohere(cfg CohereConfig, logger *slog.Logger) *Cohere {
	if cfg.URL == "" {
		cfg.URL = DefaultCohereURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultCohereModel
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cohere{
		apiKey: cfg.APIKey,
		url:    cfg.URL,
		model:  cfg.Model,
		client: cfg.Client,
		logger: logger,
	}
}

// Name implements Provider.
func (c *Cohere) Name() string { return "cohere" }

// Configured implements Provider.
func (c *Cohere) Configured() bool { return c.apiKey != "" }

type cohereRequest struct {
	Prompt            string   `json:"prompt"`
	Model             string   `json:"model"`
	MaxTokens         int      `json:"max_tokens"`
	StopSequences     []string `json:"stop_sequences"`
	Temperature       float64  `json:"temperature"`
	ReturnLikelihoods string   `json:"return_likelihoods"`
	Stream            bool     `json:"stream"`
}

type cohereEvent struct {
	Text         string `json:"text"`
	IsFinished   bool   `json:"is_finished"`
	FinishReason string `json:"finish_reason"`
}

// Stream implements Provider. Each NDJSON event carrying text is yielded as
// one delta.
func (c *Cohere) Stream(ctx context.Context, prompt string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if c.apiKey == "" {
			yield("", ErrMissingCredentials)
			return
		}

		body, err := c.open(ctx, prompt)
		if err != nil {
			yield("", err)
			return
		}
		defer func() {
			if closeErr := body.Close(); closeErr != nil {
				c.logger.Debug("failed to close cohere response body", "error", closeErr)
			}
		}()

		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), maxCohereLine)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var ev cohereEvent
			if err := json.Unmarshal(line, &ev); err != nil {
				yield("", fmt.Errorf("decode cohere event: %w", err))
				return
			}
			if ev.IsFinished {
				if strings.HasPrefix(ev.FinishReason, "ERROR") {
					yield("", fmt.Errorf("cohere generation failed: %s", ev.FinishReason))
				}
				return
			}
			if ev.Text == "" {
				continue
			}
			if !yield(ev.Text, nil) {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			yield("", fmt.Errorf("read cohere stream: %w", err))
		}
	}
}

func (c *Cohere) open(ctx context.Context, prompt string) (io.ReadCloser, error) {
	payload, err := json.Marshal(cohereRequest{
		Prompt:            prompt,
		Model:             c.model,
		MaxTokens:         cohereMaxTokens,
		StopSequences:     []string{},
		Temperature:       cohereTemperature,
		ReturnLikelihoods: "NONE",
		Stream:            true,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal cohere request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create cohere request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cohere request: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer func() { _ = resp.Body.Close() }()
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		c.logger.Warn("Cohere rejected request", "status", resp.StatusCode)
		return nil, &UpstreamError{Status: resp.StatusCode, Body: strings.TrimSpace(string(text))}
	}
	return resp.Body, nil
}

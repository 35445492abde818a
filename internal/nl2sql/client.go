package nl2sql

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nlpdb/nlpdb/internal/config"
	"github.com/nlpdb/nlpdb/internal/observability"
)

var (
	ErrCompletionUnavailable = errors.New("completion service unavailable")
	ErrCompletionBadStatus   = errors.New("completion service returned an error status")
	ErrCompletionMalformed   = errors.New("completion response is malformed")
)

const (
	defaultBaseURL = "http://127.0.0.1:1234"
	defaultTimeout = 60 * time.Second
	maxErrorBody   = 512
)

// Completer sends a prompt and returns the raw completion text.
type Completer interface {
	Complete(ctx context.Context, prompt Prompt) (string, error)
}

// Client talks to an OpenAI-compatible chat completions endpoint. Failures are
// returned immediately; the client never retries.
type Client struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

func NewClient(cfg config.AIConfig) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  strings.TrimSpace(cfg.APIKey),
		model:   strings.TrimSpace(cfg.Model),
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *Client) Model() string {
	return c.model
}

type chatRequest struct {
	Model            string    `json:"model,omitempty"`
	Messages         []Message `json:"messages"`
	Temperature      float64   `json:"temperature"`
	MaxTokens        int       `json:"max_tokens"`
	Stream           bool      `json:"stream"`
	TopP             float64   `json:"top_p"`
	FrequencyPenalty float64   `json:"frequency_penalty"`
	PresencePenalty  float64   `json:"presence_penalty"`
}

type chatResponse struct {
	Choices []struct {
		Message *struct {
			Content *string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *Client) Complete(ctx context.Context, prompt Prompt) (string, error) {
	started := time.Now()
	text, outcome, err := c.complete(ctx, prompt)
	observability.ObserveCompletion(outcome, time.Since(started))
	return text, err
}

func (c *Client) complete(ctx context.Context, prompt Prompt) (string, string, error) {
	body, err := json.Marshal(chatRequest{
		Model:            c.model,
		Messages:         prompt.Messages,
		Temperature:      prompt.Params.Temperature,
		MaxTokens:        prompt.Params.MaxTokens,
		TopP:             prompt.Params.TopP,
		FrequencyPenalty: prompt.Params.FrequencyPenalty,
		PresencePenalty:  prompt.Params.PresencePenalty,
	})
	if err != nil {
		return "", "marshal", fmt.Errorf("marshal chat payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", "unavailable", fmt.Errorf("%w: build chat request: %w", ErrCompletionUnavailable, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", "unavailable", fmt.Errorf("%w: %w", ErrCompletionUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	rawRespBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "unavailable", fmt.Errorf("%w: read response body: %w", ErrCompletionUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", "bad_status", fmt.Errorf("%w: status=%d body=%s", ErrCompletionBadStatus, resp.StatusCode, truncate(string(rawRespBody), maxErrorBody))
	}

	var parsed chatResponse
	if err := json.Unmarshal(rawRespBody, &parsed); err != nil {
		return "", "malformed", fmt.Errorf("%w: decode response: %w", ErrCompletionMalformed, err)
	}
	if len(parsed.Choices) == 0 || parsed.Choices[0].Message == nil || parsed.Choices[0].Message.Content == nil {
		return "", "malformed", fmt.Errorf("%w: missing choices[0].message.content", ErrCompletionMalformed)
	}
	return strings.TrimSpace(*parsed.Choices[0].Message.Content), "ok", nil
}

func truncate(value string, limit int) string {
	value = strings.TrimSpace(value)
	if len(value) <= limit {
		return value
	}
	return value[:limit] + "..."
}

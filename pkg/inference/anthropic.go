package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const providerClaude = "claude"

const anthropicVersion = "2023-06-01"

// Anthropic implements the Provider interface for Anthropic's Messages API.
type Anthropic struct {
	apiKey string
	config *Config
	http   *http.Client
	logger *slog.Logger
}

// NewAnthropic creates an Anthropic (Claude) provider.
func NewAnthropic(opts ...Option) (*Anthropic, error) {
	cfg := DefaultConfig()
	cfg.BaseURL = "https://api.anthropic.com/v1"
	cfg.Model = "claude-3-5-sonnet-latest"
	cfg.MaxTokens = 300
	cfg.Apply(opts...)

	if cfg.APIKey == "" {
		return nil, WrapError(providerClaude, ErrNoAPIKey)
	}

	return &Anthropic{
		apiKey: cfg.APIKey,
		config: cfg,
		http:   cfg.httpClient(),
		logger: cfg.Logger.With("component", "inference.anthropic"),
	}, nil
}

// Name identifies this provider.
func (a *Anthropic) Name() string { return providerClaude }

// Describe analyzes an image using the Messages API.
func (a *Anthropic) Describe(ctx context.Context, req *Request) (*Result, error) {
	start := time.Now()

	if len(req.Image) == 0 {
		return nil, WrapError(providerClaude, ErrNoImage)
	}

	model := req.Model
	if model == "" {
		model = a.config.Model
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = a.config.MaxTokens
	}

	content := []map[string]interface{}{
		{"type": "text", "text": req.Prompt},
		{
			"type": "image",
			"source": map[string]string{
				"type":       "base64",
				"media_type": "image/jpeg",
				"data":       EncodeImageBytesBase64(req.Image),
			},
		},
	}

	payload := map[string]interface{}{
		"model":      model,
		"max_tokens": maxTokens,
		"messages": []map[string]interface{}{{
			"role":    "user",
			"content": content,
		}},
	}

	if temp := req.Temperature; temp > 0 {
		payload["temperature"] = temp
	}

	resp, err := a.post(ctx, "/messages", payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, a.parseError(resp)
	}

	var result anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, WrapError(providerClaude, fmt.Errorf("decode response: %w", err))
	}

	var text string
	for _, block := range result.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}
	if text == "" {
		return nil, WrapError(providerClaude, ErrEmptyResponse)
	}

	return &Result{
		Description: strings.TrimSpace(text),
		Provider:    providerClaude,
		Model:       result.Model,
		Usage: Usage{
			PromptTokens:     result.Usage.InputTokens,
			CompletionTokens: result.Usage.OutputTokens,
			TotalTokens:      result.Usage.InputTokens + result.Usage.OutputTokens,
		},
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}

// Health checks API connectivity with a minimal text-only message.
func (a *Anthropic) Health(ctx context.Context) error {
	payload := map[string]interface{}{
		"model":      a.config.Model,
		"max_tokens": 1,
		"messages": []map[string]interface{}{{
			"role":    "user",
			"content": "ping",
		}},
	}

	resp, err := a.post(ctx, "/messages", payload)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return a.parseError(resp)
	}
	return nil
}

// Close releases resources.
func (a *Anthropic) Close() error {
	a.http.CloseIdleConnections()
	return nil
}

// post makes a POST request with Anthropic auth headers and retries.
func (a *Anthropic) post(ctx context.Context, path string, payload interface{}) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, WrapError(providerClaude, fmt.Errorf("marshal payload: %w", err))
	}

	url := strings.TrimSuffix(a.config.BaseURL, "/") + path

	var lastErr error
	for attempt := 0; attempt <= a.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(a.config.RetryDelay * time.Duration(attempt)):
			}
		}

		req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
		if err != nil {
			return nil, WrapError(providerClaude, fmt.Errorf("create request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-api-key", a.apiKey)
		req.Header.Set("anthropic-version", anthropicVersion)

		resp, err := a.http.Do(req)
		if err != nil {
			lastErr = WrapError(providerClaude, err)
			a.logger.Warn("request failed, retrying",
				"attempt", attempt+1,
				"error", err,
			)
			continue
		}

		if resp.StatusCode == 429 || resp.StatusCode >= 500 {
			lastErr = a.parseError(resp)
			a.logger.Warn("retrying request",
				"attempt", attempt+1,
				"status", resp.StatusCode,
			)
			continue
		}

		return resp, nil
	}

	return nil, lastErr
}

// parseError reads and parses an error response.
func (a *Anthropic) parseError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	var errResp struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}

	message := string(body)
	code := ""
	if json.Unmarshal(body, &errResp) == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
		code = errResp.Error.Type
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		Message:    message,
		Code:       code,
		Provider:   providerClaude,
	}
}

// anthropicResponse is the Messages API response format.
type anthropicResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Verify Anthropic implements Provider at compile time.
var _ Provider = (*Anthropic)(nil)

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

const providerGemini = "gemini"

// Gemini implements the Provider interface for Google's Gemini API.
// Note: Gemini uses a different API format than OpenAI, so we implement it directly.
type Gemini struct {
	apiKey string
	config *Config
	http   *http.Client
	logger *slog.Logger
}

// NewGemini creates a Gemini provider.
func NewGemini(opts ...Option) (*Gemini, error) {
	cfg := DefaultConfig()
	cfg.BaseURL = "https://generativelanguage.googleapis.com/v1beta"
	cfg.Model = "gemini-1.5-flash"
	cfg.MaxTokens = 150
	cfg.Apply(opts...)

	if cfg.APIKey == "" {
		return nil, WrapError(providerGemini, ErrNoAPIKey)
	}

	return &Gemini{
		apiKey: cfg.APIKey,
		config: cfg,
		http:   cfg.httpClient(),
		logger: cfg.Logger.With("component", "inference.gemini"),
	}, nil
}

// Name identifies this provider.
func (g *Gemini) Name() string { return providerGemini }

// Describe analyzes an image using Gemini.
func (g *Gemini) Describe(ctx context.Context, req *Request) (*Result, error) {
	start := time.Now()

	if len(req.Image) == 0 {
		return nil, WrapError(providerGemini, ErrNoImage)
	}

	model := req.Model
	if model == "" {
		model = g.config.Model
	}

	parts := []map[string]interface{}{
		{"text": req.Prompt},
		{
			"inline_data": map[string]string{
				"mime_type": "image/jpeg",
				"data":      EncodeImageBytesBase64(req.Image),
			},
		},
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = g.config.MaxTokens
	}

	temp := req.Temperature
	if temp == 0 {
		temp = g.config.Temperature
	}

	payload := map[string]interface{}{
		"contents": []map[string]interface{}{
			{"parts": parts},
		},
		"generationConfig": map[string]interface{}{
			"temperature":     temp,
			"maxOutputTokens": maxTokens,
		},
	}

	result, err := g.generate(ctx, model, payload)
	if err != nil {
		return nil, err
	}

	if len(result.Candidates) == 0 || len(result.Candidates[0].Content.Parts) == 0 {
		return nil, WrapError(providerGemini, ErrEmptyResponse)
	}

	return &Result{
		Description: strings.TrimSpace(result.Candidates[0].Content.Parts[0].Text),
		Provider:    providerGemini,
		Model:       model,
		Usage: Usage{
			PromptTokens:     result.UsageMetadata.PromptTokenCount,
			CompletionTokens: result.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      result.UsageMetadata.TotalTokenCount,
		},
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}

// Health checks API connectivity with a minimal text-only call.
func (g *Gemini) Health(ctx context.Context) error {
	payload := map[string]interface{}{
		"contents": []map[string]interface{}{
			{"parts": []map[string]interface{}{{"text": "ping"}}},
		},
		"generationConfig": map[string]interface{}{
			"maxOutputTokens": 1,
		},
	}
	_, err := g.generate(ctx, g.config.Model, payload)
	return err
}

// Close releases resources.
func (g *Gemini) Close() error {
	g.http.CloseIdleConnections()
	return nil
}

// generate posts a generateContent payload and decodes the response.
func (g *Gemini) generate(ctx context.Context, model string, payload map[string]interface{}) (*geminiResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, WrapError(providerGemini, err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", g.config.BaseURL, model, g.apiKey)

	var lastErr error
	for attempt := 0; attempt <= g.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(g.config.RetryDelay * time.Duration(attempt)):
			}
		}

		httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
		if err != nil {
			return nil, WrapError(providerGemini, err)
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := g.http.Do(httpReq)
		if err != nil {
			lastErr = WrapError(providerGemini, err)
			g.logger.Warn("request failed, retrying",
				"attempt", attempt+1,
				"error", err,
			)
			continue
		}

		if resp.StatusCode == 429 || resp.StatusCode >= 500 {
			lastErr = g.parseError(resp)
			g.logger.Warn("retrying request",
				"attempt", attempt+1,
				"status", resp.StatusCode,
			)
			continue
		}

		if resp.StatusCode != http.StatusOK {
			return nil, g.parseError(resp)
		}

		var result geminiResponse
		err = json.NewDecoder(resp.Body).Decode(&result)
		resp.Body.Close()
		if err != nil {
			return nil, WrapError(providerGemini, fmt.Errorf("decode response: %w", err))
		}

		if result.Error.Message != "" {
			return nil, &APIError{
				StatusCode: resp.StatusCode,
				Message:    result.Error.Message,
				Provider:   providerGemini,
			}
		}

		return &result, nil
	}

	return nil, lastErr
}

// parseError reads and parses an error response.
func (g *Gemini) parseError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Code    int    `json:"code"`
		} `json:"error"`
	}

	message := string(body)
	if json.Unmarshal(body, &errResp) == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		Message:    message,
		Provider:   providerGemini,
	}
}

// geminiResponse is the Gemini API response format.
type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
	Error struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// Verify Gemini implements Provider at compile time.
var _ Provider = (*Gemini)(nil)

// Package inference provides a unified interface for vision-language inference.
//
// The package abstracts image description behind a single Provider
// interface, enabling seamless switching between Gemini, OpenAI-compatible
// endpoints (OpenAI, Ollama, vLLM, Together, and others), and Anthropic.
// A Chain falls through an ordered list of providers so a transient
// outage at one service does not lose the frame.
//
// Example usage:
//
//	provider, _ := inference.NewGemini(
//	    inference.WithAPIKey(os.Getenv("GEMINI_API_KEY")),
//	    inference.WithModel("gemini-1.5-flash"),
//	)
//	defer provider.Close()
//
//	result, _ := provider.Describe(ctx, &inference.Request{
//	    Image:  jpegBytes,
//	    Prompt: "What do you see?",
//	})
package inference

import (
	"context"
)

// Provider describes images through a remote vision-language API.
// All implementations must satisfy this interface.
type Provider interface {
	// Name identifies the provider ("gemini", "openai", "claude", ...).
	Name() string

	// Describe analyzes an image with a text prompt and returns a
	// natural-language description.
	Describe(ctx context.Context, req *Request) (*Result, error)

	// Health checks provider connectivity and API key validity.
	Health(ctx context.Context) error

	// Close releases any resources held by the provider.
	Close() error
}

// Request for image analysis.
type Request struct {
	// Image is the JPEG-encoded frame to analyze.
	Image []byte

	// Prompt describing what to analyze or ask about the image.
	Prompt string

	// Model overrides the provider's default model.
	Model string

	// MaxTokens limits the response length.
	MaxTokens int

	// Temperature controls randomness.
	Temperature float64
}

// Result from image analysis.
type Result struct {
	// Description is the natural language response.
	Description string

	// Provider identifies which provider produced the result.
	Provider string

	// Model used for analysis.
	Model string

	// Usage tracks token consumption.
	Usage Usage

	// LatencyMs is the response time in milliseconds.
	LatencyMs int64
}

// Usage tracks token consumption for billing and limits.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

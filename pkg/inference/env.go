package inference

import (
	"os"
	"strings"
)

// DefaultProviderOrder is used when VISION_PROVIDER_ORDER is unset.
const DefaultProviderOrder = "gemini,openai,claude"

// FromEnv builds a provider chain from environment variables.
//
// The order argument lists provider names to try; when empty it falls
// back to VISION_PROVIDER_ORDER, then DefaultProviderOrder. Providers
// whose API key is not present in the environment are skipped:
//
//	gemini  -> GEMINI_API_KEY or GOOGLE_API_KEY
//	openai  -> OPENAI_API_KEY
//	claude  -> ANTHROPIC_API_KEY
//
// The supplied options are applied to every constructed provider.
// Returns ErrProviderUnavailable when no provider has a key.
func FromEnv(order []string, opts ...Option) (*Chain, error) {
	if len(order) == 0 {
		raw := os.Getenv("VISION_PROVIDER_ORDER")
		if raw == "" {
			raw = DefaultProviderOrder
		}
		for _, name := range strings.Split(raw, ",") {
			if name = strings.TrimSpace(name); name != "" {
				order = append(order, name)
			}
		}
	}

	var providers []Provider
	for _, name := range order {
		switch strings.ToLower(name) {
		case "gemini", "google":
			key := os.Getenv("GEMINI_API_KEY")
			if key == "" {
				key = os.Getenv("GOOGLE_API_KEY")
			}
			if key == "" {
				continue
			}
			p, err := NewGemini(append([]Option{WithAPIKey(key)}, opts...)...)
			if err != nil {
				return nil, err
			}
			providers = append(providers, p)
		case "openai":
			key := os.Getenv("OPENAI_API_KEY")
			if key == "" {
				continue
			}
			p, err := NewClient(append([]Option{WithAPIKey(key)}, opts...)...)
			if err != nil {
				return nil, err
			}
			providers = append(providers, p)
		case "claude", "anthropic":
			key := os.Getenv("ANTHROPIC_API_KEY")
			if key == "" {
				continue
			}
			p, err := NewAnthropic(append([]Option{WithAPIKey(key)}, opts...)...)
			if err != nil {
				return nil, err
			}
			providers = append(providers, p)
		}
	}

	return NewChain(providers...)
}

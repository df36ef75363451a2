// Package factory constructs retry-wrapped llm.Client instances from provider
// configuration.
package factory

import (
	"fmt"

	"hound/pkg/llm"
	"hound/pkg/llm/anthropic"
	"hound/pkg/llm/google"
	"hound/pkg/llm/llmerrors"
	"hound/pkg/llm/ollama"
	"hound/pkg/llm/openai"
)

// NewClient builds a client for the configured provider and wraps it with the
// retry layer. Unknown providers and missing credentials are fatal config
// errors, not retryable ones.
func NewClient(cfg llm.ProviderConfig) (llm.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeFatalConfig, err, "invalid provider config")
	}

	var raw llm.Client
	switch cfg.Provider {
	case llm.ProviderAnthropic:
		raw = anthropic.New(cfg.APIKey, cfg.Model)
	case llm.ProviderOpenAI:
		raw = openai.New(cfg.APIKey, cfg.Model)
	case llm.ProviderGoogle:
		raw = google.New(cfg.APIKey, cfg.Model)
	case llm.ProviderOllama:
		raw = ollama.New(cfg.Host, cfg.Model)
	default:
		return nil, llmerrors.NewError(llmerrors.ErrorTypeFatalConfig, fmt.Sprintf("unknown provider: %q", cfg.Provider))
	}

	return llm.NewRetryableClient(raw), nil
}

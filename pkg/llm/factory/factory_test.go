package factory

import (
	"errors"
	"testing"

	"hound/pkg/llm"
	"hound/pkg/llm/llmerrors"
)

func TestNewClientKnownProviders(t *testing.T) {
	cases := []llm.ProviderConfig{
		{Provider: llm.ProviderAnthropic, Model: "claude-sonnet-4-20250514", APIKey: "test-key"},
		{Provider: llm.ProviderOpenAI, Model: "gpt-4o", APIKey: "test-key"},
		{Provider: llm.ProviderGoogle, Model: "gemini-2.0-flash", APIKey: "test-key"},
		{Provider: llm.ProviderOllama, Model: "llama3", Host: "http://localhost:11434"},
	}
	for _, cfg := range cases {
		client, err := NewClient(cfg)
		if err != nil {
			t.Errorf("NewClient(%s) failed: %v", cfg.Provider, err)
			continue
		}
		if client.ModelName() != cfg.Model {
			t.Errorf("provider %s: expected model %q, got %q", cfg.Provider, cfg.Model, client.ModelName())
		}
	}
}

func TestNewClientUnknownProvider(t *testing.T) {
	_, err := NewClient(llm.ProviderConfig{Provider: "mystery", Model: "m", APIKey: "k"})
	if err == nil {
		t.Fatal("expected error for unknown provider")
	}
	if !llmerrors.Is(err, llmerrors.ErrorTypeFatalConfig) {
		t.Errorf("expected fatal config error, got: %v", err)
	}
}

func TestNewClientMissingKey(t *testing.T) {
	_, err := NewClient(llm.ProviderConfig{Provider: llm.ProviderAnthropic, Model: "claude-sonnet-4-20250514"})
	if err == nil {
		t.Fatal("expected error for missing API key")
	}
	if !llmerrors.Is(err, llmerrors.ErrorTypeFatalConfig) {
		t.Errorf("expected fatal config error, got: %v", err)
	}
	var lerr *llmerrors.Error
	if !errors.As(err, &lerr) {
		t.Fatalf("expected *llmerrors.Error, got %T", err)
	}
	if lerr.Unwrap() == nil {
		t.Error("validation cause was not preserved through wrapping")
	}
}

func TestNewClientOllamaNeedsNoKey(t *testing.T) {
	_, err := NewClient(llm.ProviderConfig{Provider: llm.ProviderOllama, Model: "llama3"})
	if err != nil {
		t.Fatalf("ollama without API key should succeed, got: %v", err)
	}
}

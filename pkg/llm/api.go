// Package llm provides the provider-neutral language model contract used by
// the coordinator and investigator loops: a list of messages in, text out.
//
// Clients are stateless and perform no internal retry; retry policy belongs
// to the caller (see RetryableClient).
package llm

import (
	"context"
	"fmt"
)

// Role represents the role of a message in a conversation.
type Role string

const (
	// RoleSystem indicates a system message that provides instructions or context.
	RoleSystem Role = "system"
	// RoleUser indicates a message from the human user or a tool result.
	RoleUser Role = "user"
	// RoleAssistant indicates a message from the model.
	RoleAssistant Role = "assistant"
)

const (
	// DefaultMaxTokens is the default completion budget per request.
	DefaultMaxTokens = 4096

	// TemperatureDefault is the default sampling temperature for
	// investigation planning and judgment tasks.
	TemperatureDefault = 0.3
)

// Message represents a message in a completion request.
type Message struct {
	Role    Role
	Content string
}

// Request represents a request to generate a completion.
type Request struct {
	Messages    []Message
	MaxTokens   int
	Temperature float32
}

// Response represents the normalized provider response.
type Response struct {
	Content    string // Main response text
	StopReason string // Why the response stopped: "end_turn", "max_tokens", etc.
}

// Client defines the interface for language model interactions.
type Client interface {
	// Complete generates a completion synchronously.
	Complete(ctx context.Context, in Request) (Response, error)

	// ModelName returns the model name for this client.
	ModelName() string
}

// Supported provider names.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGoogle    = "google"
	ProviderOllama    = "ollama"
)

// ProviderConfig holds everything needed to construct a provider client.
type ProviderConfig struct {
	Provider string // one of the Provider* constants
	Model    string
	APIKey   string
	Host     string // Ollama server URL; ignored by hosted providers
}

// NewRequest creates a completion request with default values.
func NewRequest(messages []Message) Request {
	return Request{
		Messages:    messages,
		MaxTokens:   DefaultMaxTokens,
		Temperature: TemperatureDefault,
	}
}

// NewSystemMessage creates a new system message.
func NewSystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// NewAssistantMessage creates a new assistant message.
func NewAssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// Validate validates a provider configuration.
func (c *ProviderConfig) Validate() error {
	if c.Provider == "" {
		return fmt.Errorf("provider cannot be empty")
	}
	if c.Model == "" {
		return fmt.Errorf("model name cannot be empty")
	}
	if c.Provider != ProviderOllama && c.APIKey == "" {
		return fmt.Errorf("API key cannot be empty for provider %s", c.Provider)
	}
	return nil
}

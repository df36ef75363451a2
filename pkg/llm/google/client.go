// Package google provides the Google Gemini implementation of llm.Client.
package google

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/genai"

	"hound/pkg/llm"
	"hound/pkg/llm/llmerrors"
)

// Client wraps the Google GenAI client to implement llm.Client. A single
// instance is shared across concurrent sessions, so lazy construction is
// guarded by a sync.Once.
type Client struct {
	initOnce sync.Once
	initErr  error
	client   *genai.Client
	apiKey   string
	model    string
}

// New creates a raw Gemini client. The underlying SDK client needs a context
// to construct, so creation is deferred to the first Complete call.
func New(apiKey, model string) *Client {
	return &Client{
		apiKey: apiKey,
		model:  model,
	}
}

// Complete implements llm.Client.
func (g *Client) Complete(ctx context.Context, in llm.Request) (llm.Response, error) {
	g.initOnce.Do(func() {
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  g.apiKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			g.initErr = llmerrors.NewErrorWithCause(llmerrors.ErrorTypeFatalConfig, err, "failed to create Gemini client")
			return
		}
		g.client = client
	})
	if g.initErr != nil {
		return llm.Response{}, g.initErr
	}

	contents, systemInstruction, err := convertMessages(in.Messages)
	if err != nil {
		return llm.Response{}, llmerrors.NewError(llmerrors.ErrorTypeMalformed, fmt.Sprintf("message conversion error: %v", err))
	}

	temperature := in.Temperature
	//nolint:gosec // MaxTokens validated at higher layer
	maxTokens := int32(in.MaxTokens)
	config := &genai.GenerateContentConfig{
		Temperature:     &temperature,
		MaxOutputTokens: maxTokens,
	}
	if systemInstruction != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: systemInstruction}},
		}
	}

	result, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return llm.Response{}, llmerrors.Classify(err)
	}
	if result == nil {
		return llm.Response{}, llmerrors.NewError(llmerrors.ErrorTypeMalformed, "empty response from Gemini API")
	}

	return llm.Response{
		Content:    result.Text(),
		StopReason: stopReason(result),
	}, nil
}

// ModelName returns the model name for this client.
func (g *Client) ModelName() string {
	return g.model
}

// convertMessages converts messages to Gemini Content format. System messages
// collapse into the system instruction; Gemini uses "model" for assistant turns.
func convertMessages(messages []llm.Message) (contents []*genai.Content, systemInstruction string, err error) {
	if len(messages) == 0 {
		return nil, "", fmt.Errorf("message list cannot be empty")
	}

	for i := range messages {
		msg := &messages[i]
		switch msg.Role {
		case llm.RoleSystem:
			if systemInstruction != "" {
				systemInstruction += "\n\n"
			}
			systemInstruction += msg.Content
		case llm.RoleAssistant:
			contents = append(contents, &genai.Content{
				Role:  "model",
				Parts: []*genai.Part{{Text: msg.Content}},
			})
		case llm.RoleUser:
			contents = append(contents, &genai.Content{
				Role:  "user",
				Parts: []*genai.Part{{Text: msg.Content}},
			})
		default:
			return nil, "", fmt.Errorf("unsupported message role: %s", msg.Role)
		}
	}

	if len(contents) == 0 {
		return nil, "", fmt.Errorf("must have at least one non-system message")
	}
	return contents, systemInstruction, nil
}

func stopReason(result *genai.GenerateContentResponse) string {
	if len(result.Candidates) == 0 {
		return ""
	}
	return string(result.Candidates[0].FinishReason)
}

// Package contextmgr assembles token-budgeted conversation history for loop
// turns.
package contextmgr

import (
	"github.com/tiktoken-go/tokenizer"

	"hound/pkg/llm"
)

// DefaultTokenBudget bounds history when no budget is configured.
const DefaultTokenBudget = 64000

// Manager accumulates conversation turns and returns them trimmed to a token
// budget. The system prompt and the most recent turns are always retained;
// trimming drops the oldest non-system messages first.
type Manager struct {
	system   llm.Message
	messages []llm.Message
	budget   int
	codec    tokenizer.Codec
}

// NewManager creates a manager with the given system prompt and token budget.
// Token counts use the GPT-4 encoding as an approximation across providers;
// if the codec is unavailable, a 4-chars-per-token estimate is used.
func NewManager(systemPrompt string, budget int) *Manager {
	if budget <= 0 {
		budget = DefaultTokenBudget
	}
	codec, err := tokenizer.ForModel(tokenizer.GPT4)
	if err != nil {
		codec = nil
	}
	return &Manager{
		system: llm.NewSystemMessage(systemPrompt),
		budget: budget,
		codec:  codec,
	}
}

// AddUser appends a user message.
func (m *Manager) AddUser(content string) {
	m.messages = append(m.messages, llm.NewUserMessage(content))
}

// AddAssistant appends an assistant message.
func (m *Manager) AddAssistant(content string) {
	m.messages = append(m.messages, llm.NewAssistantMessage(content))
}

// AddToolResult appends a tool result as a user message so any provider can
// carry it.
func (m *Manager) AddToolResult(toolName, result string) {
	m.messages = append(m.messages, llm.NewUserMessage("Result of "+toolName+":\n"+result))
}

// CountTokens returns the token count of the current history including the
// system prompt.
func (m *Manager) CountTokens() int {
	total := m.count(m.system.Content)
	for i := range m.messages {
		total += m.count(m.messages[i].Content)
	}
	return total
}

// Messages returns the system prompt plus history trimmed oldest-first to the
// token budget. The most recent message always survives even if it alone
// exceeds the budget.
func (m *Manager) Messages() []llm.Message {
	kept := m.messages
	budget := m.budget - m.count(m.system.Content)

	total := 0
	for i := range kept {
		total += m.count(kept[i].Content)
	}
	for total > budget && len(kept) > 1 {
		total -= m.count(kept[0].Content)
		kept = kept[1:]
	}

	out := make([]llm.Message, 0, len(kept)+1)
	out = append(out, m.system)
	out = append(out, kept...)
	return out
}

// Len returns the number of history messages excluding the system prompt.
func (m *Manager) Len() int {
	return len(m.messages)
}

func (m *Manager) count(text string) int {
	if m.codec != nil {
		if n, err := m.codec.Count(text); err == nil {
			return n
		}
	}
	return len(text) / 4
}

package llm

import (
	"context"
	"sync"
)

// MockClient is a scripted Client for tests. Each Complete call consumes the
// next scripted reply or error in order; past the script it repeats the last
// reply.
type MockClient struct {
	mu      sync.Mutex
	replies []MockReply
	calls   []Request
	next    int
	model   string
}

// MockReply is one scripted turn.
type MockReply struct {
	Content string
	Err     error
}

// NewMockClient creates a scripted client.
func NewMockClient(replies ...MockReply) *MockClient {
	return &MockClient{replies: replies, model: "mock"}
}

// Complete implements Client.
func (m *MockClient) Complete(ctx context.Context, req Request) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, req)
	if len(m.replies) == 0 {
		return Response{Content: "", StopReason: "end_turn"}, nil
	}

	idx := m.next
	if idx >= len(m.replies) {
		idx = len(m.replies) - 1
	} else {
		m.next++
	}

	reply := m.replies[idx]
	if reply.Err != nil {
		return Response{}, reply.Err
	}
	return Response{Content: reply.Content, StopReason: "end_turn"}, nil
}

// ModelName implements Client.
func (m *MockClient) ModelName() string {
	return m.model
}

// Calls returns a copy of every request seen so far.
func (m *MockClient) Calls() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many Complete calls were made.
func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

package agent

import (
	"context"
	"encoding/json"
	"errors"
)

// nopStore satisfies the Store interface with no-ops.
type nopStore struct{}

func (nopStore) GetMessages(_ context.Context, _ string, _ int) ([]Message, error) {
	return nil, nil
}
func (nopStore) StoreMessage(_ context.Context, _ Message) error { return nil }
func (nopStore) SearchMessages(_ context.Context, _ []float32, _ int) ([]ScoredMessage, error) {
	return nil, nil
}

// --- Tool mocks (shared across input_test.go, processor_test.go, tool_test.go) ---

type mockTool struct{}

func (m mockTool) Definitions() []ToolDefinition {
	return []ToolDefinition{{Name: "greet", Description: "Say hello"}}
}

func (m mockTool) Execute(_ context.Context, name string, _ json.RawMessage) (ToolResult, error) {
	return ToolResult{Content: "hello from " + name}, nil
}

type mockToolCalc struct{}

func (m mockToolCalc) Definitions() []ToolDefinition {
	return []ToolDefinition{{Name: "calc", Description: "Calculate"}}
}
func (m mockToolCalc) Execute(_ context.Context, name string, _ json.RawMessage) (ToolResult, error) {
	return ToolResult{Content: "result from " + name}, nil
}

type errTool struct{}

func (e errTool) Definitions() []ToolDefinition {
	return []ToolDefinition{{Name: "fail", Description: "Always fails"}}
}
func (e errTool) Execute(_ context.Context, _ string, _ json.RawMessage) (ToolResult, error) {
	return ToolResult{}, errors.New("tool broken")
}

// callbackProvider captures ChatRequest via onChat callback for assertions.
type callbackProvider struct {
	name     string
	response ChatResponse
	onChat   func(ChatRequest)
}

func (c *callbackProvider) Name() string { return c.name }
func (c *callbackProvider) Chat(_ context.Context, req ChatRequest) (ChatResponse, error) {
	if c.onChat != nil {
		c.onChat(req)
	}
	return c.response, nil
}
func (c *callbackProvider) ChatWithTools(_ context.Context, req ChatRequest, _ []ToolDefinition) (ChatResponse, error) {
	if c.onChat != nil {
		c.onChat(req)
	}
	return c.response, nil
}
func (c *callbackProvider) ChatStream(_ context.Context, req ChatRequest, ch chan<- string) (ChatResponse, error) {
	defer close(ch)
	if c.onChat != nil {
		c.onChat(req)
	}
	return c.response, nil
}

// stubAgent is a minimal Agent implementation for Network tests.
type stubAgent struct {
	name string
	desc string
	fn   func(task AgentTask) (AgentResult, error)
}

func (s *stubAgent) Name() string        { return s.name }
func (s *stubAgent) Description() string { return s.desc }
func (s *stubAgent) Execute(_ context.Context, task AgentTask) (AgentResult, error) {
	return s.fn(task)
}

// mockProvider returns pre-configured responses in order, cycling to the
// last response once exhausted.
type mockProvider struct {
	name      string
	responses []ChatResponse
	calls     int
}

func (m *mockProvider) Name() string { return m.name }

func (m *mockProvider) next() ChatResponse {
	i := m.calls
	if i >= len(m.responses) {
		i = len(m.responses) - 1
	}
	m.calls++
	if i < 0 {
		return ChatResponse{}
	}
	return m.responses[i]
}

func (m *mockProvider) Chat(_ context.Context, _ ChatRequest) (ChatResponse, error) {
	return m.next(), nil
}

func (m *mockProvider) ChatWithTools(_ context.Context, _ ChatRequest, _ []ToolDefinition) (ChatResponse, error) {
	return m.next(), nil
}

func (m *mockProvider) ChatStream(_ context.Context, _ ChatRequest, ch chan<- string) (ChatResponse, error) {
	defer close(ch)
	resp := m.next()
	if resp.Content != "" {
		ch <- resp.Content
	}
	return resp, nil
}

var _ Provider = (*mockProvider)(nil)

// contextReadingTool is a tool that captures context in Execute for testing.
type contextReadingTool struct {
	onExecute func(ctx context.Context)
}

func (t *contextReadingTool) Definitions() []ToolDefinition {
	return []ToolDefinition{{Name: "ctx_reader", Description: "Reads context"}}
}
func (t *contextReadingTool) Execute(ctx context.Context, _ string, _ json.RawMessage) (ToolResult, error) {
	if t.onExecute != nil {
		t.onExecute(ctx)
	}
	return ToolResult{Content: "ok"}, nil
}

type multiTool struct{}

func (m multiTool) Definitions() []ToolDefinition {
	return []ToolDefinition{
		{Name: "read", Description: "Read file"},
		{Name: "write", Description: "Write file"},
	}
}
func (m multiTool) Execute(_ context.Context, name string, _ json.RawMessage) (ToolResult, error) {
	return ToolResult{Content: "did " + name}, nil
}

package openaicompat

import (
	"encoding/json"

	"github.com/nevindra/conduit/agent"
)

// ParseResponse converts an OpenAI-format ChatResponse to an agent
// ChatResponse. It extracts content, tool calls, and usage from
// choices[0].
func ParseResponse(resp ChatResponse) (agent.ChatResponse, error) {
	var out agent.ChatResponse

	if len(resp.Choices) == 0 {
		return out, nil
	}

	choice := resp.Choices[0]
	if choice.Message != nil {
		out.Content = choice.Message.Content
		out.ToolCalls = ParseToolCalls(choice.Message.ToolCalls)
	}

	if resp.Usage != nil {
		out.Usage = agent.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		}
	}

	return out, nil
}

// ParseToolCalls converts OpenAI tool call requests to agent ToolCalls.
// OpenAI returns function.arguments as a JSON string; we parse it into
// json.RawMessage.
func ParseToolCalls(tcs []ToolCallRequest) []agent.ToolCall {
	if len(tcs) == 0 {
		return nil
	}

	out := make([]agent.ToolCall, 0, len(tcs))
	for _, tc := range tcs {
		args := json.RawMessage(tc.Function.Arguments)
		if !json.Valid(args) {
			args = json.RawMessage(`{}`)
		}
		out = append(out, agent.ToolCall{ID: tc.ID, Name: tc.Function.Name, Args: args})
	}
	return out
}

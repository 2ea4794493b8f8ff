package conduit

import "context"

// ThreadHandle is the opaque, agent-implementation-specific handle
// produced by deserializing (or freshly creating) a thread's state. The
// engine never inspects it; it only threads it back through
// RunStreaming calls on the same DisposableAgent.
type ThreadHandle any

// DisposableAgent is the engine's abstraction over a concrete LLM-backed
// agent. Exactly one is constructed per (ThreadKey) for the lifetime of
// its open group (§4.4); AgentRunner disposes it once the group's
// prompt sequence is exhausted.
type DisposableAgent interface {
	// RunStreaming starts (or continues) a model run for the given
	// prompt text under the linked cancellation. It returns a lazy
	// sequence of ModelUpdates; the final element before closing the
	// channel should be a ContentStreamComplete item, which the caller
	// appends synthetically if the implementation does not.
	RunStreaming(ctx context.Context, prompt Prompt, thread ThreadHandle) (<-chan ModelUpdate, error)

	// DeserializeThread restores a ThreadHandle from a previously
	// persisted snapshot, or returns a fresh handle when snapshot is nil.
	DeserializeThread(snapshot []byte) (ThreadHandle, error)

	// SerializeThread captures the current ThreadHandle state for
	// persistence at a turn boundary.
	SerializeThread(thread ThreadHandle) ([]byte, error)

	// Dispose releases any resources (tool clients, MCP sessions)
	// acquired for this agent's lifetime. Called exactly once, on every
	// exit path: normal exhaustion, error, or cancellation.
	Dispose(ctx context.Context) error

	// SubmitApproval delivers a human's decision for a previously-emitted
	// ToolApprovalRequested (approvalID) back into the still-open run
	// that raised it, letting it resume producing ModelUpdates on the
	// same RunStreaming channel. AgentRunner calls this exactly once per
	// ContentApprovalRequest item it observes, from a separate goroutine
	// than the one draining RunStreaming's output, so implementations
	// must accept it concurrently with an in-flight RunStreaming call.
	// Implementations that never emit ContentApprovalRequest may return
	// nil unconditionally.
	SubmitApproval(ctx context.Context, approvalID string, resolved ApprovalResolved) error
}

// AgentFactory constructs a DisposableAgent for the first prompt of a
// newly opened group, selecting behavior by agent id and binding it to
// the originating sender.
type AgentFactory func(agentID, senderID string) (DisposableAgent, error)

package agent

import "context"

// Agent is a unit of work that takes a task and returns a result.
// Implementations range from single LLM tool-calling agents (LLMAgent)
// to multi-agent coordinators (Network).
type Agent interface {
	// Name returns the agent's identifier.
	Name() string
	// Description returns a human-readable description of what the agent does.
	// Used by Network to generate tool definitions for the routing LLM.
	Description() string
	// Execute runs the agent on the given task and returns a result.
	Execute(ctx context.Context, task AgentTask) (AgentResult, error)
}

// StreamingAgent is an Agent that can additionally stream its final response
// token by token. ch is closed when streaming completes, whether or not an
// error occurred.
type StreamingAgent interface {
	Agent
	ExecuteStream(ctx context.Context, task AgentTask, ch chan<- string) (AgentResult, error)
}

// AgentTask is the input to an Agent.
type AgentTask struct {
	// Input is the natural language task description.
	Input string
	// Context carries optional metadata (thread ID, user ID, etc.).
	Context map[string]string
	// Attachments carries multimodal content accompanying Input.
	Attachments []Attachment
}

// TaskThreadID returns the thread identifier carried in Context, or "" if
// the task is not associated with a persisted conversation.
func (t AgentTask) TaskThreadID() string { return t.Context["thread_id"] }

// AgentResult is the output of an Agent.
type AgentResult struct {
	// Output is the agent's final response text.
	Output string
	// Attachments carries multimodal content produced by the run.
	Attachments []Attachment
	// Usage tracks aggregate token usage across all LLM calls.
	Usage Usage
}

// agentConfig holds shared configuration for LLMAgent and Network.
type agentConfig struct {
	tools        []Tool
	agents       []Agent
	prompt       string
	maxIter      int
	processors   []any
	inputHandler InputHandler

	store             Store
	embedding         EmbeddingProvider
	memory            MemoryStore
	crossThreadSearch bool
	semanticMinScore  float32
}

// AgentOption configures an LLMAgent or Network.
type AgentOption func(*agentConfig)

// WithTools adds tools to the agent or network.
func WithTools(tools ...Tool) AgentOption {
	return func(c *agentConfig) { c.tools = append(c.tools, tools...) }
}

// WithPrompt sets the system prompt for the agent or network router.
func WithPrompt(s string) AgentOption {
	return func(c *agentConfig) { c.prompt = s }
}

// WithMaxIter sets the maximum tool-calling iterations.
func WithMaxIter(n int) AgentOption {
	return func(c *agentConfig) { c.maxIter = n }
}

// WithAgents adds subagents to a Network. Ignored by LLMAgent.
func WithAgents(agents ...Agent) AgentOption {
	return func(c *agentConfig) { c.agents = append(c.agents, agents...) }
}

// WithProcessors adds processors to the agent's execution pipeline.
// Each processor must implement at least one of PreProcessor, PostProcessor,
// or PostToolProcessor. Processors run in registration order at their
// respective hook points during Execute().
func WithProcessors(processors ...any) AgentOption {
	return func(c *agentConfig) { c.processors = append(c.processors, processors...) }
}

// WithInputHandler sets the handler for human-in-the-loop interactions.
// When set, the agent gains an "ask_user" tool (LLM-driven) and processors
// can access the handler via InputHandlerFromContext(ctx).
func WithInputHandler(h InputHandler) AgentOption {
	return func(c *agentConfig) { c.inputHandler = h }
}

// WithConversationMemory persists conversation history to store, keyed by
// task.TaskThreadID(). Required for multi-turn continuity across Execute calls.
func WithConversationMemory(store Store) AgentOption {
	return func(c *agentConfig) { c.store = store }
}

// WithEmbedding sets the embedding provider used for cross-thread search and
// user-memory fact matching.
func WithEmbedding(embedding EmbeddingProvider) AgentOption {
	return func(c *agentConfig) { c.embedding = embedding }
}

// WithUserMemory enables durable per-user fact extraction and injection,
// backed by memory. Requires WithEmbedding to also be set.
func WithUserMemory(memory MemoryStore) AgentOption {
	return func(c *agentConfig) { c.memory = memory }
}

// WithCrossThreadSearch enables semantic recall of messages from threads
// other than the current one. Requires WithConversationMemory and WithEmbedding.
func WithCrossThreadSearch(minScore float32) AgentOption {
	return func(c *agentConfig) {
		c.crossThreadSearch = true
		c.semanticMinScore = minScore
	}
}

func buildConfig(opts []AgentOption) agentConfig {
	var c agentConfig
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

package conduit

import "encoding/json"

// ThreadKey identifies a conversation thread within a surface.
//
// ConvID and ThreadID are surface-scoped 64-bit identifiers; ThreadID is
// zero until TopicProvisioner has materialized a thread for the
// conversation. AgentID selects which agent definition handles the
// thread. Equality (and therefore map-keying) is on all three fields.
type ThreadKey struct {
	ConvID   int64
	ThreadID int64
	AgentID  string
}

// Provisioned reports whether ThreadID has been assigned.
func (k ThreadKey) Provisioned() bool { return k.ThreadID != 0 }

// Prompt is a single inbound message awaiting routing to a thread.
type Prompt struct {
	Key          ThreadKey // ThreadID may be zero; see Provisioned.
	ID           string    // surface-local message id, used for provisioning idempotence.
	SenderID     string
	Body         string
	Timestamp    int64
	ReplyTarget  string
	Attachments  []Attachment
}

// ControlCommand is the control intent carried by a prompt body, derived
// purely from its leading token.
type ControlCommand int

const (
	// CommandNone means the prompt carries no control intent and should
	// be forwarded to the agent.
	CommandNone ControlCommand = iota
	// CommandCancel requests cancellation of the thread's current run.
	CommandCancel
	// CommandClear requests the thread context be evicted and its
	// snapshot discarded.
	CommandClear
)

func (c ControlCommand) String() string {
	switch c {
	case CommandCancel:
		return "cancel"
	case CommandClear:
		return "clear"
	default:
		return "none"
	}
}

// ContentKind tags the variant carried by a ContentItem.
type ContentKind string

const (
	ContentTextDelta       ContentKind = "text-delta"
	ContentReasoningDelta  ContentKind = "reasoning-delta"
	ContentToolCallStart   ContentKind = "tool-call-start"
	ContentToolCallArg     ContentKind = "tool-call-arg"
	ContentToolResult      ContentKind = "tool-result"
	ContentStreamComplete  ContentKind = "stream-complete"
	ContentApprovalRequest ContentKind = "tool-approval-requested"
	ContentError           ContentKind = "error"
)

// ContentItem is one tagged element of a ModelUpdate's contents list.
type ContentItem struct {
	Kind ContentKind

	// TextDelta / ReasoningDelta
	Text string

	// ToolCallStart / ToolCallArg / ToolResult / ApprovalRequest
	ToolCallID string
	ToolName   string
	ArgsDelta  json.RawMessage
	Result     string
	ResultErr  string
	ApprovalID string

	// Error
	Err error
}

// ModelUpdate is one unit of streamed output from a DisposableAgent run.
// Index advances monotonically within a single RunStreaming call.
type ModelUpdate struct {
	ID       string
	Index    int64
	Contents []ContentItem
}

// MessageRole mirrors the role of a CoalescedMessage or ClientMessage.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleTool      MessageRole = "tool"
)

// ToolCall is one tool invocation, as submitted by a surface resolving a
// ToolApprovalRequested (possibly with human-edited args).
type ToolCall struct {
	ID   string
	Name string
	Args json.RawMessage
}

// ToolCallSummary is the finalized record of one tool invocation folded
// into a CoalescedMessage.
type ToolCallSummary struct {
	ID     string
	Name   string
	Args   json.RawMessage
	Result string
	Error  string
}

// CoalescedMessage is the aggregated content accumulated between two
// UpdatePairer turn boundaries: the unit of persistence and client
// display. Immutable once emitted.
type CoalescedMessage struct {
	MessageID string
	Role      MessageRole
	Text      string
	Reasoning string
	ToolCalls []ToolCallSummary
	SenderID  string
	Timestamp int64
}

// StreamTriple is the engine's output quantum: a raw update plus an
// optional coalesced message, always addressed to a thread.
type StreamTriple struct {
	Key       ThreadKey
	Update    ModelUpdate
	Coalesced *CoalescedMessage // non-nil iff a turn just closed on Key.
}

// ClientMessage is the client-side rendering of a finalized turn.
type ClientMessage struct {
	Role      MessageRole
	Text      string
	Reasoning string
	ToolCalls []ToolCallSummary
	MessageID string // stable once finalized; empty for in-flight placeholders.
	SenderID  string
	Timestamp int64
}

// Usage reports token accounting for one agent run.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Attachment is binary content (image, PDF, audio, ...) carried inline
// with a prompt or tool result.
type Attachment struct {
	MimeType string
	Base64   string
}

// ScheduledPrompt is a cron-sourced prompt funneled through the same
// engine as surface-originated prompts.
type ScheduledPrompt struct {
	ID         string
	AgentID    string
	Body       string
	Recurrence string // display hint, e.g. "09:00 daily"; Scheduler reads ScheduledAction.Schedule, not this field.
	UserID     string
}

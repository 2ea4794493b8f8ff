package client

import "github.com/nevindra/conduit"

// Action is dispatched to the Store and handled by exactly one reducer
// in the chain; reducers type-switch on the concrete Action.
type Action interface {
	isAction()
}

type baseAction struct{}

func (baseAction) isAction() {}

// AddMessage appends msg to topicID's list. If messageId collides with
// an already-finalized entry, the reducer skips it (idempotent).
type AddMessage struct {
	baseAction
	TopicID   string
	Message   conduit.ClientMessage
	MessageID string
}

// StreamChunk appends partial content to topicID's streaming slot. A
// chunk whose MessageID differs from the slot's current one starts a
// fresh slot instead of appending.
type StreamChunk struct {
	baseAction
	TopicID   string
	Text      string
	Reasoning string
	ToolCalls []conduit.ToolCallSummary
	MessageID string
}

// ResetStreamingContent clears topicID's streaming slot, typically
// once its content has finalized into an AddMessage.
type ResetStreamingContent struct {
	baseAction
	TopicID string
}

// MessagesLoaded atomically replaces topicID's message list — used for
// initial history load and for reconnect-merge output.
type MessagesLoaded struct {
	baseAction
	TopicID  string
	Messages []conduit.ClientMessage
}

// UpdateMessage replaces the message at MessageID in place, used to
// enrich a history entry with late-arriving reasoning or tool-calls.
type UpdateMessage struct {
	baseAction
	TopicID   string
	MessageID string
	NewValue  conduit.ClientMessage
}

// AddTopic appends a newly-known topic.
type AddTopic struct {
	baseAction
	Topic Topic
}

// UpdateTopic replaces a topic's metadata in place.
type UpdateTopic struct {
	baseAction
	Topic Topic
}

// RemoveTopic deletes a topic and its associated message/streaming state.
type RemoveTopic struct {
	baseAction
	TopicID string
}

// SelectTopic changes which topic is currently in view.
type SelectTopic struct {
	baseAction
	TopicID string
}

// CreateNewTopic is the user-intent to start a topic. The reducer chain
// accepts it without changing state, and no effect in this package
// turns it into AddTopic or SelectTopic.
type CreateNewTopic struct {
	baseAction
	Name string
}

// Connecting marks the client as dialing the server.
type Connecting struct{ baseAction }

// Connected marks an established, healthy link.
type Connected struct{ baseAction }

// Reconnecting marks a drop detected mid-session; input disables.
type Reconnecting struct{ baseAction }

// Reconnected marks link recovery after Reconnecting; the reconnection
// effect observes this transition and triggers resume for the
// selected topic.
type Reconnected struct{ baseAction }

// ClosedAction marks a terminal, non-recoverable disconnect.
type ClosedAction struct {
	baseAction
	ErrorText string
}

// ApprovalRequested records a pending tool approval surfaced mid-stream.
type ApprovalRequested struct {
	baseAction
	Approval PendingApproval
}

// ApprovalResolved clears a pending approval once the user has decided,
// optionally carrying edited tool call args to submit back upstream.
type ApprovalResolved struct {
	baseAction
	ApprovalID string
	ToolCalls  []conduit.ToolCall
}

// SendMessage is the user-intent action observed by the send-message
// effect: it is never handled by a state reducer directly.
type SendMessage struct {
	baseAction
	TopicID string
	Body    string
}

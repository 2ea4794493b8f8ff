// Package client implements the receiving end of a push-based surface:
// a single-threaded reducer/effects store that turns server-pushed
// StreamTriples and reconnection payloads into a renderable chat view.
package client

import "github.com/nevindra/conduit"

// ConnectionStatus is the client's view of its link to the engine.
type ConnectionStatus int

const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusClosed
)

func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// InputEnabled reports whether the state machine accepts a new
// SendMessage user-intent while in s; input is disabled in every state
// but Connected.
func (s ConnectionStatus) InputEnabled() bool { return s == StatusConnected }

// Topic is one conversation thread as rendered client-side.
type Topic struct {
	ID   string
	Name string
}

// StreamingSlot holds the in-flight content for a topic's current turn,
// before it finalizes into a ClientMessage. A slot is keyed to the
// messageId of the turn it accumulates; a chunk carrying a different
// id starts a fresh slot rather than appending to the stale one.
type StreamingSlot struct {
	MessageID string
	Text      string
	Reasoning string
	ToolCalls []conduit.ToolCallSummary
}

func (s StreamingSlot) empty() bool {
	return s.MessageID == "" && s.Text == "" && s.Reasoning == "" && len(s.ToolCalls) == 0
}

// PendingApproval is an outstanding ToolApprovalRequested awaiting a
// human decision.
type PendingApproval struct {
	ApprovalID string
	ToolName   string
	ToolCallID string
	Args       string
}

// State is the full client store: every slice a reducer is allowed to
// touch. Reducers never see more than this; effects read it between
// dispatches to decide what to do next.
type State struct {
	Topics           []Topic
	SelectedTopicID  string
	MessagesByTopic  map[string][]conduit.ClientMessage
	StreamingByTopic map[string]StreamingSlot
	ConnectionStatus ConnectionStatus
	PendingApprovals map[string]PendingApproval

	// finalized tracks, per topic, the message ids already appended —
	// the de-dup set AddMessage consults before appending.
	finalized map[string]map[string]struct{}
}

// NewState returns an empty store, disconnected, with no topics.
func NewState() *State {
	return &State{
		MessagesByTopic:  make(map[string][]conduit.ClientMessage),
		StreamingByTopic: make(map[string]StreamingSlot),
		ConnectionStatus: StatusDisconnected,
		PendingApprovals: make(map[string]PendingApproval),
		finalized:        make(map[string]map[string]struct{}),
	}
}

func (s *State) hasFinalized(topicID, messageID string) bool {
	if messageID == "" {
		return false
	}
	ids, ok := s.finalized[topicID]
	if !ok {
		return false
	}
	_, ok = ids[messageID]
	return ok
}

func (s *State) markFinalized(topicID, messageID string) {
	if messageID == "" {
		return
	}
	ids, ok := s.finalized[topicID]
	if !ok {
		ids = make(map[string]struct{})
		s.finalized[topicID] = ids
	}
	ids[messageID] = struct{}{}
}

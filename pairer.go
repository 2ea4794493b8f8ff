package conduit

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// UpdatePairer is a stateful transformer converting raw ModelUpdate
// deltas into (update, coalescedMessage?) pairs, where the coalesced
// message is emitted only at turn boundaries: a StreamComplete marker,
// an Error item, an approval request, a role change, or a tool-call
// group closing.
//
// One UpdatePairer is scoped to a single prompt's output sequence; it is
// not safe for concurrent use.
type UpdatePairer struct {
	key ThreadKey

	role         MessageRole
	text         string
	reasoning    string
	toolCalls    []ToolCallSummary
	openCalls    map[string]*ToolCallSummary
	senderID     string
	timestamp    int64
	nextBoundary func() int64
}

// NewUpdatePairer creates a pairer scoped to key. senderID/timestamp seed
// the first coalesced message emitted before any role change. nextBoundary
// must draw from a counter shared across every prompt processed on this
// thread (ThreadContext.NextBoundary) — a pairer is constructed fresh per
// prompt, so a locally-owned counter would restart at zero each time and
// collide with another prompt's boundaries on the same thread.
func NewUpdatePairer(key ThreadKey, senderID string, timestamp int64, nextBoundary func() int64) *UpdatePairer {
	return &UpdatePairer{
		key:          key,
		role:         RoleAssistant,
		senderID:     senderID,
		timestamp:    timestamp,
		nextBoundary: nextBoundary,
		openCalls:    make(map[string]*ToolCallSummary),
	}
}

// Pair feeds one ModelUpdate through the accumulator, returning the
// update unchanged alongside a non-nil CoalescedMessage exactly when a
// turn boundary was reached.
func (p *UpdatePairer) Pair(u ModelUpdate) (ModelUpdate, *CoalescedMessage) {
	var boundary bool
	var roleChange MessageRole

	for _, c := range u.Contents {
		switch c.Kind {
		case ContentTextDelta:
			p.text += c.Text
		case ContentReasoningDelta:
			p.reasoning += c.Text
		case ContentToolCallStart:
			p.openCalls[c.ToolCallID] = &ToolCallSummary{ID: c.ToolCallID, Name: c.ToolName}
		case ContentToolCallArg:
			if tc, ok := p.openCalls[c.ToolCallID]; ok {
				tc.Args = append(tc.Args, c.ArgsDelta...)
			}
		case ContentToolResult:
			if tc, ok := p.openCalls[c.ToolCallID]; ok {
				tc.Result = c.Result
				tc.Error = c.ResultErr
				p.toolCalls = append(p.toolCalls, *tc)
				delete(p.openCalls, c.ToolCallID)
				if len(p.openCalls) == 0 {
					boundary = true
				}
			}
		case ContentStreamComplete:
			boundary = true
		case ContentError:
			boundary = true
		case ContentApprovalRequest:
			// The run pauses here until ApprovalResolved arrives, so
			// whatever accumulated so far finalizes as its own turn.
			boundary = true
		}
		if c.Kind == ContentTextDelta || c.Kind == ContentReasoningDelta {
			if p.role != RoleAssistant && p.role != "" {
				roleChange = RoleAssistant
			}
		}
	}

	if roleChange != "" && roleChange != p.role {
		boundary = true
	}

	if !boundary {
		return u, nil
	}
	return u, p.flush()
}

// flush emits the accumulated content as a CoalescedMessage and resets
// the accumulator. Returns nil if nothing was accumulated since the
// previous boundary (an empty accumulation yields no message).
func (p *UpdatePairer) flush() *CoalescedMessage {
	if p.text == "" && p.reasoning == "" && len(p.toolCalls) == 0 {
		return nil
	}
	msg := &CoalescedMessage{
		MessageID: p.messageID(),
		Role:      p.role,
		Text:      p.text,
		Reasoning: p.reasoning,
		ToolCalls: p.toolCalls,
		SenderID:  p.senderID,
		Timestamp: p.timestamp,
	}
	p.text = ""
	p.reasoning = ""
	p.toolCalls = nil
	return msg
}

// messageID derives the stable id of every coalesced message, including
// reasoning- or tool-only turns, as hash(ThreadKey, boundary).
// boundary is drawn from nextBoundary() — a counter scoped to the whole
// thread, not this single pairer instance — so ids stay unique across
// every prompt ever run on the thread, not just within one prompt.
func (p *UpdatePairer) messageID() string {
	h := xxhash.New()
	fmt.Fprintf(h, "%d:%d:%s:%d", p.key.ConvID, p.key.ThreadID, p.key.AgentID, p.nextBoundary())
	return fmt.Sprintf("%016x", h.Sum64())
}

package client

import "github.com/nevindra/conduit"

// MessagePipeline turns a server resume payload into a merged message
// list and a set of dispatches against a Store.
type MessagePipeline struct{}

// NewMessagePipeline returns a stateless pipeline; its methods are pure
// functions of their arguments plus Store.Dispatch side effects.
func NewMessagePipeline() *MessagePipeline { return &MessagePipeline{} }

// ResumeFromBuffer merges a ReconnectionBuffer.Resume payload into
// topicID's existing history and dispatches the result.
//
// Finalized turns from the buffer are partitioned into "anchors" (their
// MessageID already appears in history) and "new" turns (no match).
// Walking history in order: each anchor is enriched in place with any
// reasoning/tool-calls the buffer knows that history lacks, and is
// immediately followed by whichever new turns came after it in buffer
// order. New turns preceding the first known anchor are inserted at
// the head; trailing new turns with no following anchor are appended.
// The merge never duplicates a MessageID that already appears in the
// output, so re-running it against its own output is a no-op.
func (p *MessagePipeline) ResumeFromBuffer(s *Store, topicID string, history []conduit.ClientMessage, resume conduit.ResumeResult) {
	merged := mergeResumedMessages(history, resume.FinalizedSince)
	s.Dispatch(MessagesLoaded{TopicID: topicID, Messages: merged})

	s.Dispatch(ResetStreamingContent{TopicID: topicID})
	for _, t := range resume.InFlight {
		if t.Coalesced != nil {
			// A finalized boundary arrived inside the in-flight window;
			// surface it as a message rather than residual stream state.
			s.Dispatch(AddMessage{
				TopicID:   topicID,
				MessageID: t.Coalesced.MessageID,
				Message:   coalescedToClientMessage(*t.Coalesced),
			})
			continue
		}
		s.Dispatch(streamChunkFromUpdate(topicID, t.Update))
	}
}

func mergeResumedMessages(history []conduit.ClientMessage, finalized []conduit.CoalescedMessage) []conduit.ClientMessage {
	history = append([]conduit.ClientMessage(nil), history...)
	anchorIdx := make(map[string]int, len(history))
	for i, m := range history {
		if m.MessageID != "" {
			anchorIdx[m.MessageID] = i
		}
	}

	// after[i] lists the new turns that land immediately after
	// history[i]; head holds turns with no matching anchor anywhere
	// before them (inserted before history[0]).
	after := make(map[int][]conduit.CoalescedMessage)
	var head []conduit.CoalescedMessage
	lastAnchor := -1
	seen := make(map[string]struct{}, len(history))
	for _, m := range history {
		if m.MessageID != "" {
			seen[m.MessageID] = struct{}{}
		}
	}

	for _, cm := range finalized {
		if idx, ok := anchorIdx[cm.MessageID]; ok {
			lastAnchor = idx
			history[idx] = enrich(history[idx], cm)
			continue
		}
		if _, dup := seen[cm.MessageID]; dup {
			continue
		}
		seen[cm.MessageID] = struct{}{}
		if lastAnchor == -1 {
			head = append(head, cm)
		} else {
			after[lastAnchor] = append(after[lastAnchor], cm)
		}
	}
	if lastAnchor == -1 && len(history) > 0 {
		// No buffered turn matched history, so every new turn is trailing.
		after[len(history)-1] = head
		head = nil
	}

	merged := make([]conduit.ClientMessage, 0, len(history)+len(finalized))
	for _, cm := range head {
		merged = append(merged, coalescedToClientMessage(cm))
	}
	for i, m := range history {
		merged = append(merged, m)
		for _, cm := range after[i] {
			merged = append(merged, coalescedToClientMessage(cm))
		}
	}
	return merged
}

// enrich folds any reasoning/tool-calls cm carries that existing lacks,
// without discarding existing's already-rendered text.
func enrich(existing conduit.ClientMessage, cm conduit.CoalescedMessage) conduit.ClientMessage {
	if existing.Reasoning == "" && cm.Reasoning != "" {
		existing.Reasoning = cm.Reasoning
	}
	if len(existing.ToolCalls) == 0 && len(cm.ToolCalls) > 0 {
		existing.ToolCalls = cm.ToolCalls
	}
	if existing.Text == "" && cm.Text != "" {
		existing.Text = cm.Text
	}
	return existing
}

func coalescedToClientMessage(cm conduit.CoalescedMessage) conduit.ClientMessage {
	return conduit.ClientMessage{
		Role:      cm.Role,
		Text:      cm.Text,
		Reasoning: cm.Reasoning,
		ToolCalls: cm.ToolCalls,
		MessageID: cm.MessageID,
		SenderID:  cm.SenderID,
		Timestamp: cm.Timestamp,
	}
}

func streamChunkFromUpdate(topicID string, u conduit.ModelUpdate) Action {
	chunk := StreamChunk{TopicID: topicID, MessageID: u.ID}
	for _, item := range u.Contents {
		switch item.Kind {
		case conduit.ContentTextDelta:
			chunk.Text += item.Text
		case conduit.ContentReasoningDelta:
			chunk.Reasoning += item.Text
		case conduit.ContentToolResult:
			chunk.ToolCalls = append(chunk.ToolCalls, conduit.ToolCallSummary{
				ID:     item.ToolCallID,
				Name:   item.ToolName,
				Result: item.Result,
				Error:  item.ResultErr,
			})
		}
	}
	return chunk
}

package client

import (
	"context"
	"log/slog"

	"github.com/nevindra/conduit"
)

// Transport is the client's view of its link to the engine: whatever
// carries prompts out and StreamTriples/resume payloads back in. A
// websocket/SSE implementation lives alongside the surface it pairs
// with; Store only needs this narrow slice.
type Transport struct {
	// Resume fetches the reconnection payload for key, given the last
	// message and streaming ids the client already holds.
	Resume func(ctx context.Context, key conduit.ThreadKey, lastSeenMessageID, currentStreamingMessageID string) (conduit.ResumeResult, error)

	// Send submits a new prompt body for topicID and returns the
	// engine's streaming output for it.
	Send func(ctx context.Context, topicID, body string) (<-chan conduit.StreamTriple, error)
}

// ReconnectionEffect observes a Reconnected action dispatched while the
// status was Reconnecting (the Reconnecting -> Connected transition) and
// resumes the selected topic from the buffer.
type ReconnectionEffect struct {
	Transport Transport
	Pipeline  *MessagePipeline
	KeyOf     func(topicID string) conduit.ThreadKey
	Logger    *slog.Logger
}

func (e *ReconnectionEffect) Observe(s *Store, prevStatus ConnectionStatus, a Action) {
	if prevStatus != StatusReconnecting {
		return
	}
	if _, ok := a.(Reconnected); !ok {
		return
	}
	st := s.State()
	topicID := st.SelectedTopicID
	if topicID == "" || e.Transport.Resume == nil {
		return
	}

	history := st.MessagesByTopic[topicID]
	lastSeen := ""
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].MessageID != "" {
			lastSeen = history[i].MessageID
			break
		}
	}
	slot := st.StreamingByTopic[topicID]

	key := conduit.ThreadKey{}
	if e.KeyOf != nil {
		key = e.KeyOf(topicID)
	}

	resume, err := e.Transport.Resume(context.Background(), key, lastSeen, slot.MessageID)
	if err != nil {
		if e.Logger != nil {
			e.Logger.Warn("resume failed", "topic", topicID, "error", err)
		}
		return
	}
	e.Pipeline.ResumeFromBuffer(s, topicID, history, resume)
}

// SendMessageEffect observes a SendMessage user-intent, opens a session
// via Transport, and pumps the streaming sub-sequence into
// StreamChunk/AddMessage dispatches. It does not create the topic: no
// AddTopic or SelectTopic is dispatched for an unknown TopicID.
type SendMessageEffect struct {
	Transport Transport
	Logger    *slog.Logger
}

func (e *SendMessageEffect) Observe(s *Store, prevStatus ConnectionStatus, a Action) {
	send, ok := a.(SendMessage)
	if !ok || e.Transport.Send == nil {
		return
	}

	out, err := e.Transport.Send(context.Background(), send.TopicID, send.Body)
	if err != nil {
		if e.Logger != nil {
			e.Logger.Warn("send failed", "topic", send.TopicID, "error", err)
		}
		return
	}

	go e.pump(s, send.TopicID, out)
}

func (e *SendMessageEffect) pump(s *Store, topicID string, out <-chan conduit.StreamTriple) {
	for t := range out {
		if t.Coalesced != nil {
			s.Dispatch(AddMessage{
				TopicID:   topicID,
				MessageID: t.Coalesced.MessageID,
				Message:   coalescedToClientMessage(*t.Coalesced),
			})
			s.Dispatch(ResetStreamingContent{TopicID: topicID})
			continue
		}
		for _, item := range t.Update.Contents {
			if item.Kind == conduit.ContentApprovalRequest {
				s.Dispatch(ApprovalRequested{Approval: PendingApproval{
					ApprovalID: item.ApprovalID,
					ToolName:   item.ToolName,
					ToolCallID: item.ToolCallID,
				}})
			}
		}
		s.Dispatch(streamChunkFromUpdate(topicID, t.Update))
	}
}

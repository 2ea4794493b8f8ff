package client

import (
	"context"
	"testing"
	"time"

	"github.com/nevindra/conduit"
)

func TestReconnectionEffectTriggersResumeOnReconnectedTransition(t *testing.T) {
	s := newTestStore()
	s.Dispatch(AddTopic{Topic: Topic{ID: "t1"}})
	s.Dispatch(SelectTopic{TopicID: "t1"})
	s.Dispatch(MessagesLoaded{TopicID: "t1", Messages: []conduit.ClientMessage{{MessageID: "m1", Text: "hi"}}})
	s.Dispatch(Reconnecting{})

	var resumeCalled bool
	eff := &ReconnectionEffect{
		Pipeline: NewMessagePipeline(),
		KeyOf:    func(topicID string) conduit.ThreadKey { return conduit.ThreadKey{AgentID: topicID} },
		Transport: Transport{
			Resume: func(ctx context.Context, key conduit.ThreadKey, lastSeenMessageID, currentStreamingMessageID string) (conduit.ResumeResult, error) {
				resumeCalled = true
				if lastSeenMessageID != "m1" {
					t.Errorf("expected lastSeenMessageID m1, got %q", lastSeenMessageID)
				}
				return conduit.ResumeResult{
					FinalizedSince: []conduit.CoalescedMessage{{MessageID: "m2", Text: "catch up"}},
				}, nil
			},
		},
	}
	s.Subscribe(eff)

	s.Dispatch(Reconnected{})

	if !resumeCalled {
		t.Fatal("expected Resume to be called on Reconnecting -> Connected transition")
	}
	msgs := s.State().MessagesByTopic["t1"]
	if len(msgs) != 2 || msgs[1].MessageID != "m2" {
		t.Fatalf("expected resumed message merged in, got %+v", msgs)
	}
}

func TestReconnectionEffectIgnoresNonReconnectTransitions(t *testing.T) {
	s := newTestStore()
	var resumeCalled bool
	eff := &ReconnectionEffect{
		Pipeline: NewMessagePipeline(),
		Transport: Transport{
			Resume: func(ctx context.Context, key conduit.ThreadKey, lastSeenMessageID, currentStreamingMessageID string) (conduit.ResumeResult, error) {
				resumeCalled = true
				return conduit.ResumeResult{}, nil
			},
		},
	}
	s.Subscribe(eff)

	s.Dispatch(Connecting{})
	s.Dispatch(Connected{})

	if resumeCalled {
		t.Fatal("expected Resume not to be called outside a Reconnecting -> Connected transition")
	}
}

func TestSendMessageEffectPumpsStreamIntoChunksAndFinalMessage(t *testing.T) {
	s := newTestStore()
	out := make(chan conduit.StreamTriple, 2)
	out <- conduit.StreamTriple{Update: conduit.ModelUpdate{ID: "m1", Contents: []conduit.ContentItem{{Kind: conduit.ContentTextDelta, Text: "partial"}}}}
	out <- conduit.StreamTriple{Coalesced: &conduit.CoalescedMessage{MessageID: "m1", Role: conduit.RoleAssistant, Text: "partial done"}}
	close(out)

	eff := &SendMessageEffect{
		Transport: Transport{
			Send: func(ctx context.Context, topicID, body string) (<-chan conduit.StreamTriple, error) {
				return out, nil
			},
		},
	}
	s.Subscribe(eff)

	s.Dispatch(SendMessage{TopicID: "t1", Body: "hello"})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(s.State().MessagesByTopic["t1"]) > 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	msgs := s.State().MessagesByTopic["t1"]
	if len(msgs) != 1 || msgs[0].MessageID != "m1" {
		t.Fatalf("expected finalized message m1 recorded, got %+v", msgs)
	}
	if _, ok := s.State().StreamingByTopic["t1"]; ok {
		t.Error("expected streaming slot reset once the turn finalized")
	}
}

package client

import (
	"testing"

	"github.com/nevindra/conduit"
)

func newTestStore() *Store {
	return NewStore(NewState(), NewReducerChain())
}

func TestAddMessageAppendsAndDedupes(t *testing.T) {
	s := newTestStore()
	s.Dispatch(AddMessage{TopicID: "t1", MessageID: "m1", Message: conduit.ClientMessage{MessageID: "m1", Text: "hi"}})
	s.Dispatch(AddMessage{TopicID: "t1", MessageID: "m1", Message: conduit.ClientMessage{MessageID: "m1", Text: "duplicate"}})

	msgs := s.State().MessagesByTopic["t1"]
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message after dedup, got %d", len(msgs))
	}
	if msgs[0].Text != "hi" {
		t.Errorf("expected first write to win, got %q", msgs[0].Text)
	}
}

func TestStreamChunkAccumulatesUntilMessageIDChanges(t *testing.T) {
	s := newTestStore()
	s.Dispatch(StreamChunk{TopicID: "t1", MessageID: "m1", Text: "hel"})
	s.Dispatch(StreamChunk{TopicID: "t1", MessageID: "m1", Text: "lo"})
	slot := s.State().StreamingByTopic["t1"]
	if slot.Text != "hello" {
		t.Fatalf("expected accumulated text %q, got %q", "hello", slot.Text)
	}

	s.Dispatch(StreamChunk{TopicID: "t1", MessageID: "m2", Text: "fresh"})
	slot = s.State().StreamingByTopic["t1"]
	if slot.Text != "fresh" {
		t.Fatalf("expected fresh slot on messageId change, got %q", slot.Text)
	}
}

func TestResetStreamingContentClearsSlot(t *testing.T) {
	s := newTestStore()
	s.Dispatch(StreamChunk{TopicID: "t1", MessageID: "m1", Text: "partial"})
	s.Dispatch(ResetStreamingContent{TopicID: "t1"})
	if _, ok := s.State().StreamingByTopic["t1"]; ok {
		t.Error("expected streaming slot removed")
	}
}

func TestMessagesLoadedReplacesListAndResetsDedupSet(t *testing.T) {
	s := newTestStore()
	s.Dispatch(AddMessage{TopicID: "t1", MessageID: "m1", Message: conduit.ClientMessage{MessageID: "m1"}})
	s.Dispatch(MessagesLoaded{TopicID: "t1", Messages: []conduit.ClientMessage{{MessageID: "m2"}}})

	msgs := s.State().MessagesByTopic["t1"]
	if len(msgs) != 1 || msgs[0].MessageID != "m2" {
		t.Fatalf("expected list replaced with [m2], got %v", msgs)
	}

	// m1 is no longer in the finalized set, so it can be appended again.
	s.Dispatch(AddMessage{TopicID: "t1", MessageID: "m1", Message: conduit.ClientMessage{MessageID: "m1"}})
	if len(s.State().MessagesByTopic["t1"]) != 2 {
		t.Error("expected m1 re-appendable after MessagesLoaded reset its dedup set")
	}
}

func TestUpdateMessageReplacesInPlace(t *testing.T) {
	s := newTestStore()
	s.Dispatch(AddMessage{TopicID: "t1", MessageID: "m1", Message: conduit.ClientMessage{MessageID: "m1", Text: "draft"}})
	s.Dispatch(UpdateMessage{TopicID: "t1", MessageID: "m1", NewValue: conduit.ClientMessage{MessageID: "m1", Text: "final", Reasoning: "because"}})

	msgs := s.State().MessagesByTopic["t1"]
	if msgs[0].Text != "final" || msgs[0].Reasoning != "because" {
		t.Fatalf("expected in-place update, got %+v", msgs[0])
	}
}

func TestTopicLifecycle(t *testing.T) {
	s := newTestStore()
	s.Dispatch(AddTopic{Topic: Topic{ID: "t1", Name: "general"}})
	s.Dispatch(UpdateTopic{Topic: Topic{ID: "t1", Name: "renamed"}})
	s.Dispatch(SelectTopic{TopicID: "t1"})

	if s.State().SelectedTopicID != "t1" {
		t.Fatal("expected t1 selected")
	}
	if s.State().Topics[0].Name != "renamed" {
		t.Fatalf("expected topic renamed, got %+v", s.State().Topics[0])
	}

	s.Dispatch(AddMessage{TopicID: "t1", MessageID: "m1", Message: conduit.ClientMessage{MessageID: "m1"}})
	s.Dispatch(RemoveTopic{TopicID: "t1"})

	if len(s.State().Topics) != 0 {
		t.Error("expected topic removed")
	}
	if _, ok := s.State().MessagesByTopic["t1"]; ok {
		t.Error("expected removed topic's messages cleared")
	}
	if s.State().SelectedTopicID != "" {
		t.Error("expected selection cleared when the selected topic is removed")
	}
}

func TestConnectionLifecycle(t *testing.T) {
	s := newTestStore()
	s.Dispatch(Connecting{})
	if s.State().ConnectionStatus != StatusConnecting {
		t.Fatal("expected Connecting status")
	}
	s.Dispatch(Connected{})
	if !s.State().ConnectionStatus.InputEnabled() {
		t.Fatal("expected input enabled once Connected")
	}
	s.Dispatch(Reconnecting{})
	if s.State().ConnectionStatus.InputEnabled() {
		t.Fatal("expected input disabled while Reconnecting")
	}
	s.Dispatch(Reconnected{})
	if s.State().ConnectionStatus != StatusConnected {
		t.Fatal("expected Reconnected to resolve to Connected")
	}
	s.Dispatch(ClosedAction{ErrorText: "upstream gone"})
	if s.State().ConnectionStatus != StatusClosed {
		t.Fatal("expected Closed status")
	}
}

func TestApprovalLifecycle(t *testing.T) {
	s := newTestStore()
	s.Dispatch(ApprovalRequested{Approval: PendingApproval{ApprovalID: "a1", ToolName: "exec"}})
	if _, ok := s.State().PendingApprovals["a1"]; !ok {
		t.Fatal("expected pending approval recorded")
	}
	s.Dispatch(ApprovalResolved{ApprovalID: "a1"})
	if _, ok := s.State().PendingApprovals["a1"]; ok {
		t.Fatal("expected approval cleared after resolution")
	}
}

func TestDispatchSendMessageIsANoOpWithoutAnEffect(t *testing.T) {
	// SendMessage is pure user-intent: with no SendMessageEffect
	// subscribed, dispatching it must not mutate state or panic.
	s := newTestStore()
	before := s.State().MessagesByTopic["t1"]
	s.Dispatch(SendMessage{TopicID: "t1", Body: "hi"})
	after := s.State().MessagesByTopic["t1"]
	if len(before) != 0 || len(after) != 0 {
		t.Fatalf("expected no messages recorded, got before=%v after=%v", before, after)
	}
}

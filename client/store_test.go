package client

import (
	"testing"
	"time"
)

// chainingEffect dispatches a second action in response to the first,
// exercising the non-reentrant queue path: its Dispatch call must not
// deadlock on Store's mutex.
type chainingEffect struct {
	order *[]string
}

func (e *chainingEffect) Observe(s *Store, prevStatus ConnectionStatus, a Action) {
	switch act := a.(type) {
	case AddTopic:
		*e.order = append(*e.order, "saw-add-topic:"+act.Topic.ID)
		if act.Topic.ID == "t1" {
			s.Dispatch(SelectTopic{TopicID: "t1"})
		}
	case SelectTopic:
		*e.order = append(*e.order, "saw-select:"+act.TopicID)
	}
}

func TestDispatchIsNonReentrantAndPreservesOrder(t *testing.T) {
	var order []string
	s := newTestStore()
	s.Subscribe(&chainingEffect{order: &order})

	s.Dispatch(AddTopic{Topic: Topic{ID: "t1", Name: "general"}})

	if s.State().SelectedTopicID != "t1" {
		t.Fatalf("expected the effect-triggered SelectTopic to have been applied, got %q", s.State().SelectedTopicID)
	}

	want := []string{"saw-add-topic:t1", "saw-select:t1"}
	if len(order) != len(want) {
		t.Fatalf("expected order %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, order)
		}
	}
}

func TestDispatchFromWithinEffectDoesNotDeadlock(t *testing.T) {
	done := make(chan struct{})
	go func() {
		s := newTestStore()
		s.Subscribe(&chainingEffect{order: &[]string{}})
		s.Dispatch(AddTopic{Topic: Topic{ID: "t1"}})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Dispatch from within an effect deadlocked")
	}
}

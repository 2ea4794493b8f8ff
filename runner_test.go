package conduit

import (
	"context"
	"sync"
	"testing"
	"time"
)

// fakeRunnerAgent is a DisposableAgent whose RunStreaming output is
// scripted per call via updatesFor, and which records every
// SubmitApproval invocation for assertions.
type fakeRunnerAgent struct {
	mu          sync.Mutex
	updatesFor  func(call int, p Prompt) []ModelUpdate
	calls       int
	submitted   []ApprovalResolved
	submittedCh chan ApprovalResolved
}

func newFakeRunnerAgent(updatesFor func(call int, p Prompt) []ModelUpdate) *fakeRunnerAgent {
	return &fakeRunnerAgent{updatesFor: updatesFor, submittedCh: make(chan ApprovalResolved, 8)}
}

func (a *fakeRunnerAgent) RunStreaming(ctx context.Context, p Prompt, thread ThreadHandle) (<-chan ModelUpdate, error) {
	a.mu.Lock()
	call := a.calls
	a.calls++
	a.mu.Unlock()

	updates := a.updatesFor(call, p)
	ch := make(chan ModelUpdate)
	go func() {
		defer close(ch)
		for _, u := range updates {
			select {
			case ch <- u:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func (a *fakeRunnerAgent) DeserializeThread(snapshot []byte) (ThreadHandle, error) { return snapshot, nil }
func (a *fakeRunnerAgent) SerializeThread(thread ThreadHandle) ([]byte, error)     { return nil, nil }
func (a *fakeRunnerAgent) Dispose(ctx context.Context) error                       { return nil }

func (a *fakeRunnerAgent) SubmitApproval(ctx context.Context, approvalID string, resolved ApprovalResolved) error {
	a.mu.Lock()
	a.submitted = append(a.submitted, resolved)
	a.mu.Unlock()
	a.submittedCh <- resolved
	return nil
}

func drainTriples(t *testing.T, out <-chan StreamTriple, timeout time.Duration) []StreamTriple {
	t.Helper()
	var got []StreamTriple
	deadline := time.After(timeout)
	for {
		select {
		case tr, ok := <-out:
			if !ok {
				return got
			}
			got = append(got, tr)
		case <-deadline:
			t.Fatalf("timed out draining triples, got %d so far", len(got))
		}
	}
}

func TestAgentRunnerRunProducesStreamCompleteAndCompletesGroup(t *testing.T) {
	key := ThreadKey{ConvID: 1, ThreadID: 1, AgentID: "a"}
	agent := newFakeRunnerAgent(func(call int, p Prompt) []ModelUpdate {
		return []ModelUpdate{
			{Contents: []ContentItem{{Kind: ContentTextDelta, Text: "hi"}}},
			{Contents: []ContentItem{{Kind: ContentStreamComplete}}},
		}
	})
	registry := NewThreadRegistry(nil, nil)
	runner := NewAgentRunner(func(agentID, senderID string) (DisposableAgent, error) {
		return agent, nil
	}, registry, NewApprovalStore())

	sub := make(chan Prompt, 1)
	sub <- Prompt{Key: key, SenderID: "user-1", Body: "hello", Timestamp: 1}
	close(sub)

	var completed bool
	kg := KeyedGroup[ThreadKey, Prompt]{
		Key:      key,
		Sub:      Sequence[Prompt](sub),
		Complete: func() { completed = true },
	}

	out := runner.Run(context.Background(), kg)
	triples := drainTriples(t, out, 2*time.Second)

	var sawComplete bool
	for _, tr := range triples {
		for _, c := range tr.Update.Contents {
			if c.Kind == ContentStreamComplete {
				sawComplete = true
			}
		}
	}
	if !sawComplete {
		t.Fatalf("expected a StreamComplete content item among the drained triples")
	}
	if !completed {
		t.Fatalf("expected kg.Complete() to be invoked once the group finished")
	}
}

// TestAgentRunnerMessageIDsUniqueAcrossPrompts drives two prompts through
// one group sharing one ThreadContext and asserts their finalized
// messages never collide on MessageID — the end-to-end version of the
// pairer-level regression test, exercised through the real registry and
// runner wiring.
func TestAgentRunnerMessageIDsUniqueAcrossPrompts(t *testing.T) {
	key := ThreadKey{ConvID: 1, ThreadID: 1, AgentID: "a"}
	agent := newFakeRunnerAgent(func(call int, p Prompt) []ModelUpdate {
		return []ModelUpdate{
			{Contents: []ContentItem{{Kind: ContentReasoningDelta, Text: "thinking"}}},
			{Contents: []ContentItem{{Kind: ContentStreamComplete}}},
		}
	})
	registry := NewThreadRegistry(nil, nil)
	runner := NewAgentRunner(func(agentID, senderID string) (DisposableAgent, error) {
		return agent, nil
	}, registry, NewApprovalStore())

	sub := make(chan Prompt, 2)
	sub <- Prompt{Key: key, SenderID: "user-1", Body: "first", Timestamp: 1}
	sub <- Prompt{Key: key, SenderID: "user-1", Body: "second", Timestamp: 2}
	close(sub)

	kg := KeyedGroup[ThreadKey, Prompt]{
		Key:      key,
		Sub:      Sequence[Prompt](sub),
		Complete: func() {},
	}

	out := runner.Run(context.Background(), kg)
	triples := drainTriples(t, out, 2*time.Second)

	var ids []string
	for _, tr := range triples {
		if tr.Coalesced != nil && tr.Coalesced.MessageID != "" {
			ids = append(ids, tr.Coalesced.MessageID)
		}
	}
	if len(ids) < 2 {
		t.Fatalf("expected at least 2 finalized messages across both prompts, got %d", len(ids))
	}
	seen := make(map[string]bool)
	for _, id := range ids {
		if seen[id] {
			t.Fatalf("MessageID %q reused across prompts on the same thread", id)
		}
		seen[id] = true
	}
}

// TestAgentRunnerApprovalFlow proves ContentApprovalRequest is wired end
// to end: the runner registers the pending approval with ApprovalStore,
// and resolving it there reaches DisposableAgent.SubmitApproval.
func TestAgentRunnerApprovalFlow(t *testing.T) {
	key := ThreadKey{ConvID: 1, ThreadID: 1, AgentID: "a"}
	agent := newFakeRunnerAgent(func(call int, p Prompt) []ModelUpdate {
		return []ModelUpdate{
			{Contents: []ContentItem{
				{Kind: ContentApprovalRequest, ApprovalID: "appr-1", ToolCallID: "t1", ToolName: "delete_file"},
			}},
		}
	})
	registry := NewThreadRegistry(nil, nil)
	approvals := NewApprovalStore()
	runner := NewAgentRunner(func(agentID, senderID string) (DisposableAgent, error) {
		return agent, nil
	}, registry, approvals)

	sub := make(chan Prompt, 1)
	sub <- Prompt{Key: key, SenderID: "user-1", Body: "please delete it", Timestamp: 1}

	kg := KeyedGroup[ThreadKey, Prompt]{
		Key:      key,
		Sub:      Sequence[Prompt](sub),
		Complete: func() {},
	}

	out := runner.Run(context.Background(), kg)

	// Drain until the approval-request triple, to ensure watchForApprovals
	// has had a chance to call Register before we resolve it.
	deadline := time.After(2 * time.Second)
	var sawApprovalRequest bool
	for !sawApprovalRequest {
		select {
		case tr := <-out:
			for _, c := range tr.Update.Contents {
				if c.Kind == ContentApprovalRequest {
					sawApprovalRequest = true
				}
			}
		case <-deadline:
			t.Fatalf("timed out waiting for the approval-request triple")
		}
	}

	resolved := ApprovalResolved{ApprovalID: "appr-1", Decision: ApprovalApproved}
	if !approvals.Resolve(key, resolved) {
		t.Fatalf("Resolve reported no pending approval for appr-1, but watchForApprovals should have registered it")
	}

	select {
	case got := <-agent.submittedCh:
		if got.ApprovalID != "appr-1" {
			t.Fatalf("SubmitApproval got ApprovalID %q, want %q", got.ApprovalID, "appr-1")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for SubmitApproval to be invoked")
	}

	close(sub)
	drainTriples(t, out, 2*time.Second)
}

func TestAgentRunnerHandlePromptCancelCommandSkipsAgent(t *testing.T) {
	key := ThreadKey{ConvID: 1, ThreadID: 1, AgentID: "a"}
	var ranStreaming bool
	agent := newFakeRunnerAgent(func(call int, p Prompt) []ModelUpdate {
		ranStreaming = true
		return nil
	})
	registry := NewThreadRegistry(nil, nil)
	runner := NewAgentRunner(func(agentID, senderID string) (DisposableAgent, error) {
		return agent, nil
	}, registry, NewApprovalStore())

	tc := registry.Resolve(context.Background(), key)
	tc.arm(func() {}, func() {})

	out := make(chan StreamTriple, 1)
	var wg sync.WaitGroup
	var thread ThreadHandle
	runner.handlePrompt(context.Background(), key, tc, agent, &thread, Prompt{Key: key, Body: "/cancel"}, out, &wg)
	wg.Wait()

	if ranStreaming {
		t.Fatalf("expected a /cancel prompt to bypass RunStreaming entirely")
	}
	if tc.State() != ThreadCancelled {
		t.Fatalf("State() = %v, want ThreadCancelled after a /cancel prompt", tc.State())
	}
}

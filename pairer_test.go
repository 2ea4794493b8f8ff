package conduit

import "testing"

func counterFrom(n int64) func() int64 {
	return func() int64 {
		n++
		return n
	}
}

func TestUpdatePairerTextBoundaryOnStreamComplete(t *testing.T) {
	key := ThreadKey{ConvID: 1, ThreadID: 1, AgentID: "a"}
	p := NewUpdatePairer(key, "user-1", 100, counterFrom(0))

	_, msg := p.Pair(ModelUpdate{Contents: []ContentItem{{Kind: ContentTextDelta, Text: "hello "}}})
	if msg != nil {
		t.Fatalf("expected no boundary on a bare text delta")
	}

	_, msg = p.Pair(ModelUpdate{Contents: []ContentItem{
		{Kind: ContentTextDelta, Text: "world"},
		{Kind: ContentStreamComplete},
	}})
	if msg == nil {
		t.Fatalf("expected a boundary on StreamComplete")
	}
	if msg.Text != "hello world" {
		t.Fatalf("Text = %q, want %q", msg.Text, "hello world")
	}
	if msg.MessageID == "" {
		t.Fatalf("expected a non-empty MessageID")
	}
}

func TestUpdatePairerToolCallGroupClosesBoundary(t *testing.T) {
	key := ThreadKey{ConvID: 1, ThreadID: 1, AgentID: "a"}
	p := NewUpdatePairer(key, "user-1", 100, counterFrom(0))

	_, msg := p.Pair(ModelUpdate{Contents: []ContentItem{
		{Kind: ContentToolCallStart, ToolCallID: "t1", ToolName: "lookup"},
	}})
	if msg != nil {
		t.Fatalf("expected no boundary while a tool call is still open")
	}

	_, msg = p.Pair(ModelUpdate{Contents: []ContentItem{
		{Kind: ContentToolResult, ToolCallID: "t1", Result: "ok"},
	}})
	if msg == nil {
		t.Fatalf("expected a boundary once the only open tool call closes")
	}
	if len(msg.ToolCalls) != 1 || msg.ToolCalls[0].ID != "t1" {
		t.Fatalf("ToolCalls = %+v, want one summary for t1", msg.ToolCalls)
	}
}

func TestUpdatePairerApprovalRequestClosesBoundary(t *testing.T) {
	key := ThreadKey{ConvID: 1, ThreadID: 1, AgentID: "a"}
	p := NewUpdatePairer(key, "user-1", 100, counterFrom(0))

	p.Pair(ModelUpdate{Contents: []ContentItem{{Kind: ContentReasoningDelta, Text: "thinking..."}}})

	_, msg := p.Pair(ModelUpdate{Contents: []ContentItem{
		{Kind: ContentApprovalRequest, ApprovalID: "appr-1", ToolCallID: "t1", ToolName: "delete_file"},
	}})
	if msg == nil {
		t.Fatalf("expected a boundary on ContentApprovalRequest so the paused turn finalizes")
	}
	if msg.Reasoning != "thinking..." {
		t.Fatalf("Reasoning = %q, want %q", msg.Reasoning, "thinking...")
	}
}

func TestUpdatePairerEmptyBoundaryYieldsNilMessage(t *testing.T) {
	key := ThreadKey{ConvID: 1, ThreadID: 1, AgentID: "a"}
	p := NewUpdatePairer(key, "user-1", 100, counterFrom(0))

	_, msg := p.Pair(ModelUpdate{Contents: []ContentItem{{Kind: ContentStreamComplete}}})
	if msg != nil {
		t.Fatalf("expected nil message for a boundary with no accumulated content, got %+v", msg)
	}
}

// TestUpdatePairerMessageIDsUniqueAcrossPrompts is the direct regression
// test for the fix to the cross-prompt messageId collision: two pairers
// constructed for different prompts on the same thread, sharing one
// ThreadContext's boundary counter, must never produce the same id for
// their first boundary.
func TestUpdatePairerMessageIDsUniqueAcrossPrompts(t *testing.T) {
	key := ThreadKey{ConvID: 1, ThreadID: 1, AgentID: "a"}
	tc := &ThreadContext{}

	firstPairer := NewUpdatePairer(key, "user-1", 100, tc.NextBoundary)
	_, firstMsg := firstPairer.Pair(ModelUpdate{Contents: []ContentItem{
		{Kind: ContentTextDelta, Text: "first prompt reply"},
		{Kind: ContentStreamComplete},
	}})
	if firstMsg == nil {
		t.Fatalf("expected a boundary for the first prompt")
	}

	secondPairer := NewUpdatePairer(key, "user-1", 200, tc.NextBoundary)
	_, secondMsg := secondPairer.Pair(ModelUpdate{Contents: []ContentItem{
		{Kind: ContentTextDelta, Text: "second prompt reply"},
		{Kind: ContentStreamComplete},
	}})
	if secondMsg == nil {
		t.Fatalf("expected a boundary for the second prompt")
	}

	if firstMsg.MessageID == secondMsg.MessageID {
		t.Fatalf("two separate prompts on the same thread produced the same MessageID %q", firstMsg.MessageID)
	}
}

func TestUpdatePairerRoleChangeBoundary(t *testing.T) {
	key := ThreadKey{ConvID: 1, ThreadID: 1, AgentID: "a"}
	p := NewUpdatePairer(key, "user-1", 100, counterFrom(0))
	p.role = RoleUser

	_, msg := p.Pair(ModelUpdate{Contents: []ContentItem{{Kind: ContentTextDelta, Text: "assistant text"}}})
	if msg == nil {
		t.Fatalf("expected a boundary on role change from user to assistant")
	}
}

package conduit

import (
	"testing"
)

func TestReconnectionBufferAppendAndResumeFinalized(t *testing.T) {
	b := NewReconnectionBuffer(nil)
	key := ThreadKey{ConvID: 1, ThreadID: 1, AgentID: "a"}

	msg1 := CoalescedMessage{MessageID: "m1", Text: "first"}
	msg2 := CoalescedMessage{MessageID: "m2", Text: "second"}
	b.Append(StreamTriple{Key: key, Coalesced: &msg1})
	b.Append(StreamTriple{Key: key, Coalesced: &msg2})

	result := b.Resume(key, "", "")
	if len(result.FinalizedSince) != 2 {
		t.Fatalf("FinalizedSince = %d messages, want 2", len(result.FinalizedSince))
	}

	result = b.Resume(key, "m1", "")
	if len(result.FinalizedSince) != 1 || result.FinalizedSince[0].MessageID != "m2" {
		t.Fatalf("FinalizedSince after m1 = %+v, want only m2", result.FinalizedSince)
	}
}

func TestReconnectionBufferResumeInFlight(t *testing.T) {
	b := NewReconnectionBuffer(nil)
	key := ThreadKey{ConvID: 1, ThreadID: 1, AgentID: "a"}

	finalized := CoalescedMessage{MessageID: "m1", Text: "done"}
	b.Append(StreamTriple{Key: key, Coalesced: &finalized})
	b.Append(StreamTriple{Key: key, Update: ModelUpdate{Contents: []ContentItem{{Kind: ContentTextDelta, Text: "partial "}}}})
	b.Append(StreamTriple{Key: key, Update: ModelUpdate{Contents: []ContentItem{{Kind: ContentTextDelta, Text: "reply"}}}})

	result := b.Resume(key, "m1", "")
	if len(result.InFlight) != 2 {
		t.Fatalf("InFlight = %d triples, want 2", len(result.InFlight))
	}
}

func TestReconnectionBufferHighWaterAdvances(t *testing.T) {
	b := NewReconnectionBuffer(nil)
	key := ThreadKey{ConvID: 1, ThreadID: 1, AgentID: "a"}

	b.Append(StreamTriple{Key: key})
	first := b.Resume(key, "", "").HighWater
	b.Append(StreamTriple{Key: key})
	second := b.Resume(key, "", "").HighWater

	if second <= first {
		t.Fatalf("HighWater did not advance: first=%d second=%d", first, second)
	}
}

func TestReconnectionBufferRingEvictsOldestFirst(t *testing.T) {
	b := NewReconnectionBuffer(nil)
	key := ThreadKey{ConvID: 1, ThreadID: 1, AgentID: "a"}

	total := bufferRingCapacity + 10
	for i := 0; i < total; i++ {
		b.Append(StreamTriple{Key: key})
	}

	pk := b.bufferFor(key)
	pk.mu.Lock()
	got := len(pk.triples)
	pk.mu.Unlock()

	if got != bufferRingCapacity {
		t.Fatalf("ring held %d triples, want capped at %d", got, bufferRingCapacity)
	}
}

func TestReconnectionBufferRecentMessagesCapped(t *testing.T) {
	b := NewReconnectionBuffer(nil)
	key := ThreadKey{ConvID: 1, ThreadID: 1, AgentID: "a"}

	total := bufferRecentMsgCap + 5
	for i := 0; i < total; i++ {
		msg := CoalescedMessage{MessageID: string(rune('a' + i%26))}
		b.Append(StreamTriple{Key: key, Coalesced: &msg})
	}

	pk := b.bufferFor(key)
	pk.mu.Lock()
	got := len(pk.messages)
	pk.mu.Unlock()

	if got != bufferRecentMsgCap {
		t.Fatalf("messages held %d, want capped at %d", got, bufferRecentMsgCap)
	}
}

func TestReconnectionBufferIsRetainedFalseForUnknownKey(t *testing.T) {
	b := NewReconnectionBuffer(nil)
	key := ThreadKey{ConvID: 1, ThreadID: 1, AgentID: "a"}
	if b.IsRetained(key) {
		t.Fatalf("IsRetained true for a key that was never appended to")
	}
}

func TestReconnectionBufferSweepEvictsWhenSurfaceSaysGone(t *testing.T) {
	b := NewReconnectionBuffer(nil)
	present := ThreadKey{ConvID: 1, ThreadID: 1, AgentID: "a"}
	gone := ThreadKey{ConvID: 1, ThreadID: 2, AgentID: "a"}

	b.Append(StreamTriple{Key: present})
	b.Append(StreamTriple{Key: gone})

	b.Sweep(func(k ThreadKey) bool { return k == present })

	if !b.IsRetained(present) {
		t.Fatalf("Sweep evicted a key its surface reports as existing")
	}
	if b.IsRetained(gone) {
		t.Fatalf("Sweep kept a key its surface reports as gone")
	}
}

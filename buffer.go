package conduit

import (
	"context"
	"sync"
	"time"
)

// nopCtx is used for the best-effort persistence writes Append/Sweep
// fire off in the background, detached from any caller's cancellation.
func nopCtx() context.Context { return context.Background() }

const (
	bufferTTL          = 5 * 24 * time.Hour
	bufferRingCapacity = 256
	bufferRecentMsgCap = 32
)

// perKeyBuffer is the bounded ring for one ThreadKey: recent StreamTriples
// plus the last few finalized CoalescedMessages, guarded by its own lock
// (per §5, "ReconnectionBuffer: per-key lock").
type perKeyBuffer struct {
	mu         sync.Mutex
	triples    []StreamTriple
	messages   []CoalescedMessage
	lastWrite  time.Time
	sequence   int64
}

// ReconnectionBuffer lets a push surface resynthesize an in-flight or
// recently-completed turn for a client that reconnects after a drop.
// Entries are retained for bufferTTL from last write, or until the ring
// is full (oldest evicted first); a background Sweep removes keys whose
// owning surface confirms the thread is gone.
type ReconnectionBuffer struct {
	mu      sync.Mutex
	buffers map[ThreadKey]*perKeyBuffer
	persist BufferStore // may be nil.
}

// NewReconnectionBuffer creates an empty buffer. persist, if non-nil, is
// written through on every Append so entries survive process restarts.
func NewReconnectionBuffer(persist BufferStore) *ReconnectionBuffer {
	return &ReconnectionBuffer{buffers: make(map[ThreadKey]*perKeyBuffer), persist: persist}
}

func (b *ReconnectionBuffer) bufferFor(key ThreadKey) *perKeyBuffer {
	b.mu.Lock()
	defer b.mu.Unlock()
	pk, ok := b.buffers[key]
	if !ok {
		pk = &perKeyBuffer{}
		b.buffers[key] = pk
	}
	return pk
}

// Append records t in its key's ring, evicting the oldest entry if full.
func (b *ReconnectionBuffer) Append(t StreamTriple) {
	pk := b.bufferFor(t.Key)
	pk.mu.Lock()
	defer pk.mu.Unlock()
	pk.sequence++
	pk.lastWrite = time.Now()
	pk.triples = append(pk.triples, t)
	if len(pk.triples) > bufferRingCapacity {
		pk.triples = pk.triples[len(pk.triples)-bufferRingCapacity:]
	}
	if t.Coalesced != nil {
		pk.messages = append(pk.messages, *t.Coalesced)
		if len(pk.messages) > bufferRecentMsgCap {
			pk.messages = pk.messages[len(pk.messages)-bufferRecentMsgCap:]
		}
	}
	if b.persist != nil {
		go func() {
			_ = b.persist.AppendTriple(nopCtx(), t.Key, t)
			if t.Coalesced != nil {
				_ = b.persist.AppendMessage(nopCtx(), t.Key, *t.Coalesced)
			}
		}()
	}
}

// ResumeResult is what a reconnecting client needs to resynthesize the
// thread's recent and in-flight state.
type ResumeResult struct {
	FinalizedSince []CoalescedMessage
	InFlight       []StreamTriple
	HighWater      int64
}

// Resume returns the finalized messages after lastSeenMessageId, any
// in-flight triples since the last boundary, and a high-water sequence
// number for future catch-up.
func (b *ReconnectionBuffer) Resume(key ThreadKey, lastSeenMessageID, currentStreamingMessageID string) ResumeResult {
	pk := b.bufferFor(key)
	pk.mu.Lock()
	defer pk.mu.Unlock()

	var result ResumeResult
	result.HighWater = pk.sequence

	start := 0
	if lastSeenMessageID != "" {
		for i, m := range pk.messages {
			if m.MessageID == lastSeenMessageID {
				start = i + 1
			}
		}
	}
	result.FinalizedSince = append(result.FinalizedSince, pk.messages[start:]...)

	// In-flight triples: everything appended since the last finalized
	// boundary (i.e. triples whose Coalesced is nil, or whose Coalesced
	// id matches the caller's currently-streaming message).
	for i := len(pk.triples) - 1; i >= 0; i-- {
		t := pk.triples[i]
		if t.Coalesced != nil && t.Coalesced.MessageID != currentStreamingMessageID {
			break
		}
		result.InFlight = append([]StreamTriple{t}, result.InFlight...)
	}
	return result
}

// IsRetained reports whether key's buffer is still within its TTL
// window — exposed mainly for tests asserting the superset invariant.
func (b *ReconnectionBuffer) IsRetained(key ThreadKey) bool {
	b.mu.Lock()
	pk, ok := b.buffers[key]
	b.mu.Unlock()
	if !ok {
		return false
	}
	pk.mu.Lock()
	defer pk.mu.Unlock()
	return time.Since(pk.lastWrite) < bufferTTL
}

// Sweep evicts every key whose buffer has exceeded its TTL, or whose
// owning surface confirms (via exists) the thread no longer lives.
func (b *ReconnectionBuffer) Sweep(exists func(ThreadKey) bool) {
	b.mu.Lock()
	keys := make([]ThreadKey, 0, len(b.buffers))
	for k := range b.buffers {
		keys = append(keys, k)
	}
	b.mu.Unlock()

	for _, k := range keys {
		b.mu.Lock()
		pk := b.buffers[k]
		b.mu.Unlock()
		pk.mu.Lock()
		expired := time.Since(pk.lastWrite) >= bufferTTL
		pk.mu.Unlock()
		if expired || (exists != nil && !exists(k)) {
			b.mu.Lock()
			delete(b.buffers, k)
			b.mu.Unlock()
			if b.persist != nil {
				_ = b.persist.Delete(nopCtx(), k)
			}
		}
	}
}

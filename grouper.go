package conduit

import "context"

// StreamingGrouper groups a merged prompt sequence by ThreadKey, opening
// a fresh downstream sub-sequence for each new key. It performs no
// serialization across groups: multiple groups drain concurrently.
// Prompt ordering within a thread is strictly preserved because each
// key's items are routed, in arrival order, into one channel.
type StreamingGrouper struct{}

// NewStreamingGrouper returns a ready-to-use grouper; it holds no state
// of its own (state lives in the channel goroutine GroupBy starts).
func NewStreamingGrouper() *StreamingGrouper { return &StreamingGrouper{} }

// GroupBy is a thin, typed wrapper over GroupByKeyed for Prompt streams.
func (g *StreamingGrouper) GroupBy(ctx context.Context, prompts Sequence[Prompt]) <-chan KeyedGroup[ThreadKey, Prompt] {
	return GroupByKeyed(ctx, prompts, func(p Prompt) ThreadKey { return p.Key })
}

package agent

import "context"

// Message is one persisted turn in a thread's conversation history, used by
// agentMemory to reconstruct context across calls and, optionally, across
// threads via semantic search.
type Message struct {
	ID        string
	ThreadID  string
	Role      string
	Content   string
	CreatedAt int64
	Embedding []float32
}

// ScoredMessage is a Message returned from SearchMessages, carrying its
// cosine similarity against the query embedding. Score is 0 when the store
// did not compute one.
type ScoredMessage struct {
	Message
	Score float32
}

// Fact is one durable piece of information learned about a user, persisted
// to MemoryStore and injected back into future system prompts.
type Fact struct {
	ID         string
	Fact       string
	Category   string
	Confidence float64
	Embedding  []float32
	CreatedAt  int64
	UpdatedAt  int64
}

// ScoredFact is a Fact returned from SearchFacts, carrying its cosine
// similarity against the query embedding.
type ScoredFact struct {
	Fact
	Score float32
}

// Store provides conversation history persistence for agentMemory. A thread
// ID here is the string form of the engine's ThreadKey, produced by the
// DisposableAgent adapter so a single conversation store can serve every
// agent definition.
type Store interface {
	GetMessages(ctx context.Context, threadID string, limit int) ([]Message, error)
	StoreMessage(ctx context.Context, msg Message) error
	// SearchMessages returns messages across all threads ranked by
	// similarity to embedding. Implementations that cannot compute
	// similarity may return results with Score left at 0.
	SearchMessages(ctx context.Context, embedding []float32, topK int) ([]ScoredMessage, error)
}

package conduit

import (
	"context"
	"sync"

	"github.com/nevindra/conduit/render"
)

// PromptSource is the narrow view of a Surface the grouper and ingress
// loop consume: a lazy, possibly-infinite sequence of Prompts. Failure to
// fetch is recoverable — implementations yield nothing rather than fail
// the sequence, except when ctx is cancelled.
type PromptSource interface {
	ReadPrompts(ctx context.Context, pollTimeout int) (<-chan Prompt, error)
}

// ResponseSink is the per-surface half of ResponseFanOut's dispatch
// contract.
type ResponseSink interface {
	BeginTurn(ctx context.Context, key ThreadKey) error
	Emit(ctx context.Context, t StreamTriple) error
	EndTurn(ctx context.Context, key ThreadKey) error
}

// Surface bundles the capabilities a chat-surface adapter offers the
// engine. Components hold only the subset they need (e.g. the scheduler
// only needs ProvisionThread and SupportsScheduledNotifications).
type Surface interface {
	PromptSource
	ResponseSink

	ProvisionThread(ctx context.Context, convID int64, name string) (threadID int64, err error)
	ThreadExists(ctx context.Context, convID, threadID int64) (bool, error)

	// CreateTopicIfNeeded composes ProvisionThread for prompts missing a
	// thread id; it is a no-op returning the prompt's key unchanged when
	// one is already provisioned.
	CreateTopicIfNeeded(ctx context.Context, convID int64, threadID int64, agentID, name string) (ThreadKey, error)

	SupportsScheduledNotifications() bool
}

// TopicProvisioner materializes a thread for a prompt that arrived
// without one, echoing the prompt back as a bolded header. It is
// idempotent per (surfaceConvId, prompt message id): replayed
// provisions return the same ThreadKey.
type TopicProvisioner struct {
	surfaces func(agentID string) Surface
	mu       sync.Mutex
	seen     map[provisionKey]ThreadKey
}

type provisionKey struct {
	convID int64
	msgID  string
}

// NewTopicProvisioner builds a provisioner that resolves the owning
// Surface for a prompt's agent id via surfaceFor.
func NewTopicProvisioner(surfaceFor func(agentID string) Surface) *TopicProvisioner {
	return &TopicProvisioner{
		surfaces: surfaceFor,
		seen:     make(map[provisionKey]ThreadKey),
	}
}

const topicNameGlyphBudget = 32

// Provision returns a stable ThreadKey for p, provisioning a new thread
// on the originating surface when p.Key is not yet provisioned.
func (p *TopicProvisioner) Provision(ctx context.Context, prompt Prompt) (ThreadKey, error) {
	if prompt.Key.Provisioned() {
		return prompt.Key, nil
	}
	pk := provisionKey{convID: prompt.Key.ConvID, msgID: prompt.ID}

	p.mu.Lock()
	if k, ok := p.seen[pk]; ok {
		p.mu.Unlock()
		return k, nil
	}
	p.mu.Unlock()

	s := p.surfaces(prompt.Key.AgentID)
	if s == nil {
		return ThreadKey{}, &ErrProtocol{Reason: "no surface registered for agent " + prompt.Key.AgentID}
	}
	name := render.TruncateGlyphs(prompt.Body, topicNameGlyphBudget)
	threadID, err := s.ProvisionThread(ctx, prompt.Key.ConvID, name)
	if err != nil {
		return ThreadKey{}, err
	}
	key := ThreadKey{ConvID: prompt.Key.ConvID, ThreadID: threadID, AgentID: prompt.Key.AgentID}

	p.mu.Lock()
	p.seen[pk] = key
	p.mu.Unlock()

	_ = s.BeginTurn(ctx, key)
	_ = s.Emit(ctx, StreamTriple{
		Key: key,
		Update: ModelUpdate{
			ID: NewID(),
			Contents: []ContentItem{{
				Kind: ContentTextDelta,
				Text: "**" + name + "**",
			}},
		},
	})
	_ = s.EndTurn(ctx, key)
	return key, nil
}

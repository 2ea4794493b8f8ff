package agent

import (
	"context"
	"fmt"

	"github.com/nevindra/conduit"
)

// Disposable adapts a StreamingAgent to conduit.DisposableAgent, so an
// LLMAgent or Network can be driven by conduit.AgentRunner.
//
// An LLMAgent keeps no in-process conversation state of its own — history,
// cross-thread recall, and user facts all live behind the Store/MemoryStore
// it was built with (see WithConversationMemory, WithUserMemory). The
// ThreadHandle this adapter hands back and forth is therefore just the
// opaque snapshot bytes conduit already persists per thread; Serialize and
// Deserialize round-trip it unchanged rather than decode it.
type Disposable struct {
	agent StreamingAgent
}

// NewDisposable wraps agent for use as a conduit.DisposableAgent.
func NewDisposable(agent StreamingAgent) *Disposable {
	return &Disposable{agent: agent}
}

// RunStreaming runs one turn of the wrapped agent, translating its token
// stream into conduit.ModelUpdate values. The returned channel closes once
// the agent's ExecuteStream call returns, whether or not it errored.
func (d *Disposable) RunStreaming(ctx context.Context, prompt conduit.Prompt, thread conduit.ThreadHandle) (<-chan conduit.ModelUpdate, error) {
	out := make(chan conduit.ModelUpdate)

	task := AgentTask{
		Input:       prompt.Body,
		Context:     map[string]string{"thread_id": threadIDString(prompt.Key)},
		Attachments: convertAttachments(prompt.Attachments),
	}

	tokens := make(chan string)
	resultCh := make(chan agentRunOutcome, 1)
	go func() {
		res, err := d.agent.ExecuteStream(ctx, task, tokens)
		resultCh <- agentRunOutcome{result: res, err: err}
	}()

	go func() {
		defer close(out)
		var index int64
		for tok := range tokens {
			if tok == "" {
				continue
			}
			index++
			select {
			case out <- conduit.ModelUpdate{
				ID:       NewID(),
				Index:    index,
				Contents: []conduit.ContentItem{{Kind: conduit.ContentTextDelta, Text: tok}},
			}:
			case <-ctx.Done():
				return
			}
		}

		outcome := <-resultCh
		index++
		item := conduit.ContentItem{Kind: conduit.ContentStreamComplete}
		if outcome.err != nil {
			item = conduit.ContentItem{Kind: conduit.ContentError, Err: outcome.err}
		}
		select {
		case out <- conduit.ModelUpdate{ID: NewID(), Index: index, Contents: []conduit.ContentItem{item}}:
		case <-ctx.Done():
		}
	}()

	return out, nil
}

type agentRunOutcome struct {
	result AgentResult
	err    error
}

// DeserializeThread returns snapshot unchanged: the real state it guards
// (message history, recalled facts) lives behind the agent's own Store, not
// in this handle.
func (d *Disposable) DeserializeThread(snapshot []byte) (conduit.ThreadHandle, error) {
	return snapshot, nil
}

// SerializeThread returns thread's bytes unchanged, or nil if thread is not
// a []byte (e.g. the zero-value handle for a never-run thread).
func (d *Disposable) SerializeThread(thread conduit.ThreadHandle) ([]byte, error) {
	snap, _ := thread.([]byte)
	return snap, nil
}

// Dispose is a no-op: Disposable holds no per-thread resources of its own.
func (d *Disposable) Dispose(ctx context.Context) error { return nil }

// SubmitApproval is a no-op: the wrapped StreamingAgent's tool-calling
// loop has no whitelist/approval gate and never emits
// conduit.ContentApprovalRequest, so conduit.AgentRunner never has a
// pending approval to deliver here.
func (d *Disposable) SubmitApproval(ctx context.Context, approvalID string, resolved conduit.ApprovalResolved) error {
	return nil
}

var _ conduit.DisposableAgent = (*Disposable)(nil)

func threadIDString(key conduit.ThreadKey) string {
	return fmt.Sprintf("%d:%d", key.ConvID, key.ThreadID)
}

func convertAttachments(in []conduit.Attachment) []Attachment {
	if len(in) == 0 {
		return nil
	}
	out := make([]Attachment, len(in))
	for i, a := range in {
		out[i] = Attachment{MimeType: a.MimeType, Base64: a.Base64}
	}
	return out
}

// Factory builds a conduit.AgentFactory backed by a fixed set of named
// StreamingAgents, one per agentID — e.g. distinct LLMAgent/Network
// instances for different assistant personas. senderID is accepted to
// satisfy conduit.AgentFactory's signature but unused: an LLMAgent reads
// its caller identity from AgentTask.Context, not from construction time.
func Factory(agents map[string]StreamingAgent) conduit.AgentFactory {
	return func(agentID, senderID string) (conduit.DisposableAgent, error) {
		a, ok := agents[agentID]
		if !ok {
			return nil, fmt.Errorf("agent: no agent registered for id %q", agentID)
		}
		return NewDisposable(a), nil
	}
}

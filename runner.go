package conduit

import (
	"context"
	"log/slog"
	"sync"
)

// AgentRunner is the per-group driver invoked once for each new
// (ThreadKey, subSequence) pair emitted by StreamingGrouper.
type AgentRunner struct {
	factory   AgentFactory
	registry  *ThreadRegistry
	approvals *ApprovalStore
	logger    *slog.Logger
}

// NewAgentRunner wires a runner against the given agent factory and
// shared registry/approval-store collaborators.
func NewAgentRunner(factory AgentFactory, registry *ThreadRegistry, approvals *ApprovalStore, opts ...RunnerOption) *AgentRunner {
	r := &AgentRunner{factory: factory, registry: registry, approvals: approvals, logger: nopLogger}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunnerOption configures an AgentRunner.
type RunnerOption func(*AgentRunner)

// WithRunnerLogger sets the structured logger used for lifecycle events.
func WithRunnerLogger(l *slog.Logger) RunnerOption {
	return func(r *AgentRunner) {
		if l != nil {
			r.logger = l
		}
	}
}

// Run drives kg to completion, returning the group's merged output
// sequence of StreamTriples. The channel closes once kg.Sub is
// exhausted and every in-flight prompt's output has been drained. Run
// calls kg.Complete() once the group finishes, including when a
// registry-driven cancel/clear cancels the run context.
func (r *AgentRunner) Run(ctx context.Context, kg KeyedGroup[ThreadKey, Prompt]) <-chan StreamTriple {
	out := make(chan StreamTriple)

	first, ok := <-kg.Sub
	if !ok {
		close(out)
		kg.Complete()
		return out
	}

	agent, err := r.factory(kg.Key.AgentID, first.SenderID)
	if err != nil {
		go func() {
			defer close(out)
			out <- errorTriple(kg.Key, err)
			kg.Complete()
		}()
		return out
	}

	tc := r.registry.Resolve(ctx, kg.Key)
	thread, err := agent.DeserializeThread(tc.Snapshot())
	if err != nil {
		go func() {
			defer close(out)
			out <- errorTriple(kg.Key, err)
			_ = agent.Dispose(ctx)
			kg.Complete()
		}()
		return out
	}

	runCtx, cancel := context.WithCancel(ctx)
	tc.arm(cancel, kg.Complete)

	go r.drive(runCtx, cancel, kg, tc, agent, thread, first, out)
	return out
}

func (r *AgentRunner) drive(ctx context.Context, cancel context.CancelFunc, kg KeyedGroup[ThreadKey, Prompt], tc *ThreadContext, agent DisposableAgent, thread ThreadHandle, first Prompt, out chan<- StreamTriple) {
	var wg sync.WaitGroup
	defer func() {
		wg.Wait()
		close(out)
		_ = agent.Dispose(context.Background())
		tc.disarm()
		cancel()
		kg.Complete()
	}()

	pending := make(chan Prompt, 1)
	pending <- first

	for {
		select {
		case <-ctx.Done():
			return
		case p, ok := <-pending:
			if !ok {
				return
			}
			r.handlePrompt(ctx, kg.Key, tc, agent, &thread, p, out, &wg)
		case p, ok := <-kg.Sub:
			if !ok {
				// Drain any prompt still queued, then stop.
				select {
				case p2 := <-pending:
					r.handlePrompt(ctx, kg.Key, tc, agent, &thread, p2, out, &wg)
				default:
				}
				return
			}
			r.handlePrompt(ctx, kg.Key, tc, agent, &thread, p, out, &wg)
		}
	}
}

func (r *AgentRunner) handlePrompt(ctx context.Context, key ThreadKey, tc *ThreadContext, agent DisposableAgent, thread *ThreadHandle, p Prompt, out chan<- StreamTriple, wg *sync.WaitGroup) {
	switch ParseControlCommand(NormalizePromptBody(p.Body)) {
	case CommandCancel:
		r.registry.Cancel(key)
		return
	case CommandClear:
		r.registry.Clear(ctx, key)
		return
	}

	updates, err := agent.RunStreaming(ctx, p, *thread)
	if err != nil {
		select {
		case out <- errorTriple(key, err):
		case <-ctx.Done():
		}
		return
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		pairer := NewUpdatePairer(key, p.SenderID, p.Timestamp, tc.NextBoundary)
		var lastCoalesced *CoalescedMessage
		for {
			select {
			case u, ok := <-updates:
				if !ok {
					if last := r.flushComplete(pairer, lastCoalesced); last != nil {
						select {
						case out <- StreamTriple{Key: key, Update: syntheticComplete(), Coalesced: last}:
						case <-ctx.Done():
						}
						if snap, err := agent.SerializeThread(*thread); err == nil {
							tc.SetSnapshot(snap)
							if r.registry.snapshots != nil {
								_ = r.registry.snapshots.Save(ctx, key, snap)
							}
						}
					}
					return
				}
				r.watchForApprovals(ctx, key, agent, u)
				_, coalesced := pairer.Pair(u)
				if coalesced != nil {
					lastCoalesced = coalesced
					if snap, err := agent.SerializeThread(*thread); err == nil {
						tc.SetSnapshot(snap)
						if r.registry.snapshots != nil {
							_ = r.registry.snapshots.Save(ctx, key, snap)
						}
					}
				}
				select {
				case out <- StreamTriple{Key: key, Update: u, Coalesced: coalesced}:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// watchForApprovals registers every ContentApprovalRequest item in u
// with ApprovalStore and arranges for the eventual ApprovalResolved to
// be delivered back into agent, so a paused run can resume producing
// updates on its already-open RunStreaming channel.
func (r *AgentRunner) watchForApprovals(ctx context.Context, key ThreadKey, agent DisposableAgent, u ModelUpdate) {
	for _, item := range u.Contents {
		if item.Kind != ContentApprovalRequest {
			continue
		}
		approvalID := item.ApprovalID
		resolved := r.approvals.Register(key, approvalID)
		go func() {
			select {
			case decision := <-resolved:
				if err := agent.SubmitApproval(ctx, approvalID, decision); err != nil {
					r.logger.Error("submit approval failed", "approval_id", approvalID, "error", err)
				}
			case <-ctx.Done():
				r.approvals.Abandon(key, approvalID)
			}
		}()
	}
}

// flushComplete decides whether a synthetic trailing StreamComplete
// triple is still owed: only when the upstream sequence closed without
// itself emitting one (lastCoalesced from a prior boundary is not
// re-sent).
func (r *AgentRunner) flushComplete(pairer *UpdatePairer, lastCoalesced *CoalescedMessage) *CoalescedMessage {
	_, msg := pairer.Pair(ModelUpdate{Contents: []ContentItem{{Kind: ContentStreamComplete}}})
	return msg
}

func syntheticComplete() ModelUpdate {
	return ModelUpdate{ID: NewID(), Contents: []ContentItem{{Kind: ContentStreamComplete}}}
}

func errorTriple(key ThreadKey, err error) StreamTriple {
	return StreamTriple{
		Key: key,
		Update: ModelUpdate{
			ID:       NewID(),
			Contents: []ContentItem{{Kind: ContentError, Err: err}},
		},
	}
}

var nopLogger = slog.New(slog.NewTextHandler(discardWriter{}, &slog.HandlerOptions{Level: slog.LevelError + 1}))

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

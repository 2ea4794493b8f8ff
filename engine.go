package conduit

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Engine is the top-level orchestrator wiring PromptSource → StreamingGrouper
// → AgentRunner → ResponseFanOut, plus the background sweep loop shared by
// ThreadRegistry and ReconnectionBuffer.
type Engine struct {
	surfaces   map[string]Surface // keyed by agent id.
	factory    AgentFactory
	snapshots  SnapshotStore
	bufferStor BufferStore
	logger     *slog.Logger
	tracer     Tracer
	sweepEvery int // seconds; 0 disables periodic sweep.

	registry    *ThreadRegistry
	buffer      *ReconnectionBuffer
	approval    *ApprovalStore
	grouper     *StreamingGrouper
	runner      *AgentRunner
	fanout      *ResponseFanOut
	provisioner *TopicProvisioner

	manual chan Prompt
}

// Option configures an Engine.
type Option func(*Engine)

// WithSurface registers the Surface responsible for agentID's prompts
// and response sinks.
func WithSurface(agentID string, s Surface) Option {
	return func(e *Engine) { e.surfaces[agentID] = s }
}

// WithAgentFactory sets the constructor used for each newly opened
// thread group.
func WithAgentFactory(f AgentFactory) Option {
	return func(e *Engine) { e.factory = f }
}

// WithSnapshotStore sets the persisted-snapshot collaborator.
func WithSnapshotStore(s SnapshotStore) Option {
	return func(e *Engine) { e.snapshots = s }
}

// WithBufferStore sets the persisted reconnection-buffer collaborator.
func WithBufferStore(s BufferStore) Option {
	return func(e *Engine) { e.bufferStor = s }
}

// WithLogger sets the structured logger used across engine components.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithTracer stores t on the Engine. No engine component opens spans
// through it: runs, tool dispatch and fan-out are not traced.
func WithTracer(t Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// WithSweepInterval sets the background sweep cadence in seconds; 0
// (the default) disables periodic sweeping.
func WithSweepInterval(seconds int) Option {
	return func(e *Engine) { e.sweepEvery = seconds }
}

// New constructs an Engine from the given options. Callers must supply at
// least one surface and an agent factory before calling Run.
func New(opts ...Option) *Engine {
	e := &Engine{
		surfaces: make(map[string]Surface),
		logger:   nopLogger,
		manual:   make(chan Prompt),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.approval = NewApprovalStore()
	e.buffer = NewReconnectionBuffer(e.bufferStor)
	e.registry = NewThreadRegistry(e.snapshots, func(k ThreadKey) Surface { return e.surfaces[k.AgentID] })
	e.grouper = NewStreamingGrouper()
	e.provisioner = NewTopicProvisioner(func(agentID string) Surface { return e.surfaces[agentID] })
	e.runner = NewAgentRunner(e.factory, e.registry, e.approval, WithRunnerLogger(e.logger))
	e.fanout = NewResponseFanOut(func(k ThreadKey) ResponseSink {
		if s, ok := e.surfaces[k.AgentID]; ok {
			return s
		}
		return nil
	}, e.buffer)
	return e
}

// Registry exposes the thread registry, mainly for Scheduler wiring and
// tests.
func (e *Engine) Registry() *ThreadRegistry { return e.registry }

// Buffer exposes the reconnection buffer, for a push surface's resume
// handler.
func (e *Engine) Buffer() *ReconnectionBuffer { return e.buffer }

// Approvals exposes the approval store, for a surface's SubmitApproval
// handler.
func (e *Engine) Approvals() *ApprovalStore { return e.approval }

// Surface looks up the Surface registered for agentID, for Scheduler's
// thread provisioning and capability checks.
func (e *Engine) Surface(agentID string) (Surface, bool) {
	s, ok := e.surfaces[agentID]
	return s, ok
}

// FanOut exposes the fan-out dispatcher so Scheduler can register a
// scheduled run's output for surfaces that support notifications.
func (e *Engine) FanOut() *ResponseFanOut { return e.fanout }

// RunPrompt drives a single already-provisioned prompt through
// AgentRunner directly, bypassing the surface-merged grouper: each
// scheduled firing is its own one-shot group, not part of an ongoing
// interactive sub-sequence. Callers (Scheduler) own fan-out registration
// of the returned channel; RunPrompt does not register it.
func (e *Engine) RunPrompt(ctx context.Context, p Prompt) <-chan StreamTriple {
	sub := make(chan Prompt, 1)
	sub <- p
	close(sub)
	kg := KeyedGroup[ThreadKey, Prompt]{
		Key:      p.Key,
		Sub:      Sequence[Prompt](sub),
		Complete: func() {},
	}
	return e.runner.Run(ctx, kg)
}

// Submit injects a single prompt directly into the engine, provisioning
// a thread first if necessary, for tests and callers driving the engine
// without a live surface. Scheduler does not use it; it calls RunPrompt.
func (e *Engine) Submit(ctx context.Context, p Prompt) error {
	if _, ok := e.surfaces[p.Key.AgentID]; !ok {
		return &ErrProtocol{Reason: fmt.Sprintf("no surface registered for agent %q", p.Key.AgentID)}
	}
	if !p.Key.Provisioned() {
		key, err := e.provisioner.Provision(ctx, p)
		if err != nil {
			return err
		}
		p.Key = key
	}
	select {
	case e.manual <- p:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// Run starts prompt ingress from every registered surface, the grouper,
// the per-group runners, and the fan-out dispatcher. It blocks until ctx
// is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	if len(e.surfaces) == 0 || e.factory == nil {
		return &ErrFatal{Reason: "engine requires at least one surface and an agent factory"}
	}

	sources := make([]Sequence[Prompt], 0, len(e.surfaces)+1)
	for agentID, s := range e.surfaces {
		agentID := agentID
		ch, err := s.ReadPrompts(ctx, 30)
		if err != nil {
			return &ErrFatal{Reason: "surface " + agentID + " failed to start", Cause: err}
		}
		sources = append(sources, Sequence[Prompt](ch))
	}
	sources = append(sources, Sequence[Prompt](e.manual))

	merged := Merge(ctx, sources...)
	provisioned := e.provisionPrompts(ctx, merged)
	groups := e.grouper.GroupBy(ctx, provisioned)

	go e.fanout.Run(ctx)
	if e.sweepEvery > 0 {
		go e.sweepLoop(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case kg, ok := <-groups:
			if !ok {
				return nil
			}
			out := e.runner.Run(ctx, kg)
			e.fanout.Register(kg.Key, out)
		}
	}
}

// provisionPrompts wraps src, materializing a thread (and echoing the
// bolded-header turn) for any prompt that arrives without one, via the
// engine's single shared TopicProvisioner — so the idempotence map that
// guards replayed (surfaceConvId, message id) provisions actually
// persists across the whole engine's lifetime, not just one call.
// Prompts whose provisioning fails are logged and dropped rather than
// forwarded with a zero ThreadID, which would otherwise group every
// failed-to-provision prompt from one conversation into a single
// bogus thread.
func (e *Engine) provisionPrompts(ctx context.Context, src Sequence[Prompt]) Sequence[Prompt] {
	out := make(chan Prompt)
	go func() {
		defer close(out)
		for {
			select {
			case p, ok := <-src:
				if !ok {
					return
				}
				if !p.Key.Provisioned() {
					key, err := e.provisioner.Provision(ctx, p)
					if err != nil {
						e.logger.Error("topic provisioning failed", "agent", p.Key.AgentID, "error", err)
						continue
					}
					p.Key = key
				}
				select {
				case out <- p:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func (e *Engine) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(e.sweepEvery) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.registry.Sweep(ctx)
			e.buffer.Sweep(func(k ThreadKey) bool {
				s, ok := e.surfaces[k.AgentID]
				if !ok {
					return false
				}
				exists, err := s.ThreadExists(ctx, k.ConvID, k.ThreadID)
				return err == nil && exists
			})
		}
	}
}

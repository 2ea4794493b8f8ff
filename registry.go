package conduit

import (
	"context"
	"sync"
	"sync/atomic"
)

// ThreadState is the lifecycle state of a ThreadContext.
type ThreadState int32

const (
	ThreadIdle ThreadState = iota
	ThreadRunning
	ThreadCancelled
	ThreadCleared
)

// ThreadContext is the per-thread mutable companion owned exclusively by
// ThreadRegistry. AgentRunner holds only a borrowed reference for the
// duration of a run.
type ThreadContext struct {
	key   ThreadKey
	mu    sync.Mutex
	state ThreadState

	cancel      context.CancelFunc // set while a run is active; nil otherwise.
	onComplete  func()             // closes the inbound group; set by AgentRunner.
	snapshot    []byte             // opaque serialized agent-thread state.

	boundary atomic.Int64 // message-id boundary counter, shared across every prompt on this thread.
}

// NextBoundary returns the next value in this thread's messageId
// boundary sequence. Every UpdatePairer scoped to this context draws
// from the same counter so that ids stay unique across prompts, not
// just within one: a pairer that restarted at zero per prompt would
// collide with every other prompt's first boundary on the same thread.
func (c *ThreadContext) NextBoundary() int64 {
	return c.boundary.Add(1)
}

// State returns the context's current lifecycle state.
func (c *ThreadContext) State() ThreadState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Snapshot returns the last persisted agent-thread snapshot, or nil if
// none has been recorded yet.
func (c *ThreadContext) Snapshot() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot
}

// SetSnapshot records a new snapshot. Callers must only do this at a
// turn boundary (per the data-model invariant).
func (c *ThreadContext) SetSnapshot(b []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshot = b
}

// arm installs the cancel handle and completion callback for a new run,
// transitioning the context to Running. It is an error (caller bug) to
// arm an already-running context; ThreadRegistry serializes this via its
// own lock so AgentRunner never races itself for one key.
func (c *ThreadContext) arm(cancel context.CancelFunc, onComplete func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancel = cancel
	c.onComplete = onComplete
	c.state = ThreadRunning
}

// disarm clears the cancel handle once a run's output sequence is
// exhausted, returning the context to Idle so it can re-arm for the
// next prompt.
func (c *ThreadContext) disarm() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancel = nil
	c.onComplete = nil
	if c.state != ThreadCleared {
		c.state = ThreadIdle
	}
}

// ThreadRegistry maps ThreadKey to ThreadContext behind a single mutex,
// exposing only resolve/cancel/clear/sweep — never the underlying map.
// All operations are linearizable: cancel and resolve never observe a
// partially-constructed context.
type ThreadRegistry struct {
	mu       sync.Mutex
	contexts map[ThreadKey]*ThreadContext
	snapshots SnapshotStore // may be nil; persisted snapshots are best-effort.
	surface  func(ThreadKey) Surface
}

// NewThreadRegistry creates an empty registry. snapshots may be nil to
// keep everything in memory (useful for tests); surfaceFor resolves the
// Surface responsible for a key's sweep check and may also be nil if
// sweep() is never called.
func NewThreadRegistry(snapshots SnapshotStore, surfaceFor func(ThreadKey) Surface) *ThreadRegistry {
	return &ThreadRegistry{
		contexts:  make(map[ThreadKey]*ThreadContext),
		snapshots: snapshots,
		surface:   surfaceFor,
	}
}

// Resolve returns the ThreadContext for key, creating it (and loading any
// persisted snapshot) on first access. On a hit it returns the existing
// context even if its prior run has already finished.
func (r *ThreadRegistry) Resolve(ctx context.Context, key ThreadKey) *ThreadContext {
	r.mu.Lock()
	defer r.mu.Unlock()
	if tc, ok := r.contexts[key]; ok {
		return tc
	}
	tc := &ThreadContext{key: key}
	if r.snapshots != nil {
		if snap, err := r.snapshots.Load(ctx, key); err == nil {
			tc.snapshot = snap
		}
	}
	r.contexts[key] = tc
	return tc
}

// Cancel trips the cancel handle for key, if a run is active. The entry
// remains in place so the next prompt can re-arm it.
func (r *ThreadRegistry) Cancel(key ThreadKey) {
	r.mu.Lock()
	tc, ok := r.contexts[key]
	r.mu.Unlock()
	if !ok {
		return
	}
	tc.mu.Lock()
	cancel := tc.cancel
	if tc.state == ThreadRunning {
		tc.state = ThreadCancelled
	}
	tc.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Clear cancels and removes the context for key, and deletes its
// persisted snapshot.
func (r *ThreadRegistry) Clear(ctx context.Context, key ThreadKey) {
	r.mu.Lock()
	tc, ok := r.contexts[key]
	if ok {
		delete(r.contexts, key)
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	tc.mu.Lock()
	cancel := tc.cancel
	tc.state = ThreadCleared
	tc.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if r.snapshots != nil {
		_ = r.snapshots.Delete(ctx, key)
	}
}

// Sweep probes each registered key's origin surface via ThreadExists and
// clears any whose thread is gone. Intended to run on a periodic ticker.
func (r *ThreadRegistry) Sweep(ctx context.Context) {
	if r.surface == nil {
		return
	}
	r.mu.Lock()
	keys := make([]ThreadKey, 0, len(r.contexts))
	for k := range r.contexts {
		keys = append(keys, k)
	}
	r.mu.Unlock()

	for _, k := range keys {
		s := r.surface(k)
		if s == nil {
			continue
		}
		exists, err := s.ThreadExists(ctx, k.ConvID, k.ThreadID)
		if err != nil {
			continue // TransientUpstream: skip; retried on the next sweep.
		}
		if !exists {
			r.Clear(ctx, k)
		}
	}
}

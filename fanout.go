package conduit

import (
	"context"
	"sync"
	"time"
)

// fanoutPollInterval bounds how long next() can block before re-checking
// for newly registered sources when the dispatch loop is otherwise idle.
const fanoutPollInterval = 20 * time.Millisecond

// ResponseFanOut merges the per-key output sequences from all currently
// open groups into one globally-ordered sequence of StreamTriples and
// dispatches each to the owning surface's ResponseSink. Per-key heads
// are selected round-robin so no key can starve its siblings. Sinks are
// called synchronously from the single Run loop, so a sink that blocks
// in BeginTurn, Emit or EndTurn pauses dispatch for every key, not only
// its own.
type ResponseFanOut struct {
	sinkFor func(ThreadKey) ResponseSink
	buffer  *ReconnectionBuffer // may be nil.

	mu      sync.Mutex
	sources []fanoutSource
	cursor  int
}

type fanoutSource struct {
	key ThreadKey
	ch  <-chan StreamTriple
}

// NewResponseFanOut builds a fan-out dispatching to sinkFor(key) and, if
// buffer is non-nil, appending every emitted triple for later resume.
func NewResponseFanOut(sinkFor func(ThreadKey) ResponseSink, buffer *ReconnectionBuffer) *ResponseFanOut {
	return &ResponseFanOut{sinkFor: sinkFor, buffer: buffer}
}

// Register adds a newly opened group's output sequence to the fan-out.
// It is safe to call concurrently with Run's dispatch loop.
func (f *ResponseFanOut) Register(key ThreadKey, source <-chan StreamTriple) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sources = append(f.sources, fanoutSource{key: key, ch: source})
}

// Run dispatches triples until ctx is cancelled. It should be started
// once per engine instance, after Register has been wired into the
// group-open callback.
func (f *ResponseFanOut) Run(ctx context.Context) {
	turnsOpen := make(map[ThreadKey]bool)
	for {
		t, ok := f.next(ctx)
		if !ok {
			return
		}
		sink := f.sinkFor(t.Key)
		if sink == nil {
			continue
		}
		if !turnsOpen[t.Key] {
			_ = sink.BeginTurn(ctx, t.Key)
			turnsOpen[t.Key] = true
		}
		_ = sink.Emit(ctx, t)
		if f.buffer != nil {
			f.buffer.Append(t)
		}
		if hasStreamComplete(t.Update) {
			_ = sink.EndTurn(ctx, t.Key)
			delete(turnsOpen, t.Key)
		}
	}
}

func hasStreamComplete(u ModelUpdate) bool {
	for _, c := range u.Contents {
		if c.Kind == ContentStreamComplete {
			return true
		}
	}
	return false
}

// next performs one round-robin pass over registered sources, returning
// the first ready triple. Exhausted sources are pruned. Blocks (without
// busy-spinning) when nothing is immediately ready.
func (f *ResponseFanOut) next(ctx context.Context) (StreamTriple, bool) {
	for {
		f.mu.Lock()
		n := len(f.sources)
		if n == 0 {
			f.mu.Unlock()
			select {
			case <-ctx.Done():
				return StreamTriple{}, false
			default:
				// No groups open yet; yield briefly via a blocking
				// select on ctx to avoid a hot loop.
			}
			select {
			case <-ctx.Done():
				return StreamTriple{}, false
			case <-time.After(fanoutPollInterval):
			}
			continue
		}
		start := f.cursor
		f.mu.Unlock()

		for i := 0; i < n; i++ {
			idx := (start + i) % n
			f.mu.Lock()
			if idx >= len(f.sources) {
				f.mu.Unlock()
				break
			}
			src := f.sources[idx]
			f.mu.Unlock()

			select {
			case t, ok := <-src.ch:
				if !ok {
					f.prune(src.key)
					f.mu.Lock()
					f.cursor = idx
					f.mu.Unlock()
					i = -1 // restart the pass; slice shrank.
					n = f.len()
					if n == 0 {
						break
					}
					continue
				}
				f.mu.Lock()
				f.cursor = idx + 1
				f.mu.Unlock()
				return t, true
			case <-ctx.Done():
				return StreamTriple{}, false
			default:
			}
		}

		// Nothing ready this pass: block on the next-up source so we
		// don't spin, but still notice new registrations promptly.
		f.mu.Lock()
		if len(f.sources) == 0 {
			f.mu.Unlock()
			continue
		}
		idx := f.cursor % len(f.sources)
		src := f.sources[idx]
		f.mu.Unlock()

		select {
		case t, ok := <-src.ch:
			if !ok {
				f.prune(src.key)
				continue
			}
			f.mu.Lock()
			f.cursor = idx + 1
			f.mu.Unlock()
			return t, true
		case <-ctx.Done():
			return StreamTriple{}, false
		case <-time.After(fanoutPollInterval):
		}
	}
}

func (f *ResponseFanOut) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sources)
}

func (f *ResponseFanOut) prune(key ThreadKey) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, s := range f.sources {
		if s.key == key {
			f.sources = append(f.sources[:i], f.sources[i+1:]...)
			return
		}
	}
}

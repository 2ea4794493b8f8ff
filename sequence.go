package conduit

import "context"

// Sequence is a lazy, cancellable channel of values. It is the engine's
// generic replacement for source-language async-iterator extension
// methods: every operation takes an explicit context and returns a plain
// receive-only channel, with no hidden scheduler.
type Sequence[T any] <-chan T

// group is the per-key state kept by GroupByKeyed.
type group[T any] struct {
	ch   chan T
	done chan struct{} // closed by the owner via the returned complete() hook.
}

// KeyedGroup is one newly-opened sub-sequence paired with its key.
type KeyedGroup[K comparable, T any] struct {
	Key      K
	Sub      Sequence[T]
	Complete func() // must be called exactly once when the consumer is done.
}

// GroupByKeyed fans a source sequence out by key. For each distinct key
// it has not seen (or has seen but whose prior sub-sequence was
// completed), it emits a new KeyedGroup on the returned channel and
// routes matching items into that group's Sub channel. A key's
// sub-sequence stays open until its Complete hook is invoked; the
// grouper performs no serialization across groups — each Sub can be
// drained independently and concurrently.
//
// Cancelling ctx propagates to every open sub-sequence. When src closes,
// each open sub-sequence is closed once its buffered items are drained.
func GroupByKeyed[K comparable, T any](ctx context.Context, src Sequence[T], keyFn func(T) K) <-chan KeyedGroup[K, T] {
	out := make(chan KeyedGroup[K, T])
	groups := make(map[K]*group[T])

	closeGroup := func(g *group[T]) {
		select {
		case <-g.done:
		default:
			close(g.done)
		}
	}

	go func() {
		defer func() {
			for _, g := range groups {
				close(g.ch)
			}
			close(out)
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case item, ok := <-src:
				if !ok {
					return
				}
				k := keyFn(item)
			reopen:
				g, exists := groups[k]
				if !exists {
					g = &group[T]{ch: make(chan T), done: make(chan struct{})}
					groups[k] = g
					kg := KeyedGroup[K, T]{
						Key: k,
						Sub: g.ch,
						Complete: func() {
							closeGroup(g)
						},
					}
					select {
					case out <- kg:
					case <-ctx.Done():
						return
					}
				}
				select {
				case g.ch <- item:
				case <-g.done:
					delete(groups, k)
					close(g.ch)
					// The key's prior group was completed; open a new
					// one for this item.
					goto reopen
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// Merge fans multiple sequences into one, selecting fairly among ready
// sources (round-robin over the supplied slice order on each iteration)
// so that no single source can starve the others under sustained load.
func Merge[T any](ctx context.Context, sources ...Sequence[T]) <-chan T {
	out := make(chan T)
	if len(sources) == 0 {
		close(out)
		return out
	}
	go func() {
		defer close(out)
		active := make([]Sequence[T], len(sources))
		copy(active, sources)
		start := 0
		for len(active) > 0 {
			delivered := false
			for i := 0; i < len(active); i++ {
				idx := (start + i) % len(active)
				select {
				case v, ok := <-active[idx]:
					if !ok {
						active = append(active[:idx], active[idx+1:]...)
						delivered = true
						start = idx
						break
					}
					select {
					case out <- v:
					case <-ctx.Done():
						return
					}
					delivered = true
					start = idx + 1
				case <-ctx.Done():
					return
				default:
				}
				if delivered {
					break
				}
			}
			if !delivered {
				// Nothing was ready this pass; block on the first source
				// for backpressure instead of busy-spinning.
				select {
				case v, ok := <-active[start%len(active)]:
					idx := start % len(active)
					if !ok {
						active = append(active[:idx], active[idx+1:]...)
						continue
					}
					select {
					case out <- v:
					case <-ctx.Done():
						return
					}
					start = idx + 1
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// SelectAsync applies fn to every item of src, emitting fn's result. It is
// the sequence equivalent of a streaming map with a cancellable fn.
func SelectAsync[T, U any](ctx context.Context, src Sequence[T], fn func(context.Context, T) U) <-chan U {
	out := make(chan U)
	go func() {
		defer close(out)
		for {
			select {
			case v, ok := <-src:
				if !ok {
					return
				}
				select {
				case out <- fn(ctx, v):
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

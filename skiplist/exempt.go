package skiplist

import (
	"log/slog"
	"runtime"
	"sync"

	"github.com/couchbase/lockfree/registry"
)

// ExemptPtr is an owning handle to a node removed via ExtractMin/
// ExtractMax: the node is logically and physically unlinked from the
// skip-list already, but its reclamation is deferred until the caller
// releases the handle, so the extracted value stays safely readable
// without racing a concurrent Retire (SPEC_FULL.md §5 "Supplemented
// Features: ExemptPtr semantics", modeled on libcds's
// michael_allocator::guarded pointer pattern documented in
// original_source/).
type ExemptPtr[K any, V any] struct {
	sl   *Skiplist[K, V]
	h    *registry.Handle
	node *Node[K, V]
	once sync.Once
}

func newExemptPtr[K any, V any](sl *Skiplist[K, V], h *registry.Handle, n *Node[K, V]) *ExemptPtr[K, V] {
	e := &ExemptPtr[K, V]{sl: sl, h: h, node: n}
	runtime.SetFinalizer(e, func(e *ExemptPtr[K, V]) { e.warnIfUnreleased() })
	return e
}

// warnIfUnreleased is the finalizer safety net: a dropped ExemptPtr whose
// Release was never called leaks its node past the caller's knowledge,
// so log it rather than panic (finalizers run on an arbitrary goroutine
// with no way to propagate an error to the caller).
func (e *ExemptPtr[K, V]) warnIfUnreleased() {
	e.once.Do(func() {
		slog.Debug("invariant violation: ExemptPtr finalized without Release", "key", e.node.key)
		e.sl.retireExempt(e.h, e.node)
	})
}

// Key returns the extracted node's key. Valid until Release.
func (e *ExemptPtr[K, V]) Key() K { return e.node.key }

// Value returns the extracted node's value. Valid until Release.
func (e *ExemptPtr[K, V]) Value() V { return e.node.val }

// Release hands the node back to the configured SMR domain for
// reclamation. Idempotent: only the first call has any effect.
func (e *ExemptPtr[K, V]) Release() {
	e.once.Do(func() {
		e.sl.retireExempt(e.h, e.node)
	})
	runtime.SetFinalizer(e, nil)
}

package ellentree

import (
	"log/slog"
	"runtime"
	"sync"

	"github.com/couchbase/lockfree/registry"
)

// ExemptPtr is an owning handle to a leaf removed via ExtractMin/
// ExtractMax: the leaf is already unlinked from the tree, but its
// reclamation is deferred until the caller releases the handle
// (SPEC_FULL.md §5, mirrors skiplist.ExemptPtr).
type ExemptPtr[K any, V any] struct {
	tree *Tree[K, V]
	h    *registry.Handle
	leaf *Node[K, V]
	once sync.Once
}

func newExemptPtr[K any, V any](tree *Tree[K, V], h *registry.Handle, leaf *Node[K, V]) *ExemptPtr[K, V] {
	e := &ExemptPtr[K, V]{tree: tree, h: h, leaf: leaf}
	runtime.SetFinalizer(e, func(e *ExemptPtr[K, V]) { e.warnIfUnreleased() })
	return e
}

// warnIfUnreleased is the finalizer safety net: a dropped ExemptPtr whose
// Release was never called leaks its leaf past the caller's knowledge, so
// log it rather than panic (finalizers run on an arbitrary goroutine with
// no way to propagate an error to the caller).
func (e *ExemptPtr[K, V]) warnIfUnreleased() {
	e.once.Do(func() {
		slog.Debug("invariant violation: ExemptPtr finalized without Release", "key", e.leaf.tkey.key)
		e.tree.retireExempt(e.h, e.leaf)
	})
}

// Key returns the extracted leaf's key. Valid until Release.
func (e *ExemptPtr[K, V]) Key() K { return e.leaf.tkey.key }

// Value returns the extracted leaf's value. Valid until Release.
func (e *ExemptPtr[K, V]) Value() V { return e.leaf.val }

// Release hands the leaf back to the configured SMR domain. Idempotent.
func (e *ExemptPtr[K, V]) Release() {
	e.once.Do(func() {
		e.tree.retireExempt(e.h, e.leaf)
	})
	runtime.SetFinalizer(e, nil)
}

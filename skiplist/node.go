// Package skiplist implements the probabilistic skip-list set from
// spec.md §4.G: per-level mark bits, help-unlinking during traversal, an
// unlink-counter-gated retire-chain for bulk reclamation, and
// extract-min/extract-max via an extra "extracted" mark bit.
//
// Grounded directly in the teacher's skiplist/skiplist.go: the Node/next-
// as-boxed-pointer-pair/dcasNext/findPath/randomLevel shape is kept
// verbatim in spirit, generalized from a fixed Item-interface element to
// a generic (K, V) pair, from a single mark bit to the two bits spec.md
// §3 requires (logically-deleted, extracted), and from the teacher's
// unconditional-retry findPath to one that also drains an unlink-counter-
// gated deletion chain (spec.md §3/§4.G), which nitro's implementation
// does not have — nitro relies on its AccessBarrier (see rcu.Buffered)
// alone and never partially-links a node across levels under deletion
// race the way this spec requires.
package skiplist

import (
	"github.com/couchbase/lockfree/tagged"
)

// MaxHeight bounds a node's tower height (spec.md §3: "H_MAX <= 32").
const MaxHeight = 32

// Node is one skip-list element. Each tower entry carries two mark bits:
// tagged.MarkDeleted (logically removed) and tagged.MarkExtracted
// (erased via extract-min/extract-max rather than plain erase).
type Node[K any, V any] struct {
	key   K
	val   V
	tower []tagged.Ptr[Node[K, V]]

	// unlinkCounter starts at height and is decremented once per level
	// successfully help-unlinked; the thread whose decrement (at whichever
	// level is unlinked last) brings it to zero puts the node on its
	// deletion chain (spec.md §3 "a node is considered physically removable only when
	// unlink_counter reaches 0").
	unlinkCounter int32

	// delChainNext links this node into the caller-local deletion chain
	// drained after a findPosition call (spec.md §4.G "per-thread
	// deletion chain link").
	delChainNext *Node[K, V]
}

func (n *Node[K, V]) Key() K   { return n.key }
func (n *Node[K, V]) Value() V { return n.val }
func (n *Node[K, V]) Height() int { return len(n.tower) }

func newNode[K any, V any](key K, val V, height int) *Node[K, V] {
	return &Node[K, V]{
		key:           key,
		val:           val,
		tower:         make([]tagged.Ptr[Node[K, V]], height),
		unlinkCounter: int32(height),
	}
}

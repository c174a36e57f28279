// Package ellentree implements the non-blocking, leaf-oriented binary
// search tree of Ellen, Fatourou, Ruppert and van Breugel (spec.md
// §4.H): only leaves hold user values, internal nodes route by key, and
// every mutation is coordinated through an UpdateDescriptor installed
// into the relevant internal node's `update` field so concurrent
// operations can detect, help, or safely retry around one another.
//
// Grounded in the same tagged-pointer/retire idiom as list and skiplist
// (teacher's skiplist.go boxed-NodeRef-via-CAS shape, generalized once
// more here to a descriptor-bearing update field instead of a plain mark
// bit), since the paper's algorithm is itself "one more CAS discipline"
// on top of the same SMR substrate the rest of this module shares.
package ellentree

import (
	"github.com/couchbase/lockfree/tagged"
)

// updateFlag is the low bits of a node's update field (spec.md §4.H
// table): Clean, IFlag (insert in flight), DFlag (delete announced on a
// grandparent), Mark (delete's parent bypass imminent/complete).
type updateFlag = uint64

const (
	FlagClean updateFlag = iota
	FlagIFlag
	FlagDFlag
	FlagMark
)

// keyKind discriminates a node's key among a real user key and the three
// sentinels needed to seed an external tree (spec.md §4.H: "two sentinel
// leaves with +∞1 and +∞2 keys sit at the rightmost positions"; a third,
// -∞, seeds the initial single data leaf so the first real insert has
// somewhere to split).
type keyKind uint8

const (
	kindNegInf keyKind = iota
	kindReal
	kindPosInf1
	kindPosInf2
)

// treeKey orders sentinels around real keys: -∞ < real keys < +∞1 < +∞2.
type treeKey[K any] struct {
	kind keyKind
	key  K
}

func rankOf(k keyKind) int {
	switch k {
	case kindNegInf:
		return 0
	case kindReal:
		return 1
	case kindPosInf1:
		return 2
	default:
		return 3
	}
}

func compareTreeKey[K any](cmp Comparator[K], a, b treeKey[K]) int {
	if a.kind != b.kind {
		ra, rb := rankOf(a.kind), rankOf(b.kind)
		switch {
		case ra < rb:
			return -1
		case ra > rb:
			return 1
		default:
			return 0
		}
	}
	if a.kind == kindReal {
		return cmp(a.key, b.key)
	}
	return 0
}

// Node is either an internal routing node (left/right populated, tkey
// holding the routing threshold — the minimum key of its right subtree)
// or a leaf (val populated, left/right unused).
type Node[K any, V any] struct {
	isLeaf bool
	tkey   treeKey[K]
	val    V

	left, right tagged.Ptr[Node[K, V]]
	update      tagged.Ptr[descriptor[K, V]] // flag lives in the tag bits

	// delChainNext is not used by this package: removed leaves and
	// internals are retired directly through the SMR domain, without a
	// deletion chain.
	delChainNext *Node[K, V]
}

func newLeaf[K any, V any](tk treeKey[K], val V) *Node[K, V] {
	return &Node[K, V]{isLeaf: true, tkey: tk, val: val}
}

func newInternal[K any, V any](tk treeKey[K], left, right *Node[K, V]) *Node[K, V] {
	n := &Node[K, V]{isLeaf: false, tkey: tk}
	n.left.Store(left, 0, tagged.Release)
	n.right.Store(right, 0, tagged.Release)
	return n
}

// Key returns a leaf's user key. Only meaningful when the node is a real
// leaf (no exported method hands out a Node; Find/ForEach pass keys and
// values, and ExemptPtr only ever wraps a real leaf).
func (n *Node[K, V]) Key() K { return n.tkey.key }

// Value returns a leaf's value.
func (n *Node[K, V]) Value() V { return n.val }

// insertInfo is the InsertInfo shape from spec.md §3's UpdateDescriptor.
type insertInfo[K any, V any] struct {
	parent      *Node[K, V]
	leftChild   bool // whether oldLeaf hangs off parent.left
	oldLeaf     *Node[K, V]
	newInternal *Node[K, V]
}

// deleteInfo is the DeleteInfo shape from spec.md §3's UpdateDescriptor.
type deleteInfo[K any, V any] struct {
	gp, parent, leaf, sibling *Node[K, V]

	// parentUpdate/parentFlag are the (pointer, flag) pair observed at
	// parent.update when this descriptor was installed on gp — the value
	// the Mark-CAS must match to claim the bypass.
	parentUpdate *descriptor[K, V]
	parentFlag   updateFlag

	leftOfGP bool // whether parent hangs off gp.left
	dispose  bool // false for extract-min/extract-max: leaf ownership transfers to the caller instead of being retired
}

// descriptor is the tagged union of InsertInfo/DeleteInfo (spec.md §3
// "UpdateDescriptor ... tagged union with two shapes"). Exactly one is
// ever populated per instance.
type descriptor[K any, V any] struct {
	isInsert bool
	ins      insertInfo[K, V]
	del      deleteInfo[K, V]
}

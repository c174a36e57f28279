package ellentree

import (
	"unsafe"

	"github.com/couchbase/lockfree/internal/backoff"
	"github.com/couchbase/lockfree/internal/smr"
	"github.com/couchbase/lockfree/internal/stats"
	"github.com/couchbase/lockfree/registry"
	"github.com/couchbase/lockfree/tagged"
)

// Comparator totally orders keys of type K.
type Comparator[K any] func(a, b K) int

// Disposer is invoked once a leaf is provably unreachable (spec.md §6).
type Disposer[K any, V any] func(key K, val V)

// Config bundles Tree's pluggable policies (spec.md §6).
type Config[K any, V any] struct {
	Comparator   Comparator[K]
	Domain       smr.Domain
	Backoff      string
	ItemCounter  string
	StatsEnabled bool
	Disposer     Disposer[K, V]
}

// Tree is the container: a non-blocking external (leaf-oriented) binary
// search tree (spec.md §4.H).
type Tree[K any, V any] struct {
	root *Node[K, V] // always internal; root.left is the real tree, root.right is the +∞2 sentinel leaf
	cmp  Comparator[K]
	dom  smr.Domain

	newBackoff func() backoff.Strategy
	counter    stats.ItemCounter
	stat       *stats.Stat
	dispose    Disposer[K, V]
}

// New constructs an empty Tree seeded with the sentinel scaffold spec.md
// §4.H describes: root routes on +∞2, its left child routes on +∞1, and
// the initial single data leaf carries -∞ until the first real insert
// splits it.
func New[K any, V any](cfg Config[K, V]) *Tree[K, V] {
	if cfg.Comparator == nil {
		panic("ellentree: Comparator is required")
	}
	if cfg.Domain == nil {
		panic("ellentree: Domain is required")
	}
	dispose := cfg.Disposer
	if dispose == nil {
		dispose = func(K, V) {}
	}

	var zeroK K
	var zeroV V
	negInf := newLeaf[K, V](treeKey[K]{kind: kindNegInf}, zeroV)
	posInf1 := newLeaf[K, V](treeKey[K]{kind: kindPosInf1}, zeroV)
	posInf2 := newLeaf[K, V](treeKey[K]{kind: kindPosInf2}, zeroV)
	_ = zeroK

	inner := newInternal[K, V](treeKey[K]{kind: kindPosInf1}, negInf, posInf1)
	root := newInternal[K, V](treeKey[K]{kind: kindPosInf2}, inner, posInf2)

	kind := cfg.Backoff
	return &Tree[K, V]{
		root:       root,
		cmp:        cfg.Comparator,
		dom:        cfg.Domain,
		newBackoff: func() backoff.Strategy { return backoff.New(kind) },
		counter:    stats.NewItemCounter(cfg.ItemCounter),
		stat:       stats.NewStat(cfg.StatsEnabled),
		dispose:    dispose,
	}
}

// Attach/Detach expose the underlying SMR domain's thread lifecycle.
func (t *Tree[K, V]) Attach() *registry.Handle  { return t.dom.Attach() }
func (t *Tree[K, V]) Detach(h *registry.Handle) { t.dom.Detach(h) }

func (t *Tree[K, V]) makeKey(key K) treeKey[K] { return treeKey[K]{kind: kindReal, key: key} }

// searchResult carries everything a mutator needs: the grandparent and
// parent routing nodes plus their observed update state, the leaf found,
// and which side of each ancestor the next node down hangs off.
type searchResult[K any, V any] struct {
	gp, parent, leaf       *Node[K, V]
	gpUpdate, parentUpdate *descriptor[K, V]
	gpFlag, parentFlag     updateFlag
	leftOfGP, leftOfParent bool
}

// search descends from the root, recording grandparent/parent/leaf and
// the observed update at parent and grandparent (spec.md §4.H). It does
// not help by itself — callers decide whether to help or retry based on
// what they find, per the algorithm's own branching.
//
// Every node is published into h's hazard slots before a field of it is
// read (spec.md §4.B), the same protect-then-load discipline list.go
// and skiplist.findPosition use: slot 0 tracks the current parent, slot
// 1 the current curr/leaf, slot 2 the current gp, left protected for
// the caller in searchResult's gp/parent/leaf fields at return.
func (t *Tree[K, V]) search(h *registry.Handle, tk treeKey[K]) searchResult[K, V] {
	var gp, parent *Node[K, V]
	var gpUpdate, parentUpdate *descriptor[K, V]
	var gpFlag, parentFlag updateFlag
	var leftOfGP, leftOfParent bool

	parent = t.root
	t.dom.Protect(h, 0, unsafe.Pointer(parent))
	parentUpdate, parentFlag = t.root.update.Load(tagged.Acquire)
	curr := t.root.left.Ptr0()
	t.dom.Protect(h, 1, unsafe.Pointer(curr))
	leftOfParent = true

	for !curr.isLeaf {
		gp, gpUpdate, gpFlag = parent, parentUpdate, parentFlag
		t.dom.Protect(h, 2, unsafe.Pointer(gp))
		leftOfGP = leftOfParent
		parent = curr
		t.dom.Protect(h, 0, unsafe.Pointer(parent))
		parentUpdate, parentFlag = curr.update.Load(tagged.Acquire)
		if compareTreeKey(t.cmp, tk, curr.tkey) < 0 {
			curr = curr.left.Ptr0()
			leftOfParent = true
		} else {
			curr = curr.right.Ptr0()
			leftOfParent = false
		}
		t.dom.Protect(h, 1, unsafe.Pointer(curr))
	}
	return searchResult[K, V]{
		gp: gp, parent: parent, leaf: curr,
		gpUpdate: gpUpdate, parentUpdate: parentUpdate,
		gpFlag: gpFlag, parentFlag: parentFlag,
		leftOfGP: leftOfGP, leftOfParent: leftOfParent,
	}
}

// help drives an IFlag or DFlag operation announced by (flag, desc) at
// node towards completion, per spec.md §4.H's helping obligation: "every
// thread observing a non-Clean update becomes obliged to help drive it
// to completion before any further progress at that node". A Mark is
// not helped here; it is finished by the thread that owns the DFlag.
func (t *Tree[K, V]) help(h *registry.Handle, node *Node[K, V], flag updateFlag, desc *descriptor[K, V]) {
	if desc == nil {
		return
	}
	t.stat.OnHelped()
	switch flag {
	case FlagIFlag:
		t.helpInsert(h, node, desc)
	case FlagDFlag:
		t.helpDelete(h, node, desc)
	case FlagMark:
		// Mark only ever lives on desc's parent, never on its gp, so
		// node here is always desc.del.parent — passing node itself as
		// helpMarked's gp argument would make both of its CASes compare
		// against the wrong node and fail every time. The thread that
		// owns the correct gp (the one that set DFlag there) drives
		// helpMarked to completion on its own via helpDelete; this
		// caller just backs off and retries its own search (every
		// caller of help already does bo.Wait()/continue afterward).
	}
}

// helpInsert swings parent's child pointer from the old leaf to the new
// internal node, then clears the update field and retires the
// descriptor. Safe to call redundantly by multiple helpers: the child
// pointer CAS and the clear CAS each succeed for exactly one caller.
func (t *Tree[K, V]) helpInsert(h *registry.Handle, parent *Node[K, V], desc *descriptor[K, V]) {
	in := desc.ins
	t.dom.Protect(h, 3, unsafe.Pointer(parent))
	t.dom.Protect(h, 4, unsafe.Pointer(in.oldLeaf))
	t.dom.Protect(h, 5, unsafe.Pointer(in.newInternal))
	if in.leftChild {
		parent.left.CompareAndSwap(in.oldLeaf, 0, in.newInternal, 0, tagged.Release, tagged.Acquire)
	} else {
		parent.right.CompareAndSwap(in.oldLeaf, 0, in.newInternal, 0, tagged.Release, tagged.Acquire)
	}
	if parent.update.CompareAndSwap(desc, FlagIFlag, nil, FlagClean, tagged.Release, tagged.Acquire) {
		t.dom.Retire(h, unsafe.Pointer(desc), func(unsafe.Pointer) {})
	}
}

// helpDelete is the grandparent-side half of a delete (spec.md §4.H):
// having observed DFlag at gp, attempt to mark the parent with the same
// descriptor; on success move on to helpMarked, on failure undo the
// announcement at gp.
func (t *Tree[K, V]) helpDelete(h *registry.Handle, gp *Node[K, V], desc *descriptor[K, V]) bool {
	d := desc.del
	t.dom.Protect(h, 3, unsafe.Pointer(gp))
	t.dom.Protect(h, 4, unsafe.Pointer(d.parent))
	marked := d.parent.update.CompareAndSwap(d.parentUpdate, d.parentFlag, desc, FlagMark, tagged.Release, tagged.Acquire)
	if !marked {
		cur, flag := d.parent.update.Load(tagged.Acquire)
		if cur == desc && flag == FlagMark {
			marked = true // another helper already won the Mark CAS with this same descriptor
		}
	}
	if marked {
		t.helpMarked(h, gp, desc)
		return true
	}
	// Someone else's operation owns parent now; undo our announcement.
	gp.update.CompareAndSwap(desc, FlagDFlag, nil, FlagClean, tagged.Release, tagged.Acquire)
	return false
}

// helpMarked bypasses the marked parent by swinging gp's child pointer
// to the deleted leaf's sibling, then clears gp's update and retires
// parent, the descriptor, and (unless this is an extract) the deleted
// leaf. The thread whose Clean-CAS succeeds is the unique retirer,
// mirroring list.Erase's "retire exactly once" discipline.
func (t *Tree[K, V]) helpMarked(h *registry.Handle, gp *Node[K, V], desc *descriptor[K, V]) {
	d := desc.del
	t.dom.Protect(h, 3, unsafe.Pointer(gp))
	t.dom.Protect(h, 4, unsafe.Pointer(d.parent))
	t.dom.Protect(h, 5, unsafe.Pointer(d.sibling))
	if d.leftOfGP {
		gp.left.CompareAndSwap(d.parent, 0, d.sibling, 0, tagged.Release, tagged.Acquire)
	} else {
		gp.right.CompareAndSwap(d.parent, 0, d.sibling, 0, tagged.Release, tagged.Acquire)
	}
	if gp.update.CompareAndSwap(desc, FlagDFlag, nil, FlagClean, tagged.Release, tagged.Acquire) {
		parent := d.parent
		t.dom.Retire(h, unsafe.Pointer(parent), func(unsafe.Pointer) {})
		if d.dispose {
			leaf := d.leaf
			t.dom.Protect(h, 6, unsafe.Pointer(leaf))
			key, val := leaf.tkey.key, leaf.val
			t.dom.Retire(h, unsafe.Pointer(leaf), func(unsafe.Pointer) {
				t.dispose(key, val)
			})
		}
		t.dom.Retire(h, unsafe.Pointer(desc), func(unsafe.Pointer) {})
	}
}

// Insert adds key/val if key is not already present.
func (t *Tree[K, V]) Insert(h *registry.Handle, key K, val V) bool {
	return t.InsertFunc(h, key, val, nil)
}

// InsertFunc is Insert with an on-insert functor (spec.md §6
// `insert(v, f)`).
func (t *Tree[K, V]) InsertFunc(h *registry.Handle, key K, val V, onInsert func(K, V)) bool {
	t.dom.Enter(h)
	defer t.dom.Leave(h)

	tk := t.makeKey(key)
	bo := t.newBackoff()

	for {
		r := t.search(h, tk)
		if compareTreeKey(t.cmp, r.leaf.tkey, tk) == 0 {
			t.stat.OnInsert(false)
			return false
		}
		if r.parentFlag != FlagClean {
			t.help(h, r.parent, r.parentFlag, r.parentUpdate)
			bo.Wait()
			continue
		}

		newLeafNode := newLeaf[K, V](tk, val)
		var left, right *Node[K, V]
		if compareTreeKey(t.cmp, tk, r.leaf.tkey) < 0 {
			left, right = newLeafNode, r.leaf
		} else {
			left, right = r.leaf, newLeafNode
		}
		newNode := newInternal[K, V](right.tkey, left, right)

		desc := &descriptor[K, V]{
			isInsert: true,
			ins: insertInfo[K, V]{
				parent:      r.parent,
				leftChild:   r.leftOfParent,
				oldLeaf:     r.leaf,
				newInternal: newNode,
			},
		}

		if r.parent.update.CompareAndSwap(r.parentUpdate, FlagClean, desc, FlagIFlag, tagged.Release, tagged.Acquire) {
			t.helpInsert(h, r.parent, desc)
			t.counter.Inc()
			t.stat.OnInsert(true)
			if onInsert != nil {
				onInsert(key, val)
			}
			return true
		}
		t.stat.OnCASFail()
		bo.Wait()
	}
}

// Erase removes key if present.
func (t *Tree[K, V]) Erase(h *registry.Handle, key K) bool {
	_, ok := t.eraseOrExtract(h, key, true, nil)
	return ok
}

// EraseFunc is Erase with a functor called with the removed value before
// retirement (spec.md §6 `erase(k, f)`).
func (t *Tree[K, V]) EraseFunc(h *registry.Handle, key K, onErase func(K, V)) bool {
	_, ok := t.eraseOrExtract(h, key, true, onErase)
	return ok
}

// ExtractMin removes and returns the tree's smallest key as an
// ExemptPtr, deferring reclamation until the caller releases it
// (spec.md §4.H "the leaf is not retired by the tree"; SPEC_FULL.md §5).
func (t *Tree[K, V]) ExtractMin(h *registry.Handle) (*ExemptPtr[K, V], bool) {
	return t.extractEnd(h, true)
}

// ExtractMax removes and returns the tree's largest key as an
// ExemptPtr.
func (t *Tree[K, V]) ExtractMax(h *registry.Handle) (*ExemptPtr[K, V], bool) {
	return t.extractEnd(h, false)
}

func (t *Tree[K, V]) extractEnd(h *registry.Handle, min bool) (*ExemptPtr[K, V], bool) {
	t.dom.Enter(h)
	// Every real key lies in the +∞1 router's left subtree, and -∞ is
	// always that subtree's leftmost leaf.
	curr := t.root.left.Ptr0().left.Ptr0()
	t.dom.Protect(h, 1, unsafe.Pointer(curr))
	var parent *Node[K, V]
	for !curr.isLeaf {
		parent = curr
		if min {
			curr = curr.left.Ptr0()
		} else {
			curr = curr.right.Ptr0()
		}
		t.dom.Protect(h, 1, unsafe.Pointer(curr))
	}
	if min && parent != nil {
		// curr is -∞; the smallest real key is the leftmost leaf of its
		// sibling subtree.
		t.dom.Protect(h, 0, unsafe.Pointer(parent))
		for curr = parent.right.Ptr0(); ; curr = curr.left.Ptr0() {
			t.dom.Protect(h, 1, unsafe.Pointer(curr))
			if curr.isLeaf {
				break
			}
		}
	}
	t.dom.Leave(h)
	if curr.tkey.kind != kindReal {
		return nil, false // tree empty
	}

	key := curr.tkey.key
	leaf, ok := t.eraseOrExtract(h, key, false, nil)
	if !ok {
		return nil, false
	}
	return newExemptPtr(t, h, leaf), true
}

// eraseOrExtract implements both Erase (dispose=true) and Extract
// (dispose=false, leaf ownership transfers to caller). Returns the
// removed leaf for Extract's sake; Erase discards it.
func (t *Tree[K, V]) eraseOrExtract(h *registry.Handle, key K, dispose bool, onErase func(K, V)) (*Node[K, V], bool) {
	t.dom.Enter(h)
	defer t.dom.Leave(h)

	tk := t.makeKey(key)
	bo := t.newBackoff()

	for {
		r := t.search(h, tk)
		if compareTreeKey(t.cmp, r.leaf.tkey, tk) != 0 {
			t.stat.OnErase(false)
			return nil, false
		}
		if r.gp == nil {
			// leaf hangs directly off the root; nothing to bypass it with.
			t.stat.OnErase(false)
			return nil, false
		}
		if r.gpFlag != FlagClean {
			t.help(h, r.gp, r.gpFlag, r.gpUpdate)
			bo.Wait()
			continue
		}
		if r.parentFlag != FlagClean {
			t.help(h, r.parent, r.parentFlag, r.parentUpdate)
			bo.Wait()
			continue
		}

		var sibling *Node[K, V]
		if r.leftOfParent {
			sibling = r.parent.right.Ptr0()
		} else {
			sibling = r.parent.left.Ptr0()
		}

		desc := &descriptor[K, V]{
			isInsert: false,
			del: deleteInfo[K, V]{
				gp: r.gp, parent: r.parent, leaf: r.leaf, sibling: sibling,
				parentUpdate: r.parentUpdate, parentFlag: r.parentFlag,
				leftOfGP: r.leftOfGP, dispose: dispose,
			},
		}

		if !r.gp.update.CompareAndSwap(r.gpUpdate, FlagClean, desc, FlagDFlag, tagged.Release, tagged.Acquire) {
			t.stat.OnCASFail()
			bo.Wait()
			continue
		}
		if !t.helpDelete(h, r.gp, desc) {
			// The parent was already claimed by a competing operation;
			// our DFlag announcement was undone. Retry from scratch.
			bo.Wait()
			continue
		}

		if onErase != nil {
			onErase(key, r.leaf.val)
		}
		t.counter.Dec()
		if dispose {
			t.stat.OnErase(true)
		} else {
			t.stat.OnExtract()
		}
		return r.leaf, true
	}
}

// retireExempt hands an extracted leaf back to the SMR domain once the
// caller releases its ExemptPtr.
func (t *Tree[K, V]) retireExempt(h *registry.Handle, n *Node[K, V]) {
	key, val := n.tkey.key, n.val
	t.dom.Retire(h, unsafe.Pointer(n), func(unsafe.Pointer) {
		t.dispose(key, val)
	})
}

// Contains reports whether key is present.
func (t *Tree[K, V]) Contains(h *registry.Handle, key K) bool {
	t.dom.Enter(h)
	defer t.dom.Leave(h)
	r := t.search(h, t.makeKey(key))
	found := compareTreeKey(t.cmp, r.leaf.tkey, t.makeKey(key)) == 0
	t.stat.OnFind(found)
	return found
}

// Find reports whether key is present, calling f with its value if so.
func (t *Tree[K, V]) Find(h *registry.Handle, key K, f func(K, V)) bool {
	t.dom.Enter(h)
	defer t.dom.Leave(h)
	tk := t.makeKey(key)
	r := t.search(h, tk)
	found := compareTreeKey(t.cmp, r.leaf.tkey, tk) == 0
	t.stat.OnFind(found)
	if found && f != nil {
		f(r.leaf.tkey.key, r.leaf.val)
	}
	return found
}

// Size returns the current item count (spec.md §6).
func (t *Tree[K, V]) Size() int64 { return t.counter.Value() }

// Empty reports whether Size() == 0.
func (t *Tree[K, V]) Empty() bool { return t.counter.Value() == 0 }

// Clear removes every item. Not atomic.
func (t *Tree[K, V]) Clear(h *registry.Handle) {
	for {
		min, ok := t.ExtractMin(h)
		if !ok {
			return
		}
		min.Release()
	}
}

// ForEach walks live leaves in key order via an in-order traversal.
// Best-effort, not a snapshot (spec.md Non-goals exclude "ordered range
// scans with snapshot semantics").
func (t *Tree[K, V]) ForEach(h *registry.Handle, f func(key K, val V) bool) {
	t.dom.Enter(h)
	defer t.dom.Leave(h)
	var walk func(n *Node[K, V]) bool
	walk = func(n *Node[K, V]) bool {
		t.dom.Protect(h, 1, unsafe.Pointer(n))
		if n.isLeaf {
			if n.tkey.kind != kindReal {
				return true
			}
			return f(n.tkey.key, n.val)
		}
		left, right := n.left.Ptr0(), n.right.Ptr0()
		if !walk(left) {
			return false
		}
		return walk(right)
	}
	walk(t.root)
}

// Stat exposes the operation-counter bundle (spec.md §6 `stat`).
func (t *Tree[K, V]) Stat() *stats.Stat { return t.stat }

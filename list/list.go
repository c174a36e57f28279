// Package list implements the lock-free ordered singly linked list from
// spec.md §4.E (Michael/Harris style), the base container both the
// split-ordered hash set (splitlist) and the skip-list's level-0 chain
// build on.
//
// Grounded in the teacher's skiplist.Node/NodeRef/dcasNext idiom
// (skiplist/skiplist.go): a next pointer is never mutated bit-packed in
// place, it is swapped wholesale for a freshly boxed (pointer, mark)
// pair via CAS — here generalized into tagged.Ptr so the same trick
// serves every container in this module instead of being re-derived per
// package.
package list

import (
	"unsafe"

	"github.com/couchbase/lockfree/allocator"
	"github.com/couchbase/lockfree/internal/backoff"
	"github.com/couchbase/lockfree/internal/smr"
	"github.com/couchbase/lockfree/internal/stats"
	"github.com/couchbase/lockfree/registry"
	"github.com/couchbase/lockfree/tagged"
)

// Comparator totally orders keys of type K, as required by spec.md §3
// "lists maintain a total order by key".
type Comparator[K any] func(a, b K) int

// Node is one list element. next carries one mark bit
// (tagged.MarkDeleted) signaling logical deletion, per spec.md §3.
//
// acct is the accounting handle returned by the configured Allocator
// (spec.md §1's "untyped block allocator" collaborator; SPEC_FULL.md
// §4.J), nil when List isn't allocator-backed. The Node struct itself is
// still always a regular Go-GC-managed allocation — K and V are
// arbitrary type parameters that may themselves hold pointers or
// interfaces, so aliasing an Allocator-returned []byte as *Node[K, V]
// would hide those references from the garbage collector's scan. The
// Allocator instead tracks a same-sized accounting region paired 1:1
// with each node's lifetime, exercising Alloc/Free/Stats the way the
// teacher's mm.Malloc/mm.Free pairing does, without the unsafe aliasing.
type Node[K any, V any] struct {
	key  K
	val  V
	next tagged.Ptr[Node[K, V]]
	acct unsafe.Pointer
}

// Key returns the node's key, for callers walking via ForEach.
func (n *Node[K, V]) Key() K { return n.key }

// Value returns the node's value.
func (n *Node[K, V]) Value() V { return n.val }

// Disposer is invoked by SMR once a node is provably unreachable,
// spec.md §6 `disposer` trait entry.
type Disposer[K any, V any] func(key K, val V)

// List is the container. The zero value is not usable; construct with
// New.
type List[K any, V any] struct {
	head, tail *Node[K, V]
	cmp        Comparator[K]
	dom        smr.Domain
	newBackoff func() backoff.Strategy
	counter    stats.ItemCounter
	stat       *stats.Stat
	dispose    Disposer[K, V]
	alloc      allocator.Allocator
	nodeSize   int
}

// Config bundles the pluggable policies from spec.md §6 that apply to
// List.
type Config[K any, V any] struct {
	Comparator   Comparator[K]
	Domain       smr.Domain // required: hp.Domain or rcu.Domain wrapped via smr.NewHP/NewRCU
	Backoff      string     // "empty" | "yield" | "pause" | "exponential"
	ItemCounter  string     // "none" | "atomic"
	StatsEnabled bool
	Disposer     Disposer[K, V] // optional; defaults to a no-op

	// Allocator backs every data node's accounting (not its Go memory,
	// see Node's acct field doc) through Alloc/Free, for a node-pool-
	// backed configuration (spec.md §6 `allocator` trait entry,
	// SPEC_FULL.md §4.J). Optional; nil means every node is accounted
	// only by the Go runtime allocator, as spec.md §4.J's default.
	Allocator allocator.Allocator
}

// New constructs an empty List per cfg.
func New[K any, V any](cfg Config[K, V]) *List[K, V] {
	if cfg.Comparator == nil {
		panic("list: Comparator is required")
	}
	if cfg.Domain == nil {
		panic("list: Domain is required")
	}
	dispose := cfg.Disposer
	if dispose == nil {
		dispose = func(K, V) {}
	}
	head := &Node[K, V]{}
	tail := &Node[K, V]{}
	head.next.Store(tail, 0, tagged.Release)
	kind := cfg.Backoff
	return &List[K, V]{
		head:       head,
		tail:       tail,
		cmp:        cfg.Comparator,
		dom:        cfg.Domain,
		newBackoff: func() backoff.Strategy { return backoff.New(kind) },
		counter:    stats.NewItemCounter(cfg.ItemCounter),
		stat:       stats.NewStat(cfg.StatsEnabled),
		dispose:    dispose,
		alloc:      cfg.Allocator,
		nodeSize:   int(unsafe.Sizeof(Node[K, V]{})),
	}
}

// newDataNode constructs a key/val node, accounting it against the
// configured Allocator if one is set.
func (l *List[K, V]) newDataNode(key K, val V) *Node[K, V] {
	n := &Node[K, V]{key: key, val: val}
	if l.alloc != nil {
		n.acct = l.alloc.Alloc(l.nodeSize)
	}
	return n
}

// Attach/Detach expose the underlying SMR domain's thread lifecycle
// (spec.md §4.D): every goroutine using a List must Attach before first
// use and Detach when finished.
func (l *List[K, V]) Attach() *registry.Handle   { return l.dom.Attach() }
func (l *List[K, V]) Detach(h *registry.Handle)  { l.dom.Detach(h) }

// search implements spec.md §4.E's core primitive: returns (prev, curr)
// such that either curr == tail or key <= curr.key, with prev.next
// unmarked and pointing at curr. Along the way it physically removes any
// marked nodes it encounters by CASing prev.next past them and retiring
// them — "Search also physically removes any marked nodes encountered."
func (l *List[K, V]) search(h *registry.Handle, key K) (prev, curr *Node[K, V], found bool) {
	bo := l.newBackoff()
retry:
	bo.Reset()
	prev = l.head
	l.dom.Protect(h, 0, nil)
	curr, _ = prev.next.Load(tagged.Acquire)

	for {
		if curr == l.tail {
			return prev, curr, false
		}
		l.dom.Protect(h, 1, unsafe.Pointer(curr))
		next, marked := curr.next.Load(tagged.Acquire)

		if marked != 0 {
			// Physically unlink curr, then retire it exactly once.
			if !prev.next.CompareAndSwap(curr, 0, next, 0, tagged.Release, tagged.Acquire) {
				l.stat.OnCASFail()
				goto retry
			}
			l.retireNode(h, curr)
			curr, _ = prev.next.Load(tagged.Acquire)
			continue
		}

		cmp := l.cmp(curr.key, key)
		if cmp < 0 {
			prev = curr
			l.dom.Protect(h, 0, unsafe.Pointer(prev))
			curr, _ = prev.next.Load(tagged.Acquire)
			continue
		}

		return prev, curr, cmp == 0
	}
}

func (l *List[K, V]) retireNode(h *registry.Handle, n *Node[K, V]) {
	key, val := n.key, n.val
	acct, alloc, size := n.acct, l.alloc, l.nodeSize
	l.dom.Retire(h, unsafe.Pointer(n), func(unsafe.Pointer) {
		l.dispose(key, val)
		if alloc != nil {
			alloc.Free(acct, size)
		}
	})
}

// Insert adds key/val if key is not already present. Returns true iff
// added.
func (l *List[K, V]) Insert(h *registry.Handle, key K, val V) bool {
	return l.InsertFunc(h, key, val, nil)
}

// InsertFunc is Insert with an on-insert functor called after the node is
// linked but still holding h's protection (spec.md §6 `insert(v, f)`).
func (l *List[K, V]) InsertFunc(h *registry.Handle, key K, val V, onInsert func(K, V)) bool {
	l.dom.Enter(h)
	defer l.dom.Leave(h)

	x := l.newDataNode(key, val)
	bo := l.newBackoff()
	for {
		prev, curr, found := l.search(h, key)
		if found {
			l.stat.OnInsert(false)
			return false
		}
		x.next.Store(curr, 0, tagged.Release)
		if prev.next.CompareAndSwap(curr, 0, x, 0, tagged.Release, tagged.Acquire) {
			l.counter.Inc()
			l.stat.OnInsert(true)
			if onInsert != nil {
				onInsert(key, val)
			}
			return true
		}
		l.stat.OnCASFail()
		bo.Wait()
	}
}

// Erase removes key if present. Returns true iff removed.
func (l *List[K, V]) Erase(h *registry.Handle, key K) bool {
	return l.EraseFunc(h, key, nil)
}

// EraseFunc is Erase with a functor invoked with the removed value before
// the node is retired (spec.md §6 `erase(k, f)`).
func (l *List[K, V]) EraseFunc(h *registry.Handle, key K, onErase func(K, V)) bool {
	l.dom.Enter(h)
	defer l.dom.Leave(h)

	bo := l.newBackoff()
	for {
		prev, curr, found := l.search(h, key)
		if !found {
			l.stat.OnErase(false)
			return false
		}
		next, marked := curr.next.Load(tagged.Acquire)
		if marked != 0 {
			l.stat.OnErase(false)
			return false
		}
		if !curr.next.CompareAndSwap(next, 0, next, tagged.MarkDeleted, tagged.Release, tagged.Acquire) {
			l.stat.OnCASFail()
			bo.Wait()
			continue
		}
		// Logical delete succeeded; this thread is the unique remover.
		if onErase != nil {
			onErase(curr.key, curr.val)
		}
		l.counter.Dec()
		l.stat.OnErase(true)
		// Attempt physical unlink now; curr is retired exactly once, here
		// if this CAS unlinks it, otherwise by the search() that does.
		if prev.next.CompareAndSwap(curr, 0, next, 0, tagged.Release, tagged.Acquire) {
			l.retireNode(h, curr)
		} else {
			// A concurrent search() will finish the physical unlink; it
			// retires curr itself when it does, so this thread must not
			// retire it twice. It instead re-searches to hand off the
			// unlink, satisfying "retire exactly once" (spec.md §8.6).
			l.search(h, key)
		}
		return true
	}
}

// Contains reports whether key is present.
func (l *List[K, V]) Contains(h *registry.Handle, key K) bool {
	l.dom.Enter(h)
	defer l.dom.Leave(h)
	_, _, found := l.search(h, key)
	l.stat.OnFind(found)
	return found
}

// Find reports whether key is present, calling f with its value if so.
func (l *List[K, V]) Find(h *registry.Handle, key K, f func(K, V)) bool {
	l.dom.Enter(h)
	defer l.dom.Leave(h)
	_, curr, found := l.search(h, key)
	l.stat.OnFind(found)
	if found && f != nil {
		f(curr.key, curr.val)
	}
	return found
}

// Update combines insert and modify-in-place: if key is present, f is
// called with (false, existing-value, val); if absent and allowInsert,
// the node is inserted and f is called with (true, val, val). Returns
// (ok, inserted).
func (l *List[K, V]) Update(h *registry.Handle, key K, val V, f func(isNew bool, stored V, input V) V, allowInsert bool) (ok bool, inserted bool) {
	l.dom.Enter(h)
	defer l.dom.Leave(h)

	bo := l.newBackoff()
	for {
		prev, curr, found := l.search(h, key)
		if found {
			newVal := val
			if f != nil {
				newVal = f(false, curr.val, val)
			}
			curr.val = newVal
			return true, false
		}
		if !allowInsert {
			return false, false
		}
		newVal := val
		if f != nil {
			newVal = f(true, val, val)
		}
		x := l.newDataNode(key, newVal)
		x.next.Store(curr, 0, tagged.Release)
		if prev.next.CompareAndSwap(curr, 0, x, 0, tagged.Release, tagged.Acquire) {
			l.counter.Inc()
			return true, true
		}
		l.stat.OnCASFail()
		bo.Wait()
	}
}

// Size returns the current item count, subject to the configured
// ItemCounter policy (spec.md §6).
func (l *List[K, V]) Size() int64 { return l.counter.Value() }

// Empty reports whether Size() == 0. Under the "none" item-counter
// policy Size always reports 0, so Empty degrades to "no counter
// configured" rather than a true structural check in that mode — callers
// needing an authoritative emptiness check with item_counter=none should
// use ForEach instead.
func (l *List[K, V]) Empty() bool { return l.counter.Value() == 0 }

// Clear removes every item. Not atomic (spec.md §6): concurrent inserts
// during Clear may survive it.
func (l *List[K, V]) Clear(h *registry.Handle) {
	l.dom.Enter(h)
	curr, _ := l.head.next.Load(tagged.Acquire)
	for curr != l.tail {
		l.dom.Protect(h, 1, unsafe.Pointer(curr))
		next, _ := curr.next.Load(tagged.Acquire)
		l.Erase(h, curr.key)
		curr = next
	}
	l.dom.Leave(h)
}

// ForEach walks live (unmarked) nodes in key order, calling f on each and
// stopping early if f returns false. This is a best-effort walk, not a
// snapshot (spec.md Non-goals exclude "ordered range scans with snapshot
// semantics").
func (l *List[K, V]) ForEach(h *registry.Handle, f func(key K, val V) bool) {
	l.dom.Enter(h)
	defer l.dom.Leave(h)
	curr, _ := l.head.next.Load(tagged.Acquire)
	for curr != l.tail {
		l.dom.Protect(h, 1, unsafe.Pointer(curr))
		next, marked := curr.next.Load(tagged.Acquire)
		if marked == 0 {
			if !f(curr.key, curr.val) {
				return
			}
		}
		curr = next
	}
}

// Stat exposes the operation-counter bundle (spec.md §4.I, §6 `stat`
// trait entry); its fields read as zero unless StatsEnabled was set.
func (l *List[K, V]) Stat() *stats.Stat { return l.stat }

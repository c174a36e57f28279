package skiplist

import (
	"sync/atomic"
	"unsafe"

	"github.com/couchbase/lockfree/internal/backoff"
	"github.com/couchbase/lockfree/internal/smr"
	"github.com/couchbase/lockfree/internal/stats"
	"github.com/couchbase/lockfree/registry"
	"github.com/couchbase/lockfree/tagged"
)

// Comparator totally orders keys of type K.
type Comparator[K any] func(a, b K) int

// Disposer is invoked once a node is provably unreachable (spec.md §6).
type Disposer[K any, V any] func(key K, val V)

// Config bundles Skiplist's pluggable policies (spec.md §6).
type Config[K any, V any] struct {
	Comparator   Comparator[K]
	Domain       smr.Domain
	LevelGen     LevelGenerator // default: NewAtomicXorShift32(0)
	MaxHeight    int            // default: MaxHeight (32)
	Backoff      string
	ItemCounter  string
	StatsEnabled bool
	Disposer     Disposer[K, V]
}

// Skiplist is the container.
type Skiplist[K any, V any] struct {
	head, tail *Node[K, V]
	cmp        Comparator[K]
	dom        smr.Domain
	gen        LevelGenerator
	maxHeight  int
	newBackoff func() backoff.Strategy
	counter    stats.ItemCounter
	stat       *stats.Stat
	dispose    Disposer[K, V]
}

// New constructs an empty Skiplist per cfg.
func New[K any, V any](cfg Config[K, V]) *Skiplist[K, V] {
	if cfg.Comparator == nil {
		panic("skiplist: Comparator is required")
	}
	if cfg.Domain == nil {
		panic("skiplist: Domain is required")
	}
	maxH := cfg.MaxHeight
	if maxH <= 0 || maxH > MaxHeight {
		maxH = MaxHeight
	}
	gen := cfg.LevelGen
	if gen == nil {
		gen = NewAtomicXorShift32(0)
	}
	dispose := cfg.Disposer
	if dispose == nil {
		dispose = func(K, V) {}
	}

	var zeroK K
	var zeroV V
	head := newNode[K, V](zeroK, zeroV, maxH)
	tail := newNode[K, V](zeroK, zeroV, maxH)
	for i := 0; i < maxH; i++ {
		head.tower[i].Store(tail, 0, tagged.Release)
	}

	kind := cfg.Backoff
	return &Skiplist[K, V]{
		head:       head,
		tail:       tail,
		cmp:        cfg.Comparator,
		dom:        cfg.Domain,
		gen:        gen,
		maxHeight:  maxH,
		newBackoff: func() backoff.Strategy { return backoff.New(kind) },
		counter:    stats.NewItemCounter(cfg.ItemCounter),
		stat:       stats.NewStat(cfg.StatsEnabled),
		dispose:    dispose,
	}
}

// Attach/Detach expose the underlying SMR domain's thread lifecycle
// (spec.md §4.D).
func (s *Skiplist[K, V]) Attach() *registry.Handle  { return s.dom.Attach() }
func (s *Skiplist[K, V]) Detach(h *registry.Handle) { s.dom.Detach(h) }

// helpUnlink CASes prev's tower[level] past curr (whose tower[level] is
// already marked deleted) to next, and on success decrements curr's
// unlinkCounter; the thread whose decrement reaches zero appends curr to
// the caller-local deletion chain (spec.md §3/§4.G).
func (s *Skiplist[K, V]) helpUnlink(level int, prev, curr, next *Node[K, V], chain **Node[K, V]) bool {
	ok := prev.tower[level].CompareAndSwap(curr, 0, next, 0, tagged.Release, tagged.Acquire)
	if ok {
		if left := atomic.AddInt32(&curr.unlinkCounter, -1); left == 0 {
			curr.delChainNext = *chain
			*chain = curr
		}
	}
	return ok
}

// findPosition is spec.md §4.G's core traversal: descends from the top
// level, recording (prev, succ) at every level, help-unlinking any
// logically-deleted node it passes through. Nodes whose unlinkCounter
// reaches zero during this call are appended to chain, which the caller
// must drain (retire through SMR) once done with the returned
// predecessor/successor arrays.
//
// Every node read here is published into h's hazard slots before its
// tower is dereferenced (spec.md §4.B: "a missing protect before
// dereference is a program error"), mirroring list.search's
// protect-then-load discipline — slot 0 tracks the current prev, slot 1
// the current curr, so both remain protected for whichever level's
// (prev, curr) the loop last examined at return, same as list.go leaves
// its own two slots set for the caller to keep using.
func (s *Skiplist[K, V]) findPosition(h *registry.Handle, key K, chain **Node[K, V]) (preds, succs [MaxHeight]*Node[K, V], found bool) {
retry:
	prev := s.head
	for level := s.maxHeight - 1; level >= 0; level-- {
		s.dom.Protect(h, 0, unsafe.Pointer(prev))
		curr, _ := prev.tower[level].Load(tagged.Acquire)
		for curr != s.tail {
			s.dom.Protect(h, 1, unsafe.Pointer(curr))
			next, tag := curr.tower[level].Load(tagged.Acquire)
			if tag&tagged.MarkDeleted != 0 {
				if !s.helpUnlink(level, prev, curr, next, chain) {
					goto retry
				}
				s.stat.OnHelped()
				curr, _ = prev.tower[level].Load(tagged.Acquire)
				continue
			}
			if s.cmp(curr.key, key) < 0 {
				prev = curr
				s.dom.Protect(h, 0, unsafe.Pointer(prev))
				curr, _ = prev.tower[level].Load(tagged.Acquire)
				continue
			}
			break
		}
		preds[level] = prev
		succs[level] = curr
	}
	if succs[0] != s.tail && s.cmp(succs[0].key, key) == 0 {
		found = true
	}
	return preds, succs, found
}

// drainChain retires every node in chain through the configured SMR
// domain and disposer.
func (s *Skiplist[K, V]) drainChain(h *registry.Handle, chain *Node[K, V]) {
	for n := chain; n != nil; {
		next := n.delChainNext
		if _, tag := n.tower[0].Load(tagged.Acquire); tag&tagged.MarkExtracted != 0 {
			n = next // owned by an ExemptPtr, retired by its Release
			continue
		}
		key, val := n.key, n.val
		s.dom.Retire(h, unsafe.Pointer(n), func(unsafe.Pointer) {
			s.dispose(key, val)
		})
		n = next
	}
}

// Insert adds key/val if key is not already present.
func (s *Skiplist[K, V]) Insert(h *registry.Handle, key K, val V) bool {
	return s.InsertFunc(h, key, val, nil)
}

// InsertFunc is Insert with an on-insert functor (spec.md §6
// `insert(v, f)`).
func (s *Skiplist[K, V]) InsertFunc(h *registry.Handle, key K, val V, onInsert func(K, V)) bool {
	s.dom.Enter(h)
	defer s.dom.Leave(h)

	height := s.gen.Next(s.maxHeight)
	x := newNode[K, V](key, val, height)
	bo := s.newBackoff()

	var chain *Node[K, V]
	defer func() { s.drainChain(h, chain) }()

	for {
		preds, succs, found := s.findPosition(h, key, &chain)
		if found {
			s.stat.OnInsert(false)
			return false
		}
		x.tower[0].Store(succs[0], 0, tagged.Release)
		if !preds[0].tower[0].CompareAndSwap(succs[0], 0, x, 0, tagged.Release, tagged.Acquire) {
			s.stat.OnCASFail()
			bo.Wait()
			continue
		}
		// Level 0 link is the true linearization point: the node is a
		// live member from here on even if higher levels never link
		// (spec.md §9 "abandon if marked").
		s.counter.Inc()
		s.stat.OnInsert(true)
		if onInsert != nil {
			onInsert(key, val)
		}
		s.linkUpperLevels(h, x, height, key, &chain)
		return true
	}
}

// linkUpperLevels attempts to splice x into levels 1..height-1. If a
// concurrent erase marks x before a given level links, further
// upper-level linking is abandoned (spec.md §9): x remains a valid
// member at level 0 and the abandoned levels are subtracted from its
// unlinkCounter so a future erase's help-unlink count reaches zero.
func (s *Skiplist[K, V]) linkUpperLevels(h *registry.Handle, x *Node[K, V], height int, key K, chain **Node[K, V]) {
	linked := 1
	for level := 1; level < height; level++ {
		for {
			preds, succs, _ := s.findPosition(h, key, chain)
			// findPosition only leaves slots 0/1 protecting level 0's
			// (prev, curr) at return; this level's preds/succs need
			// their own slots before their tower fields are
			// dereferenced below.
			s.dom.Protect(h, 2, unsafe.Pointer(preds[level]))
			s.dom.Protect(h, 3, unsafe.Pointer(succs[level]))
			if _, tag := x.tower[0].Load(tagged.Acquire); tag&tagged.MarkDeleted != 0 {
				s.adjustUnlinkCounter(x, linked, height)
				return
			}
			x.tower[level].Store(succs[level], 0, tagged.Release)
			if preds[level].tower[level].CompareAndSwap(succs[level], 0, x, 0, tagged.Release, tagged.Acquire) {
				linked++
				break
			}
			s.stat.OnCASFail()
		}
	}
}

// adjustUnlinkCounter corrects x.unlinkCounter down to the number of
// levels actually linked, since unlinkCounter started optimistically at
// the node's full intended height (newNode) but only `linked` levels
// will ever be decremented by a future erase's helpUnlink.
func (s *Skiplist[K, V]) adjustUnlinkCounter(x *Node[K, V], linked, height int) {
	unused := int32(height - linked)
	if unused > 0 {
		atomic.AddInt32(&x.unlinkCounter, -unused)
	}
}

// Erase removes key if present.
func (s *Skiplist[K, V]) Erase(h *registry.Handle, key K) bool {
	return s.eraseOrExtract(h, key, false, nil) != nil
}

// EraseFunc is Erase with a functor called with the removed value before
// retirement (spec.md §6 `erase(k, f)`).
func (s *Skiplist[K, V]) EraseFunc(h *registry.Handle, key K, onErase func(K, V)) bool {
	return s.eraseOrExtract(h, key, false, onErase) != nil
}

// ExtractMin removes and returns the smallest key as an ExemptPtr,
// deferring its reclamation until the caller releases it (spec.md §5
// "exempt pointer" semantics, SPEC_FULL.md §5).
func (s *Skiplist[K, V]) ExtractMin(h *registry.Handle) (*ExemptPtr[K, V], bool) {
	return s.extractEnd(h, true)
}

// ExtractMax removes and returns the largest key as an ExemptPtr.
func (s *Skiplist[K, V]) ExtractMax(h *registry.Handle) (*ExemptPtr[K, V], bool) {
	return s.extractEnd(h, false)
}

func (s *Skiplist[K, V]) extractEnd(h *registry.Handle, min bool) (*ExemptPtr[K, V], bool) {
	s.dom.Enter(h)
	var key K
	found := false
	curr, _ := s.head.tower[0].Load(tagged.Acquire)
	for curr != s.tail {
		s.dom.Protect(h, 1, unsafe.Pointer(curr))
		_, tag := curr.tower[0].Load(tagged.Acquire)
		if tag&tagged.MarkDeleted == 0 {
			key, found = curr.key, true
			if min {
				break
			}
		}
		curr, _ = curr.tower[0].Load(tagged.Acquire)
	}
	s.dom.Leave(h)
	if !found {
		return nil, false
	}

	node := s.eraseOrExtract(h, key, true, nil)
	if node == nil {
		return nil, false
	}
	return newExemptPtr(s, h, node), true
}

// eraseOrExtract implements both Erase and Extract: for each level from
// top to 1, CAS a 1 into the mark bit of the node's tower entry; finally
// CAS the level-0 mark bit — the thread that sets it is the unique
// logical deleter (spec.md §4.G). When extract is true, the extracted
// bit is also set and the node is handed back instead of being retired
// by this call (the caller owns it via ExemptPtr and must eventually
// release it).
func (s *Skiplist[K, V]) eraseOrExtract(h *registry.Handle, key K, extract bool, onErase func(K, V)) *Node[K, V] {
	s.dom.Enter(h)
	defer s.dom.Leave(h)

	var chain *Node[K, V]
	defer func() { s.drainChain(h, chain) }()

	_, succs, found := s.findPosition(h, key, &chain)
	if !found {
		s.stat.OnErase(false)
		return nil
	}
	target := succs[0]
	height := target.Height()

	for level := height - 1; level >= 1; level-- {
		for {
			next, tag := target.tower[level].Load(tagged.Acquire)
			if tag&tagged.MarkDeleted != 0 {
				break
			}
			newTag := tag | tagged.MarkDeleted
			if extract {
				newTag |= tagged.MarkExtracted
			}
			if target.tower[level].CompareAndSwap(next, tag, next, newTag, tagged.Release, tagged.Acquire) {
				break
			}
		}
	}

	for {
		next, tag := target.tower[0].Load(tagged.Acquire)
		if tag&tagged.MarkDeleted != 0 {
			s.stat.OnErase(false)
			return nil // another thread already won the logical delete
		}
		newTag := tag | tagged.MarkDeleted
		if extract {
			newTag |= tagged.MarkExtracted
		}
		if target.tower[0].CompareAndSwap(next, tag, next, newTag, tagged.Release, tagged.Acquire) {
			break
		}
	}

	// This goroutine is the unique logical deleter.
	if onErase != nil {
		onErase(target.key, target.val)
	}
	s.counter.Dec()
	if extract {
		s.stat.OnExtract()
	} else {
		s.stat.OnErase(true)
	}
	// Publish the removal by physically unlinking and help-retiring;
	// re-running findPosition does both (spec.md §4.G).
	s.findPosition(h, key, &chain)
	return target
}

// retireExempt is called by ExemptPtr.Release to finally hand an
// extracted node back to the SMR domain once the caller is done reading
// it (SPEC_FULL.md §5).
func (s *Skiplist[K, V]) retireExempt(h *registry.Handle, n *Node[K, V]) {
	key, val := n.key, n.val
	s.dom.Retire(h, unsafe.Pointer(n), func(unsafe.Pointer) {
		s.dispose(key, val)
	})
}

// Contains reports whether key is present.
func (s *Skiplist[K, V]) Contains(h *registry.Handle, key K) bool {
	s.dom.Enter(h)
	defer s.dom.Leave(h)
	var chain *Node[K, V]
	_, _, found := s.findPosition(h, key, &chain)
	s.drainChain(h, chain)
	s.stat.OnFind(found)
	return found
}

// Find reports whether key is present, calling f with its value if so.
func (s *Skiplist[K, V]) Find(h *registry.Handle, key K, f func(K, V)) bool {
	s.dom.Enter(h)
	defer s.dom.Leave(h)
	var chain *Node[K, V]
	_, succs, found := s.findPosition(h, key, &chain)
	s.drainChain(h, chain)
	s.stat.OnFind(found)
	if found && f != nil {
		f(succs[0].key, succs[0].val)
	}
	return found
}

// Size returns the current item count (spec.md §6).
func (s *Skiplist[K, V]) Size() int64 { return s.counter.Value() }

// Empty reports whether Size() == 0.
func (s *Skiplist[K, V]) Empty() bool { return s.counter.Value() == 0 }

// Clear removes every item. Not atomic.
func (s *Skiplist[K, V]) Clear(h *registry.Handle) {
	for {
		s.dom.Enter(h)
		curr, _ := s.head.tower[0].Load(tagged.Acquire)
		if curr != s.tail {
			s.dom.Protect(h, 1, unsafe.Pointer(curr))
		}
		s.dom.Leave(h)
		if curr == s.tail {
			return
		}
		s.Erase(h, curr.key)
	}
}

// ForEach walks live (unmarked) level-0 nodes in key order.
func (s *Skiplist[K, V]) ForEach(h *registry.Handle, f func(key K, val V) bool) {
	s.dom.Enter(h)
	defer s.dom.Leave(h)
	curr, _ := s.head.tower[0].Load(tagged.Acquire)
	for curr != s.tail {
		s.dom.Protect(h, 1, unsafe.Pointer(curr))
		next, tag := curr.tower[0].Load(tagged.Acquire)
		if tag&tagged.MarkDeleted == 0 {
			if !f(curr.key, curr.val) {
				return
			}
		}
		curr = next
	}
}

// Stat exposes the operation-counter bundle (spec.md §6 `stat`).
func (s *Skiplist[K, V]) Stat() *stats.Stat { return s.stat }

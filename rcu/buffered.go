package rcu

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/couchbase/lockfree/registry"
)

// bufferedScheme is the Buffered flavor, ported from the teacher's
// skiplist/access_barrier.go almost line for line: retired items
// accumulate against a *session* rather than being freed per-address;
// every Retire call implicitly "enters" the current session for the
// duration of queuing (mirroring Acquire/Release bracketing a skiplist
// access) then, once the buffer limit is hit, *closes* the session
// (FlushSession) and moves on to a new one. A session can only be
// reclaimed once every accessor that was live in it has released, and
// only after every earlier closed session has itself been reclaimed —
// the same ordering constraint the original's doCleanup enforces via its
// skip-list of BarrierSessions ordered by seqno. Here that ordered
// structure is a small mutex-guarded slice instead of a second skip-list,
// avoiding a skiplist<->rcu import cycle while keeping the identical
// "only drain a contiguous run starting at freeSeqno+1" rule.
const flushOffset = math.MaxInt32 / 2

type bufSession struct {
	liveCount int32
	itemsMu   sync.Mutex
	items     []retiredItem
	seqno     uint64
	closed    int32
}

type retiredItem struct {
	addr    unsafe.Pointer
	deleter func(unsafe.Pointer)
}

type bufferedScheme struct {
	reg *registry.Registry

	session unsafe.Pointer // *bufSession, current (open) session
	limit   int

	activeSeqno uint64

	mu        sync.Mutex
	closedSet []*bufSession // closed, not yet reclaimed, unsorted
	freeSeqno uint64
}

func newBufferedScheme(reg *registry.Registry, limit int) *bufferedScheme {
	s := &bufferedScheme{reg: reg, limit: limit}
	atomic.StorePointer(&s.session, unsafe.Pointer(&bufSession{}))
	return s
}

func (b *bufferedScheme) currentSession() *bufSession {
	return (*bufSession)(atomic.LoadPointer(&b.session))
}

// acquire enters the current session, retrying against a freshly opened
// session if the one loaded was closed concurrently — spec.md §4.C /
// access_barrier.go's Acquire.
func (b *bufferedScheme) acquire() *bufSession {
	for {
		s := b.currentSession()
		live := atomic.AddInt32(&s.liveCount, 1)
		if live > flushOffset {
			b.release(s)
			continue
		}
		return s
	}
}

// release leaves session s; if this release is the one that brings the
// live count down to exactly flushOffset, this goroutine is the unique
// closer responsible for publishing s into the closed set and attempting
// a drain — access_barrier.go's Release.
func (b *bufferedScheme) release(s *bufSession) {
	live := atomic.AddInt32(&s.liveCount, -1)
	switch {
	case live == flushOffset:
		if atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
			b.mu.Lock()
			b.closedSet = append(b.closedSet, s)
			b.mu.Unlock()
			b.drain()
		}
	case live < 0 || live == flushOffset-1:
		panic("rcu: unsafe memory reclamation detected (buffered flavor)")
	}
}

// flush closes the current session (installing a fresh one in its place)
// and marks it for reclamation once quiescent — access_barrier.go's
// FlushSession.
func (b *bufferedScheme) flush() {
	b.mu.Lock()
	old := b.currentSession()
	next := &bufSession{}
	atomic.CompareAndSwapPointer(&b.session, unsafe.Pointer(old), unsafe.Pointer(next))
	b.activeSeqno++
	old.seqno = b.activeSeqno
	b.mu.Unlock()

	atomic.AddInt32(&old.liveCount, flushOffset+1)
	b.release(old)
}

// drain reclaims every closed session forming a contiguous run starting
// at freeSeqno+1, exactly as access_barrier.go's doCleanup walks its
// free-queue iterator.
func (b *bufferedScheme) drain() {
	for {
		b.mu.Lock()
		if len(b.closedSet) == 0 {
			b.mu.Unlock()
			return
		}
		sort.Slice(b.closedSet, func(i, j int) bool { return b.closedSet[i].seqno < b.closedSet[j].seqno })
		next := b.closedSet[0]
		if next.seqno != b.freeSeqno+1 {
			b.mu.Unlock()
			return
		}
		b.closedSet = b.closedSet[1:]
		b.freeSeqno++
		b.mu.Unlock()

		for _, it := range next.items {
			it.deleter(it.addr)
		}
	}
}

func (b *bufferedScheme) retire(h *registry.Handle, addr unsafe.Pointer, deleter func(unsafe.Pointer), _ DeadlockPolicy) {
	s := b.acquire()
	s.itemsMu.Lock()
	s.items = append(s.items, retiredItem{addr: addr, deleter: deleter})
	full := len(s.items) >= b.limit
	s.itemsMu.Unlock()
	b.release(s)
	if full {
		b.flush()
	}
}

func (b *bufferedScheme) synchronize(_ *registry.Handle) {
	b.flush()
}

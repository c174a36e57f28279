// Package allocator defines the untyped block-allocator contract
// spec.md §1 names as an out-of-scope external collaborator ("the core
// consumes an untyped block allocator returning aligned raw regions")
// and SPEC_FULL.md §4.J supplements with a concrete reference
// implementation, since a runnable repo needs at least one allocator
// wired to its containers' node-pool path even though the algorithms
// themselves are allocator-agnostic.
//
// Grounded in the teacher's mm/malloc.go: same alloc/free atomic
// counters and Stats() string-report idiom, reimplemented over
// sync.Pool size classes instead of cgo+jemalloc (DESIGN.md justifies
// dropping cgo: this module must build with `go build` alone, and
// cgo's build-tag/toolchain coupling has no pure-Go substitute that
// preserves jemalloc itself — the counters-and-stats *contract* is what
// survives the port, not the C allocator).
package allocator

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"
)

// Allocator is the untyped block-allocator contract spec.md §1 treats as
// an external collaborator: aligned raw regions in, nothing but an
// address out.
type Allocator interface {
	Alloc(size int) unsafe.Pointer
	Free(p unsafe.Pointer, size int)
	Stats() Stats
}

// Stats mirrors the teacher's Stats()-string report, structured so it
// round-trips through encoding/json the way mm.StatsJson did.
type Stats struct {
	Allocs      uint64 `json:"allocs"`
	Frees       uint64 `json:"frees"`
	LiveBytes   int64  `json:"live_bytes"`
	SizeClasses int     `json:"size_classes"`
}

// String renders Stats the way the teacher's mm.Stats() did: a short
// human-readable report, not JSON.
func (s Stats) String() string {
	return fmt.Sprintf("---- Stats ----\nMallocs = %d\nFrees   = %d\nLiveBytes = %d\n",
		s.Allocs, s.Frees, s.LiveBytes)
}

// JSON renders Stats as the teacher's StatsJson() did.
func (s Stats) JSON() string {
	b, err := json.Marshal(s)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// sizeClasses are the pool buckets a PooledAllocator rounds requests up
// to, chosen to cover the node sizes list/splitlist/skiplist/ellentree
// allocate (small fixed structs, a handful of words each).
var sizeClasses = []int{32, 64, 128, 256, 512, 1024, 4096}

func classFor(size int) (int, bool) {
	for _, c := range sizeClasses {
		if size <= c {
			return c, true
		}
	}
	return 0, false
}

// PooledAllocator is a pure-Go reference Allocator: one sync.Pool per
// size class, falling back to a direct make([]byte, n) for oversized
// requests. It exists so SPEC_FULL.md's containers have a concrete,
// swappable-in allocator to exercise instead of relying solely on Go's
// runtime allocator via bare `new`/`make` — callers that don't care can
// leave it nil. list.Config.Allocator wires it in as an accounting-only
// collaborator: Alloc/Free track bytes in/out paired with each node's
// lifetime, but a node's actual Go memory still comes from a plain
// `&Node[K, V]{}` literal, never from the buffer Alloc returns — a
// generic Node[K, V] can embed K/V types holding pointers or interfaces,
// and a raw []byte region carries no type descriptor for the garbage
// collector to scan those through, so aliasing it as the node's backing
// memory would risk premature reclamation of anything reachable only
// through it.
type PooledAllocator struct {
	pools [7]sync.Pool

	live   sync.Map // uintptr(p) -> *[]byte, tracks outstanding regions so Free can return the real buffer to its pool
	allocs uint64
	frees  uint64
	liveBytes int64
}

// NewPooled constructs a PooledAllocator with one pool per size class.
func NewPooled() *PooledAllocator {
	a := &PooledAllocator{}
	for i, c := range sizeClasses {
		size := c
		a.pools[i].New = func() any {
			buf := make([]byte, size)
			return &buf
		}
	}
	return a
}

func (a *PooledAllocator) poolIndex(class int) int {
	for i, c := range sizeClasses {
		if c == class {
			return i
		}
	}
	return -1
}

// Alloc returns a zeroed region of at least size bytes.
func (a *PooledAllocator) Alloc(size int) unsafe.Pointer {
	atomic.AddUint64(&a.allocs, 1)
	atomic.AddInt64(&a.liveBytes, int64(size))

	class, ok := classFor(size)
	if !ok {
		buf := make([]byte, size)
		return unsafe.Pointer(&buf[0])
	}
	idx := a.poolIndex(class)
	buf := a.pools[idx].Get().(*[]byte)
	for i := range *buf {
		(*buf)[i] = 0
	}
	p := unsafe.Pointer(&(*buf)[0])
	a.live.Store(uintptr(p), buf)
	return p
}

// Free returns a region obtained from Alloc(size) to its size-class
// pool. size must exactly match the value passed to the corresponding
// Alloc call.
func (a *PooledAllocator) Free(p unsafe.Pointer, size int) {
	atomic.AddUint64(&a.frees, 1)
	atomic.AddInt64(&a.liveBytes, -int64(size))

	class, ok := classFor(size)
	if !ok {
		return // oversized allocation: let the GC reclaim it directly
	}
	v, ok := a.live.LoadAndDelete(uintptr(p))
	if !ok {
		return // not a region this allocator produced
	}
	idx := a.poolIndex(class)
	a.pools[idx].Put(v.(*[]byte))
}

// Stats reports current allocator counters.
func (a *PooledAllocator) Stats() Stats {
	return Stats{
		Allocs:      atomic.LoadUint64(&a.allocs),
		Frees:       atomic.LoadUint64(&a.frees),
		LiveBytes:   atomic.LoadInt64(&a.liveBytes),
		SizeClasses: len(sizeClasses),
	}
}

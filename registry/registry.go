// Package registry implements the process-wide thread registry from
// spec.md §4.D: per-thread state blocks shared by the hazard-pointer (§4.B)
// and epoch-based (§4.C) reclamation schemes, with an explicit attach/
// detach lifecycle.
//
// Go has no user-visible notion of "the calling thread" — goroutines are
// multiplexed across OS threads and migrate freely, so there is no
// thread-local storage to hang SMR state off of. The idiomatic Go
// rendering of "attach before first use" is an explicit handle: a
// goroutine calls Attach once, keeps the returned *Handle for the
// lifetime of its participation in the containers, and calls Detach when
// done. This mirrors how the teacher's nitro skiplist threads a `*Buf`
// (see skiplist.MakeBuf/FreeBuf in the original) through every call
// instead of relying on ambient thread identity.
package registry

import (
	"sync"
	"sync/atomic"
	"unsafe"
)

// HazardSlots is the number of hazard-pointer slots each attached handle
// owns — spec.md §4.B: "a small bounded array of slots (configured,
// typically 8)".
const HazardSlots = 8

// Retired is a single (address, deleter) pair awaiting reclamation,
// spec.md §3 "Retire queue".
type Retired struct {
	Addr    unsafe.Pointer
	Deleter func(unsafe.Pointer)
}

// Handle is per-goroutine SMR state: a hazard-pointer slot array, an
// epoch counter for RCU-style readers, and a private retire queue.
type Handle struct {
	reg *Registry

	// Hazard pointers (§4.B).
	hazards [HazardSlots]unsafe.Pointer

	// Epoch-based reclamation (§4.C): depth counts nested critical
	// sections (RCU read-lock re-entrance is permitted and counted),
	// localEpoch is the epoch this handle last observed on entry.
	csDepth    int32
	localEpoch uint64

	// Retire queue (§4.B/§4.C): items this handle has retired but not
	// yet proven safe to reclaim.
	mu      sync.Mutex
	retired []Retired

	attached bool
	next     *Handle // registry's attached-list link
}

// Registry is the process-wide attached-thread list plus the global
// epoch counter used by rcu's instant/buffered/threaded flavors.
type Registry struct {
	mu      sync.Mutex
	head    *Handle
	count   int
	globalEpoch uint64

	// holdover accumulates retires drained from detaching handles so a
	// later scan by any still-attached handle can still reclaim them.
	holdMu  sync.Mutex
	holdover []Retired
}

// New constructs an empty registry. A process typically owns one
// Registry per container family, or shares one across all containers
// that need to interoperate under the same SMR domain.
func New() *Registry {
	return &Registry{}
}

// Attach registers the calling goroutine's participation and returns its
// Handle. Attach must be called before any container operation; calling
// it again after Detach is safe and returns a fresh Handle (idempotent in
// the sense that mis-ordered lifecycle calls never corrupt registry
// state, per spec.md §9 "make attachment ... idempotent-safe").
func (r *Registry) Attach() *Handle {
	h := &Handle{reg: r, attached: true}
	r.mu.Lock()
	h.next = r.head
	r.head = h
	r.count++
	h.localEpoch = atomic.LoadUint64(&r.globalEpoch)
	r.mu.Unlock()
	return h
}

// Detach removes h from the registry, draining any still-queued retires
// into the registry's holdover so a peer's next scan can still reclaim
// them. Detach must not be called while h is inside an RCU read-side
// critical section (spec.md §4.D); calling it so is a programming error
// and is reported via panic rather than silently corrupting state.
func (r *Registry) Detach(h *Handle) {
	if atomic.LoadInt32(&h.csDepth) != 0 {
		panic("registry: Detach called inside a read-side critical section")
	}

	r.mu.Lock()
	prev := &r.head
	for cur := r.head; cur != nil; cur = cur.next {
		if cur == h {
			*prev = cur.next
			r.count--
			break
		}
		prev = &cur.next
	}
	r.mu.Unlock()

	h.mu.Lock()
	pending := h.retired
	h.retired = nil
	h.attached = false
	h.mu.Unlock()

	if len(pending) > 0 {
		r.holdMu.Lock()
		r.holdover = append(r.holdover, pending...)
		r.holdMu.Unlock()
	}
}

// Count returns the number of currently attached handles.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// ForEach invokes fn for every currently attached handle other than
// exclude (pass nil to visit all). Used by hazard-pointer scans and RCU
// quiescence checks, which both need a snapshot of peers.
func (r *Registry) ForEach(exclude *Handle, fn func(*Handle)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for cur := r.head; cur != nil; cur = cur.next {
		if cur == exclude {
			continue
		}
		fn(cur)
	}
}

// TakeHoldover atomically drains and returns the registry's holdover
// retire list — items left behind by threads that detached while
// retires were still pending a scan.
func (r *Registry) TakeHoldover() []Retired {
	r.holdMu.Lock()
	defer r.holdMu.Unlock()
	if len(r.holdover) == 0 {
		return nil
	}
	out := r.holdover
	r.holdover = nil
	return out
}

// Retire appends (addr, deleter) to h's private retire queue.
func (h *Handle) Retire(addr unsafe.Pointer, deleter func(unsafe.Pointer)) {
	h.mu.Lock()
	h.retired = append(h.retired, Retired{Addr: addr, Deleter: deleter})
	h.mu.Unlock()
}

// PendingRetires returns (and does not clear) h's queued retires, for use
// by a scan that will selectively remove the ones it reclaims.
func (h *Handle) PendingRetires() []Retired {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Retired, len(h.retired))
	copy(out, h.retired)
	return out
}

// RemoveRetired drops exactly the entries in reclaimed (compared by
// Addr) from h's retire queue, called after a scan has invoked their
// deleters.
func (h *Handle) RemoveRetired(reclaimed map[unsafe.Pointer]bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	kept := h.retired[:0]
	for _, r := range h.retired {
		if !reclaimed[r.Addr] {
			kept = append(kept, r)
		}
	}
	h.retired = kept
}

// PendingCount reports the number of entries in h's retire queue,
// used by hazard-pointer scan-threshold checks (spec.md §4.B).
func (h *Handle) PendingCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.retired)
}

// --- hazard pointer slot access (spec.md §4.B) ---

// ProtectSlot publishes addr into h's slot i with a release fence,
// spec.md §3 "published with a release fence".
func (h *Handle) ProtectSlot(i int, addr unsafe.Pointer) {
	atomic.StorePointer(&h.hazards[i], addr)
}

// ClearSlot retargets slot i to nil, releasing the protection.
func (h *Handle) ClearSlot(i int) {
	atomic.StorePointer(&h.hazards[i], nil)
}

// SlotValue reads slot i (used by scans over peer handles).
func (h *Handle) SlotValue(i int) unsafe.Pointer {
	return atomic.LoadPointer(&h.hazards[i])
}

// --- RCU read-side critical section bookkeeping (spec.md §4.C) ---

// EnterCS increments h's nested critical-section depth and records the
// epoch observed on entry (used by the "instant"/"buffered" flavors to
// decide when this handle has quiesced past a given epoch).
func (h *Handle) EnterCS() {
	atomic.AddInt32(&h.csDepth, 1)
	atomic.StoreUint64(&h.localEpoch, atomic.LoadUint64(&h.reg.globalEpoch))
}

// ExitCS decrements the nesting depth; the handle is quiescent again once
// it reaches zero.
func (h *Handle) ExitCS() {
	if atomic.AddInt32(&h.csDepth, -1) < 0 {
		atomic.AddInt32(&h.csDepth, 1) // leave the depth at zero
		panic("registry: ExitCS without matching EnterCS")
	}
}

// InCS reports whether h currently holds a read-side critical section.
func (h *Handle) InCS() bool {
	return atomic.LoadInt32(&h.csDepth) != 0
}

// ObservedEpoch returns the global epoch h last saw on EnterCS.
func (h *Handle) ObservedEpoch() uint64 {
	return atomic.LoadUint64(&h.localEpoch)
}

// GlobalEpoch returns the registry's current global epoch.
func (r *Registry) GlobalEpoch() uint64 {
	return atomic.LoadUint64(&r.globalEpoch)
}

// AdvanceEpoch atomically increments and returns the new global epoch.
func (r *Registry) AdvanceEpoch() uint64 {
	return atomic.AddUint64(&r.globalEpoch, 1)
}

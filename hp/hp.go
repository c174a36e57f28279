// Package hp implements the Hazard Pointer safe-memory-reclamation scheme
// from spec.md §4.B: a fixed per-handle array of published slots plus a
// retire queue drained by a scan that snapshots every peer's slots.
//
// Grounded in the same "publish before dereference" discipline as the
// teacher's AccessBarrier (see rcu.Buffered, adapted from
// skiplist/access_barrier.go), but tracking individual addresses rather
// than whole sessions — a thread protects exactly the nodes it currently
// holds a live reference to, rather than every node retired during an
// interval it happened to be active in.
package hp

import (
	"sort"
	"unsafe"

	"github.com/couchbase/lockfree/registry"
)

// ScanThreshold is the retire-queue length at which a handle performs a
// scan before continuing, spec.md §4.B: "When the queue exceeds a
// threshold, the thread performs a scan."
const ScanThreshold = 64

// Domain binds a registry to the hazard-pointer discipline. Multiple
// containers may share one Domain so long as they agree on disposer
// semantics; each container instance typically owns its own Domain.
type Domain struct {
	reg *registry.Registry
}

// NewDomain creates a hazard-pointer domain over a fresh thread registry.
func NewDomain() *Domain {
	return &Domain{reg: registry.New()}
}

// Registry exposes the underlying thread registry (e.g. for Attach/Detach
// call sites shared with an rcu.Domain over the same threads).
func (d *Domain) Registry() *registry.Registry { return d.reg }

// Attach registers the calling goroutine with this domain.
func (d *Domain) Attach() *registry.Handle { return d.reg.Attach() }

// Detach removes h from this domain, carrying its pending retires into
// the registry holdover.
func (d *Domain) Detach(h *registry.Handle) { d.reg.Detach(h) }

// Guard is a single protected slot, acquired via Protect and released via
// Release. It corresponds to one hazard-pointer slot out of
// registry.HazardSlots available on the handle.
type Guard struct {
	h   *registry.Handle
	idx int
}

// Protect publishes addr into slot idx of h with a release fence (spec.md
// §3 "Hazard-pointer slot"), returning a Guard that must be released by
// the caller once the protected object is no longer dereferenced. idx
// must be in [0, registry.HazardSlots).
func Protect(h *registry.Handle, idx int, addr unsafe.Pointer) Guard {
	h.ProtectSlot(idx, addr)
	return Guard{h: h, idx: idx}
}

// Release clears the published slot.
func (g Guard) Release() {
	g.h.ClearSlot(g.idx)
}

// Retire appends (addr, deleter) to h's retire queue and, once the queue
// crosses ScanThreshold, performs a scan (spec.md §4.B). The deleter is
// the caller-supplied disposer (spec.md §6 `disposer` trait entry);
// reclamation never surfaces errors (spec.md §7), so deleter must not
// return one.
func (d *Domain) Retire(h *registry.Handle, addr unsafe.Pointer, deleter func(unsafe.Pointer)) {
	h.Retire(addr, deleter)
	if h.PendingCount() >= ScanThreshold {
		d.Scan(h)
	}
}

// Scan snapshots every other attached handle's hazard slots into a sorted
// set, then reclaims every one of h's retired addresses not present in
// that set — spec.md §4.B: "O(R log H) where R is retired count and H is
// total hazard slots." Addresses still protected by some peer remain
// queued for a later scan.
func (d *Domain) Scan(h *registry.Handle) {
	var protected []unsafe.Pointer
	d.reg.ForEach(h, func(peer *registry.Handle) {
		for i := 0; i < registry.HazardSlots; i++ {
			if v := peer.SlotValue(i); v != nil {
				protected = append(protected, v)
			}
		}
	})
	sort.Slice(protected, func(i, j int) bool {
		return uintptr(protected[i]) < uintptr(protected[j])
	})

	isProtected := func(addr unsafe.Pointer) bool {
		n := len(protected)
		i := sort.Search(n, func(k int) bool { return uintptr(protected[k]) >= uintptr(addr) })
		return i < n && protected[i] == addr
	}

	pending := h.PendingRetires()
	reclaimed := make(map[unsafe.Pointer]bool, len(pending))
	for _, r := range pending {
		if !isProtected(r.Addr) {
			r.Deleter(r.Addr)
			reclaimed[r.Addr] = true
		}
	}
	h.RemoveRetired(reclaimed)
}

// DrainHoldover attempts to reclaim everything left behind by detached
// handles, using h's view of currently-attached peers' hazard slots. Safe
// to call periodically (e.g. from the stress harness) to bound memory
// bloat from threads that detached with outstanding retires.
func (d *Domain) DrainHoldover(h *registry.Handle) {
	held := d.reg.TakeHoldover()
	if len(held) == 0 {
		return
	}
	var protected []unsafe.Pointer
	d.reg.ForEach(nil, func(peer *registry.Handle) {
		for i := 0; i < registry.HazardSlots; i++ {
			if v := peer.SlotValue(i); v != nil {
				protected = append(protected, v)
			}
		}
	})
	sort.Slice(protected, func(i, j int) bool { return uintptr(protected[i]) < uintptr(protected[j]) })
	isProtected := func(addr unsafe.Pointer) bool {
		n := len(protected)
		i := sort.Search(n, func(k int) bool { return uintptr(protected[k]) >= uintptr(addr) })
		return i < n && protected[i] == addr
	}
	for _, r := range held {
		if isProtected(r.Addr) {
			// Still visible to some peer: hand it back to h's own
			// retire queue so the next ordinary Scan reconsiders it.
			h.Retire(r.Addr, r.Deleter)
		} else {
			r.Deleter(r.Addr)
		}
	}
}

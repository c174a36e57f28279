// Package smr gives every container in this module (list, splitlist,
// skiplist, ellentree) one small interface to depend on regardless of
// whether the container was instantiated over hazard pointers (hp) or
// epoch-based RCU (rcu) — spec.md §6 lets callers pick either at
// construction, and spec.md §4.I's container shell needs a single
// "acquire protection / do the algorithm / release protection" shape to
// wrap around each public operation no matter which scheme backs it.
package smr

import (
	"unsafe"

	"github.com/couchbase/lockfree/hp"
	"github.com/couchbase/lockfree/rcu"
	"github.com/couchbase/lockfree/registry"
)

// Domain is the common surface a container needs from its SMR backend.
type Domain interface {
	Attach() *registry.Handle
	Detach(h *registry.Handle)

	// Enter/Leave bracket one public container operation (spec.md §4.I
	// step 2/5). For RCU this is the read-side critical section; for HP
	// it is a no-op — HP protection is established per-pointer via
	// Protect instead of for the whole operation.
	Enter(h *registry.Handle)
	Leave(h *registry.Handle)

	// Protect publishes addr as about to be dereferenced, into the given
	// slot index. HP backends publish a real hazard pointer; RCU
	// backends no-op, since the surrounding Enter/Leave already covers
	// the whole operation.
	Protect(h *registry.Handle, slot int, addr unsafe.Pointer)
	Unprotect(h *registry.Handle, slot int)

	// Retire queues addr for reclamation via deleter once safe.
	Retire(h *registry.Handle, addr unsafe.Pointer, deleter func(unsafe.Pointer))
}

// MaxProtectSlots bounds how many distinct addresses a single operation
// protects concurrently (e.g. list.search's prev/curr pair).
const MaxProtectSlots = registry.HazardSlots

type hpDomain struct{ d *hp.Domain }

// NewHP wraps a hazard-pointer domain as a smr.Domain.
func NewHP(d *hp.Domain) Domain { return hpDomain{d: d} }

func (h hpDomain) Attach() *registry.Handle { return h.d.Attach() }
func (h hpDomain) Detach(hd *registry.Handle) { h.d.Detach(hd) }
func (h hpDomain) Enter(*registry.Handle)     {}
func (h hpDomain) Leave(*registry.Handle)     {}

func (h hpDomain) Protect(hd *registry.Handle, slot int, addr unsafe.Pointer) {
	hd.ProtectSlot(slot, addr)
}
func (h hpDomain) Unprotect(hd *registry.Handle, slot int) { hd.ClearSlot(slot) }

func (h hpDomain) Retire(hd *registry.Handle, addr unsafe.Pointer, deleter func(unsafe.Pointer)) {
	h.d.Retire(hd, addr, deleter)
}

type rcuDomain struct{ d *rcu.Domain }

// NewRCU wraps an epoch-based RCU domain (any of its three flavors) as a
// smr.Domain.
func NewRCU(d *rcu.Domain) Domain { return rcuDomain{d: d} }

func (r rcuDomain) Attach() *registry.Handle   { return r.d.Attach() }
func (r rcuDomain) Detach(hd *registry.Handle) { r.d.Detach(hd) }
func (r rcuDomain) Enter(hd *registry.Handle)  { r.d.ReadLock(hd) }
func (r rcuDomain) Leave(hd *registry.Handle)  { r.d.ReadUnlock(hd) }

func (r rcuDomain) Protect(*registry.Handle, int, unsafe.Pointer) {}
func (r rcuDomain) Unprotect(*registry.Handle, int)               {}

func (r rcuDomain) Retire(hd *registry.Handle, addr unsafe.Pointer, deleter func(unsafe.Pointer)) {
	r.d.Retire(hd, addr, deleter)
}

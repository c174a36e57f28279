package rcu

import (
	"unsafe"

	"github.com/couchbase/lockfree/internal/backoff"
	"github.com/couchbase/lockfree/registry"
)

// instantScheme is the Instant flavor: Retire blocks the calling goroutine
// until every peer handle has quiesced past the epoch advanced by this
// retirement, then reclaims synchronously — spec.md §4.C: "synchronize
// blocks until every registered reader has passed a quiescent point;
// retired memory is freed synchronously."
type instantScheme struct {
	reg *registry.Registry
}

func newInstantScheme(reg *registry.Registry) *instantScheme {
	return &instantScheme{reg: reg}
}

func (s *instantScheme) retire(h *registry.Handle, addr unsafe.Pointer, deleter func(unsafe.Pointer), policy DeadlockPolicy) {
	s.waitForQuiescence(h, policy)
	deleter(addr)
}

func (s *instantScheme) synchronize(h *registry.Handle) {
	s.waitForQuiescence(h, NoCheck)
}

// waitForQuiescence advances the global epoch and spins (with backoff)
// until every other attached handle has either left its critical section
// or observed an epoch at least as new as the target.
func (s *instantScheme) waitForQuiescence(h *registry.Handle, _ DeadlockPolicy) {
	target := s.reg.AdvanceEpoch()
	s.reg.ForEach(h, func(peer *registry.Handle) {
		bo := backoff.NewExponential(1, 512)
		for peer.InCS() && peer.ObservedEpoch() < target {
			bo.Wait()
		}
	})
}

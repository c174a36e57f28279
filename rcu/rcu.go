// Package rcu implements the epoch-based ("read, copy, update") safe
// memory reclamation scheme from spec.md §4.C, in three flavors selectable
// at container instantiation: Instant, Buffered and Threaded. All three
// share the read-side critical-section bookkeeping on registry.Handle
// (EnterCS/ExitCS) and a configurable deadlock-checking policy.
package rcu

import (
	"errors"
	"unsafe"

	"github.com/couchbase/lockfree/registry"
)

// DeadlockPolicy selects what happens when a thread already holding a
// read-side critical section calls a method that would trigger
// Synchronize (spec.md §4.C).
type DeadlockPolicy int

const (
	NoCheck DeadlockPolicy = iota
	Throw
	Fatal
)

// ErrDeadlock is returned by Synchronize under the Throw policy when the
// calling handle is itself inside a read-side critical section.
var ErrDeadlock = errors.New("rcu: synchronize called from within a read-side critical section")

// Flavor names the three reclamation strategies of spec.md §4.C.
type Flavor int

const (
	FlavorInstant Flavor = iota
	FlavorBuffered
	FlavorThreaded
)

func (f Flavor) checkDeadlock(h *registry.Handle, policy DeadlockPolicy) error {
	if h == nil || !h.InCS() {
		return nil
	}
	switch policy {
	case Throw:
		return ErrDeadlock
	case Fatal:
		panic("rcu: Synchronize called while holding a read lock (fatal deadlock policy)")
	default: // NoCheck: undefined by spec.md §7; proceed
		return nil
	}
}

// Domain is the single entry point containers use, dispatching to one of
// the three flavor implementations below. Construct with NewDomain.
type Domain struct {
	flavor Flavor
	policy DeadlockPolicy
	reg    *registry.Registry

	instant  *instantScheme
	buffered *bufferedScheme
	threaded *threadedScheme
}

// Option configures a Domain at construction.
type Option func(*domainConfig)

type domainConfig struct {
	policy      DeadlockPolicy
	bufferLimit int
}

// WithDeadlockPolicy sets the policy checked by Synchronize.
func WithDeadlockPolicy(p DeadlockPolicy) Option {
	return func(c *domainConfig) { c.policy = p }
}

// WithBufferLimit sets the Buffered flavor's implicit-synchronize
// threshold (spec.md §4.C: "synchronize is invoked implicitly when the
// ring is full"). Ignored by Instant; Threaded accepts it but only flushes
// on its background timer or an explicit Synchronize.
func WithBufferLimit(n int) Option {
	return func(c *domainConfig) {
		if n > 0 {
			c.bufferLimit = n
		}
	}
}

// NewDomain constructs a Domain of the given flavor over a fresh thread
// registry.
func NewDomain(flavor Flavor, opts ...Option) *Domain {
	cfg := &domainConfig{bufferLimit: 256}
	for _, o := range opts {
		o(cfg)
	}
	reg := registry.New()
	d := &Domain{flavor: flavor, policy: cfg.policy, reg: reg}
	switch flavor {
	case FlavorInstant:
		d.instant = newInstantScheme(reg)
	case FlavorBuffered:
		d.buffered = newBufferedScheme(reg, cfg.bufferLimit)
	case FlavorThreaded:
		d.threaded = newThreadedScheme(reg, cfg.bufferLimit)
	default:
		panic("rcu: unknown flavor")
	}
	return d
}

// Registry exposes the underlying thread registry.
func (d *Domain) Registry() *registry.Registry { return d.reg }

// Attach registers the calling goroutine.
func (d *Domain) Attach() *registry.Handle { return d.reg.Attach() }

// Detach removes h. registry.Registry.Detach panics if h still holds a
// read lock, per spec.md §4.D.
func (d *Domain) Detach(h *registry.Handle) { d.reg.Detach(h) }

// ReadLock enters a (possibly nested) read-side critical section on h.
func (d *Domain) ReadLock(h *registry.Handle) { h.EnterCS() }

// ReadUnlock exits one level of critical section on h.
func (d *Domain) ReadUnlock(h *registry.Handle) { h.ExitCS() }

// Retire queues (addr, deleter) for reclamation once every reader able to
// observe addr has quiesced. Behavior depends on flavor:
//   - Instant: retires and reclaims synchronously before returning.
//   - Buffered: accumulates in a bounded ring, synchronizing implicitly
//     once the ring is full.
//   - Threaded: queued like Buffered but never flushed by the retiring
//     caller; a dedicated goroutine drains the queue on a timer.
func (d *Domain) Retire(h *registry.Handle, addr unsafe.Pointer, deleter func(unsafe.Pointer)) {
	switch d.flavor {
	case FlavorInstant:
		d.instant.retire(h, addr, deleter, d.policy)
	case FlavorBuffered:
		d.buffered.retire(h, addr, deleter, d.policy)
	case FlavorThreaded:
		d.threaded.retire(addr, deleter)
	}
}

// Synchronize forces a reclamation pass: for Instant this is what Retire
// already does internally; for Buffered/Threaded it flushes whatever is
// currently queued. Returns ErrDeadlock under the Throw policy if h holds
// a read lock; panics under Fatal; proceeds (spec: undefined) under
// NoCheck.
func (d *Domain) Synchronize(h *registry.Handle) error {
	if err := d.flavor.checkDeadlock(h, d.policy); err != nil {
		return err
	}
	switch d.flavor {
	case FlavorInstant:
		d.instant.synchronize(h)
	case FlavorBuffered:
		d.buffered.synchronize(h)
	case FlavorThreaded:
		d.threaded.synchronizeNow(h)
	}
	return nil
}

// Close stops the Threaded flavor's background reclaimer and drains any
// remaining batches synchronously. A no-op for Instant and Buffered.
func (d *Domain) Close() {
	if d.flavor == FlavorThreaded {
		d.threaded.close()
	}
}

package rcu

import (
	"testing"
	"time"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstantRetireReclaimsAfterQuiescence(t *testing.T) {
	d := NewDomain(FlavorInstant)
	h := d.Attach()
	reader := d.Attach()
	defer d.Detach(h)
	defer d.Detach(reader)

	var x int
	done := make(chan struct{})
	var reclaimed bool
	go func() {
		d.Retire(h, unsafe.Pointer(&x), func(unsafe.Pointer) { reclaimed = true })
		close(done)
	}()

	// Instant blocks until readers quiesce; hold the read lock briefly
	// then release it so Retire can proceed.
	d.ReadLock(reader)
	time.Sleep(2 * time.Millisecond)
	assert.False(t, reclaimed)
	d.ReadUnlock(reader)

	<-done
	assert.True(t, reclaimed)
}

func TestBufferedFlushReclaimsOnceQuiescent(t *testing.T) {
	d := NewDomain(FlavorBuffered, WithBufferLimit(4))
	h := d.Attach()
	defer d.Detach(h)

	var reclaimed int
	for i := 0; i < 4; i++ {
		x := new(int)
		d.Retire(h, unsafe.Pointer(x), func(unsafe.Pointer) { reclaimed++ })
	}
	// Hitting the buffer limit implicitly flushes the session.
	require.Eventually(t, func() bool { return reclaimed == 4 }, time.Second, time.Millisecond)
}

func TestBufferedSynchronizeFlushesPartialSession(t *testing.T) {
	d := NewDomain(FlavorBuffered, WithBufferLimit(1000))
	h := d.Attach()
	defer d.Detach(h)

	var reclaimed bool
	var x int
	d.Retire(h, unsafe.Pointer(&x), func(unsafe.Pointer) { reclaimed = true })
	assert.False(t, reclaimed, "a single retire under a large limit must not flush on its own")

	err := d.Synchronize(h)
	require.NoError(t, err)
	assert.True(t, reclaimed)
}

func TestSynchronizeDeadlockPolicies(t *testing.T) {
	dThrow := NewDomain(FlavorBuffered, WithDeadlockPolicy(Throw))
	h := dThrow.Attach()
	defer dThrow.Detach(h)
	dThrow.ReadLock(h)
	err := dThrow.Synchronize(h)
	assert.ErrorIs(t, err, ErrDeadlock)
	dThrow.ReadUnlock(h)

	dFatal := NewDomain(FlavorBuffered, WithDeadlockPolicy(Fatal))
	h2 := dFatal.Attach()
	defer dFatal.Detach(h2)
	dFatal.ReadLock(h2)
	assert.Panics(t, func() { dFatal.Synchronize(h2) })
	dFatal.ReadUnlock(h2)
}

func TestThreadedReclaimsInBackground(t *testing.T) {
	d := NewDomain(FlavorThreaded, WithBufferLimit(1000))
	h := d.Attach()
	defer d.Detach(h)
	defer d.Close()

	var reclaimed bool
	var x int
	d.Retire(h, unsafe.Pointer(&x), func(unsafe.Pointer) { reclaimed = true })
	require.Eventually(t, func() bool { return reclaimed }, time.Second, time.Millisecond,
		"the background reclaimer goroutine must flush without an explicit Synchronize")
}

func TestThreadedCloseDrainsRemaining(t *testing.T) {
	d := NewDomain(FlavorThreaded, WithBufferLimit(1000))
	h := d.Attach()

	var reclaimed bool
	var x int
	d.Retire(h, unsafe.Pointer(&x), func(unsafe.Pointer) { reclaimed = true })
	d.Detach(h)
	d.Close()
	assert.True(t, reclaimed, "Close must flush whatever was still queued")
}

func TestUnknownFlavorPanics(t *testing.T) {
	assert.Panics(t, func() { NewDomain(Flavor(99)) })
}

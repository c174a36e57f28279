package hp

import (
	"unsafe"

	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanReclaimsUnprotected(t *testing.T) {
	d := NewDomain()
	h := d.Attach()
	defer d.Detach(h)

	var x int
	var reclaimed bool
	d.Retire(h, unsafe.Pointer(&x), func(unsafe.Pointer) { reclaimed = true })
	d.Scan(h)
	assert.True(t, reclaimed)
	assert.Zero(t, h.PendingCount())
}

func TestScanSparesProtected(t *testing.T) {
	d := NewDomain()
	h := d.Attach()
	reader := d.Attach()
	defer d.Detach(h)
	defer d.Detach(reader)

	var x int
	g := Protect(reader, 0, unsafe.Pointer(&x))

	var reclaimed bool
	d.Retire(h, unsafe.Pointer(&x), func(unsafe.Pointer) { reclaimed = true })
	d.Scan(h)
	assert.False(t, reclaimed, "a protected address must survive a scan")
	assert.Equal(t, 1, h.PendingCount())

	g.Release()
	d.Scan(h)
	assert.True(t, reclaimed)
}

func TestRetireTriggersScanAtThreshold(t *testing.T) {
	d := NewDomain()
	h := d.Attach()
	defer d.Detach(h)

	var n int
	for i := 0; i < ScanThreshold; i++ {
		x := new(int)
		d.Retire(h, unsafe.Pointer(x), func(unsafe.Pointer) { n++ })
	}
	// The scan triggered by the threshold-th Retire must have reclaimed
	// every one of them, since nothing protects them.
	assert.Equal(t, ScanThreshold, n)
	assert.Zero(t, h.PendingCount())
}

func TestDrainHoldoverReclaimsDetachedRetires(t *testing.T) {
	d := NewDomain()
	producer := d.Attach()

	var x int
	var reclaimed bool
	producer.Retire(unsafe.Pointer(&x), func(unsafe.Pointer) { reclaimed = true })
	d.Detach(producer) // carries the pending retire into the registry holdover

	consumer := d.Attach()
	defer d.Detach(consumer)
	d.DrainHoldover(consumer)
	assert.True(t, reclaimed)
}

func TestDrainHoldoverRequeuesStillProtected(t *testing.T) {
	d := NewDomain()
	producer := d.Attach()
	reader := d.Attach()
	defer d.Detach(reader)

	var x int
	g := Protect(reader, 0, unsafe.Pointer(&x))

	var reclaimed bool
	producer.Retire(unsafe.Pointer(&x), func(unsafe.Pointer) { reclaimed = true })
	d.Detach(producer)

	consumer := d.Attach()
	defer d.Detach(consumer)
	d.DrainHoldover(consumer)
	assert.False(t, reclaimed, "still-protected holdover entries must not be reclaimed")
	require.Equal(t, 1, consumer.PendingCount())

	g.Release()
	d.Scan(consumer)
	assert.True(t, reclaimed)
}

func TestRegistryAccessor(t *testing.T) {
	d := NewDomain()
	require.NotNil(t, d.Registry())
	h := d.Attach()
	defer d.Detach(h)
	assert.Equal(t, 1, d.Registry().Count())
}

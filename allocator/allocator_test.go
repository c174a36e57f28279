package allocator

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPooledAllocatorRoundTrip(t *testing.T) {
	a := NewPooled()
	p := a.Alloc(48)
	require.NotNil(t, p)

	b := (*byte)(p)
	*b = 0xAB // writable, within the rounded-up 64-byte class

	a.Free(p, 48)
	stats := a.Stats()
	assert.EqualValues(t, 1, stats.Allocs)
	assert.EqualValues(t, 1, stats.Frees)
	assert.Zero(t, stats.LiveBytes)
}

func TestPooledAllocatorRecyclesBuffer(t *testing.T) {
	a := NewPooled()
	p1 := a.Alloc(32)
	a.Free(p1, 32)
	p2 := a.Alloc(32)
	assert.Equal(t, p1, p2, "Free must return the exact buffer to its pool for Alloc to reuse")
}

func TestPooledAllocatorOversizedFallsThrough(t *testing.T) {
	a := NewPooled()
	p := a.Alloc(1 << 20)
	require.NotNil(t, p)
	a.Free(p, 1<<20) // no panic, no pool bookkeeping
	stats := a.Stats()
	assert.EqualValues(t, 1, stats.Allocs)
	assert.EqualValues(t, 1, stats.Frees)
}

func TestClassFor(t *testing.T) {
	c, ok := classFor(10)
	assert.True(t, ok)
	assert.Equal(t, 32, c)

	c, ok = classFor(4096)
	assert.True(t, ok)
	assert.Equal(t, 4096, c)

	_, ok = classFor(5000)
	assert.False(t, ok)
}

func TestStatsStringAndJSON(t *testing.T) {
	s := Stats{Allocs: 2, Frees: 1, LiveBytes: 64, SizeClasses: 7}
	assert.Contains(t, s.String(), "Mallocs = 2")
	assert.Contains(t, s.JSON(), `"allocs":2`)
}

func TestAllocatorIsUnsafePointerCompatible(t *testing.T) {
	var a Allocator = NewPooled()
	p := a.Alloc(16)
	assert.NotEqual(t, unsafe.Pointer(nil), p)
	a.Free(p, 16)
}

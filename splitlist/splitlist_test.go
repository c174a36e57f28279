package splitlist

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchbase/lockfree/hp"
	"github.com/couchbase/lockfree/internal/smr"
)

func intHash(k int) uint64 { return uint64(k) }

func newTestSplitList(t *testing.T, initialCap, loadFactor uint64) *SplitList[int, int] {
	t.Helper()
	var cfg Config[int, int]
	cfg.Hasher = intHash
	cfg.List.Domain = smr.NewHP(hp.NewDomain())
	cfg.InitialCap = initialCap
	cfg.LoadFactor = loadFactor
	cfg.ItemCounter = "atomic"
	return New(cfg)
}

func TestSplitListInsertFindErase(t *testing.T) {
	sl := newTestSplitList(t, 16, 4)
	h := sl.Attach()
	defer sl.Detach(h)

	assert.True(t, sl.Insert(h, 7, 70))
	assert.False(t, sl.Insert(h, 7, 99))
	assert.True(t, sl.Contains(h, 7))

	var got int
	require.True(t, sl.Find(h, 7, func(k, v int) { got = v }))
	assert.Equal(t, 70, got)

	assert.True(t, sl.Erase(h, 7))
	assert.False(t, sl.Contains(h, 7))
}

func TestSplitListBitReversalIsSelfInverse(t *testing.T) {
	for _, x := range []uint64{0, 1, 2, 0xdeadbeef, ^uint64(0)} {
		assert.Equal(t, x, reverseBits64(reverseBits64(x)))
	}
}

func TestSplitListSizeTracksRealItemsOnly(t *testing.T) {
	sl := newTestSplitList(t, 4, 1000) // large load factor: no growth during this test
	h := sl.Attach()
	defer sl.Detach(h)

	for i := 0; i < 20; i++ {
		sl.Insert(h, i, i)
	}
	assert.EqualValues(t, 20, sl.Size())

	seen := map[int]bool{}
	sl.ForEach(h, func(k, v int) bool {
		seen[k] = true
		return true
	})
	assert.Len(t, seen, 20, "ForEach must skip dummy bucket nodes")
}

func TestSplitListGrowsPastLoadFactor(t *testing.T) {
	sl := newTestSplitList(t, 4, 2) // doubles once live count exceeds cap*loadFactor
	h := sl.Attach()
	defer sl.Detach(h)

	for i := 0; i < 20; i++ {
		sl.Insert(h, i, i)
	}
	assert.Greater(t, sl.GrowEvents(), int64(0))
	assert.Greater(t, sl.currentCapacity(), uint64(4))

	// All items remain findable across a capacity change.
	for i := 0; i < 20; i++ {
		assert.True(t, sl.Contains(h, i))
	}
}

func TestSplitListClearKeepsDummiesRemovesReal(t *testing.T) {
	sl := newTestSplitList(t, 8, 1000)
	h := sl.Attach()
	defer sl.Detach(h)

	for i := 0; i < 10; i++ {
		sl.Insert(h, i, i)
	}
	sl.Clear(h)
	assert.Zero(t, sl.Size())
	for i := 0; i < 10; i++ {
		assert.False(t, sl.Contains(h, i))
	}
}

package skiplist

import (
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchbase/lockfree/hp"
	"github.com/couchbase/lockfree/internal/smr"
)

func intCmp(a, b int) int { return a - b }

func newTestSkiplist(t *testing.T, disposer Disposer[int, int]) (*Skiplist[int, int], *hp.Domain) {
	t.Helper()
	hd := hp.NewDomain()
	skl := New(Config[int, int]{
		Comparator:  intCmp,
		Domain:      smr.NewHP(hd),
		Disposer:    disposer,
		MaxHeight:   8,
		ItemCounter: "atomic",
	})
	return skl, hd
}

func TestSkiplistInsertFindErase(t *testing.T) {
	skl, _ := newTestSkiplist(t, nil)
	h := skl.Attach()
	defer skl.Detach(h)

	assert.True(t, skl.Insert(h, 10, 100))
	assert.False(t, skl.Insert(h, 10, 999))
	assert.True(t, skl.Contains(h, 10))

	var got int
	require.True(t, skl.Find(h, 10, func(k, v int) { got = v }))
	assert.Equal(t, 100, got)

	assert.True(t, skl.Erase(h, 10))
	assert.False(t, skl.Erase(h, 10))
	assert.False(t, skl.Contains(h, 10))
}

func TestSkiplistOrderingAcrossManyLevels(t *testing.T) {
	skl, _ := newTestSkiplist(t, nil)
	h := skl.Attach()
	defer skl.Detach(h)

	const n = 300
	keys := make([]int, n)
	for i := range keys {
		keys[i] = (i * 7919) % n
	}
	for _, k := range keys {
		skl.Insert(h, k, k)
	}
	assert.EqualValues(t, n, skl.Size())

	var seen []int
	skl.ForEach(h, func(k, v int) bool {
		seen = append(seen, k)
		return true
	})
	want := make([]int, n)
	for i := range want {
		want[i] = i
	}
	sort.Ints(seen)
	assert.Equal(t, want, seen)
}

func TestSkiplistExtractMinMax(t *testing.T) {
	skl, _ := newTestSkiplist(t, nil)
	h := skl.Attach()
	defer skl.Detach(h)

	for _, k := range []int{5, 1, 9, 3, 7} {
		skl.Insert(h, k, k*10)
	}

	min, ok := skl.ExtractMin(h)
	require.True(t, ok)
	assert.Equal(t, 1, min.Key())
	assert.Equal(t, 10, min.Value())
	min.Release()
	assert.False(t, skl.Contains(h, 1))

	max, ok := skl.ExtractMax(h)
	require.True(t, ok)
	assert.Equal(t, 9, max.Key())
	max.Release()
	assert.False(t, skl.Contains(h, 9))

	assert.EqualValues(t, 3, skl.Size())
}

func TestSkiplistExtractReleaseIsIdempotent(t *testing.T) {
	var disposals int
	var mu sync.Mutex
	skl, hd := newTestSkiplist(t, func(k, v int) {
		mu.Lock()
		disposals++
		mu.Unlock()
	})
	h := skl.Attach()
	defer skl.Detach(h)

	skl.Insert(h, 1, 1)
	e, ok := skl.ExtractMin(h)
	require.True(t, ok)
	e.Release()
	e.Release() // must not double-dispose
	hd.Scan(h)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, disposals)
}

func TestSkiplistClear(t *testing.T) {
	skl, _ := newTestSkiplist(t, nil)
	h := skl.Attach()
	defer skl.Detach(h)
	for i := 0; i < 50; i++ {
		skl.Insert(h, i, i)
	}
	skl.Clear(h)
	assert.True(t, skl.Empty())
	for i := 0; i < 50; i++ {
		assert.False(t, skl.Contains(h, i))
	}
}

func TestSkiplistConcurrentInsertErase(t *testing.T) {
	skl, _ := newTestSkiplist(t, nil)
	const n = 400

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			h := skl.Attach()
			defer skl.Detach(h)
			for i := w; i < n; i += 8 {
				skl.Insert(h, i, i)
			}
		}(w)
	}
	wg.Wait()

	h := skl.Attach()
	defer skl.Detach(h)
	for i := 0; i < n; i++ {
		assert.True(t, skl.Contains(h, i))
	}

	var wg2 sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg2.Add(1)
		go func(w int) {
			defer wg2.Done()
			hh := skl.Attach()
			defer skl.Detach(hh)
			for i := w; i < n; i += 8 {
				skl.Erase(hh, i)
			}
		}(w)
	}
	wg2.Wait()
	assert.True(t, skl.Empty())
}

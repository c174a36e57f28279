package list

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

func newTestList(t *testing.T, disposer Disposer[int, int]) (*List[int, int], *hp.Domain) {
	t.Helper()
	hd := hp.NewDomain()
	l := New(Config[int, int]{
		Comparator: intCmp,
		Domain:     smr.NewHP(hd),
		Disposer:   disposer,
	})
	return l, hd
}

func TestListInsertFindErase(t *testing.T) {
	l, _ := newTestList(t, nil)
	h := l.Attach()
	defer l.Detach(h)

	assert.True(t, l.Insert(h, 5, 50))
	assert.False(t, l.Insert(h, 5, 999), "duplicate insert must fail")
	assert.True(t, l.Contains(h, 5))
	assert.False(t, l.Contains(h, 6))

	var got int
	found := l.Find(h, 5, func(k, v int) { got = v })
	require.True(t, found)
	assert.Equal(t, 50, got)

	assert.True(t, l.Erase(h, 5))
	assert.False(t, l.Erase(h, 5), "double erase must fail")
	assert.False(t, l.Contains(h, 5))
}

func TestListOrdering(t *testing.T) {
	cfg := Config[int, int]{Comparator: intCmp, Domain: smr.NewHP(hp.NewDomain())}
	cfg.ItemCounter = "atomic"
	l := New(cfg)
	h := l.Attach()
	defer l.Detach(h)

	keys := []int{5, 1, 9, 3, 7, 2}
	for _, k := range keys {
		l.Insert(h, k, k*10)
	}
	assert.EqualValues(t, len(keys), l.Size())

	var seen []int
	l.ForEach(h, func(k, v int) bool {
		seen = append(seen, k)
		return true
	})
	sorted := append([]int(nil), keys...)
	sort.Ints(sorted)
	assert.Equal(t, sorted, seen)
}

func TestListForEachEarlyStop(t *testing.T) {
	l, _ := newTestList(t, nil)
	h := l.Attach()
	defer l.Detach(h)
	for i := 0; i < 5; i++ {
		l.Insert(h, i, i)
	}
	var seen []int
	l.ForEach(h, func(k, v int) bool {
		seen = append(seen, k)
		return len(seen) < 2
	})
	assert.Len(t, seen, 2)
}

func TestListUpdate(t *testing.T) {
	l, _ := newTestList(t, nil)
	h := l.Attach()
	defer l.Detach(h)

	ok, inserted := l.Update(h, 1, 100, nil, true)
	assert.True(t, ok)
	assert.True(t, inserted)

	ok, inserted = l.Update(h, 1, 5, func(isNew bool, stored, input int) int {
		assert.False(t, isNew)
		return stored + input
	}, true)
	assert.True(t, ok)
	assert.False(t, inserted)

	var got int
	l.Find(h, 1, func(k, v int) { got = v })
	assert.Equal(t, 105, got)

	ok, inserted = l.Update(h, 2, 1, nil, false)
	assert.False(t, ok)
	assert.False(t, inserted)
}

func TestListClear(t *testing.T) {
	l, _ := newTestList(t, nil)
	h := l.Attach()
	defer l.Detach(h)
	for i := 0; i < 10; i++ {
		l.Insert(h, i, i)
	}
	l.Clear(h)
	for i := 0; i < 10; i++ {
		assert.False(t, l.Contains(h, i))
	}
}

func TestListDisposerFiresOnceAfterScan(t *testing.T) {
	var mu sync.Mutex
	disposed := map[int]int{}
	l, hd := newTestList(t, func(k, v int) {
		mu.Lock()
		disposed[k]++
		mu.Unlock()
	})
	h := l.Attach()
	defer l.Detach(h)

	l.Insert(h, 1, 1)
	l.Erase(h, 1)
	hd.Scan(h)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, disposed[1], "disposer must run exactly once")
}

func TestListConcurrentInsertErase(t *testing.T) {
	l, _ := newTestList(t, nil)

	const n = 500
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			h := l.Attach()
			defer l.Detach(h)
			for i := w; i < n; i += 8 {
				l.Insert(h, i, i)
			}
		}(w)
	}
	wg.Wait()

	h := l.Attach()
	defer l.Detach(h)
	for i := 0; i < n; i++ {
		assert.True(t, l.Contains(h, i))
	}
}

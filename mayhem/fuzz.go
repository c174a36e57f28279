// Package fuzz drives this module's containers from an untrusted byte
// stream, in the style of Mayhem-class coverage fuzzers: each input byte
// selects an operation and its argument. After the stream is replayed the
// item count is checked (the list's tally of successful inserts minus
// erases, the split-list's Size) and a negative count panics rather than
// returning an error, so the fuzzer's crash detector catches it; a panic
// inside any container operation is caught the same way.
package fuzz

import (
	"github.com/couchbase/lockfree/hp"
	"github.com/couchbase/lockfree/internal/smr"
	"github.com/couchbase/lockfree/list"
	"github.com/couchbase/lockfree/splitlist"
)

func intCmp(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// mayhemit replays data as a sequence of Insert/Erase/Contains/Find
// calls against a single list.List, keyed by each byte mod 32 so a
// short input still produces key collisions worth exercising.
func mayhemit(data []byte) int {
	if len(data) < 2 {
		return 0
	}

	dom := smr.NewHP(hp.NewDomain())
	l := list.New(list.Config[int, int]{
		Comparator: intCmp,
		Domain:     dom,
	})
	h := l.Attach()
	defer l.Detach(h)

	var inserted int
	for i := 0; i+1 < len(data); i += 2 {
		op := data[i] % 4
		key := int(data[i+1] % 32)
		switch op {
		case 0:
			if l.Insert(h, key, key) {
				inserted++
			}
		case 1:
			if l.Erase(h, key) {
				inserted--
			}
		case 2:
			l.Contains(h, key)
		case 3:
			l.Find(h, key, func(int, int) {})
		}
	}

	if inserted < 0 {
		panic("fuzz: list item counter went negative")
	}
	return 0
}

// mayhemitSplitList exercises splitlist's bit-reversed bucket placement
// and lazy capacity growth under an adversarial key stream.
func mayhemitSplitList(data []byte) int {
	if len(data) < 2 {
		return 0
	}

	dom := smr.NewHP(hp.NewDomain())
	var cfg splitlist.Config[int, int]
	cfg.Hasher = func(k int) uint64 { return uint64(k) }
	cfg.List.Domain = dom
	sl := splitlist.New(cfg)
	h := sl.Attach()
	defer sl.Detach(h)

	for i := 0; i+1 < len(data); i += 2 {
		op := data[i] % 3
		key := int(data[i+1])
		switch op {
		case 0:
			sl.Insert(h, key, key)
		case 1:
			sl.Erase(h, key)
		case 2:
			sl.Contains(h, key)
		}
	}

	if sl.Size() < 0 {
		panic("fuzz: splitlist item count went negative")
	}
	return 0
}

// Fuzz is the go-fuzz/Mayhem entry point: the first byte dispatches to
// the container under test, the remainder drives its operation stream.
func Fuzz(data []byte) int {
	if len(data) == 0 {
		return 0
	}
	if data[0]%2 == 0 {
		return mayhemit(data[1:])
	}
	return mayhemitSplitList(data[1:])
}

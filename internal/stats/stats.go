// Package stats implements the pluggable `item_counter` and `stat` trait
// entries from spec.md §6: a counter that either costs nothing (returns 0
// unconditionally) or tracks real atomic counts, and a small set of
// atomic operation counters container shells (§4.I) update on every call.
package stats

import "sync/atomic"

// ItemCounter tracks the live item count of a container.
type ItemCounter interface {
	Inc()
	Dec()
	Reset()
	Value() int64
}

// NoopCounter always reports 0 — the `none` policy.
type NoopCounter struct{}

func (NoopCounter) Inc()        {}
func (NoopCounter) Dec()        {}
func (NoopCounter) Reset()      {}
func (NoopCounter) Value() int64 { return 0 }

// AtomicCounter is the `atomic` policy: a single atomic int64.
type AtomicCounter struct {
	n int64
}

func (c *AtomicCounter) Inc()         { atomic.AddInt64(&c.n, 1) }
func (c *AtomicCounter) Dec()         { atomic.AddInt64(&c.n, -1) }
func (c *AtomicCounter) Reset()       { atomic.StoreInt64(&c.n, 0) }
func (c *AtomicCounter) Value() int64 { return atomic.LoadInt64(&c.n) }

// NewItemCounter returns a NoopCounter or AtomicCounter per policy name.
func NewItemCounter(kind string) ItemCounter {
	switch kind {
	case "", "none":
		return NoopCounter{}
	case "atomic":
		return &AtomicCounter{}
	default:
		panic("stats: unknown item_counter policy " + kind)
	}
}

// Stat is the per-instance operation-counter bundle container shells
// (spec.md §4.I) update after every call when a `stat` policy of
// "atomic-counters" is configured; it is a no-op struct otherwise.
type Stat struct {
	enabled bool

	Inserts     int64
	InsertFails int64
	Erases      int64
	EraseFails  int64
	Finds       int64
	FindFails   int64
	Extracts    int64
	CASFails    int64 // contended CAS retries across all operations
	Helped      int64 // helping-another-thread's-operation events (BST, skip-list)
}

// NewStat returns a Stat instance; enabled selects whether its counters
// are actually incremented ("atomic-counters") or left permanently zero
// ("none").
func NewStat(enabled bool) *Stat {
	return &Stat{enabled: enabled}
}

func (s *Stat) onInsert(ok bool) {
	if !s.enabled {
		return
	}
	if ok {
		atomic.AddInt64(&s.Inserts, 1)
	} else {
		atomic.AddInt64(&s.InsertFails, 1)
	}
}

func (s *Stat) onErase(ok bool) {
	if !s.enabled {
		return
	}
	if ok {
		atomic.AddInt64(&s.Erases, 1)
	} else {
		atomic.AddInt64(&s.EraseFails, 1)
	}
}

func (s *Stat) onFind(ok bool) {
	if !s.enabled {
		return
	}
	if ok {
		atomic.AddInt64(&s.Finds, 1)
	} else {
		atomic.AddInt64(&s.FindFails, 1)
	}
}

func (s *Stat) onExtract() {
	if !s.enabled {
		return
	}
	atomic.AddInt64(&s.Extracts, 1)
}

func (s *Stat) onCASFail() {
	if !s.enabled {
		return
	}
	atomic.AddInt64(&s.CASFails, 1)
}

func (s *Stat) onHelped() {
	if !s.enabled {
		return
	}
	atomic.AddInt64(&s.Helped, 1)
}

// OnInsert, OnErase, OnFind, OnExtract, OnCASFail and OnHelped are the
// exported hooks container shells call; a nil *Stat is valid and treated
// as fully disabled, so containers constructed without an explicit Stat
// need no nil-check at call sites.
func (s *Stat) OnInsert(ok bool) {
	if s == nil {
		return
	}
	s.onInsert(ok)
}

func (s *Stat) OnErase(ok bool) {
	if s == nil {
		return
	}
	s.onErase(ok)
}

func (s *Stat) OnFind(ok bool) {
	if s == nil {
		return
	}
	s.onFind(ok)
}

func (s *Stat) OnExtract() {
	if s == nil {
		return
	}
	s.onExtract()
}

func (s *Stat) OnCASFail() {
	if s == nil {
		return
	}
	s.onCASFail()
}

func (s *Stat) OnHelped() {
	if s == nil {
		return
	}
	s.onHelped()
}

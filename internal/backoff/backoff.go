// Package backoff implements the pluggable contention-backoff strategies
// named in spec.md §6 (`backoff` trait entry): empty, yield, pause and
// exponential. These are the sole mechanism controlling CAS-retry latency
// under contention (spec.md §5) — containers never sleep or block on
// their own account.
package backoff

import "runtime"

// Strategy is implemented by every backoff policy. Reset is called when a
// fresh operation begins a new retry loop; Wait is called once per failed
// CAS attempt.
type Strategy interface {
	Reset()
	Wait()
}

// Empty never yields or sleeps — a pure busy-spin. Useful for
// microbenchmarks and for platforms where yielding is itself expensive.
type Empty struct{}

func (Empty) Reset() {}
func (Empty) Wait()  {}

// Yield calls runtime.Gosched on every attempt, handing the P to another
// goroutine without parking the OS thread.
type Yield struct{}

func (Yield) Reset() {}
func (Yield) Wait()  { runtime.Gosched() }

// Pause calls runtime.Gosched a fixed number of times (spins) per Wait,
// approximating the PAUSE/YIELD instruction pattern used by the original
// C++ backoff::pause.
type Pause struct {
	spins int
}

func NewPause(spins int) *Pause {
	if spins <= 0 {
		spins = 16
	}
	return &Pause{spins: spins}
}

func (p *Pause) Reset() {}

func (p *Pause) Wait() {
	for i := 0; i < p.spins; i++ {
		runtime.Gosched()
	}
}

// Exponential doubles its spin count on every failed attempt up to a cap,
// and resets to the floor when a new operation starts — the strategy
// recommended by spec.md §5 for controlling contention latency on the
// Ellen BST's busy-wait helping loop (§4.H) and any CAS retry loop.
type Exponential struct {
	floor, ceil int
	cur         int
}

func NewExponential(floor, ceil int) *Exponential {
	if floor <= 0 {
		floor = 1
	}
	if ceil < floor {
		ceil = floor * 1024
	}
	return &Exponential{floor: floor, ceil: ceil, cur: floor}
}

func (e *Exponential) Reset() { e.cur = e.floor }

func (e *Exponential) Wait() {
	for i := 0; i < e.cur; i++ {
		runtime.Gosched()
	}
	e.cur *= 2
	if e.cur > e.ceil {
		e.cur = e.ceil
	}
}

// New returns a fresh Strategy of the named kind: "empty", "yield",
// "pause" or "exponential". It panics on an unrecognized name since this
// is a construction-time configuration error, not a runtime condition.
func New(kind string) Strategy {
	switch kind {
	case "", "empty":
		return Empty{}
	case "yield":
		return Yield{}
	case "pause":
		return NewPause(16)
	case "exponential":
		return NewExponential(1, 1024)
	default:
		panic("backoff: unknown strategy " + kind)
	}
}

package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestItemCounterPolicies(t *testing.T) {
	noop := NewItemCounter("none")
	noop.Inc()
	noop.Inc()
	assert.Zero(t, noop.Value())

	atomicC := NewItemCounter("atomic")
	atomicC.Inc()
	atomicC.Inc()
	atomicC.Dec()
	assert.EqualValues(t, 1, atomicC.Value())
	atomicC.Reset()
	assert.Zero(t, atomicC.Value())
}

func TestItemCounterUnknownPolicyPanics(t *testing.T) {
	assert.Panics(t, func() { NewItemCounter("bogus") })
}

func TestStatDisabledStaysZero(t *testing.T) {
	s := NewStat(false)
	s.OnInsert(true)
	s.OnErase(false)
	s.OnFind(true)
	s.OnExtract()
	s.OnCASFail()
	s.OnHelped()
	assert.Zero(t, s.Inserts)
	assert.Zero(t, s.EraseFails)
}

func TestStatEnabledCounts(t *testing.T) {
	s := NewStat(true)
	s.OnInsert(true)
	s.OnInsert(false)
	s.OnErase(true)
	s.OnFind(false)
	s.OnExtract()
	s.OnCASFail()
	s.OnHelped()

	assert.EqualValues(t, 1, s.Inserts)
	assert.EqualValues(t, 1, s.InsertFails)
	assert.EqualValues(t, 1, s.Erases)
	assert.EqualValues(t, 1, s.FindFails)
	assert.EqualValues(t, 1, s.Extracts)
	assert.EqualValues(t, 1, s.CASFails)
	assert.EqualValues(t, 1, s.Helped)
}

func TestNilStatIsSafe(t *testing.T) {
	var s *Stat
	assert.NotPanics(t, func() {
		s.OnInsert(true)
		s.OnErase(true)
		s.OnFind(true)
		s.OnExtract()
		s.OnCASFail()
		s.OnHelped()
	})
}

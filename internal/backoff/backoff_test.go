package backoff

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewKnownKinds(t *testing.T) {
	for _, kind := range []string{"", "empty", "yield", "pause", "exponential"} {
		s := New(kind)
		require.NotNil(t, s)
		s.Reset()
		s.Wait() // must not block or panic
	}
}

func TestNewUnknownKindPanics(t *testing.T) {
	assert.Panics(t, func() { New("nonsense") })
}

func TestExponentialGrowsAndCaps(t *testing.T) {
	e := NewExponential(1, 8)
	assert.Equal(t, 1, e.cur)
	e.Wait()
	assert.Equal(t, 2, e.cur)
	e.Wait()
	assert.Equal(t, 4, e.cur)
	e.Wait()
	assert.Equal(t, 8, e.cur)
	e.Wait()
	assert.Equal(t, 8, e.cur, "cur must not exceed ceil")
	e.Reset()
	assert.Equal(t, 1, e.cur)
}

func TestExponentialDefaults(t *testing.T) {
	e := NewExponential(0, 0)
	assert.Equal(t, 1, e.floor)
	assert.Equal(t, 1024, e.ceil)
}

func TestPauseDefaultsSpins(t *testing.T) {
	p := NewPause(0)
	assert.Equal(t, 16, p.spins)
	p.Reset()
	p.Wait()
}

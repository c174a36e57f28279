package stress

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchbase/lockfree/hp"
	"github.com/couchbase/lockfree/internal/smr"
	"github.com/couchbase/lockfree/registry"
)

func TestRunSeedEraseInsertConvergesToEvenOnly(t *testing.T) {
	dom := smr.NewHP(hp.NewDomain())
	set := ListIntSet(dom, nil)

	res, err := RunSeedEraseInsert(context.Background(), set, SeedEraseInsertConfig{
		Workers:  4,
		Keyspace: 256,
	})
	require.NoError(t, err)
	assert.True(t, res.OK(), "expected every even key present and every odd key absent; missing=%v survived=%v", res.EvenMissing, res.OddSurvived)
}

func TestRunSeedEraseInsertRespectsSemaphoreBound(t *testing.T) {
	dom := smr.NewHP(hp.NewDomain())
	set := ListIntSet(dom, nil)

	res, err := RunSeedEraseInsert(context.Background(), set, SeedEraseInsertConfig{
		Workers:       6,
		Keyspace:      128,
		MaxConcurrent: 2,
	})
	require.NoError(t, err)
	assert.True(t, res.OK())
}

func TestRunReclamationInvokesDisposerForEveryKey(t *testing.T) {
	var mu sync.Mutex
	disposed := 0
	hpd := hp.NewDomain()
	set := ListIntSet(smr.NewHP(hpd), func() {
		mu.Lock()
		disposed++
		mu.Unlock()
	})

	drain := func(h *registry.Handle) { hpd.Scan(h) }
	RunReclamation(set, ReclamationConfig{M: 50, DrainPasses: 3}, nil, drain)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 50, disposed, "every inserted-then-erased key must eventually be disposed")
}

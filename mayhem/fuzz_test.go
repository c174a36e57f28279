package fuzz

import (
	"math/rand"
	"testing"
)

// TestFuzzSeedCorpusDoesNotPanic replays a handful of deterministic
// inputs through Fuzz, the same invariant-checking entry point a
// coverage fuzzer drives, so a regression that makes an operation panic
// or drives an item count negative is caught by `go test` too.
func TestFuzzSeedCorpusDoesNotPanic(t *testing.T) {
	seeds := [][]byte{
		nil,
		{0},
		{1},
		{0, 0, 1},
		{1, 0, 1},
	}
	for _, s := range seeds {
		Fuzz(s)
	}
}

func TestFuzzRandomInputsDoNotPanic(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	buf := make([]byte, 256)
	for i := 0; i < 200; i++ {
		r.Read(buf)
		Fuzz(buf)
	}
}

func TestMayhemitDirect(t *testing.T) {
	mayhemit([]byte{0, 5, 1, 5, 2, 5})
}

func TestMayhemitSplitListDirect(t *testing.T) {
	mayhemitSplitList([]byte{0, 5, 1, 5, 2, 5})
}

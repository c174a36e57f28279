// Command lfbench drives every container family in this module (the
// ordered list, the split-ordered set, the skip-list and the Ellen BST)
// under a configurable number of goroutines running a mixed
// insert/erase/contains workload, then reports throughput and disposer
// invocation counts — spec.md §8's scenario 6 ("reclamation accounting")
// made runnable as a standalone benchmark.
//
// Configuration follows johnjansen-torua/cmd/node/main.go's flag+env
// idiom: every flag has a matching LFBENCH_* environment variable read
// as the default, so the binary is equally at home invoked by hand or
// wired into a container orchestrator.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/couchbase/lockfree/ellentree"
	"github.com/couchbase/lockfree/hp"
	"github.com/couchbase/lockfree/internal/smr"
	"github.com/couchbase/lockfree/rcu"
	"github.com/couchbase/lockfree/registry"
	"github.com/couchbase/lockfree/skiplist"
	"github.com/couchbase/lockfree/splitlist"
	"github.com/couchbase/lockfree/stress"
)

// logFatal is indirected so tests can override it instead of exiting
// the test binary.
var logFatal = func(msg string, args ...any) {
	slog.Error(msg, args...)
	os.Exit(1)
}

func getenv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		logFatal("invalid integer environment variable", "key", key, "value", v)
	}
	return n
}

func main() {
	container := flag.String("container", getenv("LFBENCH_CONTAINER", "list"), "container under test: list, splitlist, skiplist, ellentree")
	workers := flag.Int("workers", getenvInt("LFBENCH_WORKERS", 8), "number of concurrent goroutines")
	keyspace := flag.Int("keyspace", getenvInt("LFBENCH_KEYSPACE", 1<<16), "key range [0, keyspace)")
	maxConcurrent := flag.Int64("max-concurrent", int64(getenvInt("LFBENCH_MAX_CONCURRENT", 0)), "semaphore bound on concurrent workers; 0 disables bounding")
	ops := flag.Int("ops", getenvInt("LFBENCH_OPS", 200000), "reclamation scenario: number of insert/erase pairs per worker")
	smrKind := flag.String("smr", getenv("LFBENCH_SMR", "hp"), "reclamation scheme: hp, rcu-instant, rcu-buffered, rcu-threaded")
	flag.Parse()

	slog.Info("lfbench starting", "container", *container, "workers", *workers, "keyspace", *keyspace, "smr", *smrKind)

	var disposed int64
	disposer := func() { atomic.AddInt64(&disposed, 1) }

	set, closeDom, err := buildSet(*container, *smrKind, disposer)
	if err != nil {
		logFatal("failed to build container", "error", err)
	}
	defer closeDom()

	ctx := context.Background()
	start := time.Now()
	res, err := stress.RunSeedEraseInsert(ctx, set, stress.SeedEraseInsertConfig{
		Workers:       *workers,
		Keyspace:      *keyspace,
		MaxConcurrent: *maxConcurrent,
	})
	elapsed := time.Since(start)
	if err != nil {
		logFatal("seed/erase/insert run failed", "error", err)
	}

	totalOps := int64(*keyspace) + int64(*workers)*int64(*keyspace/2)
	slog.Info("seed/erase/insert complete",
		"elapsed", elapsed,
		"ops_per_sec", float64(totalOps)/elapsed.Seconds(),
		"correct", res.OK(),
		"even_missing", len(res.EvenMissing),
		"odd_survived", len(res.OddSurvived),
	)

	runReclamation(*container, *smrKind, *ops, &disposed)
	fmt.Printf("disposer invocations: %d\n", atomic.LoadInt64(&disposed))
}

// setSplitListDisposer installs f as the split-list's inner list
// disposer; the entry type it takes is unexported by splitlist, so it is
// named here through type inference.
func setSplitListDisposer[E any, D ~func(uint64, E)](d *D, f func()) {
	*d = func(uint64, E) { f() }
}

// buildSet instantiates the named container over the named SMR scheme,
// adapted to stress.SetContainer[int] so one RunSeedEraseInsert drives
// all four families identically. Returns a closer that releases any
// resources the SMR domain owns (rcu.Domain.Close for the threaded
// flavor's background goroutine).
func buildSet(container, smrKind string, onDispose func()) (stress.SetContainer[int], func(), error) {
	dom, closeDom, err := buildDomain(smrKind)
	if err != nil {
		return stress.SetContainer[int]{}, nil, err
	}

	switch container {
	case "list":
		return stress.ListIntSet(dom, onDispose), closeDom, nil
	case "splitlist":
		var cfg splitlist.Config[int, int]
		cfg.Hasher = func(k int) uint64 { return uint64(k) }
		cfg.List.Domain = dom
		setSplitListDisposer(&cfg.List.Disposer, onDispose)
		sl := splitlist.New(cfg)
		return stress.SetContainer[int]{
			Attach:   sl.Attach,
			Detach:   sl.Detach,
			Insert:   func(h *registry.Handle, k int) bool { return sl.Insert(h, k, k) },
			Erase:    sl.Erase,
			Contains: sl.Contains,
		}, closeDom, nil
	case "skiplist":
		skl := skiplist.New(skiplist.Config[int, int]{
			Comparator: func(a, b int) int { return a - b },
			Domain:     dom,
			Disposer:   func(k int, v int) { onDispose() },
		})
		return stress.SetContainer[int]{
			Attach:   skl.Attach,
			Detach:   skl.Detach,
			Insert:   func(h *registry.Handle, k int) bool { return skl.Insert(h, k, k) },
			Erase:    skl.Erase,
			Contains: skl.Contains,
		}, closeDom, nil
	case "ellentree":
		tr := ellentree.New(ellentree.Config[int, int]{
			Comparator: func(a, b int) int { return a - b },
			Domain:     dom,
			Disposer:   func(k int, v int) { onDispose() },
		})
		return stress.SetContainer[int]{
			Attach:   tr.Attach,
			Detach:   tr.Detach,
			Insert:   func(h *registry.Handle, k int) bool { return tr.Insert(h, k, k) },
			Erase:    tr.Erase,
			Contains: tr.Contains,
		}, closeDom, nil
	default:
		return stress.SetContainer[int]{}, nil, fmt.Errorf("unknown container %q", container)
	}
}

func buildDomain(kind string) (smr.Domain, func(), error) {
	switch kind {
	case "hp":
		return smr.NewHP(hp.NewDomain()), func() {}, nil
	case "rcu-instant":
		d := rcu.NewDomain(rcu.FlavorInstant)
		return smr.NewRCU(d), d.Close, nil
	case "rcu-buffered":
		d := rcu.NewDomain(rcu.FlavorBuffered)
		return smr.NewRCU(d), d.Close, nil
	case "rcu-threaded":
		d := rcu.NewDomain(rcu.FlavorThreaded)
		return smr.NewRCU(d), d.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown smr scheme %q", kind)
	}
}

// runReclamation has each of 4 workers insert and then erase its own
// opsPerWorker keys on a fresh container instance of the same family,
// using a worker pool bounded by an errgroup+semaphore pair (spec.md §8
// scenario 6).
func runReclamation(container, smrKind string, opsPerWorker int, disposed *int64) {
	set, closeDom, err := buildSet(container, smrKind, func() { atomic.AddInt64(disposed, 1) })
	if err != nil {
		logFatal("failed to build reclamation container", "error", err)
	}
	defer closeDom()

	sem := semaphore.NewWeighted(4)
	g, ctx := errgroup.WithContext(context.Background())
	for w := 0; w < 4; w++ {
		base := w * opsPerWorker
		g.Go(func() error {
			if err := sem.Acquire(ctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)
			h := set.Attach()
			defer set.Detach(h)
			for k := base; k < base+opsPerWorker; k++ {
				set.Insert(h, k)
			}
			for k := base; k < base+opsPerWorker; k++ {
				set.Erase(h, k)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		logFatal("reclamation run failed", "error", err)
	}
}

package rcu

import (
	"sync"
	"time"
	"unsafe"

	"github.com/couchbase/lockfree/registry"
)

// threadedScheme is the Threaded flavor: queuing is identical to
// Buffered, but a dedicated background goroutine — not the retiring
// caller — periodically flushes and drains sessions (spec.md §4.C: "a
// dedicated reclaimer thread consumes the buffer").
type threadedScheme struct {
	buf      *bufferedScheme
	interval time.Duration
	stop     chan struct{}
	wg       sync.WaitGroup
}

func newThreadedScheme(reg *registry.Registry, limit int) *threadedScheme {
	t := &threadedScheme{
		buf:      newBufferedScheme(reg, limit),
		interval: 5 * time.Millisecond,
		stop:     make(chan struct{}),
	}
	t.wg.Add(1)
	go t.loop()
	return t
}

func (t *threadedScheme) loop() {
	defer t.wg.Done()
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.stop:
			t.buf.flush()
			return
		case <-ticker.C:
			t.buf.flush()
		}
	}
}

func (t *threadedScheme) retire(addr unsafe.Pointer, deleter func(unsafe.Pointer)) {
	s := t.buf.acquire()
	s.itemsMu.Lock()
	s.items = append(s.items, retiredItem{addr: addr, deleter: deleter})
	s.itemsMu.Unlock()
	t.buf.release(s)
}

func (t *threadedScheme) synchronizeNow(_ *registry.Handle) {
	t.buf.flush()
}

func (t *threadedScheme) close() {
	close(t.stop)
	t.wg.Wait()
}

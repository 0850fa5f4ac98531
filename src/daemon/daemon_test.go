package daemon

import (
	"sync/atomic"
	"testing"

	"mem"
	"pagetable"
	"vmspace"
)

func TestPoolStaggersSameFrequencyDaemons(t *testing.T) {
	// scenario 6: two daemons registered at frequency 5; over 20 ticks
	// each must fire exactly 4 times, at staggered offsets.
	p := NewPool(4, 0)

	var calls1, calls2 []uint64
	p.Register(func(i uint64) { calls1 = append(calls1, i) }, 5)
	p.Register(func(i uint64) { calls2 = append(calls2, i) }, 5)

	for i := 0; i < 20; i++ {
		p.Tick()
	}

	if len(calls1) != 4 {
		t.Fatalf("daemon 1 fired %d times; want 4", len(calls1))
	}
	if len(calls2) != 4 {
		t.Fatalf("daemon 2 fired %d times; want 4", len(calls2))
	}
	if calls1[0] == calls2[0] {
		t.Fatalf("same-frequency daemons fired on the same first iteration %d; want staggered offsets", calls1[0])
	}
}

func TestPoolUnregisterStopsInvocation(t *testing.T) {
	p := NewPool(2, 0)
	var n int32
	h := p.Register(func(uint64) { atomic.AddInt32(&n, 1) }, 1)
	p.Tick()
	p.Tick()
	p.Unregister(h)
	p.Tick()
	p.Tick()
	if got := atomic.LoadInt32(&n); got != 2 {
		t.Fatalf("invocation count = %d; want 2", got)
	}
}

func TestPoolBoundsConcurrency(t *testing.T) {
	p := NewPool(1, 0)
	var running, maxRunning int32
	for i := 0; i < 5; i++ {
		p.Register(func(uint64) {
			cur := atomic.AddInt32(&running, 1)
			for {
				old := atomic.LoadInt32(&maxRunning)
				if cur <= old || atomic.CompareAndSwapInt32(&maxRunning, old, cur) {
					break
				}
			}
			atomic.AddInt32(&running, -1)
		}, 1)
	}
	p.Tick()
	if maxRunning > 1 {
		t.Fatalf("max concurrent invocations = %d; want <= 1 (sem weight 1)", maxRunning)
	}
}

func TestPageScannerReclaimsColdPages(t *testing.T) {
	pm := mem.NewManager(4)
	page, err := pm.Allocate(mem.AllocClear)
	if err != 0 {
		t.Fatalf("Allocate() err = %v", err)
	}
	pm.MarkInactive(page)

	scan := NewPageScanner(pm)
	scan(0)

	if got := pm.Available(); got != 4 {
		t.Fatalf("Available() after scan = %d; want 4 (unowned inactive page freed)", got)
	}
}

func TestResourceResizerGrowsOnFaults(t *testing.T) {
	r := vmspace.NewRegistry(func() pagetable.TranslationMap { return pagetable.NewSimulated() })
	as, err := r.Create(1, 0, 1<<20-1)
	if err != 0 {
		t.Fatalf("Create() err = %v", err)
	}
	as.IncFault()

	resize := NewResourceResizer(r)
	resize(0)

	size, _, min, _ := as.WorkingSet()
	if size <= min {
		t.Fatalf("WorkingSet size = %d; want > min %d after a fault", size, min)
	}
}

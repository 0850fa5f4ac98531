// Package daemon implements the kernel daemon pool infrastructure of
// spec.md §4.7: a shared low-priority "thread" per pool that invokes
// registered (function, frequency) pairs on a fixed tick, offsetting
// same-frequency daemons so their invocations spread evenly across
// iterations.
package daemon

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"cache"
	"defs"
	"mem"
	"pressure"
	"util"
	"vmspace"
)

// Func is one daemon's callback, given the pool's current iteration
// number (spec §4.7: "invokes the function iff ((iteration+offset) mod
// frequency) == 0").
type Func func(iteration uint64)

// Handle names one registered daemon for Unregister.
type Handle uint64

type entry struct {
	handle Handle
	fn     Func
	freq   int
	offset int
}

// Pool is a daemon pool (spec §4.7): "a single dedicated low-priority
// thread... sleeps for a fixed tick... and for each registered daemon
// invokes the function iff the frequency test passes." This repo
// models the dedicated thread as one goroutine running Tick on a
// ticker, and the "recursive lock" of spec §4.7 as a plain mutex that
// is released before invoking any callback and reacquired after — a
// callback is free to call Register/Unregister on its own pool without
// deadlocking, which is the one property the spec's recursive lock
// actually needs (see DESIGN.md).
type Pool struct {
	mu      sync.Mutex
	entries []*entry

	iteration uint64
	nextID    uint64

	sem *semaphore.Weighted

	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewPool creates a pool that invokes up to maxConcurrent daemons at
// once per tick. If interval is positive a background goroutine calls
// Tick automatically every interval; tests typically pass 0 and call
// Tick directly for determinism.
func NewPool(maxConcurrent int64, interval time.Duration) *Pool {
	p := &Pool{
		sem:      semaphore.NewWeighted(maxConcurrent),
		interval: interval,
		stopCh:   make(chan struct{}),
	}
	if interval > 0 {
		go p.run()
	}
	return p
}

func (p *Pool) run() {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.Tick()
		}
	}
}

// Stop halts the background ticker goroutine, if one was started. It
// is idempotent.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
}

// Register adds fn to the pool at the given frequency (in ticks) and
// returns a handle for Unregister. The offset is assigned by counting
// existing daemons of the same frequency modulo that frequency (spec
// §4.7: "Registration assigns offsets by counting existing daemons of
// the same frequency modulo the frequency").
func (p *Pool) Register(fn Func, frequency int) Handle {
	if frequency <= 0 {
		panic("daemon: non-positive frequency")
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	count := 0
	for _, e := range p.entries {
		if e.freq == frequency {
			count++
		}
	}
	h := Handle(atomic.AddUint64(&p.nextID, 1))
	p.entries = append(p.entries, &entry{
		handle: h,
		fn:     fn,
		freq:   frequency,
		offset: count % frequency,
	})
	return h
}

// Unregister removes and destroys the daemon entry named by h (spec
// §4.7 "Unregistration removes and destroys the entry"). It is a
// no-op if h is unknown.
func (p *Pool) Unregister(h Handle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, e := range p.entries {
		if e.handle == h {
			p.entries = append(p.entries[:i], p.entries[i+1:]...)
			return
		}
	}
}

// Tick runs one iteration: every registered daemon whose frequency
// test passes is invoked, bounded to at most the pool's configured
// concurrency via its semaphore, and Tick waits for all of them to
// return before advancing (the dedicated-thread model of spec §4.7:
// daemons "share a thread" and "may not block indefinitely").
func (p *Pool) Tick() {
	p.mu.Lock()
	iter := p.iteration
	p.iteration++
	due := make([]*entry, 0, len(p.entries))
	for _, e := range p.entries {
		if (iter+uint64(e.offset))%uint64(e.freq) == 0 {
			due = append(due, e)
		}
	}
	p.mu.Unlock()

	g, ctx := errgroup.WithContext(context.Background())
	for _, e := range due {
		e := e
		if err := p.sem.Acquire(ctx, 1); err != nil {
			continue
		}
		g.Go(func() error {
			defer p.sem.Release(1)
			e.fn(iter)
			return nil
		})
	}
	_ = g.Wait()
}

// Iteration reports the next iteration number Tick will use.
func (p *Pool) Iteration() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.iteration
}

// NewPageScanner returns the page-scanner daemon of spec §4.4/§4.7:
// it demotes cold active pages to inactive, reclaims clean inactive
// pages back to free, and answers pending pressure.Requests once it
// has made room ("the page scanner daemon closes the loop by replying
// on it", per the pressure package's own doc comment). The
// active->inactive and inactive->free sweeps run concurrently via
// errgroup since neither reads the other's queue.
func NewPageScanner(pm *mem.Manager) Func {
	return func(uint64) {
		var g errgroup.Group
		g.Go(func() error { demoteActive(pm); return nil })
		g.Go(func() error { reclaimInactive(pm); return nil })
		_ = g.Wait()
		answerPressure(pm)
	}
}

func demoteActive(pm *mem.Manager) {
	for _, p := range pm.ActivePages() {
		if p.WiredCount() > 0 {
			continue
		}
		if p.DecayUsage() == 0 {
			pm.MarkInactive(p)
		}
	}
}

func reclaimInactive(pm *mem.Manager) {
	for _, p := range pm.InactivePages() {
		if p.IsBusy() || p.WiredCount() > 0 {
			continue
		}
		if p.State() == mem.StateModified {
			continue
		}
		owner, pageOffset := p.Owner()
		if owner == nil {
			pm.Free(p)
			continue
		}
		c, ok := cache.Lookup(owner.CacheID())
		if !ok {
			continue
		}
		if _, removed := c.Remove(pageOffset * defs.PageSize); removed {
			pm.Free(p)
		}
	}
}

// answerPressure drains at most one pending pressure.Request per
// tick, reporting whether the scanner's sweep freed enough frames to
// satisfy it.
func answerPressure(pm *mem.Manager) {
	select {
	case req := <-pressure.Ch:
		req.Resume <- pm.Available() >= int64(req.Need)
	default:
	}
}

// defaultMinWorkingSet and defaultMaxWorkingSet bound the resource
// resizer's adjustment when an address space has not yet had its
// working-set bounds set explicitly (e.g. right after Create).
const (
	defaultMinWorkingSet = 4 * defs.PageSize
	defaultMaxWorkingSet = 256 * defs.PageSize
)

// NewResourceResizer returns the resource-resizer daemon of spec
// §4.7's second pool: it nudges every registered address space's
// working-set size (SPEC_FULL.md §3 supplement) toward its recent
// fault activity, growing it one page at a time when faults occurred
// since the last adjustment and shrinking it otherwise, clamped to
// [min_working_set, max_working_set].
func NewResourceResizer(reg *vmspace.Registry) Func {
	var lastFaults sync.Map // *vmspace.AddressSpace -> uint64
	return func(uint64) {
		reg.Iterate(func(as *vmspace.AddressSpace) bool {
			adjustWorkingSet(as, &lastFaults)
			return true
		})
	}
}

func adjustWorkingSet(as *vmspace.AddressSpace, lastFaults *sync.Map) {
	size, max, min, _ := as.WorkingSet()
	if max == 0 {
		max = defaultMaxWorkingSet
	}
	if min == 0 {
		min = defaultMinWorkingSet
	}
	if size == 0 {
		size = min
	}

	faults := as.Faults()
	prevIface, _ := lastFaults.LoadOrStore(as, uint64(0))
	prev := prevIface.(uint64)
	lastFaults.Store(as, faults)

	target := size
	if faults > prev {
		target = util.Min(max, size+defs.PageSize)
	} else if size > min {
		target = util.Max(min, size-defs.PageSize)
	}
	as.SetWorkingSet(target, max, min, time.Now().UnixNano())
}

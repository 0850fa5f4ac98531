package mem

import (
	"testing"

	"defs"
)

type fakeCache struct{ id uint64 }

func (f fakeCache) CacheID() uint64 { return f.id }

func TestAllocateFreeRoundTrip(t *testing.T) {
	t.Parallel()

	m := NewManager(4)
	if got := m.Available(); got != 4 {
		t.Fatalf("Available() = %d; want 4", got)
	}

	p, err := m.Allocate(0)
	if err != 0 {
		t.Fatalf("Allocate() err = %v", err)
	}
	if got := m.Available(); got != 3 {
		t.Fatalf("Available() after Allocate = %d; want 3", got)
	}
	if p.State() != StateUnused {
		t.Fatalf("State() = %v; want unused", p.State())
	}

	p.SetOwner(fakeCache{id: 7}, 3)
	owner, off := p.Owner()
	if owner.(fakeCache).id != 7 || off != 3 {
		t.Fatalf("Owner() = %v, %d; want {7}, 3", owner, off)
	}

	m.Free(p)
	if got := m.Available(); got != 4 {
		t.Fatalf("Available() after Free = %d; want 4", got)
	}
	if owner, _ := p.Owner(); owner != nil {
		t.Fatalf("Owner() after Free = %v; want nil", owner)
	}
}

func TestAllocateExhaustionNoWait(t *testing.T) {
	t.Parallel()

	m := NewManager(1)
	p, err := m.Allocate(AllocNoWait)
	if err != 0 {
		t.Fatalf("first Allocate() err = %v", err)
	}
	_ = p

	if _, err := m.Allocate(AllocNoWait); err != defs.ENOHEAP {
		t.Fatalf("second Allocate() err = %v; want ENOHEAP", err)
	}
}

func TestWireUnwireBlocksDemotion(t *testing.T) {
	t.Parallel()

	m := NewManager(1)
	p, _ := m.Allocate(0)
	m.MarkActive(p)

	m.Wire(p)
	if p.State() != StateWired {
		t.Fatalf("State() after Wire = %v; want wired", p.State())
	}
	m.MarkInactive(p) // must be a no-op while wired
	if p.State() != StateWired {
		t.Fatalf("State() after MarkInactive while wired = %v; want wired", p.State())
	}

	m.Unwire(p)
	if p.State() != StateActive {
		t.Fatalf("State() after Unwire = %v; want active", p.State())
	}
}

func TestMappingListAddRemove(t *testing.T) {
	t.Parallel()

	m := NewManager(1)
	p, _ := m.Allocate(0)

	m1 := &Mapping{VA: 0x1000}
	m2 := &Mapping{VA: 0x2000}
	p.AddMapping(m1)
	p.AddMapping(m2)
	if n := p.MappingCount(); n != 2 {
		t.Fatalf("MappingCount() = %d; want 2", n)
	}

	p.RemoveMapping(m1)
	if n := p.MappingCount(); n != 1 {
		t.Fatalf("MappingCount() after remove = %d; want 1", n)
	}
	remaining := p.Mappings()
	if len(remaining) != 1 || remaining[0] != m2 {
		t.Fatalf("Mappings() = %v; want [m2]", remaining)
	}
}

func TestUsageCounterDecay(t *testing.T) {
	t.Parallel()

	m := NewManager(1)
	p, _ := m.Allocate(0)

	p.Touch()
	p.Touch()
	if got := p.UsageCount(); got != 2 {
		t.Fatalf("UsageCount() = %d; want 2", got)
	}
	p.DecayUsage()
	if got := p.UsageCount(); got != 1 {
		t.Fatalf("UsageCount() after decay = %d; want 1", got)
	}
}

func TestBusyBlocksWaiters(t *testing.T) {
	t.Parallel()

	m := NewManager(1)
	p, _ := m.Allocate(0)

	p.MarkBusy(true)
	if !p.IsBusy() {
		t.Fatalf("IsBusy() = false after MarkBusy")
	}

	done := make(chan struct{})
	go func() {
		p.WaitBusy()
		close(done)
	}()

	select {
	case <-done:
		t.Fatalf("WaitBusy returned before ClearBusy")
	default:
	}

	p.ClearBusy()
	<-done
	if p.IsBusy() {
		t.Fatalf("IsBusy() = true after ClearBusy")
	}
}

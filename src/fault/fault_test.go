package fault

import (
	"testing"

	"area"
	"cache"
	"defs"
	"mem"
	"pagetable"
	"res"
	"store"
	"vmspace"
)

func withCommitLimit(t *testing.T, limit int64) {
	t.Helper()
	old := res.Commit.Limit()
	reserved := res.Commit.Reserved()
	res.Commit.SetLimit(reserved + limit)
	t.Cleanup(func() { res.Commit.SetLimit(old) })
}

func newSpace(t *testing.T) *vmspace.AddressSpace {
	t.Helper()
	r := vmspace.NewRegistry(func() pagetable.TranslationMap { return pagetable.NewSimulated() })
	as, err := r.Create(1, 0, 1<<24-1)
	if err != 0 {
		t.Fatalf("Create() err = %v", err)
	}
	return as
}

func TestResolveSimpleDemandZero(t *testing.T) {
	// scenario 1: 16384-byte anonymous area, no overcommit/precommit.
	withCommitLimit(t, 4*defs.PageSize)
	as := newSpace(t)
	pm := mem.NewManager(16)

	st := store.NewAnonStore(0, 16384, false, 0, 0, defs.StackGrowsDown)
	c := cache.New(cache.KindAnonymous, st, 0, 16384, pm)
	a, err := area.Allocate(as, area.AllocOpts{
		Name: "a", Size: 16384, Placement: defs.PlaceAny,
		Prot: defs.ProtRead | defs.ProtWrite, Cache: c,
	})
	if err != 0 {
		t.Fatalf("area.Allocate() err = %v", err)
	}
	if err := c.Commit(16384); err != 0 {
		t.Fatalf("Commit() err = %v", err)
	}

	before := res.Commit.Reserved()
	if err := Resolve(as, pm, Request{Address: a.Base(), Access: defs.AccessRead}); err != 0 {
		t.Fatalf("Resolve() err = %v", err)
	}
	if got := res.Commit.Reserved(); got != before+defs.PageSize {
		t.Fatalf("committed counter = %d; want %d", got, before+defs.PageSize)
	}

	if _, _, ok := as.TranslationMap().(*pagetable.Simulated).Query(a.Base()); !ok {
		t.Fatalf("no mapping installed at %#x", a.Base())
	}
	if as.Faults() != 1 {
		t.Fatalf("Faults() = %d; want 1", as.Faults())
	}
}

func TestResolveStackGuard(t *testing.T) {
	// scenario 2: 65536-byte stack area, downward growth, guard 4096.
	withCommitLimit(t, defs.PageSize)
	as := newSpace(t)
	pm := mem.NewManager(16)

	st := store.NewAnonStore(0, 65536, true, 0, defs.PageSize, defs.StackGrowsDown)
	c := cache.New(cache.KindAnonymous, st, 0, 65536, pm)
	a, _ := area.Allocate(as, area.AllocOpts{
		Name: "stack", Size: 65536, Placement: defs.PlaceAny,
		Prot: defs.ProtRead | defs.ProtWrite | defs.ProtStack, Cache: c,
	})

	if err := Resolve(as, pm, Request{Address: a.Base(), Access: defs.AccessRead}); err != defs.EFAULT {
		t.Fatalf("Resolve() err = %v; want EFAULT", err)
	}
	if c.PageCount() != 0 {
		t.Fatalf("PageCount() = %d; want 0 (no page allocated on guard fault)", c.PageCount())
	}
}

func TestResolveCopyOnWrite(t *testing.T) {
	// scenario 4: clone of an 8192-byte anonymous area.
	withCommitLimit(t, 4*defs.PageSize)
	as := newSpace(t)
	pm := mem.NewManager(16)

	parentStore := store.NewAnonStore(0, 8192, false, 0, 0, defs.StackGrowsDown)
	parent := cache.New(cache.KindAnonymous, parentStore, 0, 8192, pm)
	parent.Commit(8192)
	// the parent already owns the page at offset 0, as the original area
	// would after being touched before the clone.
	pp, _ := pm.Allocate(mem.AllocClear)
	parent.Insert(pp, 0)

	childStore := store.NewAnonStore(0, 8192, false, 0, 0, defs.StackGrowsDown)
	child := cache.New(cache.KindAnonymous, childStore, 0, 8192, pm)
	if err := child.SetSource(parent); err != nil {
		t.Fatalf("SetSource() err = %v", err)
	}

	a, _ := area.Allocate(as, area.AllocOpts{
		Name: "child", Size: 8192, Placement: defs.PlaceAny,
		Prot: defs.ProtRead | defs.ProtWrite, Cache: child,
	})

	// read fault: should pull the page from the parent, writable bit
	// stripped.
	if err := Resolve(as, pm, Request{Address: a.Base(), Access: defs.AccessRead}); err != 0 {
		t.Fatalf("read Resolve() err = %v", err)
	}
	if child.PageCount() != 0 {
		t.Fatalf("PageCount() on child after read = %d; want 0 (page still owned by parent)", child.PageCount())
	}
	if parent.PageCount() != 1 {
		t.Fatalf("PageCount() on parent after read = %d; want 1", parent.PageCount())
	}

	// write fault: must copy-up into the child, leaving the parent's
	// page untouched.
	if err := Resolve(as, pm, Request{Address: a.Base(), Access: defs.AccessWrite}); err != 0 {
		t.Fatalf("write Resolve() err = %v", err)
	}
	if child.PageCount() != 1 {
		t.Fatalf("PageCount() on child after write = %d; want 1", child.PageCount())
	}
	if parent.PageCount() != 1 {
		t.Fatalf("PageCount() on parent after write = %d; want 1 (unchanged)", parent.PageCount())
	}

	childPage, ok := child.Lookup(0)
	if !ok {
		t.Fatalf("child has no page at offset 0 after copy-up")
	}
	parentPage, _ := parent.Lookup(0)
	if childPage.Frame == parentPage.Frame {
		t.Fatalf("copy-up reused the parent's frame")
	}
}

func TestResolveBadAddress(t *testing.T) {
	as := newSpace(t)
	pm := mem.NewManager(4)
	if err := Resolve(as, pm, Request{Address: 0x9999, Access: defs.AccessRead}); err != defs.EFAULT {
		t.Fatalf("Resolve() on unmapped address err = %v; want EFAULT", err)
	}
}

func TestResolveProtectionViolation(t *testing.T) {
	withCommitLimit(t, defs.PageSize)
	as := newSpace(t)
	pm := mem.NewManager(4)
	st := store.NewAnonStore(0, defs.PageSize, false, 0, 0, defs.StackGrowsDown)
	c := cache.New(cache.KindAnonymous, st, 0, defs.PageSize, pm)
	a, _ := area.Allocate(as, area.AllocOpts{Name: "ro", Size: defs.PageSize, Placement: defs.PlaceAny, Prot: defs.ProtRead, Cache: c})

	if err := Resolve(as, pm, Request{Address: a.Base(), Access: defs.AccessWrite}); err != defs.EPERM {
		t.Fatalf("Resolve() write on read-only area err = %v; want EPERM", err)
	}
}

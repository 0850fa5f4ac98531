package vm

import (
	"testing"

	"defs"
)

func TestCreateAreaSimpleDemandZero(t *testing.T) {
	// scenario 1.
	f := Boot(8, 0)
	defer f.Shutdown()

	id, err := f.CreateArea(defs.KernelTeam, "a", AddressSpec{Placement: defs.PlaceAny}, 16384,
		defs.ProtRead|defs.ProtWrite, defs.WiringNone, CreateOpts{})
	if err != 0 {
		t.Fatalf("CreateArea() err = %v", err)
	}
	a, ok := f.Area(id)
	if !ok {
		t.Fatalf("Area(%d) not found", id)
	}

	if ferr := f.PageFault(defs.KernelTeam, a.Base(), false, false); ferr != 0 {
		t.Fatalf("PageFault() err = %v", ferr)
	}
}

func TestCreateAreaStackGuard(t *testing.T) {
	// scenario 2.
	f := Boot(8, 0)
	defer f.Shutdown()

	id, err := f.CreateArea(defs.KernelTeam, "stack", AddressSpec{Placement: defs.PlaceAny}, 65536,
		defs.ProtRead|defs.ProtWrite|defs.ProtStack, defs.WiringNone,
		CreateOpts{Overcommit: true, GuardSize: defs.PageSize, GrowthDir: defs.StackGrowsDown})
	if err != 0 {
		t.Fatalf("CreateArea() err = %v", err)
	}
	a, _ := f.Area(id)

	if ferr := f.PageFault(defs.KernelTeam, a.Base(), false, true); ferr != defs.EFAULT {
		t.Fatalf("PageFault() on guard err = %v; want EFAULT", ferr)
	}
}

func TestDeleteAreaRoundTrip(t *testing.T) {
	// scenario 5 + §8's round-trip law.
	f := Boot(8, 0)
	defer f.Shutdown()

	as, _ := f.Registry.GetKernel()
	before := as.FreeSpace()
	f.Registry.Put(as)

	id, err := f.CreateArea(defs.KernelTeam, "tmp", AddressSpec{Placement: defs.PlaceAny}, 3*defs.PageSize,
		defs.ProtRead|defs.ProtWrite, defs.WiringNone, CreateOpts{})
	if err != 0 {
		t.Fatalf("CreateArea() err = %v", err)
	}
	a, _ := f.Area(id)
	for i := 0; i < 3; i++ {
		if ferr := f.PageFault(defs.KernelTeam, a.Base()+uintptr(i)*defs.PageSize, false, true); ferr != 0 {
			t.Fatalf("PageFault() page %d err = %v", i, ferr)
		}
	}

	if err := f.DeleteArea(id); err != 0 {
		t.Fatalf("DeleteArea() err = %v", err)
	}

	as, _ = f.Registry.GetKernel()
	defer f.Registry.Put(as)
	if got := as.FreeSpace(); got != before {
		t.Fatalf("FreeSpace() after create+delete = %d; want %d", got, before)
	}
	if _, ok := f.Area(id); ok {
		t.Fatalf("Area(%d) still tracked after delete", id)
	}
}

func TestCloneAreaCopyOnWrite(t *testing.T) {
	// scenario 4, through the facade.
	f := Boot(8, 0)
	defer f.Shutdown()

	parentID, err := f.CreateArea(defs.KernelTeam, "parent", AddressSpec{Placement: defs.PlaceAny}, 8192,
		defs.ProtRead|defs.ProtWrite, defs.WiringNone, CreateOpts{})
	if err != 0 {
		t.Fatalf("CreateArea(parent) err = %v", err)
	}
	parent, _ := f.Area(parentID)
	if ferr := f.PageFault(defs.KernelTeam, parent.Base(), false, true); ferr != 0 {
		t.Fatalf("PageFault(parent) err = %v", ferr)
	}

	childID, err := f.CloneArea(defs.KernelTeam, parentID, AddressSpec{Placement: defs.PlaceAny}, defs.ProtRead|defs.ProtWrite)
	if err != 0 {
		t.Fatalf("CloneArea() err = %v", err)
	}
	child, _ := f.Area(childID)

	if ferr := f.PageFault(defs.KernelTeam, child.Base(), true, true); ferr != 0 {
		t.Fatalf("PageFault(child, write) err = %v", ferr)
	}
	if child.Cache().PageCount() != 1 {
		t.Fatalf("child cache PageCount() = %d; want 1 after write copy-up", child.Cache().PageCount())
	}
	if parent.Cache().PageCount() != 1 {
		t.Fatalf("parent cache PageCount() = %d; want 1 (unchanged)", parent.Cache().PageCount())
	}
}

func TestDestroyAddressSpace(t *testing.T) {
	// spec §4.1 RemoveAndPut: marks deleting, tears down every area,
	// then releases the creation reference.
	f := Boot(8, 0)
	defer f.Shutdown()

	if _, err := f.Registry.Create(42, 0, 0xffffff); err != 0 {
		t.Fatalf("Registry.Create() err = %v", err)
	}

	id, cerr := f.CreateArea(42, "doomed", AddressSpec{Placement: defs.PlaceAny}, defs.PageSize,
		defs.ProtRead|defs.ProtWrite, defs.WiringNone, CreateOpts{})
	if cerr != 0 {
		t.Fatalf("CreateArea() err = %v", cerr)
	}

	if derr := f.DestroyAddressSpace(42); derr != 0 {
		t.Fatalf("DestroyAddressSpace() err = %v", derr)
	}
	if _, ok := f.Area(id); ok {
		t.Fatalf("Area(%d) still tracked after DestroyAddressSpace", id)
	}
	if _, gerr := f.Registry.Get(42); gerr != defs.EBADTEAM {
		t.Fatalf("Registry.Get() after destroy = %v; want EBADTEAM", gerr)
	}

	if _, cerr := f.CreateArea(42, "too-late", AddressSpec{Placement: defs.PlaceAny}, defs.PageSize,
		defs.ProtRead, defs.WiringNone, CreateOpts{}); cerr != defs.EBADTEAM {
		t.Fatalf("CreateArea() after destroy err = %v; want EBADTEAM", cerr)
	}
}

func TestRegisterUnregisterKernelDaemon(t *testing.T) {
	f := Boot(4, 0)
	defer f.Shutdown()

	var calls int
	fn := func(arg any) { calls += arg.(int) }

	if err := f.RegisterKernelDaemon(fn, 1, 1); err != 0 {
		t.Fatalf("RegisterKernelDaemon() err = %v", err)
	}
	f.KernelPool.Tick()
	if calls != 1 {
		t.Fatalf("calls = %d; want 1", calls)
	}

	if err := f.UnregisterKernelDaemon(fn, 1); err != 0 {
		t.Fatalf("UnregisterKernelDaemon() err = %v", err)
	}
	f.KernelPool.Tick()
	if calls != 1 {
		t.Fatalf("calls after unregister = %d; want still 1", calls)
	}
}

func TestMapPhysicalMemory(t *testing.T) {
	f := Boot(4, 4)
	defer f.Shutdown()

	id, err := f.MapPhysicalMemory(defs.KernelTeam, "fb", 2*defs.PageSize, defs.ProtRead|defs.ProtWrite, defs.D_FRAMEBUFFER)
	if err != 0 {
		t.Fatalf("MapPhysicalMemory() err = %v", err)
	}
	a, _ := f.Area(id)
	if ferr := f.PageFault(defs.KernelTeam, a.Base(), false, false); ferr != 0 {
		t.Fatalf("PageFault() on device area err = %v", ferr)
	}
}

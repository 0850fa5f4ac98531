package pagetable

import (
	"testing"

	"defs"
	"mem"
)

func TestSimulatedMapQueryUnmap(t *testing.T) {
	t.Parallel()

	m := NewSimulated()
	if _, _, ok := m.Query(0x1000); ok {
		t.Fatalf("Query on empty map found something")
	}

	if err := m.Map(0x1000, mem.PFN(7), defs.ProtRead|defs.ProtWrite); err != 0 {
		t.Fatalf("Map() err = %v", err)
	}
	frame, prot, ok := m.Query(0x1000)
	if !ok || frame != 7 || prot != defs.ProtRead|defs.ProtWrite {
		t.Fatalf("Query() = %v, %v, %v; want 7, RW, true", frame, prot, ok)
	}
	if n := m.Len(); n != 1 {
		t.Fatalf("Len() = %d; want 1", n)
	}

	if err := m.Protect(0x1000, defs.ProtRead); err != 0 {
		t.Fatalf("Protect() err = %v", err)
	}
	_, prot, _ = m.Query(0x1000)
	if prot != defs.ProtRead {
		t.Fatalf("Query() prot after Protect = %v; want read-only", prot)
	}

	frame, ok = m.Unmap(0x1000)
	if !ok || frame != 7 {
		t.Fatalf("Unmap() = %v, %v; want 7, true", frame, ok)
	}
	if _, _, ok := m.Query(0x1000); ok {
		t.Fatalf("Query() after Unmap found something")
	}
}

func TestSimulatedProtectUnmapped(t *testing.T) {
	t.Parallel()

	m := NewSimulated()
	if err := m.Protect(0x2000, defs.ProtRead); err != defs.EFAULT {
		t.Fatalf("Protect() on unmapped va = %v; want EFAULT", err)
	}
}

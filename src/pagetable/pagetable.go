// Package pagetable defines the translation map contract spec.md §6
// keeps opaque: "the low-level translation map (hardware page table) —
// treated as an opaque interface with documented operations." Nothing
// above this package may assume a concrete page-table format; they only
// call Map/Unmap/Query/Protect/Flush.
package pagetable

import (
	"sync"

	"defs"
	"mem"
)

// Map installs a translation from va to the given physical frame with
// the given protection bits, replacing any existing mapping at va.
// Unmap removes whatever mapping (if any) covers va, returning the frame
// that was mapped there, or ok=false if nothing was mapped.
// Query reports the frame and protection currently mapped at va.
// Protect changes the protection bits of an existing mapping without
// touching its frame, used when Area.Protect downgrades permissions
// (§4.2 "tells the translation map to downgrade existing mappings").
// Flush invalidates any cached translation for va on every CPU that
// might hold one; a software simulation can no-op it.
// Destroy releases every resource the map holds (e.g. a real mmap
// reservation) once the owning address space is torn down.
type TranslationMap interface {
	Map(va uintptr, frame mem.PFN, prot defs.Prot_t) defs.Err_t
	Unmap(va uintptr) (mem.PFN, bool)
	Query(va uintptr) (mem.PFN, defs.Prot_t, bool)
	Protect(va uintptr, prot defs.Prot_t) defs.Err_t
	Flush(va uintptr)
	Destroy()
}

// entry is one simulated page-table row.
type entry struct {
	frame mem.PFN
	prot  defs.Prot_t
}

// Simulated is an architecture-neutral TranslationMap backed by a plain
// Go map, standing in for real hardware page tables the way the
// teacher's own mem package assumes a concrete x86-64 layout that this
// repo deliberately does not reproduce (§6: the contract, not the
// format, is specified).
type Simulated struct {
	mu      sync.RWMutex
	entries map[uintptr]entry
}

// NewSimulated returns an empty software-simulated translation map.
func NewSimulated() *Simulated {
	return &Simulated{entries: make(map[uintptr]entry)}
}

func (s *Simulated) Map(va uintptr, frame mem.PFN, prot defs.Prot_t) defs.Err_t {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[va] = entry{frame: frame, prot: prot}
	return 0
}

func (s *Simulated) Unmap(va uintptr) (mem.PFN, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[va]
	if !ok {
		return 0, false
	}
	delete(s.entries, va)
	return e.frame, true
}

func (s *Simulated) Query(va uintptr) (mem.PFN, defs.Prot_t, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[va]
	return e.frame, e.prot, ok
}

func (s *Simulated) Protect(va uintptr, prot defs.Prot_t) defs.Err_t {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[va]
	if !ok {
		return defs.EFAULT
	}
	e.prot = prot
	s.entries[va] = e
	return 0
}

// Flush is a no-op: a simulated map has no CPU-local cache to invalidate.
func (s *Simulated) Flush(uintptr) {}

// Destroy drops every entry, letting the map be garbage collected.
func (s *Simulated) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
}

// Len reports how many translations are currently installed, used by
// tests and diag's address-space dump.
func (s *Simulated) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

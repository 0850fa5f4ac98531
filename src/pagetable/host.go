//go:build unix

package pagetable

import (
	"sync"

	"golang.org/x/sys/unix"

	"defs"
	"mem"
)

// Host is a TranslationMap backed by a real host mmap reservation,
// wired to exercise golang.org/x/sys/unix's Mmap/Mprotect rather than
// the architecture-neutral Simulated map. It exists for integration
// tests that want an actual SIGSEGV-class fault on a protection
// violation instead of Simulated's bookkeeping-only Query result.
//
// Host does not itself back pages with the frames mem.Manager hands
// out — there is no portable way to map a chosen physical frame from
// user space. Instead each virtual page gets its own anonymous mmap
// region, and Map records which mem.PFN "owns" that region for
// Query/Unmap bookkeeping; Protect and Flush operate on the real
// mapping so its actual protection bits change.
type Host struct {
	mu      sync.Mutex
	regions map[uintptr]hostRegion
	pageSz  int
}

type hostRegion struct {
	mem   []byte
	frame mem.PFN
	prot  defs.Prot_t
}

// NewHost reserves nothing up front; regions are created lazily on Map.
func NewHost() *Host {
	return &Host{regions: make(map[uintptr]hostRegion), pageSz: unix.Getpagesize()}
}

func toMmapProt(p defs.Prot_t) int {
	prot := unix.PROT_NONE
	if p&defs.ProtRead != 0 {
		prot |= unix.PROT_READ
	}
	if p&defs.ProtWrite != 0 {
		prot |= unix.PROT_WRITE
	}
	if p&defs.ProtExecute != 0 {
		prot |= unix.PROT_EXEC
	}
	return prot
}

func (h *Host) Map(va uintptr, frame mem.PFN, prot defs.Prot_t) defs.Err_t {
	h.mu.Lock()
	defer h.mu.Unlock()

	if old, ok := h.regions[va]; ok {
		unix.Munmap(old.mem)
		delete(h.regions, va)
	}

	b, err := unix.Mmap(-1, 0, h.pageSz, toMmapProt(prot), unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return defs.ENOMEM
	}
	h.regions[va] = hostRegion{mem: b, frame: frame, prot: prot}
	return 0
}

func (h *Host) Unmap(va uintptr) (mem.PFN, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.regions[va]
	if !ok {
		return 0, false
	}
	unix.Munmap(r.mem)
	delete(h.regions, va)
	return r.frame, true
}

func (h *Host) Query(va uintptr) (mem.PFN, defs.Prot_t, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.regions[va]
	return r.frame, r.prot, ok
}

func (h *Host) Protect(va uintptr, prot defs.Prot_t) defs.Err_t {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.regions[va]
	if !ok {
		return defs.EFAULT
	}
	if err := unix.Mprotect(r.mem, toMmapProt(prot)); err != nil {
		return defs.EINVAL
	}
	r.prot = prot
	h.regions[va] = r
	return 0
}

// Flush is a no-op on a host mapping: the kernel's own TLB invalidation
// on mprotect/munmap already covers it.
func (h *Host) Flush(uintptr) {}

// Destroy unmaps every region this Host ever created.
func (h *Host) Destroy() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for va, r := range h.regions {
		unix.Munmap(r.mem)
		delete(h.regions, va)
	}
}

// bytesAt returns the live byte slice backing va, for tests that want to
// read/write through the real mapping and observe a real fault.
func (h *Host) bytesAt(va uintptr) []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.regions[va].mem
}

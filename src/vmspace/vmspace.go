// Package vmspace implements the address-space registry of spec.md
// §4.1: a process-wide team id -> address space table, and the
// per-space ordered area list, locking, and fault/change counters.
//
// vmspace deliberately does not import the area package: an
// AddressSpace only ever sees an area through the narrow AreaEntry
// interface below, the same pattern mem uses for CacheOwner/AreaOwner,
// so that area (which does need vmspace) never creates an import
// cycle back.
package vmspace

import (
	"sort"
	"sync"
	"sync/atomic"

	"cache"
	"defs"
	"hashtable"
	"mem"
	"pagetable"
	"util"
)

// AreaEntry is the slice of an area's identity, geometry, and cache
// attachment that both the address space and the fault resolver need,
// without either importing the concrete area.Area type (which in turn
// imports vmspace — this interface is what keeps that edge one-way).
type AreaEntry interface {
	ID() defs.AreaID
	Base() uintptr
	Size() uintptr
	Protection() defs.Prot_t

	// Cache and CacheOffset report the area's backing cache and the
	// byte offset within it corresponding to Base() (spec §3 "Area").
	Cache() *cache.Cache
	CacheOffset() uint64

	// AddMapping installs a page mapping at va with the given
	// protection, recording it on both the area's and the page's
	// mapping lists (spec §4.6 step 5).
	AddMapping(va uintptr, page *mem.Page, prot defs.Prot_t) *mem.Mapping
}

// AddressSpace is one team's (or the kernel's) virtual address range
// plus its ordered area list and translation map (spec §3 "Address
// space").
type AddressSpace struct {
	id    defs.TeamID
	base  uintptr
	end   uintptr
	tmap  pagetable.TranslationMap

	mu    sync.RWMutex
	areas []AreaEntry // kept sorted by Base()

	freeSpace uintptr
	faults    uint64
	changes   uint64
	deleting  bool
	refs      int32

	// scan_va and the working-set fields are carried beyond spec.md's
	// own data model (SPEC_FULL.md §3 supplement) because the resource
	// resizer daemon and the page scanner's per-space cursor need
	// somewhere to live.
	scanVA uintptr

	workingSetSize       uintptr
	maxWorkingSet        uintptr
	minWorkingSet        uintptr
	lastWorkingSetAdjust int64
}

func newAddressSpace(id defs.TeamID, base, end uintptr, tmap pagetable.TranslationMap) *AddressSpace {
	return &AddressSpace{
		id:        id,
		base:      base,
		end:       end,
		tmap:      tmap,
		freeSpace: end - base + 1,
		refs:      1,
	}
}

// ID reports the owning team id.
func (as *AddressSpace) ID() defs.TeamID { return as.id }

// Base and End report the address space's window, inclusive on both
// ends (spec §3: "base ≤ area.base" and "area.base+area.size-1 ≤ end").
func (as *AddressSpace) Base() uintptr { return as.base }
func (as *AddressSpace) End() uintptr  { return as.end }

// TranslationMap returns the opaque translation map backing this
// space.
func (as *AddressSpace) TranslationMap() pagetable.TranslationMap { return as.tmap }

// Lock/Unlock/RLock/RUnlock expose the address space's rw-lock
// directly: structural area operations (area.Allocate/Resize/Delete)
// need the write lock held across several vmspace calls, which doesn't
// fit one guarded method (spec §5: "the write lock is required for
// structural changes").
func (as *AddressSpace) Lock()    { as.mu.Lock() }
func (as *AddressSpace) Unlock()  { as.mu.Unlock() }
func (as *AddressSpace) RLock()   { as.mu.RLock() }
func (as *AddressSpace) RUnlock() { as.mu.RUnlock() }

// Insert adds e to the ordered area list. Callers must hold the write
// lock and must have already checked for overlap (area.Allocate's
// job); Insert itself only maintains order.
func (as *AddressSpace) Insert(e AreaEntry) {
	i := sort.Search(len(as.areas), func(i int) bool { return as.areas[i].Base() >= e.Base() })
	as.areas = append(as.areas, nil)
	copy(as.areas[i+1:], as.areas[i:])
	as.areas[i] = e
	as.changes++
}

// Remove drops e from the ordered area list. Callers must hold the
// write lock.
func (as *AddressSpace) Remove(e AreaEntry) {
	for i, a := range as.areas {
		if a.ID() == e.ID() {
			as.areas = append(as.areas[:i], as.areas[i+1:]...)
			as.changes++
			return
		}
	}
}

// Areas returns a snapshot of the ordered area list, ascending by base
// address. Callers must hold at least the read lock while using the
// returned slice's entries, since an AreaEntry's own fields can change
// concurrently (e.g. under Resize).
func (as *AddressSpace) Areas() []AreaEntry {
	out := make([]AreaEntry, len(as.areas))
	copy(out, as.areas)
	return out
}

// FindArea binary-searches the ordered area list for the area
// containing addr, per spec §4.6 step 1. Callers must hold at least
// the read lock.
func (as *AddressSpace) FindArea(addr uintptr) (AreaEntry, bool) {
	i := sort.Search(len(as.areas), func(i int) bool { return as.areas[i].Base()+as.areas[i].Size() > addr })
	if i >= len(as.areas) {
		return nil, false
	}
	a := as.areas[i]
	if addr < a.Base() {
		return nil, false
	}
	return a, true
}

// FindGap scans the ordered area list for the lowest gap of at least
// size bytes at or above minBase, for area.Allocate's PlaceAny/
// PlaceAnyAbove placement policies (spec §4.2: "ties are broken
// low-address-first"). It returns 0, false if none exists below
// as.end.
func (as *AddressSpace) FindGap(minBase uintptr, size uintptr) (uintptr, bool) {
	cursor := as.base
	if minBase > cursor {
		cursor = minBase
	}
	for _, a := range as.areas {
		if a.Base() < cursor {
			if a.Base()+a.Size() > cursor {
				cursor = a.Base() + a.Size()
			}
			continue
		}
		if a.Base()-cursor >= size {
			return cursor, true
		}
		cursor = a.Base() + a.Size()
	}
	// end is inclusive; comparing against size-1 keeps a space that ends
	// at the top of the address range from overflowing end-cursor+1.
	if as.end-cursor >= size-1 {
		return cursor, true
	}
	return 0, false
}

// FindAlignedGap is FindGap restricted to gaps whose base is a
// multiple of align, for area.Allocate's PlaceKernelBlock policy.
func (as *AddressSpace) FindAlignedGap(minBase, size, align uintptr) (uintptr, bool) {
	cursor := util.Roundup(util.Max(as.base, minBase), align)
	for _, a := range as.areas {
		if a.Base() < cursor {
			if a.Base()+a.Size() > cursor {
				cursor = util.Roundup(a.Base()+a.Size(), align)
			}
			continue
		}
		if a.Base()-cursor >= size {
			return cursor, true
		}
		cursor = util.Roundup(a.Base()+a.Size(), align)
	}
	if as.end-cursor >= size-1 {
		return cursor, true
	}
	return 0, false
}

// BumpChangeCount increments the structural-change counter for
// mutations that don't go through Insert/Remove (e.g. Area.Resize,
// which changes an existing entry's geometry in place). Callers must
// hold the write lock.
func (as *AddressSpace) BumpChangeCount() { as.changes++ }

// Overlaps reports whether [base, base+size) overlaps any existing
// area, for area.Allocate's PlaceExact policy.
func (as *AddressSpace) Overlaps(base, size uintptr) bool {
	end := base + size
	for _, a := range as.areas {
		if base < a.Base()+a.Size() && a.Base() < end {
			return true
		}
	}
	return false
}

// FreeSpace reports the address space's remaining unallocated byte
// count.
func (as *AddressSpace) FreeSpace() uintptr {
	as.mu.RLock()
	defer as.mu.RUnlock()
	return as.freeSpace
}

// AdjustFreeSpace applies delta (positive or negative) to the
// free-space counter. Callers must hold the write lock.
func (as *AddressSpace) AdjustFreeSpace(delta int64) {
	if delta < 0 {
		as.freeSpace -= uintptr(-delta)
	} else {
		as.freeSpace += uintptr(delta)
	}
}

// IncFault increments the address space's page-fault counter (spec
// §4.6 step 6).
func (as *AddressSpace) IncFault() {
	atomic.AddUint64(&as.faults, 1)
}

// Faults reports the current fault counter value.
func (as *AddressSpace) Faults() uint64 { return atomic.LoadUint64(&as.faults) }

// ChangeCount reports how many structural mutations (Insert/Remove)
// this address space has undergone.
func (as *AddressSpace) ChangeCount() uint64 {
	as.mu.RLock()
	defer as.mu.RUnlock()
	return as.changes
}

// MarkDeleting sets the deletion flag (spec §4.1 "RemoveAndPut"). Once
// set, every subsequent structural addition fails with EDELETING.
// Callers must hold the write lock.
func (as *AddressSpace) MarkDeleting() { as.deleting = true }

// IsDeleting reports the deletion flag. Callers must hold at least the
// read lock.
func (as *AddressSpace) IsDeleting() bool { return as.deleting }

// AcquireRef increments the address space's reference count and
// returns the new value.
func (as *AddressSpace) AcquireRef() int32 { return atomic.AddInt32(&as.refs, 1) }

// ReleaseRef decrements the reference count, reporting whether it
// reached zero (the caller, the registry, then destroys the space).
func (as *AddressSpace) ReleaseRef() bool {
	return atomic.AddInt32(&as.refs, -1) == 0
}

// RefCount reports the current reference count.
func (as *AddressSpace) RefCount() int32 { return atomic.LoadInt32(&as.refs) }

// ScanVA and SetScanVA expose the page scanner's per-space
// round-robin cursor (SPEC_FULL.md §3 supplement).
func (as *AddressSpace) ScanVA() uintptr     { return as.scanVA }
func (as *AddressSpace) SetScanVA(va uintptr) { as.scanVA = va }

// WorkingSet reports the four working-set bookkeeping fields the
// resource resizer daemon maintains (SPEC_FULL.md §3 supplement).
func (as *AddressSpace) WorkingSet() (size, max, min uintptr, lastAdjust int64) {
	as.mu.RLock()
	defer as.mu.RUnlock()
	return as.workingSetSize, as.maxWorkingSet, as.minWorkingSet, as.lastWorkingSetAdjust
}

// SetWorkingSet updates the working-set bookkeeping fields; called
// only by the resource resizer daemon.
func (as *AddressSpace) SetWorkingSet(size, max, min uintptr, adjustedAt int64) {
	as.mu.Lock()
	defer as.mu.Unlock()
	as.workingSetSize = size
	as.maxWorkingSet = max
	as.minWorkingSet = min
	as.lastWorkingSetAdjust = adjustedAt
}

// Registry is the process-wide team id -> address space table of spec
// §4.1: "a process-wide open-hash table maps team id -> address space,
// protected by a reader/writer lock."
type Registry struct {
	mu      sync.RWMutex
	table   *hashtable.Table[defs.TeamID, *AddressSpace]
	kernel  *AddressSpace
	newTMap func() pagetable.TranslationMap

	// current is a settable hook resolving "the calling thread's
	// address space", grounded on biscuit's own
	// `var _numtoapicid func(int) uint32` pattern of injecting a
	// scheduler-owned fact through a function variable instead of
	// importing the scheduler package (out of scope, spec §1).
	current atomic.Pointer[func() defs.TeamID]
}

// NewRegistry builds an empty registry. newTMap constructs a fresh
// TranslationMap for each address space created; tests typically pass
// pagetable.NewSimulated.
func NewRegistry(newTMap func() pagetable.TranslationMap) *Registry {
	return &Registry{
		table:   hashtable.New[defs.TeamID, *AddressSpace](64),
		newTMap: newTMap,
	}
}

// SetCurrentTeamHook installs the function the registry calls to learn
// the calling thread's team id for GetCurrent. Out-of-scope scheduler
// wiring calls this once at boot.
func (r *Registry) SetCurrentTeamHook(f func() defs.TeamID) {
	r.current.Store(&f)
}

// Create allocates a new address space for teamID over [base, end],
// initializes its translation map, and inserts it into the registry
// with refcount 1 (spec §4.1 "Create"). It fails with EEXIST if teamID
// is already registered.
func (r *Registry) Create(teamID defs.TeamID, base, end uintptr) (*AddressSpace, defs.Err_t) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.table.Get(teamID); ok {
		return nil, defs.EEXIST
	}
	as := newAddressSpace(teamID, base, end, r.newTMap())
	r.table.Set(teamID, as)
	if teamID == defs.KernelTeam {
		r.kernel = as
	}
	return as, 0
}

// Get looks up teamID and, on hit, bumps the address space's refcount
// before returning it (spec §4.1 "Get").
func (r *Registry) Get(teamID defs.TeamID) (*AddressSpace, defs.Err_t) {
	as, ok := r.table.Get(teamID)
	if !ok {
		return nil, defs.EBADTEAM
	}
	as.AcquireRef()
	return as, 0
}

// GetCurrent resolves the calling thread's own address space via the
// hook installed by SetCurrentTeamHook.
func (r *Registry) GetCurrent() (*AddressSpace, defs.Err_t) {
	hook := r.current.Load()
	if hook == nil {
		return nil, defs.EBADTEAM
	}
	return r.Get((*hook)())
}

// GetKernel returns the kernel address space, bumping its refcount.
// The kernel space is created once during boot and is never destroyed
// (spec §4.1).
func (r *Registry) GetKernel() (*AddressSpace, defs.Err_t) {
	r.mu.RLock()
	k := r.kernel
	r.mu.RUnlock()
	if k == nil {
		return nil, defs.EBADTEAM
	}
	k.AcquireRef()
	return k, 0
}

// Put decrements as's refcount; when it reaches zero, removes it from
// the registry under the write lock and destroys its translation map
// (spec §4.1 "Put"). Put treats the kernel address space like any
// other: it stays registered only because the reference taken when it
// was created at boot is never released.
func (r *Registry) Put(as *AddressSpace) {
	if !as.ReleaseRef() {
		return
	}
	r.mu.Lock()
	r.table.Del(as.id)
	r.mu.Unlock()
	as.tmap.Destroy()
}

// RemoveAndPut implements spec §4.1's "RemoveAndPut": it sets teamID's
// address space deletion flag under its write lock, invokes deleteAreas
// once to tear down every area still attached to it, and then releases
// the address space's creation reference, removing it from the registry
// once its refcount reaches zero. deleteAreas is supplied by the caller
// (the vm facade) rather than called here directly, since the area
// manager imports this package and a reverse import would cycle.
func (r *Registry) RemoveAndPut(teamID defs.TeamID, deleteAreas func(*AddressSpace)) defs.Err_t {
	r.mu.RLock()
	as, ok := r.table.Get(teamID)
	r.mu.RUnlock()
	if !ok {
		return defs.EBADTEAM
	}

	as.Lock()
	as.MarkDeleting()
	as.Unlock()

	deleteAreas(as)

	r.Put(as)
	return 0
}

// Len reports how many address spaces are currently registered.
func (r *Registry) Len() int { return r.table.Len() }

// Iterate calls f for every registered address space in an unspecified
// order, stopping early if f returns false. Used by the resource
// resizer daemon (spec §4.7) and by diag's registry dump.
func (r *Registry) Iterate(f func(*AddressSpace) bool) {
	r.table.Iter(func(_ defs.TeamID, as *AddressSpace) bool {
		return f(as)
	})
}

// Package vm is the facade spec.md §9 calls for: "an implementation
// should centralize [the page descriptor array, the address-space
// registry, the daemon pools, and the system commit counter] in a
// single VM facade object initialized at boot." It wires
// vmspace+area+cache+store+fault+daemon+pagetable together and exposes
// spec §6's external interface.
package vm

import (
	"reflect"
	"sync"
	"time"

	"area"
	"cache"
	"daemon"
	"defs"
	"fault"
	"mem"
	"pagetable"
	"res"
	"store"
	"vmspace"
)

// tickInterval is the daemon pools' fixed tick (spec §4.7: "a tenth of
// a second").
const tickInterval = 100 * time.Millisecond

// AddressSpec names where to place a new area, the Go-facing shape of
// spec §6's address_spec parameter.
type AddressSpec struct {
	Placement defs.Placement_t
	Address   uintptr // exact address for PlaceExact, floor for PlaceAnyAbove
}

// CreateOpts carries the anonymous-store parameters create_area needs
// beyond spec §6's literal signature (overcommit/precommit/guard are
// store, not area, properties per §4.5 but the external interface has
// no separate "create a store" call).
type CreateOpts struct {
	Overcommit bool
	Precommit  int // pages
	GuardSize  uint64
	GrowthDir  defs.StackDirection
}

// DaemonFunc is a kernel daemon's callback body, taking the opaque
// argument it was registered with (spec §6: "register_kernel_daemon
// (function, arg, frequency_in_ticks)").
type DaemonFunc func(arg any)

type daemonKey struct {
	fn  uintptr
	arg any
}

// Facade is the single boot-time object spec §9 describes: it owns the
// page manager, the address-space registry, the area table, and the
// two daemon pools, and is the only thing the rest of a kernel would
// need a handle to.
type Facade struct {
	PM       *mem.Manager
	Registry *vmspace.Registry

	KernelPool  *daemon.Pool
	ResizerPool *daemon.Pool

	mu            sync.Mutex
	areas         map[defs.AreaID]*area.Area
	daemonHandles map[daemonKey]daemon.Handle

	deviceBase  mem.PFN
	deviceNext  mem.PFN
	deviceLimit mem.PFN
}

// Boot constructs a Facade over nframes physical frames, of which the
// top deviceFrames are carved out for MapPhysicalMemory windows (see
// DESIGN.md's fault/device-store entry: a DeviceStore's baseFrame must
// come from the same manager's frame space, not an arbitrary physical
// address, since mem.Manager.Page panics outside it). It creates the
// kernel address space and starts both daemon pools ticking.
func Boot(nframes int, deviceFrames int) *Facade {
	pm := mem.NewManager(nframes + deviceFrames)
	res.Commit.SetLimit(int64(nframes) * defs.PageSize)

	for i := nframes; i < nframes+deviceFrames; i++ {
		pm.Wire(pm.Page(mem.PFN(i)))
	}

	reg := vmspace.NewRegistry(func() pagetable.TranslationMap { return pagetable.NewSimulated() })
	if _, err := reg.Create(defs.KernelTeam, 0, ^uintptr(0)); err != 0 {
		panic("vm: failed to create kernel address space: " + err.String())
	}

	f := &Facade{
		PM:            pm,
		Registry:      reg,
		KernelPool:    daemon.NewPool(4, tickInterval),
		ResizerPool:   daemon.NewPool(2, tickInterval),
		areas:         make(map[defs.AreaID]*area.Area),
		daemonHandles: make(map[daemonKey]daemon.Handle),
		deviceBase:    mem.PFN(nframes),
		deviceNext:    mem.PFN(nframes),
		deviceLimit:   mem.PFN(nframes + deviceFrames),
	}
	f.KernelPool.Register(daemon.NewPageScanner(pm), 1)
	f.ResizerPool.Register(daemon.NewResourceResizer(reg), 5)
	return f
}

// Shutdown stops both daemon pools' background tickers.
func (f *Facade) Shutdown() {
	f.KernelPool.Stop()
	f.ResizerPool.Stop()
}

// reserveDeviceWindow carves nbytes worth of frames out of the
// device-reserved range, for MapPhysicalMemory.
func (f *Facade) reserveDeviceWindow(nbytes uint64) (mem.PFN, defs.Err_t) {
	npages := mem.PFN((nbytes + defs.PageSize - 1) / defs.PageSize)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deviceNext+npages > f.deviceLimit {
		return 0, defs.ENOMEM
	}
	base := f.deviceNext
	f.deviceNext += npages
	return base, 0
}

// CreateArea implements spec §6's create_area: it builds a fresh
// anonymous-store cache the size of the area and places it in teamID's
// address space per spec (the literal external signature omits a team
// parameter; this facade's callers always know which address space an
// area belongs to, so it is threaded through explicitly rather than
// resolved from an implicit "current team" — see DESIGN.md).
func (f *Facade) CreateArea(teamID defs.TeamID, name string, spec AddressSpec, size uintptr, prot defs.Prot_t, wiring defs.Wiring_t, opts CreateOpts) (defs.AreaID, defs.Err_t) {
	as, err := f.Registry.Get(teamID)
	if err != 0 {
		return 0, err
	}
	defer f.Registry.Put(as)

	st := store.NewAnonStore(0, uint64(size), opts.Overcommit, opts.Precommit, opts.GuardSize, opts.GrowthDir)
	c := cache.New(cache.KindAnonymous, st, 0, uint64(size), f.PM)

	if opts.Overcommit {
		if opts.Precommit > 0 {
			if cerr := c.Commit(uint64(opts.Precommit) * defs.PageSize); cerr != 0 {
				c.ReleaseRef()
				return 0, cerr
			}
		}
	} else if cerr := c.Commit(uint64(size)); cerr != 0 {
		c.ReleaseRef()
		return 0, cerr
	}

	a, aerr := area.Allocate(as, area.AllocOpts{
		Name: name, Size: size, Placement: spec.Placement, Base: spec.Address,
		Prot: prot, Wiring: wiring, Cache: c,
	})
	c.ReleaseRef() // drop the creation reference; the area now holds its own
	if aerr != 0 {
		return 0, aerr
	}

	f.mu.Lock()
	f.areas[a.ID()] = a
	f.mu.Unlock()
	return a.ID(), 0
}

// MapPhysicalMemory implements spec §6's map_physical_memory: an area
// whose cache is a DeviceStore over a window this facade reserved from
// its own device frame range.
func (f *Facade) MapPhysicalMemory(teamID defs.TeamID, name string, size uintptr, prot defs.Prot_t, deviceClass int) (defs.AreaID, defs.Err_t) {
	as, err := f.Registry.Get(teamID)
	if err != 0 {
		return 0, err
	}
	defer f.Registry.Put(as)

	base, derr := f.reserveDeviceWindow(uint64(size))
	if derr != 0 {
		return 0, derr
	}
	st := store.NewDeviceStore(deviceClass, base, uint64(size))
	c := cache.New(cache.KindDevice, st, 0, uint64(size), f.PM)

	a, aerr := area.Allocate(as, area.AllocOpts{
		Name: name, Size: size, Placement: defs.PlaceAny,
		Prot: prot, Wiring: defs.WiringAlready, Cache: c,
	})
	c.ReleaseRef()
	if aerr != 0 {
		return 0, aerr
	}

	f.mu.Lock()
	f.areas[a.ID()] = a
	f.mu.Unlock()
	return a.ID(), 0
}

// CloneArea implements spec §6's clone_area: a new area in teamID's
// space backed by a fresh cache whose source is the existing area's
// cache, the copy-on-write chain of spec §4.3.
func (f *Facade) CloneArea(teamID defs.TeamID, sourceAreaID defs.AreaID, spec AddressSpec, prot defs.Prot_t) (defs.AreaID, defs.Err_t) {
	f.mu.Lock()
	src, ok := f.areas[sourceAreaID]
	f.mu.Unlock()
	if !ok {
		return 0, defs.EBADAREA
	}

	as, err := f.Registry.Get(teamID)
	if err != 0 {
		return 0, err
	}
	defer f.Registry.Put(as)

	srcCache := src.Cache()
	base, size := srcCache.Window()
	childStore := store.NewAnonStore(base, size, false, 0, 0, defs.StackGrowsDown)
	child := cache.New(cache.KindAnonymous, childStore, base, size, f.PM)
	if serr := child.SetSource(srcCache); serr != nil {
		child.ReleaseRef()
		return 0, defs.EINVAL
	}

	a, aerr := area.Allocate(as, area.AllocOpts{
		Name: src.Name() + "_clone", Size: src.Size(), Placement: spec.Placement, Base: spec.Address,
		Prot: prot, Wiring: defs.WiringNone, Cache: child, CacheOffset: src.CacheOffset(),
	})
	child.ReleaseRef()
	if aerr != 0 {
		return 0, aerr
	}

	f.mu.Lock()
	f.areas[a.ID()] = a
	f.mu.Unlock()
	return a.ID(), 0
}

// DeleteArea implements spec §6's delete_area (spec §4.2 "Delete an
// area"; round-trip law of §8: create then delete leaves the address
// space's area list and free-space counter unchanged).
func (f *Facade) DeleteArea(id defs.AreaID) defs.Err_t {
	f.mu.Lock()
	a, ok := f.areas[id]
	if ok {
		delete(f.areas, id)
	}
	f.mu.Unlock()
	if !ok {
		return defs.EBADAREA
	}
	area.Delete(a)
	return 0
}

// DestroyAddressSpace implements spec §4.1's RemoveAndPut: it sets
// teamID's address space deletion flag under its write lock, deletes
// every area still attached to it through the area manager, and then
// releases the address space's creation reference — the operation a
// team's exit path calls to tear its whole address space down, as
// opposed to DeleteArea's one-area-at-a-time teardown.
func (f *Facade) DestroyAddressSpace(teamID defs.TeamID) defs.Err_t {
	return f.Registry.RemoveAndPut(teamID, func(as *vmspace.AddressSpace) {
		as.RLock()
		entries := as.Areas()
		as.RUnlock()

		f.mu.Lock()
		defer f.mu.Unlock()
		for _, e := range entries {
			a, ok := f.areas[e.ID()]
			if !ok {
				continue
			}
			delete(f.areas, e.ID())
			area.Delete(a)
		}
	})
}

// ResizeArea implements spec §6's resize_area.
func (f *Facade) ResizeArea(id defs.AreaID, newSize uintptr) defs.Err_t {
	f.mu.Lock()
	a, ok := f.areas[id]
	f.mu.Unlock()
	if !ok {
		return defs.EBADAREA
	}
	return a.Resize(newSize)
}

// SetAreaProtection implements spec §6's set_area_protection (§8:
// idempotent under repeated calls with the same bits).
func (f *Facade) SetAreaProtection(id defs.AreaID, prot defs.Prot_t) defs.Err_t {
	f.mu.Lock()
	a, ok := f.areas[id]
	f.mu.Unlock()
	if !ok {
		return defs.EBADAREA
	}
	return a.Protect(prot)
}

// PageFault implements spec §6's vm_page_fault, resolving a fault in
// teamID's address space through the fault resolver. isUser determines
// how the caller (not this facade — see §7's policy note) should react
// to a returned EFAULT/EPERM: a signal for a user fault, a fatal kernel
// error otherwise.
func (f *Facade) PageFault(teamID defs.TeamID, address uintptr, isWrite, isUser bool) defs.Err_t {
	as, err := f.Registry.Get(teamID)
	if err != 0 {
		return err
	}
	defer f.Registry.Put(as)

	access := defs.AccessRead
	if isWrite {
		access = defs.AccessWrite
	}
	return fault.Resolve(as, f.PM, fault.Request{Address: address, Access: access, User: isUser})
}

// RegisterKernelDaemon implements spec §6's register_kernel_daemon. fn
// and arg together identify the registration for a later
// UnregisterKernelDaemon call, mirroring the (function, arg) pairing
// the spec's prose uses even though daemon.Pool itself keys
// registrations by an opaque Handle (Go function values are not
// comparable; see DESIGN.md's daemon entry).
func (f *Facade) RegisterKernelDaemon(fn DaemonFunc, arg any, frequencyInTicks int) defs.Err_t {
	key := daemonKey{fn: reflect.ValueOf(fn).Pointer(), arg: arg}
	h := f.KernelPool.Register(func(uint64) { fn(arg) }, frequencyInTicks)

	f.mu.Lock()
	f.daemonHandles[key] = h
	f.mu.Unlock()
	return 0
}

// UnregisterKernelDaemon implements spec §6's unregister_kernel_daemon.
func (f *Facade) UnregisterKernelDaemon(fn DaemonFunc, arg any) defs.Err_t {
	key := daemonKey{fn: reflect.ValueOf(fn).Pointer(), arg: arg}

	f.mu.Lock()
	h, ok := f.daemonHandles[key]
	if ok {
		delete(f.daemonHandles, key)
	}
	f.mu.Unlock()
	if !ok {
		return defs.EINVAL
	}
	f.KernelPool.Unregister(h)
	return 0
}

// Area returns the area descriptor for id, for diag's dump and tests
// that need to inspect state the external interface doesn't expose
// directly.
func (f *Facade) Area(id defs.AreaID) (*area.Area, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.areas[id]
	return a, ok
}

// AreaCount reports how many areas are currently tracked across every
// address space.
func (f *Facade) AreaCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.areas)
}

// Package fault implements the page-fault resolution protocol of
// spec.md §4.6: translating a faulting address into an installed
// translation-map entry by walking a cache chain, demand-paging, and
// copy-on-write.
package fault

import (
	"bounds"
	"cache"
	"defs"
	"mem"
	"store"
	"vmspace"
)

// Request describes one page fault (spec §4.6 "Input").
type Request struct {
	Address uintptr
	Access  defs.AccessKind
	User    bool
}

// busyRetryBudget bounds how many times Resolve re-walks the chain after
// waiting out a busy page (walk blocks in Page.WaitBusy until the page's
// I/O completes), so a page that keeps turning busy cannot keep one
// fault retrying forever.
const busyRetryBudget = 10000

// Resolve runs the fault protocol of spec §4.6 against as, using pm to
// allocate fresh pages, and returns 0 on success or one of the
// taxonomy codes of spec §7 on failure.
func Resolve(as *vmspace.AddressSpace, pm *mem.Manager, req Request) defs.Err_t {
	// Step 1: translate address to area under the read lock.
	as.RLock()
	entry, ok := as.FindArea(req.Address)
	if !ok {
		as.RUnlock()
		return defs.EFAULT
	}
	if !entry.Protection().Allows(req.Access) {
		as.RUnlock()
		return defs.EPERM
	}
	areaBase := entry.Base()
	c := entry.Cache()
	cacheOffset := entry.CacheOffset()
	as.RUnlock()

	// Step 2: compute the cache-relative offset.
	offset := cacheOffset + uint64(req.Address-areaBase)
	va := req.Address &^ uintptr(defs.PageSize-1)

	// Device caches bypass the chain walk entirely: their store hands
	// back a fixed frame for any in-range offset (spec §4.3 "Device").
	if c.Kind() == cache.KindDevice {
		fp, isFP := c.Store().(store.FrameProvider)
		if !isFP {
			return defs.EFAULT
		}
		winBase, _ := c.Window()
		frame, ok := fp.FrameAt(offset - winBase)
		if !ok {
			return defs.EFAULT
		}
		if err := installMapping(as, entry, va, pm.Page(frame)); err != 0 {
			return err
		}
		as.IncFault()
		return 0
	}

	budget := bounds.New("fault.busy", busyRetryBudget)
	for {
		page, ancestor, werr := walk(c, offset, pm)
		if werr != 0 {
			return werr
		}
		if page == nil {
			// the page we found became busy between the lookup and our
			// attempt to use it; retry (spec §5: "they wait on a
			// condition ... and retry the lookup when woken").
			if !budget.Attempt() {
				return defs.EINTR
			}
			continue
		}

		// Step 4: copy-on-write. A write to a page found in an
		// ancestor cache must fault the writer its own private copy.
		if req.Access == defs.AccessWrite && ancestor {
			np, cerr := c.CopyUp(offset, page)
			if cerr != 0 {
				return cerr
			}
			page = np
			ancestor = false
		}

		effective := entry.Protection()
		if ancestor && req.Access != defs.AccessWrite {
			// an inherited page must never be mapped writable even if
			// the area's own protection allows it, or a later real
			// write would modify the shared ancestor page directly
			// instead of re-faulting into CopyUp.
			effective &^= defs.ProtWrite
		}

		if err := installMappingWithProt(as, entry, va, page, effective); err != 0 {
			return err
		}
		as.IncFault()
		return 0
	}
}

// installMapping installs page's frame at va with the area's own
// protection bits unmodified (the device fast path, where there is no
// ancestor page to strip write access from).
func installMapping(as *vmspace.AddressSpace, entry vmspace.AreaEntry, va uintptr, page *mem.Page) defs.Err_t {
	return installMappingWithProt(as, entry, va, page, entry.Protection())
}

// installMappingWithProt installs page's frame at va with an explicit
// effective protection, and records the mapping on both the page's and
// the area's mapping lists (spec §4.6 step 5).
func installMappingWithProt(as *vmspace.AddressSpace, entry vmspace.AreaEntry, va uintptr, page *mem.Page, prot defs.Prot_t) defs.Err_t {
	tmap := as.TranslationMap()
	if err := tmap.Map(va, page.Frame, prot); err != 0 {
		return err
	}
	entry.AddMapping(va, page, prot)
	page.Touch()
	return 0
}

// walk implements spec §4.6 step 3: search the cache chain from c
// (the area's top cache) down through its sources for a page owning
// offset, demand-reading or demand-zeroing as needed. It returns the
// resolved page and whether that page lives in an ancestor (source)
// cache rather than c itself. A nil page with err == 0 means the
// caller should retry after a busy-page wait. Locks are acquired
// top-down across the whole chain and released together, per spec
// §4.6/§5's locking order.
func walk(c *cache.Cache, offset uint64, pm *mem.Manager) (page *mem.Page, ancestor bool, err defs.Err_t) {
	c.Lock()
	chain := []*cache.Cache{c}

	cur := c
	for {
		if p, ok := cur.Lookup(offset); ok {
			if p.IsBusy() {
				unlockAll(chain)
				p.WaitBusy()
				return nil, false, 0
			}
			unlockAll(chain)
			return p, cur != c, 0
		}

		base, _ := cur.Window()
		rel := offset - base
		if cur.Store().HasPage(rel) {
			np, aerr := pm.Allocate(mem.AllocClear)
			if aerr != 0 {
				unlockAll(chain)
				return nil, false, aerr
			}
			np.MarkBusy(false)
			cur.Insert(np, offset)
			unlockAll(chain)

			if rerr := cur.Store().Read(rel, pm.Bytes(np.Frame), false); rerr != 0 {
				np.ClearBusy()
				return nil, false, rerr
			}
			np.ClearBusy()
			return np, cur != c, 0
		}

		next := cur.SourceLocked()
		if next == nil {
			break
		}
		next.Lock()
		chain = append(chain, next)
		cur = next
	}

	// no cache in the chain owns a page or has stored bytes at this
	// offset: consult the top cache's store for a demand-zero/guard
	// verdict (spec §4.6 step 3, §4.5 Fault semantics).
	topBase, _ := c.Window()
	res, ferr := c.Store().Fault(offset - topBase)
	switch res {
	case store.FaultHandled:
		// DeviceStore never reaches here (handled by Resolve's fast
		// path above); any other store returning FaultHandled via the
		// generic path is a caller bug.
		unlockAll(chain)
		return nil, false, defs.EFAULT
	case store.FaultGeneric:
		if ferr != 0 {
			unlockAll(chain)
			return nil, false, ferr
		}
		fallthrough
	default: // FaultDemandZero, or FaultGeneric with no error — every
		// store variant shipped in this repo treats "generic, no
		// error" as "demand-zero a fresh page at the top" (see
		// DESIGN.md's anon/vnode store entries).
		np, aerr := pm.Allocate(mem.AllocClear)
		unlockAll(chain)
		if aerr != 0 {
			return nil, false, aerr
		}
		c.Insert(np, offset)
		return np, false, 0
	}
}

// unlockAll releases every cache lock in chain, innermost (last
// acquired) first.
func unlockAll(chain []*cache.Cache) {
	for i := len(chain) - 1; i >= 0; i-- {
		chain[i].Unlock()
	}
}

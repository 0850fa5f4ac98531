// Package store implements the backing-store interface of spec.md §3/§4.3:
// the capability bundle attached to a cache that supplies, or declines to
// supply, the bytes behind a page. Four variants are provided: anonymous
// RAM (§4.5), vnode-backed, device, and null.
package store

import (
	"defs"
)

// FaultResult names what a Store's Fault method wants the caller (the
// fault resolver) to do next.
type FaultResult int

const (
	// FaultDemandZero asks the VM to allocate a fresh clear page and
	// insert it into the top cache itself; the store has no bytes to
	// supply but the access is otherwise legal.
	FaultDemandZero FaultResult = iota
	// FaultHandled means the store resolves the offset to a fixed frame
	// itself (DeviceStore); the fault resolver reaches that frame through
	// FrameProvider, and the generic chain walk treats FaultHandled as a
	// bad address.
	FaultHandled
	// FaultGeneric asks the VM's generic cache-chain walk to continue
	// as if this store had no Fault method at all (§7 "bad handler").
	FaultGeneric
)

// Store is the backing-storage policy behind one cache.
type Store interface {
	// Destroy releases whatever system resources (commit accounting,
	// file handles, MMIO reservations) the store holds.
	Destroy()

	// Commit reserves or releases physical-memory accounting for size
	// bytes of the cache's address window, per §4.5 for AnonStore and
	// trivially for the other variants.
	Commit(size uint64) defs.Err_t

	// HasPage reports whether the store already holds bytes for the
	// given page-aligned offset (in bytes from the cache's virtual
	// base), without performing I/O.
	HasPage(offset uint64) bool

	// Read fills buf (one page) from the store at offset. fsReentrant
	// signals the caller is prepared to be re-entered (e.g. a vnode
	// cache's own page fault) the way §3's "fs-reentrant-aware" read
	// requires.
	Read(offset uint64, buf []byte, fsReentrant bool) defs.Err_t

	// Write pushes buf (one page) back to the store at offset.
	Write(offset uint64, buf []byte, fsReentrant bool) defs.Err_t

	// Fault is consulted on the top cache's store once the cache-chain
	// walk has found no page and no stored bytes at offset, and decides
	// between demand-zero and failure (§4.6 step 3).
	Fault(offset uint64) (FaultResult, defs.Err_t)

	// AcquireRef/ReleaseRef bump/drop a reference independent of the
	// owning cache's own refcount, used while a store operation may
	// block with the cache mutex released.
	AcquireRef()
	ReleaseRef()
}
